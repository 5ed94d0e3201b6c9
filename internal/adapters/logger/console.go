package logger

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	dLog "pg_listener/internal/domain/log"
)

// Console writes human-readable records locally. Used when no log service
// address is configured.
type Console struct {
	zl zerolog.Logger
}

var _ dLog.Logger = (*Console)(nil)

func NewConsole(w io.Writer, serviceName string) *Console {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return &Console{
		zl: zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger(),
	}
}

func (c *Console) Debug(message string, fields ...dLog.Field) {
	c.write(c.zl.Debug(), message, fields)
}

func (c *Console) Info(message string, fields ...dLog.Field) {
	c.write(c.zl.Info(), message, fields)
}

func (c *Console) Warn(message string, fields ...dLog.Field) {
	c.write(c.zl.Warn(), message, fields)
}

func (c *Console) Error(message string, fields ...dLog.Field) {
	c.write(c.zl.Error(), message, fields)
}

func (c *Console) write(e *zerolog.Event, message string, fields []dLog.Field) {
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			e = e.AnErr(f.Key, err)
			continue
		}
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(message)
}
