package logger

import (
	"fmt"
	"time"

	"github.com/ZhuchkovAA/loglib"
	"github.com/ZhuchkovAA/loglib/config"

	dLog "pg_listener/internal/domain/log"
)

// Logger ships records to the central log service over gRPC, falling back to
// a local file when the service is unreachable.
type Logger struct {
	Client *loglib.Client
}

var _ dLog.Logger = (*Logger)(nil)

func New(grpcAddress, fallbackPath, serviceName string) (*Logger, error) {
	logger, err := loglib.New(config.Config{
		GRPCAddress:  grpcAddress,
		FallbackPath: fallbackPath,
		ServiceName:  serviceName,
	})
	if err != nil {
		return nil, err
	}

	return &Logger{
		Client: logger,
	}, nil
}

func (l *Logger) Debug(message string, fields ...dLog.Field) {
	l.Client.Debug(message, fieldsMapper(fields)...)
}

func (l *Logger) Info(message string, fields ...dLog.Field) {
	l.Client.Info(message, fieldsMapper(fields)...)
}

func (l *Logger) Warn(message string, fields ...dLog.Field) {
	l.Client.Warn(message, fieldsMapper(fields)...)
}

func (l *Logger) Error(message string, fields ...dLog.Field) {
	l.Client.Error(message, fieldsMapper(fields)...)
}

// fieldMapper converts values loglib cannot put into a structpb.Value. loglib
// drops the whole record when any field fails to convert.
func fieldMapper(dField dLog.Field) loglib.Field {
	switch v := dField.Value.(type) {
	case error:
		return loglib.String(dField.Key, v.Error())
	case time.Duration:
		return loglib.String(dField.Key, v.String())
	case time.Time:
		return loglib.String(dField.Key, v.Format(time.RFC3339Nano))
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return loglib.Field{Key: dField.Key, Value: items}
	case uint32:
		return loglib.Field{Key: dField.Key, Value: int64(v)}
	case fmt.Stringer:
		return loglib.String(dField.Key, v.String())
	default:
		return loglib.Field{Key: dField.Key, Value: v}
	}
}

func fieldsMapper(dFields []dLog.Field) []loglib.Field {
	fields := make([]loglib.Field, len(dFields))
	for i, d := range dFields {
		fields[i] = fieldMapper(d)
	}
	return fields
}
