package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"pg_listener/internal/adapters/kafkasink"
	"pg_listener/internal/adapters/logger"
	"pg_listener/internal/adapters/pgnotify"
	"pg_listener/internal/config"
	"pg_listener/internal/domain/log"
	"pg_listener/internal/domain/notify"
	"pg_listener/internal/metrics"
	"pg_listener/internal/services/listener"
	"pg_listener/internal/services/printer"
)

type App struct {
	Listener *listener.Listener
	Handler  listener.Handler
	Printer  *printer.Printer
	Metrics  *http.Server
	Logger   log.Logger
	Close    func() error
}

// Build connects to the database and assembles the listener with its
// handlers. Console output goes to out.
func Build(ctx context.Context, cfg *config.Config, out io.Writer) (*App, error) {
	myLogger, err := newLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}

	dsn, err := cfg.Db.DSN()
	if err != nil {
		return nil, fmt.Errorf("invalid db config: %w", err)
	}

	var conn notify.Conn
	switch cfg.Db.Driver {
	case "postgres", "":
		conn, err = pgnotify.Connect(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Db.Driver)
	}
	if err != nil {
		return nil, err
	}
	myLogger.Info("connected", log.Field{Key: "dsn", Value: cfg.Db.RedactedDSN()})

	return assemble(conn, cfg, out, myLogger)
}

// assemble wires handlers and the listener around an open connection. On
// error everything it opened, conn included, is closed.
func assemble(conn notify.Conn, cfg *config.Config, out io.Writer, myLogger log.Logger) (*App, error) {
	p := printer.New(out)
	handlers := []listener.Handler{p.Handle}
	closers := []func() error{}

	if cfg.Kafka.Enabled {
		sink := kafkasink.New(kafkasink.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), myLogger)
		handlers = append(handlers, sink.Handle)
		closers = append(closers, sink.Close)
	}

	opts := []listener.Option{
		listener.WithIdleTimeout(cfg.Listener.IdleTimeout),
		listener.WithDrainWindow(cfg.Listener.DrainWindow),
		listener.WithLogger(myLogger),
	}
	if !cfg.Listener.Quiet {
		opts = append(opts, listener.WithIdleFunc(p.Heartbeat))
	}

	l, err := listener.New(conn, cfg.Db.NotifyChannels, opts...)
	if err != nil {
		closers = append(closers, func() error { return conn.Close(context.Background()) })
		if cerr := closeAll(closers); cerr != nil {
			myLogger.Warn("close after failed build", log.Field{Key: "err", Value: cerr})
		}
		return nil, err
	}
	closers = append([]func() error{l.Stop}, closers...)

	a := &App{
		Listener: l,
		Handler:  listener.Chain(handlers...),
		Printer:  p,
		Logger:   myLogger,
		Close:    func() error { return closeAll(closers) },
	}
	if cfg.Metrics.Address != "" {
		a.Metrics = metrics.NewServer(cfg.Metrics.Address, func() string { return l.State().String() })
	}
	return a, nil
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, c := range closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// newLogger picks the console logger unless a log service address is set.
// loglib clients have no Close; pending records drain from its own goroutine.
func newLogger(cfg config.LoggerConfig) (log.Logger, error) {
	if cfg.GRPCAddress == "" {
		return logger.NewConsole(os.Stderr, cfg.ServiceName), nil
	}
	return logger.New(cfg.GRPCAddress, cfg.FallbackPath, cfg.ServiceName)
}
