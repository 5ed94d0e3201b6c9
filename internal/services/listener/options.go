package listener

import (
	"context"
	"time"

	dLog "pg_listener/internal/domain/log"
	"pg_listener/internal/domain/notify"
)

type Option func(*Listener)

// WithIdleTimeout bounds each wait for a new notification.
func WithIdleTimeout(d time.Duration) Option {
	return func(l *Listener) { l.idleTimeout = d }
}

// WithDrainWindow bounds each read while draining after a wakeup. Zero
// drains only what the driver has already queued.
func WithDrainWindow(d time.Duration) Option {
	return func(l *Listener) { l.drainWindow = d }
}

// WithIdleFunc is called once per idle timeout.
func WithIdleFunc(fn func()) Option {
	return func(l *Listener) { l.onIdle = fn }
}

func WithLogger(logger dLog.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Chain calls each handler in order for every notification.
func Chain(handlers ...Handler) Handler {
	return func(ctx context.Context, n notify.Notification) {
		for _, h := range handlers {
			h(ctx, n)
		}
	}
}
