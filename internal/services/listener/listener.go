package listener

import (
	"context"
	"errors"
	"sync"
	"time"

	dLog "pg_listener/internal/domain/log"
	"pg_listener/internal/domain/notify"
	"pg_listener/internal/metrics"
)

const (
	DefaultIdleTimeout = 5 * time.Second
	DefaultDrainWindow = 10 * time.Millisecond

	closeTimeout = 5 * time.Second
)

type State int

const (
	StateCreated State = iota
	StateSubscribed
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handler receives notifications one at a time, in arrival order.
// The next buffered notification is not read until it returns.
type Handler func(ctx context.Context, n notify.Notification)

// errIdle marks a wait that timed out without the run context being done.
var errIdle = errors.New("idle")

// Listener owns one connection and delivers notifications from a fixed set
// of channels. Run is meant to be called from a single goroutine; Stop may be
// called from anywhere.
type Listener struct {
	conn     notify.Conn
	channels []string
	watched  map[string]struct{}

	idleTimeout time.Duration
	drainWindow time.Duration
	onIdle      func()
	logger      dLog.Logger
	now         func() time.Time

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	released bool
	closeErr error
}

// New validates the channel list and takes ownership of conn. On error the
// caller keeps ownership of conn.
func New(conn notify.Conn, channels []string, opts ...Option) (*Listener, error) {
	if conn == nil {
		return nil, &notify.ConfigurationError{Reason: "nil connection"}
	}
	if len(channels) == 0 {
		return nil, &notify.ConfigurationError{Reason: "no channels to listen on"}
	}

	l := &Listener{
		conn:        conn,
		watched:     make(map[string]struct{}, len(channels)),
		idleTimeout: DefaultIdleTimeout,
		drainWindow: DefaultDrainWindow,
		logger:      dLog.Nop{},
		now:         time.Now,
		done:        make(chan struct{}),
	}
	for _, ch := range channels {
		if ch == "" {
			return nil, &notify.ConfigurationError{Reason: "empty channel name"}
		}
		if _, dup := l.watched[ch]; dup {
			continue
		}
		l.watched[ch] = struct{}{}
		l.channels = append(l.channels, ch)
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.idleTimeout <= 0 {
		return nil, &notify.ConfigurationError{Reason: "idle timeout must be positive"}
	}
	if l.drainWindow < 0 {
		return nil, &notify.ConfigurationError{Reason: "drain window must not be negative"}
	}

	metrics.ListenerState.Set(float64(StateCreated))
	return l, nil
}

// Channels returns the distinct watched channels in subscription order.
func (l *Listener) Channels() []string {
	return append([]string(nil), l.channels...)
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the listener is stopped and its connection released.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Subscribe issues one LISTEN per distinct channel. It is a no-op once
// subscribed. A rejected LISTEN releases the connection. Cancelling ctx
// mid-subscribe also releases it but returns nil; check Done to tell the two
// outcomes apart.
func (l *Listener) Subscribe(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateSubscribed, StateRunning:
		return nil
	case StateStopped:
		return notify.ErrStopped
	}
	return l.subscribeLocked(ctx)
}

func (l *Listener) subscribeLocked(ctx context.Context) error {
	for _, ch := range l.channels {
		if err := l.conn.Listen(ctx, ch); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("subscribe cancelled", dLog.Field{Key: "channel", Value: ch})
				l.releaseLocked()
				return nil
			}
			l.logger.Error("listen failed", dLog.Field{Key: "channel", Value: ch}, dLog.Field{Key: "err", Value: err})
			l.releaseLocked()
			return &notify.SubscriptionError{Channel: ch, Err: err}
		}
	}
	l.setStateLocked(StateSubscribed)
	l.logger.Info("subscribed", dLog.Field{Key: "channels", Value: l.channels})
	return nil
}

// Run subscribes if needed and then waits, drains and dispatches until ctx is
// done, Stop is called or the connection fails. Cancellation returns nil.
// A transport failure returns *notify.ConnectionLostError, after the
// connection has been released.
func (l *Listener) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return &notify.ConfigurationError{Reason: "nil handler"}
	}

	l.mu.Lock()
	switch l.state {
	case StateStopped:
		l.mu.Unlock()
		return notify.ErrStopped
	case StateRunning:
		l.mu.Unlock()
		return notify.ErrAlreadyRunning
	case StateCreated:
		if err := l.subscribeLocked(ctx); err != nil {
			l.mu.Unlock()
			return err
		}
		if l.state == StateStopped {
			l.mu.Unlock()
			return nil
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.setStateLocked(StateRunning)
	l.mu.Unlock()

	defer func() {
		cancel()
		l.mu.Lock()
		l.releaseLocked()
		l.mu.Unlock()
	}()

	l.logger.Info("listening", dLog.Field{Key: "idle_timeout", Value: l.idleTimeout.String()})

	if err := l.loop(runCtx, handler); err != nil {
		metrics.ConnectionLost.Inc()
		l.logger.Error("connection lost", dLog.Field{Key: "err", Value: err})
		return &notify.ConnectionLostError{Err: err}
	}
	return nil
}

// Stop is idempotent. A running loop is cancelled and releases the
// connection itself once the current handler call returns; otherwise the
// connection is released here. The close error is reported only by the call
// that performed the release.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateStopped:
		return nil
	case StateRunning:
		l.cancel()
		return nil
	}
	l.releaseLocked()
	return l.closeErr
}

func (l *Listener) loop(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := l.wait(ctx, l.idleTimeout)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errIdle):
			metrics.IdleTimeouts.Inc()
			if l.onIdle != nil {
				l.onIdle()
			}
			continue
		default:
			return err
		}
		l.dispatch(ctx, handler, n)

		if err := l.drain(ctx, handler); err != nil {
			return err
		}
	}
}

// drain delivers whatever is already buffered on the connection.
func (l *Listener) drain(ctx context.Context, handler Handler) error {
	for {
		n, err := l.wait(ctx, l.drainWindow)
		switch {
		case err == nil:
			l.dispatch(ctx, handler, n)
		case ctx.Err() != nil, errors.Is(err, errIdle):
			return nil
		default:
			return err
		}
	}
}

func (l *Listener) wait(ctx context.Context, timeout time.Duration) (*notify.Notification, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := l.conn.WaitForNotification(waitCtx)
	if err != nil {
		if ctx.Err() == nil && waitCtx.Err() != nil {
			return nil, errIdle
		}
		return nil, err
	}
	return n, nil
}

func (l *Listener) dispatch(ctx context.Context, handler Handler, n *notify.Notification) {
	if n == nil {
		return
	}
	if _, ok := l.watched[n.Channel]; !ok {
		metrics.NotificationsDropped.Inc()
		l.logger.Warn("notification on unwatched channel dropped", dLog.Field{Key: "channel", Value: n.Channel})
		return
	}

	out := notify.Notification{
		Channel:    n.Channel,
		Payload:    n.Payload,
		Decoded:    notify.DecodePayload(n.Payload),
		PID:        n.PID,
		ReceivedAt: l.now(),
	}
	if out.Decoded == nil {
		metrics.PayloadDecodeFailures.Inc()
	}
	metrics.NotificationsReceived.WithLabelValues(out.Channel).Inc()

	handler(ctx, out)
}

func (l *Listener) releaseLocked() {
	if l.released {
		return
	}
	l.released = true

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	l.closeErr = l.conn.Close(ctx)
	if l.closeErr != nil {
		l.logger.Warn("close connection", dLog.Field{Key: "err", Value: l.closeErr})
	}

	l.setStateLocked(StateStopped)
	close(l.done)
	l.logger.Info("stopped")
}

func (l *Listener) setStateLocked(s State) {
	l.state = s
	metrics.ListenerState.Set(float64(s))
}
