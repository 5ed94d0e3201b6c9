package notify

import (
	"errors"
	"fmt"
)

var (
	ErrStopped        = errors.New("notify: listener stopped")
	ErrAlreadyRunning = errors.New("notify: listener already running")
	ErrConnectionLost = errors.New("notify: connection lost")
)

// ConfigurationError means the listener could not be built; it never started
// and holds no resources.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "notify: invalid configuration: " + e.Reason
}

// SubscriptionError means LISTEN on Channel was rejected by the server.
type SubscriptionError struct {
	Channel string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("notify: subscribe %q: %v", e.Channel, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// ConnectionLostError is returned by Run after the transport failed and the
// connection was released.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("%v: %v", ErrConnectionLost, e.Err)
}

func (e *ConnectionLostError) Unwrap() error { return e.Err }

func (e *ConnectionLostError) Is(target error) bool { return target == ErrConnectionLost }
