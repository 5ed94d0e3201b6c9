package pgnotify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pg_listener/internal/domain/notify"

	"github.com/jackc/pgx/v5"
)

// maxChannelLen is NAMEDATALEN-1; longer identifiers are silently truncated
// by the server, so notifications would arrive under a different name.
const maxChannelLen = 63

// Conn adapts a single pgx connection to notify.Conn.
type Conn struct {
	conn *pgx.Conn
}

var _ notify.Conn = (*Conn)(nil)

func New(conn *pgx.Conn) *Conn {
	return &Conn{conn: conn}
}

func Connect(ctx context.Context, dsn string) (*Conn, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgnotify: connect: %w", err)
	}
	return &Conn{conn: c}, nil
}

// Raw exposes the underlying connection, e.g. for publishing on the same session.
func (c *Conn) Raw() *pgx.Conn {
	return c.conn
}

func validateChannel(ch string) error {
	switch {
	case ch == "":
		return errors.New("empty channel name")
	case len(ch) > maxChannelLen:
		return fmt.Errorf("channel name longer than %d bytes: %q", maxChannelLen, ch)
	case strings.ContainsRune(ch, 0):
		return fmt.Errorf("channel name contains NUL: %q", ch)
	}
	return nil
}

// quoteChannel renders ch as a quoted identifier so names like "store:all"
// keep their case and punctuation.
func quoteChannel(ch string) string {
	return pgx.Identifier{ch}.Sanitize()
}

func (c *Conn) Listen(ctx context.Context, channel string) error {
	if c.conn == nil {
		return errors.New("pgnotify: nil connection")
	}
	if err := validateChannel(channel); err != nil {
		return err
	}
	if _, err := c.conn.Exec(ctx, "LISTEN "+quoteChannel(channel)); err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification returns notifications pgx has already queued before
// reading from the socket. A deadline on ctx leaves the connection usable.
func (c *Conn) WaitForNotification(ctx context.Context) (*notify.Notification, error) {
	if c.conn == nil {
		return nil, errors.New("pgnotify: nil connection")
	}
	n, err := c.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return &notify.Notification{
		Channel: n.Channel,
		Payload: n.Payload,
		PID:     n.PID,
	}, nil
}

func (c *Conn) Close(ctx context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close(ctx)
}
