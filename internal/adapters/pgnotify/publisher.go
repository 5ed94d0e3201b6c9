package pgnotify

import (
	"context"
	"errors"
	"fmt"

	"pg_listener/internal/domain/notify"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Publisher struct {
	db Execer
}

func NewPublisher(db Execer) *Publisher {
	return &Publisher{db: db}
}

// Notify sends payload on channel. Channel and payload are bound as
// parameters, so no quoting is needed.
func (p *Publisher) Notify(ctx context.Context, channel, payload string) error {
	if err := validateChannel(channel); err != nil {
		return err
	}
	if _, err := p.db.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return nil
}

// PublishChange sends ev to its table channel and to the catch-all channel.
func (p *Publisher) PublishChange(ctx context.Context, ev notify.ChangeEvent) error {
	if ev.Table == "" {
		return errors.New("pgnotify: change event without table")
	}
	payload, err := ev.Payload()
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	for _, ch := range []string{notify.TableChannel(ev.Table), notify.AllChangesChannel} {
		if err := p.Notify(ctx, ch, payload); err != nil {
			return err
		}
	}
	return nil
}
