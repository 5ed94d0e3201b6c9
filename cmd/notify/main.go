// Command notify publishes a single notification, or a table change event
// fanned out to its table channel and store:all, for exercising a running
// listener by hand. With -install-triggers it instead attaches change
// triggers to the listed tables.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pg_listener/internal/adapters/pgnotify"
	"pg_listener/internal/config"
	"pg_listener/internal/domain/notify"
)

func main() {
	var (
		channel = flag.String("channel", notify.AllChangesChannel, "channel to notify")
		payload = flag.String("payload", "", "raw payload")
		table   = flag.String("table", "", "publish a change event for this table instead of a raw payload")
		event   = flag.String("event", notify.EventUpdate, "change event type: create, update or delete")
		data    = flag.String("data", "{}", "change event data as a JSON object")
		install = flag.String("install-triggers", "", "comma-separated tables to attach change triggers to")
	)
	cfg := config.MustLoad() // parses flags

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var err error
	if *install != "" {
		err = installTriggers(ctx, cfg, strings.Split(*install, ","))
	} else {
		err = publish(ctx, cfg, *channel, *payload, *table, *event, *data)
	}
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func installTriggers(ctx context.Context, cfg *config.Config, tables []string) error {
	dsn, err := cfg.Db.DSN()
	if err != nil {
		return fmt.Errorf("invalid db config: %w", err)
	}
	conn, err := pgnotify.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if err := pgnotify.InstallTriggers(ctx, conn.Raw(), tables...); err != nil {
		return err
	}
	fmt.Printf("change triggers installed on %s\n", strings.Join(tables, ", "))
	return nil
}

func publish(ctx context.Context, cfg *config.Config, channel, payload, table, event, data string) error {
	dsn, err := cfg.Db.DSN()
	if err != nil {
		return fmt.Errorf("invalid db config: %w", err)
	}
	conn, err := pgnotify.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	pub := pgnotify.NewPublisher(conn.Raw())

	if table == "" {
		if err := pub.Notify(ctx, channel, payload); err != nil {
			return err
		}
		fmt.Printf("sent to %s: %s\n", channel, payload)
		return nil
	}

	ev := notify.NewChangeEvent(event, table)
	if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
		return fmt.Errorf("parse -data: %w", err)
	}
	if err := pub.PublishChange(ctx, ev); err != nil {
		return err
	}
	fmt.Printf("sent %s event for %s to %s and %s\n", event, table, notify.TableChannel(table), notify.AllChangesChannel)
	return nil
}
