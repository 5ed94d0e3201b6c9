package pgnotify

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"pg_listener/internal/domain/notify"
	"pg_listener/internal/services/listener"
)

var (
	containerOnce sync.Once
	container     *postgres.PostgresContainer
	containerDSN  string
	containerErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()

	if container != nil {
		if err := container.Terminate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to terminate postgres container: %v\n", err)
		}
	}
	os.Exit(code)
}

// testDSN starts one PostgreSQL container for the package on first use.
func testDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	containerOnce.Do(func() {
		ctx := context.Background()
		container, containerErr = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("testdb"),
			postgres.WithUsername("testuser"),
			postgres.WithPassword("testpass"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if containerErr != nil {
			return
		}
		containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr)
	return containerDSN
}

func connectPublisher(t *testing.T, dsn string) (*pgx.Conn, *Publisher) {
	t.Helper()

	conn, err := pgx.Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })

	return conn, NewPublisher(conn)
}

func TestIntegration_ListenerReceivesQuotedChannels(t *testing.T) {
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := Connect(ctx, dsn)
	require.NoError(t, err)

	l, err := listener.New(conn, []string{notify.AllChangesChannel, "table:store_encounter:change"},
		listener.WithIdleTimeout(100*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, l.Subscribe(ctx))

	_, pub := connectPublisher(t, dsn)

	var (
		mu  sync.Mutex
		got []notify.Notification
	)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	handler := func(_ context.Context, n notify.Notification) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
		if len(got) == 3 {
			stop()
		}
	}

	ev := notify.NewChangeEvent(notify.EventCreate, "store_encounter")
	ev.Data = map[string]any{"player": "0x1"}
	require.NoError(t, pub.Notify(ctx, "unwatched", "ignored"))
	require.NoError(t, pub.PublishChange(ctx, ev))
	require.NoError(t, pub.Notify(ctx, notify.AllChangesChannel, "not json"))

	require.NoError(t, l.Run(runCtx, handler))
	assert.Equal(t, listener.StateStopped, l.State())
	assert.True(t, conn.Raw().IsClosed())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)

	assert.Equal(t, "table:store_encounter:change", got[0].Channel)
	assert.Equal(t, notify.AllChangesChannel, got[1].Channel)
	assert.Equal(t, got[0].Payload, got[1].Payload)
	parsed, ok := notify.ParseChangeEvent(got[0])
	require.True(t, ok)
	assert.Equal(t, ev, parsed)
	assert.NotZero(t, got[0].PID)

	assert.Equal(t, "not json", got[2].Payload)
	assert.Nil(t, got[2].Decoded)
}

func TestIntegration_IdleTimeoutKeepsConnection(t *testing.T) {
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := Connect(ctx, dsn)
	require.NoError(t, err)

	_, pub := connectPublisher(t, dsn)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	idles := 0
	l, err := listener.New(conn, []string{"heartbeat"},
		listener.WithIdleTimeout(50*time.Millisecond),
		listener.WithIdleFunc(func() {
			idles++
			if idles == 2 {
				require.NoError(t, pub.Notify(ctx, "heartbeat", `{"alive": true}`))
			}
		}))
	require.NoError(t, err)

	var got notify.Notification
	err = l.Run(runCtx, func(_ context.Context, n notify.Notification) {
		got = n
		stop()
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, idles, 2)
	assert.Equal(t, map[string]any{"alive": true}, got.Decoded)
}

func TestIntegration_TerminatedBackendIsConnectionLost(t *testing.T) {
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := Connect(ctx, dsn)
	require.NoError(t, err)
	pid := conn.Raw().PgConn().PID()

	admin, _ := connectPublisher(t, dsn)

	calls := 0
	l, err := listener.New(conn, []string{"doomed"},
		listener.WithIdleTimeout(50*time.Millisecond),
		listener.WithIdleFunc(func() {
			_, err := admin.Exec(ctx, "SELECT pg_terminate_backend($1)", pid)
			require.NoError(t, err)
		}))
	require.NoError(t, err)

	err = l.Run(ctx, func(context.Context, notify.Notification) { calls++ })

	require.ErrorIs(t, err, notify.ErrConnectionLost)
	assert.Equal(t, 0, calls)
	assert.Equal(t, listener.StateStopped, l.State())
	assert.True(t, conn.Raw().IsClosed())
	assert.NoError(t, l.Stop())
}

func TestIntegration_TriggerEmitsChangeEvents(t *testing.T) {
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, _ := connectPublisher(t, dsn)
	_, err := admin.Exec(ctx, `CREATE TABLE store_trigger_items (id bigint PRIMARY KEY, name text NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, InstallTriggers(ctx, admin, "public.store_trigger_items"))

	conn, err := Connect(ctx, dsn)
	require.NoError(t, err)
	l, err := listener.New(conn, []string{notify.TableChannel("store_trigger_items")},
		listener.WithIdleTimeout(100*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, l.Subscribe(ctx))

	_, err = admin.Exec(ctx, `INSERT INTO store_trigger_items (id, name) VALUES (7, 'sword')`)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, `DELETE FROM store_trigger_items WHERE id = 7`)
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var events []notify.ChangeEvent
	err = l.Run(runCtx, func(_ context.Context, n notify.Notification) {
		ev, ok := notify.ParseChangeEvent(n)
		require.True(t, ok, n.Payload)
		events = append(events, ev)
		if len(events) == 2 {
			stop()
		}
	})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, notify.EventCreate, events[0].Event)
	assert.Equal(t, notify.EventDelete, events[1].Event)
	for _, ev := range events {
		assert.Equal(t, "store_trigger_items", ev.Table)
		assert.Equal(t, "public", ev.Schema)
		assert.Equal(t, float64(7), ev.ID)
		assert.Equal(t, map[string]any{"id": float64(7), "name": "sword"}, ev.Data)
		_, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
		assert.NoError(t, err)
	}
}

func TestIntegration_ChannelTooLongIsSubscriptionError(t *testing.T) {
	dsn := testDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := Connect(ctx, dsn)
	require.NoError(t, err)

	l, err := listener.New(conn, []string{"ok", strings.Repeat("x", maxChannelLen+1)})
	require.NoError(t, err)

	var subErr *notify.SubscriptionError
	require.ErrorAs(t, l.Subscribe(ctx), &subErr)
	assert.True(t, conn.Raw().IsClosed())
}
