package pgnotify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ChangeTriggerFunction is the trigger function every change trigger calls.
const ChangeTriggerFunction = "pg_listener_notify_change"

// changeTriggerSQL emits a ChangeEvent-shaped payload on the table channel and
// on store:all for each row change.
const changeTriggerSQL = `
CREATE OR REPLACE FUNCTION ` + ChangeTriggerFunction + `() RETURNS trigger AS $$
DECLARE
	v_event   text;
	v_record  jsonb;
	v_payload text;
BEGIN
	IF TG_OP = 'INSERT' THEN
		v_event = 'create';
		v_record = to_jsonb(NEW);
	ELSIF TG_OP = 'UPDATE' THEN
		v_event = 'update';
		v_record = to_jsonb(NEW);
	ELSIF TG_OP = 'DELETE' THEN
		v_event = 'delete';
		v_record = to_jsonb(OLD);
	ELSE
		RETURN NULL;
	END IF;

	v_payload = jsonb_build_object(
		'event', v_event,
		'table', TG_TABLE_NAME,
		'schema', TG_TABLE_SCHEMA,
		'id', v_record -> 'id',
		'data', v_record,
		'timestamp', to_char(clock_timestamp() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')
	)::text;

	PERFORM pg_notify(format('table:%s:change', TG_TABLE_NAME), v_payload);
	PERFORM pg_notify('store:all', v_payload);

	IF TG_OP = 'DELETE' THEN
		RETURN OLD;
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql VOLATILE`

var triggerOps = map[string]struct{}{"INSERT": {}, "UPDATE": {}, "DELETE": {}}

// InstallTriggers creates the change trigger function and attaches a row
// trigger for every table. Tables may be schema-qualified ("public.items").
func InstallTriggers(ctx context.Context, db Execer, tables ...string) error {
	if _, err := db.Exec(ctx, changeTriggerSQL); err != nil {
		return fmt.Errorf("create trigger function: %w", err)
	}
	for _, table := range tables {
		if err := CreateTableTrigger(ctx, db, table); err != nil {
			return err
		}
	}
	return nil
}

// CreateTableTrigger (re)creates the change trigger on table for ops, which
// default to INSERT, UPDATE and DELETE. The trigger function must exist.
func CreateTableTrigger(ctx context.Context, db Execer, table string, ops ...string) error {
	stmts, err := tableTriggerSQL(table, ops)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create trigger on %s: %w", table, err)
		}
	}
	return nil
}

func tableTriggerSQL(table string, ops []string) ([]string, error) {
	if table == "" {
		return nil, errors.New("pgnotify: empty table name")
	}
	ident := pgx.Identifier(strings.Split(table, "."))
	for _, part := range ident {
		if part == "" {
			return nil, fmt.Errorf("pgnotify: invalid table name %q", table)
		}
	}
	if len(ops) == 0 {
		ops = []string{"INSERT", "UPDATE", "DELETE"}
	}
	upper := make([]string, len(ops))
	for i, op := range ops {
		upper[i] = strings.ToUpper(op)
		if _, ok := triggerOps[upper[i]]; !ok {
			return nil, fmt.Errorf("pgnotify: unsupported trigger operation %q", op)
		}
	}

	trigger := pgx.Identifier{"_notify_" + ident[len(ident)-1]}.Sanitize()
	target := ident.Sanitize()
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, target),
		fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
			trigger, strings.Join(upper, " OR "), target, ChangeTriggerFunction),
	}, nil
}
