package syncstore

import (
	"context"
	"fmt"
	"strings"
)

// upsertSQL builds an insert-or-update keyed on keys. Every non-key column
// is overwritten from the incoming row and latestupdate is stamped by the
// database.
func upsertSQL(d Dialect, table string, keys []string, cols []string) string {
	all := append(append([]string{}, keys...), cols...)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(all, ", "))
	b.WriteString(", latestupdate) VALUES (")
	b.WriteString(strings.Repeat("?, ", len(all)))
	b.WriteString(d.NowUTC())
	b.WriteString(") ON CONFLICT (")
	b.WriteString(strings.Join(keys, ", "))
	b.WriteString(") DO UPDATE SET ")
	for _, c := range cols {
		b.WriteString(c)
		b.WriteString(" = excluded.")
		b.WriteString(c)
		b.WriteString(", ")
	}
	b.WriteString("latestupdate = ")
	b.WriteString(d.NowUTC())

	return d.Rebind(b.String())
}

// batchUpsert executes stmt once per row inside a single transaction.
func batchUpsert[R any](ctx context.Context, s *Store, query string, rows []R, args func(R) []any, key func(R) string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, args(row)...); err != nil {
			return fmt.Errorf("exec upsert for %s: %w", key(row), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
