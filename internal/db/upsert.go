package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a bulk upsert.
type UpsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // columns supplied in each row
	ConflictKeys []string // unique constraint columns
	UpdateCols   []string // columns updated on conflict; nil means every non-key column
	Returning    []string // columns returned for each inserted or updated row
}

// BulkUpsert stages rows in a temp table with COPY, then merges them into the
// target with INSERT ... ON CONFLICT DO UPDATE, all in one transaction.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	var affected int64
	err := bulkUpsert(ctx, pool, cfg, rows, func(tx pgx.Tx, sql string) error {
		tag, err := tx.Exec(ctx, sql)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// BulkUpsertReturning is BulkUpsert with a RETURNING clause built from
// cfg.Returning; scan is called once with the result rows.
func BulkUpsertReturning(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any, scan func(pgx.Rows) error) error {
	if len(cfg.Returning) == 0 {
		return eris.New("db: upsert: no returning columns specified")
	}
	return bulkUpsert(ctx, pool, cfg, rows, func(tx pgx.Tx, sql string) error {
		res, err := tx.Query(ctx, sql)
		if err != nil {
			return err
		}
		defer res.Close()
		if err := scan(res); err != nil {
			return err
		}
		return res.Err()
	})
}

func bulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any, run func(pgx.Tx, string) error) error {
	if len(rows) == 0 {
		return nil
	}
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	temp := tempTableName(cfg.Table)
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{temp}.Sanitize(),
		identifier(cfg.Table).Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{temp}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return eris.Wrapf(err, "db: upsert: copy into temp table for %s", cfg.Table)
	}

	if err := run(tx, upsertSQL(cfg, temp)); err != nil {
		return eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "db: upsert: commit tx")
	}
	return nil
}

// upsertSQL builds the merge statement from temp into cfg.Table.
func upsertSQL(cfg UpsertConfig, temp string) string {
	updateCols := cfg.UpdateCols
	if updateCols == nil {
		keys := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keys[k] = true
		}
		for _, c := range cfg.Columns {
			if !keys[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	cols := quoteAndJoin(cfg.Columns)
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s)",
		identifier(cfg.Table).Sanitize(), cols, cols,
		pgx.Identifier{temp}.Sanitize(), quoteAndJoin(cfg.ConflictKeys))

	if len(updateCols) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		sets := make([]string, len(updateCols))
		for i, c := range updateCols {
			q := pgx.Identifier{c}.Sanitize()
			sets[i] = q + " = EXCLUDED." + q
		}
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}

	if len(cfg.Returning) > 0 {
		b.WriteString(" RETURNING ")
		b.WriteString(quoteAndJoin(cfg.Returning))
	}
	return b.String()
}

func tempTableName(table string) string {
	return "_tmp_upsert_" + strings.ReplaceAll(table, ".", "_")
}

// identifier splits a possibly schema-qualified table name.
func identifier(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
