// Package dedup implements DedupIndex: per-downstream-table
// existence/delete/find helpers keyed on the table's unique message_id
// index. It carries no business logic of its own — resend and skip
// decisions are made by the stream processor template.
//
// Grounded on pkg/idempotency's SQLiteStore, which templates table names
// into its queries rather than hard-coding a single table.
package dedup

import (
	"context"
	"database/sql"

	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/sqlutil"
)

// Index is the DedupIndex (DI).
type Index struct {
	db     *sql.DB
	driver string
}

// New wraps db for dedup operations against tables with a message_id
// unique index. driver follows the same convention as pkg/rawstore.
func New(db *sql.DB, driver string) *Index {
	return &Index{db: db, driver: sqlutil.NormalizeDriver(driver)}
}

// ExistsByMessageID reports whether table already holds a row for
// messageID.
func (x *Index) ExistsByMessageID(ctx context.Context, table, messageID string) (bool, error) {
	ident, err := sqlutil.QuoteIdent(x.driver, table)
	if err != nil {
		return false, &ridgeline.ConfigError{Reason: err.Error()}
	}
	query := sqlutil.Rewrite(x.driver, `SELECT COUNT(1) FROM `+ident+` WHERE message_id = ?`)
	var n int
	if err := x.db.QueryRowContext(ctx, query, messageID).Scan(&n); err != nil {
		return false, &ridgeline.StoreError{Op: "exists_by_message_id", Err: err}
	}
	return n > 0, nil
}

// DeleteByMessageID removes every row for messageID in table and reports
// the count removed.
func (x *Index) DeleteByMessageID(ctx context.Context, table, messageID string) (int64, error) {
	ident, err := sqlutil.QuoteIdent(x.driver, table)
	if err != nil {
		return 0, &ridgeline.ConfigError{Reason: err.Error()}
	}
	query := sqlutil.Rewrite(x.driver, `DELETE FROM `+ident+` WHERE message_id = ?`)
	res, err := x.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return 0, &ridgeline.StoreError{Op: "delete_by_message_id", Err: err}
	}
	return res.RowsAffected()
}

// FindByMessageID returns the row for messageID as a column-name-keyed map,
// or nil if absent.
func (x *Index) FindByMessageID(ctx context.Context, table, messageID string) (map[string]interface{}, error) {
	ident, err := sqlutil.QuoteIdent(x.driver, table)
	if err != nil {
		return nil, &ridgeline.ConfigError{Reason: err.Error()}
	}
	query := sqlutil.Rewrite(x.driver, `SELECT * FROM `+ident+` WHERE message_id = ?`)
	rows, err := x.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, &ridgeline.StoreError{Op: "find_by_message_id", Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, &ridgeline.StoreError{Op: "find_by_message_id_scan", Err: err}
	}

	out := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		if b, ok := values[i].([]byte); ok {
			out[c] = string(b)
		} else {
			out[c] = values[i]
		}
	}
	return out, nil
}
