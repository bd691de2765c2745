package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL of the ledger table.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// SpendingRecord is a row of spending_records.
type SpendingRecord struct {
	ID         string
	Principal  string
	UnixNanos  int64
	Amount     int64
	SpendGroup sql.NullString
	Revoked    bool
}

// GroupTotal is one row of a per-group aggregate.
type GroupTotal struct {
	SpendGroup sql.NullString
	Count      int64
	Total      int64
}

const recordColumns = `id, principal, unix_nanos, amount, spend_group, revoked`

func scanRecord(row interface{ Scan(...any) error }) (SpendingRecord, error) {
	var r SpendingRecord
	err := row.Scan(&r.ID, &r.Principal, &r.UnixNanos, &r.Amount, &r.SpendGroup, &r.Revoked)
	return r, err
}

type CreateRecordParams struct {
	ID         string
	Principal  string
	UnixNanos  int64
	Amount     int64
	SpendGroup sql.NullString
}

func (q *Queries) CreateRecord(ctx context.Context, arg CreateRecordParams) (SpendingRecord, error) {
	query := `INSERT INTO spending_records (id, principal, unix_nanos, amount, spend_group)
		VALUES (?, ?, ?, ?, ?)
		RETURNING ` + recordColumns
	return scanRecord(q.db.QueryRowContext(ctx, query,
		arg.ID, arg.Principal, arg.UnixNanos, arg.Amount, arg.SpendGroup))
}

// RevokeRecord flips a live record to revoked. It returns sql.ErrNoRows if
// the record is unknown, owned by someone else or already revoked.
func (q *Queries) RevokeRecord(ctx context.Context, id, principal string) (SpendingRecord, error) {
	query := `UPDATE spending_records SET revoked = 1
		WHERE id = ? AND principal = ? AND revoked = 0
		RETURNING ` + recordColumns
	return scanRecord(q.db.QueryRowContext(ctx, query, id, principal))
}

func (q *Queries) GetRecord(ctx context.Context, id, principal string) (SpendingRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM spending_records WHERE id = ? AND principal = ?`
	return scanRecord(q.db.QueryRowContext(ctx, query, id, principal))
}

// GroupTotalsSince aggregates live records at or after since, one row per
// group, groups ordered by their oldest record.
func (q *Queries) GroupTotalsSince(ctx context.Context, principal string, since int64) ([]GroupTotal, error) {
	query := `SELECT spend_group, COUNT(*), COALESCE(SUM(amount), 0)
		FROM spending_records
		WHERE principal = ? AND revoked = 0 AND unix_nanos >= ?
		GROUP BY spend_group
		ORDER BY MIN(unix_nanos), spend_group`
	rows, err := q.db.QueryContext(ctx, query, principal, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupTotal
	for rows.Next() {
		var g GroupTotal
		if err := rows.Scan(&g.SpendGroup, &g.Count, &g.Total); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// LiveRecordsSince lists live records at or after since in ascending order.
func (q *Queries) LiveRecordsSince(ctx context.Context, principal string, since int64) ([]SpendingRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM spending_records
		WHERE principal = ? AND revoked = 0 AND unix_nanos >= ?
		ORDER BY unix_nanos, id`
	rows, err := q.db.QueryContext(ctx, query, principal, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpendingRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
