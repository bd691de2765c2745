package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"spesesync/internal/core"
	applog "spesesync/internal/log"
	"spesesync/internal/protocol"
	"spesesync/internal/stats"
)

var (
	ErrNotFound       = errors.New("expense not found")
	ErrAmountTooLarge = errors.New("amount does not fit storage")
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

// Option configures a repository.
type Option func(*SQLiteRepository)

// WithClock overrides the clock used to stamp confirmed expenses.
func WithClock(now func() time.Time) Option {
	return func(r *SQLiteRepository) { r.now = now }
}

func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: NewQueries(db),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(repo)
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertExpense records a new expense for principal and returns it with its
// server id and time.
func (r *SQLiteRepository) InsertExpense(ctx context.Context, principal string, data core.ClientData) (core.Expense, error) {
	if data.Amount > math.MaxInt64 {
		return core.Expense{}, ErrAmountTooLarge
	}
	rec, err := r.queries.CreateRecord(ctx, CreateRecordParams{
		ID:         uuid.NewString(),
		Principal:  principal,
		UnixNanos:  r.now().UnixNano(),
		Amount:     int64(data.Amount),
		SpendGroup: nullString(data.Category),
	})
	if err != nil {
		return core.Expense{}, fmt.Errorf("create record: %w", err)
	}

	e, err := rec.expense()
	if err != nil {
		return core.Expense{}, err
	}
	slog.DebugContext(ctx, "Expense saved to SQLite",
		applog.FieldComponent, applog.ComponentStorage,
		applog.FieldExpenseID, rec.ID,
		applog.FieldPrincipal, principal,
		applog.FieldAmount, rec.Amount)
	return e, nil
}

// RevokeExpense marks a live expense of principal as revoked. It returns
// ErrNotFound when there is no such live expense.
func (r *SQLiteRepository) RevokeExpense(ctx context.Context, principal string, id uuid.UUID) (core.Expense, error) {
	rec, err := r.queries.RevokeRecord(ctx, id.String(), principal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Expense{}, ErrNotFound
		}
		return core.Expense{}, fmt.Errorf("revoke record: %w", err)
	}
	return rec.expense()
}

// GetExpense returns an expense of principal, revoked or not.
func (r *SQLiteRepository) GetExpense(ctx context.Context, principal string, id uuid.UUID) (core.Expense, error) {
	rec, err := r.queries.GetRecord(ctx, id.String(), principal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Expense{}, ErrNotFound
		}
		return core.Expense{}, fmt.Errorf("get record: %w", err)
	}
	return rec.expense()
}

// LoadSnapshot builds the initial view of principal's ledger: lifetime
// totals, totals since since and the live expenses since since, ascending.
func (r *SQLiteRepository) LoadSnapshot(ctx context.Context, principal string, since time.Time) (protocol.Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return protocol.Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()
	q := r.queries.WithTx(tx)

	lifetime, err := q.GroupTotalsSince(ctx, principal, math.MinInt64)
	if err != nil {
		return protocol.Snapshot{}, fmt.Errorf("lifetime totals: %w", err)
	}
	window, err := q.GroupTotalsSince(ctx, principal, since.UnixNano())
	if err != nil {
		return protocol.Snapshot{}, fmt.Errorf("window totals: %w", err)
	}
	records, err := q.LiveRecordsSince(ctx, principal, since.UnixNano())
	if err != nil {
		return protocol.Snapshot{}, fmt.Errorf("recent records: %w", err)
	}

	snap := protocol.Snapshot{
		Lifetime: groupStats(lifetime),
		Window:   groupStats(window),
		Recent:   make([]core.Expense, 0, len(records)),
	}
	for _, rec := range records {
		e, err := rec.expense()
		if err != nil {
			return protocol.Snapshot{}, err
		}
		snap.Recent = append(snap.Recent, e)
	}
	return snap, nil
}

func groupStats(groups []GroupTotal) core.Stats {
	var alive, total uint64
	cats := make([]core.CategoryAmount, 0, len(groups))
	for _, g := range groups {
		alive += uint64(g.Count)
		total += uint64(g.Total)
		name := core.Unclassified
		if g.SpendGroup.Valid {
			name = g.SpendGroup.String
		}
		cats = append(cats, core.CategoryAmount{Name: name, Amount: uint64(g.Total)})
	}
	// a literal "unclassified" group and NULL share a label
	return stats.FromBreakdown(alive, total, cats).Stats()
}

func (rec SpendingRecord) expense() (core.Expense, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse record id %q: %w", rec.ID, err)
	}
	principal := rec.Principal
	e := core.Expense{
		ServerID:   id,
		ServerTime: time.Unix(0, rec.UnixNanos).UTC(),
		Principal:  &principal,
		Amount:     uint64(rec.Amount),
		Revoked:    rec.Revoked,
	}
	if rec.SpendGroup.Valid {
		group := rec.SpendGroup.String
		e.Category = &group
	}
	return e, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
