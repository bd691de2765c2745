// Package ledger is the client-side optimistic cache of an expense ledger.
//
// A View holds the locally materialized records and two running aggregates
// (lifetime and a trailing window). Local inserts are counted immediately
// and filed under a provisional alias; the authority's confirmations,
// revocations and rejections are folded in on the next query.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spesesync/internal/core"
	applog "spesesync/internal/log"
	"spesesync/internal/protocol"
	"spesesync/internal/stats"
)

var (
	// ErrRevokedDraft is raised when a caller inserts already-revoked data.
	ErrRevokedDraft = errors.New("ledger: cannot insert a revoked record")
	// ErrInvalidRange is raised by LoadRange when from > to.
	ErrInvalidRange = errors.New("ledger: invalid range")
)

// maxOutcomes bounds how many settled drafts a View remembers.
const maxOutcomes = 1024

// Authority is the system of record a View reconciles against. Submit and
// PollInbound must not block.
type Authority interface {
	// TakeInit returns the initial snapshot, at most once.
	TakeInit() (protocol.Snapshot, bool)
	// Submit enqueues an outbound message.
	Submit(protocol.Outbound)
	// PollInbound drains the messages received so far, in delivery order.
	PollInbound() []protocol.Inbound
}

// View is the reconciliation engine. It is owned by a single goroutine and
// does no locking.
type View struct {
	authority Authority
	store     *Store
	lifetime  *stats.Tracker
	window    *stats.Tracker
	now       func() time.Time
	span      time.Duration
	logger    *applog.Logger
	liveline  time.Time

	// outcomes of this view's own drafts, oldest first in settled
	outcomes map[uuid.UUID]Outcome
	settled  []uuid.UUID
}

// Option configures a View.
type Option func(*View)

// WithClock overrides the wall clock used for the window boundary and draft
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

// WithWindow overrides the trailing window length.
func WithWindow(d time.Duration) Option {
	return func(v *View) {
		if d > 0 {
			v.span = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *applog.Logger) Option {
	return func(v *View) { v.logger = l.WithComponent(applog.ComponentLedger) }
}

// New builds a View seeded from the authority's initial snapshot. Without a
// snapshot it starts empty.
func New(authority Authority, opts ...Option) *View {
	v := &View{
		authority: authority,
		store:     NewStore(),
		lifetime:  stats.New(),
		window:    stats.New(),
		now:       time.Now,
		span:      core.WindowDuration,
		logger:    applog.Discard(),
		outcomes:  make(map[uuid.UUID]Outcome),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.liveline = v.now().Add(-v.span)

	snap, ok := authority.TakeInit()
	if !ok {
		v.logger.Debug("No initial snapshot, starting empty")
		return v
	}
	v.lifetime = stats.FromStats(snap.Lifetime)
	v.window = stats.FromStats(snap.Window)
	for _, e := range snap.Recent {
		if e.Revoked {
			continue
		}
		v.store.Insert(ConfirmedKey(e.ServerTime, e.ServerID), ConfirmedValue(e, !e.ServerTime.Before(v.liveline)))
	}
	v.logger.Info("Seeded from snapshot",
		"alive", v.lifetime.Alive(),
		"materialized", v.store.Len())
	return v
}

// InsertExpense records a new expense optimistically and submits it. It
// returns the provisional alias.
func (v *View) InsertExpense(amount uint64, category *string) uuid.UUID {
	return v.InsertDraft(core.ClientData{Amount: amount, Category: category})
}

// InsertDraft is InsertExpense over client data. It panics with
// ErrRevokedDraft if data is already revoked.
func (v *View) InsertDraft(data core.ClientData) uuid.UUID {
	if data.Revoked {
		panic(ErrRevokedDraft)
	}
	alias, err := uuid.NewV7()
	if err != nil {
		// only fails if the random source does
		alias = uuid.New()
	}
	d := core.Draft{
		Alias:     alias,
		Amount:    data.Amount,
		Category:  data.Category,
		CreatedAt: v.now(),
	}

	label := d.Label()
	v.lifetime.Add(label, d.Amount, 1)
	v.window.Add(label, d.Amount, 1)
	v.store.Insert(ProvisionalKey(alias), ProvisionalValue(d))
	v.authority.Submit(protocol.Submit{Alias: alias, Amount: d.Amount, Category: d.Category})

	v.logger.Debug("Draft inserted", applog.FieldAlias, alias, applog.FieldAmount, d.Amount, applog.FieldCategory, label)
	return alias
}

// Revoke asks the authority to revoke a confirmed expense. Local state only
// changes when the revocation is echoed back.
func (v *View) Revoke(id uuid.UUID) {
	v.authority.Submit(protocol.Revoke{ID: id})
}

// Sync folds every inbound message received so far, in delivery order.
func (v *View) Sync() {
	v.liveline = v.now().Add(-v.span)
	for _, msg := range v.authority.PollInbound() {
		v.apply(msg)
	}
}

func (v *View) apply(msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.Confirmed:
		v.applyConfirmed(m.Expense, m.Alias)
	case protocol.Revoked:
		v.applyRevoked(m.Expense)
	case protocol.Rejected:
		v.applyRejected(m.Alias, m.Reason)
	case protocol.InitSnapshot:
		if got, have := m.Snapshot.Lifetime.Alive, v.lifetime.Alive(); got != have {
			v.logger.Warn("Late snapshot disagrees with local state, ignoring it",
				"snapshot_alive", got, "local_alive", have)
		}
	default:
		v.logger.Warn("Unhandled inbound message", applog.FieldMessage, fmt.Sprintf("%T", msg))
	}
}

func (v *View) inWindow(t time.Time) bool {
	return !t.Before(v.liveline)
}

func (v *View) applyConfirmed(e core.Expense, alias *uuid.UUID) {
	if e.Revoked {
		v.logger.Warn("Dropping confirmation of a revoked expense", applog.FieldExpenseID, e.ServerID)
		return
	}
	key := ConfirmedKey(e.ServerTime, e.ServerID)

	if alias != nil {
		if draft, ok := v.store.Remove(ProvisionalKey(*alias)); ok {
			if v.store.Contains(key) {
				// already folded in as a foreign record
				v.forget(draft)
			} else {
				v.promote(draft, e)
			}
			stored, _ := v.store.Get(key)
			v.resolve(*alias, Outcome{Entry: Entry{value: stored}})
			return
		}
	}
	if v.store.Contains(key) {
		v.logger.Debug("Duplicate confirmation", applog.FieldExpenseID, e.ServerID)
		return
	}

	windowed := v.inWindow(e.ServerTime)
	v.lifetime.Add(e.Label(), e.Amount, 1)
	if windowed {
		v.window.Add(e.Label(), e.Amount, 1)
	}
	v.store.Insert(key, ConfirmedValue(e, windowed))
}

// promote replaces a draft with its confirmation. The draft was already
// counted; the aggregates are only touched if the authority recorded
// different data.
func (v *View) promote(draft RecordValue, e core.Expense) {
	key := ConfirmedKey(e.ServerTime, e.ServerID)
	if draft.Draft.Amount == e.Amount && draft.Draft.Label() == e.Label() {
		v.store.Insert(key, ConfirmedValue(e, draft.Windowed))
		return
	}

	v.logger.Warn("Confirmation differs from draft",
		applog.FieldAlias, draft.Draft.Alias,
		applog.FieldExpenseID, e.ServerID)
	v.forget(draft)
	windowed := v.inWindow(e.ServerTime)
	v.lifetime.Add(e.Label(), e.Amount, 1)
	if windowed {
		v.window.Add(e.Label(), e.Amount, 1)
	}
	v.store.Insert(key, ConfirmedValue(e, windowed))
}

func (v *View) applyRevoked(e core.Expense) {
	removed, ok := v.store.Remove(ConfirmedKey(e.ServerTime, e.ServerID))
	if !ok {
		v.logger.Debug("Revocation for a record not held locally", applog.FieldExpenseID, e.ServerID)
		return
	}
	v.forget(removed)
}

func (v *View) applyRejected(alias uuid.UUID, reason string) {
	removed, ok := v.store.Remove(ProvisionalKey(alias))
	if !ok {
		v.logger.Debug("Rejection for an unknown draft", applog.FieldAlias, alias)
		return
	}
	v.logger.Warn("Draft rejected", applog.FieldAlias, alias, applog.FieldReason, reason)
	v.forget(removed)
	v.resolve(alias, Outcome{Rejected: true, Reason: reason})
}

// resolve remembers how a draft was settled, evicting the oldest outcome
// past maxOutcomes.
func (v *View) resolve(alias uuid.UUID, o Outcome) {
	v.outcomes[alias] = o
	v.settled = append(v.settled, alias)
	if len(v.settled) > maxOutcomes {
		delete(v.outcomes, v.settled[0])
		v.settled = v.settled[1:]
	}
}

// forget subtracts a removed record from the aggregates it was counted in.
func (v *View) forget(r RecordValue) {
	label := r.Label()
	v.lifetime.Subtract(label, r.Amount(), 1)
	if r.Windowed {
		v.window.Subtract(label, r.Amount(), 1)
	}
}
