package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"spesesync/internal/core"
	applog "spesesync/internal/log"
	"spesesync/internal/protocol"
	"spesesync/internal/storage"
)

// Repository is the ledger's system of record.
type Repository interface {
	InsertExpense(ctx context.Context, principal string, data core.ClientData) (core.Expense, error)
	RevokeExpense(ctx context.Context, principal string, id uuid.UUID) (core.Expense, error)
	LoadSnapshot(ctx context.Context, principal string, since time.Time) (protocol.Snapshot, error)
}

// Broadcaster delivers a message to every session of a principal.
type Broadcaster interface {
	Broadcast(ctx context.Context, principal string, msg protocol.Inbound) error
}

// EventPublisher hands ledger changes to the export pipeline.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event *protocol.LedgerEvent) error
}

// ReasonInternal is sent to the client when a submission could not be stored.
const ReasonInternal = "internal error, try again"

// LedgerService applies client requests to the repository and fans the
// outcome out to the principal's sessions.
type LedgerService struct {
	repo      Repository
	hub       Broadcaster
	publisher EventPublisher
	window    time.Duration
	now       func() time.Time
}

// ServiceOption configures a LedgerService.
type ServiceOption func(*LedgerService)

// WithPublisher enables ledger events.
func WithPublisher(p EventPublisher) ServiceOption {
	return func(s *LedgerService) { s.publisher = p }
}

// WithWindow sets the trailing window of snapshots.
func WithWindow(d time.Duration) ServiceOption {
	return func(s *LedgerService) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock overrides the clock used to compute the window start.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *LedgerService) { s.now = now }
}

func NewLedgerService(repo Repository, hub Broadcaster, opts ...ServiceOption) *LedgerService {
	s := &LedgerService{
		repo:   repo,
		hub:    hub,
		window: core.WindowDuration,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the initial state for a new session of principal.
func (s *LedgerService) Snapshot(ctx context.Context, principal string) (protocol.Snapshot, error) {
	snap, err := s.repo.LoadSnapshot(ctx, principal, s.now().Add(-s.window))
	if err != nil {
		return protocol.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// Handle applies one client message. A non-nil reply is meant for the
// sending session only; successful changes reach it through the broadcast.
func (s *LedgerService) Handle(ctx context.Context, principal string, msg protocol.Outbound) (protocol.Inbound, error) {
	switch m := msg.(type) {
	case protocol.Submit:
		return s.Submit(ctx, principal, m)
	case protocol.Revoke:
		return nil, s.Revoke(ctx, principal, m.ID)
	default:
		return nil, fmt.Errorf("%w: %T", protocol.ErrUnknownMessage, msg)
	}
}

// Submit stores a new expense and broadcasts its confirmation. Invalid or
// unstorable submissions produce a rejection reply.
func (s *LedgerService) Submit(ctx context.Context, principal string, m protocol.Submit) (protocol.Inbound, error) {
	data := core.ClientData{Amount: m.Amount, Category: m.Category}
	if err := data.Validate(); err != nil {
		slog.WarnContext(ctx, "Rejecting submission",
			applog.FieldOperation, applog.OpReject,
			applog.FieldPrincipal, principal,
			applog.FieldAlias, m.Alias,
			applog.FieldReason, err.Error())
		return protocol.Rejected{Alias: m.Alias, Reason: err.Error()}, nil
	}

	e, err := s.repo.InsertExpense(ctx, principal, data)
	if err != nil {
		return protocol.Rejected{Alias: m.Alias, Reason: ReasonInternal}, fmt.Errorf("insert expense: %w", err)
	}

	alias := m.Alias
	if err := s.hub.Broadcast(ctx, principal, protocol.Confirmed{Expense: e, Alias: &alias}); err != nil {
		return nil, fmt.Errorf("broadcast confirmation: %w", err)
	}
	s.publish(ctx, protocol.EventConfirmed, e)
	return nil, nil
}

// Revoke revokes a live expense of principal and broadcasts it. Revoking an
// unknown or already revoked expense does nothing.
func (s *LedgerService) Revoke(ctx context.Context, principal string, id uuid.UUID) error {
	e, err := s.repo.RevokeExpense(ctx, principal, id)
	if errors.Is(err, storage.ErrNotFound) {
		slog.DebugContext(ctx, "Ignoring revoke of unknown expense",
			applog.FieldPrincipal, principal,
			applog.FieldExpenseID, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("revoke expense: %w", err)
	}

	if err := s.hub.Broadcast(ctx, principal, protocol.Revoked{Expense: e}); err != nil {
		return fmt.Errorf("broadcast revocation: %w", err)
	}
	s.publish(ctx, protocol.EventRevoked, e)
	return nil
}

func (s *LedgerService) publish(ctx context.Context, kind protocol.EventKind, e core.Expense) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "Event publisher not configured, skipping ledger event", "kind", kind)
		return
	}
	// the change is committed either way
	if err := s.publisher.PublishLedgerEvent(ctx, protocol.NewLedgerEvent(kind, e)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", kind,
			applog.FieldExpenseID, e.ServerID,
			applog.FieldError, err)
	}
}
