package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spesesync/internal/core"
	"spesesync/internal/protocol"
	"spesesync/internal/storage"
)

type fakeRepo struct {
	live      map[uuid.UUID]core.Expense
	insertErr error
	since     time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{live: make(map[uuid.UUID]core.Expense)}
}

func (r *fakeRepo) InsertExpense(_ context.Context, principal string, data core.ClientData) (core.Expense, error) {
	if r.insertErr != nil {
		return core.Expense{}, r.insertErr
	}
	e := core.Expense{
		ServerID:   uuid.New(),
		ServerTime: time.Now(),
		Principal:  &principal,
		Amount:     data.Amount,
		Category:   data.Category,
	}
	r.live[e.ServerID] = e
	return e, nil
}

func (r *fakeRepo) RevokeExpense(_ context.Context, _ string, id uuid.UUID) (core.Expense, error) {
	e, ok := r.live[id]
	if !ok {
		return core.Expense{}, storage.ErrNotFound
	}
	delete(r.live, id)
	e.Revoked = true
	return e, nil
}

func (r *fakeRepo) LoadSnapshot(_ context.Context, _ string, since time.Time) (protocol.Snapshot, error) {
	r.since = since
	return protocol.Snapshot{Lifetime: core.Stats{Alive: uint64(len(r.live))}}, nil
}

type sent struct {
	principal string
	msg       protocol.Inbound
}

type fakeHub struct{ sent []sent }

func (h *fakeHub) Broadcast(_ context.Context, principal string, msg protocol.Inbound) error {
	h.sent = append(h.sent, sent{principal, msg})
	return nil
}

type fakePublisher struct {
	events []*protocol.LedgerEvent
	err    error
}

func (p *fakePublisher) PublishLedgerEvent(_ context.Context, e *protocol.LedgerEvent) error {
	p.events = append(p.events, e)
	return p.err
}

func TestSubmitBroadcastsConfirmation(t *testing.T) {
	repo, hub, pub := newFakeRepo(), &fakeHub{}, &fakePublisher{}
	svc := NewLedgerService(repo, hub, WithPublisher(pub))
	alias := uuid.New()

	reply, err := svc.Handle(context.Background(), "alice", protocol.Submit{Alias: alias, Amount: 700, Category: core.Category("bar")})
	require.NoError(t, err)
	assert.Nil(t, reply)

	require.Len(t, hub.sent, 1)
	assert.Equal(t, "alice", hub.sent[0].principal)
	confirmed, ok := hub.sent[0].msg.(protocol.Confirmed)
	require.True(t, ok)
	require.NotNil(t, confirmed.Alias)
	assert.Equal(t, alias, *confirmed.Alias)
	assert.Equal(t, uint64(700), confirmed.Expense.Amount)

	require.Len(t, pub.events, 1)
	assert.Equal(t, protocol.EventConfirmed, pub.events[0].Kind)
}

func TestSubmitRejections(t *testing.T) {
	t.Run("zero amount", func(t *testing.T) {
		hub := &fakeHub{}
		svc := NewLedgerService(newFakeRepo(), hub)
		alias := uuid.New()

		reply, err := svc.Handle(context.Background(), "alice", protocol.Submit{Alias: alias})
		require.NoError(t, err)
		assert.Equal(t, protocol.Rejected{Alias: alias, Reason: core.ErrInvalidAmount.Error()}, reply)
		assert.Empty(t, hub.sent)
	})

	t.Run("storage failure", func(t *testing.T) {
		repo, hub := newFakeRepo(), &fakeHub{}
		repo.insertErr = errors.New("disk full")
		svc := NewLedgerService(repo, hub)
		alias := uuid.New()

		reply, err := svc.Handle(context.Background(), "alice", protocol.Submit{Alias: alias, Amount: 1})
		require.Error(t, err)
		assert.Equal(t, protocol.Rejected{Alias: alias, Reason: ReasonInternal}, reply)
		assert.Empty(t, hub.sent)
	})
}

func TestRevoke(t *testing.T) {
	repo, hub, pub := newFakeRepo(), &fakeHub{}, &fakePublisher{err: errors.New("broker down")}
	svc := NewLedgerService(repo, hub, WithPublisher(pub))
	ctx := context.Background()

	_, err := svc.Handle(ctx, "alice", protocol.Submit{Alias: uuid.New(), Amount: 10})
	require.NoError(t, err)
	id := hub.sent[0].msg.(protocol.Confirmed).Expense.ServerID

	// a failing publisher does not fail the request
	require.NoError(t, svc.Revoke(ctx, "alice", id))
	require.Len(t, hub.sent, 2)
	revoked, ok := hub.sent[1].msg.(protocol.Revoked)
	require.True(t, ok)
	assert.True(t, revoked.Expense.Revoked)
	assert.Equal(t, protocol.EventRevoked, pub.events[1].Kind)

	require.NoError(t, svc.Revoke(ctx, "alice", id))
	assert.Len(t, hub.sent, 2, "second revoke is silent")
}

func TestSnapshotUsesWindow(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	svc := NewLedgerService(repo, &fakeHub{}, WithWindow(48*time.Hour), WithClock(func() time.Time { return now }))

	_, err := svc.Snapshot(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, now.Add(-48*time.Hour), repo.since)
}

func TestHandleUnknownMessage(t *testing.T) {
	svc := NewLedgerService(newFakeRepo(), &fakeHub{})
	_, err := svc.Handle(context.Background(), "alice", nil)
	assert.ErrorIs(t, err, protocol.ErrUnknownMessage)
}
