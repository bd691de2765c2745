// Package memory is an in-process authority. It confirms submissions on the
// spot, keeps the ledger in memory and lets tests inject foreign traffic.
package memory

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"spesesync/internal/core"
	"spesesync/internal/mailbox"
	"spesesync/internal/protocol"
	"spesesync/internal/stats"
)

type Authority struct {
	mu        sync.Mutex
	principal *string
	now       func() time.Time
	window    time.Duration
	rejectAt  uint64
	manual    bool
	items     []core.Expense
	byID      map[uuid.UUID]int
	snapshot  *protocol.Snapshot

	outbox *mailbox.Mailbox[protocol.Outbound]
	inbox  *mailbox.Mailbox[protocol.Inbound]
}

// Option configures an Authority.
type Option func(*Authority)

// WithSeed preloads confirmed expenses and makes TakeInit return a snapshot
// of them.
func WithSeed(expenses []core.Expense) Option {
	return func(a *Authority) {
		for _, e := range expenses {
			a.record(e)
		}
		a.snapshot = &protocol.Snapshot{}
	}
}

// WithPrincipal sets the owner stamped on confirmed expenses.
func WithPrincipal(p string) Option {
	return func(a *Authority) { a.principal = &p }
}

// WithClock overrides the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// WithWindow overrides the window used to build the snapshot.
func WithWindow(d time.Duration) Option {
	return func(a *Authority) { a.window = d }
}

// WithRejectOver rejects submissions with an amount above limit.
func WithRejectOver(limit uint64) Option {
	return func(a *Authority) { a.rejectAt = limit }
}

// WithManualDelivery holds submissions until Deliver is called.
func WithManualDelivery() Option {
	return func(a *Authority) { a.manual = true }
}

// New creates an authority.
func New(opts ...Option) *Authority {
	a := &Authority{
		now:    time.Now,
		window: core.WindowDuration,
		byID:   make(map[uuid.UUID]int),
		outbox: mailbox.New[protocol.Outbound](),
		inbox:  mailbox.New[protocol.Inbound](),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.snapshot != nil {
		snap := a.buildSnapshot()
		a.snapshot = &snap
	}
	return a
}

// TakeInit returns the seed snapshot once.
func (a *Authority) TakeInit() (protocol.Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snapshot == nil {
		return protocol.Snapshot{}, false
	}
	snap := *a.snapshot
	a.snapshot = nil
	return snap, true
}

// Submit queues msg. It never blocks.
func (a *Authority) Submit(msg protocol.Outbound) {
	a.outbox.Push(msg)
}

// PollInbound processes pending submissions (unless delivery is manual) and
// drains the replies.
func (a *Authority) PollInbound() []protocol.Inbound {
	if !a.manual {
		a.Deliver()
	}
	return a.inbox.Drain()
}

// Deliver processes every queued submission and returns how many there were.
func (a *Authority) Deliver() int {
	pending := a.outbox.Drain()
	for _, msg := range pending {
		if reply, ok := a.handle(msg); ok {
			a.inbox.Push(reply)
		}
	}
	return len(pending)
}

// Inject queues an inbound message as if another device had caused it.
func (a *Authority) Inject(msg protocol.Inbound) {
	a.inbox.Push(msg)
}

// Expenses returns the ledger in confirmation order.
func (a *Authority) Expenses() []core.Expense {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.items)
}

func (a *Authority) handle(msg protocol.Outbound) (protocol.Inbound, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch m := msg.(type) {
	case protocol.Submit:
		if m.Amount == 0 {
			return protocol.Rejected{Alias: m.Alias, Reason: "amount must be positive"}, true
		}
		if a.rejectAt > 0 && m.Amount > a.rejectAt {
			return protocol.Rejected{Alias: m.Alias, Reason: fmt.Sprintf("amount exceeds %d", a.rejectAt)}, true
		}
		e := core.Expense{
			ServerID:   uuid.New(),
			ServerTime: a.now(),
			Principal:  a.principal,
			Amount:     m.Amount,
			Category:   m.Category,
		}
		a.record(e)
		alias := m.Alias
		return protocol.Confirmed{Expense: e, Alias: &alias}, true
	case protocol.Revoke:
		i, ok := a.byID[m.ID]
		if !ok || a.items[i].Revoked {
			return nil, false
		}
		a.items[i].Revoked = true
		return protocol.Revoked{Expense: a.items[i]}, true
	default:
		return nil, false
	}
}

func (a *Authority) record(e core.Expense) {
	a.byID[e.ServerID] = len(a.items)
	a.items = append(a.items, e)
}

func (a *Authority) buildSnapshot() protocol.Snapshot {
	since := a.now().Add(-a.window)
	var live, recent []core.Expense
	for _, e := range a.items {
		if e.Revoked {
			continue
		}
		live = append(live, e)
		if !e.ServerTime.Before(since) {
			recent = append(recent, e)
		}
	}
	slices.SortFunc(recent, func(x, y core.Expense) int {
		return x.ServerTime.Compare(y.ServerTime)
	})
	return protocol.Snapshot{
		Lifetime: stats.FromExpenses(live).Stats(),
		Window:   stats.FromExpenses(recent).Stats(),
		Recent:   recent,
	}
}

// ReadSeedFile parses seed expenses, one per line as "amount [category]".
// Blank lines and lines starting with # are skipped. Records are spaced one
// hour apart, ending at now.
func ReadSeedFile(path string, now time.Time) ([]core.Expense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	out := make([]core.Expense, 0, len(lines))
	for i, line := range lines {
		amountText, category, _ := strings.Cut(line, " ")
		amount, err := core.ParseDecimalToCents(amountText)
		if err != nil {
			return nil, fmt.Errorf("seed line %d: %w", i+1, err)
		}
		out = append(out, core.Expense{
			ServerID:   uuid.New(),
			ServerTime: now.Add(-time.Duration(len(lines)-i) * time.Hour),
			Amount:     amount,
			Category:   core.Category(category),
		})
	}
	return out, nil
}
