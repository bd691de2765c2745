package ledger

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"spesesync/internal/core"
)

// Scope selects an aggregate.
type Scope uint8

const (
	Lifetime Scope = iota
	Window
)

func (s Scope) String() string {
	if s == Window {
		return "window"
	}
	return "lifetime"
}

// LiveCount returns the number of live expenses ever known.
func (v *View) LiveCount() uint64 {
	v.Sync()
	return v.lifetime.Alive()
}

// LifetimeSummary returns the all-time (total, count).
func (v *View) LifetimeSummary() core.Summary {
	v.Sync()
	return v.lifetime.Summary()
}

// WindowSummary returns the (total, count) of the trailing window.
func (v *View) WindowSummary() core.Summary {
	v.Sync()
	return v.window.Summary()
}

// CategoryBreakdown returns per-category sums for scope in order of first sight.
func (v *View) CategoryBreakdown(scope Scope) []core.CategoryAmount {
	v.Sync()
	if scope == Window {
		return v.window.Breakdown()
	}
	return v.lifetime.Breakdown()
}

// Pending returns the number of drafts awaiting confirmation.
func (v *View) Pending() int {
	v.Sync()
	return v.store.Len() - v.store.ConfirmedLen()
}

// Outcome is how the authority settled a draft.
type Outcome struct {
	// Entry is the confirmed record as it was folded in. It is a
	// placeholder for rejected drafts.
	Entry    Entry
	Rejected bool
	Reason   string
}

// Outcome reports how the draft filed under alias was settled. It returns
// false while the draft is pending, and for aliases this view did not issue
// or has since forgotten.
func (v *View) Outcome(alias uuid.UUID) (Outcome, bool) {
	v.Sync()
	o, ok := v.outcomes[alias]
	return o, ok
}

// LoadRecent returns up to n entries, most recent first: drafts, then
// confirmed records, then NotLoaded placeholders for records counted in the
// lifetime aggregate but not held locally.
func (v *View) LoadRecent(n int) []Entry {
	return v.LoadRange(0, n)
}

// LoadRange returns positions [from, to) of the LoadRecent sequence. It
// panics with ErrInvalidRange if from > to.
func (v *View) LoadRange(from, to int) []Entry {
	if from > to || from < 0 {
		panic(fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, from, to))
	}
	v.Sync()

	have := v.store.Len()
	size := have
	if alive := v.lifetime.Alive(); alive > uint64(have) {
		size = clampInt(alive)
	}
	to = min(to, size)
	if from >= to {
		return []Entry{}
	}

	out := make([]Entry, 0, to-from)
	for _, value := range v.store.Descending(from, to) {
		out = append(out, Entry{value: value})
	}
	for len(out) < to-from {
		out = append(out, Entry{})
	}
	return out
}

func clampInt(n uint64) int {
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}
