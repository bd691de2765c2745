// Package stats keeps running aggregates (count, sum and per-category sums)
// over a set of expenses.
package stats

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"spesesync/internal/core"
	applog "spesesync/internal/log"
)

var (
	// ErrUnknownCategory is raised when subtracting from a category the
	// tracker has never seen.
	ErrUnknownCategory = errors.New("stats: subtract from unknown category")
	// ErrUnderflow is raised when a subtraction would drive a counter below zero.
	ErrUnderflow = errors.New("stats: counter underflow")
)

// Tracker holds aggregate statistics. Categories keep their order of first
// sight; index maps a name to its position and is kept in lock-step.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	alive      uint64
	total      uint64
	categories []core.CategoryAmount
	index      map[string]int
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{index: make(map[string]int)}
}

// FromBreakdown rebuilds a tracker from serialized parts. Duplicate names are
// merged into their first occurrence.
func FromBreakdown(alive, total uint64, categories []core.CategoryAmount) *Tracker {
	t := New()
	t.alive = alive
	t.total = total
	for _, c := range categories {
		if i, ok := t.index[c.Name]; ok {
			t.categories[i].Amount = saturatingAdd(t.categories[i].Amount, c.Amount)
			continue
		}
		t.index[c.Name] = len(t.categories)
		t.categories = append(t.categories, c)
	}
	return t
}

// FromStats is FromBreakdown over a core.Stats value.
func FromStats(s core.Stats) *Tracker {
	return FromBreakdown(s.Alive, s.Total, s.Categories)
}

// FromExpenses aggregates the non-revoked expenses.
func FromExpenses(expenses []core.Expense) *Tracker {
	t := New()
	for _, e := range expenses {
		if e.Revoked {
			continue
		}
		t.Add(e.Label(), e.Amount, 1)
	}
	return t
}

// Add records count expenses totalling amount under category.
func (t *Tracker) Add(category string, amount, count uint64) {
	t.apply(category, amount, count, false)
}

// Subtract removes count expenses totalling amount from category. It panics
// with ErrUnknownCategory or ErrUnderflow before mutating anything.
func (t *Tracker) Subtract(category string, amount, count uint64) {
	t.apply(category, amount, count, true)
}

func (t *Tracker) apply(category string, amount, count uint64, negative bool) {
	i, known := t.index[category]
	if negative {
		if !known {
			panic(fmt.Errorf("%w: %q", ErrUnknownCategory, category))
		}
		if t.alive < count || t.total < amount || t.categories[i].Amount < amount {
			panic(fmt.Errorf("%w: category %q amount %d count %d", ErrUnderflow, category, amount, count))
		}
		t.alive -= count
		t.total -= amount
		t.categories[i].Amount -= amount
		return
	}

	if !known {
		i = len(t.categories)
		t.index[category] = i
		t.categories = append(t.categories, core.CategoryAmount{Name: category})
	}
	if t.alive > math.MaxUint64-count || t.total > math.MaxUint64-amount ||
		t.categories[i].Amount > math.MaxUint64-amount {
		applog.Default(applog.ComponentStats).Warn("Aggregate saturated",
			applog.FieldCategory, category, applog.FieldAmount, amount)
	}
	t.alive = saturatingAdd(t.alive, count)
	t.total = saturatingAdd(t.total, amount)
	t.categories[i].Amount = saturatingAdd(t.categories[i].Amount, amount)
}

// Summary returns the (total, count) pair.
func (t *Tracker) Summary() core.Summary {
	return core.Summary{Total: t.total, Alive: t.alive}
}

// Alive returns the number of live expenses tracked.
func (t *Tracker) Alive() uint64 { return t.alive }

// Total returns the sum of live expense amounts.
func (t *Tracker) Total() uint64 { return t.total }

// Breakdown returns a copy of the per-category sums in order of first sight.
func (t *Tracker) Breakdown() []core.CategoryAmount {
	return slices.Clone(t.categories)
}

// Amount returns the sum for category, zero if unknown.
func (t *Tracker) Amount(category string) uint64 {
	if i, ok := t.index[category]; ok {
		return t.categories[i].Amount
	}
	return 0
}

// Stats returns a serializable copy of the tracker.
func (t *Tracker) Stats() core.Stats {
	return core.Stats{Alive: t.alive, Total: t.total, Categories: t.Breakdown()}
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
