package ledger

import (
	"time"

	"github.com/google/uuid"

	"spesesync/internal/core"
)

// EntryKind tags the entries returned by paging queries.
type EntryKind uint8

const (
	// NotLoaded stands for a record known to exist but not held locally.
	NotLoaded EntryKind = iota
	Confirmed
	Provisional
)

func (k EntryKind) String() string {
	switch k {
	case Confirmed:
		return "confirmed"
	case Provisional:
		return "provisional"
	default:
		return "not_loaded"
	}
}

// RecordValue is what the store holds: a confirmed expense or a draft.
// Windowed records whether the value is counted in the window aggregate.
type RecordValue struct {
	Kind     EntryKind
	Expense  core.Expense
	Draft    core.Draft
	Windowed bool
}

// ConfirmedValue wraps a confirmed expense.
func ConfirmedValue(e core.Expense, windowed bool) RecordValue {
	return RecordValue{Kind: Confirmed, Expense: e, Windowed: windowed}
}

// ProvisionalValue wraps a draft. Drafts always count in the window.
func ProvisionalValue(d core.Draft) RecordValue {
	return RecordValue{Kind: Provisional, Draft: d, Windowed: true}
}

// Key returns the store key of v.
func (v RecordValue) Key() RecordKey {
	if v.Kind == Provisional {
		return ProvisionalKey(v.Draft.Alias)
	}
	return ConfirmedKey(v.Expense.ServerTime, v.Expense.ServerID)
}

// Amount returns the value's amount.
func (v RecordValue) Amount() uint64 {
	if v.Kind == Provisional {
		return v.Draft.Amount
	}
	return v.Expense.Amount
}

// Label returns the value's aggregation label.
func (v RecordValue) Label() string {
	if v.Kind == Provisional {
		return v.Draft.Label()
	}
	return v.Expense.Label()
}

// Entry is a read-only view of one position in a paged listing.
type Entry struct {
	value RecordValue
}

// Kind tells whether the entry is confirmed, provisional or a placeholder.
func (e Entry) Kind() EntryKind { return e.value.Kind }

// Loaded reports whether the entry carries data.
func (e Entry) Loaded() bool { return e.value.Kind != NotLoaded }

// ID returns the server id, the alias of a draft, or uuid.Nil.
func (e Entry) ID() uuid.UUID {
	switch e.value.Kind {
	case Confirmed:
		return e.value.Expense.ServerID
	case Provisional:
		return e.value.Draft.Alias
	default:
		return uuid.Nil
	}
}

// Amount returns the amount, zero for placeholders.
func (e Entry) Amount() uint64 {
	if !e.Loaded() {
		return 0
	}
	return e.value.Amount()
}

// Category returns the raw category, nil for placeholders and uncategorized records.
func (e Entry) Category() *string {
	switch e.value.Kind {
	case Confirmed:
		return e.value.Expense.Category
	case Provisional:
		return e.value.Draft.Category
	default:
		return nil
	}
}

// Time returns the server time of confirmed entries, the local creation time
// of drafts and zero for placeholders.
func (e Entry) Time() time.Time {
	switch e.value.Kind {
	case Confirmed:
		return e.value.Expense.ServerTime
	case Provisional:
		return e.value.Draft.CreatedAt
	default:
		return time.Time{}
	}
}

// Expense returns the confirmed expense, if any.
func (e Entry) Expense() (core.Expense, bool) {
	return e.value.Expense, e.value.Kind == Confirmed
}

// Draft returns the draft, if any.
func (e Entry) Draft() (core.Draft, bool) {
	return e.value.Draft, e.value.Kind == Provisional
}
