package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"spesesync/internal/core"
)

// EventKind names what happened to an expense.
type EventKind string

const (
	EventConfirmed EventKind = "expense.confirmed"
	EventRevoked   EventKind = "expense.revoked"
)

var ErrInvalidEvent = errors.New("invalid ledger event")

// LedgerEvent is published by the authority after every committed change.
// Downstream consumers (exporters) mirror the ledger from these.
type LedgerEvent struct {
	Kind      EventKind   `json:"kind"`
	Expense   ExpenseJSON `json:"expense"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewLedgerEvent creates an event stamped with the current time.
func NewLedgerEvent(kind EventKind, e core.Expense) *LedgerEvent {
	return &LedgerEvent{
		Kind:      kind,
		Expense:   NewExpenseJSON(e),
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks the event carries a known kind and a complete expense.
func (e *LedgerEvent) Validate() error {
	switch e.Kind {
	case EventConfirmed, EventRevoked:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidEvent, e.Kind)
	}
	if err := e.Expense.Expense().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON creates an event from JSON bytes
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
