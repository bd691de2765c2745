package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Unclassified is the aggregation label for expenses without a category.
	Unclassified = "unclassified"

	// WindowDuration is the trailing range of the rolling "this month" aggregate.
	WindowDuration = 30 * 24 * time.Hour
)

type (
	// Expense is a record confirmed by the authority. Only Revoked may change
	// after confirmation, and only from false to true.
	Expense struct {
		ServerID   uuid.UUID
		ServerTime time.Time
		Principal  *string // nil stands for a local, ownerless record
		Amount     uint64  // smallest currency unit
		Category   *string
		Revoked    bool
	}

	// ClientData is the part of an expense a client controls.
	ClientData struct {
		Amount   uint64
		Category *string
		Revoked  bool
	}

	// Draft is a locally created expense not yet confirmed by the authority.
	Draft struct {
		Alias     uuid.UUID // time-ordered (v7)
		Amount    uint64
		Category  *string
		CreatedAt time.Time
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrMissingID       = errors.New("missing server id")
	ErrMissingTime     = errors.New("missing server time")
	ErrCategoryTooLong = errors.New("category too long (max 64 characters)")
)

// Label returns the aggregation label for a nullable category.
func Label(category *string) string {
	if category == nil {
		return Unclassified
	}
	return *category
}

// Category normalizes user input into a nullable category: blank means none.
func Category(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Label returns the expense's aggregation label.
func (e Expense) Label() string {
	return Label(e.Category)
}

func (e Expense) Validate() error {
	if e.ServerID == uuid.Nil {
		return ErrMissingID
	}
	if e.ServerTime.IsZero() {
		return ErrMissingTime
	}
	if e.Category != nil && len(*e.Category) > 64 {
		return ErrCategoryTooLong
	}
	return nil
}

// Label returns the draft's aggregation label.
func (d Draft) Label() string {
	return Label(d.Category)
}

func (c ClientData) Validate() error {
	if c.Amount == 0 {
		return ErrInvalidAmount
	}
	if c.Category != nil && len(*c.Category) > 64 {
		return ErrCategoryTooLong
	}
	return nil
}
