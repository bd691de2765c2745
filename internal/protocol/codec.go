package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spesesync/internal/core"
)

// Message type tags on the wire.
const (
	TypeSubmit    = "submit"
	TypeRevoke    = "revoke"
	TypeConfirmed = "confirmed"
	TypeRevoked   = "revoked"
	TypeRejected  = "rejected"
	TypeInit      = "init"
)

var (
	ErrUnknownMessage = errors.New("protocol: unknown message type")
	ErrMalformed      = errors.New("protocol: malformed message")
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ExpenseJSON is the wire form of core.Expense.
type ExpenseJSON struct {
	ID        uuid.UUID `json:"id"`
	Time      time.Time `json:"time"`
	Principal *string   `json:"principal,omitempty"`
	Amount    uint64    `json:"amount"`
	Category  *string   `json:"category"`
	Revoked   bool      `json:"revoked"`
}

// NewExpenseJSON converts an expense to its wire form. Times are sent in UTC.
func NewExpenseJSON(e core.Expense) ExpenseJSON {
	return ExpenseJSON{
		ID:        e.ServerID,
		Time:      e.ServerTime.UTC(),
		Principal: e.Principal,
		Amount:    e.Amount,
		Category:  e.Category,
		Revoked:   e.Revoked,
	}
}

// Expense converts back to the domain type.
func (e ExpenseJSON) Expense() core.Expense {
	return core.Expense{
		ServerID:   e.ID,
		ServerTime: e.Time,
		Principal:  e.Principal,
		Amount:     e.Amount,
		Category:   e.Category,
		Revoked:    e.Revoked,
	}
}

type categoryJSON struct {
	Name   string `json:"name"`
	Amount uint64 `json:"amount"`
}

type statsJSON struct {
	Alive      uint64         `json:"alive"`
	Total      uint64         `json:"total"`
	Categories []categoryJSON `json:"categories"`
}

func newStatsJSON(s core.Stats) statsJSON {
	out := statsJSON{Alive: s.Alive, Total: s.Total, Categories: make([]categoryJSON, 0, len(s.Categories))}
	for _, c := range s.Categories {
		out.Categories = append(out.Categories, categoryJSON(c))
	}
	return out
}

func (s statsJSON) stats() core.Stats {
	out := core.Stats{Alive: s.Alive, Total: s.Total}
	for _, c := range s.Categories {
		out.Categories = append(out.Categories, core.CategoryAmount(c))
	}
	return out
}

type submitJSON struct {
	Alias    uuid.UUID `json:"alias"`
	Amount   uint64    `json:"amount"`
	Category *string   `json:"category"`
}

type revokeJSON struct {
	ID uuid.UUID `json:"id"`
}

type confirmedJSON struct {
	Expense *ExpenseJSON `json:"expense"`
	Alias   *uuid.UUID   `json:"alias,omitempty"`
}

type revokedJSON struct {
	Expense *ExpenseJSON `json:"expense"`
}

type rejectedJSON struct {
	Alias  uuid.UUID `json:"alias"`
	Reason string    `json:"reason"`
}

type initJSON struct {
	Lifetime statsJSON     `json:"lifetime"`
	Window   statsJSON     `json:"window"`
	Recent   []ExpenseJSON `json:"recent"`
}

// EncodeOutbound serializes a client message.
func EncodeOutbound(msg Outbound) ([]byte, error) {
	switch m := msg.(type) {
	case Submit:
		return encode(TypeSubmit, submitJSON(m))
	case Revoke:
		return encode(TypeRevoke, revokeJSON(m))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

// DecodeOutbound parses a client message.
func DecodeOutbound(data []byte) (Outbound, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeSubmit:
		var p submitJSON
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.Alias == uuid.Nil {
			return nil, fmt.Errorf("%w: submit without alias", ErrMalformed)
		}
		return Submit(p), nil
	case TypeRevoke:
		var p revokeJSON
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: revoke without id", ErrMalformed)
		}
		return Revoke(p), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

// EncodeInbound serializes an authority message.
func EncodeInbound(msg Inbound) ([]byte, error) {
	switch m := msg.(type) {
	case Confirmed:
		e := NewExpenseJSON(m.Expense)
		return encode(TypeConfirmed, confirmedJSON{Expense: &e, Alias: m.Alias})
	case Revoked:
		e := NewExpenseJSON(m.Expense)
		return encode(TypeRevoked, revokedJSON{Expense: &e})
	case Rejected:
		return encode(TypeRejected, rejectedJSON(m))
	case InitSnapshot:
		p := initJSON{
			Lifetime: newStatsJSON(m.Snapshot.Lifetime),
			Window:   newStatsJSON(m.Snapshot.Window),
			Recent:   make([]ExpenseJSON, 0, len(m.Snapshot.Recent)),
		}
		for _, e := range m.Snapshot.Recent {
			p.Recent = append(p.Recent, NewExpenseJSON(e))
		}
		return encode(TypeInit, p)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

// DecodeInbound parses an authority message.
func DecodeInbound(data []byte) (Inbound, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeConfirmed:
		var p confirmedJSON
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		e, err := expenseOf(p.Expense)
		if err != nil {
			return nil, err
		}
		return Confirmed{Expense: e, Alias: p.Alias}, nil
	case TypeRevoked:
		var p revokedJSON
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		e, err := expenseOf(p.Expense)
		if err != nil {
			return nil, err
		}
		return Revoked{Expense: e}, nil
	case TypeRejected:
		var p rejectedJSON
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.Alias == uuid.Nil {
			return nil, fmt.Errorf("%w: rejected without alias", ErrMalformed)
		}
		return Rejected(p), nil
	case TypeInit:
		var p initJSON
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		snap := Snapshot{Lifetime: p.Lifetime.stats(), Window: p.Window.stats()}
		for i := range p.Recent {
			e, err := expenseOf(&p.Recent[i])
			if err != nil {
				return nil, err
			}
			snap.Recent = append(snap.Recent, e)
		}
		return InitSnapshot{Snapshot: snap}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

func encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return json.Marshal(envelope{Type: kind, Payload: raw})
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

func unmarshalPayload(env envelope, dst any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return nil
}

func expenseOf(e *ExpenseJSON) (core.Expense, error) {
	if e == nil {
		return core.Expense{}, fmt.Errorf("%w: missing expense", ErrMalformed)
	}
	exp := e.Expense()
	if err := exp.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return exp, nil
}
