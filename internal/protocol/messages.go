// Package protocol defines the messages exchanged between a ledger client
// and its authority, and their JSON wire form.
package protocol

import (
	"github.com/google/uuid"

	"spesesync/internal/core"
)

// PrincipalHeader carries the ledger owner on the session upgrade request.
const PrincipalHeader = "X-Spese-Principal"

// Outbound is a message from a client to the authority: Submit or Revoke.
type Outbound interface {
	outbound()
}

// Inbound is a message from the authority to a client: Confirmed, Revoked,
// Rejected or InitSnapshot.
type Inbound interface {
	inbound()
}

type (
	// Submit asks the authority to record a new expense. Alias is the
	// provisional id the client filed it under.
	Submit struct {
		Alias    uuid.UUID
		Amount   uint64
		Category *string
	}

	// Revoke asks the authority to revoke a confirmed expense.
	Revoke struct {
		ID uuid.UUID
	}
)

type (
	// Confirmed announces a recorded expense. Alias is set on the echo to
	// the client that submitted it and nil for foreign records.
	Confirmed struct {
		Expense core.Expense
		Alias   *uuid.UUID
	}

	// Revoked announces that an expense was revoked.
	Revoked struct {
		Expense core.Expense
	}

	// Rejected tells the submitting client its Submit was refused.
	Rejected struct {
		Alias  uuid.UUID
		Reason string
	}

	// InitSnapshot carries the authority's view at session start.
	InitSnapshot struct {
		Snapshot Snapshot
	}
)

// Snapshot is the initial state a client seeds from: lifetime and window
// aggregates plus the most recent confirmed expenses in ascending order.
type Snapshot struct {
	Lifetime core.Stats
	Window   core.Stats
	Recent   []core.Expense
}

func (Submit) outbound() {}
func (Revoke) outbound() {}

func (Confirmed) inbound()    {}
func (Revoked) inbound()      {}
func (Rejected) inbound()     {}
func (InitSnapshot) inbound() {}
