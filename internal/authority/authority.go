// Package authority builds the ledger's system of record from configuration:
// an in-process memory authority or a websocket connection to the server.
package authority

import (
	"context"
	"fmt"

	"spesesync/internal/ledger"
)

// Type represents the kind of authority
type Type string

const (
	MemoryAuthority Type = "memory"
	RemoteAuthority Type = "remote"
)

// String implements fmt.Stringer
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the authority type is valid
func (t Type) IsValid() bool {
	switch t {
	case MemoryAuthority, RemoteAuthority:
		return true
	default:
		return false
	}
}

// CleanupFunc releases the resources of an authority
type CleanupFunc func() error

// Result contains the authority instance and optional cleanup function
type Result struct {
	Authority ledger.Authority
	Cleanup   CleanupFunc
}

// Factory creates authorities based on configuration
type Factory interface {
	Open(ctx context.Context, config Config) (*Result, error)
}

// Types returns all valid authority types
func Types() []Type {
	return []Type{MemoryAuthority, RemoteAuthority}
}

func errInvalidType(t Type) error {
	return fmt.Errorf("invalid authority type: %s (valid: %v)", t, Types())
}
