// Package export defines where ledger events are mirrored to.
package export

import (
	"context"

	"spesesync/internal/protocol"
)

// Exporter mirrors one ledger event to an external sink and returns a
// reference to what it wrote.
type Exporter interface {
	Export(ctx context.Context, event *protocol.LedgerEvent) (ref string, err error)
}

// Status is the row status column for an event kind.
func Status(kind protocol.EventKind) string {
	switch kind {
	case protocol.EventConfirmed:
		return "confirmed"
	case protocol.EventRevoked:
		return "revoked"
	default:
		return string(kind)
	}
}
