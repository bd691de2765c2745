package ledger

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordKey orders records in the store. Confirmed keys sort by server time
// then id; provisional keys sort by alias. Every provisional key sorts after
// every confirmed key, so reverse iteration yields unconfirmed drafts first.
type RecordKey struct {
	provisional bool
	time        time.Time
	id          uuid.UUID
}

// ConfirmedKey returns the key of a confirmed expense.
func ConfirmedKey(t time.Time, id uuid.UUID) RecordKey {
	return RecordKey{time: t, id: id}
}

// ProvisionalKey returns the key of a local draft.
func ProvisionalKey(alias uuid.UUID) RecordKey {
	return RecordKey{provisional: true, id: alias}
}

// Provisional reports whether k addresses a draft.
func (k RecordKey) Provisional() bool { return k.provisional }

// ID returns the server id of a confirmed key or the alias of a provisional one.
func (k RecordKey) ID() uuid.UUID { return k.id }

// Time returns the server time of a confirmed key, zero for provisional keys.
func (k RecordKey) Time() time.Time { return k.time }

// Compare returns -1, 0 or +1 as k sorts before, equal to or after o.
func (k RecordKey) Compare(o RecordKey) int {
	if k.provisional != o.provisional {
		if k.provisional {
			return 1
		}
		return -1
	}
	if !k.provisional {
		if c := k.time.Compare(o.time); c != 0 {
			return c
		}
	}
	return bytes.Compare(k.id[:], o.id[:])
}

func (k RecordKey) String() string {
	if k.provisional {
		return fmt.Sprintf("provisional(%s)", k.id)
	}
	return fmt.Sprintf("confirmed(%s, %s)", k.time.Format(time.RFC3339Nano), k.id)
}
