package memory

import (
	"context"
	"fmt"
	"sync"

	"spesesync/internal/export"
	"spesesync/internal/protocol"
)

var _ export.Exporter = (*Store)(nil)

// Store keeps exported events in memory.
type Store struct {
	mu    sync.Mutex
	items []protocol.LedgerEvent
}

func New() *Store {
	return &Store{}
}

// Export stores the event and returns a synthetic row reference.
func (s *Store) Export(_ context.Context, e *protocol.LedgerEvent) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, *e)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Events returns a copy of everything exported so far.
func (s *Store) Events() []protocol.LedgerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.LedgerEvent(nil), s.items...)
}
