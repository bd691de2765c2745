package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"spesesync/internal/core"
	"spesesync/internal/protocol"
)

func TestMemoryStoreExport(t *testing.T) {
	s := New()
	ev := protocol.NewLedgerEvent(protocol.EventConfirmed, core.Expense{
		ServerID:   uuid.New(),
		ServerTime: time.Now(),
		Amount:     123,
	})

	ref, err := s.Export(context.Background(), ev)
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected export: ref=%q err=%v", ref, err)
	}
	if got := s.Events(); len(got) != 1 || got[0].Expense.ID != ev.Expense.ID {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	s := New()
	_, err := s.Export(context.Background(), &protocol.LedgerEvent{Kind: "bogus"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(s.Events()) != 0 {
		t.Fatal("invalid event must not be stored")
	}
}
