package mailbox

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainPreservesOrder(t *testing.T) {
	m := New[int]()
	for i := range 5 {
		require.True(t, m.Push(i))
	}
	assert.Equal(t, 5, m.Len())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, m.Drain())
	assert.Empty(t, m.Drain())
	assert.Zero(t, m.Len())
}

func TestReadySignalsAfterPush(t *testing.T) {
	m := New[string]()
	select {
	case <-m.Ready():
		t.Fatal("ready before any push")
	default:
	}

	m.Push("a")
	m.Push("b")
	select {
	case <-m.Ready():
	case <-time.After(time.Second):
		t.Fatal("no wake-up after push")
	}
	assert.Equal(t, []string{"a", "b"}, m.Drain())
}

func TestCloseRejectsPushKeepsQueue(t *testing.T) {
	m := New[int]()
	m.Push(1)
	m.Close()
	assert.False(t, m.Push(2))
	assert.Equal(t, []int{1}, m.Drain())
}

func TestSingleProducerSingleConsumer(t *testing.T) {
	const n = 10000
	m := New[int]()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			m.Push(i)
		}
	}()

	got := make([]int, 0, n)
	deadline := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case <-m.Ready():
			got = append(got, m.Drain()...)
		case <-deadline:
			t.Fatalf("received %d of %d values", len(got), n)
		}
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("position %d holds %d", i, v)
		}
	}
}
