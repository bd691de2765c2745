package ledger

import (
	"slices"
)

type item struct {
	key   RecordKey
	value RecordValue
}

// Store is an ordered map from RecordKey to RecordValue backed by a sorted
// slice. It holds the locally materialized records only.
type Store struct {
	items []item
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) search(key RecordKey) (int, bool) {
	return slices.BinarySearchFunc(s.items, key, func(it item, k RecordKey) int {
		return it.key.Compare(k)
	})
}

// Get returns the value at key.
func (s *Store) Get(key RecordKey) (RecordValue, bool) {
	i, ok := s.search(key)
	if !ok {
		return RecordValue{}, false
	}
	return s.items[i].value, true
}

// Contains reports whether key is present.
func (s *Store) Contains(key RecordKey) bool {
	_, ok := s.search(key)
	return ok
}

// Insert stores value at key, replacing any previous value. It reports
// whether a value was replaced.
func (s *Store) Insert(key RecordKey, value RecordValue) bool {
	i, ok := s.search(key)
	if ok {
		s.items[i].value = value
		return true
	}
	s.items = slices.Insert(s.items, i, item{key: key, value: value})
	return false
}

// Remove deletes key and returns the value it held.
func (s *Store) Remove(key RecordKey) (RecordValue, bool) {
	i, ok := s.search(key)
	if !ok {
		return RecordValue{}, false
	}
	v := s.items[i].value
	s.items = slices.Delete(s.items, i, i+1)
	return v, true
}

// Len returns the number of records held.
func (s *Store) Len() int { return len(s.items) }

// ConfirmedLen returns the number of confirmed records held.
func (s *Store) ConfirmedLen() int {
	i, _ := slices.BinarySearchFunc(s.items, true, func(it item, _ bool) int {
		if it.key.provisional {
			return 1
		}
		return -1
	})
	return i
}

// Descending returns the values at reverse positions [from, to): position 0
// is the greatest key. Out-of-range positions are clipped.
func (s *Store) Descending(from, to int) []RecordValue {
	n := len(s.items)
	from = min(max(from, 0), n)
	to = min(max(to, from), n)
	out := make([]RecordValue, 0, to-from)
	for p := from; p < to; p++ {
		out = append(out, s.items[n-1-p].value)
	}
	return out
}

// Ascend calls fn for each record in key order until fn returns false.
func (s *Store) Ascend(fn func(RecordKey, RecordValue) bool) {
	for _, it := range s.items {
		if !fn(it.key, it.value) {
			return
		}
	}
}
