package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount uint64
}

// Summary is the (total, count) pair shown for a scope.
type Summary struct {
	Total uint64
	Alive uint64
}

// Stats is a serializable aggregate: count, sum and per-category sums in
// order of first sight.
type Stats struct {
	Alive      uint64
	Total      uint64
	Categories []CategoryAmount
}
