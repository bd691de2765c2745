package stats

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spesesync/internal/core"
)

func TestTrackerAddKeepsFirstSightOrder(t *testing.T) {
	tr := New()
	tr.Add("food", 500, 1)
	tr.Add("rent", 80000, 1)
	tr.Add("food", 250, 1)

	assert.Equal(t, core.Summary{Total: 80750, Alive: 3}, tr.Summary())
	assert.Equal(t, []core.CategoryAmount{{Name: "food", Amount: 750}, {Name: "rent", Amount: 80000}}, tr.Breakdown())
	assert.Equal(t, uint64(750), tr.Amount("food"))
	assert.Zero(t, tr.Amount("travel"))
}

func TestTrackerSubtract(t *testing.T) {
	tr := New()
	tr.Add("food", 500, 1)
	tr.Add("food", 300, 1)
	tr.Subtract("food", 500, 1)

	assert.Equal(t, core.Summary{Total: 300, Alive: 1}, tr.Summary())
	assert.Equal(t, uint64(300), tr.Amount("food"))

	tr.Subtract("food", 300, 1)
	assert.Equal(t, core.Summary{}, tr.Summary())
	// the category stays listed with a zero amount
	assert.Equal(t, []core.CategoryAmount{{Name: "food"}}, tr.Breakdown())
}

func TestTrackerSubtractUnknownCategoryPanics(t *testing.T) {
	tr := New()
	tr.Add("food", 500, 1)

	assert.PanicsWithError(t, `stats: subtract from unknown category: "rent"`, func() {
		tr.Subtract("rent", 1, 1)
	})
}

func TestTrackerUnderflowPanicsWithoutMutation(t *testing.T) {
	tr := New()
	tr.Add("food", 500, 1)
	tr.Add("rent", 100, 1)

	cases := []struct {
		name     string
		category string
		amount   uint64
		count    uint64
	}{
		{"count", "food", 1, 3},
		{"category amount", "rent", 200, 1},
		{"total", "food", 700, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				r := recover()
				require.NotNil(t, r)
				err, ok := r.(error)
				require.True(t, ok)
				assert.ErrorIs(t, err, ErrUnderflow)
				assert.Equal(t, core.Summary{Total: 600, Alive: 2}, tr.Summary())
			}()
			tr.Subtract(tc.category, tc.amount, tc.count)
		})
	}
}

func TestTrackerSaturates(t *testing.T) {
	tr := New()
	tr.Add("big", math.MaxUint64-1, 1)
	tr.Add("big", 10, 1)

	assert.Equal(t, uint64(math.MaxUint64), tr.Total())
	assert.Equal(t, uint64(math.MaxUint64), tr.Amount("big"))
	assert.Equal(t, uint64(2), tr.Alive())
}

func TestFromBreakdownRebuildsIndex(t *testing.T) {
	tr := FromBreakdown(3, 900, []core.CategoryAmount{
		{Name: "food", Amount: 400},
		{Name: "unclassified", Amount: 200},
		{Name: "food", Amount: 300},
	})

	assert.Equal(t, []core.CategoryAmount{{Name: "food", Amount: 700}, {Name: "unclassified", Amount: 200}}, tr.Breakdown())
	tr.Subtract("unclassified", 200, 1)
	assert.Equal(t, core.Summary{Total: 700, Alive: 2}, tr.Summary())

	tr.Add("rent", 50, 1)
	assert.Equal(t, "rent", tr.Breakdown()[2].Name)
}

func TestFromExpensesSkipsRevoked(t *testing.T) {
	food := "food"
	tr := FromExpenses([]core.Expense{
		{ServerID: uuid.New(), Amount: 100, Category: &food},
		{ServerID: uuid.New(), Amount: 50},
		{ServerID: uuid.New(), Amount: 999, Revoked: true},
	})

	assert.Equal(t, core.Stats{
		Alive: 2,
		Total: 150,
		Categories: []core.CategoryAmount{
			{Name: "food", Amount: 100},
			{Name: core.Unclassified, Amount: 50},
		},
	}, tr.Stats())
}

func TestBreakdownIsACopy(t *testing.T) {
	tr := New()
	tr.Add("food", 100, 1)
	b := tr.Breakdown()
	b[0].Amount = 1

	assert.Equal(t, uint64(100), tr.Amount("food"))
}
