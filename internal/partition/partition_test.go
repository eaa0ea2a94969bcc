package partition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-while/go-rangeview/internal/models"
)

func TestNewPlanThreeWay(t *testing.T) {
	plan, err := NewPlan(models.Aggregate{Count: 9, MaxID: 30}, 3)
	require.NoError(t, err)

	assert.Equal(t, int64(3), plan.PartSize)
	assert.Equal(t, []int64{10, 20}, plan.Boundaries)
	require.Len(t, plan.Ranges, 3)

	assert.Equal(t, "id <= 10", plan.Ranges[0].String())
	assert.Equal(t, "10 < id <= 20", plan.Ranges[1].String())
	assert.Equal(t, "id > 20", plan.Ranges[2].String())
}

func TestPartSizeRoundsUp(t *testing.T) {
	testCases := []struct {
		count    int64
		k        int
		expected int64
	}{
		{0, 3, 0},
		{1, 3, 1},
		{3, 3, 1},
		{4, 3, 2},
		{9, 3, 3},
		{10, 3, 4},
		{10, 1, 10},
		{7, 8, 1},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, PartSize(tc.count, tc.k), "count=%d k=%d", tc.count, tc.k)
	}
}

func TestBoundariesFloor(t *testing.T) {
	// floor(31/3)=10, floor(62/3)=20
	assert.Equal(t, []int64{10, 20}, Boundaries(31, 3))
	// floor(1/3)=0, floor(2/3)=0: boundaries may repeat but never decrease
	assert.Equal(t, []int64{0, 0}, Boundaries(1, 3))
	// negative keys floor towards -inf, like Math.floor
	assert.Equal(t, []int64{-4, -7}, Boundaries(-10, 3))
	assert.Nil(t, Boundaries(100, 1))
	assert.Equal(t, []int64{25, 50, 75}, Boundaries(100, 4))
}

func TestBoundariesNoOverflow(t *testing.T) {
	b := Boundaries(math.MaxInt64, 3)
	require.Len(t, b, 2)
	assert.Equal(t, int64(math.MaxInt64/3), b[0])
	assert.True(t, b[0] < b[1])
	assert.True(t, b[1] < math.MaxInt64)
}

func TestRangesDisjointAndCovering(t *testing.T) {
	for _, k := range []int{1, 2, 3, 5, 8} {
		for _, maxID := range []int64{0, 1, 2, 7, 30, 1000} {
			plan, err := NewPlan(models.Aggregate{Count: maxID, MaxID: maxID}, k)
			require.NoError(t, err)
			require.Len(t, plan.Ranges, k)

			for i := 1; i < len(plan.Boundaries); i++ {
				assert.LessOrEqual(t, plan.Boundaries[i-1], plan.Boundaries[i])
			}

			for id := int64(-5); id <= maxID+5; id++ {
				hits := 0
				for _, r := range plan.Ranges {
					if r.Contains(id) {
						hits++
					}
				}
				assert.Equal(t, 1, hits, "k=%d maxID=%d id=%d must fall in exactly one range", k, maxID, id)
			}
		}
	}
}

func TestSingleRangeIsUnbounded(t *testing.T) {
	plan, err := NewPlan(models.Aggregate{Count: 5, MaxID: 5}, 1)
	require.NoError(t, err)
	require.Len(t, plan.Ranges, 1)
	assert.False(t, plan.Ranges[0].HasLow)
	assert.False(t, plan.Ranges[0].HasHigh)
	assert.Equal(t, int64(5), plan.PartSize)
}

func TestNewPlanRejectsBadInput(t *testing.T) {
	_, err := NewPlan(models.Aggregate{Count: 1, MaxID: 1}, 0)
	assert.Error(t, err)
	_, err = NewPlan(models.Aggregate{Count: -1, MaxID: 1}, 3)
	assert.Error(t, err)
	_, err = NewPlan(models.Aggregate{Count: 2, MaxID: -10}, 3)
	assert.Error(t, err)
}

func TestLocate(t *testing.T) {
	ranges := Ranges([]int64{10, 20})
	assert.Equal(t, 0, Locate(ranges, 10))
	assert.Equal(t, 1, Locate(ranges, 11))
	assert.Equal(t, 1, Locate(ranges, 20))
	assert.Equal(t, 2, Locate(ranges, 21))
	assert.Equal(t, 0, Locate(ranges, -100))
}

func TestConcatKeepsRangeOrder(t *testing.T) {
	recs := func(ids ...int64) []*models.Record {
		out := make([]*models.Record, 0, len(ids))
		for _, id := range ids {
			out = append(out, &models.Record{ID: id})
		}
		return out
	}

	joined := Concat([][]*models.Record{recs(1, 5, 10), recs(11, 20), nil, recs(21, 30)})
	require.Len(t, joined, 7)
	assert.True(t, Ascending(joined))

	// no global re-sort: out-of-order parts stay out of order
	swapped := Concat([][]*models.Record{recs(21), recs(1)})
	assert.False(t, Ascending(swapped))
	assert.Equal(t, int64(21), swapped[0].ID)
}
