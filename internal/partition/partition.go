// Package partition splits an integer key space into k contiguous ranges.
//
// For a table with count rows and largest key maxID the plan is
//
//	partSize   = ceil(count / k)
//	boundary i = floor(i * maxID / k)   for i = 1 .. k-1
//
// and the ranges are id <= b1, b1 < id <= b2, ..., id > b(k-1).
// The first and last ranges are open so every key lands in exactly one range,
// including keys below zero or above maxID.
package partition

import (
	"fmt"
	"math/big"

	"github.com/go-while/go-rangeview/internal/models"
)

// NewPlan computes the partition plan for agg split k ways
func NewPlan(agg models.Aggregate, k int) (*models.PartitionPlan, error) {
	if k < 1 {
		return nil, fmt.Errorf("partition count must be positive, got %d", k)
	}
	if agg.Count < 0 {
		return nil, fmt.Errorf("negative row count %d", agg.Count)
	}
	if agg.MaxID < 0 {
		// cut points would decrease and leave holes between the ranges
		return nil, fmt.Errorf("negative max key %d", agg.MaxID)
	}
	plan := &models.PartitionPlan{
		TotalCount: agg.Count,
		MaxID:      agg.MaxID,
		PartSize:   PartSize(agg.Count, k),
		Boundaries: Boundaries(agg.MaxID, k),
	}
	plan.Ranges = Ranges(plan.Boundaries)
	return plan, nil
}

// PartSize returns ceil(count / k)
func PartSize(count int64, k int) int64 {
	if count <= 0 {
		return 0
	}
	kk := int64(k)
	return count/kk + boolToInt64(count%kk != 0)
}

// Boundaries returns the k-1 cut points floor(i*maxID/k).
// big.Int keeps i*maxID from overflowing for keys near the int64 limit.
func Boundaries(maxID int64, k int) []int64 {
	if k <= 1 {
		return nil
	}
	out := make([]int64, 0, k-1)
	m := big.NewInt(maxID)
	div := big.NewInt(int64(k))
	for i := 1; i < k; i++ {
		n := new(big.Int).Mul(m, big.NewInt(int64(i)))
		// Div is Euclidean; with a positive divisor that is floor division
		n.Div(n, div)
		out = append(out, n.Int64())
	}
	return out
}

// Ranges turns sorted cut points into len(boundaries)+1 key ranges
func Ranges(boundaries []int64) []models.KeyRange {
	ranges := make([]models.KeyRange, len(boundaries)+1)
	for i := range ranges {
		r := models.KeyRange{Index: i}
		if i > 0 {
			r.Low = boundaries[i-1]
			r.HasLow = true
		}
		if i < len(boundaries) {
			r.High = boundaries[i]
			r.HasHigh = true
		}
		ranges[i] = r
	}
	return ranges
}

// Locate returns the index of the range holding id, or -1 if none does
func Locate(ranges []models.KeyRange, id int64) int {
	for i, r := range ranges {
		if r.Contains(id) {
			return i
		}
	}
	return -1
}

// Concat joins per-range results in range order. No re-sort happens:
// the output is ascending only if every part is ascending and the ranges do not overlap.
func Concat(parts [][]*models.Record) []*models.Record {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]*models.Record, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Ascending reports whether records are in strictly increasing key order
func Ascending(records []*models.Record) bool {
	for i := 1; i < len(records); i++ {
		if records[i-1].ID >= records[i].ID {
			return false
		}
	}
	return true
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
