// Package models defines core data structures for go-rangeview
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// KeyColumn is the integer primary key every scanned table must carry
const KeyColumn = "id"

// Record is one row of the scanned table.
// ID, Name and Email are lifted out of Fields for templates; Fields keeps every column as returned.
type Record struct {
	ID     int64                  `json:"id" db:"id"`
	Name   string                 `json:"name" db:"name"`
	Email  string                 `json:"email" db:"email"`
	Fields map[string]interface{} `json:"-" db:"-"`
}

// MarshalJSON emits all columns of the row, like the raw query result would
func (r *Record) MarshalJSON() ([]byte, error) {
	if len(r.Fields) == 0 {
		type plain Record
		return json.Marshal((*plain)(r))
	}
	out := make(map[string]interface{}, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v
	}
	out[KeyColumn] = r.ID
	return json.Marshal(out)
}

// RecordFromColumns builds a Record from a driver row.
// []byte values are converted to strings; the id column is required.
func RecordFromColumns(columns []string, values []interface{}) (*Record, error) {
	if len(columns) != len(values) {
		return nil, fmt.Errorf("column count %d does not match value count %d", len(columns), len(values))
	}
	rec := &Record{Fields: make(map[string]interface{}, len(columns))}
	hasID := false
	for i, col := range columns {
		val := values[i]
		if b, ok := val.([]byte); ok {
			val = string(b)
		}
		rec.Fields[col] = val
		switch strings.ToLower(col) {
		case KeyColumn:
			id, err := toInt64(val)
			if err != nil {
				return nil, fmt.Errorf("bad %s value: %w", KeyColumn, err)
			}
			rec.ID = id
			hasID = true
		case "name":
			rec.Name = toString(val)
		case "email":
			rec.Email = toString(val)
		}
	}
	if !hasID {
		return nil, fmt.Errorf("row has no %s column", KeyColumn)
	}
	return rec, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, fmt.Errorf("NULL key")
	default:
		return 0, fmt.Errorf("unsupported key type %T", v)
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// Aggregate is the result of the COUNT(*) / MAX(id) query
type Aggregate struct {
	Count int64 `json:"count"`
	MaxID int64 `json:"max_id"`
}

// KeyRange is a contiguous interval of the key space: Low < id <= High.
// A missing bound means the interval is open on that side.
type KeyRange struct {
	Index   int   `json:"index"`
	Low     int64 `json:"low,omitempty"` // exclusive
	HasLow  bool  `json:"has_low"`
	High    int64 `json:"high,omitempty"` // inclusive
	HasHigh bool  `json:"has_high"`
}

// Contains reports whether id falls inside the range
func (r KeyRange) Contains(id int64) bool {
	if r.HasLow && id <= r.Low {
		return false
	}
	if r.HasHigh && id > r.High {
		return false
	}
	return true
}

func (r KeyRange) String() string {
	switch {
	case r.HasLow && r.HasHigh:
		return fmt.Sprintf("%d < id <= %d", r.Low, r.High)
	case r.HasHigh:
		return fmt.Sprintf("id <= %d", r.High)
	case r.HasLow:
		return fmt.Sprintf("id > %d", r.Low)
	default:
		return "all ids"
	}
}

// PartitionPlan holds the per-request split of the key space
type PartitionPlan struct {
	TotalCount int64      `json:"total_count"`
	MaxID      int64      `json:"max_id"`
	PartSize   int64      `json:"part_size"`  // per-range row cap
	Boundaries []int64    `json:"boundaries"` // k-1 cut points, non-decreasing
	Ranges     []KeyRange `json:"ranges"`     // k ranges in key order
}

// Partitions returns k
func (p *PartitionPlan) Partitions() int {
	return len(p.Ranges)
}

// PartitionResult describes what one range fetch returned
type PartitionResult struct {
	Range     KeyRange `json:"range"`
	Rows      int      `json:"rows"`
	Truncated bool     `json:"truncated"` // the range held more rows than the cap
}

// FetchResult is the concatenated output of a partitioned scan
type FetchResult struct {
	Records    []*Record         `json:"results"`
	Plan       *PartitionPlan    `json:"plan"`
	Partitions []PartitionResult `json:"partitions"`
}

// Truncated reports whether any range was cut at the cap
func (r *FetchResult) Truncated() bool {
	for _, p := range r.Partitions {
		if p.Truncated {
			return true
		}
	}
	return false
}
