package fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrBindingUnavailable means no database source was configured for the process
	ErrBindingUnavailable = errors.New("database binding unavailable")
	// ErrNotFound means the aggregate returned no row or the table is empty
	ErrNotFound = errors.New("no data found")
)

// Stage names the query that failed
type Stage string

const (
	StageAggregate Stage = "aggregate"
	StagePlan      Stage = "plan"
	StageRange     Stage = "range"
	StageSnapshot  Stage = "snapshot"
)

// QueryError wraps any failure of the underlying query layer.
// Partition is the range index for StageRange and -1 otherwise.
type QueryError struct {
	Stage     Stage
	Partition int
	Err       error
}

func (e *QueryError) Error() string {
	if e.Stage == StageRange {
		return fmt.Sprintf("%s query %d failed: %v", e.Stage, e.Partition, e.Err)
	}
	return fmt.Sprintf("%s query failed: %v", e.Stage, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Status classifies err the way the page reports it
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusUnavailable
	StatusFailed
)

// Classify maps an error returned by Fetch onto a Status
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrBindingUnavailable):
		return StatusUnavailable
	default:
		return StatusFailed
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "failed"
	}
}
