package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports an identifier that failed validation or an
	// otherwise unusable ingestion request.
	ErrConfiguration = errors.New("ingest: configuration error")

	// ErrTooManyColumns is returned when a single row would not fit under the
	// bound-parameter ceiling.
	ErrTooManyColumns = errors.New("ingest: too many columns")

	// ErrTableInUse is returned when the table derived from a data source id
	// already belongs to a different data source.
	ErrTableInUse = errors.New("ingest: table owned by another data source")

	// ErrLoadFailure is matched by every *LoadError.
	ErrLoadFailure = errors.New("ingest: load failure")
)

// LoadError reports the chunk that failed. Rows are 1-based and inclusive.
type LoadError struct {
	Table    string
	FirstRow int
	LastRow  int
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("ingest: load %s rows %d-%d: %v", e.Table, e.FirstRow, e.LastRow, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoadFailure }
