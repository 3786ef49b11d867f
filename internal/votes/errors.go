package votes

import "fmt"

// SourceUnavailableError marks one vote source as unreachable within the
// caller's deadline. Optional sources recover by exclusion; the source
// name lands in Tally.PartialSources.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("vote source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// ComputationFailedError means the aggregate cannot be trusted: a
// required source failed, or every source did. The computation fails
// closed rather than returning a possibly-wrong tally.
type ComputationFailedError struct {
	Source string
	Err    error
}

func (e *ComputationFailedError) Error() string {
	return fmt.Sprintf("tally computation failed (source %s): %v", e.Source, e.Err)
}

func (e *ComputationFailedError) Unwrap() error { return e.Err }
