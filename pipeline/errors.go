package pipeline

import (
	"fmt"

	"adeguard/analysis"
)

// AnalysisError is returned when a mandatory stage fails.
type AnalysisError struct {
	Stage analysis.Stage
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed at %s: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func newAnalysisError(stage analysis.Stage, err error) *AnalysisError {
	return &AnalysisError{Stage: stage, Err: analysis.NewStageError(stage, err)}
}
