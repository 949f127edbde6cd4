package analysis

import (
	"errors"
	"fmt"
)

// Stage identifies one of the four analysis stages.
type Stage string

const (
	StageExtraction     Stage = "extraction"
	StageClassification Stage = "classification"
	StageClustering     Stage = "clustering"
	StageExplanation    Stage = "explanation"
)

// Mandatory reports whether a failure of the stage fails the whole report.
func (s Stage) Mandatory() bool {
	return s == StageExtraction || s == StageClassification
}

// StageError is returned by a stage that could not produce a result.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err as a failure of stage. A nil err yields nil.
func NewStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage a failure belongs to, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
