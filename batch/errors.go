package batch

import (
	"context"
	"errors"
	"fmt"

	"adeguard/analysis"
	"adeguard/models"
	"adeguard/pipeline"
)

// BatchTooLargeError is returned before any report is processed when a
// batch exceeds the configured ceiling.
type BatchTooLargeError struct {
	Size  int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch size %d exceeds maximum of %d reports", e.Size, e.Limit)
}

// TimeoutError is recorded for a report that did not finish in time.
type TimeoutError struct {
	Index int
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("report %d timed out: %v", e.Index, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Error kinds recorded in BatchError.ErrorType.
const (
	KindValidation     = "ValidationError"
	KindExtraction     = "ExtractionError"
	KindClassification = "ClassificationError"
	KindClustering     = "ClusteringError"
	KindExplanation    = "ExplanationError"
	KindTimeout        = "TimeoutError"
	KindCanceled       = "CanceledError"
	KindInternal       = "InternalError"
)

// ErrorKind classifies a per-report failure.
func ErrorKind(err error) string {
	var (
		verr *models.ValidationError
		terr *TimeoutError
		aerr *pipeline.AnalysisError
	)
	switch {
	case errors.As(err, &verr):
		return KindValidation
	case errors.As(err, &terr):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &aerr):
		return stageKind(aerr.Stage)
	}
	if stage, ok := analysis.StageOf(err); ok {
		return stageKind(stage)
	}
	return KindInternal
}

func stageKind(stage analysis.Stage) string {
	switch stage {
	case analysis.StageExtraction:
		return KindExtraction
	case analysis.StageClassification:
		return KindClassification
	case analysis.StageClustering:
		return KindClustering
	case analysis.StageExplanation:
		return KindExplanation
	default:
		return KindInternal
	}
}
