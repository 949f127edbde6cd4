package service

import (
	"context"
	"errors"
	"fmt"

	"adeguard/models"
	"adeguard/rabbitmq"
)

const intakeSubmitter = "intake"

// Submission is the message body accepted on the intake queue.
type Submission struct {
	SubmittedBy string               `json:"submitted_by,omitempty"`
	Report      models.ReportRequest `json:"report"`
}

// HandleSubmission analyses a report received from the intake queue.
// Malformed or invalid reports are dropped; other failures are requeued
// once and dropped on redelivery.
func (s *Service) HandleSubmission(ctx context.Context, msg *rabbitmq.Message) error {
	var sub Submission
	if err := msg.UnmarshalTo(&sub); err != nil {
		return rabbitmq.Permanent(fmt.Errorf("failed to decode submission: %w", err))
	}
	submittedBy := sub.SubmittedBy
	if submittedBy == "" {
		submittedBy = intakeSubmitter
	}

	_, err := s.AnalyzeReport(ctx, sub.Report, submittedBy)
	if err == nil {
		return nil
	}
	var verr *models.ValidationError
	if errors.As(err, &verr) || msg.Redelivered {
		return rabbitmq.Permanent(err)
	}
	return err
}
