// Package jobs holds the background workload: queued email delivery and the
// scheduled maintenance sweeps that keep the session, lockout and audit
// tables healthy.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/pulsedash/pulsedash/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskTypeSendEmail delivers a transactional email.
	TaskTypeSendEmail = "mail:send"
	// TaskSessionSweep deletes expired refresh sessions.
	TaskSessionSweep = "session:sweep"
	// TaskAttemptPurge drops login attempts past the retention horizon.
	TaskAttemptPurge = "attempts:purge"
	// TaskAuditVerify rescans the audit chain end to end.
	TaskAuditVerify = "audit:verify"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task for email delivery.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault)), nil
}

// SweepPayload carries scheduling metadata for the maintenance sweeps.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSessionSweepTask constructs the expired-session sweep task.
func NewSessionSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewAttemptPurgeTask constructs the login-attempt purge task.
func NewAttemptPurgeTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAttemptPurge, body, asynq.Queue(QueueDefault)), nil
}

// NewAuditVerifyTask constructs the nightly chain verification task.
func NewAuditVerifyTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditVerify, body, asynq.Queue(QueueDefault)), nil
}
