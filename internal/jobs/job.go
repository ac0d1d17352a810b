// Package jobs is the side-effect outbox for appointments. Reservation writes
// schedule and cancel jobs in the same transaction as the status change; a
// worker hands due jobs to an external runner.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kinds scheduled by the reservation manager.
const (
	KindHoldExpiry      = "hold.expiry"
	KindReminder        = "appointment.reminder"
	KindPaymentDue      = "payment.due"
	KindPaymentOverdue  = "payment.overdue"
	KindCanceled        = "appointment.canceled"
)

// ErrInvalidJob is returned for jobs without an appointment or kind.
var ErrInvalidJob = errors.New("jobs: appointment id and kind required")

// Job is one scheduled side effect for an appointment.
type Job struct {
	ID            uuid.UUID       `json:"id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	Kind          string          `json:"kind"`
	RunAt         time.Time       `json:"run_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// New builds a job with a fresh id. payload may be nil.
func New(appointmentID uuid.UUID, kind string, runAt time.Time, payload any) (Job, error) {
	if appointmentID == uuid.Nil || kind == "" {
		return Job{}, ErrInvalidJob
	}
	job := Job{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Kind:          kind,
		RunAt:         runAt.UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Job{}, err
		}
		job.Payload = data
	}
	return job, nil
}

// Scheduler records and cancels jobs. Implementations bound to a transaction
// commit or roll back with it.
type Scheduler interface {
	Schedule(ctx context.Context, job Job) error
	// CancelForAppointment cancels pending jobs of the given kinds, or every
	// pending job when no kinds are passed. It returns the number canceled.
	CancelForAppointment(ctx context.Context, appointmentID uuid.UUID, kinds ...string) (int, error)
}

// Source is read by the Worker.
type Source interface {
	FetchDue(ctx context.Context, now time.Time, limit int32) ([]Job, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) (bool, error)
}

// Dispatcher hands a due job to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}
