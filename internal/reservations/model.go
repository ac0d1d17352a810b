// Package reservations owns the appointment lifecycle: holds, promotion,
// release, cancellation and the reaping of expired holds.
package reservations

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

type Status string

const (
	StatusTemporarilyReserved Status = "temporarily_reserved"
	StatusConfirmed           Status = "confirmed"
	StatusCompleted           Status = "completed"
	StatusCanceled            Status = "canceled"
)

type PaymentMethod string

const (
	PayBefore PaymentMethod = "pay_before"
	PayAfter  PaymentMethod = "pay_after"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// PromoteMethod selects how a hold becomes confirmed.
type PromoteMethod string

const (
	PayNow   PromoteMethod = "pay_now"
	PayLater PromoteMethod = "pay_later"
)

func (p PromoteMethod) Valid() bool { return p == PayNow || p == PayLater }

type Payment struct {
	Method    PaymentMethod `json:"method"`
	Status    PaymentStatus `json:"status"`
	ExpiresAt time.Time     `json:"expires_at"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`
	OverdueAt *time.Time    `json:"overdue_at,omitempty"`
}

// CancellationReason is stored on canceled appointments.
type CancellationReason struct {
	Code       string    `json:"code"`
	Note       string    `json:"note,omitempty"`
	CanceledBy string    `json:"canceled_by,omitempty"`
	CanceledAt time.Time `json:"canceled_at"`
}

// Appointment is one reservation of a provider's time. Day is the
// provider-local date whose commitment buckets reference it.
type Appointment struct {
	ID                uuid.UUID           `json:"id"`
	HostID            string              `json:"host_id"`
	Participants      []string            `json:"participants"`
	Start             time.Time           `json:"start"`
	End               time.Time           `json:"end"`
	Day               civil.Date          `json:"day"`
	AppointmentTypeID string              `json:"appointment_type_id"`
	Status            Status              `json:"status"`
	Payment           Payment             `json:"payment"`
	Cancellation      *CancellationReason `json:"cancellation,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Parties returns the host followed by every distinct participant.
func (a Appointment) Parties() []string {
	out := []string{a.HostID}
	for _, p := range a.Participants {
		dup := false
		for _, seen := range out {
			if seen == p {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}

// Expired reports whether a hold's TTL has passed at now.
func (a Appointment) Expired(now time.Time) bool {
	return a.Status == StatusTemporarilyReserved && !a.Payment.ExpiresAt.After(now)
}

// HoldRequest asks for a hold on the window starting at Start.
type HoldRequest struct {
	ClientID          string
	ProviderID        string
	AppointmentTypeID string
	Start             time.Time
	// Timezone overrides the provider's zone when deriving the bucket date.
	Timezone string
}

// Hold is the result of a successful CreateHold.
type Hold struct {
	AppointmentID    uuid.UUID `json:"appointment_id"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	PaymentExpiresAt time.Time `json:"payment_expires_at"`
}

// ProviderLink is one entry of a client's current provider history.
type ProviderLink struct {
	ClientID   string
	ProviderID string
	StartedAt  time.Time
	EndedAt    *time.Time
}
