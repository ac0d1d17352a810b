// Package commitments keeps the per-user, per-day index of booked and held
// appointments that conflict checks read instead of scanning appointments.
package commitments

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// List names one of the two id lists in a bucket.
type List string

const (
	Booked              List = "booked"
	TemporarilyReserved List = "temporarily_reserved"
)

// ErrListMismatch is returned when an id is added to one list while it is
// already recorded in the other.
var ErrListMismatch = errors.New("commitments: appointment already indexed in another list")

// Bucket is the index entry for one user on one provider-local date.
type Bucket struct {
	UserID              string
	Day                 civil.Date
	Booked              []uuid.UUID
	TemporarilyReserved []uuid.UUID
}

// ListOf reports which list holds id.
func (b Bucket) ListOf(id uuid.UUID) (List, bool) {
	for _, v := range b.Booked {
		if v == id {
			return Booked, true
		}
	}
	for _, v := range b.TemporarilyReserved {
		if v == id {
			return TemporarilyReserved, true
		}
	}
	return "", false
}

// IDs returns every id in the bucket, booked first.
func (b Bucket) IDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(b.Booked)+len(b.TemporarilyReserved))
	out = append(out, b.Booked...)
	return append(out, b.TemporarilyReserved...)
}

func (b *Bucket) append(list List, id uuid.UUID) {
	switch list {
	case Booked:
		b.Booked = append(b.Booked, id)
	case TemporarilyReserved:
		b.TemporarilyReserved = append(b.TemporarilyReserved, id)
	}
}

// Index reads and mutates buckets. Implementations bound to a transaction
// apply every change atomically with the appointment write that caused it.
type Index interface {
	Bucket(ctx context.Context, userID string, day civil.Date) (Bucket, error)
	// Buckets returns the buckets of userID for every day in [from, to]
	// that has entries.
	Buckets(ctx context.Context, userID string, from, to civil.Date) ([]Bucket, error)
	// Add records id in list. Adding an id that is already in list is a no-op.
	Add(ctx context.Context, userID string, day civil.Date, list List, id uuid.UUID) error
	// Move puts id in list to, whichever list held it before.
	Move(ctx context.Context, userID string, day civil.Date, to List, id uuid.UUID) error
	// Remove deletes id from list. Removing a missing id is a no-op.
	Remove(ctx context.Context, userID string, day civil.Date, list List, id uuid.UUID) error
}
