package reservations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/wolfman30/booking-core/internal/commitments"
	"github.com/wolfman30/booking-core/internal/jobs"
)

// Reader is the read side shared by views and transactions.
type Reader interface {
	// Appointment returns ErrNotFound for unknown ids. Inside a Tx the row
	// stays locked until the transaction ends.
	Appointment(ctx context.Context, id uuid.UUID) (Appointment, error)
	// Appointments returns the appointments that exist among ids, in no
	// particular order.
	Appointments(ctx context.Context, ids []uuid.UUID) ([]Appointment, error)
	Commitments() commitments.Index
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error)
	OverduePayments(ctx context.Context, now time.Time, limit int) ([]Appointment, error)
}

// Tx is a unit of work. Every write made through it, including commitment
// index and job changes, commits or rolls back together.
type Tx interface {
	Reader
	InsertAppointment(ctx context.Context, a Appointment) error
	UpdateAppointment(ctx context.Context, a Appointment) error
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	Jobs() jobs.Scheduler
	CurrentProvider(ctx context.Context, clientID string) (string, bool, error)
	SwitchProvider(ctx context.Context, clientID, from, to string, at time.Time) error
}

// Store runs views and transactions.
type Store interface {
	View(ctx context.Context, fn func(ctx context.Context, r Reader) error) error
	// InTx runs fn holding an exclusive section for each key. Keys name
	// (host, date) buckets or a client; see HostKey and ClientKey.
	InTx(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error
}

// HostKey names the single-writer section of a host's bucket on day.
func HostKey(hostID string, day civil.Date) string {
	return fmt.Sprintf("host:%s:%s", hostID, day)
}

// ClientKey names the single-writer section of a client's provider history.
func ClientKey(clientID string) string {
	return "client:" + clientID
}

func sortedKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
