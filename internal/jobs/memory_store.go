package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryJob struct {
	job        Job
	dispatched bool
	canceled   bool
}

// MemoryStore keeps jobs in process. It implements Scheduler and Source.
type MemoryStore struct {
	mu   sync.Mutex
	jobs []*memoryJob
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Schedule(ctx context.Context, job Job) error {
	if job.AppointmentID == uuid.Nil || job.Kind == "" {
		return ErrInvalidJob
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, &memoryJob{job: job})
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID, kinds ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.job.AppointmentID != appointmentID || j.dispatched || j.canceled {
			continue
		}
		if len(kinds) > 0 && !contains(kinds, j.job.Kind) {
			continue
		}
		j.canceled = true
		n++
	}
	return n, nil
}

func (s *MemoryStore) FetchDue(ctx context.Context, now time.Time, limit int32) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.dispatched || j.canceled || j.job.RunAt.After(now) {
			continue
		}
		out = append(out, j.job)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].RunAt.Before(out[b].RunAt) })
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkDispatched(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.job.ID == id && !j.dispatched && !j.canceled {
			j.dispatched = true
			return true, nil
		}
	}
	return false, nil
}

// Pending returns the not yet dispatched, not canceled jobs of an appointment.
func (s *MemoryStore) Pending(appointmentID uuid.UUID) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.job.AppointmentID == appointmentID && !j.dispatched && !j.canceled {
			out = append(out, j.job)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
