package reservations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/booking-core/internal/commitments"
	"github.com/wolfman30/booking-core/internal/jobs"
)

type memoryState struct {
	appointments map[uuid.UUID]Appointment
	index        *commitments.MemoryIndex
	current      map[string]string
	history      []ProviderLink
	rosters      map[string]map[string]struct{}
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		appointments: make(map[uuid.UUID]Appointment, len(s.appointments)),
		index:        s.index.Clone(),
		current:      make(map[string]string, len(s.current)),
		history:      append([]ProviderLink(nil), s.history...),
		rosters:      make(map[string]map[string]struct{}, len(s.rosters)),
	}
	for k, v := range s.appointments {
		out.appointments[k] = v
	}
	for k, v := range s.current {
		out.current[k] = v
	}
	for provider, clients := range s.rosters {
		cp := make(map[string]struct{}, len(clients))
		for c := range clients {
			cp[c] = struct{}{}
		}
		out.rosters[provider] = cp
	}
	return out
}

// MemoryStore keeps appointments in process. Transactions run one at a time
// against a copy of the state that replaces it only when fn succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
	jobs  *jobs.MemoryStore
}

// NewMemoryStore creates an empty store. Jobs scheduled by committed
// transactions land in js, which may be nil.
func NewMemoryStore(js *jobs.MemoryStore) *MemoryStore {
	if js == nil {
		js = jobs.NewMemoryStore()
	}
	return &MemoryStore{
		state: &memoryState{
			appointments: make(map[uuid.UUID]Appointment),
			index:        commitments.NewMemoryIndex(),
			current:      make(map[string]string),
			rosters:      make(map[string]map[string]struct{}),
		},
		jobs: js,
	}
}

// JobStore returns the job store committed transactions write to.
func (s *MemoryStore) JobStore() *jobs.MemoryStore { return s.jobs }

func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, r Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, &memoryTx{state: s.state})
}

func (s *MemoryStore) InTx(ctx context.Context, keys []string, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{state: s.state.clone(), staged: &stagedJobs{store: s.jobs}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return tx.staged.apply(ctx)
}

// ClientHistory returns the provider history of a client, oldest first.
func (s *MemoryStore) ClientHistory(clientID string) []ProviderLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ProviderLink
	for _, link := range s.state.history {
		if link.ClientID == clientID {
			out = append(out, link)
		}
	}
	return out
}

// Roster returns the sorted client ids on a provider's roster.
func (s *MemoryStore) Roster(providerID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for c := range s.state.rosters[providerID] {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type memoryTx struct {
	state  *memoryState
	staged *stagedJobs
}

func (t *memoryTx) Appointment(ctx context.Context, id uuid.UUID) (Appointment, error) {
	a, ok := t.state.appointments[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (t *memoryTx) Appointments(ctx context.Context, ids []uuid.UUID) ([]Appointment, error) {
	out := make([]Appointment, 0, len(ids))
	for _, id := range ids {
		if a, ok := t.state.appointments[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memoryTx) Commitments() commitments.Index { return t.state.index }

func (t *memoryTx) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	return t.scan(limit, func(a Appointment) bool { return a.Expired(now) }), nil
}

func (t *memoryTx) OverduePayments(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	return t.scan(limit, func(a Appointment) bool { return paymentOverdue(a, now) }), nil
}

func (t *memoryTx) scan(limit int, match func(Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range t.state.appointments {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Payment.ExpiresAt.Before(out[j].Payment.ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (t *memoryTx) InsertAppointment(ctx context.Context, a Appointment) error {
	a.Participants = append([]string(nil), a.Participants...)
	t.state.appointments[a.ID] = a
	return nil
}

func (t *memoryTx) UpdateAppointment(ctx context.Context, a Appointment) error {
	if _, ok := t.state.appointments[a.ID]; !ok {
		return ErrNotFound
	}
	t.state.appointments[a.ID] = a
	return nil
}

func (t *memoryTx) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	delete(t.state.appointments, id)
	return nil
}

func (t *memoryTx) Jobs() jobs.Scheduler { return t.staged }

func (t *memoryTx) CurrentProvider(ctx context.Context, clientID string) (string, bool, error) {
	p, ok := t.state.current[clientID]
	return p, ok, nil
}

func (t *memoryTx) SwitchProvider(ctx context.Context, clientID, from, to string, at time.Time) error {
	for i := range t.state.history {
		link := &t.state.history[i]
		if link.ClientID == clientID && link.EndedAt == nil {
			ended := at
			link.EndedAt = &ended
		}
	}
	t.state.history = append(t.state.history, ProviderLink{ClientID: clientID, ProviderID: to, StartedAt: at})
	t.state.current[clientID] = to
	if from != "" {
		delete(t.state.rosters[from], clientID)
	}
	if t.state.rosters[to] == nil {
		t.state.rosters[to] = make(map[string]struct{})
	}
	t.state.rosters[to][clientID] = struct{}{}
	return nil
}

type cancelOp struct {
	appointmentID uuid.UUID
	kinds         []string
}

// stagedJobs buffers job changes until the transaction commits.
type stagedJobs struct {
	store     *jobs.MemoryStore
	scheduled []jobs.Job
	cancels   []cancelOp
}

func (s *stagedJobs) Schedule(ctx context.Context, job jobs.Job) error {
	if job.AppointmentID == uuid.Nil || job.Kind == "" {
		return jobs.ErrInvalidJob
	}
	s.scheduled = append(s.scheduled, job)
	return nil
}

func (s *stagedJobs) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID, kinds ...string) (int, error) {
	n := 0
	kept := s.scheduled[:0]
	for _, job := range s.scheduled {
		if job.AppointmentID == appointmentID && kindMatches(kinds, job.Kind) {
			n++
			continue
		}
		kept = append(kept, job)
	}
	s.scheduled = kept
	for _, job := range s.store.Pending(appointmentID) {
		if kindMatches(kinds, job.Kind) {
			n++
		}
	}
	s.cancels = append(s.cancels, cancelOp{appointmentID: appointmentID, kinds: kinds})
	return n, nil
}

func (s *stagedJobs) apply(ctx context.Context) error {
	for _, op := range s.cancels {
		if _, err := s.store.CancelForAppointment(ctx, op.appointmentID, op.kinds...); err != nil {
			return err
		}
	}
	for _, job := range s.scheduled {
		if err := s.store.Schedule(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func kindMatches(kinds []string, kind string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
