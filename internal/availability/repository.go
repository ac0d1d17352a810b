package availability

import (
	"context"
	"sync"

	"cloud.google.com/go/civil"
)

// Repository reads provider availability and appointment types.
type Repository interface {
	// GetAvailability returns the provider's rules with date-specific entries
	// limited to [from, to].
	GetAvailability(ctx context.Context, providerID string, from, to civil.Date) (*Availability, error)
	GetAppointmentType(ctx context.Context, typeID string) (*AppointmentType, error)
}

// MemoryRepository keeps availability in process. It backs tests and local
// development.
type MemoryRepository struct {
	mu        sync.RWMutex
	providers map[string]Availability
	types     map[string]AppointmentType
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		providers: make(map[string]Availability),
		types:     make(map[string]AppointmentType),
	}
}

// PutAvailability replaces everything stored for av.ProviderID.
func (r *MemoryRepository) PutAvailability(av Availability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[av.ProviderID] = av
}

// PutAppointmentType stores or replaces an appointment type.
func (r *MemoryRepository) PutAppointmentType(t AppointmentType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.ID] = t
}

func (r *MemoryRepository) GetAvailability(ctx context.Context, providerID string, from, to civil.Date) (*Availability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	av, ok := r.providers[providerID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	out := Availability{
		ProviderID: av.ProviderID,
		Recurring:  append([]RecurringRule(nil), av.Recurring...),
		Settings:   av.Settings,
	}
	for _, rule := range av.NonRecurring {
		if inWindow(rule.Date, from, to) {
			out.NonRecurring = append(out.NonRecurring, rule)
		}
	}
	for _, blocked := range av.Blocked {
		if inWindow(blocked.Date, from, to) {
			out.Blocked = append(out.Blocked, blocked)
		}
	}
	return &out, nil
}

func (r *MemoryRepository) GetAppointmentType(ctx context.Context, typeID string) (*AppointmentType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[typeID]
	if !ok {
		return nil, ErrTypeNotFound
	}
	return &t, nil
}

func inWindow(d, from, to civil.Date) bool {
	return !d.Before(from) && !d.After(to)
}
