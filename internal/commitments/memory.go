package commitments

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

type bucketKey struct {
	user string
	day  civil.Date
}

type entry struct {
	id   uuid.UUID
	list List
}

// MemoryIndex is an in-process Index. It is not safe for concurrent use;
// callers serialize access and use Clone to stage transactional changes.
type MemoryIndex struct {
	buckets map[bucketKey][]entry
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{buckets: make(map[bucketKey][]entry)}
}

// Clone returns a deep copy.
func (m *MemoryIndex) Clone() *MemoryIndex {
	out := NewMemoryIndex()
	for k, v := range m.buckets {
		out.buckets[k] = append([]entry(nil), v...)
	}
	return out
}

func (m *MemoryIndex) Bucket(ctx context.Context, userID string, day civil.Date) (Bucket, error) {
	b := Bucket{UserID: userID, Day: day}
	for _, e := range m.buckets[bucketKey{user: userID, day: day}] {
		b.append(e.list, e.id)
	}
	return b, nil
}

func (m *MemoryIndex) Buckets(ctx context.Context, userID string, from, to civil.Date) ([]Bucket, error) {
	var out []Bucket
	for d := from; !d.After(to); d = d.AddDays(1) {
		entries := m.buckets[bucketKey{user: userID, day: d}]
		if len(entries) == 0 {
			continue
		}
		b, _ := m.Bucket(ctx, userID, d)
		out = append(out, b)
	}
	return out, nil
}

func (m *MemoryIndex) Add(ctx context.Context, userID string, day civil.Date, list List, id uuid.UUID) error {
	key := bucketKey{user: userID, day: day}
	for _, e := range m.buckets[key] {
		if e.id != id {
			continue
		}
		if e.list != list {
			return fmt.Errorf("%w: %s in %s", ErrListMismatch, id, e.list)
		}
		return nil
	}
	m.buckets[key] = append(m.buckets[key], entry{id: id, list: list})
	return nil
}

func (m *MemoryIndex) Move(ctx context.Context, userID string, day civil.Date, to List, id uuid.UUID) error {
	key := bucketKey{user: userID, day: day}
	entries := m.buckets[key]
	for i := range entries {
		if entries[i].id == id {
			entries[i].list = to
			return nil
		}
	}
	m.buckets[key] = append(entries, entry{id: id, list: to})
	return nil
}

func (m *MemoryIndex) Remove(ctx context.Context, userID string, day civil.Date, list List, id uuid.UUID) error {
	key := bucketKey{user: userID, day: day}
	entries := m.buckets[key]
	for i, e := range entries {
		if e.id == id && e.list == list {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(m.buckets, key)
		return nil
	}
	m.buckets[key] = entries
	return nil
}
