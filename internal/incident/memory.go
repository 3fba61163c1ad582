package incident

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps incidents in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []Incident
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (m *MemoryStore) Insert(_ context.Context, inc Incident) error {
	m.mu.Lock()
	m.rows = append(m.rows, inc)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context, q Query) ([]Incident, error) {
	m.mu.RLock()
	out := make([]Incident, 0, len(m.rows))
	for _, r := range m.rows {
		if q.AppID == "" || r.AppID == q.AppID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Seq > out[j].Seq
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Annotate(_ context.Context, id, note string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].Annotation = note
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) MaxSequence(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hi int64
	for _, r := range m.rows {
		if r.Seq > hi {
			hi = r.Seq
		}
	}
	return hi, nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.rows = nil
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
