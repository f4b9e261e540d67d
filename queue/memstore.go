package queue

import (
	"sync"
	"time"
)

// MemStore is an in-memory Store, mainly useful for tests.
type MemStore struct {
	mutex   *sync.Mutex
	entries map[int64]Entry
	nextID  int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		mutex:   &sync.Mutex{},
		entries: make(map[int64]Entry),
		nextID:  1,
	}
}

func (m *MemStore) Append(e Entry) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e.ID = m.nextID
	m.nextID++
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	m.entries[e.ID] = e
	return e.ID, nil
}

func (m *MemStore) All() ([]Entry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries := make([]Entry, 0, len(m.entries))
	// ids are assigned sequentially, so iterate in id order
	for id := int64(1); id < m.nextID; id++ {
		if e, ok := m.entries[id]; ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *MemStore) Delete(id int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemStore) MarkProcessed(id int64, at time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e, ok := m.entries[id]; ok {
		e.Processed = true
		e.ProcessedAt = at
		m.entries[id] = e
	}
	return nil
}

func (m *MemStore) Close() error {
	return nil
}
