package persistence

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps encoded documents in process memory. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, name, id string, dst Entity) error {
	m.mu.RLock()
	data, ok := m.docs[name][id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s %s: %w", name, id, ErrNotFound)
	}
	return decode(data, dst)
}

func (m *MemoryStore) Save(_ context.Context, e Entity) error {
	doc, err := encode(e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.put(doc)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, name, id string) error {
	m.mu.Lock()
	delete(m.docs[name], id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetByFields(_ context.Context, name string, filters []Filter, page Page) ([]Document, error) {
	if err := validateQuery(filters, page); err != nil {
		return nil, err
	}

	m.mu.RLock()
	rows := make([]row, 0, len(m.docs[name]))
	for id, data := range m.docs[name] {
		f, err := decodeFields(data)
		if err != nil {
			m.mu.RUnlock()
			return nil, fmt.Errorf("decode %s %s: %w", name, id, err)
		}
		if !f.matches(filters) {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		rows = append(rows, row{doc: Document{Name: name, ID: id, Data: cp}, fields: f})
	}
	m.mu.RUnlock()

	sortRows(rows, page.OrderBy)
	return paginate(rows, page), nil
}

func (m *MemoryStore) Apply(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range b.Saves {
		m.put(d)
	}
	for _, r := range b.Removes {
		delete(m.docs[r.Name], r.ID)
	}
	return nil
}

// Count returns the number of documents in a collection.
func (m *MemoryStore) Count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[name])
}

func (m *MemoryStore) put(d Document) {
	coll, ok := m.docs[d.Name]
	if !ok {
		coll = make(map[string][]byte)
		m.docs[d.Name] = coll
	}
	data := make([]byte, len(d.Data))
	copy(data, d.Data)
	coll[d.ID] = data
}
