package records

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// MemoryStore is an in-memory Store arena, keyed by table name. It backs
// tests and the local demo mode. Each instance is independent; nothing is
// shared process-wide.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]any
}

// NewMemory creates an empty in-memory record store.
func NewMemory() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]map[string]any)}
}

func (m *MemoryStore) Insert(ctx context.Context, table string, doc map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	if v, ok := doc["id"].(string); ok && v != "" {
		id = v
	}

	if m.tables[table] == nil {
		m.tables[table] = make(map[string]map[string]any)
	}
	stored := cloneDoc(doc)
	stored["id"] = id
	m.tables[table][id] = stored
	return id, nil
}

func (m *MemoryStore) Update(ctx context.Context, table string, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.tables[table][id]
	if !ok {
		return eris.Errorf("records: %s/%s not found", table, id)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, table string, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.tables[table][id]
	if !ok {
		return nil, eris.Errorf("records: %s/%s not found", table, id)
	}
	return cloneDoc(doc), nil
}

func (m *MemoryStore) Find(ctx context.Context, table string, filter Filter, limit int) ([]map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []map[string]any
	for _, doc := range m.tables[table] {
		if matches(doc, filter) {
			out = append(out, cloneDoc(doc))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// matches requires every filter key to be present and exactly equal. A status
// filter of "active" must never admit "inactive".
func matches(doc map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cloneDoc(doc map[string]any) map[string]any {
	// JSON round-trip keeps stored documents detached from caller maps.
	b, err := json.Marshal(doc)
	if err != nil {
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}
