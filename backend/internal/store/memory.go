package store

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is a mutex-guarded in-memory Store. It backs the test suites and
// small embedded deployments; its semantics are the reference for every
// other implementation, duplicate-key signaling included.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	unique []string
	docs   map[string]map[string]any
	revs   map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) EnsureCollection(_ context.Context, name string, unique ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.collection(name)
	col.unique = append([]string(nil), unique...)
	return nil
}

// collection returns the named collection, creating it on first use.
// Callers must hold the lock.
func (m *Memory) collection(name string) *memCollection {
	col, ok := m.collections[name]
	if !ok {
		col = &memCollection{
			docs: make(map[string]map[string]any),
			revs: make(map[string]string),
		}
		m.collections[name] = col
	}
	return col
}

func (m *Memory) Insert(_ context.Context, collection string, doc map[string]any) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	col := m.collection(collection)

	key, _ := doc[KeyField].(string)
	if key == "" {
		key = uuid.NewString()
	}
	if _, exists := col.docs[key]; exists {
		return "", "", ErrDuplicateKey
	}
	for _, field := range col.unique {
		want, ok := doc[field]
		if !ok || want == nil {
			continue
		}
		for _, other := range col.docs {
			if reflect.DeepEqual(other[field], want) {
				return "", "", ErrDuplicateKey
			}
		}
	}

	rev := uuid.NewString()
	stored := cloneDoc(doc)
	stored[KeyField] = key
	stored[RevField] = rev
	col.docs[key] = stored
	col.revs[key] = rev
	return key, rev, nil
}

func (m *Memory) Get(_ context.Context, collection, key string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := col.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *Memory) Exists(_ context.Context, collection, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[collection]
	if !ok {
		return false, nil
	}
	_, ok = col.docs[key]
	return ok, nil
}

func (m *Memory) Replace(_ context.Context, collection, key string, doc map[string]any, rev string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[collection]
	if !ok {
		return "", ErrNotFound
	}
	if _, ok := col.docs[key]; !ok {
		return "", ErrNotFound
	}
	if rev != "" && col.revs[key] != rev {
		return "", ErrRevisionMismatch
	}
	for _, field := range col.unique {
		want, ok := doc[field]
		if !ok || want == nil {
			continue
		}
		for otherKey, other := range col.docs {
			if otherKey != key && reflect.DeepEqual(other[field], want) {
				return "", ErrDuplicateKey
			}
		}
	}

	newRev := uuid.NewString()
	stored := cloneDoc(doc)
	stored[KeyField] = key
	stored[RevField] = newRev
	col.docs[key] = stored
	col.revs[key] = newRev
	return newRev, nil
}

func (m *Memory) Remove(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[collection]
	if !ok {
		return ErrNotFound
	}
	if _, ok := col.docs[key]; !ok {
		return ErrNotFound
	}
	delete(col.docs, key)
	delete(col.revs, key)
	return nil
}

func (m *Memory) Find(_ context.Context, collection string, filter map[string]any) ([]map[string]any, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[collection]
	if !ok {
		return nil, 0, nil
	}

	keys := make([]string, 0, len(col.docs))
	for key := range col.docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var matches []map[string]any
	for _, key := range keys {
		doc := col.docs[key]
		if matchesFilter(doc, filter) {
			matches = append(matches, cloneDoc(doc))
		}
	}
	return matches, len(matches), nil
}

func (m *Memory) Close(context.Context) error {
	return nil
}

func matchesFilter(doc, filter map[string]any) bool {
	for field, want := range filter {
		if !reflect.DeepEqual(doc[field], want) {
			return false
		}
	}
	return true
}

// cloneDoc deep-copies a document so callers never share mutable state with
// the store.
func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneDoc(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
