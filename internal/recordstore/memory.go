package recordstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process table store.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Record
	err    error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Record)}
}

// Insert appends rows to a table.
func (m *MemoryStore) Insert(table string, recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = append(m.tables[table], recs...)
}

// FailWith makes every subsequent Query return err. Pass nil to clear.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MemoryStore) Query(ctx context.Context, table string, q Query) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, f := range q.Filters {
		if err := validateFilter(f); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	if m.err != nil {
		err := m.err
		m.mu.RUnlock()
		return nil, err
	}
	var matched []Record
	for _, rec := range m.tables[table] {
		if matchesAll(rec, q.Filters) {
			matched = append(matched, rec)
		}
	}
	m.mu.RUnlock()

	if q.OrderBy != "" {
		field, desc := strings.TrimPrefix(q.OrderBy, "-"), strings.HasPrefix(q.OrderBy, "-")
		sort.SliceStable(matched, func(i, j int) bool {
			c := compareValues(matched[i][field], matched[j][field])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return &Page{List: matched[start:end], Total: len(matched)}, nil
}

func matchesAll(rec Record, filters []Filter) bool {
	for _, f := range filters {
		v := rec[f.Name]
		switch f.Op {
		case OpEq:
			if compareValues(v, f.Value) != 0 {
				return false
			}
		case OpGte:
			if compareValues(v, f.Value) < 0 {
				return false
			}
		case OpLte:
			if compareValues(v, f.Value) > 0 {
				return false
			}
		case OpLt:
			if compareValues(v, f.Value) >= 0 {
				return false
			}
		case OpIn:
			if !containsValue(f.Value, v) {
				return false
			}
		}
	}
	return true
}

func containsValue(set any, v any) bool {
	switch s := set.(type) {
	case []string:
		for _, x := range s {
			if compareValues(x, v) == 0 {
				return true
			}
		}
	case []any:
		for _, x := range s {
			if compareValues(x, v) == 0 {
				return true
			}
		}
	}
	return false
}

// compareValues orders numbers numerically and everything else as text.
// Times compare by their date string so they line up with date filters.
func compareValues(a, b any) int {
	fa, errA := toFloat(a)
	fb, errB := toFloat(b)
	_, aStr := a.(string)
	_, bStr := b.(string)
	if errA == nil && errB == nil && !aStr && !bStr {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(textValue(a), textValue(b))
}

func textValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}
