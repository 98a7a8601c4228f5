// Package recordstore reads raw business records (daily station reports)
// from a paginated table query API.
//
// Three backends share the Store interface: a remote table API over HTTP,
// a Postgres table read through pgx, and an in-memory table used for demos
// and tests. Records come back JSON-shaped; DecodeDailyReport turns them
// into typed reports.
package recordstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrParse is returned when a record lacks a usable date or numeric field.
var ErrParse = errors.New("record parse error")

// Filter operators understood by every backend.
const (
	OpEq  = "eq"
	OpGte = "gte"
	OpLte = "lte"
	OpLt  = "lt"
	OpIn  = "in"
)

// Filter restricts a query to rows where Name <Op> Value.
type Filter struct {
	Name  string `json:"name"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Query is a single page request. OrderBy names a field; a leading "-"
// sorts descending.
type Query struct {
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	OrderBy  string   `json:"order_by,omitempty"`
	Filters  []Filter `json:"filters,omitempty"`
}

// Record is one JSON-shaped row.
type Record map[string]any

// Page is one page of results. Total is the row count across all pages.
type Page struct {
	List  []Record `json:"list"`
	Total int      `json:"total"`
}

// Store is the paginated table query API.
type Store interface {
	Query(ctx context.Context, table string, q Query) (*Page, error)
}

func validateFilter(f Filter) error {
	switch f.Op {
	case OpEq, OpGte, OpLte, OpLt, OpIn:
		return nil
	default:
		return fmt.Errorf("unsupported filter operator %q on %q", f.Op, f.Name)
	}
}
