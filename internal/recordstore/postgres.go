package recordstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsboard/opsboard-analytics/internal/metrics"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore reads tables directly from Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Query(ctx context.Context, table string, q Query) (*Page, error) {
	where, args, err := buildWhere(q.Filters)
	if err != nil {
		return nil, err
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	order, err := buildOrder(q.OrderBy)
	if err != nil {
		return nil, err
	}

	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}

	start := time.Now()
	defer func() {
		metrics.RecordQueryDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	}()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count %s: %w", table, err)
	}

	sql := fmt.Sprintf(`SELECT * FROM %s%s%s LIMIT %d OFFSET %d`, table, where, order, size, (page-1)*size)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}

	list := make([]Record, 0, len(maps))
	for _, m := range maps {
		rec := make(Record, len(m))
		for k, v := range m {
			rec[k] = normalizeValue(v)
		}
		list = append(list, rec)
	}
	return &Page{List: list, Total: total}, nil
}

// buildWhere renders filters as a parameterised WHERE clause.
func buildWhere(filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		if err := validateFilter(f); err != nil {
			return "", nil, err
		}
		if !identRe.MatchString(f.Name) {
			return "", nil, fmt.Errorf("invalid column name %q", f.Name)
		}
		args = append(args, f.Value)
		n := len(args)
		switch f.Op {
		case OpEq:
			clauses = append(clauses, fmt.Sprintf("%s = $%d", f.Name, n))
		case OpGte:
			clauses = append(clauses, fmt.Sprintf("%s >= $%d", f.Name, n))
		case OpLte:
			clauses = append(clauses, fmt.Sprintf("%s <= $%d", f.Name, n))
		case OpLt:
			clauses = append(clauses, fmt.Sprintf("%s < $%d", f.Name, n))
		case OpIn:
			clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", f.Name, n))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// buildOrder always ends with the unique id column so LIMIT/OFFSET pages
// never overlap or skip rows that tie on the sort field.
func buildOrder(orderBy string) (string, error) {
	field, dir := orderBy, "ASC"
	if strings.HasPrefix(orderBy, "-") {
		field, dir = orderBy[1:], "DESC"
	}
	if field == "" || field == FieldID {
		return " ORDER BY " + FieldID + " " + dir, nil
	}
	if !identRe.MatchString(field) {
		return "", fmt.Errorf("invalid order column %q", field)
	}
	return " ORDER BY " + field + " " + dir + ", " + FieldID + " " + dir, nil
}

// normalizeValue maps pgx column values onto the JSON-shaped types the
// decoder understands.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case []byte:
		return string(x)
	case map[string]any, []any:
		// json/jsonb columns arrive decoded; the breakdown decoder re-encodes them.
		return x
	default:
		return v
	}
}
