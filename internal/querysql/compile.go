// Package querysql builds parameterized SELECT statements for the SQLite
// and PostgreSQL stores.
//
// Values are never interpolated into SQL text; identifiers are checked
// against a strict pattern. Every query carries an ORDER BY so listings
// are deterministic.
package querysql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/txgate/internal/confirm"
)

// Dialect selects the placeholder style.
type Dialect int

const (
	// SQLite uses "?" placeholders.
	SQLite Dialect = iota
	// Postgres uses "$1", "$2", ... placeholders.
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// validIdentifier matches table and column names. Only alphanumerics and
// underscore, starting with a letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Op is a comparison operator.
type Op string

const (
	Eq  Op = "="
	Gte Op = ">="
	Lt  Op = "<"
)

// Predicate compares a column with a bound value.
type Predicate struct {
	Column string
	Op     Op
	Value  any
}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Select is a single-table query. Predicates are joined with AND.
type Select struct {
	Columns string // comma-separated column list
	From    string
	Where   []Predicate
	OrderBy []Order
	Limit   int // 0 means no limit
}

// ErrNoOrder is returned for a Select without ORDER BY.
var ErrNoOrder = errors.New("query must have an ORDER BY")

// Compile renders q for dialect d. It returns the SQL text and the
// arguments in placeholder order.
func (d Dialect) Compile(q Select) (string, []any, error) {
	cols, err := columnList(q.Columns)
	if err != nil {
		return "", nil, err
	}
	if !validIdentifier.MatchString(q.From) {
		return "", nil, fmt.Errorf("invalid table name %q", q.From)
	}
	if len(q.OrderBy) == 0 {
		return "", nil, ErrNoOrder
	}

	var (
		b    strings.Builder
		args []any
	)
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, q.From)

	for i, p := range q.Where {
		if !validIdentifier.MatchString(p.Column) {
			return "", nil, fmt.Errorf("invalid column name %q", p.Column)
		}
		switch p.Op {
		case Eq, Gte, Lt:
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", p.Op)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, p.Value)
		fmt.Fprintf(&b, "%s %s %s", p.Column, p.Op, d.placeholder(len(args)))
	}

	b.WriteString(" ORDER BY ")
	for i, o := range q.OrderBy {
		if !validIdentifier.MatchString(o.Column) {
			return "", nil, fmt.Errorf("invalid order column %q", o.Column)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(o.Column)
		if o.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT %s", d.placeholder(len(args)))
	}
	return b.String(), args, nil
}

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// columnList validates and normalizes a comma-separated column list.
func columnList(cols string) (string, error) {
	if strings.TrimSpace(cols) == "*" {
		return "*", nil
	}
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if !validIdentifier.MatchString(p) {
			return "", fmt.Errorf("invalid column name %q", p)
		}
		parts[i] = p
	}
	return strings.Join(parts, ", "), nil
}

// ListRecords builds the listing query for live records matching f,
// newest first with id as the tiebreaker.
func ListRecords(d Dialect, columns string, f confirm.ListFilter, nowMs int64) (string, []any, error) {
	q := Select{
		Columns: columns,
		From:    "pending_confirmations",
		Where:   []Predicate{{Column: "expires_at_ms", Op: Gte, Value: nowMs}},
		OrderBy: []Order{{Column: "created_at_ms", Desc: true}, {Column: "id", Desc: true}},
		Limit:   f.NormalizedLimit(),
	}
	if f.Status != "" {
		q.Where = append(q.Where, Predicate{Column: "status", Op: Eq, Value: string(f.Status)})
	}
	if f.ChainKey != "" {
		q.Where = append(q.Where, Predicate{Column: "chain_key", Op: Eq, Value: f.ChainKey})
	}
	return d.Compile(q)
}
