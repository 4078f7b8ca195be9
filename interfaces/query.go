package interfaces

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// FilterOp identifies a comparison operator in a query filter.
type FilterOp string

const (
	// FilterEquals matches documents whose field equals the filter value.
	FilterEquals FilterOp = "=="
	// FilterLess matches documents whose field is less than the filter value.
	FilterLess FilterOp = "<"
	// FilterLessOrEqual matches documents whose field is at most the filter value.
	FilterLessOrEqual FilterOp = "<="
	// FilterGreater matches documents whose field is greater than the filter value.
	FilterGreater FilterOp = ">"
	// FilterGreaterOrEqual matches documents whose field is at least the filter value.
	FilterGreaterOrEqual FilterOp = ">="
)

// Filter is one field comparison restricting a query's results.
type Filter struct {
	Field string
	Op    FilterOp
	Value ldvalue.Value
}

// Ordering is one sort criterion for a query's results.
type Ordering struct {
	Field      string
	Descending bool
}

// Query describes a bounded read of a collection. Documents are filtered, then sorted by
// the Ordering criteria (ties, and queries with no ordering, fall back to document id
// order), then truncated to Limit documents. A Limit of zero means unbounded.
type Query struct {
	Collection string
	Filters    []Filter
	Ordering   []Ordering
	Limit      int
}

// Where returns a copy of the query with an additional filter.
func (q Query) Where(field string, op FilterOp, value ldvalue.Value) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	filters = append(filters, Filter{Field: field, Op: op, Value: value})
	q.Filters = filters
	return q
}

// OrderBy returns a copy of the query with an additional sort criterion.
func (q Query) OrderBy(field string, descending bool) Query {
	ordering := make([]Ordering, 0, len(q.Ordering)+1)
	ordering = append(ordering, q.Ordering...)
	ordering = append(ordering, Ordering{Field: field, Descending: descending})
	q.Ordering = ordering
	return q
}

// QueryModifier transforms a base collection query, typically adding filters or
// ordering. The synchronizer applies the window limit after the modifier runs, so a
// modifier's own Limit is overwritten.
type QueryModifier func(Query) Query
