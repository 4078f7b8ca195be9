package fwmem

import (
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"golang.org/x/exp/slices"

	"github.com/Ratio-et-Ars/firewatch/interfaces"
)

// evaluateLocked runs a query against the current document set: filter, sort, truncate.
// The caller must hold the store lock.
func (s *Store) evaluateLocked(query interfaces.Query) interfaces.QuerySnapshot {
	var docs []interfaces.DocumentSnapshot
	prefix := query.Collection + "/"
	for path, fields := range s.docs {
		if !strings.HasPrefix(path, prefix) || strings.ContainsRune(path[len(prefix):], '/') {
			continue
		}
		if !matchesFilters(fields, query.Filters) {
			continue
		}
		docs = append(docs, interfaces.DocumentSnapshot{
			ID:     documentID(path),
			Exists: true,
			Fields: fields,
		})
	}

	slices.SortFunc(docs, func(a, b interfaces.DocumentSnapshot) bool {
		return compareDocs(a, b, query.Ordering) < 0
	})

	if query.Limit > 0 && len(docs) > query.Limit {
		docs = docs[:query.Limit]
	}
	return interfaces.QuerySnapshot{Docs: docs}
}

func matchesFilters(fields ldvalue.Value, filters []interfaces.Filter) bool {
	for _, filter := range filters {
		fieldValue := fields.GetByKey(filter.Field)
		if filter.Op == interfaces.FilterEquals {
			if !fieldValue.Equal(filter.Value) {
				return false
			}
			continue
		}
		cmp, ok := compareValues(fieldValue, filter.Value)
		if !ok {
			return false
		}
		switch filter.Op {
		case interfaces.FilterLess:
			if cmp >= 0 {
				return false
			}
		case interfaces.FilterLessOrEqual:
			if cmp > 0 {
				return false
			}
		case interfaces.FilterGreater:
			if cmp <= 0 {
				return false
			}
		case interfaces.FilterGreaterOrEqual:
			if cmp < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compareDocs orders two documents by the query's sort criteria, falling back to
// document id order for ties and for queries with no ordering.
func compareDocs(a, b interfaces.DocumentSnapshot, ordering []interfaces.Ordering) int {
	for _, criterion := range ordering {
		cmp, ok := compareValues(a.Fields.GetByKey(criterion.Field), b.Fields.GetByKey(criterion.Field))
		if !ok || cmp == 0 {
			continue
		}
		if criterion.Descending {
			return -cmp
		}
		return cmp
	}
	return strings.Compare(a.ID, b.ID)
}

// compareValues orders two field values of the same primitive type. Values of
// different or non-primitive types are not comparable.
func compareValues(a, b ldvalue.Value) (int, bool) {
	if a.Type() != b.Type() {
		return 0, false
	}
	switch a.Type() {
	case ldvalue.NumberType:
		switch {
		case a.Float64Value() < b.Float64Value():
			return -1, true
		case a.Float64Value() > b.Float64Value():
			return 1, true
		}
		return 0, true
	case ldvalue.StringType:
		return strings.Compare(a.StringValue(), b.StringValue()), true
	case ldvalue.BoolType:
		switch {
		case !a.BoolValue() && b.BoolValue():
			return -1, true
		case a.BoolValue() && !b.BoolValue():
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
