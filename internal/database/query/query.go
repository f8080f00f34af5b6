// Package query holds the paging window shared by the list queries of every store.
package query

import (
	sq "github.com/Masterminds/squirrel"
)

// Filter is the window of a list query. A zero Limit returns every match.
type Filter struct {
	Offset uint64 `json:"offset,omitempty" schema:"offset" binding:"gte=0"`
	Limit  uint64 `json:"limit,omitempty" schema:"limit" binding:"gte=0,lte=10000"`
}

// CappedLimit is the limit a store should apply. Explicit limits are capped at maxLimit and zero
// stays zero.
func (qf Filter) CappedLimit(maxLimit uint64) uint64 {
	return min(qf.Limit, maxLimit)
}

func (qf Filter) ApplyLimitOffset(builder sq.SelectBuilder, maxLimit uint64) sq.SelectBuilder {
	if limit := qf.CappedLimit(maxLimit); limit > 0 {
		builder = builder.Limit(limit)
	}

	if qf.Offset > 0 {
		builder = builder.Offset(qf.Offset)
	}

	return builder
}
