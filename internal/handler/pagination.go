package handler

import (
	"net/http"
	"strconv"
)

const (
	// DefaultLimit is one page of ledger history.
	DefaultLimit = 50
	// MaxLimit bounds how many entries a single history query may scan.
	MaxLimit = 200
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit/offset query parameters. An oversized limit is
// clamped rather than rejected so history clients can page with one code path.
func ParsePagination(r *http.Request) PaginationParams {
	params := PaginationParams{Limit: DefaultLimit}

	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		params.Limit = min(limit, MaxLimit)
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && offset > 0 {
		params.Offset = offset
	}

	return params
}
