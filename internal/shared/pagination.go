package shared

import "math"

// Default and upper bound for list page sizes.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
	Pages  int `json:"pages"`
}

// ClampPage normalises limit/offset supplied by clients.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// NewPagination computes pagination metadata.
func NewPagination(limit, offset, total int) Pagination {
	limit, offset = ClampPage(limit, offset)
	pages := int(math.Ceil(float64(total) / float64(limit)))
	return Pagination{Limit: limit, Offset: offset, Total: total, Pages: pages}
}
