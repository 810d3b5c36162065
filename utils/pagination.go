package utils

const pageSizeDefault = 20
const pageSizeMax = 100

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Offset int   `json:"offset"`
	Limit  int   `json:"limit"`
}

// GetPaginationParams resolves the offset and limit of a listing request.
// Nil or negative values fall back to the defaults and the limit is capped.
func GetPaginationParams(offset *int, limit *int) (int, int) {
	finalOffset := 0
	finalLimit := pageSizeDefault

	if offset != nil && *offset >= 0 {
		finalOffset = *offset
	}

	if limit != nil && *limit > 0 {
		finalLimit = min(*limit, pageSizeMax)
	}

	return finalOffset, finalLimit
}

// NewPage wraps a result slice with its paging window. A nil slice is
// replaced by an empty one so it serializes as [].
func NewPage[T any](items []T, total int64, offset, limit int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Offset: offset, Limit: limit}
}
