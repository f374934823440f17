package pagination

// MaxPageSize caps a single page of records.
const MaxPageSize = 1000

// Pagination is offset pagination with zero-based pages.
type Pagination struct {
	Page     int `form:"page"`
	PageSize int `form:"pageSize"`
}

func (p Pagination) Valid() bool {
	return p.Page >= 0 && p.PageSize > 0
}

func (p Pagination) Offset() int {
	return p.Page * p.PageSize
}

// Bounds returns the slice window of this page over total items. A page past
// the end yields an empty window rather than an error.
func (p Pagination) Bounds(total int) (start, end int) {
	if !p.Valid() {
		return 0, total
	}
	// Compare pages before multiplying so huge page numbers cannot wrap.
	if total <= 0 || p.Page > (total-1)/p.PageSize {
		return total, total
	}
	start = p.Offset()
	if p.PageSize >= total-start {
		return start, total
	}
	return start, start + p.PageSize
}

// PageCount is ceil(total / pageSize).
func PageCount(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
