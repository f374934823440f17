package pagination

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBounds(t *testing.T) {
	cases := []struct {
		name       string
		p          Pagination
		total      int
		start, end int
	}{
		{"first page", Pagination{Page: 0, PageSize: 1}, 2, 0, 1},
		{"second page", Pagination{Page: 1, PageSize: 1}, 2, 1, 2},
		{"partial last page", Pagination{Page: 1, PageSize: 3}, 5, 3, 5},
		{"past the end", Pagination{Page: 10, PageSize: 5}, 2, 2, 2},
		{"invalid returns everything", Pagination{Page: -1, PageSize: 5}, 4, 0, 4},
		{"empty", Pagination{Page: 0, PageSize: 5}, 0, 0, 0},
		{"huge page does not wrap", Pagination{Page: 1 << 62, PageSize: 4}, 3, 3, 3},
		{"max page", Pagination{Page: math.MaxInt, PageSize: 1000}, 3, 3, 3},
		{"huge page size", Pagination{Page: 0, PageSize: math.MaxInt}, 3, 0, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := tc.p.Bounds(tc.total)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
		})
	}
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(0, 10))
	assert.Equal(t, 1, PageCount(10, 10))
	assert.Equal(t, 2, PageCount(11, 10))
	assert.Equal(t, 2, PageCount(2, 1))
	assert.Equal(t, 0, PageCount(5, 0))
}
