package paging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Page: 1, Limit: 20}, Page{}.Normalize())
	assert.Equal(t, Page{Page: 3, Limit: 100}, Page{Page: 3, Limit: 500}.Normalize())
	assert.Equal(t, 40, Page{Page: 3, Limit: 20}.Offset())
}

func TestParseSort(t *testing.T) {
	def := Sort{Field: "created_at", Desc: true}
	assert.Equal(t, def, ParseSort("", def))
	assert.Equal(t, Sort{Field: "name", Desc: false}, ParseSort("name:asc", def))
	assert.Equal(t, Sort{Field: "name", Desc: true}, ParseSort("name", def))
	assert.Equal(t, "DESC", def.Direction())
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(Page{Page: 2, Limit: 10}, 25)
	assert.Equal(t, Pagination{Page: 2, Limit: 10, Total: 25, TotalPages: 3}, p)
	assert.Equal(t, 0, NewPagination(Page{}, 0).TotalPages)
}
