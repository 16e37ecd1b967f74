// Package paging holds the page, sort and pagination value types shared by
// list operations.
package paging

import (
	"math"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is a 1-based page request
type Page struct {
	Page  int
	Limit int
}

// Normalize fills defaults and clamps the limit
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Offset returns the number of rows to skip
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

// Sort orders a list by a single field
type Sort struct {
	Field string
	Desc  bool
}

// Direction returns the SQL keyword for the sort order
func (s Sort) Direction() string {
	if s.Desc {
		return "DESC"
	}
	return "ASC"
}

// ParseSort reads "field" or "field:asc|desc", falling back to def
func ParseSort(raw string, def Sort) Sort {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	field, dir, _ := strings.Cut(raw, ":")
	s := Sort{Field: strings.TrimSpace(field), Desc: def.Desc}
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "asc":
		s.Desc = false
	case "desc":
		s.Desc = true
	}
	return s
}

// Pagination describes the page that was returned
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination builds pagination metadata for total matching rows
func NewPagination(p Page, total int) Pagination {
	p = p.Normalize()
	return Pagination{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(p.Limit))),
	}
}

// Result is one page of items plus its pagination
type Result[T any] struct {
	Items      []T
	Pagination Pagination
}
