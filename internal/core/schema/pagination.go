package schema

import (
	"fmt"
	"math"
	"strconv"
)

// PagePagination reads page[number] and page[size] style parameters.
type PagePagination struct {
	NumberKey   string
	SizeKey     string
	DefaultSize int // 0 means a request without page parameters is not paginated
	MaxSize     int
}

// Page is a resolved page request. The zero value means "not paginated".
type Page struct {
	Number int
	Size   int
}

// NewPagePagination returns page-based pagination with the JSON:API
// conventional keys.
func NewPagePagination() PagePagination {
	return PagePagination{NumberKey: "number", SizeKey: "size", MaxSize: 250}
}

// WithDefaultSize returns a copy that paginates every request.
func (p PagePagination) WithDefaultSize(size int) PagePagination { p.DefaultSize = size; return p }

// WithMaxSize returns a copy capping the page size.
func (p PagePagination) WithMaxSize(size int) PagePagination { p.MaxSize = size; return p }

// Keys returns the accepted page[...] keys.
func (p PagePagination) Keys() []string {
	return []string{p.NumberKey, p.SizeKey}
}

// Resolve turns raw page parameters into a Page. ok is false when the
// request is not to be paginated.
func (p PagePagination) Resolve(params map[string]string) (page Page, ok bool, err error) {
	if len(params) == 0 && p.DefaultSize <= 0 {
		return Page{}, false, nil
	}

	page = Page{Number: 1, Size: p.DefaultSize}

	if raw, found := params[p.NumberKey]; found {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Page{}, false, fmt.Errorf("page[%s] must be a positive integer", p.NumberKey)
		}
		page.Number = n
	}

	if raw, found := params[p.SizeKey]; found {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Page{}, false, fmt.Errorf("page[%s] must be a positive integer", p.SizeKey)
		}
		page.Size = n
	}

	if page.Size <= 0 {
		page.Size = 15
	}
	if p.MaxSize > 0 && page.Size > p.MaxSize {
		return Page{}, false, fmt.Errorf("page[%s] must not exceed %d", p.SizeKey, p.MaxSize)
	}
	// The offset of the last row on the page must fit in an int.
	if page.Number > (math.MaxInt-1)/page.Size+1 {
		return Page{}, false, fmt.Errorf("page[%s] is out of range", p.NumberKey)
	}

	return page, true, nil
}

// Offset returns the row offset of the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}
