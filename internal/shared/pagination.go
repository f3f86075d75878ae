package shared

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultPageSize is used when a caller does not configure one.
const DefaultPageSize = 10

// Page identifies a 1-based page of a fixed size.
type Page struct {
	Number int
	Size   int
}

// PageFromQuery coerces a raw ?page= value. Absent, non-numeric and
// non-positive values all resolve to page 1.
func PageFromQuery(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// NewPage builds a Page from the request query using the given size.
func NewPage(query url.Values, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	return Page{Number: PageFromQuery(query.Get("page")), Size: size}
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Limit returns the page size.
func (p Page) Limit() int {
	return p.Size
}

// PageResult is the JSON envelope consumed by the dashboard tables.
type PageResult[T any] struct {
	TotalSize   int     `json:"totalSize"`
	PerPage     int     `json:"per_page"`
	Page        int     `json:"page"`
	LastPage    int     `json:"last_page"`
	NextPageURL *string `json:"next_page_url"`
	PrevPageURL *string `json:"prev_page_url"`
	From        int     `json:"from"`
	To          int     `json:"to"`
	Items       []T     `json:"items"`
}

// NewPageResult derives navigation metadata for one fetched page.
func NewPageResult[T any](baseURL string, page Page, total int, items []T) PageResult[T] {
	if page.Size <= 0 {
		page.Size = DefaultPageSize
	}
	if items == nil {
		items = []T{}
	}
	last := LastPage(total, page.Size)
	res := PageResult[T]{
		TotalSize: total,
		PerPage:   page.Size,
		Page:      page.Number,
		LastPage:  last,
		From:      page.Number,
		To:        page.Number - 1 + len(items),
		Items:     items,
	}
	if next, ok := NextPage(page.Number, last); ok {
		res.NextPageURL = pageURL(baseURL, next)
	}
	if prev, ok := PreviousPage(page.Number, last); ok {
		res.PrevPageURL = pageURL(baseURL, prev)
	}
	return res
}

// LastPage returns ceil(total/size).
func LastPage(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// NextPage reports the page after current, if any.
func NextPage(current, last int) (int, bool) {
	switch {
	case current >= last:
		return 0, false
	case current < 1:
		return 1, true
	default:
		return current + 1, true
	}
}

// PreviousPage reports the page before current, if any. Requests past the end
// point back at the last page.
func PreviousPage(current, last int) (int, bool) {
	switch {
	case current <= 1:
		return 0, false
	case current > last:
		if last < 1 {
			return 1, true
		}
		return last, true
	default:
		return current - 1, true
	}
}

func pageURL(baseURL string, n int) *string {
	u := baseURL + "?page=" + strconv.Itoa(n)
	return &u
}
