package pagination

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Params holds the page window requested by a client.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit/_count and offset/_offset. Missing or malformed
// values fall back to the defaults; limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	limit := firstInt(c, "limit", "_count")
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := firstInt(c, "offset", "_offset")
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

func firstInt(c echo.Context, names ...string) int {
	for _, name := range names {
		if raw := c.QueryParam(name); raw != "" {
			n, _ := strconv.Atoi(raw)
			return n
		}
	}
	return 0
}

// Bounds returns the [start, end) slice indexes of this page within total items.
func (p Params) Bounds(total int) (int, int) {
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}
	return start, end
}

// HasNext reports whether items remain after this page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// PreviousOffset is clamped at zero.
func (p Params) PreviousOffset() int {
	if prev := p.Offset - p.Limit; prev > 0 {
		return prev
	}
	return 0
}

// Links builds self/next/previous URLs for basePath.
func (p Params) Links(basePath string, total int) map[string]string {
	links := map[string]string{"self": pageURL(basePath, p.Offset, p.Limit)}
	if p.HasNext(total) {
		links["next"] = pageURL(basePath, p.Offset+p.Limit, p.Limit)
	}
	if p.Offset > 0 {
		links["previous"] = pageURL(basePath, p.PreviousOffset(), p.Limit)
	}
	return links
}

func pageURL(basePath string, offset, limit int) string {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return fmt.Sprintf("%s?%s", basePath, q.Encode())
}

// Page is the paged envelope returned to clients.
type Page[T any] struct {
	Items   []T               `json:"items"`
	Total   int               `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"has_more"`
	Links   map[string]string `json:"links,omitempty"`
}

// Slice cuts the requested page out of items.
func Slice[T any](items []T, p Params, basePath string) Page[T] {
	start, end := p.Bounds(len(items))
	page := items[start:end]
	if page == nil {
		page = []T{}
	}
	return Page[T]{
		Items:   page,
		Total:   len(items),
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(len(items)),
		Links:   p.Links(basePath, len(items)),
	}
}
