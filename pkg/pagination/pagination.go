package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts pagination parameters from the query string, or
// from the form body for POST searches.
func FromContext(c echo.Context) Params {
	if c.Request().Method == "POST" {
		if form, err := c.FormParams(); err == nil {
			return FromValues(form)
		}
	}
	return FromValues(c.QueryParams())
}

// FromValues reads _count and _offset, clamping them to sane bounds.
func FromValues(v url.Values) Params {
	limit, _ := strconv.Atoi(v.Get("_count"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(v.Get("_offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}
