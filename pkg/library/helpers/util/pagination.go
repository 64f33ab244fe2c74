package util

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/humblevault/humblevault/pkg/library/models"
)

// SetPaginationHeaders writes Link and X-* paging headers for a list response.
func SetPaginationHeaders(r *http.Request, setHeader func(key, value string), p models.Pagination) {
	setHeader("X-Total-Count", strconv.Itoa(p.TotalRecords))
	setHeader("X-Total-Pages", strconv.Itoa(p.TotalPages))
	setHeader("X-Per-Page", strconv.Itoa(p.RecordsPerPage))
	setHeader("X-Current-Page", strconv.Itoa(p.CurrentPage))

	links := make([]string, 0, 4)
	add := func(page int, rel string) {
		links = append(links, fmt.Sprintf("<%s>; rel=\"%s\"", pageURL(r, page), rel))
	}
	if p.TotalPages > 0 {
		add(1, "first")
	}
	if p.Previous != nil {
		add(*p.Previous, "prev")
	}
	if p.Next != nil {
		add(*p.Next, "next")
	}
	if p.TotalPages > 0 {
		add(p.TotalPages, "last")
	}
	if len(links) > 0 {
		setHeader("Link", strings.Join(links, ", "))
	}
}

func pageURL(r *http.Request, page int) string {
	u := url.URL{Path: r.URL.Path}
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
