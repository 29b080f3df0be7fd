// Package utils holds small helpers shared by the transport layer.
package utils

import "strconv"

// AtoiDefault parses s as a decimal int, returning def when s is empty or
// not a valid int. Whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page is a resolved page request.
type Page struct {
	Number int
	Size   int
}

// Offset is the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages returns how many pages hold total rows.
func (p Page) TotalPages(total int64) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// ParsePage reads page and page_size query values, falling back to page 1 and
// defSize, and clamping the size to [1, maxSize].
func ParsePage(page, size string, defSize, maxSize int) Page {
	p := Page{Number: AtoiDefault(page, 1), Size: AtoiDefault(size, defSize)}
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 1
	}
	if p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}
