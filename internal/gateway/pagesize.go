package gateway

import "strconv"

// Page-size caps by caller class. A requested size is honored up to the
// cap; invalid or absent requests fall back to the default (== the cap).
const (
	regularPageSize    = 10
	privilegedPageSize = 100
)

// negotiatePageSize resolves a requested page size against the caller's
// cap. requested may be a query-string value, a JSON number (float64), or
// absent (nil / empty string).
func negotiatePageSize(requested any, privileged bool) int {
	limit := regularPageSize
	if privileged {
		limit = privilegedPageSize
	}

	var n int
	switch v := requested.(type) {
	case nil:
		return limit
	case string:
		if v == "" {
			return limit
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return limit
		}
		n = parsed
	case float64:
		n = int(v)
	case int:
		n = v
	default:
		return limit
	}

	if n <= 0 {
		return limit
	}
	return min(n, limit)
}

// parsePage reads a 1-based page number, defaulting to 1.
func parsePage(requested any) int {
	page := 1
	switch v := requested.(type) {
	case string:
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			page = parsed
		}
	case float64:
		if int(v) > 0 {
			page = int(v)
		}
	case int:
		if v > 0 {
			page = v
		}
	}
	return page
}
