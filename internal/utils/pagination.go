// Package utils holds small helpers shared by the HTTP layer. Nothing
// here knows about conversations or notifications.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, returning def when s is empty
// or not a valid integer. Query parameters arrive as strings, so list
// handlers use this for limit values and let the service clamp the range.
func AtoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
