// Package validation contains input validation helpers.
package validation

// IsValidOrderID reports whether an order identifier is acceptable for a
// cash collection record: non-empty, at most 64 characters, digits, latin
// letters, dashes and underscores only.
func IsValidOrderID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}

	for _, ch := range id {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch == '-' || ch == '_':
		default:
			return false
		}
	}

	return true
}
