// Package strings normalises comma separated settings.
package strings

import (
	"strings"
)

// SplitList splits a comma separated setting and normalises it with DedupeAndTrimLower.
//
//	SplitList(" Mon,tue,,MON ") // []string{"mon", "tue"}
func SplitList(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	return DedupeAndTrimLower(strings.Split(csv, ","))
}

// DedupeAndTrimLower removes duplicates and empty strings, trimming and
// lowercasing each element. Order is preserved.
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}
