package schema

import (
	"strings"

	"github.com/google/go-cmp/cmp"
)

// Equal reports whether two normalised field sets hold the same values,
// ignoring order and name case.
func Equal(a, b []Field) bool {
	return cmp.Equal(byName(a), byName(b))
}

func byName(fields []Field) map[string]any {
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[strings.ToLower(f.Name)] = f.Value
	}
	return m
}
