package policy

import (
	"fmt"
	"strings"
)

// Violation is a single field-level rule failure.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationError carries every violation found in one Settings value.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("invalid policy: %s", strings.Join(parts, "; "))
}

// Fields returns the distinct fields that failed, in report order.
func (e *ValidationError) Fields() []string {
	seen := make(map[string]bool, len(e.Violations))
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if !seen[v.Field] {
			seen[v.Field] = true
			out = append(out, v.Field)
		}
	}
	return out
}
