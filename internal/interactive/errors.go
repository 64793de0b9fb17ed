package interactive

import (
	"encoding/json"
	"strings"
)

const validationErrorName = "InteractiveValidationError"

// ValidationError is returned when an authoring payload or the message built
// from it fails validation. Every problem found is listed, not only the
// first one, and no network call has been made when it is returned.
type ValidationError struct {
	Message  string
	Context  string
	Errors   []string
	Warnings []string
	Example  any
}

func newValidationError(message, context string, errs, warnings []string, example any) *ValidationError {
	return &ValidationError{
		Message:  message,
		Context:  context,
		Errors:   errs,
		Warnings: warnings,
		Example:  example,
	}
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Context != "" {
		b.WriteString(" (" + e.Context + ")")
	}
	if len(e.Errors) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Errors, "; "))
	}
	return b.String()
}

// MarshalJSON renders the error in the shape API clients receive.
func (e *ValidationError) MarshalJSON() ([]byte, error) {
	errs := e.Errors
	if errs == nil {
		errs = []string{}
	}
	warnings := e.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return json.Marshal(struct {
		Name     string   `json:"name"`
		Message  string   `json:"message"`
		Context  string   `json:"context,omitempty"`
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`
		Example  any      `json:"example,omitempty"`
	}{validationErrorName, e.Message, e.Context, errs, warnings, e.Example})
}

// FormatDetailed renders a multi-line, human readable report including the
// example payload when one is attached.
func (e *ValidationError) FormatDetailed() string {
	header := "[" + validationErrorName + "] " + e.Message
	if e.Context != "" {
		header += " (" + e.Context + ")"
	}
	lines := []string{header}
	if len(e.Errors) > 0 {
		lines = append(lines, "Errors:")
		for _, msg := range e.Errors {
			lines = append(lines, "  - "+msg)
		}
	}
	if len(e.Warnings) > 0 {
		lines = append(lines, "Warnings:")
		for _, msg := range e.Warnings {
			lines = append(lines, "  - "+msg)
		}
	}
	if e.Example != nil {
		if b, err := json.MarshalIndent(e.Example, "", "  "); err == nil {
			lines = append(lines, "Example payload:", string(b))
		}
	}
	return strings.Join(lines, "\n")
}
