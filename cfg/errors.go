package cfg

import "fmt"

// ValidationError reports a configuration that cannot be used. It is fatal at startup.
type ValidationError struct {
	Section string
	Message string
	Err     error
}

func newValidationError(section, format string, a ...any) *ValidationError {
	return &ValidationError{
		Section: section,
		Message: fmt.Sprintf(format, a...),
	}
}

func wrapValidationError(section string, err error) *ValidationError {
	return &ValidationError{
		Section: section,
		Message: err.Error(),
		Err:     err,
	}
}

func (e *ValidationError) Error() string {
	if e.Section == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration in section %q: %s", e.Section, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
