package regexcache

import (
	"errors"
	"fmt"
)

// Sentinel errors callers can match against with errors.Is.
var (
	// ErrConfigValidation is wrapped by every ConfigValidationError.
	ErrConfigValidation = errors.New("regexcache: config validation")

	// ErrCompilationFailure is wrapped by every CompilationError.
	ErrCompilationFailure = errors.New("regexcache: pattern compilation")
)

// ConfigValidationError reports one or more reasons a Config document was
// rejected at parse time. Construction halts; the caller sees this and only
// this on a bad document.
type ConfigValidationError struct {
	Reasons []string
}

func (e *ConfigValidationError) Error() string {
	if len(e.Reasons) == 1 {
		return fmt.Sprintf("regexcache: config validation failed: %s", e.Reasons[0])
	}
	return fmt.Sprintf("regexcache: config validation failed (%d reasons): %v", len(e.Reasons), e.Reasons)
}

func (e *ConfigValidationError) Unwrap() error { return ErrConfigValidation }

func newConfigValidationError(reasons ...string) *ConfigValidationError {
	return &ConfigValidationError{Reasons: reasons}
}

// CompilationError reports the external engine's rejection of a pattern.
// Surfaced directly to the GetOrCompile caller; the cache is left unchanged.
type CompilationError struct {
	Pattern string
	Reason  string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("regexcache: failed to compile pattern %q: %s", e.Pattern, e.Reason)
}

func (e *CompilationError) Unwrap() error { return ErrCompilationFailure }
