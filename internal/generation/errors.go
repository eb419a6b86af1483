package generation

import "errors"

// Common errors returned by transform implementations
var (
	// ErrTransformationFailed is returned when a transformation fails for any general reason
	ErrTransformationFailed = errors.New("transformation failed")

	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrMissingCredential is returned when the API credential is absent or rejected
	ErrMissingCredential = errors.New("missing or invalid API credential")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during transformation")

	// ErrInvalidConfig is returned when the transformer configuration is invalid
	ErrInvalidConfig = errors.New("invalid transformer configuration")
)

// UserMessage classifies a transformation error into the short user-facing
// string written into a failed task's error field. Raw error text never
// reaches the user.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing credential"
	case errors.Is(err, ErrContentBlocked):
		return "content was blocked by safety filters"
	case errors.Is(err, ErrTransientFailure):
		return "service temporarily unavailable"
	default:
		return "generation failed"
	}
}
