package utils

import "errors"

// Error taxonomy shared by every core operation. Callers above this layer
// map these to HTTP status codes; the distinction between retryable
// (ErrorConflict) and terminal (ValidationError) must survive the mapping.
var (
	ErrorUnauthorized      = errors.New("unauthorized")
	ErrorRecordNotFound    = errors.New("record not found")
	ErrorInsufficientStock = errors.New("insufficient stock")
	ErrorConflict          = errors.New("conflicting concurrent operation")
)

// ValidationError aborts the whole operation; nothing is written.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
