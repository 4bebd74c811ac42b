package engine

import (
	"errors"
	"fmt"
)

// ErrPendingApprovals is returned when a new user turn arrives while the
// conversation still has unresolved pending calls.
var ErrPendingApprovals = errors.New("conversation has unresolved pending approvals")

// ValidationError rejects a malformed decision batch or a schema-invalid
// argument override. No state is mutated when one is returned.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
