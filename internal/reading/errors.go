package reading

import (
	"errors"
	"fmt"
)

// ValidationError znamená chybu na straně klienta (chybějící nebo nečíselné pole).
// Při této chybě se nic neuloží a nic se nerozesílá.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("neplatné pole %q: %s", e.Field, e.Reason)
}

// IsValidation je zkratka pro errors.As s *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
