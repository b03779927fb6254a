package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Workflow gate errors are expected business conditions: they surface as
// human-readable chat messages and are never escalated.
var (
	// ErrNotEnoughTesters means the tester pool is empty.
	ErrNotEnoughTesters = errors.New("not enough testers in pool")
	// ErrNotEnoughPublishers means the publisher pool is empty.
	ErrNotEnoughPublishers = errors.New("not enough publishers in pool")
)

// MissingRequiredFieldsError rejects a release while required entry fields
// are absent.
type MissingRequiredFieldsError struct {
	Fields []string
}

func (e *MissingRequiredFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// IsGateError reports whether err is a workflow gate condition rather than an
// operational failure.
func IsGateError(err error) bool {
	var missing *MissingRequiredFieldsError
	return errors.Is(err, ErrNotEnoughTesters) ||
		errors.Is(err, ErrNotEnoughPublishers) ||
		errors.As(err, &missing)
}
