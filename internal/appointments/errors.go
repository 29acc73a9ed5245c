package appointments

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyCheckedIn means the appointment has a check-in timestamp.
	ErrAlreadyCheckedIn = errors.New("appointments: already checked in")
	// ErrInvalidAppointmentType means the referenced type exists but is not usable.
	ErrInvalidAppointmentType = errors.New("appointments: invalid appointment type")
)

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("appointments: %s %s not found", e.Entity, e.ID)
}

// InvalidStatusError reports a status value outside the enumerated set, or an
// operation attempted against a status that categorically forbids it.
type InvalidStatusError struct {
	Status Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("appointments: invalid status %q", e.Status)
}

// InvalidTransitionError reports a rejected status transition. It always names
// the current status and the exhaustive set of valid next statuses.
type InvalidTransitionError struct {
	Current   Status
	Requested Status
	ValidNext []Status
}

func (e *InvalidTransitionError) Error() string {
	next := make([]string, len(e.ValidNext))
	for i, s := range e.ValidNext {
		next[i] = string(s)
	}
	return fmt.Sprintf("appointments: cannot transition from %s to %s (valid: %s)",
		e.Current, e.Requested, strings.Join(next, ", "))
}

// NotInExpectedStateError reports a guarded operation finding the entity in a
// different state than the one it requires.
type NotInExpectedStateError struct {
	Entity   string
	Expected string
	Actual   string
}

func (e *NotInExpectedStateError) Error() string {
	return fmt.Sprintf("appointments: %s is %s, expected %s", e.Entity, e.Actual, e.Expected)
}
