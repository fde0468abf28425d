package appointment

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrOverlap and ErrDuplicateSameDay are the two admission rules.
	ErrOverlap          = errors.New("overlapping appointment")
	ErrDuplicateSameDay = errors.New("patient already booked that day")

	// ErrDayBeingBooked means the day lock could not be taken in time. No
	// admission rule was evaluated.
	ErrDayBeingBooked = errors.New("day is currently being booked, please retry")
)

// ValidationError reports malformed or missing input. Nothing has been written
// when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ConflictError is returned when admission rejects a booking.
type ConflictError struct {
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func newConflict(sentinel error, reason string) *ConflictError {
	return &ConflictError{Reason: reason, Err: sentinel}
}

// fromValidator turns validator output into a ValidationError naming the first
// failing field by its JSON name.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: "is required"}
	case "min":
		return &ValidationError{Field: field, Message: "must not be empty"}
	case "datetime":
		return &ValidationError{Field: field, Message: fmt.Sprintf("must match layout %s", layoutHint(fe.Param()))}
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("failed %s validation", fe.Tag())}
	}
}

func layoutHint(layout string) string {
	switch layout {
	case dateLayout:
		return "YYYY-MM-DD"
	case clockLayout:
		return "HH:MM"
	}
	return layout
}
