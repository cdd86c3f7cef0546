// Package order implements the order lifecycle: the submit transaction
// and the status state machine.
package order

import (
	"errors"
	"fmt"
)

// Status is an order's lifecycle state.
type Status string

// Order statuses. Filled and Cancelled are terminal.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusFilled     Status = "filled"
	StatusCancelled  Status = "cancelled"
)

// ErrIllegalTransition is returned for transitions outside the table.
var ErrIllegalTransition = errors.New("order: illegal status transition")

// ErrUnknownStatus is returned for status strings outside the enum.
var ErrUnknownStatus = errors.New("order: unknown status")

// transitions is the allowed-transition table. Terminal statuses have no
// outgoing edges: a filled or cancelled order is never reopened.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFilled, StatusCancelled},
	StatusInProgress: {StatusPending, StatusFilled, StatusCancelled},
	StatusFilled:     {},
	StatusCancelled:  {},
}

// ParseStatus maps a status string to the enum. "completed" is accepted
// as a historical alias of filled.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusFilled, StatusCancelled:
		return Status(s), nil
	}
	if s == "completed" {
		return StatusFilled, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Terminal reports whether a status ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// ValidateTransition checks the transition table.
func ValidateTransition(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
}
