package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientResponses matches *InsufficientResponsesError via errors.Is.
	ErrInsufficientResponses = errors.New("insufficient AI responses")
	// ErrMalformedCritique marks a critique reply that failed strict decoding.
	ErrMalformedCritique = errors.New("malformed critique reply")
	ErrInvalidConfig     = errors.New("invalid pipeline configuration")
)

// InsufficientResponsesError is the only error Run returns: too few
// providers produced content to judge anything.
type InsufficientResponsesError struct {
	Responded  int
	Configured int
	Required   int
}

func (e *InsufficientResponsesError) Error() string {
	return fmt.Sprintf("insufficient AI responses: only %d/%d providers responded (need %d)",
		e.Responded, e.Configured, e.Required)
}

func (e *InsufficientResponsesError) Is(target error) bool {
	return target == ErrInsufficientResponses
}
