package facilitator

import (
	"errors"
	"fmt"
)

// TransportError marks a network-level failure (timeout, connection refused,
// non-JSON garbage) talking to the facilitator. Safe to retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("facilitator %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionError marks a semantic rejection reported by the facilitator
// itself. Retrying the same payload will not change the outcome.
type RejectionError struct {
	Op     string
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("facilitator %s rejected: %s (%s)", e.Op, e.Reason, e.Detail)
	}
	return fmt.Sprintf("facilitator %s rejected: %s", e.Op, e.Reason)
}

// IsRetryable reports whether err is worth retrying against the facilitator.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
