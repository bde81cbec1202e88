package relay

import (
	"context"
	"errors"
	"fmt"
)

// ParseError reports an inbound message that could not be parsed.
// Nothing is delivered for it.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a provider call that failed or ran past the
// delivery deadline.
type DeliveryError struct {
	Provider string
	Channel  string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s via %s: %v", e.Channel, e.Provider, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the delivery was cut off by its deadline.
func (e *DeliveryError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
