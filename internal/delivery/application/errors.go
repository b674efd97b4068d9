package application

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("not permitted")
	ErrShipperOverloaded = errors.New("shipper has too many active deliveries")
)

// RemoteError reports a collaborator call that failed while driving a
// delivery transition. It carries enough context to reconcile by hand.
type RemoteError struct {
	Collaborator string
	Op           string
	OrderNumber  string
	DeliveryID   int64
	Err          error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s failed for order %s (delivery %d): %v",
		e.Collaborator, e.Op, e.OrderNumber, e.DeliveryID, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
