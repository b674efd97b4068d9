package application

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrExcessExport      = errors.New("export exceeds stock on hand")
	ErrInvalidStatus     = errors.New("invalid transaction status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidState      = errors.New("transaction would corrupt stock state")
)

// RemoteError reports a collaborator call that failed after the local ledger
// change was already committed. The local state is authoritative and is never
// rolled back; the carried context supports manual reconciliation.
type RemoteError struct {
	Collaborator    string
	Op              string
	OrderNumber     string
	TransactionCode string
	Err             error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s failed (order=%q tx=%q): %v",
		e.Collaborator, e.Op, e.OrderNumber, e.TransactionCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
