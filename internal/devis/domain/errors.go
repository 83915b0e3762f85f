package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("devis not found")
	ErrInvalidTransition      = errors.New("invalid devis transition")
	ErrAlreadyValidated       = errors.New("devis already validated")
	ErrCannotValidateRejected = errors.New("cannot validate a rejected devis")
	ErrStockConflict          = errors.New("stock no longer covers the quote")
	ErrInvalidDiscount        = errors.New("discount_percentage must be between 0 and 100")
	ErrUnknownItem            = errors.New("part is not an item of this devis")
	ErrInvalidPrice           = errors.New("negotiated price must not be negative")
)

// TransitionError is a guard violation. It matches ErrInvalidTransition in
// addition to its specific cause.
type TransitionError struct {
	Op      string
	Current Status
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s devis: %v", e.Op, e.Current, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ShortageError names the parts whose locked stock no longer covers the item.
type ShortageError struct {
	References []string
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for %v", e.References)
}

func (e *ShortageError) Unwrap() error { return ErrStockConflict }
