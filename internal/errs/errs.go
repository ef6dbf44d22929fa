package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCoupon      = errors.New("invalid coupon")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrPaymentTimeout     = errors.New("payment not confirmed yet")
	ErrProvider           = errors.New("payment provider error")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
)

// Validation wraps ErrValidation with a formatted detail.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func InvalidCoupon(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidCoupon, reason)
}

func InvalidTransition(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
