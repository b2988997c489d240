package iap

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownService    = errors.New("unknown iap service")
	ErrAlreadyRegistered = errors.New("iap service already registered")
	ErrAdapterSetup      = errors.New("iap adapter setup failed")
	ErrInvalidReceipt    = errors.New("invalid receipt")
	ErrReceiptRejected   = errors.New("receipt rejected by storefront")
	ErrNotConfigured     = errors.New("iap adapter not configured")
	ErrInvalidRecord     = errors.New("invalid purchase record")
)

// SetupError identifies the adapter that failed during Setup.
type SetupError struct {
	Service Service
	Err     error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrAdapterSetup, e.Service, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func (e *SetupError) Is(target error) bool {
	return target == ErrAdapterSetup
}
