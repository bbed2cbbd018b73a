package billing

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest  = errors.New("invalid billing request")
	ErrSessionExists   = errors.New("billing session already active")
	ErrPaymentDeclined = errors.New("payment declined")
	ErrGateway         = errors.New("payment gateway error")
)

// DeclineError is a hard decline from the payment gateway. It matches
// ErrPaymentDeclined under errors.Is.
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("payment declined: %s", e.Code)
	}
	return fmt.Sprintf("payment declined: %s: %s", e.Code, e.Message)
}

func (e *DeclineError) Is(target error) bool { return target == ErrPaymentDeclined }

// IsDecline reports whether err is a hard decline.
func IsDecline(err error) bool {
	return errors.Is(err, ErrPaymentDeclined)
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

// gatewayErr classifies err: declines pass through, anything else is
// wrapped with ErrGateway.
func gatewayErr(op string, err error) error {
	if IsDecline(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrGateway, err)
}
