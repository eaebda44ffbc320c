package invoice

import (
	"errors"
	"fmt"
)

// Domain errors for invoice forms.
var (
	ErrFormNotFound = errors.New("invoice form not found")
	ErrFormExists   = errors.New("invoice form already open")
	ErrFormLocked   = errors.New("invoice form is being edited")
	ErrLineNotFound = errors.New("invoice line not found")

	// Submission gate errors.
	ErrGateNotOpen      = errors.New("payment dialog is not open")
	ErrGateBusy         = errors.New("payment entry creation in progress")
	ErrAlreadySubmitted = errors.New("invoice already submitted")
	ErrInvoiceCancelled = errors.New("invoice is cancelled")

	// ErrPaymentFailed is returned when payment-entry creation failed unexpectedly.
	ErrPaymentFailed = errors.New("payment entry creation failed")
)

// User-facing messages.
const (
	MsgCustomerRequired = "Please specify a customer before selecting an item."
	MsgUnexpectedError  = "An unexpected error occurred."
)

// ValidationError signals a user-correctable precondition failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// PaymentRejectedError carries the business-rule message returned by the ERP. The
// dialog is open again when this error is returned.
type PaymentRejectedError struct {
	Message string
	Dialog  Dialog
}

func (e *PaymentRejectedError) Error() string {
	return e.Message
}

func errCustomerRequired() error {
	return &ValidationError{Field: "customer", Message: MsgCustomerRequired}
}
