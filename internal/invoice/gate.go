package invoice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
)

// GateState is the position of the submission gate.
type GateState string

const (
	GateIdle       GateState = "idle"
	GateCollecting GateState = "collecting"
	GateSubmitting GateState = "submitting"
	GateResolved   GateState = "resolved"
	GateRejected   GateState = "rejected"
)

// DialogField describes one input of the payment dialog.
type DialogField struct {
	Label     string `json:"label"`
	Fieldname string `json:"fieldname"`
	Fieldtype string `json:"fieldtype"`
	Options   string `json:"options,omitempty"`
	Reqd      bool   `json:"reqd,omitempty"`
	ReadOnly  bool   `json:"read_only,omitempty"`
	Default   string `json:"default,omitempty"`
}

// Dialog is the modal shown before an invoice may be submitted.
type Dialog struct {
	Title              string        `json:"title"`
	Fields             []DialogField `json:"fields"`
	PrimaryActionLabel string        `json:"primary_action_label"`
}

// PaymentInput is what the user enters in the dialog.
type PaymentInput struct {
	ModeOfPayment string `json:"mode_of_payment" validate:"required,max=140"`
}

// Outcome reports how a payment confirmation settled.
type Outcome struct {
	State        GateState `json:"state"`
	PaymentEntry string    `json:"payment_entry,omitempty"`
	Message      string    `json:"message,omitempty"`
	Dialog       *Dialog   `json:"dialog,omitempty"`
}

// Gate blocks submission until a payment entry has been created. The zero value is idle.
type Gate struct {
	State         GateState       `json:"state"`
	Amount        decimal.Decimal `json:"amount"`
	ModeOfPayment string          `json:"mode_of_payment,omitempty"`
	AttemptID     string          `json:"attempt_id,omitempty"`
	Attempts      int             `json:"attempts"`
	PaymentEntry  string          `json:"payment_entry,omitempty"`
	LastMessage   string          `json:"last_message,omitempty"`
}

func (g *Gate) state() GateState {
	if g.State == "" {
		return GateIdle
	}
	return g.State
}

// Dialog renders the payment dialog for the gate's amount.
func (g *Gate) Dialog() Dialog {
	return Dialog{
		Title: "Enter Mode of Payment",
		Fields: []DialogField{
			{
				Label:     "Mode of Payment",
				Fieldname: "mode_of_payment",
				Fieldtype: "Link",
				Options:   "Mode of Payment",
				Reqd:      true,
			},
			{
				Label:     "Amount",
				Fieldname: "amount",
				Fieldtype: "Currency",
				ReadOnly:  true,
				Default:   g.Amount.String(),
			},
		},
		PrimaryActionLabel: "Submit Payment Entry",
	}
}

// Open moves the gate into collecting with the amount pre-filled from the current grand
// total. Re-opening a collecting gate refreshes the amount.
func (g *Gate) Open(grandTotal decimal.Decimal) (Dialog, error) {
	switch g.state() {
	case GateCollecting:
		g.Amount = grandTotal
		return g.Dialog(), nil
	case GateSubmitting:
		return Dialog{}, ErrGateBusy
	case GateResolved:
		return Dialog{}, ErrAlreadySubmitted
	}
	g.State = GateCollecting
	g.Amount = grandTotal
	g.ModeOfPayment = ""
	g.AttemptID = ""
	g.LastMessage = ""
	return g.Dialog(), nil
}

// Close dismisses an open dialog. The gate returns to idle, so the next Open reads the
// grand total again. Other states are left alone.
func (g *Gate) Close() {
	if g.state() != GateCollecting {
		return
	}
	g.State = GateIdle
	g.ModeOfPayment = ""
	g.AttemptID = ""
}

// Begin validates the dialog input and moves the gate to submitting. It returns the
// request to send; exactly one request is produced per attempt.
func (g *Gate) Begin(invoiceName string, input PaymentInput) (erp.PaymentRequest, error) {
	switch g.state() {
	case GateSubmitting:
		return erp.PaymentRequest{}, ErrGateBusy
	case GateResolved:
		return erp.PaymentRequest{}, ErrAlreadySubmitted
	case GateCollecting:
	default:
		return erp.PaymentRequest{}, ErrGateNotOpen
	}
	mode := strings.TrimSpace(input.ModeOfPayment)
	if mode == "" {
		return erp.PaymentRequest{}, &ValidationError{Field: "mode_of_payment", Message: "Mode of Payment is required"}
	}
	g.State = GateSubmitting
	g.ModeOfPayment = mode
	g.AttemptID = uuid.NewString()
	g.Attempts++
	return erp.PaymentRequest{
		SalesInvoice:   invoiceName,
		ModeOfPayment:  mode,
		Amount:         g.Amount,
		IdempotencyKey: g.AttemptID,
	}, nil
}

// Settle applies the result of the payment-entry call.
func (g *Gate) Settle(result erp.PaymentResult, callErr error) (Outcome, error) {
	if g.state() != GateSubmitting {
		return Outcome{}, ErrGateNotOpen
	}
	switch {
	case callErr != nil:
		g.State = GateRejected
		g.LastMessage = MsgUnexpectedError
		return Outcome{State: GateRejected, Message: MsgUnexpectedError}, fmt.Errorf("%w: %w", ErrPaymentFailed, callErr)
	case result.Error != "":
		g.State = GateCollecting
		g.LastMessage = result.Error
		dialog := g.Dialog()
		return Outcome{State: GateCollecting, Message: result.Error, Dialog: &dialog},
			&PaymentRejectedError{Message: result.Error, Dialog: dialog}
	case result.PaymentEntry == "":
		g.State = GateRejected
		g.LastMessage = MsgUnexpectedError
		return Outcome{State: GateRejected, Message: MsgUnexpectedError}, fmt.Errorf("%w: %w", ErrPaymentFailed, errors.New("empty payment entry name"))
	}
	g.State = GateResolved
	g.PaymentEntry = result.PaymentEntry
	g.LastMessage = "Payment Entry created: " + result.PaymentEntry
	return Outcome{State: GateResolved, PaymentEntry: result.PaymentEntry, Message: g.LastMessage}, nil
}
