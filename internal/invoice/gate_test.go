package invoice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
)

func TestBeforeSubmitOpensDialog(t *testing.T) {
	form, _ := newTestForm("Acme")
	form.Doc.GrandTotal = dec("150")

	dialog, err := form.BeforeSubmit()
	require.NoError(t, err)

	assert.Equal(t, GateCollecting, form.Gate.State)
	assert.Equal(t, "Enter Mode of Payment", dialog.Title)
	assert.Equal(t, "Submit Payment Entry", dialog.PrimaryActionLabel)
	require.Len(t, dialog.Fields, 2)
	assert.Equal(t, "mode_of_payment", dialog.Fields[0].Fieldname)
	assert.True(t, dialog.Fields[0].Reqd)
	assert.Equal(t, "Mode of Payment", dialog.Fields[0].Options)
	assert.Equal(t, "amount", dialog.Fields[1].Fieldname)
	assert.True(t, dialog.Fields[1].ReadOnly)
	assert.Equal(t, "150", dialog.Fields[1].Default)
}

func TestConfirmPaymentSuccess(t *testing.T) {
	form, backend := newTestForm("Acme")
	form.Doc.GrandTotal = dec("150")
	backend.payment = erp.PaymentResult{PaymentEntry: "PE-0001"}

	_, err := form.BeforeSubmit()
	require.NoError(t, err)
	outcome, err := form.ConfirmPayment(context.Background(), PaymentInput{ModeOfPayment: "Cash"})
	require.NoError(t, err)

	assert.Equal(t, GateResolved, outcome.State)
	assert.Equal(t, "PE-0001", outcome.PaymentEntry)
	assert.Equal(t, "Payment Entry created: PE-0001", outcome.Message)
	assert.Equal(t, DocStatusSubmitted, form.Doc.DocStatus)
	assert.Equal(t, []string{"Payment Entry created: PE-0001"}, form.Messages())

	require.Len(t, backend.paymentCalls, 1)
	call := backend.paymentCalls[0]
	assert.Equal(t, "CSI-0001", call.SalesInvoice)
	assert.Equal(t, "Cash", call.ModeOfPayment)
	assert.True(t, call.Amount.Equal(dec("150")))
	assert.NotEmpty(t, call.IdempotencyKey)

	_, err = form.ConfirmPayment(context.Background(), PaymentInput{ModeOfPayment: "Cash"})
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	_, err = form.BeforeSubmit()
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Len(t, backend.paymentCalls, 1, "no duplicate payment entry")
}

func TestConfirmPaymentBusinessRejection(t *testing.T) {
	form, backend := newTestForm("Acme")
	form.Doc.GrandTotal = dec("150")
	backend.payment = erp.PaymentResult{Error: "insufficient funds"}

	_, err := form.BeforeSubmit()
	require.NoError(t, err)
	outcome, err := form.ConfirmPayment(context.Background(), PaymentInput{ModeOfPayment: "Cash"})

	var rejected *PaymentRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "insufficient funds", rejected.Message)
	assert.Equal(t, "Enter Mode of Payment", rejected.Dialog.Title)
	assert.Equal(t, GateCollecting, outcome.State)
	require.NotNil(t, outcome.Dialog)
	assert.Equal(t, GateCollecting, form.Gate.State)
	assert.Equal(t, DocStatusDraft, form.Doc.DocStatus)

	// The dialog stays open for correction; a corrected attempt may succeed.
	backend.payment = erp.PaymentResult{PaymentEntry: "PE-0002"}
	outcome, err = form.ConfirmPayment(context.Background(), PaymentInput{ModeOfPayment: "Bank"})
	require.NoError(t, err)
	assert.Equal(t, GateResolved, outcome.State)
	require.Len(t, backend.paymentCalls, 2)
	assert.NotEqual(t, backend.paymentCalls[0].IdempotencyKey, backend.paymentCalls[1].IdempotencyKey)
	assert.Equal(t, 2, form.Gate.Attempts)
}

func TestConfirmPaymentTransportFailure(t *testing.T) {
	form, backend := newTestForm("Acme")
	backend.paymentErr = erp.ErrRemote

	_, err := form.BeforeSubmit()
	require.NoError(t, err)
	outcome, err := form.ConfirmPayment(context.Background(), PaymentInput{ModeOfPayment: "Cash"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPaymentFailed))
	assert.True(t, errors.Is(err, erp.ErrRemote))
	assert.Equal(t, GateRejected, outcome.State)
	assert.Equal(t, MsgUnexpectedError, outcome.Message)
	assert.Equal(t, DocStatusDraft, form.Doc.DocStatus)

	_, err = form.ConfirmPayment(context.Background(), PaymentInput{ModeOfPayment: "Cash"})
	assert.ErrorIs(t, err, ErrGateNotOpen, "a rejected gate needs a new submission")

	_, err = form.BeforeSubmit()
	require.NoError(t, err)
	assert.Equal(t, GateCollecting, form.Gate.State)
}

func TestConfirmPaymentRequiresModeOfPayment(t *testing.T) {
	form, backend := newTestForm("Acme")
	_, err := form.BeforeSubmit()
	require.NoError(t, err)

	_, err = form.ConfirmPayment(context.Background(), PaymentInput{ModeOfPayment: "  "})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, GateCollecting, form.Gate.State)
	assert.Empty(t, backend.paymentCalls)
}

func TestConfirmPaymentWithoutDialog(t *testing.T) {
	form, backend := newTestForm("Acme")
	_, err := form.ConfirmPayment(context.Background(), PaymentInput{ModeOfPayment: "Cash"})
	assert.ErrorIs(t, err, ErrGateNotOpen)
	assert.Empty(t, backend.paymentCalls)
}

func TestGateBusyWhileSubmitting(t *testing.T) {
	gate := &Gate{}
	_, err := gate.Open(dec("10"))
	require.NoError(t, err)
	_, err = gate.Begin("CSI-1", PaymentInput{ModeOfPayment: "Cash"})
	require.NoError(t, err)

	_, err = gate.Open(dec("10"))
	assert.ErrorIs(t, err, ErrGateBusy)
	_, err = gate.Begin("CSI-1", PaymentInput{ModeOfPayment: "Cash"})
	assert.ErrorIs(t, err, ErrGateBusy)
}

func TestGateReopenUsesCurrentTotal(t *testing.T) {
	gate := &Gate{}
	_, err := gate.Open(dec("10"))
	require.NoError(t, err)
	dialog, err := gate.Open(dec("99"))
	require.NoError(t, err)
	assert.Equal(t, "99", dialog.Fields[1].Default)
	assert.True(t, gate.Amount.Equal(dec("99")))
}

func TestGateCloseDismissesDialog(t *testing.T) {
	gate := &Gate{}
	_, err := gate.Open(dec("10"))
	require.NoError(t, err)

	gate.Close()
	assert.Equal(t, GateIdle, gate.State)
	_, err = gate.Begin("CSI-1", PaymentInput{ModeOfPayment: "Cash"})
	assert.ErrorIs(t, err, ErrGateNotOpen)

	resolved := &Gate{State: GateResolved, PaymentEntry: "PE-1"}
	resolved.Close()
	assert.Equal(t, GateResolved, resolved.State)
}

func TestBeforeSubmitRequiresDraft(t *testing.T) {
	form, backend := newTestForm("Acme")
	form.Doc.DocStatus = DocStatusCancelled
	_, err := form.BeforeSubmit()
	assert.ErrorIs(t, err, ErrInvoiceCancelled)

	form.Gate.State = GateCollecting
	_, err = form.ConfirmPayment(context.Background(), PaymentInput{ModeOfPayment: "Cash"})
	assert.ErrorIs(t, err, ErrInvoiceCancelled)
	assert.Empty(t, backend.paymentCalls)

	form.Doc.DocStatus = DocStatusSubmitted
	_, err = form.BeforeSubmit()
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}
