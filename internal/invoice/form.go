// Package invoice implements the field handlers, totals and submission gate of the
// custom sales invoice form.
package invoice

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
)

// Backend is the subset of the ERP the form handlers call into.
type Backend interface {
	erp.Pricing
	erp.Currencies
	erp.Payments
}

// Form binds an invoice and its submission gate to the ERP backend. A Form is not safe
// for concurrent use; callers serialize access per document.
type Form struct {
	Doc  *Invoice
	Gate *Gate

	backend  Backend
	messages []string
}

// NewForm wraps an invoice for editing.
func NewForm(doc *Invoice, gate *Gate, backend Backend) *Form {
	if gate == nil {
		gate = &Gate{}
	}
	return &Form{Doc: doc, Gate: gate, backend: backend}
}

// Messages returns and clears the user-facing messages produced by handlers.
func (f *Form) Messages() []string {
	msgs := f.messages
	f.messages = nil
	return msgs
}

func (f *Form) notify(msg string) {
	if msg != "" {
		f.messages = append(f.messages, msg)
	}
}

func (f *Form) requireCustomer() error {
	if f.Doc.Customer == "" {
		return errCustomerRequired()
	}
	return nil
}

// Refresh runs the form refresh effects.
func (f *Form) Refresh() {
	f.Doc.RecomputeTotals()
}

// SetItemCode selects an item on a line, populates pricing and account fields from the
// ERP and then applies the unit, amount and totals effects in that order.
func (f *Form) SetItemCode(ctx context.Context, line *Line, itemCode string) error {
	if err := f.requireCustomer(); err != nil {
		return err
	}
	line.ItemCode = itemCode
	if itemCode != "" {
		details, err := f.backend.ItemDetails(ctx, f.Doc.Customer, itemCode)
		if err != nil {
			f.Doc.RecomputeTotals()
			return fmt.Errorf("item details %s: %w", itemCode, err)
		}
		if details != nil {
			line.applyItemDetails(details)
			if line.UOM == line.StockUOM {
				line.ConversionFactor = decimal.NewFromInt(1)
			}
			if line.hasRate() {
				line.recomputeAmount()
			}
		}
	}
	f.Doc.RecomputeTotals()
	return nil
}

// SetUOM changes the unit of a line and resolves its conversion factor.
func (f *Form) SetUOM(ctx context.Context, line *Line, uom string) error {
	if err := f.requireCustomer(); err != nil {
		return err
	}
	line.UOM = uom
	if uom == line.StockUOM || line.ItemCode == "" {
		line.ConversionFactor = decimal.NewFromInt(1)
		return nil
	}
	factor, found, err := f.backend.ConversionFactor(ctx, line.ItemCode, uom)
	if err != nil {
		return fmt.Errorf("conversion factor %s/%s: %w", line.ItemCode, uom, err)
	}
	if !found || factor.IsZero() {
		factor = decimal.NewFromInt(1)
	}
	line.ConversionFactor = factor
	return nil
}

// SetQty changes the quantity of a line and recomputes its amount. Totals are not
// touched.
func (f *Form) SetQty(_ context.Context, line *Line, qty decimal.Decimal) error {
	if err := f.requireCustomer(); err != nil {
		return err
	}
	line.Qty = qty
	if line.hasRate() {
		line.recomputeAmount()
	}
	return nil
}

// SetRate changes the rate of a line, recomputes its amount and base rate, then the
// document totals.
func (f *Form) SetRate(_ context.Context, line *Line, rate decimal.Decimal) error {
	if err := f.requireCustomer(); err != nil {
		return err
	}
	line.Rate = rate
	if line.hasRate() {
		line.recomputeAmount()
		line.BaseRate = line.Rate
	}
	f.Doc.RecomputeTotals()
	return nil
}

// SetCurrency changes the document currency and, when the customer has a reference
// currency, fetches the exchange rate into conversion_rate.
func (f *Form) SetCurrency(ctx context.Context, code string) error {
	if code != "" {
		unit, err := currency.ParseISO(code)
		if err != nil {
			return &ValidationError{Field: "currency", Message: fmt.Sprintf("unknown currency %q", code)}
		}
		code = unit.String()
	}
	f.Doc.Currency = code
	if f.Doc.Customer == "" || code == "" {
		return nil
	}
	reference, err := f.backend.CustomerCurrency(ctx, f.Doc.Customer)
	if err != nil {
		return fmt.Errorf("customer currency %s: %w", f.Doc.Customer, err)
	}
	if reference == "" {
		return nil
	}
	rate, err := f.backend.ExchangeRate(ctx, f.Doc.PostingDate, code, reference)
	if err != nil {
		return fmt.Errorf("exchange rate %s->%s: %w", code, reference, err)
	}
	if !rate.IsZero() {
		f.Doc.ConversionRate = rate
	}
	return nil
}

// BeforeSubmit opens the payment dialog that gates submission. Only drafts can be
// submitted.
func (f *Form) BeforeSubmit() (Dialog, error) {
	if err := f.Doc.requireDraft(); err != nil {
		return Dialog{}, err
	}
	return f.Gate.Open(f.Doc.GrandTotal)
}

// ConfirmPayment runs the dialog's primary action: one payment-entry creation, then the
// gate settles. On success the document is marked submitted.
func (f *Form) ConfirmPayment(ctx context.Context, input PaymentInput) (Outcome, error) {
	if err := f.Doc.requireDraft(); err != nil {
		return Outcome{State: f.Gate.state()}, err
	}
	req, err := f.Gate.Begin(f.Doc.Name, input)
	if err != nil {
		return Outcome{State: f.Gate.state()}, err
	}
	result, callErr := f.backend.CreatePaymentEntry(ctx, req)
	outcome, err := f.Gate.Settle(result, callErr)
	f.notify(outcome.Message)
	if err != nil {
		return outcome, err
	}
	f.Doc.DocStatus = DocStatusSubmitted
	return outcome, nil
}
