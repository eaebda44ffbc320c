// Package erp describes the remote-procedure surface of the ERP backend that owns
// pricing, unit conversion, exchange rates and payment entries.
package erp

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRemote marks an unexpected failure of a remote call: transport errors,
// non-2xx responses and server exceptions.
var ErrRemote = errors.New("erp: remote call failed")

// ErrNotFound indicates the requested document does not exist in the ERP.
var ErrNotFound = errors.New("erp: document not found")

// ItemDetails is the pricing and account data returned for a (customer, item) pair.
type ItemDetails struct {
	ItemName      string          `json:"item_name"`
	UOM           string          `json:"uom"`
	PriceListRate decimal.Decimal `json:"price_list_rate"`
	IncomeAccount string          `json:"income_account"`
	CostCenter    string          `json:"cost_center"`
}

// PaymentRequest carries the arguments of a payment-entry creation.
type PaymentRequest struct {
	SalesInvoice   string
	ModeOfPayment  string
	Amount         decimal.Decimal
	// IdempotencyKey identifies the confirmation attempt on the caller side.
	IdempotencyKey string
}

// PaymentResult is the decoded response of a payment-entry creation. Exactly one of
// PaymentEntry or Error is set when the call completed.
type PaymentResult struct {
	PaymentEntry string `json:"payment_entry_name,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Document is an invoice as stored by the ERP.
type Document struct {
	Name           string          `json:"name"`
	Customer       string          `json:"customer"`
	Company        string          `json:"company"`
	Currency       string          `json:"currency"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
	PostingDate    string          `json:"posting_date"`
	DocStatus      int             `json:"docstatus"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	Items          []DocumentItem  `json:"items"`
}

// DocumentItem is one stored line of a Document.
type DocumentItem struct {
	Idx               int             `json:"idx"`
	ItemCode          string          `json:"item_code"`
	ItemName          string          `json:"item_name"`
	UOM               string          `json:"uom"`
	StockUOM          string          `json:"stock_uom"`
	Qty               decimal.Decimal `json:"qty"`
	Rate              decimal.Decimal `json:"rate"`
	BaseRate          decimal.Decimal `json:"base_rate"`
	PriceListRate     decimal.Decimal `json:"price_list_rate"`
	BasePriceListRate decimal.Decimal `json:"base_price_list_rate"`
	ConversionFactor  decimal.Decimal `json:"conversion_factor"`
	Amount            decimal.Decimal `json:"amount"`
	BaseAmount        decimal.Decimal `json:"base_amount"`
	IncomeAccount     string          `json:"income_account"`
	CostCenter        string          `json:"cost_center"`
}

// Pricing resolves item details and unit conversion factors.
type Pricing interface {
	// ItemDetails returns nil without error when the ERP has nothing for the pair.
	ItemDetails(ctx context.Context, customer, itemCode string) (*ItemDetails, error)
	// ConversionFactor reports found=false when no Item UOM record exists.
	ConversionFactor(ctx context.Context, itemCode, uom string) (factor decimal.Decimal, found bool, err error)
}

// Currencies resolves a customer's reference currency and exchange rates.
type Currencies interface {
	CustomerCurrency(ctx context.Context, customer string) (string, error)
	ExchangeRate(ctx context.Context, date time.Time, from, to string) (decimal.Decimal, error)
}

// Payments creates payment entries against an invoice.
type Payments interface {
	CreatePaymentEntry(ctx context.Context, req PaymentRequest) (PaymentResult, error)
}

// Documents loads invoice documents.
type Documents interface {
	Invoice(ctx context.Context, name string) (*Document, error)
}

// Customers lists customers and updates their default price list.
type Customers interface {
	Customers(ctx context.Context) ([]string, error)
	SetCustomerPriceList(ctx context.Context, customer, priceList string) error
}

// Client is the full ERP surface used by the form service.
type Client interface {
	Pricing
	Currencies
	Payments
	Documents
}
