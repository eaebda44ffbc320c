package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
)

// DocStatus mirrors the ERP document status field.
type DocStatus int

const (
	DocStatusDraft     DocStatus = 0
	DocStatusSubmitted DocStatus = 1
	DocStatusCancelled DocStatus = 2
)

// Invoice is the live state of a sales invoice being edited.
type Invoice struct {
	Name           string          `json:"name"`
	Customer       string          `json:"customer"`
	Company        string          `json:"company,omitempty"`
	Currency       string          `json:"currency"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
	PostingDate    time.Time       `json:"posting_date"`
	DocStatus      DocStatus       `json:"docstatus"`
	Items          []*Line         `json:"items"`
	BaseNetTotal   decimal.Decimal `json:"base_net_total"`
	BaseGrandTotal decimal.Decimal `json:"base_grand_total"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
}

// Line is one row of the invoice item table.
type Line struct {
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

// AddLine appends an empty row and returns its handle.
func (inv *Invoice) AddLine() *Line {
	line := &Line{Idx: len(inv.Items) + 1}
	inv.Items = append(inv.Items, line)
	return line
}

// Line returns the row with the given 1-based index.
func (inv *Invoice) Line(idx int) (*Line, error) {
	if idx < 1 || idx > len(inv.Items) {
		return nil, ErrLineNotFound
	}
	return inv.Items[idx-1], nil
}

// RemoveLine deletes a row and renumbers the remaining ones. Totals are left as they
// are until the next aggregation trigger.
func (inv *Invoice) RemoveLine(idx int) error {
	if idx < 1 || idx > len(inv.Items) {
		return ErrLineNotFound
	}
	inv.Items = append(inv.Items[:idx-1], inv.Items[idx:]...)
	for i, line := range inv.Items {
		line.Idx = i + 1
	}
	return nil
}

// RecomputeTotals sums line rates into the three aggregate fields. Quantities are not
// taken into account; a missing rate counts as zero.
func (inv *Invoice) RecomputeTotals() {
	total := decimal.Zero
	for _, line := range inv.Items {
		if line == nil {
			continue
		}
		total = total.Add(line.Rate)
	}
	inv.BaseNetTotal = total
	inv.BaseGrandTotal = total
	inv.GrandTotal = total
}

// AmountTotal sums line amounts.
func (inv *Invoice) AmountTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range inv.Items {
		if line == nil {
			continue
		}
		total = total.Add(line.Amount)
	}
	return total
}

// requireDraft fails for submitted and cancelled documents.
func (inv *Invoice) requireDraft() error {
	switch inv.DocStatus {
	case DocStatusDraft:
		return nil
	case DocStatusCancelled:
		return ErrInvoiceCancelled
	default:
		return ErrAlreadySubmitted
	}
}

// hasRate reports whether the amount guard passes: an item and a non-zero rate.
func (l *Line) hasRate() bool {
	return l.ItemCode != "" && !l.Rate.IsZero()
}

// recomputeAmount sets amount = qty * rate and mirrors it into base_amount.
func (l *Line) recomputeAmount() {
	l.Amount = l.Qty.Mul(l.Rate)
	l.BaseAmount = l.Amount
}

// applyItemDetails writes the looked-up pricing and account fields onto the row.
func (l *Line) applyItemDetails(details *erp.ItemDetails) {
	l.Rate = details.PriceListRate
	l.BaseRate = details.PriceListRate
	l.PriceListRate = details.PriceListRate
	l.UOM = details.UOM
	l.StockUOM = details.UOM
	l.ItemName = details.ItemName
	l.IncomeAccount = details.IncomeAccount
	l.CostCenter = details.CostCenter
	l.Qty = decimal.NewFromInt(1)
	l.BasePriceListRate = details.PriceListRate
}

// FromDocument converts a stored ERP document into live form state.
func FromDocument(doc *erp.Document) (*Invoice, error) {
	inv := &Invoice{
		Name:           doc.Name,
		Customer:       doc.Customer,
		Company:        doc.Company,
		Currency:       doc.Currency,
		ConversionRate: doc.ConversionRate,
		DocStatus:      DocStatus(doc.DocStatus),
		GrandTotal:     doc.GrandTotal,
	}
	if doc.PostingDate != "" {
		date, err := time.Parse(time.DateOnly, doc.PostingDate)
		if err != nil {
			return nil, &ValidationError{Field: "posting_date", Message: "invalid posting date " + doc.PostingDate}
		}
		inv.PostingDate = date
	}
	for i, item := range doc.Items {
		inv.Items = append(inv.Items, &Line{
			Idx:               i + 1,
			ItemCode:          item.ItemCode,
			ItemName:          item.ItemName,
			UOM:               item.UOM,
			StockUOM:          item.StockUOM,
			Qty:               item.Qty,
			Rate:              item.Rate,
			BaseRate:          item.BaseRate,
			PriceListRate:     item.PriceListRate,
			BasePriceListRate: item.BasePriceListRate,
			ConversionFactor:  item.ConversionFactor,
			Amount:            item.Amount,
			BaseAmount:        item.BaseAmount,
			IncomeAccount:     item.IncomeAccount,
			CostCenter:        item.CostCenter,
		})
	}
	return inv, nil
}
