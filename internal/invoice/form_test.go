package invoice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
)

// ============================================================================
// FAKE BACKEND
// ============================================================================

type fakeBackend struct {
	items       map[string]*erp.ItemDetails
	factors     map[string]decimal.Decimal
	currencies  map[string]string
	rate        decimal.Decimal
	payment     erp.PaymentResult
	paymentErr  error
	factorErr   error
	itemErr     error
	paymentHook func()
	documents   map[string]*erp.Document

	itemCalls     int
	factorCalls   int
	currencyCalls int
	rateCalls     int
	paymentCalls  []erp.PaymentRequest
	rateArgs      []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		items: map[string]*erp.ItemDetails{
			"WID-1": {
				ItemName:      "Widget",
				UOM:           "Nos",
				PriceListRate: decimal.NewFromInt(100),
				IncomeAccount: "Sales - AC",
				CostCenter:    "Main - AC",
			},
			"GAD-2": {
				ItemName:      "Gadget",
				UOM:           "Nos",
				PriceListRate: decimal.NewFromInt(50),
				IncomeAccount: "Sales - AC",
				CostCenter:    "Main - AC",
			},
		},
		factors:    map[string]decimal.Decimal{"WID-1/Box": decimal.NewFromInt(12)},
		currencies: map[string]string{"Acme": "EUR"},
		rate:       decimal.RequireFromString("0.92"),
	}
}

func (b *fakeBackend) ItemDetails(ctx context.Context, customer, itemCode string) (*erp.ItemDetails, error) {
	b.itemCalls++
	if b.itemErr != nil {
		return nil, b.itemErr
	}
	details, ok := b.items[itemCode]
	if !ok {
		return nil, nil
	}
	copied := *details
	return &copied, nil
}

func (b *fakeBackend) ConversionFactor(ctx context.Context, itemCode, uom string) (decimal.Decimal, bool, error) {
	b.factorCalls++
	if b.factorErr != nil {
		return decimal.Zero, false, b.factorErr
	}
	factor, ok := b.factors[itemCode+"/"+uom]
	return factor, ok, nil
}

func (b *fakeBackend) CustomerCurrency(ctx context.Context, customer string) (string, error) {
	b.currencyCalls++
	return b.currencies[customer], nil
}

func (b *fakeBackend) ExchangeRate(ctx context.Context, date time.Time, from, to string) (decimal.Decimal, error) {
	b.rateCalls++
	b.rateArgs = []string{date.Format(time.DateOnly), from, to}
	return b.rate, nil
}

func (b *fakeBackend) CreatePaymentEntry(ctx context.Context, req erp.PaymentRequest) (erp.PaymentResult, error) {
	b.paymentCalls = append(b.paymentCalls, req)
	if b.paymentHook != nil {
		b.paymentHook()
	}
	return b.payment, b.paymentErr
}

func (b *fakeBackend) Invoice(ctx context.Context, name string) (*erp.Document, error) {
	doc, ok := b.documents[name]
	if !ok {
		return nil, erp.ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func newTestForm(customer string) (*Form, *fakeBackend) {
	backend := newFakeBackend()
	doc := &Invoice{
		Name:        "CSI-0001",
		Customer:    customer,
		Currency:    "USD",
		PostingDate: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	return NewForm(doc, nil, backend), backend
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ============================================================================
// ITEM LOOKUP
// ============================================================================

func TestSetItemCodePopulatesLine(t *testing.T) {
	form, backend := newTestForm("Acme")
	line := form.Doc.AddLine()

	require.NoError(t, form.SetItemCode(context.Background(), line, "WID-1"))

	assert.Equal(t, 1, backend.itemCalls)
	assert.Equal(t, "WID-1", line.ItemCode)
	assert.Equal(t, "Widget", line.ItemName)
	assert.Equal(t, "Nos", line.UOM)
	assert.Equal(t, "Nos", line.StockUOM)
	assert.Equal(t, "Sales - AC", line.IncomeAccount)
	assert.Equal(t, "Main - AC", line.CostCenter)
	assert.True(t, line.Rate.Equal(dec("100")))
	assert.True(t, line.BaseRate.Equal(dec("100")))
	assert.True(t, line.PriceListRate.Equal(dec("100")))
	assert.True(t, line.BasePriceListRate.Equal(dec("100")))
	assert.True(t, line.Qty.Equal(dec("1")))
	assert.True(t, line.ConversionFactor.Equal(dec("1")))
	assert.True(t, line.Amount.Equal(dec("100")))
	assert.True(t, line.BaseAmount.Equal(dec("100")))
	assert.True(t, form.Doc.GrandTotal.Equal(dec("100")))
}

func TestSetItemCodeWithoutCustomer(t *testing.T) {
	form, backend := newTestForm("")
	line := form.Doc.AddLine()

	err := form.SetItemCode(context.Background(), line, "WID-1")

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, MsgCustomerRequired, verr.Message)
	assert.Equal(t, 0, backend.itemCalls)
	assert.Empty(t, line.ItemCode)
}

func TestSetItemCodeUnknownItemIsNoop(t *testing.T) {
	form, backend := newTestForm("Acme")
	line := form.Doc.AddLine()

	require.NoError(t, form.SetItemCode(context.Background(), line, "NOPE"))

	assert.Equal(t, 1, backend.itemCalls)
	assert.Equal(t, "NOPE", line.ItemCode)
	assert.Empty(t, line.ItemName)
	assert.True(t, line.Rate.IsZero())
	assert.True(t, form.Doc.GrandTotal.IsZero())
}

func TestSetItemCodeClearedSkipsLookup(t *testing.T) {
	form, backend := newTestForm("Acme")
	line := form.Doc.AddLine()
	line.Rate = dec("40")

	require.NoError(t, form.SetItemCode(context.Background(), line, ""))

	assert.Equal(t, 0, backend.itemCalls)
	assert.True(t, form.Doc.GrandTotal.Equal(dec("40")))
}

func TestSetItemCodeRemoteFailure(t *testing.T) {
	form, backend := newTestForm("Acme")
	backend.itemErr = erp.ErrRemote
	line := form.Doc.AddLine()

	err := form.SetItemCode(context.Background(), line, "WID-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, erp.ErrRemote))
	assert.Empty(t, line.ItemName)
}

// ============================================================================
// UOM CONVERSION
// ============================================================================

func TestSetUOMStockUnitNeedsNoLookup(t *testing.T) {
	form, backend := newTestForm("Acme")
	line := form.Doc.AddLine()
	line.ItemCode = "WID-1"
	line.StockUOM = "Nos"
	line.ConversionFactor = dec("12")

	require.NoError(t, form.SetUOM(context.Background(), line, "Nos"))

	assert.Equal(t, 0, backend.factorCalls)
	assert.True(t, line.ConversionFactor.Equal(dec("1")))
}

func TestSetUOMWithoutItemSetsUnitFactor(t *testing.T) {
	form, backend := newTestForm("Acme")
	line := form.Doc.AddLine()
	line.StockUOM = "Nos"
	line.ConversionFactor = dec("12")

	require.NoError(t, form.SetUOM(context.Background(), line, "Box"))

	assert.Equal(t, 0, backend.factorCalls)
	assert.Equal(t, "Box", line.UOM)
	assert.True(t, line.ConversionFactor.Equal(dec("1")))
}

func TestSetUOMLooksUpFactor(t *testing.T) {
	form, backend := newTestForm("Acme")
	line := form.Doc.AddLine()
	line.ItemCode = "WID-1"
	line.StockUOM = "Nos"

	require.NoError(t, form.SetUOM(context.Background(), line, "Box"))
	assert.Equal(t, 1, backend.factorCalls)
	assert.Equal(t, "Box", line.UOM)
	assert.True(t, line.ConversionFactor.Equal(dec("12")))

	require.NoError(t, form.SetUOM(context.Background(), line, "Pallet"))
	assert.Equal(t, 2, backend.factorCalls)
	assert.True(t, line.ConversionFactor.Equal(dec("1")), "missing record defaults to 1")
}

func TestSetUOMZeroFactorDefaults(t *testing.T) {
	form, backend := newTestForm("Acme")
	backend.factors["WID-1/Kg"] = decimal.Zero
	line := form.Doc.AddLine()
	line.ItemCode = "WID-1"
	line.StockUOM = "Nos"

	require.NoError(t, form.SetUOM(context.Background(), line, "Kg"))
	assert.True(t, line.ConversionFactor.Equal(dec("1")))
}

func TestSetUOMRequiresCustomer(t *testing.T) {
	form, backend := newTestForm("")
	line := form.Doc.AddLine()

	var verr *ValidationError
	require.ErrorAs(t, form.SetUOM(context.Background(), line, "Box"), &verr)
	assert.Equal(t, 0, backend.factorCalls)
	assert.Empty(t, line.UOM)
}

func TestSetUOMRemoteFailureKeepsFactor(t *testing.T) {
	form, backend := newTestForm("Acme")
	backend.factorErr = erp.ErrRemote
	line := form.Doc.AddLine()
	line.ItemCode = "WID-1"
	line.StockUOM = "Nos"
	line.ConversionFactor = dec("1")

	require.Error(t, form.SetUOM(context.Background(), line, "Box"))
	assert.True(t, line.ConversionFactor.Equal(dec("1")))
}

// ============================================================================
// AMOUNTS & TOTALS
// ============================================================================

func TestSetQtyRecomputesAmountOnly(t *testing.T) {
	form, _ := newTestForm("Acme")
	line := form.Doc.AddLine()
	require.NoError(t, form.SetItemCode(context.Background(), line, "WID-1"))

	require.NoError(t, form.SetQty(context.Background(), line, dec("3")))

	assert.True(t, line.Amount.Equal(dec("300")))
	assert.True(t, line.BaseAmount.Equal(line.Amount))
	assert.True(t, form.Doc.GrandTotal.Equal(dec("100")), "totals ignore qty")
}

func TestSetQtyGuard(t *testing.T) {
	form, _ := newTestForm("Acme")
	line := form.Doc.AddLine()
	line.Rate = dec("10")

	require.NoError(t, form.SetQty(context.Background(), line, dec("4")))
	assert.True(t, line.Amount.IsZero(), "no item code, no amount")

	line.ItemCode = "WID-1"
	line.Rate = decimal.Zero
	require.NoError(t, form.SetQty(context.Background(), line, dec("4")))
	assert.True(t, line.Amount.IsZero(), "zero rate, no amount")
}

func TestSetRateSyncsBaseRateAndTotals(t *testing.T) {
	form, _ := newTestForm("Acme")
	line := form.Doc.AddLine()
	require.NoError(t, form.SetItemCode(context.Background(), line, "WID-1"))
	require.NoError(t, form.SetQty(context.Background(), line, dec("2")))

	require.NoError(t, form.SetRate(context.Background(), line, dec("75.5")))

	assert.True(t, line.BaseRate.Equal(dec("75.5")))
	assert.True(t, line.Amount.Equal(dec("151")))
	assert.True(t, line.BaseAmount.Equal(dec("151")))
	assert.True(t, form.Doc.GrandTotal.Equal(dec("75.5")))
}

func TestQtyAndRateRequireCustomer(t *testing.T) {
	form, _ := newTestForm("")
	line := form.Doc.AddLine()
	var verr *ValidationError
	require.ErrorAs(t, form.SetQty(context.Background(), line, dec("2")), &verr)
	require.ErrorAs(t, form.SetRate(context.Background(), line, dec("2")), &verr)
	assert.True(t, line.Qty.IsZero())
	assert.True(t, line.Rate.IsZero())
}

func TestTotalsSumRatesRegardlessOfQty(t *testing.T) {
	form, _ := newTestForm("Acme")
	first := form.Doc.AddLine()
	second := form.Doc.AddLine()
	form.Doc.AddLine()

	require.NoError(t, form.SetItemCode(context.Background(), first, "WID-1"))
	require.NoError(t, form.SetItemCode(context.Background(), second, "GAD-2"))
	require.NoError(t, form.SetQty(context.Background(), first, dec("7")))
	require.NoError(t, form.SetQty(context.Background(), second, dec("3")))
	form.Refresh()

	for _, total := range []decimal.Decimal{form.Doc.BaseNetTotal, form.Doc.BaseGrandTotal, form.Doc.GrandTotal} {
		assert.True(t, total.Equal(dec("150")), "got %s", total)
	}
	assert.True(t, form.Doc.AmountTotal().Equal(dec("850")))
}

func TestRemoveLineDefersTotals(t *testing.T) {
	form, _ := newTestForm("Acme")
	first := form.Doc.AddLine()
	second := form.Doc.AddLine()
	require.NoError(t, form.SetItemCode(context.Background(), first, "WID-1"))
	require.NoError(t, form.SetItemCode(context.Background(), second, "GAD-2"))

	require.NoError(t, form.Doc.RemoveLine(1))
	assert.Equal(t, 1, second.Idx)
	assert.True(t, form.Doc.GrandTotal.Equal(dec("150")))

	form.Refresh()
	assert.True(t, form.Doc.GrandTotal.Equal(dec("50")))
	assert.ErrorIs(t, form.Doc.RemoveLine(5), ErrLineNotFound)
}

// ============================================================================
// CURRENCY
// ============================================================================

func TestSetCurrencyFetchesRate(t *testing.T) {
	form, backend := newTestForm("Acme")

	require.NoError(t, form.SetCurrency(context.Background(), "usd"))

	assert.Equal(t, "USD", form.Doc.Currency)
	assert.True(t, form.Doc.ConversionRate.Equal(dec("0.92")))
	assert.Equal(t, []string{"2024-05-02", "USD", "EUR"}, backend.rateArgs)
}

func TestSetCurrencySoftPreconditions(t *testing.T) {
	t.Run("no customer", func(t *testing.T) {
		form, backend := newTestForm("")
		require.NoError(t, form.SetCurrency(context.Background(), "EUR"))
		assert.Equal(t, "EUR", form.Doc.Currency)
		assert.Equal(t, 0, backend.currencyCalls)
	})
	t.Run("no reference currency", func(t *testing.T) {
		form, backend := newTestForm("Globex")
		require.NoError(t, form.SetCurrency(context.Background(), "EUR"))
		assert.Equal(t, 1, backend.currencyCalls)
		assert.Equal(t, 0, backend.rateCalls)
	})
	t.Run("zero rate keeps previous", func(t *testing.T) {
		form, backend := newTestForm("Acme")
		backend.rate = decimal.Zero
		form.Doc.ConversionRate = dec("1")
		require.NoError(t, form.SetCurrency(context.Background(), "GBP"))
		assert.True(t, form.Doc.ConversionRate.Equal(dec("1")))
	})
}

func TestSetCurrencyRejectsUnknownCode(t *testing.T) {
	form, backend := newTestForm("Acme")
	var verr *ValidationError
	require.ErrorAs(t, form.SetCurrency(context.Background(), "DOGE"), &verr)
	assert.Equal(t, "USD", form.Doc.Currency)
	assert.Equal(t, 0, backend.currencyCalls)
}
