package frappe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
)

const (
	// InvoiceDoctype is the doctype of the customized invoice.
	InvoiceDoctype = "Custom Sales Invoice"

	methodGetDoc       = "frappe.client.get"
	methodGetValue     = "frappe.client.get_value"
	methodExchangeRate = "erpnext.setup.utils.get_exchange_rate"
)

// ItemDetails calls the custom app's get_item_details method.
func (c *Client) ItemDetails(ctx context.Context, customer, itemCode string) (*erp.ItemDetails, error) {
	msg, err := c.call(ctx, c.module+".get_item_details", map[string]any{
		"customer":  customer,
		"item_code": itemCode,
	})
	if err != nil {
		return nil, err
	}
	if isNull(msg) {
		return nil, nil
	}
	var details erp.ItemDetails
	if err := json.Unmarshal(msg, &details); err != nil {
		return nil, fmt.Errorf("%w: decode item details: %v", erp.ErrRemote, err)
	}
	return &details, nil
}

// ConversionFactor fetches the Item UOM row for the item and unit.
func (c *Client) ConversionFactor(ctx context.Context, itemCode, uom string) (decimal.Decimal, bool, error) {
	msg, err := c.call(ctx, methodGetDoc, map[string]any{
		"doctype": "Item UOM",
		"filters": map[string]string{
			"parent": itemCode,
			"uom":    uom,
		},
	})
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) && remote.NotFound() {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	if isNull(msg) {
		return decimal.Zero, false, nil
	}
	var row struct {
		ConversionFactor decimal.Decimal `json:"conversion_factor"`
	}
	if err := json.Unmarshal(msg, &row); err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: decode item uom: %v", erp.ErrRemote, err)
	}
	return row.ConversionFactor, true, nil
}

// CustomerCurrency reads the customer's default_currency.
func (c *Client) CustomerCurrency(ctx context.Context, customer string) (string, error) {
	msg, err := c.call(ctx, methodGetValue, map[string]any{
		"doctype":   "Customer",
		"filters":   map[string]string{"name": customer},
		"fieldname": "default_currency",
	})
	if err != nil {
		return "", err
	}
	if isNull(msg) {
		return "", nil
	}
	var value struct {
		DefaultCurrency string `json:"default_currency"`
	}
	if err := json.Unmarshal(msg, &value); err != nil {
		return "", fmt.Errorf("%w: decode customer currency: %v", erp.ErrRemote, err)
	}
	return value.DefaultCurrency, nil
}

// ExchangeRate asks ERPNext for the rate between two currencies on a date.
func (c *Client) ExchangeRate(ctx context.Context, date time.Time, from, to string) (decimal.Decimal, error) {
	args := map[string]any{
		"from_currency": from,
		"to_currency":   to,
	}
	if !date.IsZero() {
		args["transaction_date"] = date.Format(time.DateOnly)
	}
	msg, err := c.call(ctx, methodExchangeRate, args)
	if err != nil {
		return decimal.Zero, err
	}
	if isNull(msg) {
		return decimal.Zero, nil
	}
	var rate decimal.Decimal
	if err := rate.UnmarshalJSON(msg); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode exchange rate: %v", erp.ErrRemote, err)
	}
	return rate, nil
}

// CreatePaymentEntry calls the custom app's create_payment_entry method. The server
// may answer with a bare entry name, a {payment_entry_name} object or an {error} object.
func (c *Client) CreatePaymentEntry(ctx context.Context, req erp.PaymentRequest) (erp.PaymentResult, error) {
	msg, err := c.call(ctx, c.module+".create_payment_entry", map[string]any{
		"sales_invoice":   req.SalesInvoice,
		"mode_of_payment": req.ModeOfPayment,
		"amount":          req.Amount.String(),
	})
	if err != nil {
		return erp.PaymentResult{}, err
	}
	if isNull(msg) {
		return erp.PaymentResult{}, fmt.Errorf("%w: empty payment entry response", erp.ErrRemote)
	}
	var name string
	if err := json.Unmarshal(msg, &name); err == nil {
		return erp.PaymentResult{PaymentEntry: name}, nil
	}
	var result erp.PaymentResult
	if err := json.Unmarshal(msg, &result); err != nil {
		return erp.PaymentResult{}, fmt.Errorf("%w: decode payment entry: %v", erp.ErrRemote, err)
	}
	if result.PaymentEntry == "" && result.Error == "" {
		return erp.PaymentResult{}, fmt.Errorf("%w: payment entry response without name", erp.ErrRemote)
	}
	return result, nil
}

// Invoice loads a stored invoice document.
func (c *Client) Invoice(ctx context.Context, name string) (*erp.Document, error) {
	data, err := c.resource(ctx, http.MethodGet, InvoiceDoctype, name, nil, nil)
	if err != nil {
		return nil, err
	}
	if isNull(data) {
		return nil, &RemoteError{Status: http.StatusNotFound, ExcType: "DoesNotExistError", Message: name}
	}
	var doc erp.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode invoice: %v", erp.ErrRemote, err)
	}
	return &doc, nil
}

// Customers lists every customer name.
func (c *Client) Customers(ctx context.Context) ([]string, error) {
	query := url.Values{}
	query.Set("fields", `["name"]`)
	query.Set("limit_page_length", "0")
	data, err := c.resource(ctx, http.MethodGet, "Customer", "", query, nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Name string `json:"name"`
	}
	if !isNull(data) {
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("%w: decode customers: %v", erp.ErrRemote, err)
		}
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if name := strings.TrimSpace(row.Name); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// SetCustomerPriceList updates the customer's default_price_list.
func (c *Client) SetCustomerPriceList(ctx context.Context, customer, priceList string) error {
	_, err := c.resource(ctx, http.MethodPut, "Customer", customer, nil, map[string]string{
		"default_price_list": priceList,
	})
	return err
}
