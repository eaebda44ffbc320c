package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

type openRequest struct {
	Name        string `json:"name" validate:"required,max=140"`
	Customer    string `json:"customer" validate:"max=140"`
	Company     string `json:"company" validate:"max=140"`
	Currency    string `json:"currency" validate:"max=3"`
	PostingDate string `json:"posting_date" validate:"omitempty,datetime=2006-01-02"`
	Load        bool   `json:"load"`
}

func (r openRequest) toDomain() OpenRequest {
	req := OpenRequest{
		Name:     r.Name,
		Customer: r.Customer,
		Company:  r.Company,
		Currency: r.Currency,
		Load:     r.Load,
	}
	if r.PostingDate != "" {
		req.PostingDate, _ = time.Parse(time.DateOnly, r.PostingDate)
	}
	return req
}

type headerRequest struct {
	Customer    *string `json:"customer" validate:"omitempty,max=140"`
	PostingDate *string `json:"posting_date" validate:"omitempty,datetime=2006-01-02"`
	Currency    *string `json:"currency" validate:"omitempty,max=3"`
}

func (r headerRequest) toDomain() HeaderUpdate {
	upd := HeaderUpdate{Customer: r.Customer, Currency: r.Currency}
	if r.PostingDate != nil {
		if date, err := time.Parse(time.DateOnly, *r.PostingDate); err == nil {
			upd.PostingDate = &date
		}
	}
	return upd
}

type lineRequest struct {
	ItemCode *string          `json:"item_code" validate:"omitempty,max=140"`
	UOM      *string          `json:"uom" validate:"omitempty,max=140"`
	Qty      *decimal.Decimal `json:"qty"`
	Rate     *decimal.Decimal `json:"rate"`
}

func (r lineRequest) toDomain() LineEdit {
	return LineEdit{ItemCode: r.ItemCode, UOM: r.UOM, Qty: r.Qty, Rate: r.Rate}
}
