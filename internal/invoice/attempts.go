package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
	"github.com/odyssey-erp/odyssey-invoice/internal/platform/db"
)

// AttemptOutcome records how a payment attempt ended.
type AttemptOutcome string

const (
	AttemptPending       AttemptOutcome = "pending"
	AttemptResolved      AttemptOutcome = "resolved"
	AttemptBusinessError AttemptOutcome = "business_error"
	AttemptFailed        AttemptOutcome = "failed"
)

// ErrDuplicateAttempt indicates the idempotency key of an attempt was already used.
var ErrDuplicateAttempt = errors.New("payment attempt already recorded")

// Attempt is one row of the payment attempt ledger.
type Attempt struct {
	ID            string          `json:"id"`
	Invoice       string          `json:"invoice"`
	ModeOfPayment string          `json:"mode_of_payment"`
	Amount        decimal.Decimal `json:"amount"`
	Outcome       AttemptOutcome  `json:"outcome"`
	PaymentEntry  string          `json:"payment_entry,omitempty"`
	Message       string          `json:"message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
}

// Ledger records payment attempts.
type Ledger interface {
	Begin(ctx context.Context, req erp.PaymentRequest) error
	Settle(ctx context.Context, id string, outcome AttemptOutcome, paymentEntry, message string) error
	List(ctx context.Context, invoice string) ([]Attempt, error)
}

// AttemptLedger persists attempts in PostgreSQL.
type AttemptLedger struct {
	pool *pgxpool.Pool
}

// NewAttemptLedger constructs the ledger.
func NewAttemptLedger(pool *pgxpool.Pool) *AttemptLedger {
	return &AttemptLedger{pool: pool}
}

// Begin inserts a pending attempt. It fails with ErrAlreadySubmitted when the invoice
// already has a resolved attempt and with ErrDuplicateAttempt when the key was used.
func (l *AttemptLedger) Begin(ctx context.Context, req erp.PaymentRequest) error {
	if req.IdempotencyKey == "" {
		return errors.New("payment attempt requires an idempotency key")
	}
	return db.WithTx(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var resolved bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM invoice_payment_attempts WHERE invoice=$1 AND outcome=$2)`,
			req.SalesInvoice, AttemptResolved).Scan(&resolved)
		if err != nil {
			return fmt.Errorf("check payment attempts %s: %w", req.SalesInvoice, err)
		}
		if resolved {
			return ErrAlreadySubmitted
		}
		_, err = tx.Exec(ctx, `INSERT INTO invoice_payment_attempts
            (id, invoice, mode_of_payment, amount, outcome, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			req.IdempotencyKey, req.SalesInvoice, req.ModeOfPayment, req.Amount, AttemptPending, time.Now().UTC())
		if isUniqueViolation(err) {
			return ErrDuplicateAttempt
		}
		if err != nil {
			return fmt.Errorf("insert payment attempt: %w", err)
		}
		return nil
	})
}

// Settle stores the outcome of a pending attempt.
func (l *AttemptLedger) Settle(ctx context.Context, id string, outcome AttemptOutcome, paymentEntry, message string) error {
	tag, err := l.pool.Exec(ctx, `UPDATE invoice_payment_attempts
        SET outcome=$2, payment_entry=NULLIF($3, ''), message=NULLIF($4, ''), settled_at=$5
        WHERE id=$1 AND outcome=$6`,
		id, outcome, paymentEntry, message, time.Now().UTC(), AttemptPending)
	if isUniqueViolation(err) {
		return ErrAlreadySubmitted
	}
	if err != nil {
		return fmt.Errorf("settle payment attempt %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settle payment attempt %s: %w", id, pgx.ErrNoRows)
	}
	return nil
}

// List returns the attempts of an invoice, newest first.
func (l *AttemptLedger) List(ctx context.Context, invoice string) ([]Attempt, error) {
	rows, err := l.pool.Query(ctx, `SELECT id::text, invoice, mode_of_payment, amount, outcome,
        COALESCE(payment_entry, ''), COALESCE(message, ''), created_at, settled_at
        FROM invoice_payment_attempts WHERE invoice=$1 ORDER BY created_at DESC`, invoice)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts %s: %w", invoice, err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.Invoice, &a.ModeOfPayment, &a.Amount, &a.Outcome,
			&a.PaymentEntry, &a.Message, &a.CreatedAt, &a.SettledAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// NopLedger discards attempts.
type NopLedger struct{}

func (NopLedger) Begin(context.Context, erp.PaymentRequest) error { return nil }

func (NopLedger) Settle(context.Context, string, AttemptOutcome, string, string) error { return nil }

func (NopLedger) List(context.Context, string) ([]Attempt, error) { return nil, nil }

// recordingPayments brackets every payment-entry call with ledger writes so that no
// attempt key reaches the ERP twice.
type recordingPayments struct {
	next   erp.Payments
	ledger Ledger
	logger *slog.Logger
}

func (p recordingPayments) CreatePaymentEntry(ctx context.Context, req erp.PaymentRequest) (erp.PaymentResult, error) {
	if err := p.ledger.Begin(ctx, req); err != nil {
		return erp.PaymentResult{}, err
	}
	result, err := p.next.CreatePaymentEntry(ctx, req)

	outcome, message := AttemptResolved, ""
	switch {
	case err != nil:
		outcome, message = AttemptFailed, err.Error()
	case result.Error != "":
		outcome, message = AttemptBusinessError, result.Error
	case result.PaymentEntry == "":
		outcome, message = AttemptFailed, "empty payment entry name"
	}
	if settleErr := p.ledger.Settle(context.WithoutCancel(ctx), req.IdempotencyKey, outcome, result.PaymentEntry, message); settleErr != nil {
		p.logger.Error("record payment attempt", slog.String("invoice", req.SalesInvoice),
			slog.String("attempt", req.IdempotencyKey), slog.Any("error", settleErr))
	}
	return result, err
}
