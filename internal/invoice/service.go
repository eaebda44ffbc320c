package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
)

// OpenRequest describes a form to open. With Load set the document is fetched from the
// ERP; otherwise a new draft is started.
type OpenRequest struct {
	Name        string
	Customer    string
	Company     string
	Currency    string
	PostingDate time.Time
	Load        bool
}

// HeaderUpdate carries header field edits. Nil fields are left alone.
type HeaderUpdate struct {
	Customer    *string
	PostingDate *time.Time
	Currency    *string
}

// LineEdit carries line field edits. They are applied in the order item code, unit,
// quantity, rate; nil fields are skipped.
type LineEdit struct {
	ItemCode *string
	UOM      *string
	Qty      *decimal.Decimal
	Rate     *decimal.Decimal
}

// View is the state of a form returned to callers.
type View struct {
	Invoice  *Invoice `json:"invoice"`
	Gate     Gate     `json:"gate"`
	Messages []string `json:"messages,omitempty"`
}

// ConfirmResult is returned by a payment confirmation.
type ConfirmResult struct {
	Outcome  Outcome  `json:"outcome"`
	Invoice  *Invoice `json:"invoice"`
	Messages []string `json:"messages,omitempty"`
}

// Service runs form handlers against stored sessions. Every call locks the document,
// loads it, runs one handler and saves it again.
type Service struct {
	store   *Store
	client  erp.Client
	ledger  Ledger
	metrics *Metrics
	logger  *slog.Logger
	confirm singleflight.Group
	now     func() time.Time
}

// NewService constructs the form service. A nil ledger disables attempt recording.
func NewService(store *Store, client erp.Client, ledger Ledger, metrics *Metrics, logger *slog.Logger) *Service {
	if ledger == nil {
		ledger = NopLedger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		client:  client,
		ledger:  ledger,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

type formBackend struct {
	erp.Pricing
	erp.Currencies
	erp.Payments
}

func (s *Service) newForm(sess *Session) *Form {
	backend := formBackend{
		Pricing:    s.client,
		Currencies: s.client,
		Payments:   recordingPayments{next: s.client, ledger: s.ledger, logger: s.logger},
	}
	return NewForm(sess.Invoice, &sess.Gate, backend)
}

// ============================================================================
// FORM LIFECYCLE
// ============================================================================

// Open starts a new draft or loads a stored document into an editable form.
func (s *Service) Open(ctx context.Context, req OpenRequest) (view *View, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("open", start, err) }()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "name is required"}
	}
	unlock, err := s.store.Lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var doc *Invoice
	if req.Load {
		stored, err := s.client.Invoice(ctx, name)
		if errors.Is(err, erp.ErrNotFound) {
			return nil, ErrFormNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load invoice %s: %w", name, err)
		}
		if doc, err = FromDocument(stored); err != nil {
			return nil, err
		}
	} else {
		postingDate := req.PostingDate
		if postingDate.IsZero() {
			postingDate = s.now().UTC().Truncate(24 * time.Hour)
		}
		doc = &Invoice{
			Name:           name,
			Customer:       strings.TrimSpace(req.Customer),
			Company:        req.Company,
			ConversionRate: decimal.NewFromInt(1),
			PostingDate:    postingDate,
		}
	}

	sess := &Session{Invoice: doc}
	form := s.newForm(sess)
	if !req.Load && req.Currency != "" {
		if err := form.SetCurrency(ctx, req.Currency); err != nil {
			return nil, err
		}
	}
	if doc.DocStatus == DocStatusSubmitted {
		sess.Gate.State = GateResolved
	}
	form.Refresh()
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("invoice form opened", slog.String("invoice", name), slog.Bool("loaded", req.Load))
	return s.view(sess, form), nil
}

// Get returns the current state of an open form.
func (s *Service) Get(ctx context.Context, name string) (*View, error) {
	sess, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &View{Invoice: sess.Invoice, Gate: sess.Gate}, nil
}

// Refresh runs the refresh effects of the form.
func (s *Service) Refresh(ctx context.Context, name string) (*View, error) {
	return s.mutate(ctx, name, "refresh", func(form *Form) error {
		form.Refresh()
		return nil
	})
}

// Discard closes a form, dropping any unsaved state.
func (s *Service) Discard(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("discard", start, err) }()

	unlock, err := s.store.Lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.Delete(ctx, name)
}

// ============================================================================
// FIELD HANDLERS
// ============================================================================

// UpdateHeader applies header edits. A currency change runs the currency handler.
func (s *Service) UpdateHeader(ctx context.Context, name string, upd HeaderUpdate) (*View, error) {
	return s.mutate(ctx, name, "header", func(form *Form) error {
		if err := editable(form); err != nil {
			return err
		}
		if upd.Customer != nil {
			form.Doc.Customer = strings.TrimSpace(*upd.Customer)
		}
		if upd.PostingDate != nil {
			form.Doc.PostingDate = *upd.PostingDate
		}
		if upd.Currency != nil {
			return form.SetCurrency(ctx, strings.TrimSpace(*upd.Currency))
		}
		return nil
	})
}

// AddLine appends a row and applies the given edits to it.
func (s *Service) AddLine(ctx context.Context, name string, edit LineEdit) (*View, error) {
	return s.mutate(ctx, name, "add_line", func(form *Form) error {
		if err := editable(form); err != nil {
			return err
		}
		return applyLineEdit(ctx, form, form.Doc.AddLine(), edit)
	})
}

// EditLine applies edits to the row with the given 1-based index.
func (s *Service) EditLine(ctx context.Context, name string, idx int, edit LineEdit) (*View, error) {
	return s.mutate(ctx, name, "edit_line", func(form *Form) error {
		if err := editable(form); err != nil {
			return err
		}
		line, err := form.Doc.Line(idx)
		if err != nil {
			return err
		}
		return applyLineEdit(ctx, form, line, edit)
	})
}

// RemoveLine deletes a row. Totals are not recomputed.
func (s *Service) RemoveLine(ctx context.Context, name string, idx int) (*View, error) {
	return s.mutate(ctx, name, "remove_line", func(form *Form) error {
		if err := editable(form); err != nil {
			return err
		}
		return form.Doc.RemoveLine(idx)
	})
}

func applyLineEdit(ctx context.Context, form *Form, line *Line, edit LineEdit) error {
	if edit.ItemCode != nil {
		if err := form.SetItemCode(ctx, line, strings.TrimSpace(*edit.ItemCode)); err != nil {
			return err
		}
	}
	if edit.UOM != nil {
		if err := form.SetUOM(ctx, line, strings.TrimSpace(*edit.UOM)); err != nil {
			return err
		}
	}
	if edit.Qty != nil {
		if err := form.SetQty(ctx, line, *edit.Qty); err != nil {
			return err
		}
	}
	if edit.Rate != nil {
		if err := form.SetRate(ctx, line, *edit.Rate); err != nil {
			return err
		}
	}
	return nil
}

// editable guards every document edit. An open payment dialog is dismissed because its
// amount would no longer match the grand total.
func editable(form *Form) error {
	if err := form.Doc.requireDraft(); err != nil {
		return err
	}
	if form.Gate.state() == GateSubmitting {
		return ErrGateBusy
	}
	form.Gate.Close()
	return nil
}

// ============================================================================
// SUBMISSION
// ============================================================================

// BeginSubmit opens the payment dialog.
func (s *Service) BeginSubmit(ctx context.Context, name string) (*Dialog, error) {
	var dialog Dialog
	_, err := s.mutate(ctx, name, "before_submit", func(form *Form) error {
		var err error
		dialog, err = form.BeforeSubmit()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &dialog, nil
}

// ConfirmPayment runs the dialog's primary action. Concurrent confirmations of the same
// document share one payment-entry call.
func (s *Service) ConfirmPayment(ctx context.Context, name string, input PaymentInput) (*ConfirmResult, error) {
	ch := s.confirm.DoChan(name, func() (interface{}, error) {
		return s.confirmPayment(context.WithoutCancel(ctx), name, input)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ConfirmResult), nil
	}
}

func (s *Service) confirmPayment(ctx context.Context, name string, input PaymentInput) (*ConfirmResult, error) {
	var result *ConfirmResult
	_, err := s.mutate(ctx, name, "confirm_payment", func(form *Form) error {
		attempts := form.Gate.Attempts
		outcome, err := form.ConfirmPayment(ctx, input)
		if form.Gate.Attempts != attempts {
			s.metrics.payment(outcome.State)
		}
		if err != nil {
			return err
		}
		s.logger.Info("payment entry created",
			slog.String("invoice", name),
			slog.String("payment_entry", outcome.PaymentEntry),
			slog.String("attempt", form.Gate.AttemptID))
		s.reload(ctx, form)
		result = &ConfirmResult{Outcome: outcome, Invoice: form.Doc, Messages: form.Messages()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reload replaces the local document with the stored one after submission. The local
// state is kept when the ERP cannot be reached.
func (s *Service) reload(ctx context.Context, form *Form) {
	stored, err := s.client.Invoice(ctx, form.Doc.Name)
	if err != nil {
		s.logger.Warn("reload submitted invoice", slog.String("invoice", form.Doc.Name), slog.Any("error", err))
		return
	}
	doc, err := FromDocument(stored)
	if err != nil {
		s.logger.Warn("reload submitted invoice", slog.String("invoice", form.Doc.Name), slog.Any("error", err))
		return
	}
	if doc.DocStatus == DocStatusDraft {
		doc.DocStatus = DocStatusSubmitted
	}
	*form.Doc = *doc
}

// Attempts lists the recorded payment attempts of an invoice.
func (s *Service) Attempts(ctx context.Context, name string) ([]Attempt, error) {
	return s.ledger.List(ctx, name)
}

// ============================================================================
// HELPERS
// ============================================================================

// mutate locks and loads a form, runs fn and saves the form whatever fn returned, so
// that field edits survive remote failures. Precondition errors leave the document as it
// was because handlers check them before mutating; a dismissed dialog stays dismissed.
func (s *Service) mutate(ctx context.Context, name, handler string, fn func(*Form) error) (view *View, err error) {
	start := time.Now()
	defer func() { s.metrics.observe(handler, start, err) }()

	unlock, err := s.store.Lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	form := s.newForm(sess)
	fnErr := fn(form)
	if fnErr != nil {
		s.logger.Debug("invoice handler failed", slog.String("invoice", name),
			slog.String("handler", handler), slog.Any("error", fnErr))
	}
	s.checkTotals(sess.Invoice)
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	if fnErr != nil {
		return nil, fnErr
	}
	return s.view(sess, form), nil
}

func (s *Service) view(sess *Session, form *Form) *View {
	return &View{Invoice: sess.Invoice, Gate: sess.Gate, Messages: form.Messages()}
}

func (s *Service) checkTotals(doc *Invoice) {
	if amounts := doc.AmountTotal(); !amounts.Equal(doc.GrandTotal) {
		s.logger.Debug("invoice totals follow line rates, not amounts",
			slog.String("invoice", doc.Name),
			slog.String("grand_total", doc.GrandTotal.String()),
			slog.String("amount_total", amounts.String()))
	}
}
