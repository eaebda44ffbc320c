package invoice

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
	"github.com/odyssey-erp/odyssey-invoice/internal/platform/httpx"
)

// Handler exposes the form service over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, validator: v}
}

// MountRoutes registers invoice form routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.open)
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/", h.updateHeader)
		r.Delete("/", h.discard)
		r.Post("/refresh", h.refresh)

		r.Post("/items", h.addLine)
		r.Patch("/items/{idx}", h.editLine)
		r.Delete("/items/{idx}", h.removeLine)

		r.Post("/submit", h.beginSubmit)
		r.Post("/submit/confirm", h.confirmPayment)
		r.Get("/attempts", h.attempts)
	})
}

// ============================================================================
// FORM HANDLERS
// ============================================================================

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.service.Open(r.Context(), req.toDomain())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) updateHeader(w http.ResponseWriter, r *http.Request) {
	var req headerRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.service.UpdateHeader(r.Context(), chi.URLParam(r, "name"), req.toDomain())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Refresh(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Discard(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// LINE HANDLERS
// ============================================================================

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.service.AddLine(r.Context(), chi.URLParam(r, "name"), req.toDomain())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, view)
}

func (h *Handler) editLine(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.lineIndex(w, r)
	if !ok {
		return
	}
	var req lineRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.service.EditLine(r.Context(), chi.URLParam(r, "name"), idx, req.toDomain())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	idx, ok := h.lineIndex(w, r)
	if !ok {
		return
	}
	view, err := h.service.RemoveLine(r.Context(), chi.URLParam(r, "name"), idx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

// ============================================================================
// SUBMISSION HANDLERS
// ============================================================================

func (h *Handler) beginSubmit(w http.ResponseWriter, r *http.Request) {
	dialog, err := h.service.BeginSubmit(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"dialog": dialog})
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentInput
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.ConfirmPayment(r.Context(), chi.URLParam(r, "name"), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) attempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.service.Attempts(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []Attempt{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			h.respondError(w, r, err)
			return false
		}
		problems := make(map[string]string, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			problems[fieldErr.Field()] = fieldErr.Error()
		}
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Errors: problems,
		})
		return false
	}
	return true
}

func (h *Handler) lineIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil || idx < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "line index must be a positive integer")
		return 0, false
	}
	return idx, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	var rejected *PaymentRejectedError
	switch {
	case errors.As(err, &verr):
		problem := httpx.ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: verr.Message,
		}
		if verr.Field != "" {
			problem.Errors = map[string]string{verr.Field: verr.Message}
		}
		httpx.WriteProblem(w, problem)
	case errors.As(err, &rejected):
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Title:  "Payment Rejected",
			Status: http.StatusUnprocessableEntity,
			Detail: rejected.Message,
			Data:   map[string]any{"dialog": rejected.Dialog},
		})
	case errors.Is(err, ErrFormNotFound), errors.Is(err, ErrLineNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrInvoiceCancelled),
		errors.Is(err, ErrGateBusy),
		errors.Is(err, ErrGateNotOpen),
		errors.Is(err, ErrFormLocked),
		errors.Is(err, ErrFormExists),
		errors.Is(err, ErrDuplicateAttempt):
		httpx.Problem(w, http.StatusConflict, "Conflict", conflictDetail(err))
	case errors.Is(err, ErrPaymentFailed):
		h.logger.Error("payment entry creation", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", MsgUnexpectedError)
	case errors.Is(err, erp.ErrRemote):
		h.logger.Error("erp call", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", err.Error())
	default:
		h.logger.Error("invoice request", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func conflictDetail(err error) string {
	for _, sentinel := range []error{ErrAlreadySubmitted, ErrInvoiceCancelled, ErrGateBusy, ErrGateNotOpen, ErrFormLocked, ErrFormExists, ErrDuplicateAttempt} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
