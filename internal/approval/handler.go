package approval

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/genbaflow/genbaflow/internal/platform/httpx"
)

// Handler exposes the approval endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers invoice approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices/{id}/submit", h.submit)
	r.Post("/invoices/{id}/open", h.open)
	r.Post("/invoices/{id}/approve", h.approve)
	r.Post("/invoices/{id}/reject", h.reject)
	r.Post("/invoices/{id}/return_invoice", h.returnInvoice)
	r.Post("/invoices/{id}/acknowledge", h.acknowledge)
	r.Post("/invoices/bulk_approve", h.bulkApprove)
	r.Post("/invoices/batch_approve", h.bulkApprove)
	r.Post("/invoices/batch_reject", h.batchReject)
	r.Get("/invoices/{id}", h.detail)
	r.Get("/invoices/{id}/history", h.history)
}

type submitRequest struct {
	SpecialPassword string `json:"special_password"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type requiredCommentRequest struct {
	Comment string `json:"comment" validate:"required"`
}

type batchRequest struct {
	InvoiceIDs []int64 `json:"invoice_ids" validate:"required,min=1"`
	Comment    string  `json:"comment"`
}

type batchRejectRequest struct {
	InvoiceIDs []int64 `json:"invoice_ids" validate:"required,min=1"`
	Comment    string  `json:"comment" validate:"required"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	invoiceID, actorID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
			return
		}
	}
	inv, err := h.service.Submit(r.Context(), invoiceID, actorID, req.SpecialPassword)
	h.respond(w, inv, err)
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	invoiceID, actorID, ok := h.ids(w, r)
	if !ok {
		return
	}
	inv, err := h.service.OpenForApproval(r.Context(), invoiceID, actorID)
	h.respond(w, inv, err)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	invoiceID, actorID, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
			return
		}
	}
	inv, err := h.service.Approve(r.Context(), invoiceID, actorID, req.Comment)
	h.respond(w, inv, err)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	invoiceID, actorID, ok := h.ids(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeRequiredComment(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Reject(r.Context(), invoiceID, actorID, req.Comment)
	h.respond(w, inv, err)
}

func (h *Handler) returnInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, actorID, ok := h.ids(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeRequiredComment(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Return(r.Context(), invoiceID, actorID, req.Comment)
	h.respond(w, inv, err)
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	invoiceID, actorID, ok := h.ids(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Acknowledge(r.Context(), invoiceID, actorID)
	h.respond(w, inv, err)
}

func (h *Handler) bulkApprove(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invoice_ids is required")
		return
	}
	results := h.service.BulkApprove(r.Context(), req.InvoiceIDs, actorID, req.Comment)
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) batchReject(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req batchRejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invoice_ids and comment are required")
		return
	}
	results := h.service.BatchReject(r.Context(), req.InvoiceIDs, actorID, req.Comment)
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) detail(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetInvoiceDetail(r.Context(), invoiceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListHistory(r.Context(), invoiceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) decodeRequiredComment(w http.ResponseWriter, r *http.Request) (requiredCommentRequest, bool) {
	var req requiredCommentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, "Validation Failed", CodeCommentRequired, "comment is required")
		return req, false
	}
	return req, true
}

func (h *Handler) ids(w http.ResponseWriter, r *http.Request) (invoiceID, actorID int64, ok bool) {
	invoiceID, ok = h.invoiceID(w, r)
	if !ok {
		return 0, 0, false
	}
	actorID, ok = h.actor(w, r)
	if !ok {
		return 0, 0, false
	}
	return invoiceID, actorID, true
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return 0, false
	}
	return id, true
}

// actor reads the acting user from the X-Actor-ID header. Authentication
// mechanics live outside this service; the header is trusted as resolved
// identity.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "missing or invalid X-Actor-ID header")
		return 0, false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, inv Invoice, err error) {
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	e, ok := AsError(err)
	if !ok {
		if h.logger != nil {
			h.logger.Error("approval transition", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	status := statusForKind(e.Kind)
	httpx.ProblemCode(w, status, titleForKind(e.Kind), e.Code, e.Message)
}

func statusForKind(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindInvalidState, KindDuplicateApproval, KindNoApprover:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func titleForKind(kind Kind) string {
	switch kind {
	case KindValidation:
		return "Validation Failed"
	case KindNotFound:
		return "Not Found"
	case KindPermissionDenied:
		return "Permission Denied"
	case KindInvalidState:
		return "Invalid State"
	case KindDuplicateApproval:
		return "Duplicate Approval"
	case KindNoApprover:
		return "No Approver Available"
	default:
		return "Internal Error"
	}
}
