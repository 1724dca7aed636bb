package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/platform/errors"
	"github.com/brokerops/be-commissions/internal/platform/logger"
	"github.com/brokerops/be-commissions/internal/platform/middleware"
	"github.com/brokerops/be-commissions/internal/repository"
	"github.com/brokerops/be-commissions/internal/service"
)

const (
	dateLayout        = "2006-01-02"
	maxBodyBytes      = 1 << 20
	idempotencyHeader = "Idempotency-Key"
)

// CommissionAPI is the commission surface used by the transports.
// Implemented by service.CommissionService.
type CommissionAPI interface {
	Preview(ctx context.Context, req *service.CreateCommissionRequest) (engine.Allocation, error)
	CreateCommission(ctx context.Context, req *service.CreateCommissionRequest) (*repository.Commission, error)
	GetCommission(ctx context.Context, id string) (*repository.Commission, error)
	ListCommissions(ctx context.Context, req *service.ListCommissionsRequest) ([]*repository.Commission, int64, error)
	ApproveCommission(ctx context.Context, id, approvedBy string) (*repository.Commission, error)
	PayCommission(ctx context.Context, id, paidBy string) (*repository.Commission, error)
	GetAuditTrail(ctx context.Context, id string) ([]*repository.AuditEntry, error)
}

// DebtAPI is the debt and deduction surface used by the transports.
// Implemented by service.DebtService.
type DebtAPI interface {
	CreateDebt(ctx context.Context, req *service.CreateDebtRequest) (*repository.Debt, error)
	GetDebt(ctx context.Context, id string) (*repository.Debt, error)
	FetchPendingAutoDeduct(ctx context.Context, employeeIDs []string) ([]*service.DebtorDebts, error)
	DeductionCandidates(ctx context.Context, commissionID string) ([]*service.EmployeeCandidates, error)
	SubmitDeductions(ctx context.Context, req *service.SubmitDeductionsRequest) (*repository.BatchResult, error)
	ListDeductions(ctx context.Context, commissionID string) ([]*repository.Deduction, error)
	RecordPayment(ctx context.Context, debtID string, paid decimal.Decimal, recordedBy string) (*repository.Debt, error)
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	commissions CommissionAPI
	debts       DebtAPI
	validate    *validator.Validate
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(commissions CommissionAPI, debts DebtAPI, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		commissions: commissions,
		debts:       debts,
		validate:    newValidator(),
		log:         log,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes returns the API router, to be mounted under /api/v1.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/commissions", func(r chi.Router) {
		r.Post("/preview", h.PreviewCommission)
		r.Post("/", h.CreateCommission)
		r.Get("/", h.ListCommissions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCommission)
			r.Post("/approve", h.ApproveCommission)
			r.Post("/pay", h.PayCommission)
			r.Get("/deduction-candidates", h.DeductionCandidates)
			r.Get("/deductions", h.ListDeductions)
			r.Post("/deductions", h.SubmitDeductions)
			r.Get("/audit", h.AuditTrail)
		})
	})
	r.Route("/debts", func(r chi.Router) {
		r.Post("/", h.CreateDebt)
		r.Get("/pending-auto-deduct", h.PendingAutoDeduct)
		r.Get("/{id}", h.GetDebt)
		r.Post("/{id}/payments", h.RecordPayment)
	})
	return r
}

// PreviewCommission computes an allocation without persisting it
func (h *HTTPHandler) PreviewCommission(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !h.decode(w, r, &req) {
		return
	}

	alloc, err := h.commissions.Preview(r.Context(), &service.CreateCommissionRequest{
		TotalAmount: *req.TotalAmount,
		EmployeeIDs: req.EmployeeIDs,
		Percentages: toPercentages(req.Percentages),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationResponse(alloc))
}

// CreateCommission handles create commission HTTP requests
func (h *HTTPHandler) CreateCommission(w http.ResponseWriter, r *http.Request) {
	var req createCommissionRequest
	if !h.decode(w, r, &req) {
		return
	}

	commission, err := h.commissions.CreateCommission(r.Context(), &service.CreateCommissionRequest{
		ClientName:       req.ClientName,
		TransactionLabel: req.TransactionLabel,
		TotalAmount:      *req.TotalAmount,
		EmployeeIDs:      req.EmployeeIDs,
		Percentages:      toPercentages(req.Percentages),
		CreatedBy:        middleware.GetActor(r.Context()),
		IdempotencyKey:   strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommissionResponse(commission))
}

// GetCommission handles get commission HTTP requests
func (h *HTTPHandler) GetCommission(w http.ResponseWriter, r *http.Request) {
	commission, err := h.commissions.GetCommission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionResponse(commission))
}

// ListCommissions handles list commissions HTTP requests
func (h *HTTPHandler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	req := &service.ListCommissionsRequest{
		Status:     strings.TrimSpace(q.Get("status")),
		EmployeeID: strings.TrimSpace(q.Get("employee_id")),
		Page:       page,
		PageSize:   pageSize,
	}

	commissions, total, err := h.commissions.ListCommissions(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]commissionResponse, 0, len(commissions))
	for _, c := range commissions {
		items = append(items, toCommissionResponse(c))
	}
	page, pageSize = service.PageBounds(page, pageSize)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commissions": items,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
	})
}

// ApproveCommission handles approve commission HTTP requests
func (h *HTTPHandler) ApproveCommission(w http.ResponseWriter, r *http.Request) {
	commission, err := h.commissions.ApproveCommission(r.Context(), chi.URLParam(r, "id"), middleware.GetActor(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionResponse(commission))
}

// PayCommission handles pay commission HTTP requests
func (h *HTTPHandler) PayCommission(w http.ResponseWriter, r *http.Request) {
	commission, err := h.commissions.PayCommission(r.Context(), chi.URLParam(r, "id"), middleware.GetActor(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionResponse(commission))
}

// AuditTrail returns the audit entries of a commission
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.commissions.GetAuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": toAudit(entries)})
}

// DeductionCandidates lists the debts to decide on before finalizing
func (h *HTTPHandler) DeductionCandidates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	groups, err := h.debts.DeductionCandidates(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commission_id": id,
		"employees":     toCandidates(groups),
	})
}

// SubmitDeductions applies a batch of deduct/defer decisions
func (h *HTTPHandler) SubmitDeductions(w http.ResponseWriter, r *http.Request) {
	var req submitDeductionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	decisions := make([]service.DecisionRequest, len(req.Decisions))
	for i, d := range req.Decisions {
		decisions[i] = service.DecisionRequest{
			EmployeeID: d.EmployeeID,
			DebtID:     d.DebtID,
			Action:     d.Action,
			Amount:     d.Amount,
			Reason:     d.Reason,
		}
	}

	result, err := h.debts.SubmitDeductions(r.Context(), &service.SubmitDeductionsRequest{
		CommissionID: chi.URLParam(r, "id"),
		Decisions:    decisions,
		DecidedBy:    middleware.GetActor(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{
		Commission: toCommissionResponse(result.Commission),
		Deductions: toDeductions(result.Deductions),
		Debts:      toDebtResponses(result.Debts),
	})
}

// ListDeductions returns the recorded decisions of a commission
func (h *HTTPHandler) ListDeductions(w http.ResponseWriter, r *http.Request) {
	deductions, err := h.debts.ListDeductions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deductions": toDeductions(deductions)})
}

// CreateDebt handles create debt HTTP requests
func (h *HTTPHandler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	var req createDebtRequest
	if !h.decode(w, r, &req) {
		return
	}

	var dueDate *time.Time
	if req.DueDate != "" {
		parsed, err := time.Parse(dateLayout, req.DueDate)
		if err != nil {
			h.writeError(w, r, errors.InvalidInput("due_date", "due date must be YYYY-MM-DD"))
			return
		}
		dueDate = &parsed
	}

	debt, err := h.debts.CreateDebt(r.Context(), &service.CreateDebtRequest{
		DebtorID:    req.DebtorID,
		DebtorName:  req.DebtorName,
		DebtorType:  req.DebtorType,
		Amount:      *req.Amount,
		Description: req.Description,
		DueDate:     dueDate,
		Priority:    req.Priority,
		AutoDeduct:  req.AutoDeduct,
		CreatedBy:   middleware.GetActor(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDebtResponse(debt))
}

// GetDebt handles get debt HTTP requests
func (h *HTTPHandler) GetDebt(w http.ResponseWriter, r *http.Request) {
	debt, err := h.debts.GetDebt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtResponse(debt))
}

// PendingAutoDeduct lists pending auto-deduct debts grouped by debtor.
// employee_id may be repeated or comma separated.
func (h *HTTPHandler) PendingAutoDeduct(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, v := range r.URL.Query()["employee_id"] {
		ids = append(ids, strings.Split(v, ",")...)
	}

	groups, err := h.debts.FetchPendingAutoDeduct(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"debtors": toDebtorDebts(groups)})
}

// RecordPayment handles record payment HTTP requests
func (h *HTTPHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	debt, err := h.debts.RecordPayment(r.Context(), chi.URLParam(r, "id"), *req.Amount, middleware.GetActor(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtResponse(debt))
}

// decode reads and validates a JSON body, writing the error response itself
// when it returns false.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, validationError(err))
		return false
	}
	return true
}

func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return errors.InvalidInput("body", err.Error())
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return errors.InvalidInput(field, "value is required")
	case "oneof":
		return errors.InvalidInput(field, fmt.Sprintf("must be one of: %s", fe.Param()))
	case "datetime":
		return errors.InvalidInput(field, fmt.Sprintf("must be formatted as %s", fe.Param()))
	default:
		return errors.InvalidInput(field, fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param()))
	}
}

type errorBody struct {
	Code      errors.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	Field     string           `json:"field,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{
		Code:      errors.CodeOf(err),
		Message:   err.Error(),
		Field:     errors.FieldOf(err),
		RequestID: middleware.GetRequestID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", body.RequestID).
			Msg("Request failed")
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
