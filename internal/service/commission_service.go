package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/metrics"
	"github.com/brokerops/be-commissions/internal/platform/errors"
	"github.com/brokerops/be-commissions/internal/platform/logger"
	"github.com/brokerops/be-commissions/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CommissionService handles commission business logic
type CommissionService struct {
	commissions CommissionStore
	audit       AuditStore
	staff       StaffDirectory
	events      EventPublisher
	idempotency IdempotencyStore
	policy      engine.Policy
	log         *logger.Logger
}

// NewCommissionService creates a new commission service. staff and
// idempotency may be nil, in which case participant lookups and request
// de-duplication are skipped.
func NewCommissionService(
	commissions CommissionStore,
	audit AuditStore,
	staff StaffDirectory,
	events EventPublisher,
	idempotency IdempotencyStore,
	policy engine.Policy,
	log *logger.Logger,
) *CommissionService {
	if events == nil {
		events = noopPublisher{}
	}
	return &CommissionService{
		commissions: commissions,
		audit:       audit,
		staff:       staff,
		events:      events,
		idempotency: idempotency,
		policy:      policy,
		log:         log,
	}
}

// CreateCommissionRequest represents a create commission request
type CreateCommissionRequest struct {
	ClientName       string
	TransactionLabel string
	TotalAmount      decimal.Decimal
	EmployeeIDs      []string
	Percentages      []engine.PercentageShare
	CreatedBy        string
	IdempotencyKey   string
}

// Fingerprint hashes the fields that decide the allocation. Retries of the
// same request produce the same value regardless of amount formatting.
func (r *CreateCommissionRequest) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n", strings.TrimSpace(r.ClientName), strings.TrimSpace(r.TransactionLabel), r.TotalAmount.String())
	for _, id := range r.EmployeeIDs {
		fmt.Fprintf(h, "e:%s\n", id)
	}
	for _, p := range r.Percentages {
		fmt.Fprintf(h, "p:%s=%s\n", p.EmployeeID, p.Percentage.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ListCommissionsRequest represents a list commissions request
type ListCommissionsRequest struct {
	Status     string
	EmployeeID string
	Page       int
	PageSize   int
}

// Preview computes the allocation for a request without persisting anything.
// Zero participants are allowed here so the console can show the office-only
// split before employees are picked.
func (s *CommissionService) Preview(ctx context.Context, req *CreateCommissionRequest) (engine.Allocation, error) {
	return engine.Allocate(engine.CommissionInput{
		TotalAmount: req.TotalAmount,
		EmployeeIDs: req.EmployeeIDs,
		Percentages: req.Percentages,
	}, s.policy)
}

// CreateCommission splits and allocates the commission and persists it with
// its shares in one transaction.
func (s *CommissionService) CreateCommission(ctx context.Context, req *CreateCommissionRequest) (*repository.Commission, error) {
	clientName := strings.TrimSpace(req.ClientName)
	if clientName == "" {
		return nil, s.reject("create", errors.InvalidInput("client_name", "client name is required"))
	}
	if len(req.EmployeeIDs) == 0 {
		return nil, s.reject("create", errors.InvalidInput("employee_ids", "at least one employee is required"))
	}

	alloc, err := engine.Allocate(engine.CommissionInput{
		TotalAmount: req.TotalAmount,
		EmployeeIDs: req.EmployeeIDs,
		Percentages: req.Percentages,
	}, s.policy)
	if err != nil {
		return nil, s.reject("create", err)
	}

	key := req.IdempotencyKey
	if s.idempotency == nil {
		key = ""
	}
	fingerprint := req.Fingerprint()
	if key != "" {
		existingID, err := s.idempotency.Begin(ctx, key, fingerprint)
		switch {
		case errors.Is(err, errors.ErrCodeConflict):
			return nil, err
		case err != nil:
			s.log.Warn().Err(err).
				Str("idempotency_key", key).
				Msg("Idempotency store unavailable, creating without de-duplication")
			key = ""
		case existingID != "":
			s.log.Info().
				Str("idempotency_key", key).
				Str("commission_id", existingID).
				Msg("Replaying idempotent commission create")
			return s.commissions.GetByID(ctx, existingID)
		}
	}

	names, err := s.lookupEmployees(ctx, req.EmployeeIDs)
	if err != nil {
		s.releaseKey(ctx, key)
		return nil, s.reject("create", err)
	}

	commission := &repository.Commission{
		ClientName:        clientName,
		TransactionLabel:  strings.TrimSpace(req.TransactionLabel),
		TotalAmount:       alloc.TotalAmount,
		OfficeShare:       alloc.OfficeShare,
		EmployeePoolShare: alloc.EmployeePoolShare,
		OfficeFinalShare:  alloc.OfficeFinalShare,
		Remainder:         alloc.Remainder,
		Status:            engine.CommissionPending,
		DistributionKind:  alloc.Kind,
		CreatedBy:         optional(req.CreatedBy),
		Shares:            make([]*repository.CommissionShare, 0, len(alloc.Shares)),
	}
	for i, share := range alloc.Shares {
		commission.Shares = append(commission.Shares, &repository.CommissionShare{
			Position:     i,
			EmployeeID:   share.EmployeeID,
			EmployeeName: optional(names[share.EmployeeID]),
			Percentage:   share.Percentage,
			Amount:       share.Amount,
			NetAmount:    share.Amount,
		})
	}

	if err := s.commissions.Create(ctx, commission); err != nil {
		s.releaseKey(ctx, key)
		return nil, err
	}

	if key != "" {
		if err := s.idempotency.Complete(ctx, key, fingerprint, commission.ID); err != nil {
			s.log.Warn().Err(err).Str("commission_id", commission.ID).Msg("Failed to record idempotency key")
		}
	}

	metrics.CommissionsCreated.WithLabelValues(string(alloc.Kind)).Inc()
	metrics.AddAmount(metrics.CommissionAmounts.WithLabelValues("office"), alloc.OfficeShare)
	metrics.AddAmount(metrics.CommissionAmounts.WithLabelValues("employees"), alloc.EmployeeTotal())
	metrics.AddAmount(metrics.CommissionAmounts.WithLabelValues("remainder"), alloc.Remainder)

	s.log.Info().
		Str("commission_id", commission.ID).
		Str("client_name", commission.ClientName).
		Str("total_amount", commission.TotalAmount.String()).
		Str("office_final_share", commission.OfficeFinalShare.String()).
		Str("distribution_kind", string(commission.DistributionKind)).
		Int("participants", len(commission.Shares)).
		Msg("Commission created")

	s.events.PublishCommissionEvent(ctx, EventCommissionCreated, commission.ID, req.CreatedBy, map[string]interface{}{
		"client_name":  commission.ClientName,
		"total_amount": commission.TotalAmount.String(),
		"employee_ids": commission.EmployeeIDs(),
	})

	return commission, nil
}

// lookupEmployees checks every participant with the staff directory and
// returns their display names. Without a directory it returns no names.
func (s *CommissionService) lookupEmployees(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if s.staff == nil {
		return names, nil
	}
	for _, id := range ids {
		active, name, err := s.staff.ValidateEmployee(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "staff directory unavailable")
		}
		if !active {
			return nil, errors.InvalidInput("employee_ids", fmt.Sprintf("employee %s does not exist or is not active", id))
		}
		names[id] = name
	}
	return names, nil
}

func (s *CommissionService) releaseKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Release(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("idempotency_key", key).Msg("Failed to release idempotency key")
	}
}

// GetCommission retrieves a commission by ID
func (s *CommissionService) GetCommission(ctx context.Context, id string) (*repository.Commission, error) {
	if err := validateID("commission", id); err != nil {
		return nil, err
	}
	return s.commissions.GetByID(ctx, id)
}

// ListCommissions lists commissions with filtering and pagination
func (s *CommissionService) ListCommissions(ctx context.Context, req *ListCommissionsRequest) ([]*repository.Commission, int64, error) {
	filter := repository.CommissionFilter{}
	if req.Status != "" {
		status := engine.CommissionStatus(req.Status)
		if !status.Valid() {
			return nil, 0, errors.InvalidInput("status", "status must be pending, approved or paid")
		}
		filter.Status = &status
	}
	if req.EmployeeID != "" {
		employeeID := req.EmployeeID
		filter.EmployeeID = &employeeID
	}

	page, pageSize := PageBounds(req.Page, req.PageSize)
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	return s.commissions.List(ctx, filter)
}

// PageBounds applies the default and maximum page size to a requested page.
func PageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// ApproveCommission moves a pending commission to approved.
func (s *CommissionService) ApproveCommission(ctx context.Context, id, approvedBy string) (*repository.Commission, error) {
	return s.transition(ctx, id, engine.CommissionApproved, approvedBy, EventCommissionApproved, "approve")
}

// PayCommission moves an approved commission to paid.
func (s *CommissionService) PayCommission(ctx context.Context, id, paidBy string) (*repository.Commission, error) {
	return s.transition(ctx, id, engine.CommissionPaid, paidBy, EventCommissionPaid, "pay")
}

func (s *CommissionService) transition(ctx context.Context, id string, next engine.CommissionStatus, actor, event, operation string) (*repository.Commission, error) {
	if err := validateID("commission", id); err != nil {
		return nil, err
	}

	commission, err := s.commissions.Transition(ctx, id, next, optional(actor))
	if err != nil {
		if errors.Is(err, errors.ErrCodeConflict) {
			s.log.Warn().
				Str("commission_id", id).
				Str("target_status", string(next)).
				Err(err).
				Msg("Commission transition rejected")
		}
		return nil, s.reject(operation, err)
	}

	metrics.CommissionTransitions.WithLabelValues(string(next)).Inc()

	s.log.Info().
		Str("commission_id", id).
		Str("status", string(next)).
		Str("actor", actor).
		Msg("Commission status changed")

	s.events.PublishCommissionEvent(ctx, event, id, actor, map[string]interface{}{
		"status":       string(next),
		"total_amount": commission.TotalAmount.String(),
	})

	return commission, nil
}

// GetAuditTrail returns the audit entries of an existing commission.
func (s *CommissionService) GetAuditTrail(ctx context.Context, id string) ([]*repository.AuditEntry, error) {
	if _, err := s.GetCommission(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListByCommission(ctx, id)
}

// reject counts a rejected operation and returns err unchanged.
func (s *CommissionService) reject(operation string, err error) error {
	metrics.Rejections.WithLabelValues(operation, string(errors.CodeOf(err))).Inc()
	return err
}

// validateID reports malformed ids as not found.
func validateID(resource, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.NotFound(resource, id)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
