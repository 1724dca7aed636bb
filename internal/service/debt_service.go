package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/metrics"
	"github.com/brokerops/be-commissions/internal/platform/errors"
	"github.com/brokerops/be-commissions/internal/platform/logger"
	"github.com/brokerops/be-commissions/internal/repository"
)

// DebtService handles debts and the deduction of debts from commissions.
type DebtService struct {
	debts       DebtStore
	deductions  DeductionStore
	commissions CommissionStore
	events      EventPublisher
	log         *logger.Logger
	now         func() time.Time
}

// NewDebtService creates a new debt service
func NewDebtService(
	debts DebtStore,
	deductions DeductionStore,
	commissions CommissionStore,
	events EventPublisher,
	log *logger.Logger,
) *DebtService {
	if events == nil {
		events = noopPublisher{}
	}
	return &DebtService{
		debts:       debts,
		deductions:  deductions,
		commissions: commissions,
		events:      events,
		log:         log,
		now:         time.Now,
	}
}

// CreateDebtRequest represents a create debt request
type CreateDebtRequest struct {
	DebtorID    string
	DebtorName  string
	DebtorType  string
	Amount      decimal.Decimal
	Description string
	DueDate     *time.Time
	Priority    int
	AutoDeduct  bool
	CreatedBy   string
}

// DecisionRequest is one submitted operator decision. A deduct without an
// amount takes the full cap.
type DecisionRequest struct {
	EmployeeID string
	DebtID     string
	Action     string
	Amount     *decimal.Decimal
	Reason     string
}

// SubmitDeductionsRequest represents a batch of decisions for one commission.
type SubmitDeductionsRequest struct {
	CommissionID string
	Decisions    []DecisionRequest
	DecidedBy    string
}

// DebtorDebts groups one debtor's pending auto-deduct debts.
type DebtorDebts struct {
	DebtorID   string
	DebtorName string
	Total      decimal.Decimal
	Debts      []*repository.Debt
}

// DeductionCandidate is a debt the operator must decide on, with its cap.
type DeductionCandidate struct {
	Prompt engine.Prompt
	Debt   *repository.Debt
}

// EmployeeCandidates groups the candidates of one participant. Net is the
// share after earlier deductions and may be negative.
type EmployeeCandidates struct {
	EmployeeID string
	Share      decimal.Decimal
	Net        decimal.Decimal
	Candidates []DeductionCandidate
}

// CreateDebt registers a debt.
func (s *DebtService) CreateDebt(ctx context.Context, req *CreateDebtRequest) (*repository.Debt, error) {
	debtorID := strings.TrimSpace(req.DebtorID)
	if debtorID == "" {
		return nil, errors.InvalidInput("debtor_id", "debtor id is required")
	}
	debtorName := strings.TrimSpace(req.DebtorName)
	if debtorName == "" {
		return nil, errors.InvalidInput("debtor_name", "debtor name is required")
	}
	if !req.Amount.IsPositive() {
		return nil, errors.InvalidInput("amount", "amount must be positive")
	}
	if !req.Amount.Equal(req.Amount.Truncate(engine.CurrencyPlaces)) {
		return nil, errors.InvalidInput("amount", "amount must have at most 2 decimal places")
	}
	if req.Priority < 0 {
		return nil, errors.InvalidInput("priority", "priority cannot be negative")
	}
	debtorType := strings.ToLower(strings.TrimSpace(req.DebtorType))
	if debtorType == "" {
		debtorType = "employee"
	}

	debt := &repository.Debt{
		DebtorID:       debtorID,
		DebtorName:     debtorName,
		DebtorType:     debtorType,
		Amount:         req.Amount,
		OriginalAmount: req.Amount,
		Description:    strings.TrimSpace(req.Description),
		DueDate:        req.DueDate,
		Priority:       req.Priority,
		Status:         engine.DebtPending,
		AutoDeduct:     req.AutoDeduct,
		CreatedBy:      optional(req.CreatedBy),
	}
	if err := s.debts.Create(ctx, debt); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("debt_id", debt.ID).
		Str("debtor_id", debt.DebtorID).
		Str("amount", debt.Amount.String()).
		Bool("auto_deduct", debt.AutoDeduct).
		Msg("Debt registered")

	return debt, nil
}

// GetDebt retrieves a debt by ID
func (s *DebtService) GetDebt(ctx context.Context, id string) (*repository.Debt, error) {
	if err := validateID("debt", id); err != nil {
		return nil, err
	}
	return s.debts.GetByID(ctx, id)
}

// FetchPendingAutoDeduct returns the pending auto-deduct debts of the given
// employees grouped by debtor, in the order the employees were given. Within
// a group debts are ordered by priority, then age.
func (s *DebtService) FetchPendingAutoDeduct(ctx context.Context, employeeIDs []string) ([]*DebtorDebts, error) {
	ids := make([]string, 0, len(employeeIDs))
	seen := make(map[string]bool, len(employeeIDs))
	for _, id := range employeeIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.InvalidInput("employee_ids", "at least one employee id is required")
	}

	debts, err := s.debts.ListPendingAutoDeduct(ctx, ids)
	if err != nil {
		return nil, err
	}
	return groupByDebtor(ids, debts), nil
}

func groupByDebtor(order []string, debts []*repository.Debt) []*DebtorDebts {
	byID := make(map[string][]engine.DebtCandidate)
	index := make(map[string]*repository.Debt, len(debts))
	for _, d := range debts {
		byID[d.DebtorID] = append(byID[d.DebtorID], d.Candidate())
		index[d.ID] = d
	}

	groups := make([]*DebtorDebts, 0)
	for _, id := range order {
		candidates := byID[id]
		if len(candidates) == 0 {
			continue
		}
		g := &DebtorDebts{DebtorID: id, Total: decimal.Zero}
		for _, c := range engine.OrderDebts(candidates) {
			d := index[c.ID]
			g.DebtorName = d.DebtorName
			g.Total = g.Total.Add(d.Amount)
			g.Debts = append(g.Debts, d)
		}
		groups = append(groups, g)
	}
	return groups
}

// DeductionCandidates lists, per participant of the commission, the debts the
// operator has to decide on with each deduction cap. Participants without
// eligible debts are omitted; an empty result means the commission can be
// finalized without the resolver.
func (s *DebtService) DeductionCandidates(ctx context.Context, commissionID string) ([]*EmployeeCandidates, error) {
	if err := validateID("commission", commissionID); err != nil {
		return nil, err
	}
	commission, err := s.commissions.GetByID(ctx, commissionID)
	if err != nil {
		return nil, err
	}
	if err := engine.CheckDeductible(commission.Status); err != nil {
		return nil, err
	}

	debts, err := s.debts.ListPendingAutoDeduct(ctx, commission.EmployeeIDs())
	if err != nil {
		return nil, err
	}

	candidates := make([]engine.DebtCandidate, 0, len(debts))
	index := make(map[string]*repository.Debt, len(debts))
	for _, d := range debts {
		candidates = append(candidates, d.Candidate())
		index[d.ID] = d
	}

	builder, err := engine.NewDecisionBuilder(computedShares(commission), candidates)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*EmployeeCandidates)
	for _, share := range commission.Shares {
		groups[share.EmployeeID] = &EmployeeCandidates{
			EmployeeID: share.EmployeeID,
			Share:      share.Amount,
			Net:        share.NetAmount,
		}
	}
	for _, p := range builder.Prompts() {
		g := groups[p.EmployeeID]
		g.Candidates = append(g.Candidates, DeductionCandidate{Prompt: p, Debt: index[p.DebtID]})
	}

	out := make([]*EmployeeCandidates, 0)
	for _, share := range commission.Shares {
		if g := groups[share.EmployeeID]; len(g.Candidates) > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

// SubmitDeductions validates and applies a batch of operator decisions in one
// transaction. Every referenced debt is re-read under lock, so the caps are
// enforced against current balances regardless of what the caller computed.
func (s *DebtService) SubmitDeductions(ctx context.Context, req *SubmitDeductionsRequest) (*repository.BatchResult, error) {
	if err := validateID("commission", req.CommissionID); err != nil {
		return nil, err
	}
	if len(req.Decisions) == 0 {
		return nil, s.reject(errors.InvalidInput("decisions", "at least one decision is required"))
	}

	debtIDs := make([]string, 0, len(req.Decisions))
	actions := make([]engine.DecisionAction, len(req.Decisions))
	for i, d := range req.Decisions {
		if err := validateID("debt", d.DebtID); err != nil {
			return nil, s.reject(err)
		}
		action, err := engine.ParseDecisionAction(d.Action)
		if err != nil {
			return nil, s.reject(err)
		}
		if action == engine.ActionDefer && d.Amount != nil {
			return nil, s.reject(errors.InvalidInput("amount", "a deferral cannot carry an amount"))
		}
		actions[i] = action
		debtIDs = append(debtIDs, d.DebtID)
	}

	decide := func(c *repository.Commission, debts map[string]*repository.Debt) ([]engine.DeductionDecision, error) {
		if err := engine.CheckDeductible(c.Status); err != nil {
			return nil, err
		}

		candidates := make([]engine.DebtCandidate, 0, len(req.Decisions))
		for _, d := range req.Decisions {
			debt := debts[d.DebtID]
			if debt.DebtorID != d.EmployeeID {
				return nil, fmt.Errorf("%w: debt %s is owed by %s", engine.ErrDebtorMismatch, debt.ID, debt.DebtorID)
			}
			candidates = append(candidates, debt.Candidate())
		}

		builder, err := engine.NewDecisionBuilder(computedShares(c), candidates)
		if err != nil {
			return nil, err
		}
		for i, d := range req.Decisions {
			switch {
			case actions[i] == engine.ActionDefer:
				err = builder.Defer(d.DebtID, strings.TrimSpace(d.Reason))
			case d.Amount == nil:
				err = builder.Deduct(d.DebtID)
			default:
				err = builder.DeductAmount(d.DebtID, *d.Amount)
			}
			if err != nil {
				return nil, err
			}
		}
		return builder.Build()
	}

	result, err := s.deductions.ApplyBatch(ctx, req.CommissionID, debtIDs, optional(req.DecidedBy), decide)
	if err != nil {
		s.log.Warn().
			Str("commission_id", req.CommissionID).
			Int("decisions", len(req.Decisions)).
			Err(err).
			Msg("Deduction batch rejected")
		return nil, s.reject(err)
	}

	deducted := decimal.Zero
	for _, d := range result.Deductions {
		metrics.DeductionDecisions.WithLabelValues(string(d.Action)).Inc()
		deducted = deducted.Add(d.Amount)
	}
	metrics.AddAmount(metrics.DeductedAmount, deducted)

	for _, debt := range result.Debts {
		event := EventDebtDeducted
		if debt.Status == engine.DebtPaid {
			event = EventDebtPaid
		}
		s.events.PublishDebtEvent(ctx, event, debt.ID, req.DecidedBy, map[string]interface{}{
			"commission_id": req.CommissionID,
			"debtor_id":     debt.DebtorID,
			"balance":       debt.Amount.String(),
		})
	}

	s.log.Info().
		Str("commission_id", req.CommissionID).
		Int("decisions", len(result.Deductions)).
		Str("deducted_total", deducted.String()).
		Msg("Deduction batch applied")

	return result, nil
}

// computedShares maps each participant to their computed share, the basis
// every deduction cap is taken against.
func computedShares(c *repository.Commission) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Shares))
	for _, s := range c.Shares {
		out[s.EmployeeID] = s.Amount
	}
	return out
}

// RecordPayment applies a full or partial manual payment to a debt.
func (s *DebtService) RecordPayment(ctx context.Context, debtID string, paid decimal.Decimal, recordedBy string) (*repository.Debt, error) {
	if err := validateID("debt", debtID); err != nil {
		return nil, err
	}
	if !paid.IsPositive() {
		return nil, s.reject(engine.ErrPaymentAmount)
	}

	at := s.now()
	debt, err := s.debts.ApplyPayment(ctx, debtID, func(d *repository.Debt) (engine.DebtUpdate, error) {
		return engine.ApplyDebtPayment(d.Status, d.Amount, paid, at)
	})
	if err != nil {
		return nil, s.reject(err)
	}

	outcome, event := "partial", EventDebtPaymentPartial
	if debt.Status == engine.DebtPaid {
		outcome, event = "settled", EventDebtPaid
	}
	metrics.DebtPayments.WithLabelValues(outcome).Inc()

	s.log.Info().
		Str("debt_id", debt.ID).
		Str("paid_amount", paid.String()).
		Str("balance", debt.Amount.String()).
		Str("status", string(debt.Status)).
		Msg("Debt payment recorded")

	s.events.PublishDebtEvent(ctx, event, debt.ID, recordedBy, map[string]interface{}{
		"paid_amount": paid.String(),
		"balance":     debt.Amount.String(),
	})

	return debt, nil
}

func (s *DebtService) reject(err error) error {
	metrics.Rejections.WithLabelValues("deduction", string(errors.CodeOf(err))).Inc()
	return err
}

// ListDeductions returns the recorded decisions of an existing commission.
func (s *DebtService) ListDeductions(ctx context.Context, commissionID string) ([]*repository.Deduction, error) {
	if err := validateID("commission", commissionID); err != nil {
		return nil, err
	}
	if _, err := s.commissions.GetByID(ctx, commissionID); err != nil {
		return nil, err
	}
	return s.deductions.ListByCommission(ctx, commissionID)
}
