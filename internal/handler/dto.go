package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/repository"
	"github.com/brokerops/be-commissions/internal/service"
)

// Amounts travel as JSON strings; decimal.Decimal reads both strings and
// numbers and always writes strings.

type percentageDTO struct {
	EmployeeID string           `json:"employee_id" validate:"required"`
	Percentage *decimal.Decimal `json:"percentage" validate:"required"`
}

type previewRequest struct {
	TotalAmount *decimal.Decimal `json:"total_amount" validate:"required"`
	EmployeeIDs []string         `json:"employee_ids" validate:"omitempty,dive,required"`
	Percentages []percentageDTO  `json:"percentages" validate:"omitempty,dive"`
}

type createCommissionRequest struct {
	ClientName       string           `json:"client_name" validate:"required,max=255"`
	TransactionLabel string           `json:"transaction_label" validate:"max=255"`
	TotalAmount      *decimal.Decimal `json:"total_amount" validate:"required"`
	EmployeeIDs      []string         `json:"employee_ids" validate:"required,min=1,dive,required"`
	Percentages      []percentageDTO  `json:"percentages" validate:"omitempty,dive"`
}

type createDebtRequest struct {
	DebtorID    string           `json:"debtor_id" validate:"required"`
	DebtorName  string           `json:"debtor_name" validate:"required,max=255"`
	DebtorType  string           `json:"debtor_type" validate:"omitempty,max=50"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Description string           `json:"description" validate:"max=1000"`
	DueDate     string           `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Priority    int              `json:"priority" validate:"gte=0"`
	AutoDeduct  bool             `json:"auto_deduct"`
}

type paymentRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"required"`
}

type decisionDTO struct {
	EmployeeID string           `json:"employee_id" validate:"required"`
	DebtID     string           `json:"debt_id" validate:"required"`
	Action     string           `json:"action" validate:"required,oneof=deduct defer"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Reason     string           `json:"reason" validate:"max=500"`
}

type submitDeductionsRequest struct {
	Decisions []decisionDTO `json:"decisions" validate:"required,min=1,dive"`
}

func toPercentages(in []percentageDTO) []engine.PercentageShare {
	if len(in) == 0 {
		return nil
	}
	out := make([]engine.PercentageShare, len(in))
	for i, p := range in {
		out[i] = engine.PercentageShare{EmployeeID: p.EmployeeID, Percentage: *p.Percentage}
	}
	return out
}

type allocationShareResponse struct {
	EmployeeID string          `json:"employee_id"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

type allocationResponse struct {
	TotalAmount       decimal.Decimal           `json:"total_amount"`
	OfficeShare       decimal.Decimal           `json:"office_share"`
	EmployeePoolShare decimal.Decimal           `json:"employee_pool_share"`
	OfficeFinalShare  decimal.Decimal           `json:"office_final_share"`
	Remainder         decimal.Decimal           `json:"remainder"`
	DistributionKind  engine.DistributionKind   `json:"distribution_kind"`
	Shares            []allocationShareResponse `json:"shares"`
}

func toAllocationResponse(a engine.Allocation) allocationResponse {
	resp := allocationResponse{
		TotalAmount:       a.TotalAmount,
		OfficeShare:       a.OfficeShare,
		EmployeePoolShare: a.EmployeePoolShare,
		OfficeFinalShare:  a.OfficeFinalShare,
		Remainder:         a.Remainder,
		DistributionKind:  a.Kind,
		Shares:            make([]allocationShareResponse, 0, len(a.Shares)),
	}
	for _, s := range a.Shares {
		resp.Shares = append(resp.Shares, allocationShareResponse{
			EmployeeID: s.EmployeeID,
			Percentage: s.Percentage,
			Amount:     s.Amount,
		})
	}
	return resp
}

type shareResponse struct {
	EmployeeID   string          `json:"employee_id"`
	EmployeeName *string         `json:"employee_name,omitempty"`
	Percentage   decimal.Decimal `json:"percentage"`
	Amount       decimal.Decimal `json:"amount"`
	NetAmount    decimal.Decimal `json:"net_amount"`
}

type commissionResponse struct {
	ID                string                  `json:"id"`
	ClientName        string                  `json:"client_name"`
	TransactionLabel  string                  `json:"transaction_label,omitempty"`
	TotalAmount       decimal.Decimal         `json:"total_amount"`
	OfficeShare       decimal.Decimal         `json:"office_share"`
	EmployeePoolShare decimal.Decimal         `json:"employee_pool_share"`
	OfficeFinalShare  decimal.Decimal         `json:"office_final_share"`
	Remainder         decimal.Decimal         `json:"remainder"`
	Status            engine.CommissionStatus `json:"status"`
	DistributionKind  engine.DistributionKind `json:"distribution_kind"`
	CreatedBy         *string                 `json:"created_by,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	ApprovedBy        *string                 `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time              `json:"approved_at,omitempty"`
	PaidBy            *string                 `json:"paid_by,omitempty"`
	PaidAt            *time.Time              `json:"paid_at,omitempty"`
	UpdatedAt         time.Time               `json:"updated_at"`
	Shares            []shareResponse         `json:"shares"`
}

func toCommissionResponse(c *repository.Commission) commissionResponse {
	resp := commissionResponse{
		ID:                c.ID,
		ClientName:        c.ClientName,
		TransactionLabel:  c.TransactionLabel,
		TotalAmount:       c.TotalAmount,
		OfficeShare:       c.OfficeShare,
		EmployeePoolShare: c.EmployeePoolShare,
		OfficeFinalShare:  c.OfficeFinalShare,
		Remainder:         c.Remainder,
		Status:            c.Status,
		DistributionKind:  c.DistributionKind,
		CreatedBy:         c.CreatedBy,
		CreatedAt:         c.CreatedAt,
		ApprovedBy:        c.ApprovedBy,
		ApprovedAt:        c.ApprovedAt,
		PaidBy:            c.PaidBy,
		PaidAt:            c.PaidAt,
		UpdatedAt:         c.UpdatedAt,
		Shares:            make([]shareResponse, 0, len(c.Shares)),
	}
	for _, s := range c.Shares {
		resp.Shares = append(resp.Shares, shareResponse{
			EmployeeID:   s.EmployeeID,
			EmployeeName: s.EmployeeName,
			Percentage:   s.Percentage,
			Amount:       s.Amount,
			NetAmount:    s.NetAmount,
		})
	}
	return resp
}

type debtResponse struct {
	ID             string            `json:"id"`
	DebtorID       string            `json:"debtor_id"`
	DebtorName     string            `json:"debtor_name"`
	DebtorType     string            `json:"debtor_type"`
	Amount         decimal.Decimal   `json:"amount"`
	OriginalAmount decimal.Decimal   `json:"original_amount"`
	Description    string            `json:"description,omitempty"`
	DueDate        string            `json:"due_date,omitempty"`
	Priority       int               `json:"priority"`
	Status         engine.DebtStatus `json:"status"`
	StatusLabel    string            `json:"status_label"`
	AutoDeduct     bool              `json:"auto_deduct"`
	Notes          string            `json:"notes,omitempty"`
	CreatedBy      *string           `json:"created_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
}

func toDebtResponse(d *repository.Debt) debtResponse {
	resp := debtResponse{
		ID:             d.ID,
		DebtorID:       d.DebtorID,
		DebtorName:     d.DebtorName,
		DebtorType:     d.DebtorType,
		Amount:         d.Amount,
		OriginalAmount: d.OriginalAmount,
		Description:    d.Description,
		Priority:       d.Priority,
		Status:         d.Status,
		StatusLabel:    engine.DebtLabel(d.Status, d.Amount, d.OriginalAmount),
		AutoDeduct:     d.AutoDeduct,
		Notes:          d.Notes,
		CreatedBy:      d.CreatedBy,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		PaidAt:         d.PaidAt,
	}
	if d.DueDate != nil {
		resp.DueDate = d.DueDate.Format(dateLayout)
	}
	return resp
}

func toDebtResponses(debts []*repository.Debt) []debtResponse {
	out := make([]debtResponse, 0, len(debts))
	for _, d := range debts {
		out = append(out, toDebtResponse(d))
	}
	return out
}

type debtorDebtsResponse struct {
	DebtorID   string          `json:"debtor_id"`
	DebtorName string          `json:"debtor_name"`
	Total      decimal.Decimal `json:"total"`
	Debts      []debtResponse  `json:"debts"`
}

func toDebtorDebts(groups []*service.DebtorDebts) []debtorDebtsResponse {
	out := make([]debtorDebtsResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, debtorDebtsResponse{
			DebtorID:   g.DebtorID,
			DebtorName: g.DebtorName,
			Total:      g.Total,
			Debts:      toDebtResponses(g.Debts),
		})
	}
	return out
}

type candidateResponse struct {
	DebtID      string          `json:"debt_id"`
	Amount      decimal.Decimal `json:"amount"`
	Cap         decimal.Decimal `json:"cap"`
	Priority    int             `json:"priority"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type employeeCandidatesResponse struct {
	EmployeeID string              `json:"employee_id"`
	Share      decimal.Decimal     `json:"share"`
	NetAmount  decimal.Decimal     `json:"net_amount"`
	Debts      []candidateResponse `json:"debts"`
}

func toCandidates(groups []*service.EmployeeCandidates) []employeeCandidatesResponse {
	out := make([]employeeCandidatesResponse, 0, len(groups))
	for _, g := range groups {
		resp := employeeCandidatesResponse{
			EmployeeID: g.EmployeeID,
			Share:      g.Share,
			NetAmount:  g.Net,
			Debts:      make([]candidateResponse, 0, len(g.Candidates)),
		}
		for _, c := range g.Candidates {
			item := candidateResponse{
				DebtID:    c.Prompt.DebtID,
				Amount:    c.Prompt.DebtAmount,
				Cap:       c.Prompt.Cap,
				Priority:  c.Prompt.Priority,
				CreatedAt: c.Prompt.CreatedAt,
			}
			if c.Debt != nil {
				item.Description = c.Debt.Description
			}
			resp.Debts = append(resp.Debts, item)
		}
		out = append(out, resp)
	}
	return out
}

type deductionResponse struct {
	ID         string                `json:"id"`
	DebtID     string                `json:"debt_id"`
	EmployeeID string                `json:"employee_id"`
	Action     engine.DecisionAction `json:"action"`
	Amount     decimal.Decimal       `json:"amount"`
	Reason     *string               `json:"reason,omitempty"`
	DecidedBy  *string               `json:"decided_by,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

func toDeductions(in []*repository.Deduction) []deductionResponse {
	out := make([]deductionResponse, 0, len(in))
	for _, d := range in {
		out = append(out, deductionResponse{
			ID:         d.ID,
			DebtID:     d.DebtID,
			EmployeeID: d.EmployeeID,
			Action:     d.Action,
			Amount:     d.Amount,
			Reason:     d.Reason,
			DecidedBy:  d.DecidedBy,
			CreatedAt:  d.CreatedAt,
		})
	}
	return out
}

type batchResponse struct {
	Commission commissionResponse  `json:"commission"`
	Deductions []deductionResponse `json:"deductions"`
	Debts      []debtResponse      `json:"debts"`
}

type auditResponse struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	PerformedBy  *string                `json:"performed_by,omitempty"`
	PerformedAt  time.Time              `json:"performed_at"`
	StatusBefore *string                `json:"status_before,omitempty"`
	StatusAfter  *string                `json:"status_after,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func toAudit(in []*repository.AuditEntry) []auditResponse {
	out := make([]auditResponse, 0, len(in))
	for _, e := range in {
		out = append(out, auditResponse{
			ID:           e.ID,
			Action:       e.Action,
			PerformedBy:  e.PerformedBy,
			PerformedAt:  e.PerformedAt,
			StatusBefore: e.StatusBefore,
			StatusAfter:  e.StatusAfter,
			Metadata:     e.Metadata,
		})
	}
	return out
}
