package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/brokerops/be-commissions/internal/engine"
)

// Commission is a persisted commission header with its employee shares.
type Commission struct {
	ID                string
	ClientName        string
	TransactionLabel  string
	TotalAmount       decimal.Decimal
	OfficeShare       decimal.Decimal
	EmployeePoolShare decimal.Decimal
	OfficeFinalShare  decimal.Decimal
	Remainder         decimal.Decimal
	Status            engine.CommissionStatus
	DistributionKind  engine.DistributionKind
	CreatedBy         *string
	CreatedAt         time.Time
	ApprovedBy        *string
	ApprovedAt        *time.Time
	PaidBy            *string
	PaidAt            *time.Time
	UpdatedAt         time.Time
	Shares            []*CommissionShare
}

// ShareAmounts maps employee id to the computed (pre-deduction) share.
func (c *Commission) ShareAmounts() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Shares))
	for _, s := range c.Shares {
		out[s.EmployeeID] = s.Amount
	}
	return out
}

// EmployeeIDs lists the participants in share order.
func (c *Commission) EmployeeIDs() []string {
	ids := make([]string, len(c.Shares))
	for i, s := range c.Shares {
		ids[i] = s.EmployeeID
	}
	return ids
}

// CommissionShare is one employee's row of a commission. NetAmount is the
// amount after applied debt deductions.
type CommissionShare struct {
	ID           string
	CommissionID string
	Position     int
	EmployeeID   string
	EmployeeName *string
	Percentage   decimal.Decimal
	Amount       decimal.Decimal
	NetAmount    decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CommissionFilter narrows a commission listing.
type CommissionFilter struct {
	Status     *engine.CommissionStatus
	EmployeeID *string
	Limit      int
	Offset     int
}

// Debt is an amount owed by a debtor, optionally offered for deduction
// against future commissions.
type Debt struct {
	ID             string
	DebtorID       string
	DebtorName     string
	DebtorType     string
	Amount         decimal.Decimal
	OriginalAmount decimal.Decimal
	Description    string
	DueDate        *time.Time
	Priority       int
	Status         engine.DebtStatus
	AutoDeduct     bool
	Notes          string
	CreatedBy      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
}

// Candidate converts the debt into resolver input.
func (d *Debt) Candidate() engine.DebtCandidate {
	return engine.DebtCandidate{
		ID:         d.ID,
		EmployeeID: d.DebtorID,
		Amount:     d.Amount,
		Priority:   d.Priority,
		CreatedAt:  d.CreatedAt,
		Status:     d.Status,
		AutoDeduct: d.AutoDeduct,
	}
}

// Deduction records one applied decision against a commission.
type Deduction struct {
	ID           string
	CommissionID string
	DebtID       string
	EmployeeID   string
	Action       engine.DecisionAction
	Amount       decimal.Decimal
	Reason       *string
	DecidedBy    *string
	CreatedAt    time.Time
}

// AuditEntry is one immutable record in a commission's audit trail.
type AuditEntry struct {
	ID           string
	CommissionID string
	Action       string // created | approved | paid | deductions_applied
	PerformedBy  *string
	PerformedAt  time.Time
	StatusBefore *string
	StatusAfter  *string
	Metadata     map[string]interface{}
}

// Audit actions.
const (
	AuditCreated           = "created"
	AuditApproved          = "approved"
	AuditPaid              = "paid"
	AuditDeductionsApplied = "deductions_applied"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}
