package service

import (
	"context"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/repository"
)

// CommissionStore persists commissions. Implemented by
// repository.CommissionRepository.
type CommissionStore interface {
	Create(ctx context.Context, c *repository.Commission) error
	GetByID(ctx context.Context, id string) (*repository.Commission, error)
	List(ctx context.Context, f repository.CommissionFilter) ([]*repository.Commission, int64, error)
	Transition(ctx context.Context, id string, next engine.CommissionStatus, actor *string) (*repository.Commission, error)
}

// AuditStore reads the commission audit trail.
type AuditStore interface {
	ListByCommission(ctx context.Context, commissionID string) ([]*repository.AuditEntry, error)
}

// DebtStore persists debts.
type DebtStore interface {
	Create(ctx context.Context, d *repository.Debt) error
	GetByID(ctx context.Context, id string) (*repository.Debt, error)
	ListPendingAutoDeduct(ctx context.Context, employeeIDs []string) ([]*repository.Debt, error)
	ApplyPayment(ctx context.Context, id string, apply func(*repository.Debt) (engine.DebtUpdate, error)) (*repository.Debt, error)
}

// DeductionStore applies deduction batches atomically.
type DeductionStore interface {
	ApplyBatch(ctx context.Context, commissionID string, debtIDs []string, decidedBy *string, decide repository.DecideFunc) (*repository.BatchResult, error)
	ListByCommission(ctx context.Context, commissionID string) ([]*repository.Deduction, error)
}

// StaffDirectory validates participants against the staff service.
type StaffDirectory interface {
	// ValidateEmployee reports whether the employee exists and is active,
	// with their display name.
	ValidateEmployee(ctx context.Context, employeeID string) (bool, string, error)
}

// EventPublisher emits non-fatal domain events.
type EventPublisher interface {
	PublishCommissionEvent(ctx context.Context, eventType, commissionID, actorID string, payload map[string]interface{})
	PublishDebtEvent(ctx context.Context, eventType, debtID, actorID string, payload map[string]interface{})
}

// IdempotencyStore de-duplicates commission creation by client key. The
// fingerprint identifies the request body; reusing a key with a different
// fingerprint is a conflict.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, fingerprint string) (string, error)
	Complete(ctx context.Context, key, fingerprint, commissionID string) error
	Release(ctx context.Context, key string) error
}

// Event types.
const (
	EventCommissionCreated  = "created"
	EventCommissionApproved = "approved"
	EventCommissionPaid     = "paid"
	EventDebtDeducted       = "deducted"
	EventDebtPaymentPartial = "payment_recorded"
	EventDebtPaid           = "paid"
)

type noopPublisher struct{}

func (noopPublisher) PublishCommissionEvent(context.Context, string, string, string, map[string]interface{}) {
}

func (noopPublisher) PublishDebtEvent(context.Context, string, string, string, map[string]interface{}) {
}
