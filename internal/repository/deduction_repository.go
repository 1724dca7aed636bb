package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/platform/database"
	"github.com/brokerops/be-commissions/internal/platform/errors"
)

// DecideFunc turns the locked commission and debts into the decisions to
// apply. Returning an error aborts the whole batch.
type DecideFunc func(c *Commission, debts map[string]*Debt) ([]engine.DeductionDecision, error)

// BatchResult is the persisted outcome of a deduction batch.
type BatchResult struct {
	Commission *Commission
	Deductions []*Deduction
	Debts      []*Debt
}

// DeductionRepository applies and reads deduction batches.
type DeductionRepository struct {
	db *database.DB
}

// NewDeductionRepository creates a new deduction repository
func NewDeductionRepository(db *database.DB) *DeductionRepository {
	return &DeductionRepository{db: db}
}

// ApplyBatch locks the commission, its shares and the referenced debts, asks
// decide for the decisions and applies all of them in one transaction: debt
// balances, share net amounts, deduction records and an audit entry.
func (r *DeductionRepository) ApplyBatch(ctx context.Context, commissionID string, debtIDs []string, decidedBy *string, decide DecideFunc) (*BatchResult, error) {
	var result *BatchResult
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		c, err := getCommission(ctx, tx, commissionID, true)
		if err != nil {
			return err
		}
		debts, err := lockDebts(ctx, tx, debtIDs)
		if err != nil {
			return err
		}

		decisions, err := decide(c, debts)
		if err != nil {
			return err
		}

		at := time.Now().UTC()
		shares := make(map[string]*CommissionShare, len(c.Shares))
		for _, s := range c.Shares {
			shares[s.EmployeeID] = s
		}

		res := &BatchResult{Commission: c}
		total := decimal.Zero
		for _, dec := range decisions {
			debt, ok := debts[dec.DebtID]
			if !ok {
				return errors.NotFound("debt", dec.DebtID)
			}

			if dec.Action == engine.ActionDeduct {
				share, ok := shares[dec.EmployeeID]
				if !ok {
					return engine.ErrDebtorNotParticipant
				}
				update, err := engine.ApplyDeduction(debt.Status, debt.Amount, dec.Amount, c.ID, at)
				if err != nil {
					return err
				}
				if err := storeDebtUpdate(ctx, tx, debt, update, at); err != nil {
					return err
				}
				share.NetAmount = share.NetAmount.Sub(dec.Amount)
				total = total.Add(dec.Amount)
				res.Debts = append(res.Debts, debt)
			}

			rec := &Deduction{
				CommissionID: c.ID,
				DebtID:       dec.DebtID,
				EmployeeID:   dec.EmployeeID,
				Action:       dec.Action,
				Amount:       dec.Amount,
				DecidedBy:    decidedBy,
			}
			if dec.Reason != "" {
				reason := dec.Reason
				rec.Reason = &reason
			}
			if err := insertDeduction(ctx, tx, rec); err != nil {
				return err
			}
			res.Deductions = append(res.Deductions, rec)
		}

		for _, s := range c.Shares {
			err := tx.QueryRow(ctx, `
				UPDATE commission_shares
				SET net_amount = $2, updated_at = NOW()
				WHERE id = $1
				RETURNING updated_at
			`, s.ID, s.NetAmount).Scan(&s.UpdatedAt)
			if err != nil {
				return wrapDB(err, "failed to update commission share")
			}
		}

		status := string(c.Status)
		if err := appendAudit(ctx, tx, &AuditEntry{
			CommissionID: c.ID,
			Action:       AuditDeductionsApplied,
			PerformedBy:  decidedBy,
			StatusBefore: &status,
			StatusAfter:  &status,
			Metadata: map[string]interface{}{
				"decisions":      len(decisions),
				"deducted_total": total.String(),
			},
		}); err != nil {
			return err
		}

		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func insertDeduction(ctx context.Context, q querier, d *Deduction) error {
	query := `
		INSERT INTO commission_deductions (commission_id, debt_id, employee_id, action,
		                                   amount, reason, decided_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := q.QueryRow(ctx, query,
		d.CommissionID,
		d.DebtID,
		d.EmployeeID,
		string(d.Action),
		d.Amount,
		d.Reason,
		d.DecidedBy,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return wrapDB(err, "failed to record deduction")
	}
	return nil
}

// ListByCommission returns every recorded decision for a commission.
func (r *DeductionRepository) ListByCommission(ctx context.Context, commissionID string) ([]*Deduction, error) {
	query := `
		SELECT id, commission_id, debt_id, employee_id, action, amount, reason, decided_by, created_at
		FROM commission_deductions
		WHERE commission_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, commissionID)
	if err != nil {
		return nil, wrapDB(err, "failed to list deductions")
	}
	defer rows.Close()

	out := make([]*Deduction, 0)
	for rows.Next() {
		d := &Deduction{}
		var action string
		err := rows.Scan(
			&d.ID,
			&d.CommissionID,
			&d.DebtID,
			&d.EmployeeID,
			&action,
			&d.Amount,
			&d.Reason,
			&d.DecidedBy,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan deduction")
		}
		d.Action = engine.DecisionAction(action)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "failed to read deductions")
	}
	return out, nil
}
