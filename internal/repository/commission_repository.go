package repository

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/platform/database"
	"github.com/brokerops/be-commissions/internal/platform/errors"
)

const commissionColumns = `
	id, client_name, transaction_label, total_amount, office_share,
	employee_pool_share, office_final_share, remainder, status, distribution_kind,
	created_by, created_at, approved_by, approved_at, paid_by, paid_at, updated_at`

const shareColumns = `
	id, commission_id, position, employee_id, employee_name,
	percentage, amount, net_amount, created_at, updated_at`

// CommissionRepository handles commission data operations
type CommissionRepository struct {
	db *database.DB
}

// NewCommissionRepository creates a new commission repository
func NewCommissionRepository(db *database.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

// Create inserts the commission, its shares and the creation audit entry in
// one transaction.
func (r *CommissionRepository) Create(ctx context.Context, c *Commission) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO commissions (client_name, transaction_label, total_amount, office_share,
			                         employee_pool_share, office_final_share, remainder,
			                         status, distribution_kind, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			c.ClientName,
			c.TransactionLabel,
			c.TotalAmount,
			c.OfficeShare,
			c.EmployeePoolShare,
			c.OfficeFinalShare,
			c.Remainder,
			string(c.Status),
			string(c.DistributionKind),
			c.CreatedBy,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return wrapDB(err, "failed to create commission")
		}

		for _, share := range c.Shares {
			shareQuery := `
				INSERT INTO commission_shares (commission_id, position, employee_id, employee_name,
				                               percentage, amount, net_amount)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id, created_at, updated_at
			`

			err := tx.QueryRow(ctx, shareQuery,
				c.ID,
				share.Position,
				share.EmployeeID,
				share.EmployeeName,
				share.Percentage,
				share.Amount,
				share.NetAmount,
			).Scan(&share.ID, &share.CreatedAt, &share.UpdatedAt)
			if err != nil {
				return wrapDB(err, "failed to create commission share")
			}
			share.CommissionID = c.ID
		}

		status := string(c.Status)
		return appendAudit(ctx, tx, &AuditEntry{
			CommissionID: c.ID,
			Action:       AuditCreated,
			PerformedBy:  c.CreatedBy,
			StatusAfter:  &status,
			Metadata: map[string]interface{}{
				"total_amount":       c.TotalAmount.String(),
				"office_final_share": c.OfficeFinalShare.String(),
				"distribution_kind":  string(c.DistributionKind),
				"participants":       len(c.Shares),
			},
		})
	})
}

// GetByID retrieves a commission with all shares.
func (r *CommissionRepository) GetByID(ctx context.Context, id string) (*Commission, error) {
	return getCommission(ctx, r.db, id, false)
}

func getCommission(ctx context.Context, q querier, id string, forUpdate bool) (*Commission, error) {
	query := `SELECT ` + commissionColumns + ` FROM commissions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	c, err := scanCommission(q.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("commission", id)
	}
	if err != nil {
		return nil, wrapDB(err, "failed to get commission")
	}

	shares, err := getShares(ctx, q, c.ID, forUpdate)
	if err != nil {
		return nil, err
	}
	c.Shares = shares
	return c, nil
}

func getShares(ctx context.Context, q querier, commissionID string, forUpdate bool) ([]*CommissionShare, error) {
	query := `SELECT ` + shareColumns + ` FROM commission_shares WHERE commission_id = $1 ORDER BY position`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, commissionID)
	if err != nil {
		return nil, wrapDB(err, "failed to get commission shares")
	}
	defer rows.Close()

	shares := make([]*CommissionShare, 0)
	for rows.Next() {
		s := &CommissionShare{}
		err := rows.Scan(
			&s.ID,
			&s.CommissionID,
			&s.Position,
			&s.EmployeeID,
			&s.EmployeeName,
			&s.Percentage,
			&s.Amount,
			&s.NetAmount,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan commission share")
		}
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "failed to read commission shares")
	}
	return shares, nil
}

// List retrieves commissions with filtering and pagination. Shares are
// loaded for every returned commission.
func (r *CommissionRepository) List(ctx context.Context, f CommissionFilter) ([]*Commission, int64, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*f.Status))
		argCount++
	}

	if f.EmployeeID != nil {
		where += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM commission_shares s WHERE s.commission_id = commissions.id AND s.employee_id = $%d)", argCount)
		args = append(args, *f.EmployeeID)
		argCount++
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM commissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDB(err, "failed to count commissions")
	}

	query := `SELECT ` + commissionColumns + ` FROM commissions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, f.Limit, f.Offset)

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, wrapDB(err, "failed to list commissions")
	}
	defer rows.Close()

	commissions := make([]*Commission, 0)
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan commission")
		}
		commissions = append(commissions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapDB(err, "failed to read commissions")
	}
	rows.Close()

	for _, c := range commissions {
		shares, err := getShares(ctx, r.db, c.ID, false)
		if err != nil {
			return nil, 0, err
		}
		c.Shares = shares
	}

	return commissions, total, nil
}

// Transition moves a commission to next only if its current status is next's
// predecessor, recording who did it and an audit entry. A commission in any
// other state is left untouched and the lifecycle error is returned.
func (r *CommissionRepository) Transition(ctx context.Context, id string, next engine.CommissionStatus, actor *string) (*Commission, error) {
	from, ok := next.Predecessor()
	if !ok {
		return nil, fmt.Errorf("%w: to %s", engine.ErrInvalidTransition, next)
	}

	var actorColumn, timeColumn, action string
	switch next {
	case engine.CommissionApproved:
		actorColumn, timeColumn, action = "approved_by", "approved_at", AuditApproved
	case engine.CommissionPaid:
		actorColumn, timeColumn, action = "paid_by", "paid_at", AuditPaid
	}

	var result *Commission
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := fmt.Sprintf(`
			UPDATE commissions
			SET status = $3,
			    %s = $4,
			    %s = NOW(),
			    updated_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING id
		`, actorColumn, timeColumn)

		var returnedID string
		err := tx.QueryRow(ctx, query, id, string(from), string(next), actor).Scan(&returnedID)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return r.transitionFailure(ctx, tx, id, next)
		}
		if err != nil {
			return wrapDB(err, "failed to update commission status")
		}

		before, after := string(from), string(next)
		if err := appendAudit(ctx, tx, &AuditEntry{
			CommissionID: id,
			Action:       action,
			PerformedBy:  actor,
			StatusBefore: &before,
			StatusAfter:  &after,
		}); err != nil {
			return err
		}

		result, err = getCommission(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// transitionFailure explains why a guarded update matched no row.
func (r *CommissionRepository) transitionFailure(ctx context.Context, q querier, id string, next engine.CommissionStatus) error {
	var current string
	err := q.QueryRow(ctx, `SELECT status FROM commissions WHERE id = $1`, id).Scan(&current)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("commission", id)
	}
	if err != nil {
		return wrapDB(err, "failed to read commission status")
	}
	if err := engine.CheckTransition(engine.CommissionStatus(current), next); err != nil {
		return err
	}
	return errors.Conflict("commission status changed concurrently")
}

func scanCommission(sc rowScanner) (*Commission, error) {
	c := &Commission{}
	var status, kind string
	err := sc.Scan(
		&c.ID,
		&c.ClientName,
		&c.TransactionLabel,
		&c.TotalAmount,
		&c.OfficeShare,
		&c.EmployeePoolShare,
		&c.OfficeFinalShare,
		&c.Remainder,
		&status,
		&kind,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.ApprovedBy,
		&c.ApprovedAt,
		&c.PaidBy,
		&c.PaidAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = engine.CommissionStatus(status)
	c.DistributionKind = engine.DistributionKind(kind)
	return c, nil
}
