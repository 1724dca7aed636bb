package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/platform/database"
	"github.com/brokerops/be-commissions/internal/platform/errors"
)

const debtColumns = `
	id, debtor_id, debtor_name, debtor_type, amount, original_amount,
	description, due_date, priority, status, auto_deduct, notes,
	created_by, created_at, updated_at, paid_at`

// DebtRepository handles debt data operations
type DebtRepository struct {
	db *database.DB
}

// NewDebtRepository creates a new debt repository
func NewDebtRepository(db *database.DB) *DebtRepository {
	return &DebtRepository{db: db}
}

// Create registers a new debt.
func (r *DebtRepository) Create(ctx context.Context, d *Debt) error {
	query := `
		INSERT INTO debts (debtor_id, debtor_name, debtor_type, amount, original_amount,
		                   description, due_date, priority, status, auto_deduct, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		d.DebtorID,
		d.DebtorName,
		d.DebtorType,
		d.Amount,
		d.OriginalAmount,
		d.Description,
		d.DueDate,
		d.Priority,
		string(d.Status),
		d.AutoDeduct,
		d.Notes,
		d.CreatedBy,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return wrapDB(err, "failed to create debt")
	}
	return nil
}

// GetByID retrieves a debt.
func (r *DebtRepository) GetByID(ctx context.Context, id string) (*Debt, error) {
	return getDebt(ctx, r.db, id, false)
}

func getDebt(ctx context.Context, q querier, id string, forUpdate bool) (*Debt, error) {
	query := `SELECT ` + debtColumns + ` FROM debts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	d, err := scanDebt(q.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("debt", id)
	}
	if err != nil {
		return nil, wrapDB(err, "failed to get debt")
	}
	return d, nil
}

// ListPendingAutoDeduct returns the pending auto-deduct debts owed by any of
// the employees, highest priority and oldest first.
func (r *DebtRepository) ListPendingAutoDeduct(ctx context.Context, employeeIDs []string) ([]*Debt, error) {
	if len(employeeIDs) == 0 {
		return []*Debt{}, nil
	}
	query := `SELECT ` + debtColumns + `
		FROM debts
		WHERE debtor_id = ANY($1) AND status = 'pending' AND auto_deduct
		ORDER BY priority DESC, created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, employeeIDs)
	if err != nil {
		return nil, wrapDB(err, "failed to list pending debts")
	}
	defer rows.Close()
	return scanDebtRows(rows)
}

// lockDebts locks the given debts for the rest of the transaction in a stable
// order. Missing ids are reported as not found.
func lockDebts(ctx context.Context, q querier, ids []string) (map[string]*Debt, error) {
	out := make(map[string]*Debt, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + debtColumns + ` FROM debts WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, wrapDB(err, "failed to lock debts")
	}
	defer rows.Close()

	debts, err := scanDebtRows(rows)
	if err != nil {
		return nil, err
	}
	for _, d := range debts {
		out[d.ID] = d
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, errors.NotFound("debt", id)
		}
	}
	return out, nil
}

// ApplyPayment locks the debt, lets apply compute the new state and stores it.
func (r *DebtRepository) ApplyPayment(ctx context.Context, id string, apply func(*Debt) (engine.DebtUpdate, error)) (*Debt, error) {
	var result *Debt
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		d, err := getDebt(ctx, tx, id, true)
		if err != nil {
			return err
		}
		update, err := apply(d)
		if err != nil {
			return err
		}
		if err := storeDebtUpdate(ctx, tx, d, update, time.Now().UTC()); err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// storeDebtUpdate writes update onto d and persists it.
func storeDebtUpdate(ctx context.Context, q querier, d *Debt, update engine.DebtUpdate, at time.Time) error {
	d.Amount = update.Amount
	d.Status = update.Status
	d.Notes = engine.AppendNote(d.Notes, update.Note)
	if update.Settled {
		d.PaidAt = &at
	}

	query := `
		UPDATE debts
		SET amount = $2,
		    status = $3,
		    notes = $4,
		    paid_at = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := q.QueryRow(ctx, query, d.ID, d.Amount, string(d.Status), d.Notes, d.PaidAt).Scan(&d.UpdatedAt)
	if err != nil {
		return wrapDB(err, "failed to update debt")
	}
	return nil
}

func scanDebtRows(rows pgx.Rows) ([]*Debt, error) {
	debts := make([]*Debt, 0)
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan debt")
		}
		debts = append(debts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "failed to read debts")
	}
	return debts, nil
}

func scanDebt(sc rowScanner) (*Debt, error) {
	d := &Debt{}
	var status string
	err := sc.Scan(
		&d.ID,
		&d.DebtorID,
		&d.DebtorName,
		&d.DebtorType,
		&d.Amount,
		&d.OriginalAmount,
		&d.Description,
		&d.DueDate,
		&d.Priority,
		&status,
		&d.AutoDeduct,
		&d.Notes,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = engine.DebtStatus(status)
	return d, nil
}
