package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/brokerops/be-commissions/internal/platform/database"
)

// Migrations returns the schema statements in apply order. Each entry is a
// single statement; its index+1 is the schema version it brings the database to.
func Migrations() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

		`CREATE TABLE IF NOT EXISTS commissions (
			id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			client_name         TEXT NOT NULL,
			transaction_label   TEXT NOT NULL DEFAULT '',
			total_amount        NUMERIC(20, 6) NOT NULL CHECK (total_amount > 0),
			office_share        NUMERIC(20, 6) NOT NULL,
			employee_pool_share NUMERIC(20, 6) NOT NULL,
			office_final_share  NUMERIC(20, 6) NOT NULL,
			remainder           NUMERIC(20, 6) NOT NULL CHECK (remainder >= 0),
			status              TEXT NOT NULL DEFAULT 'pending'
			                    CHECK (status IN ('pending', 'approved', 'paid')),
			distribution_kind   TEXT NOT NULL CHECK (distribution_kind IN ('equal', 'custom')),
			created_by          TEXT,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			approved_by         TEXT,
			approved_at         TIMESTAMPTZ,
			paid_by             TEXT,
			paid_at             TIMESTAMPTZ,
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commissions_status ON commissions(status, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS commission_shares (
			id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			commission_id UUID NOT NULL REFERENCES commissions(id) ON DELETE CASCADE,
			position      INTEGER NOT NULL,
			employee_id   TEXT NOT NULL,
			employee_name TEXT,
			percentage    NUMERIC(9, 4) NOT NULL,
			amount        NUMERIC(20, 6) NOT NULL CHECK (amount >= 0),
			net_amount    NUMERIC(20, 6) NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (commission_id, employee_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commission_shares_employee ON commission_shares(employee_id)`,

		`CREATE TABLE IF NOT EXISTS debts (
			id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			debtor_id       TEXT NOT NULL,
			debtor_name     TEXT NOT NULL,
			debtor_type     TEXT NOT NULL DEFAULT 'employee',
			amount          NUMERIC(20, 6) NOT NULL CHECK (amount > 0),
			original_amount NUMERIC(20, 6) NOT NULL CHECK (original_amount > 0),
			description     TEXT NOT NULL DEFAULT '',
			due_date        DATE,
			priority        INTEGER NOT NULL DEFAULT 0,
			status          TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'paid')),
			auto_deduct     BOOLEAN NOT NULL DEFAULT FALSE,
			notes           TEXT NOT NULL DEFAULT '',
			created_by      TEXT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			paid_at         TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_debts_auto_deduct ON debts(debtor_id, priority DESC, created_at)
			WHERE status = 'pending' AND auto_deduct`,

		`CREATE TABLE IF NOT EXISTS commission_deductions (
			id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			commission_id UUID NOT NULL REFERENCES commissions(id),
			debt_id       UUID NOT NULL REFERENCES debts(id),
			employee_id   TEXT NOT NULL,
			action        TEXT NOT NULL CHECK (action IN ('deduct', 'defer')),
			amount        NUMERIC(20, 6) NOT NULL DEFAULT 0,
			reason        TEXT,
			decided_by    TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commission_deductions_commission ON commission_deductions(commission_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS commission_audit_log (
			id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			commission_id UUID NOT NULL REFERENCES commissions(id),
			action        TEXT NOT NULL,
			performed_by  TEXT,
			performed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			status_before TEXT,
			status_after  TEXT,
			metadata      JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commission_audit_commission ON commission_audit_log(commission_id, performed_at)`,
		`CREATE OR REPLACE FUNCTION prevent_audit_mutation() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'commission_audit_log is append-only';
		END;
		$$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_commission_audit_immutable ON commission_audit_log`,
		`CREATE TRIGGER trg_commission_audit_immutable
			BEFORE UPDATE OR DELETE ON commission_audit_log
			FOR EACH ROW EXECUTE FUNCTION prevent_audit_mutation()`,

		// net shares go negative when deductions add up past the share
		`ALTER TABLE commission_shares DROP CONSTRAINT IF EXISTS commission_shares_net_amount_check`,
	}
}

// Migrate applies every statement newer than the recorded schema version.
// It returns the version the database ends at.
func Migrate(ctx context.Context, db *database.DB) (int, error) {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	stmts := Migrations()
	for i := current; i < len(stmts); i++ {
		version := i + 1
		err := db.InTransaction(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, stmts[i]); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
			return err
		})
		if err != nil {
			return current, fmt.Errorf("apply migration %d: %w", version, err)
		}
		current = version
	}
	return current, nil
}
