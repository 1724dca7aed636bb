package engine

import (
	apperrors "github.com/brokerops/be-commissions/internal/platform/errors"
)

// Validation errors. Callers wrap them with detail via fmt.Errorf("%w ...").
var (
	ErrNonPositiveTotal     = apperrors.InvalidInput("total_amount", "total amount must be positive")
	ErrTotalPrecision       = apperrors.InvalidInput("total_amount", "total amount must have at most 2 decimal places")
	ErrEmptyEmployeeID      = apperrors.InvalidInput("employee_ids", "employee id must not be empty")
	ErrDuplicateEmployee    = apperrors.InvalidInput("employee_ids", "employee listed more than once")
	ErrPercentageRange      = apperrors.InvalidInput("percentages", "percentage must be between 0 and 100")
	ErrPercentagePrecision  = apperrors.InvalidInput("percentages", "percentage must have at most 4 decimal places")
	ErrPercentageUnknown    = apperrors.InvalidInput("percentages", "percentage given for an employee who is not a participant")
	ErrPercentageDuplicate  = apperrors.InvalidInput("percentages", "percentage given more than once for the same employee")
	ErrPercentagesOver100   = apperrors.InvalidInput("percentages", "percentages sum to more than 100")
	ErrInvalidOfficeShare   = apperrors.InvalidInput("office_fraction", "office fraction must be between 0 and 1 exclusive")
	ErrDeductionAmount      = apperrors.InvalidInput("amount", "deduction amount must be positive")
	ErrDeductionOverCap     = apperrors.InvalidInput("amount", "deduction amount exceeds min(debt amount, employee share)")
	ErrUnknownDebt          = apperrors.InvalidInput("debt_id", "debt is not part of this decision set")
	ErrDuplicateDecision    = apperrors.InvalidInput("debt_id", "debt decided more than once")
	ErrDebtorMismatch       = apperrors.InvalidInput("employee_id", "debt does not belong to this employee")
	ErrDebtorNotParticipant = apperrors.InvalidInput("employee_id", "employee is not a participant of this commission")
	ErrUndecidedDebts       = apperrors.InvalidInput("decisions", "every presented debt needs a deduct or defer decision")
	ErrUnknownAction        = apperrors.InvalidInput("action", "action must be deduct or defer")
	ErrPaymentAmount        = apperrors.InvalidInput("paid_amount", "payment amount must be positive")
)

// Lifecycle errors.
var (
	ErrCannotApprove     = apperrors.Conflict("only pending commissions can be approved")
	ErrCannotPay         = apperrors.Conflict("only approved commissions can be paid")
	ErrCommissionPaid    = apperrors.Conflict("commission is already paid")
	ErrDebtNotPending    = apperrors.Conflict("debt is not pending")
	ErrDebtNotAutoDeduct = apperrors.Conflict("debt is not eligible for automatic deduction")
	ErrNothingToDeduct   = apperrors.Conflict("employee share is zero, the debt can only be deferred")
	ErrInvalidTransition = apperrors.Conflict("invalid commission status transition")
)
