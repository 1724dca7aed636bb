package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CommissionStatus is the commission lifecycle state.
type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionApproved CommissionStatus = "approved"
	CommissionPaid     CommissionStatus = "paid"
)

// Valid reports whether s is a known status.
func (s CommissionStatus) Valid() bool {
	switch s {
	case CommissionPending, CommissionApproved, CommissionPaid:
		return true
	}
	return false
}

// Predecessor returns the only state from which s can be entered.
func (s CommissionStatus) Predecessor() (CommissionStatus, bool) {
	switch s {
	case CommissionApproved:
		return CommissionPending, true
	case CommissionPaid:
		return CommissionApproved, true
	}
	return "", false
}

// CheckTransition validates moving a commission from current to next.
func CheckTransition(current, next CommissionStatus) error {
	from, ok := next.Predecessor()
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	if current == from {
		return nil
	}
	switch next {
	case CommissionApproved:
		return fmt.Errorf("%w (status is %s)", ErrCannotApprove, current)
	default:
		return fmt.Errorf("%w (status is %s)", ErrCannotPay, current)
	}
}

// CheckDeductible rejects deductions against a commission that is already paid.
func CheckDeductible(status CommissionStatus) error {
	if status == CommissionPaid {
		return ErrCommissionPaid
	}
	return nil
}

// DebtStatus is the stored debt state. There is no partially paid state;
// see DebtLabel.
type DebtStatus string

const (
	DebtPending DebtStatus = "pending"
	DebtPaid    DebtStatus = "paid"
)

// DebtLabel is the display label for a debt. A pending debt whose balance is
// below its original amount shows as partially_paid.
func DebtLabel(status DebtStatus, amount, original decimal.Decimal) string {
	if status == DebtPending && !original.IsZero() && amount.LessThan(original) {
		return "partially_paid"
	}
	return string(status)
}

// DebtUpdate is the outcome of applying money to a debt.
type DebtUpdate struct {
	Amount  decimal.Decimal
	Status  DebtStatus
	Applied decimal.Decimal
	Note    string
	Settled bool
}

// ApplyDebtPayment applies a manual payment. Paying at least the balance
// settles the debt and keeps the amount as it was; a smaller payment reduces
// the balance and leaves the debt pending.
func ApplyDebtPayment(status DebtStatus, amount, paid decimal.Decimal, at time.Time) (DebtUpdate, error) {
	if status != DebtPending {
		return DebtUpdate{}, fmt.Errorf("%w (status is %s)", ErrDebtNotPending, status)
	}
	if !paid.IsPositive() {
		return DebtUpdate{}, fmt.Errorf("%w (got %s)", ErrPaymentAmount, paid)
	}
	day := at.UTC().Format("2006-01-02")
	if paid.GreaterThanOrEqual(amount) {
		return DebtUpdate{
			Amount:  amount,
			Status:  DebtPaid,
			Applied: amount,
			Note:    fmt.Sprintf("Paid in full on %s", day),
			Settled: true,
		}, nil
	}
	return DebtUpdate{
		Amount:  amount.Sub(paid),
		Status:  DebtPending,
		Applied: paid,
		Note:    fmt.Sprintf("Partial payment of %s on %s", paid.StringFixed(CurrencyPlaces), day),
	}, nil
}

// ApplyDeduction applies a commission deduction to a debt with the same
// balance rules as a payment, noting the commission it came from.
func ApplyDeduction(status DebtStatus, amount, deducted decimal.Decimal, commissionID string, at time.Time) (DebtUpdate, error) {
	if status != DebtPending {
		return DebtUpdate{}, fmt.Errorf("%w (status is %s)", ErrDebtNotPending, status)
	}
	if !deducted.IsPositive() {
		return DebtUpdate{}, fmt.Errorf("%w (got %s)", ErrDeductionAmount, deducted)
	}
	if deducted.GreaterThan(amount) {
		return DebtUpdate{}, fmt.Errorf("%w: %s against a balance of %s", ErrDeductionOverCap, deducted, amount)
	}
	note := fmt.Sprintf("Deducted %s from commission %s on %s",
		deducted.StringFixed(CurrencyPlaces), commissionID, at.UTC().Format("2006-01-02"))
	if deducted.Equal(amount) {
		return DebtUpdate{Amount: amount, Status: DebtPaid, Applied: deducted, Note: note, Settled: true}, nil
	}
	return DebtUpdate{Amount: amount.Sub(deducted), Status: DebtPending, Applied: deducted, Note: note}, nil
}

// AppendNote joins a new note onto existing debt notes.
func AppendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
