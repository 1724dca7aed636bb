// Package engine holds the commission arithmetic: splitting a commission
// between the office and the employee pool, allocating the pool across
// employees, and resolving auto-deductible debts against the result. All
// functions are pure; persistence and transport live elsewhere.
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyPlaces is the precision accepted for commission totals.
	CurrencyPlaces = 2
	// PercentagePlaces is the precision percentages are stored with.
	PercentagePlaces = 4
)

var (
	hundred = decimal.NewFromInt(100)

	// DefaultOfficeFraction is the office's cut of every commission.
	DefaultOfficeFraction = decimal.New(5, -1)
)

// Policy carries the configurable commission policy.
type Policy struct {
	OfficeFraction decimal.Decimal
}

// DefaultPolicy returns the standard 50/50 office/employee policy.
func DefaultPolicy() Policy {
	return Policy{OfficeFraction: DefaultOfficeFraction}
}

// Validate checks the office fraction lies strictly between 0 and 1.
func (p Policy) Validate() error {
	if !p.OfficeFraction.IsPositive() || p.OfficeFraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w (got %s)", ErrInvalidOfficeShare, p.OfficeFraction)
	}
	return nil
}

// Split is the office/employee-pool division of a commission total.
type Split struct {
	OfficeShare       decimal.Decimal
	EmployeePoolShare decimal.Decimal
}

// SplitCommission divides total into the office share and the employee pool.
// The pool is total minus the office share, so the two always add up exactly.
func SplitCommission(total decimal.Decimal, policy Policy) Split {
	office := total.Mul(policy.OfficeFraction)
	return Split{
		OfficeShare:       office,
		EmployeePoolShare: total.Sub(office),
	}
}

// ValidateTotal rejects non-positive totals and totals finer than a cent.
func ValidateTotal(total decimal.Decimal) error {
	if !total.IsPositive() {
		return fmt.Errorf("%w (got %s)", ErrNonPositiveTotal, total)
	}
	if !total.Equal(total.Truncate(CurrencyPlaces)) {
		return fmt.Errorf("%w (got %s)", ErrTotalPrecision, total)
	}
	return nil
}
