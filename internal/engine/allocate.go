package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DistributionKind records how the employee pool was divided.
type DistributionKind string

const (
	DistributionEqual  DistributionKind = "equal"
	DistributionCustom DistributionKind = "custom"
)

// PercentageShare is an operator-requested percentage for one participant.
type PercentageShare struct {
	EmployeeID string
	Percentage decimal.Decimal
}

// EmployeeShare is one employee's slice of the pool.
type EmployeeShare struct {
	EmployeeID string
	Percentage decimal.Decimal
	Amount     decimal.Decimal
}

// AllocationMode is the closed set of pool allocation strategies:
// EmptyMode, SingleMode, CustomMode and EqualMode.
type AllocationMode interface {
	Kind() DistributionKind
	allocationMode()
}

// EmptyMode: nobody participates, the pool goes back to the office.
type EmptyMode struct{}

// SingleMode: one participant without percentages takes the whole pool.
type SingleMode struct {
	EmployeeID string
}

// CustomMode: explicit percentages, one entry per participant in participant
// order. Participants the operator left out carry an explicit zero.
type CustomMode struct {
	Shares []PercentageShare
}

// EqualMode: the pool is split evenly between two or more participants.
type EqualMode struct {
	EmployeeIDs []string
}

func (EmptyMode) Kind() DistributionKind  { return DistributionEqual }
func (SingleMode) Kind() DistributionKind { return DistributionEqual }
func (CustomMode) Kind() DistributionKind { return DistributionCustom }
func (EqualMode) Kind() DistributionKind  { return DistributionEqual }

func (EmptyMode) allocationMode()  {}
func (SingleMode) allocationMode() {}
func (CustomMode) allocationMode() {}
func (EqualMode) allocationMode()  {}

// ResolveMode validates the participant list and the requested percentages
// and picks the allocation mode. A non-empty percentage list always selects
// CustomMode; otherwise the participant count decides.
func ResolveMode(employeeIDs []string, percentages []PercentageShare) (AllocationMode, error) {
	position := make(map[string]int, len(employeeIDs))
	for i, id := range employeeIDs {
		if id == "" {
			return nil, ErrEmptyEmployeeID
		}
		if _, dup := position[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmployee, id)
		}
		position[id] = i
	}

	if len(percentages) > 0 {
		return resolveCustom(employeeIDs, position, percentages)
	}

	switch len(employeeIDs) {
	case 0:
		return EmptyMode{}, nil
	case 1:
		return SingleMode{EmployeeID: employeeIDs[0]}, nil
	default:
		ids := make([]string, len(employeeIDs))
		copy(ids, employeeIDs)
		return EqualMode{EmployeeIDs: ids}, nil
	}
}

func resolveCustom(employeeIDs []string, position map[string]int, percentages []PercentageShare) (AllocationMode, error) {
	requested := make([]*decimal.Decimal, len(employeeIDs))
	sum := decimal.Zero

	for _, p := range percentages {
		idx, ok := position[p.EmployeeID]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPercentageUnknown, p.EmployeeID)
		}
		if requested[idx] != nil {
			return nil, fmt.Errorf("%w: %s", ErrPercentageDuplicate, p.EmployeeID)
		}
		if p.Percentage.IsNegative() || p.Percentage.GreaterThan(hundred) {
			return nil, fmt.Errorf("%w: %s has %s", ErrPercentageRange, p.EmployeeID, p.Percentage)
		}
		if !p.Percentage.Equal(p.Percentage.Truncate(PercentagePlaces)) {
			return nil, fmt.Errorf("%w: %s has %s", ErrPercentagePrecision, p.EmployeeID, p.Percentage)
		}
		pct := p.Percentage
		requested[idx] = &pct
		sum = sum.Add(pct)
	}

	if sum.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w (got %s)", ErrPercentagesOver100, sum)
	}

	shares := make([]PercentageShare, len(employeeIDs))
	for i, id := range employeeIDs {
		pct := decimal.Zero
		if requested[i] != nil {
			pct = *requested[i]
		}
		shares[i] = PercentageShare{EmployeeID: id, Percentage: pct}
	}
	return CustomMode{Shares: shares}, nil
}

// AllocatePool divides pool according to mode and returns the per-employee
// shares plus the unallocated remainder. The remainder is never negative for
// a mode produced by ResolveMode.
func AllocatePool(pool decimal.Decimal, mode AllocationMode) ([]EmployeeShare, decimal.Decimal) {
	var shares []EmployeeShare

	switch m := mode.(type) {
	case EmptyMode:
		return nil, pool
	case SingleMode:
		shares = []EmployeeShare{{EmployeeID: m.EmployeeID, Percentage: hundred, Amount: pool}}
	case CustomMode:
		shares = make([]EmployeeShare, len(m.Shares))
		for i, s := range m.Shares {
			shares[i] = EmployeeShare{
				EmployeeID: s.EmployeeID,
				Percentage: s.Percentage,
				Amount:     pool.Mul(s.Percentage).Shift(-2),
			}
		}
	case EqualMode:
		shares = splitEvenly(pool, m.EmployeeIDs)
	default:
		panic(fmt.Sprintf("engine: unhandled allocation mode %T", mode))
	}

	allocated := decimal.Zero
	for _, s := range shares {
		allocated = allocated.Add(s.Amount)
	}
	return shares, pool.Sub(allocated)
}

// splitEvenly gives every employee pool/n truncated to the pool's minor unit
// (at least a cent) and hands the leftover units, one each, to the
// earliest-listed employees so the shares sum to the pool exactly.
func splitEvenly(pool decimal.Decimal, ids []string) []EmployeeShare {
	n := int64(len(ids))
	places := int32(CurrencyPlaces)
	if exp := -pool.Exponent(); exp > places {
		places = exp
	}
	unit := decimal.New(1, -places)

	base := pool.Div(decimal.NewFromInt(n)).Truncate(places)
	leftover := pool.Sub(base.Mul(decimal.NewFromInt(n))).Div(unit).IntPart()

	pct := hundred.Div(decimal.NewFromInt(n)).Round(PercentagePlaces)
	shares := make([]EmployeeShare, len(ids))
	for i, id := range ids {
		amount := base
		if int64(i) < leftover {
			amount = amount.Add(unit)
		}
		shares[i] = EmployeeShare{EmployeeID: id, Percentage: pct, Amount: amount}
	}
	return shares
}

// CommissionInput is the data needed to compute an allocation.
type CommissionInput struct {
	TotalAmount decimal.Decimal
	EmployeeIDs []string
	Percentages []PercentageShare
}

// Allocation is the full, immutable result of splitting and allocating a
// commission. OfficeFinalShare + Σ Shares[i].Amount == TotalAmount.
type Allocation struct {
	TotalAmount       decimal.Decimal
	OfficeShare       decimal.Decimal
	EmployeePoolShare decimal.Decimal
	OfficeFinalShare  decimal.Decimal
	Remainder         decimal.Decimal
	Kind              DistributionKind
	Shares            []EmployeeShare
}

// Allocate validates the input, splits the total and allocates the pool.
func Allocate(in CommissionInput, policy Policy) (Allocation, error) {
	if err := policy.Validate(); err != nil {
		return Allocation{}, err
	}
	if err := ValidateTotal(in.TotalAmount); err != nil {
		return Allocation{}, err
	}

	mode, err := ResolveMode(in.EmployeeIDs, in.Percentages)
	if err != nil {
		return Allocation{}, err
	}

	split := SplitCommission(in.TotalAmount, policy)
	shares, remainder := AllocatePool(split.EmployeePoolShare, mode)

	return Allocation{
		TotalAmount:       in.TotalAmount,
		OfficeShare:       split.OfficeShare,
		EmployeePoolShare: split.EmployeePoolShare,
		OfficeFinalShare:  split.OfficeShare.Add(remainder),
		Remainder:         remainder,
		Kind:              mode.Kind(),
		Shares:            shares,
	}, nil
}

// EmployeeTotal sums the allocated employee amounts.
func (a Allocation) EmployeeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.Shares {
		total = total.Add(s.Amount)
	}
	return total
}

// ShareOf returns the allocated amount for an employee.
func (a Allocation) ShareOf(employeeID string) (decimal.Decimal, bool) {
	for _, s := range a.Shares {
		if s.EmployeeID == employeeID {
			return s.Amount, true
		}
	}
	return decimal.Zero, false
}
