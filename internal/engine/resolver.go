package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DebtCandidate is the subset of a debt the resolver needs.
type DebtCandidate struct {
	ID         string
	EmployeeID string
	Amount     decimal.Decimal
	Priority   int
	CreatedAt  time.Time
	Status     DebtStatus
	AutoDeduct bool
}

// Eligible reports whether the debt may be offered for deduction.
func (d DebtCandidate) Eligible() error {
	if d.Status != DebtPending {
		return fmt.Errorf("%w: %s is %s", ErrDebtNotPending, d.ID, d.Status)
	}
	if !d.AutoDeduct {
		return fmt.Errorf("%w: %s", ErrDebtNotAutoDeduct, d.ID)
	}
	return nil
}

// OrderDebts returns a copy of debts sorted by priority (highest first), then
// creation time (oldest first), then id.
func OrderDebts(debts []DebtCandidate) []DebtCandidate {
	ordered := make([]DebtCandidate, len(debts))
	copy(ordered, debts)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ordered
}

// DeductionCap is the most that may be deducted for one debt: the smaller of
// the outstanding debt and the employee's computed share.
func DeductionCap(debtAmount, share decimal.Decimal) decimal.Decimal {
	if share.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(debtAmount, share)
}

// DecisionAction is the operator's disposition for one debt.
type DecisionAction string

const (
	ActionDeduct DecisionAction = "deduct"
	ActionDefer  DecisionAction = "defer"
)

// ParseDecisionAction validates a wire value.
func ParseDecisionAction(s string) (DecisionAction, error) {
	switch DecisionAction(s) {
	case ActionDeduct, ActionDefer:
		return DecisionAction(s), nil
	default:
		return "", fmt.Errorf("%w (got %q)", ErrUnknownAction, s)
	}
}

// DeductionDecision is one confirmed disposition. Amount is set only for
// deductions, Reason only for deferrals.
type DeductionDecision struct {
	EmployeeID string
	DebtID     string
	Action     DecisionAction
	Amount     decimal.Decimal
	Reason     string
}

// Prompt is what the operator is asked to decide on, in resolver order.
type Prompt struct {
	DebtID     string
	EmployeeID string
	DebtAmount decimal.Decimal
	Share      decimal.Decimal
	Cap        decimal.Decimal
	Priority   int
	CreatedAt  time.Time
}

// DecisionBuilder collects operator decisions for a set of debts and yields
// them as one immutable batch.
type DecisionBuilder struct {
	prompts []Prompt
	index   map[string]int
	shares  map[string]decimal.Decimal
	decided map[string]DeductionDecision
}

// NewDecisionBuilder prepares prompts for debts against the given employee
// shares. Every debt must be eligible and owed by one of the employees.
func NewDecisionBuilder(shares map[string]decimal.Decimal, debts []DebtCandidate) (*DecisionBuilder, error) {
	b := &DecisionBuilder{
		index:   make(map[string]int, len(debts)),
		shares:  make(map[string]decimal.Decimal, len(shares)),
		decided: make(map[string]DeductionDecision, len(debts)),
	}
	for id, amount := range shares {
		b.shares[id] = amount
	}

	for _, d := range OrderDebts(debts) {
		if err := d.Eligible(); err != nil {
			return nil, err
		}
		share, ok := b.shares[d.EmployeeID]
		if !ok {
			return nil, fmt.Errorf("%w: debt %s owed by %s", ErrDebtorNotParticipant, d.ID, d.EmployeeID)
		}
		if _, dup := b.index[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDecision, d.ID)
		}
		b.index[d.ID] = len(b.prompts)
		b.prompts = append(b.prompts, Prompt{
			DebtID:     d.ID,
			EmployeeID: d.EmployeeID,
			DebtAmount: d.Amount,
			Share:      share,
			Cap:        DeductionCap(d.Amount, share),
			Priority:   d.Priority,
			CreatedAt:  d.CreatedAt,
		})
	}
	return b, nil
}

// Prompts returns the debts awaiting a decision, in resolver order.
func (b *DecisionBuilder) Prompts() []Prompt {
	out := make([]Prompt, len(b.prompts))
	copy(out, b.prompts)
	return out
}

// Empty reports whether there is nothing to decide.
func (b *DecisionBuilder) Empty() bool {
	return len(b.prompts) == 0
}

func (b *DecisionBuilder) prompt(debtID string) (Prompt, error) {
	i, ok := b.index[debtID]
	if !ok {
		return Prompt{}, fmt.Errorf("%w: %s", ErrUnknownDebt, debtID)
	}
	if _, done := b.decided[debtID]; done {
		return Prompt{}, fmt.Errorf("%w: %s", ErrDuplicateDecision, debtID)
	}
	return b.prompts[i], nil
}

// Deduct records a deduction of the full cap for debtID.
func (b *DecisionBuilder) Deduct(debtID string) error {
	p, err := b.prompt(debtID)
	if err != nil {
		return err
	}
	if !p.Cap.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNothingToDeduct, debtID)
	}
	b.decided[debtID] = DeductionDecision{
		EmployeeID: p.EmployeeID,
		DebtID:     debtID,
		Action:     ActionDeduct,
		Amount:     p.Cap,
	}
	return nil
}

// DeductAmount records a deduction of amount, which must be positive and no
// larger than the cap.
func (b *DecisionBuilder) DeductAmount(debtID string, amount decimal.Decimal) error {
	p, err := b.prompt(debtID)
	if err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w (got %s)", ErrDeductionAmount, amount)
	}
	if amount.GreaterThan(p.Cap) {
		return fmt.Errorf("%w: %s requested for %s, cap %s", ErrDeductionOverCap, amount, debtID, p.Cap)
	}
	b.decided[debtID] = DeductionDecision{
		EmployeeID: p.EmployeeID,
		DebtID:     debtID,
		Action:     ActionDeduct,
		Amount:     amount,
	}
	return nil
}

// Defer leaves debtID untouched for this cycle.
func (b *DecisionBuilder) Defer(debtID, reason string) error {
	p, err := b.prompt(debtID)
	if err != nil {
		return err
	}
	b.decided[debtID] = DeductionDecision{
		EmployeeID: p.EmployeeID,
		DebtID:     debtID,
		Action:     ActionDefer,
		Reason:     reason,
	}
	return nil
}

// Build returns the decisions in resolver order. Every prompt must be
// decided. Each deduction is capped on its own against the employee's
// computed share; deductions for one employee are not summed against it, so
// the net share may end up negative.
func (b *DecisionBuilder) Build() ([]DeductionDecision, error) {
	if missing := len(b.prompts) - len(b.decided); missing > 0 {
		return nil, fmt.Errorf("%w: %d undecided", ErrUndecidedDebts, missing)
	}

	out := make([]DeductionDecision, 0, len(b.prompts))
	for _, p := range b.prompts {
		out = append(out, b.decided[p.DebtID])
	}
	return out, nil
}

// TotalDeducted sums the deduct decisions per employee.
func TotalDeducted(decisions []DeductionDecision) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, d := range decisions {
		if d.Action == ActionDeduct {
			totals[d.EmployeeID] = totals[d.EmployeeID].Add(d.Amount)
		}
	}
	return totals
}
