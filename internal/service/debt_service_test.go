package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/platform/errors"
	"github.com/brokerops/be-commissions/internal/platform/logger"
	"github.com/brokerops/be-commissions/internal/repository"
)

type debtFixture struct {
	*commissionFixture
	debts *DebtService
}

func newDebtFixture() *debtFixture {
	f := newCommissionFixture()
	svc := NewDebtService(memDebts{f.db}, memDeductions{f.db}, memCommissions{f.db}, f.events, logger.Nop())
	svc.now = func() time.Time { return time.Date(2026, 4, 15, 9, 30, 0, 0, time.UTC) }
	return &debtFixture{commissionFixture: f, debts: svc}
}

func (f *debtFixture) addDebt(t *testing.T, debtor, amt string, priority int) *repository.Debt {
	t.Helper()
	d, err := f.debts.CreateDebt(context.Background(), &CreateDebtRequest{
		DebtorID:   debtor,
		DebtorName: strings.ToUpper(debtor),
		Amount:     amount(amt),
		Priority:   priority,
		AutoDeduct: true,
	})
	if err != nil {
		t.Fatalf("CreateDebt() error = %v", err)
	}
	return d
}

// twoWay creates a 2000 commission split equally between emp-a and emp-b,
// giving each a share of 500.
func (f *debtFixture) twoWay(t *testing.T) *repository.Commission {
	t.Helper()
	c, err := f.service.CreateCommission(context.Background(), createRequest("2000", "emp-a", "emp-b"))
	if err != nil {
		t.Fatalf("CreateCommission() error = %v", err)
	}
	return c
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func TestCreateDebt_Validation(t *testing.T) {
	f := newDebtFixture()
	tests := []struct {
		name      string
		req       CreateDebtRequest
		wantField string
	}{
		{"missing debtor", CreateDebtRequest{DebtorName: "A", Amount: amount("10")}, "debtor_id"},
		{"missing name", CreateDebtRequest{DebtorID: "emp-a", Amount: amount("10")}, "debtor_name"},
		{"zero amount", CreateDebtRequest{DebtorID: "emp-a", DebtorName: "A", Amount: amount("0")}, "amount"},
		{"sub-cent amount", CreateDebtRequest{DebtorID: "emp-a", DebtorName: "A", Amount: amount("10.001")}, "amount"},
		{"negative priority", CreateDebtRequest{DebtorID: "emp-a", DebtorName: "A", Amount: amount("10"), Priority: -1}, "priority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.debts.CreateDebt(context.Background(), &tt.req)
			if !errors.Is(err, errors.ErrCodeInvalidInput) || errors.FieldOf(err) != tt.wantField {
				t.Errorf("CreateDebt() error = %v (field %q), want INVALID_INPUT on %q", err, errors.FieldOf(err), tt.wantField)
			}
		})
	}

	d := f.addDebt(t, "emp-a", "120.50", 1)
	if d.Status != engine.DebtPending || d.DebtorType != "employee" || !d.OriginalAmount.Equal(d.Amount) {
		t.Errorf("created debt = %+v", d)
	}
}

func TestFetchPendingAutoDeduct_GroupsByDebtor(t *testing.T) {
	f := newDebtFixture()
	f.addDebt(t, "emp-a", "100", 1)
	f.addDebt(t, "emp-b", "40", 0)
	high := f.addDebt(t, "emp-a", "25", 5)
	manual, err := f.debts.CreateDebt(context.Background(), &CreateDebtRequest{
		DebtorID: "emp-a", DebtorName: "EMP-A", Amount: amount("999"),
	})
	if err != nil {
		t.Fatalf("CreateDebt() error = %v", err)
	}

	groups, err := f.debts.FetchPendingAutoDeduct(context.Background(), []string{"emp-b", "emp-a", "emp-c"})
	if err != nil {
		t.Fatalf("FetchPendingAutoDeduct() error = %v", err)
	}
	if len(groups) != 2 || groups[0].DebtorID != "emp-b" || groups[1].DebtorID != "emp-a" {
		t.Fatalf("groups = %+v, want emp-b then emp-a", groups)
	}
	a := groups[1]
	if len(a.Debts) != 2 || a.Debts[0].ID != high.ID {
		t.Errorf("emp-a debts not ordered by priority: %+v", a.Debts)
	}
	if !a.Total.Equal(amount("125")) {
		t.Errorf("emp-a total = %s, want 125", a.Total)
	}
	for _, d := range a.Debts {
		if d.ID == manual.ID {
			t.Error("manual debt offered for auto-deduction")
		}
	}

	if _, err := f.debts.FetchPendingAutoDeduct(context.Background(), []string{" "}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("empty ids error = %v, want INVALID_INPUT", err)
	}
}

func TestDeductionCandidates(t *testing.T) {
	f := newDebtFixture()
	c := f.twoWay(t)
	big := f.addDebt(t, "emp-a", "800", 2)
	small := f.addDebt(t, "emp-a", "50", 1)
	f.addDebt(t, "emp-z", "10", 9)

	groups, err := f.debts.DeductionCandidates(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("DeductionCandidates() error = %v", err)
	}
	if len(groups) != 1 || groups[0].EmployeeID != "emp-a" {
		t.Fatalf("groups = %+v, want only emp-a", groups)
	}
	got := groups[0].Candidates
	if len(got) != 2 || got[0].Debt.ID != big.ID || got[1].Debt.ID != small.ID {
		t.Fatalf("candidates out of order: %+v", got)
	}
	if !got[0].Prompt.Cap.Equal(amount("500")) || !got[1].Prompt.Cap.Equal(amount("50")) {
		t.Errorf("caps = %s, %s; want 500, 50", got[0].Prompt.Cap, got[1].Prompt.Cap)
	}
}

func TestSubmitDeductions_AppliesBatch(t *testing.T) {
	f := newDebtFixture()
	ctx := context.Background()
	c := f.twoWay(t)
	big := f.addDebt(t, "emp-a", "800", 2)
	small := f.addDebt(t, "emp-b", "50", 1)

	res, err := f.debts.SubmitDeductions(ctx, &SubmitDeductionsRequest{
		CommissionID: c.ID,
		DecidedBy:    "ops-1",
		Decisions: []DecisionRequest{
			{EmployeeID: "emp-b", DebtID: small.ID, Action: "deduct"},
			{EmployeeID: "emp-a", DebtID: big.ID, Action: "deduct", Amount: ptr(amount("300"))},
		},
	})
	if err != nil {
		t.Fatalf("SubmitDeductions() error = %v", err)
	}
	if len(res.Deductions) != 2 {
		t.Fatalf("recorded %d deductions, want 2", len(res.Deductions))
	}

	stored, _ := f.debts.GetDebt(ctx, big.ID)
	if !stored.Amount.Equal(amount("500")) || stored.Status != engine.DebtPending {
		t.Errorf("big debt = %s %s, want 500 pending", stored.Amount, stored.Status)
	}
	if !strings.Contains(stored.Notes, "Deducted 300.00 from commission "+c.ID) {
		t.Errorf("notes = %q", stored.Notes)
	}
	settled, _ := f.debts.GetDebt(ctx, small.ID)
	if settled.Status != engine.DebtPaid {
		t.Errorf("small debt status = %s, want paid", settled.Status)
	}

	net := map[string]string{"emp-a": "200", "emp-b": "450"}
	for _, s := range res.Commission.Shares {
		if !s.NetAmount.Equal(amount(net[s.EmployeeID])) {
			t.Errorf("net share %s = %s, want %s", s.EmployeeID, s.NetAmount, net[s.EmployeeID])
		}
		if !s.Amount.Equal(amount("500")) {
			t.Errorf("computed share %s changed to %s", s.EmployeeID, s.Amount)
		}
	}
	if f.events.count("debt", EventDebtPaid) != 1 || f.events.count("debt", EventDebtDeducted) != 1 {
		t.Errorf("events = %+v", f.events.events)
	}

	recorded, err := f.debts.ListDeductions(ctx, c.ID)
	if err != nil || len(recorded) != 2 {
		t.Errorf("ListDeductions() = %d, %v; want 2 records", len(recorded), err)
	}
}

func TestSubmitDeductions_CapsEachDebtAgainstComputedShare(t *testing.T) {
	f := newDebtFixture()
	ctx := context.Background()
	c := f.twoWay(t)
	first := f.addDebt(t, "emp-a", "400", 3)
	second := f.addDebt(t, "emp-a", "400", 2)

	// each debt fits under the 500 share, together they exceed it
	res, err := f.debts.SubmitDeductions(ctx, &SubmitDeductionsRequest{
		CommissionID: c.ID,
		Decisions: []DecisionRequest{
			{EmployeeID: "emp-a", DebtID: first.ID, Action: "deduct"},
			{EmployeeID: "emp-a", DebtID: second.ID, Action: "deduct"},
		},
	})
	if err != nil {
		t.Fatalf("SubmitDeductions() error = %v", err)
	}
	for _, s := range res.Commission.Shares {
		if s.EmployeeID == "emp-a" && !s.NetAmount.Equal(amount("-300")) {
			t.Errorf("emp-a net = %s, want -300", s.NetAmount)
		}
	}
	for _, d := range []*repository.Debt{first, second} {
		stored, _ := f.debts.GetDebt(ctx, d.ID)
		if stored.Status != engine.DebtPaid {
			t.Errorf("debt %s status = %s, want paid", d.ID, stored.Status)
		}
	}

	// a later batch is still capped by the computed share, not the net
	third := f.addDebt(t, "emp-a", "600", 1)
	groups, err := f.debts.DeductionCandidates(ctx, c.ID)
	if err != nil {
		t.Fatalf("DeductionCandidates() error = %v", err)
	}
	if len(groups) != 1 || !groups[0].Net.Equal(amount("-300")) || !groups[0].Candidates[0].Prompt.Cap.Equal(amount("500")) {
		t.Fatalf("candidates = %+v, want net -300 and cap 500", groups)
	}
	if _, err := f.debts.SubmitDeductions(ctx, &SubmitDeductionsRequest{
		CommissionID: c.ID,
		Decisions:    []DecisionRequest{{EmployeeID: "emp-a", DebtID: third.ID, Action: "deduct"}},
	}); err != nil {
		t.Fatalf("later batch error = %v", err)
	}
	left, _ := f.debts.GetDebt(ctx, third.ID)
	if !left.Amount.Equal(amount("100")) || left.Status != engine.DebtPending {
		t.Errorf("third debt = %s %s, want 100 pending", left.Amount, left.Status)
	}
}

func TestSubmitDeductions_RejectsWholeBatch(t *testing.T) {
	f := newDebtFixture()
	ctx := context.Background()
	c := f.twoWay(t)
	d1 := f.addDebt(t, "emp-a", "300", 2)
	d2 := f.addDebt(t, "emp-a", "300", 1)
	other := f.addDebt(t, "emp-b", "10", 1)

	tests := []struct {
		name      string
		decisions []DecisionRequest
		wantCode  errors.ErrorCode
	}{
		{"empty batch", nil, errors.ErrCodeInvalidInput},
		{"unknown action", []DecisionRequest{{EmployeeID: "emp-a", DebtID: d1.ID, Action: "waive"}}, errors.ErrCodeInvalidInput},
		{"over cap", []DecisionRequest{{EmployeeID: "emp-a", DebtID: d1.ID, Action: "deduct", Amount: ptr(amount("300.01"))}}, errors.ErrCodeInvalidInput},
		{"one bad decision", []DecisionRequest{
			{EmployeeID: "emp-a", DebtID: d1.ID, Action: "deduct"},
			{EmployeeID: "emp-a", DebtID: d2.ID, Action: "deduct", Amount: ptr(amount("-5"))},
		}, errors.ErrCodeInvalidInput},
		{"wrong debtor", []DecisionRequest{{EmployeeID: "emp-a", DebtID: other.ID, Action: "deduct"}}, errors.ErrCodeInvalidInput},
		{"duplicate debt", []DecisionRequest{
			{EmployeeID: "emp-a", DebtID: d1.ID, Action: "defer"},
			{EmployeeID: "emp-a", DebtID: d1.ID, Action: "defer"},
		}, errors.ErrCodeInvalidInput},
		{"missing debt", []DecisionRequest{{EmployeeID: "emp-a", DebtID: "00000000-0000-0000-0000-000000000000", Action: "defer"}}, errors.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.debts.SubmitDeductions(ctx, &SubmitDeductionsRequest{CommissionID: c.ID, Decisions: tt.decisions})
			if errors.CodeOf(err) != tt.wantCode {
				t.Fatalf("error = %v, want %s", err, tt.wantCode)
			}
		})
	}

	for _, d := range []*repository.Debt{d1, d2, other} {
		stored, _ := f.debts.GetDebt(ctx, d.ID)
		if !stored.Amount.Equal(stored.OriginalAmount) || stored.Status != engine.DebtPending {
			t.Errorf("debt %s touched by a rejected batch: %s %s", d.ID, stored.Amount, stored.Status)
		}
	}
	if len(f.db.deductions) != 0 {
		t.Errorf("rejected batches recorded %d deductions", len(f.db.deductions))
	}
}

func TestSubmitDeductions_PaidCommission(t *testing.T) {
	f := newDebtFixture()
	ctx := context.Background()
	c := f.twoWay(t)
	d := f.addDebt(t, "emp-a", "10", 1)
	if _, err := f.service.ApproveCommission(ctx, c.ID, "ops"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.PayCommission(ctx, c.ID, "ops"); err != nil {
		t.Fatal(err)
	}

	_, err := f.debts.SubmitDeductions(ctx, &SubmitDeductionsRequest{
		CommissionID: c.ID,
		Decisions:    []DecisionRequest{{EmployeeID: "emp-a", DebtID: d.ID, Action: "deduct"}},
	})
	if !errors.Is(err, errors.ErrCodeConflict) {
		t.Errorf("error = %v, want CONFLICT", err)
	}
}

func TestRecordPayment(t *testing.T) {
	f := newDebtFixture()
	ctx := context.Background()
	d := f.addDebt(t, "emp-a", "100", 1)

	partial, err := f.debts.RecordPayment(ctx, d.ID, amount("30"), "ops-1")
	if err != nil {
		t.Fatalf("partial payment error = %v", err)
	}
	if !partial.Amount.Equal(amount("70")) || partial.Status != engine.DebtPending {
		t.Errorf("after partial = %s %s, want 70 pending", partial.Amount, partial.Status)
	}
	if partial.Notes != "Partial payment of 30.00 on 2026-04-15" {
		t.Errorf("notes = %q", partial.Notes)
	}
	if got := engine.DebtLabel(partial.Status, partial.Amount, partial.OriginalAmount); got != "partially_paid" {
		t.Errorf("label = %s, want partially_paid", got)
	}

	full, err := f.debts.RecordPayment(ctx, d.ID, amount("500"), "ops-1")
	if err != nil {
		t.Fatalf("full payment error = %v", err)
	}
	if full.Status != engine.DebtPaid || !full.Amount.Equal(amount("70")) {
		t.Errorf("after full = %s %s, want 70 paid", full.Amount, full.Status)
	}

	if _, err := f.debts.RecordPayment(ctx, d.ID, amount("1"), "ops-1"); !errors.Is(err, errors.ErrCodeConflict) {
		t.Errorf("payment on paid debt error = %v, want CONFLICT", err)
	}
	if _, err := f.debts.RecordPayment(ctx, d.ID, amount("0"), "ops-1"); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("zero payment error = %v, want INVALID_INPUT", err)
	}
	if f.events.count("debt", EventDebtPaymentPartial) != 1 || f.events.count("debt", EventDebtPaid) != 1 {
		t.Errorf("events = %+v", f.events.events)
	}
}
