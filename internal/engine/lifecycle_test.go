package engine

import (
	"errors"
	"testing"
	"time"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to CommissionStatus
		wantErr  error
	}{
		{CommissionPending, CommissionApproved, nil},
		{CommissionApproved, CommissionPaid, nil},
		{CommissionPending, CommissionPaid, ErrCannotPay},
		{CommissionApproved, CommissionApproved, ErrCannotApprove},
		{CommissionPaid, CommissionApproved, ErrCannotApprove},
		{CommissionPaid, CommissionPaid, ErrCannotPay},
		{CommissionApproved, CommissionPending, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CheckTransition(tt.from, tt.to)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("CheckTransition() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckTransition() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckDeductible(t *testing.T) {
	if err := CheckDeductible(CommissionApproved); err != nil {
		t.Errorf("CheckDeductible(approved) = %v", err)
	}
	if err := CheckDeductible(CommissionPaid); !errors.Is(err, ErrCommissionPaid) {
		t.Errorf("CheckDeductible(paid) = %v, want ErrCommissionPaid", err)
	}
}

func TestApplyDebtPayment(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	t.Run("partial", func(t *testing.T) {
		u, err := ApplyDebtPayment(DebtPending, d("1000"), d("250"), at)
		if err != nil {
			t.Fatalf("ApplyDebtPayment() error = %v", err)
		}
		if u.Status != DebtPending || !u.Amount.Equal(d("750")) || u.Settled {
			t.Errorf("update = %+v, want pending 750", u)
		}
		if u.Note != "Partial payment of 250.00 on 2026-03-14" {
			t.Errorf("note = %q", u.Note)
		}
	})

	t.Run("exact settles", func(t *testing.T) {
		u, err := ApplyDebtPayment(DebtPending, d("1000"), d("1000"), at)
		if err != nil {
			t.Fatalf("ApplyDebtPayment() error = %v", err)
		}
		if u.Status != DebtPaid || !u.Settled || !u.Amount.Equal(d("1000")) {
			t.Errorf("update = %+v, want paid keeping amount", u)
		}
	})

	t.Run("overpayment settles", func(t *testing.T) {
		u, err := ApplyDebtPayment(DebtPending, d("1000"), d("1500"), at)
		if err != nil {
			t.Fatalf("ApplyDebtPayment() error = %v", err)
		}
		if u.Status != DebtPaid || !u.Applied.Equal(d("1000")) {
			t.Errorf("update = %+v, want paid with 1000 applied", u)
		}
	})

	t.Run("paid is terminal", func(t *testing.T) {
		if _, err := ApplyDebtPayment(DebtPaid, d("1000"), d("10"), at); !errors.Is(err, ErrDebtNotPending) {
			t.Errorf("error = %v, want ErrDebtNotPending", err)
		}
	})

	t.Run("non-positive payment", func(t *testing.T) {
		if _, err := ApplyDebtPayment(DebtPending, d("1000"), d("0"), at); !errors.Is(err, ErrPaymentAmount) {
			t.Errorf("error = %v, want ErrPaymentAmount", err)
		}
	})
}

func TestApplyDeduction(t *testing.T) {
	at := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	u, err := ApplyDeduction(DebtPending, d("800"), d("300"), "c-1", at)
	if err != nil {
		t.Fatalf("ApplyDeduction() error = %v", err)
	}
	if !u.Amount.Equal(d("500")) || u.Status != DebtPending {
		t.Errorf("update = %+v, want pending 500", u)
	}
	if u.Note != "Deducted 300.00 from commission c-1 on 2026-03-14" {
		t.Errorf("note = %q", u.Note)
	}

	u, err = ApplyDeduction(DebtPending, d("800"), d("800"), "c-1", at)
	if err != nil || u.Status != DebtPaid {
		t.Errorf("full deduction = %+v, %v; want paid", u, err)
	}

	if _, err := ApplyDeduction(DebtPending, d("800"), d("801"), "c-1", at); !errors.Is(err, ErrDeductionOverCap) {
		t.Errorf("over-balance deduction = %v, want ErrDeductionOverCap", err)
	}
}

func TestDebtLabel(t *testing.T) {
	tests := []struct {
		status           DebtStatus
		amount, original string
		want             string
	}{
		{DebtPending, "1000", "1000", "pending"},
		{DebtPending, "400", "1000", "partially_paid"},
		{DebtPaid, "400", "1000", "paid"},
	}
	for _, tt := range tests {
		if got := DebtLabel(tt.status, d(tt.amount), d(tt.original)); got != tt.want {
			t.Errorf("DebtLabel(%s, %s, %s) = %s, want %s", tt.status, tt.amount, tt.original, got, tt.want)
		}
	}
}

func TestAppendNote(t *testing.T) {
	if got := AppendNote("", "one"); got != "one" {
		t.Errorf("AppendNote() = %q", got)
	}
	if got := AppendNote("one", "two"); got != "one\ntwo" {
		t.Errorf("AppendNote() = %q", got)
	}
}
