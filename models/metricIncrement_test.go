package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func assertDelta(t *testing.T, deltas SnapshotDelta, name string, want string) {
	t.Helper()
	got, ok := deltas[name]
	if !ok {
		t.Fatalf("expected delta for %q, got none (deltas: %v)", name, deltas)
	}
	if !got.Equal(dec(want)) {
		t.Fatalf("delta %q = %s, want %s", name, got, want)
	}
}

func assertNoDelta(t *testing.T, deltas SnapshotDelta, name string) {
	t.Helper()
	if got, ok := deltas[name]; ok {
		t.Fatalf("expected no delta for %q, got %s", name, got)
	}
}

func TestLoanApprovalDeltas(t *testing.T) {
	loan := &Loan{
		LoanAmount:         dec("10000"),
		InterestRate:       dec("20"),
		LoanDurationNumber: 10,
	}

	deltas := LoanApprovalDeltas(loan)

	assertDelta(t, deltas, MetricLoansCount, "1")
	assertDelta(t, deltas, MetricPendingLoanAmount, "-10000")
	assertDelta(t, deltas, MetricLoanAmountDistributed, "10000")
	assertDelta(t, deltas, MetricApprovedLoanBalance, "10000")
	assertDelta(t, deltas, MetricPendingInterest, "2000")
}

func TestCollectionDeltasFullPayment(t *testing.T) {
	loan := &Loan{
		Status:             LoanStatusActive,
		LoanAmount:         dec("10000"),
		InterestRate:       dec("20"),
		LoanDurationNumber: 10,
		WeeklyInstallment:  dec("1200"),
	}
	entry := &LoanCollection{
		CollectionDate:   time.Now(),
		WeeklyAmount:     dec("1200"),
		FieldCollection:  dec("1200"),
		InterestPortion:  dec("200"),
		PrincipalPortion: dec("1000"),
	}

	deltas := CollectionDeltas(loan, entry)

	assertDelta(t, deltas, MetricInterestCollected, "200")
	assertDelta(t, deltas, MetricCollected, "1000")
	assertDelta(t, deltas, MetricWaitingToBeCollected, "-1200")
	assertDelta(t, deltas, MetricProfit, "200")
	assertDelta(t, deltas, MetricApprovedLoanBalance, "-1000")
	assertDelta(t, deltas, MetricPendingInterest, "-200")
	// Paid in full: no arrears, no shortage, no overdue movement.
	assertNoDelta(t, deltas, MetricShortage)
	assertNoDelta(t, deltas, MetricOverdue)
	assertNoDelta(t, deltas, MetricFeesCollected)
}

func TestCollectionDeltasPartialPayment(t *testing.T) {
	loan := &Loan{
		Status:            LoanStatusActive,
		LoanAmount:        dec("10000"),
		WeeklyInstallment: dec("1200"),
	}
	entry := &LoanCollection{
		CollectionDate:   time.Now(),
		FieldCollection:  dec("700"),
		InterestPortion:  dec("116.67"),
		PrincipalPortion: dec("583.33"),
	}

	deltas := CollectionDeltas(loan, entry)

	// Expected weekly falls back to the loan's installment.
	assertDelta(t, deltas, MetricShortage, "500")
	assertDelta(t, deltas, MetricOverdue, "500")
	assertDelta(t, deltas, MetricCollected, "583.33")
	assertDelta(t, deltas, MetricInterestCollected, "116.67")
	assertDelta(t, deltas, MetricWaitingToBeCollected, "-700")
}

func TestCollectionDeltasAdvanceCountsAsPaid(t *testing.T) {
	loan := &Loan{Status: LoanStatusActive, WeeklyInstallment: dec("1200")}
	entry := &LoanCollection{
		CollectionDate:  time.Now(),
		FieldCollection: dec("700"),
		AdvancePayment:  dec("500"),
	}

	deltas := CollectionDeltas(loan, entry)

	assertNoDelta(t, deltas, MetricShortage)
	assertNoDelta(t, deltas, MetricOverdue)
}

func TestLateCatchUpOverdueReduction(t *testing.T) {
	ending := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	after := ending.AddDate(0, 0, 14)

	makeLoan := func() *Loan {
		loan := &Loan{
			Status:     LoanStatusActive,
			LoanAmount: dec("10000"),
			EndingDate: &ending,
		}
		loan.Collections = []LoanCollection{
			{CollectionDate: ending.AddDate(0, 0, -7), FieldCollection: dec("9800")},
		}
		return loan
	}

	t.Run("catch-up shrinks outstanding principal only", func(t *testing.T) {
		loan := makeLoan()
		entry := LoanCollection{CollectionDate: after, FieldCollection: dec("400")}
		loan.Collections = append(loan.Collections, entry)

		got := lateCatchUpOverdueReduction(loan, &entry)
		// Outstanding went from 200 to 0; the extra 200 is not credited.
		if !got.Equal(dec("-200")) {
			t.Fatalf("reduction = %s, want -200", got)
		}
	})

	t.Run("no ending date", func(t *testing.T) {
		loan := makeLoan()
		loan.EndingDate = nil
		entry := LoanCollection{CollectionDate: after, FieldCollection: dec("400")}
		loan.Collections = append(loan.Collections, entry)

		if got := lateCatchUpOverdueReduction(loan, &entry); !got.IsZero() {
			t.Fatalf("reduction = %s, want 0", got)
		}
	})

	t.Run("loan no longer active", func(t *testing.T) {
		loan := makeLoan()
		loan.Status = LoanStatusPaid
		entry := LoanCollection{CollectionDate: after, FieldCollection: dec("400")}
		loan.Collections = append(loan.Collections, entry)

		if got := lateCatchUpOverdueReduction(loan, &entry); !got.IsZero() {
			t.Fatalf("reduction = %s, want 0", got)
		}
	})

	t.Run("collection before ending date", func(t *testing.T) {
		loan := makeLoan()
		entry := LoanCollection{CollectionDate: ending.AddDate(0, 0, -1), FieldCollection: dec("400")}
		loan.Collections = append(loan.Collections, entry)

		if got := lateCatchUpOverdueReduction(loan, &entry); !got.IsZero() {
			t.Fatalf("reduction = %s, want 0", got)
		}
	})
}

func TestLoanDenialDeltas(t *testing.T) {
	loan := &Loan{LoanAmount: dec("5000"), SecurityDeposit: dec("750")}
	deltas := LoanDenialDeltas(loan)
	assertDelta(t, deltas, MetricPendingLoanAmount, "-5000")
	assertDelta(t, deltas, MetricPendingSecurityDeposit, "-750")

	loan.SecurityDeposit = decimal.Zero
	deltas = LoanDenialDeltas(loan)
	assertNoDelta(t, deltas, MetricPendingSecurityDeposit)
}

func TestSavingsTransactionDeltas(t *testing.T) {
	t.Run("personal deposit", func(t *testing.T) {
		deltas := SavingsTransactionDeltas(dec("500"), decimal.Zero, SavingsTypePersonal)
		assertDelta(t, deltas, MetricSavingsDeposits, "500")
		assertNoDelta(t, deltas, MetricSavingsWithdrawals)
		assertDelta(t, deltas, MetricNetSavingsFlow, "500")
		assertDelta(t, deltas, MetricSavingsBalance, "500")
		assertDelta(t, deltas, MetricPersonalSavingsFlow, "500")
		assertDelta(t, deltas, MetricPersonalSavingsBalance, "500")
		assertNoDelta(t, deltas, MetricSecurityDepositsFlow)
	})

	t.Run("security withdrawal", func(t *testing.T) {
		deltas := SavingsTransactionDeltas(decimal.Zero, dec("200"), SavingsTypeSecurity)
		assertDelta(t, deltas, MetricSavingsWithdrawals, "200")
		assertDelta(t, deltas, MetricNetSavingsFlow, "-200")
		assertDelta(t, deltas, MetricSecuritySavingsBalance, "-200")
		assertNoDelta(t, deltas, MetricPersonalSavingsFlow)
	})

	t.Run("offsetting flows drop the net entries", func(t *testing.T) {
		deltas := SavingsTransactionDeltas(dec("300"), dec("300"), SavingsTypePersonal)
		assertDelta(t, deltas, MetricSavingsDeposits, "300")
		assertDelta(t, deltas, MetricSavingsWithdrawals, "300")
		assertNoDelta(t, deltas, MetricNetSavingsFlow)
		assertNoDelta(t, deltas, MetricSavingsBalance)
		assertNoDelta(t, deltas, MetricPersonalSavingsBalance)
	})
}

func TestDistributionDeltas(t *testing.T) {
	deltas := DistributionDeltas(dec("12000"))
	assertDelta(t, deltas, MetricWaitingToBeCollected, "12000")
	if len(deltas) != 1 {
		t.Fatalf("expected a single delta, got %v", deltas)
	}
}

func TestBranchDataApprovalDeltas(t *testing.T) {
	record := &BranchData{
		LoanOfficerShortage: dec("120"),
		BranchShortage:      dec("80"),
		EntityShortage:      dec("40"),
		BadDebt:             dec("300"),

		AppliedLoanOfficerShortage: dec("100"),
		AppliedBranchShortage:      dec("80"),
		AppliedEntityShortage:      dec("60"),
		AppliedBadDebt:             decimal.Zero,
	}

	deltas := BranchDataApprovalDeltas(record)

	assertDelta(t, deltas, MetricLoanOfficerShortage, "20")
	assertNoDelta(t, deltas, MetricBranchShortage)
	assertDelta(t, deltas, MetricEntityShortage, "-20")
	assertDelta(t, deltas, MetricBadDebt, "300")
}

func TestBranchDataApprovalDeltasReapprovalIsNoOp(t *testing.T) {
	record := &BranchData{
		LoanOfficerShortage: dec("120"),
		BranchShortage:      dec("80"),
		EntityShortage:      dec("40"),
		BadDebt:             dec("300"),

		AppliedLoanOfficerShortage: dec("120"),
		AppliedBranchShortage:      dec("80"),
		AppliedEntityShortage:      dec("40"),
		AppliedBadDebt:             dec("300"),
	}

	if deltas := BranchDataApprovalDeltas(record); len(deltas) != 0 {
		t.Fatalf("re-approving an unchanged record should post nothing, got %v", deltas)
	}
}

func TestClientRegistrationDeltas(t *testing.T) {
	deltas := ClientRegistrationDeltas()
	assertDelta(t, deltas, MetricAdmissionFees, "1000")
	assertDelta(t, deltas, MetricFeesCollected, "1000")
	assertDelta(t, deltas, MetricProfit, "1000")
}
