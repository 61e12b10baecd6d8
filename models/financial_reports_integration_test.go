package models_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/models"
	"github.com/sunbirdmfi/microfin_backend/models/reports"
)

func TestSavingsFlowsUpdateBalanceAndSnapshot(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegration(t)

	group, err := models.CreateGroup(ctx, &models.NewGroup{
		GroupName:  "Unity Group",
		GroupCode:  "GRP-05",
		BranchName: "Paynesville",
		BranchCode: "BR-05",
	})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	account, err := models.CreateSavingsAccount(ctx, &models.NewSavingsAccount{
		GroupId:    group.ID,
		BranchName: "Paynesville",
		BranchCode: "BR-05",
	})
	if err != nil {
		t.Fatalf("CreateSavingsAccount: %v", err)
	}

	if _, err := models.AddSavingsTransaction(ctx, account.ID, &models.NewSavingsTransaction{
		Type:    "personal",
		Deposit: decimal.NewFromInt(500),
	}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := models.AddSavingsTransaction(ctx, account.ID, &models.NewSavingsTransaction{
		Type:       "personal",
		Withdrawal: decimal.NewFromInt(200),
	}); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if _, err := models.AddSavingsTransaction(ctx, account.ID, &models.NewSavingsTransaction{
		Type:       "personal",
		Withdrawal: decimal.NewFromInt(400),
	}); err == nil {
		t.Fatal("withdrawal beyond the balance should be rejected")
	}

	account, err = models.GetSavingsAccountById(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetSavingsAccountById: %v", err)
	}
	if !account.Balance.Equal(mustDec(t, "300")) {
		t.Fatalf("account balance = %s, want 300", account.Balance)
	}

	snap := branchSnapshot(t, ctx, "BR-05")
	if !snap.SavingsDeposits.Equal(mustDec(t, "500")) || !snap.SavingsWithdrawals.Equal(mustDec(t, "200")) {
		t.Errorf("snapshot flows = %s in / %s out, want 500 / 200", snap.SavingsDeposits, snap.SavingsWithdrawals)
	}
	if !snap.SavingsBalance.Equal(mustDec(t, "300")) || !snap.PersonalSavingsBalance.Equal(mustDec(t, "300")) {
		t.Errorf("snapshot balances = %s / %s personal, want 300 / 300", snap.SavingsBalance, snap.PersonalSavingsBalance)
	}
	if !snap.SecuritySavingsBalance.IsZero() {
		t.Errorf("security balance = %s, want 0", snap.SecuritySavingsBalance)
	}

	if _, err := models.CreateBankDeposit(ctx, &models.NewBankDeposit{
		BranchName: "Paynesville",
		BranchCode: "BR-05",
		Amount:     decimal.NewFromInt(250),
		BankName:   "LBDI",
		SlipNumber: "SLP-0042",
	}); err != nil {
		t.Fatalf("CreateBankDeposit: %v", err)
	}
	snap = branchSnapshot(t, ctx, "BR-05")
	if !snap.BankDepositSaving.Equal(mustDec(t, "250")) {
		t.Errorf("bank deposit saving = %s, want 250", snap.BankDepositSaving)
	}
}

func TestCurrencyIsolationBetweenBranchSnapshots(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegration(t)

	usdGroup, err := models.CreateGroup(ctx, &models.NewGroup{
		GroupName:  "Dollar Group",
		GroupCode:  "GRP-USD",
		BranchName: "Waterside",
		BranchCode: "BR-USD",
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("CreateGroup (USD): %v", err)
	}
	lrdGroup, err := models.CreateGroup(ctx, &models.NewGroup{
		GroupName:  "Liberty Group",
		GroupCode:  "GRP-LRD",
		BranchName: "Duala",
		BranchCode: "BR-LRD",
		Currency:   "LRD",
	})
	if err != nil {
		t.Fatalf("CreateGroup (LRD): %v", err)
	}

	usdAccount, err := models.CreateSavingsAccount(ctx, &models.NewSavingsAccount{
		GroupId:    usdGroup.ID,
		BranchName: "Waterside",
		BranchCode: "BR-USD",
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("CreateSavingsAccount (USD): %v", err)
	}
	lrdAccount, err := models.CreateSavingsAccount(ctx, &models.NewSavingsAccount{
		GroupId:    lrdGroup.ID,
		BranchName: "Duala",
		BranchCode: "BR-LRD",
		Currency:   "LRD",
	})
	if err != nil {
		t.Fatalf("CreateSavingsAccount (LRD): %v", err)
	}

	if _, err := models.AddSavingsTransaction(ctx, usdAccount.ID, &models.NewSavingsTransaction{
		Type:    "personal",
		Deposit: decimal.NewFromInt(500),
	}); err != nil {
		t.Fatalf("USD deposit: %v", err)
	}
	if _, err := models.AddSavingsTransaction(ctx, lrdAccount.ID, &models.NewSavingsTransaction{
		Type:    "personal",
		Deposit: decimal.NewFromInt(300),
	}); err != nil {
		t.Fatalf("LRD deposit: %v", err)
	}

	usdSnap := branchSnapshot(t, ctx, "BR-USD")
	lrdSnap := branchSnapshot(t, ctx, "BR-LRD")
	if usdSnap.ID == lrdSnap.ID {
		t.Fatal("the two branches share a snapshot row")
	}
	if usdSnap.Currency != models.CurrencyUSD {
		t.Errorf("USD snapshot currency = %q, want USD", usdSnap.Currency)
	}
	if lrdSnap.Currency != models.CurrencyLRD {
		t.Errorf("LRD snapshot currency = %q, want LRD", lrdSnap.Currency)
	}
	if !usdSnap.SavingsBalance.Equal(mustDec(t, "500")) {
		t.Errorf("USD savings balance = %s, want 500", usdSnap.SavingsBalance)
	}
	if !lrdSnap.SavingsBalance.Equal(mustDec(t, "300")) {
		t.Errorf("LRD savings balance = %s, want only its own 300", lrdSnap.SavingsBalance)
	}

	// Ledger rows stay currency-tagged, so currency-filtered reports only
	// ever see their own side.
	usdRows, err := models.ListMetrics(ctx, models.MetricFilter{
		Names:    []string{models.MetricSavingsDeposits},
		Currency: "USD",
	}, 10)
	if err != nil {
		t.Fatalf("ListMetrics (USD): %v", err)
	}
	if len(usdRows) != 1 || usdRows[0].BranchCode != "BR-USD" || !usdRows[0].Value.Equal(mustDec(t, "500")) {
		t.Fatalf("USD ledger rows = %+v, want one 500 deposit on BR-USD", usdRows)
	}
}

func TestProfitSummaryNetsIncomeAgainstApprovedExpenses(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegration(t)

	interest := decimal.NewFromInt(150)
	fees := decimal.NewFromInt(100)
	interestDay := time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)
	feesDay := time.Date(2026, 7, 20, 12, 0, 0, 0, time.UTC)
	if _, err := models.RecordMetrics(ctx, []*models.NewMetricEvent{
		{
			Name:       models.MetricInterestCollected,
			Value:      &interest,
			Date:       &interestDay,
			BranchName: "Clara Town",
			BranchCode: "BR-09",
			Currency:   models.CurrencyLRD,
		},
		{
			Name:       models.MetricFeesCollected,
			Value:      &fees,
			Date:       &feesDay,
			BranchName: "Clara Town",
			BranchCode: "BR-09",
			Currency:   models.CurrencyLRD,
		},
	}); err != nil {
		t.Fatalf("RecordMetrics: %v", err)
	}

	expenseDay := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)
	expense, err := models.CreateExpense(ctx, &models.NewExpense{
		BranchName:  "Clara Town",
		BranchCode:  "BR-09",
		Description: "Fuel for field motorbikes",
		Amount:      decimal.NewFromInt(80),
		ExpenseDate: &expenseDay,
	})
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	// Pending expenses must not count.
	rows, err := reports.GetProfitSummary(ctx, reports.ProfitSummaryInput{
		GroupBy:    reports.GroupByMonth,
		BranchCode: "BR-09",
	})
	if err != nil {
		t.Fatalf("GetProfitSummary: %v", err)
	}
	if len(rows) != 1 || !rows[0].Expenses.IsZero() {
		t.Fatalf("unapproved expense leaked into the report: %+v", rows)
	}

	if _, err := models.ApproveExpense(ctx, expense.ID); err != nil {
		t.Fatalf("ApproveExpense: %v", err)
	}

	rows, err = reports.GetProfitSummary(ctx, reports.ProfitSummaryInput{
		GroupBy:    reports.GroupByMonth,
		BranchCode: "BR-09",
	})
	if err != nil {
		t.Fatalf("GetProfitSummary: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one monthly row, got %d", len(rows))
	}
	row := rows[0]
	if row.Period != "2026-07" {
		t.Errorf("period = %q, want 2026-07", row.Period)
	}
	if !row.Income.Equal(mustDec(t, "250")) {
		t.Errorf("income = %s, want 250", row.Income)
	}
	if !row.Expenses.Equal(mustDec(t, "80")) {
		t.Errorf("expenses = %s, want 80", row.Expenses)
	}
	if !row.Profit.Equal(mustDec(t, "170")) {
		t.Errorf("profit = %s, want 170", row.Profit)
	}

	summary, err := reports.SummarizeMetrics(ctx, reports.SummarizeMetricsInput{
		Metrics:    []string{models.MetricInterestCollected},
		GroupBy:    reports.GroupByDay,
		SplitBy:    []string{"branchCode"},
		BranchCode: "BR-09",
	})
	if err != nil {
		t.Fatalf("SummarizeMetrics: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("expected one summary row, got %d", len(summary))
	}
	if summary[0].Metric != models.MetricInterestCollected || summary[0].Period != "2026-07-10" {
		t.Errorf("summary row = %s @ %s, want interestCollected @ 2026-07-10", summary[0].Metric, summary[0].Period)
	}
	if !summary[0].Total.Equal(mustDec(t, "150")) {
		t.Errorf("summary total = %s, want 150", summary[0].Total)
	}
	if summary[0].BranchCode == nil || *summary[0].BranchCode != "BR-09" {
		t.Errorf("summary split dimension missing, got %+v", summary[0].BranchCode)
	}
}
