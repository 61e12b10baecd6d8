package models

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/utils"
)

// ComputeDailySnapshot rebuilds one branch/day/currency snapshot from the
// domain tables, overwriting whatever the incremental path accumulated. It
// is the reconciliation job: incremental updates keep the snapshot warm
// during the day, this recomputes the authoritative figures.
//
// A redis lock keyed by branch, day and currency keeps concurrent runs from
// interleaving their writes.
func ComputeDailySnapshot(ctx context.Context, branchCode string, branchName string, day time.Time, currency Currency) (*FinancialSnapshot, error) {
	logger := config.GetLogger()
	moduleName := "models"
	functionName := "ComputeDailySnapshot"

	periodStart, periodEnd, dayKey := DayBounds(day)

	lockKey := fmt.Sprintf("%s:%s:%s", branchCode, dayKey, currency)
	release, err := utils.BranchComputeLock(ctx, lockKey, moduleName, functionName)
	if err != nil {
		return nil, err
	}
	defer release()

	collected, err := aggregateCollections(ctx, branchCode, currency, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	disbursed, err := aggregateDisbursements(ctx, branchCode, currency, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	savings, err := aggregateSavings(ctx, branchCode, currency, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	expenses, err := aggregateExpenses(ctx, branchCode, currency, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	overdue, err := aggregateOverduePrincipal(ctx, branchCode, currency, periodEnd)
	if err != nil {
		return nil, err
	}
	arrears, err := aggregateScheduleArrears(ctx, branchCode, currency, periodEnd)
	if err != nil {
		return nil, err
	}
	overdue = overdue.Add(arrears)
	admissions, err := countAdmissions(ctx, branchCode, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	// Admission fees are flat-rate and LRD-only.
	admissionFees := decimal.Zero
	if currency == CurrencyLRD {
		admissionFees = AdmissionFeeLRD.Mul(decimal.NewFromInt(admissions))
	}

	profit := collected.InterestCollected.
		Add(collected.FeesCollected).
		Add(admissionFees).
		Sub(expenses)

	repayableToday, err := aggregateRepayableDue(ctx, branchCode, currency, periodEnd)
	if err != nil {
		return nil, err
	}
	waiting := repayableToday.Sub(collected.PrincipalCollected.Add(collected.InterestCollected))

	snapshotId, err := EnsureBranchMapping(ctx, branchCode, branchName, currency)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	updates := map[string]interface{}{
		"branch_name":              branchName,
		"branch_code":              branchCode,
		"currency":                 currency,
		"day_key":                  dayKey,
		"period_start":             periodStart,
		"period_end":               periodEnd,
		"interest_collected":       collected.InterestCollected,
		"fees_collected":           collected.FeesCollected.Add(admissionFees),
		"collected":                collected.TotalCollected,
		"admission_fees":           admissionFees,
		"profit":                   profit,
		"expenses":                 expenses,
		"loans_count":              disbursed.LoansCount,
		"loan_amount_distributed":  disbursed.AmountDistributed,
		"waiting_to_be_collected":  waiting,
		"overdue":                  overdue,
		"savings_deposits":         savings.Deposits,
		"savings_withdrawals":      savings.Withdrawals,
		"net_savings_flow":         savings.Deposits.Sub(savings.Withdrawals),
		"savings_balance":          savings.Balance,
		"personal_savings_balance": savings.PersonalBalance,
		"security_savings_balance": savings.SecurityBalance,
		"update_source":            UpdateSourceDailyCompute,
		"computed_at":              time.Now(),
	}
	err = db.WithContext(ctx).Model(&FinancialSnapshot{}).
		Where("id = ?", snapshotId).
		Updates(updates).Error
	if err != nil {
		config.LogError(logger, moduleName, functionName, "snapshot overwrite failed", lockKey, err)
		return nil, err
	}

	return GetSnapshotById(ctx, snapshotId)
}

type collectionAggregates struct {
	InterestCollected  decimal.Decimal `json:"interest_collected"`
	PrincipalCollected decimal.Decimal `json:"principal_collected"`
	FeesCollected      decimal.Decimal `json:"fees_collected"`
	TotalCollected     decimal.Decimal `json:"total_collected"`
}

func aggregateCollections(ctx context.Context, branchCode string, currency Currency, from time.Time, to time.Time) (*collectionAggregates, error) {
	sqlT := `
SELECT
    COALESCE(SUM(lc.interest_portion), 0) AS interest_collected,
    COALESCE(SUM(lc.principal_portion), 0) AS principal_collected,
    COALESCE(SUM(lc.fees_portion), 0) AS fees_collected,
    COALESCE(SUM(lc.field_collection + lc.advance_payment), 0) AS total_collected
FROM
    loan_collections AS lc
        JOIN
    loans AS l ON l.id = lc.loan_id
WHERE
    l.branch_code = @branchCode
        AND lc.currency = @currency
        AND lc.collection_date BETWEEN @fromDate AND @toDate;
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	var result collectionAggregates
	err = db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"branchCode": branchCode,
		"currency":   currency,
		"fromDate":   from,
		"toDate":     to,
	}).Scan(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type disbursementAggregates struct {
	LoansCount        int64           `json:"loans_count"`
	AmountDistributed decimal.Decimal `json:"amount_distributed"`
}

func aggregateDisbursements(ctx context.Context, branchCode string, currency Currency, from time.Time, to time.Time) (*disbursementAggregates, error) {
	sqlT := `
SELECT
    COUNT(*) AS loans_count,
    COALESCE(SUM(loan_amount), 0) AS amount_distributed
FROM
    loans
WHERE
    branch_code = @branchCode
        AND currency = @currency
        AND status IN ('active' , 'paid', 'defaulted')
        AND disbursement_date BETWEEN @fromDate AND @toDate;
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	var result disbursementAggregates
	err = db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"branchCode": branchCode,
		"currency":   currency,
		"fromDate":   from,
		"toDate":     to,
	}).Scan(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type savingsAggregates struct {
	Deposits        decimal.Decimal `json:"deposits"`
	Withdrawals     decimal.Decimal `json:"withdrawals"`
	Balance         decimal.Decimal `json:"balance"`
	PersonalBalance decimal.Decimal `json:"personal_balance"`
	SecurityBalance decimal.Decimal `json:"security_balance"`
}

// aggregateSavings reports the day's flows plus cumulative balances up to
// the end of the day, split by savings type.
func aggregateSavings(ctx context.Context, branchCode string, currency Currency, from time.Time, to time.Time) (*savingsAggregates, error) {
	sqlT := `
SELECT
    COALESCE(SUM(CASE
        WHEN st.transaction_date BETWEEN @fromDate AND @toDate THEN st.deposit
        ELSE 0
    END), 0) AS deposits,
    COALESCE(SUM(CASE
        WHEN st.transaction_date BETWEEN @fromDate AND @toDate THEN st.withdrawal
        ELSE 0
    END), 0) AS withdrawals,
    COALESCE(SUM(st.deposit - st.withdrawal), 0) AS balance,
    COALESCE(SUM(CASE
        WHEN st.type = 'personal' THEN st.deposit - st.withdrawal
        ELSE 0
    END), 0) AS personal_balance,
    COALESCE(SUM(CASE
        WHEN st.type = 'security' THEN st.deposit - st.withdrawal
        ELSE 0
    END), 0) AS security_balance
FROM
    savings_transactions AS st
        JOIN
    savings_accounts AS sa ON sa.id = st.account_id
WHERE
    sa.branch_code = @branchCode
        AND sa.currency = @currency
        AND st.transaction_date <= @toDate;
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	var result savingsAggregates
	err = db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"branchCode": branchCode,
		"currency":   currency,
		"fromDate":   from,
		"toDate":     to,
	}).Scan(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func aggregateExpenses(ctx context.Context, branchCode string, currency Currency, from time.Time, to time.Time) (decimal.Decimal, error) {
	sqlT := `
SELECT
    COALESCE(SUM(amount), 0) AS total
FROM
    expenses
WHERE
    branch_code = @branchCode
        AND currency = @currency
        AND status = 'approved'
        AND expense_date BETWEEN @fromDate AND @toDate;
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{})
	if err != nil {
		return decimal.Zero, err
	}
	db := config.GetDB()
	var result struct {
		Total decimal.Decimal `json:"total"`
	}
	err = db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"branchCode": branchCode,
		"currency":   currency,
		"fromDate":   from,
		"toDate":     to,
	}).Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}

// aggregateOverduePrincipal sums the outstanding principal of active loans
// whose schedule ended on or before the day. Outstanding principal is the
// disbursed amount minus everything collected as principal, floored at zero
// per loan.
func aggregateOverduePrincipal(ctx context.Context, branchCode string, currency Currency, asOf time.Time) (decimal.Decimal, error) {
	sqlT := `
SELECT
    COALESCE(SUM(GREATEST(l.loan_amount - COALESCE(paid.principal_paid, 0), 0)), 0) AS total
FROM
    loans AS l
        LEFT JOIN
    (SELECT
        loan_id, SUM(principal_portion) AS principal_paid
    FROM
        loan_collections
    WHERE
        collection_date <= @asOf
    GROUP BY loan_id) AS paid ON paid.loan_id = l.id
WHERE
    l.branch_code = @branchCode
        AND l.currency = @currency
        AND l.status = 'active'
        AND l.ending_date IS NOT NULL
        AND l.ending_date <= @asOf;
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{})
	if err != nil {
		return decimal.Zero, err
	}
	db := config.GetDB()
	var result struct {
		Total decimal.Decimal `json:"total"`
	}
	err = db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"branchCode": branchCode,
		"currency":   currency,
		"asOf":       asOf,
	}).Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}

// aggregateScheduleArrears sums, for active loans still inside their
// schedule, how far cumulative expected-to-date runs ahead of what was
// actually collected. One installment is due per started week since the
// collection start (or disbursement).
func aggregateScheduleArrears(ctx context.Context, branchCode string, currency Currency, asOf time.Time) (decimal.Decimal, error) {
	sqlT := `
SELECT
    COALESCE(SUM(GREATEST(l.weekly_installment * (FLOOR(DATEDIFF(@asOf, COALESCE(l.collection_start_date, l.disbursement_date)) / 7) + 1) - COALESCE(paid.collected, 0), 0)), 0) AS total
FROM
    loans AS l
        LEFT JOIN
    (SELECT
        loan_id, SUM(field_collection + advance_payment) AS collected
    FROM
        loan_collections
    WHERE
        collection_date <= @asOf
    GROUP BY loan_id) AS paid ON paid.loan_id = l.id
WHERE
    l.branch_code = @branchCode
        AND l.currency = @currency
        AND l.status = 'active'
        AND l.disbursement_date IS NOT NULL
        AND l.disbursement_date <= @asOf
        AND (l.ending_date IS NULL OR l.ending_date > @asOf);
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{})
	if err != nil {
		return decimal.Zero, err
	}
	db := config.GetDB()
	var result struct {
		Total decimal.Decimal `json:"total"`
	}
	err = db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"branchCode": branchCode,
		"currency":   currency,
		"asOf":       asOf,
	}).Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}

// aggregateRepayableDue sums the weekly installment of loans whose schedule
// covers the day, i.e. what the branch should have collected.
func aggregateRepayableDue(ctx context.Context, branchCode string, currency Currency, asOf time.Time) (decimal.Decimal, error) {
	sqlT := `
SELECT
    COALESCE(SUM(weekly_installment), 0) AS total
FROM
    loans
WHERE
    branch_code = @branchCode
        AND currency = @currency
        AND status = 'active'
        AND disbursement_date IS NOT NULL
        AND disbursement_date <= @asOf
        AND (ending_date IS NULL OR ending_date >= @asOf);
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{})
	if err != nil {
		return decimal.Zero, err
	}
	db := config.GetDB()
	var result struct {
		Total decimal.Decimal `json:"total"`
	}
	err = db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"branchCode": branchCode,
		"currency":   currency,
		"asOf":       asOf,
	}).Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}

func countAdmissions(ctx context.Context, branchCode string, from time.Time, to time.Time) (int64, error) {
	sqlT := `
SELECT
    COUNT(*) AS total
FROM
    clients
WHERE
    branch_code = @branchCode
        AND admission_date BETWEEN @fromDate AND @toDate;
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{})
	if err != nil {
		return 0, err
	}
	db := config.GetDB()
	var result struct {
		Total int64 `json:"total"`
	}
	err = db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"branchCode": branchCode,
		"fromDate":   from,
		"toDate":     to,
	}).Scan(&result).Error
	if err != nil {
		return 0, err
	}
	return result.Total, nil
}

// ComputeDailySnapshots runs the compute job for every branch in the
// registry, each in the currency its snapshot is kept in. Failures are
// logged per branch and the job keeps going.
func ComputeDailySnapshots(ctx context.Context, day time.Time) error {
	db := config.GetDB()
	var branches []BranchRegistry
	if err := db.WithContext(ctx).Find(&branches).Error; err != nil {
		return err
	}
	logger := config.GetLogger()
	for _, branch := range branches {
		currency := CurrencyLRD
		if snapshot, err := GetSnapshotById(ctx, branch.SnapshotId); err == nil && snapshot.Currency.Valid() {
			currency = snapshot.Currency
		}
		branchCode := utils.DereferencePtr(branch.BranchCode, "")
		if _, err := ComputeDailySnapshot(ctx, branchCode, branch.BranchName, day, currency); err != nil {
			config.LogError(logger, "models", "ComputeDailySnapshots", "branch compute failed", map[string]interface{}{
				"branch_code": branchCode,
				"currency":    currency,
				"day":         ToDayKey(day),
			}, err)
		}
	}
	return nil
}
