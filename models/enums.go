package models

import "errors"

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyLRD Currency = "LRD"
)

func (c Currency) Valid() bool {
	return c == CurrencyUSD || c == CurrencyLRD
}

func ParseCurrency(s string) (Currency, error) {
	switch s {
	case "USD":
		return CurrencyUSD, nil
	case "LRD":
		return CurrencyLRD, nil
	default:
		return "", errors.New("currency must be USD or LRD")
	}
}

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusDenied    LoanStatus = "denied"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusPaid      LoanStatus = "paid"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusPending, LoanStatusDenied, LoanStatusActive, LoanStatusPaid, LoanStatusDefaulted:
		return true
	}
	return false
}

type DurationUnit string

const (
	DurationUnitDays   DurationUnit = "days"
	DurationUnitWeeks  DurationUnit = "weeks"
	DurationUnitMonths DurationUnit = "months"
	DurationUnitYears  DurationUnit = "years"
)

type SavingsType string

const (
	SavingsTypePersonal SavingsType = "personal"
	SavingsTypeSecurity SavingsType = "security"
	SavingsTypeOther    SavingsType = "other"
)

func NormalizeSavingsType(s string) SavingsType {
	switch SavingsType(s) {
	case SavingsTypePersonal, SavingsTypeSecurity, SavingsTypeOther:
		return SavingsType(s)
	}
	return SavingsTypePersonal
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return true
	}
	return false
}

// Metric names are open strings on the ledger; these constants cover the
// names the engine itself emits. The snapshot only materializes columns for
// this set, anything else stays ledger-only.
const (
	MetricProfit                 = "profit"
	MetricAdmissionFees          = "admissionFees"
	MetricSavingsDeposits        = "savingsDeposits"
	MetricSavingsWithdrawals     = "savingsWithdrawals"
	MetricNetSavingsFlow         = "netSavingsFlow"
	MetricSecurityDepositsFlow   = "securityDepositsFlow"
	MetricPersonalSavingsFlow    = "personalSavingsFlow"
	MetricInterestCollected      = "interestCollected"
	MetricFeesCollected          = "feesCollected"
	MetricCollected              = "totalCollected"
	MetricWaitingToBeCollected   = "waitingToBeCollected"
	MetricOverdue                = "overdue"
	MetricExpenses               = "expenses"
	MetricSavingsBalance         = "savingsBalance"
	MetricPersonalSavingsBalance = "personalSavingsBalance"
	MetricSecuritySavingsBalance = "securitySavingsBalance"
	MetricLoansCount             = "loansCount"
	MetricLoanAmountDistributed  = "loanAmountDistributed"
	MetricAppraisalFees          = "appraisalFees"
	MetricPendingLoanAmount      = "pendingLoanAmount"
	MetricApprovedLoanBalance    = "approvedLoanBalance"
	MetricPendingInterest        = "pendingInterest"
	MetricPendingAdmissionFees   = "pendingAdmissionFees"
	MetricPendingSecurityDeposit = "pendingSecurityDeposit"
	MetricLoanOfficerShortage    = "loanOfficerShortage"
	MetricBranchShortage         = "branchShortage"
	MetricEntityShortage         = "entityShortage"
	MetricBadDebt                = "badDebt"
	MetricBankDepositSaving      = "bankDepositSaving"
	MetricShortage               = "shortage"
)

// ProfitIncomeMetrics is the reporting layer's income allow-list. The legacy
// names at the end survive from migrated ledgers and stay queryable.
var ProfitIncomeMetrics = []string{
	MetricInterestCollected,
	MetricFeesCollected,
	MetricAdmissionFees,
	"totalFormFees",
	"totalInspectionFees",
	"totalProcessingFees",
	"lostDueBookFee",
}

// ProfitExpenseMetrics is the expense side of the profit query.
var ProfitExpenseMetrics = []string{MetricExpenses}

type UpdateSource string

const (
	UpdateSourceLoanCreate         UpdateSource = "loanCreate"
	UpdateSourceLoanApproval       UpdateSource = "loanApproval"
	UpdateSourceLoanDenied         UpdateSource = "loanDenied"
	UpdateSourceLoanCollection     UpdateSource = "loanCollection"
	UpdateSourceSavings            UpdateSource = "savingsTransaction"
	UpdateSourceDistribution       UpdateSource = "distribution"
	UpdateSourceBranchDataApproval UpdateSource = "branchDataApproval"
	UpdateSourceClientRegistration UpdateSource = "clientRegistration"
	UpdateSourceExpenseApproval    UpdateSource = "expenseApproval"
	UpdateSourceBankDeposit        UpdateSource = "bankDepositTransaction"
	UpdateSourceDailyCompute       UpdateSource = "dailyCompute"
)
