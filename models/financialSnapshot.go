package models

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/utils"
	"gorm.io/gorm"
)

// FinancialSnapshot is the mutable per-branch/day/currency rollup behind the
// dashboards. Flow fields (deposits, collections, fees, profit) mean "what
// happened that day"; balance fields (savings balances, overdue, pending
// buckets) mean "as of now" and are overwritten forward. The ledger, not
// this table, is the source of truth.
type FinancialSnapshot struct {
	ID         int      `gorm:"primary_key" json:"id"`
	BranchName string   `gorm:"size:100;index" json:"branch_name"`
	BranchCode string   `gorm:"size:50;index:idx_snap_compound,priority:1" json:"branch_code"`
	Currency   Currency `gorm:"type:enum('USD','LRD');not null;index:idx_snap_compound,priority:2" json:"currency"`

	DayKey      string    `gorm:"size:10;not null;index:idx_snap_compound,priority:3" json:"day_key"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	Profit                 decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"profit"`
	AdmissionFees          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"admission_fees"`
	SavingsDeposits        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"savings_deposits"`
	SavingsWithdrawals     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"savings_withdrawals"`
	NetSavingsFlow         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_savings_flow"`
	SecurityDepositsFlow   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"security_deposits_flow"`
	PersonalSavingsFlow    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"personal_savings_flow"`
	InterestCollected      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"interest_collected"`
	FeesCollected          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"fees_collected"`
	Collected              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"collected"`
	WaitingToBeCollected   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"waiting_to_be_collected"`
	Overdue                decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"overdue"`
	Expenses               decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"expenses"`
	SavingsBalance         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"savings_balance"`
	PersonalSavingsBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"personal_savings_balance"`
	SecuritySavingsBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"security_savings_balance"`
	LoansCount             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loans_count"`
	LoanAmountDistributed  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loan_amount_distributed"`
	AppraisalFees          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"appraisal_fees"`
	PendingLoanAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_loan_amount"`
	ApprovedLoanBalance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"approved_loan_balance"`
	PendingInterest        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_interest"`
	PendingAdmissionFees   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_admission_fees"`
	PendingSecurityDeposit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"pending_security_deposit"`
	LoanOfficerShortage    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loan_officer_shortage"`
	BranchShortage         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"branch_shortage"`
	EntityShortage         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"entity_shortage"`
	BadDebt                decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"bad_debt"`
	BankDepositSaving      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"bank_deposit_saving"`
	Shortage               decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"shortage"`

	// Audit tail: the most recent contributing event only, not a history.
	GroupId        *int         `json:"group_id"`
	GroupName      string       `gorm:"size:100" json:"group_name"`
	GroupCode      string       `gorm:"size:50" json:"group_code"`
	UpdatedBy      string       `gorm:"size:64" json:"updated_by"`
	UpdatedByName  string       `gorm:"size:100" json:"updated_by_name"`
	UpdatedByEmail string       `gorm:"size:100" json:"updated_by_email"`
	UpdateSource   UpdateSource `gorm:"size:50" json:"update_source"`
	ComputedAt     time.Time    `json:"computed_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SnapshotDelta maps metric names to signed changes. Increments are
// commutative, so application order never matters.
type SnapshotDelta map[string]decimal.Decimal

// Add folds v into the delta set, dropping the entry if it cancels to zero.
func (d SnapshotDelta) Add(name string, v decimal.Decimal) {
	if v.IsZero() {
		return
	}
	sum := d[name].Add(v)
	if sum.IsZero() {
		delete(d, name)
		return
	}
	d[name] = sum
}

// SortedNames returns the delta's metric names in a stable order.
func (d SnapshotDelta) SortedNames() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// snapshotColumns maps ledger metric names to snapshot columns. Metric names
// outside this map are ledger-only.
var snapshotColumns = map[string]string{
	MetricProfit:                 "profit",
	MetricAdmissionFees:          "admission_fees",
	MetricSavingsDeposits:        "savings_deposits",
	MetricSavingsWithdrawals:     "savings_withdrawals",
	MetricNetSavingsFlow:         "net_savings_flow",
	MetricSecurityDepositsFlow:   "security_deposits_flow",
	MetricPersonalSavingsFlow:    "personal_savings_flow",
	MetricInterestCollected:      "interest_collected",
	MetricFeesCollected:          "fees_collected",
	MetricCollected:              "collected",
	MetricWaitingToBeCollected:   "waiting_to_be_collected",
	MetricOverdue:                "overdue",
	MetricExpenses:               "expenses",
	MetricSavingsBalance:         "savings_balance",
	MetricPersonalSavingsBalance: "personal_savings_balance",
	MetricSecuritySavingsBalance: "security_savings_balance",
	MetricLoansCount:             "loans_count",
	MetricLoanAmountDistributed:  "loan_amount_distributed",
	MetricAppraisalFees:          "appraisal_fees",
	MetricPendingLoanAmount:      "pending_loan_amount",
	MetricApprovedLoanBalance:    "approved_loan_balance",
	MetricPendingInterest:        "pending_interest",
	MetricPendingAdmissionFees:   "pending_admission_fees",
	MetricPendingSecurityDeposit: "pending_security_deposit",
	MetricLoanOfficerShortage:    "loan_officer_shortage",
	MetricBranchShortage:         "branch_shortage",
	MetricEntityShortage:         "entity_shortage",
	MetricBadDebt:                "bad_debt",
	MetricBankDepositSaving:      "bank_deposit_saving",
	MetricShortage:               "shortage",
}

// ToDayKey formats a time as the snapshot's YYYY-MM-DD UTC key.
func ToDayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DayBounds returns the UTC day window for t and its key.
func DayBounds(t time.Time) (start time.Time, end time.Time, key string) {
	u := t.UTC()
	start = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	end = start.Add(24*time.Hour - time.Millisecond)
	key = ToDayKey(start)
	return start, end, key
}

// SnapshotAudit carries the context set on the snapshot's audit tail.
type SnapshotAudit struct {
	GroupId        *int
	GroupName      string
	GroupCode      string
	UpdatedBy      string
	UpdatedByName  string
	UpdatedByEmail string
	UpdateSource   UpdateSource
}

// ApplySnapshotIncrements applies the deltas to the snapshot row as one
// atomic in-place UPDATE (col = col + delta per column). The day window and
// audit tail are set to now: the snapshot tracks current state while the
// ledger keeps history. Unknown metric names are skipped.
func ApplySnapshotIncrements(ctx context.Context, snapshotId int, branchName string, branchCode string, currency Currency, deltas SnapshotDelta, audit SnapshotAudit) error {
	now := time.Now()
	start, end, key := DayBounds(now)

	updates := map[string]interface{}{
		"computed_at":  now,
		"day_key":      key,
		"period_start": start,
		"period_end":   end,
	}
	for _, name := range deltas.SortedNames() {
		col, ok := snapshotColumns[name]
		if !ok {
			continue
		}
		updates[col] = gorm.Expr(col+" + ?", deltas[name])
	}

	// Identity fields only refreshed when provided.
	if branchName != "" {
		updates["branch_name"] = branchName
	}
	if branchCode != "" {
		updates["branch_code"] = branchCode
	}
	if currency.Valid() {
		updates["currency"] = currency
	}
	if audit.GroupId != nil {
		updates["group_id"] = *audit.GroupId
	}
	if audit.GroupName != "" {
		updates["group_name"] = audit.GroupName
	}
	if audit.GroupCode != "" {
		updates["group_code"] = audit.GroupCode
	}
	if audit.UpdatedBy != "" {
		updates["updated_by"] = audit.UpdatedBy
	}
	if audit.UpdatedByName != "" {
		updates["updated_by_name"] = audit.UpdatedByName
	}
	if audit.UpdatedByEmail != "" {
		updates["updated_by_email"] = audit.UpdatedByEmail
	}
	if audit.UpdateSource != "" {
		updates["update_source"] = audit.UpdateSource
	}

	db := config.GetDB()
	return db.WithContext(ctx).Model(&FinancialSnapshot{}).
		Where("id = ?", snapshotId).
		Updates(updates).Error
}

// SnapshotFilter narrows snapshot listings.
type SnapshotFilter struct {
	BranchName string
	BranchCode string
	Currency   string
	StartDate  *time.Time
	EndDate    *time.Time
}

func ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]FinancialSnapshot, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&FinancialSnapshot{})

	if filter.BranchName != "" {
		dbCtx = dbCtx.Where("branch_name = ?", filter.BranchName)
	}
	if filter.BranchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", filter.BranchCode)
	}
	if filter.Currency != "" {
		dbCtx = dbCtx.Where("currency = ?", filter.Currency)
	}
	if filter.StartDate != nil {
		dbCtx = dbCtx.Where("day_key >= ?", ToDayKey(*filter.StartDate))
	}
	if filter.EndDate != nil {
		dbCtx = dbCtx.Where("day_key <= ?", ToDayKey(*filter.EndDate))
	}

	var results []FinancialSnapshot
	err := dbCtx.Order("day_key DESC, currency ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetSnapshotById(ctx context.Context, id int) (*FinancialSnapshot, error) {
	db := config.GetDB()
	var snap FinancialSnapshot
	err := db.WithContext(ctx).First(&snap, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &snap, nil
}
