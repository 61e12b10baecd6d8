package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/utils"
)

// IncrementInput is the generic payload for posting a set of signed deltas
// against one branch/currency/date.
type IncrementInput struct {
	BranchName      string
	BranchCode      string
	Currency        Currency
	Date            time.Time
	Deltas          SnapshotDelta
	LoanId          *int
	GroupId         *int
	ClientId        *int
	GroupName       string
	GroupCode       string
	LoanOfficerName string
	UpdateSource    UpdateSource
}

// IncrementMetrics is the write path for every business event:
//  1. one ledger row per non-zero delta, in a single batch insert; a
//     failure here fails the triggering operation;
//  2. the same deltas applied to the registry-anchored snapshot; failures
//     here are logged and swallowed, the ledger stays authoritative and the
//     daily compute job can repair the snapshot later.
func IncrementMetrics(ctx context.Context, input IncrementInput) ([]Metric, error) {
	if len(input.Deltas) == 0 {
		return nil, nil
	}
	when := input.Date
	if when.IsZero() {
		when = time.Now()
	}
	currency := input.Currency
	if !currency.Valid() {
		currency = CurrencyLRD
	}

	events := make([]*NewMetricEvent, 0, len(input.Deltas))
	for _, name := range input.Deltas.SortedNames() {
		value := input.Deltas[name]
		events = append(events, &NewMetricEvent{
			Name:            name,
			Value:           &value,
			Date:            &when,
			BranchName:      input.BranchName,
			BranchCode:      input.BranchCode,
			LoanOfficerName: input.LoanOfficerName,
			Currency:        currency,
			LoanId:          input.LoanId,
			GroupId:         input.GroupId,
			ClientId:        input.ClientId,
			GroupName:       input.GroupName,
			GroupCode:       input.GroupCode,
			UpdateSource:    input.UpdateSource,
		})
	}

	rows, err := RecordMetrics(ctx, events)
	if err != nil {
		return nil, err
	}

	applySnapshotSoftFail(ctx, input, currency)
	return rows, nil
}

func applySnapshotSoftFail(ctx context.Context, input IncrementInput, currency Currency) {
	logger := config.GetLogger()

	snapshotId, err := EnsureBranchMapping(ctx, input.BranchCode, input.BranchName, currency)
	if err != nil {
		config.LogError(logger, "models", "IncrementMetrics", "branch mapping failed",
			map[string]interface{}{"branchCode": input.BranchCode, "branchName": input.BranchName, "deltas": input.Deltas}, err)
		return
	}

	audit := SnapshotAudit{
		GroupId:      input.GroupId,
		GroupName:    input.GroupName,
		GroupCode:    input.GroupCode,
		UpdateSource: input.UpdateSource,
	}
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		audit.UpdatedBy = userId
	}
	if username, ok := utils.GetUsernameFromContext(ctx); ok {
		audit.UpdatedByName = username
	}
	if email, ok := utils.GetUserEmailFromContext(ctx); ok {
		audit.UpdatedByEmail = email
	}

	err = ApplySnapshotIncrements(ctx, snapshotId, input.BranchName, input.BranchCode, currency, input.Deltas, audit)
	if err != nil {
		config.LogError(logger, "models", "IncrementMetrics", "snapshot increment failed",
			map[string]interface{}{"snapshotId": snapshotId, "branchCode": input.BranchCode, "deltas": input.Deltas}, err)
	}
}

// LoanApprovalDeltas are the deltas posted when a loan turns active: the
// principal moves from the pending bucket to distributed/approved balances
// and the schedule's total expected interest becomes pending interest.
func LoanApprovalDeltas(loan *Loan) SnapshotDelta {
	principal := loan.LoanAmount
	deltas := SnapshotDelta{}
	deltas.Add(MetricLoansCount, decimal.NewFromInt(1))
	deltas.Add(MetricPendingLoanAmount, principal.Neg())
	deltas.Add(MetricLoanAmountDistributed, principal)
	deltas.Add(MetricApprovedLoanBalance, principal)
	deltas.Add(MetricPendingInterest, loan.TotalExpectedInterest())
	return deltas
}

// CollectionDeltas are the deltas for one collection entry. Profit
// recognition is interest-only; fees and principal never contribute here.
// The arrears term compares the expected weekly amount against what was
// actually paid, and a catch-up payment after the schedule's ending date on
// a still-active loan additionally shrinks overdue by the reduction in
// outstanding principal. loan.Collections must already contain the entry.
func CollectionDeltas(loan *Loan, entry *LoanCollection) SnapshotDelta {
	interest := entry.InterestPortion
	fees := entry.FeesPortion
	principal := entry.PrincipalPortion

	deltas := SnapshotDelta{}
	deltas.Add(MetricInterestCollected, interest)
	deltas.Add(MetricFeesCollected, fees)
	deltas.Add(MetricCollected, principal)
	deltas.Add(MetricWaitingToBeCollected, principal.Add(interest).Neg())
	deltas.Add(MetricProfit, interest)
	deltas.Add(MetricApprovedLoanBalance, principal.Neg())
	deltas.Add(MetricPendingInterest, interest.Neg())

	expectedWeekly := entry.WeeklyAmount
	if expectedWeekly.IsZero() {
		expectedWeekly = loan.WeeklyInstallment
	}
	paid := entry.FieldCollection.Add(entry.AdvancePayment)
	arrears := expectedWeekly.Sub(paid).Round(2)
	if arrears.IsPositive() {
		deltas.Add(MetricShortage, arrears)
		deltas.Add(MetricOverdue, arrears)
	}
	deltas.Add(MetricOverdue, lateCatchUpOverdueReduction(loan, entry))

	return deltas
}

// lateCatchUpOverdueReduction computes how much a post-ending-date payment
// reduces the outstanding principal of a still-active loan; that amount
// comes back off the overdue bucket.
func lateCatchUpOverdueReduction(loan *Loan, entry *LoanCollection) decimal.Decimal {
	if loan.EndingDate == nil || loan.Status != LoanStatusActive {
		return decimal.Zero
	}
	collDate := entry.CollectionDate
	if collDate.IsZero() {
		collDate = time.Now()
	}
	if !collDate.After(*loan.EndingDate) {
		return decimal.Zero
	}

	sumIncluding := decimal.Zero
	for i := range loan.Collections {
		c := &loan.Collections[i]
		if c.CollectionDate.IsZero() || c.CollectionDate.After(collDate) {
			continue
		}
		sumIncluding = sumIncluding.Add(c.FieldCollection)
	}
	sumBefore := decimal.Max(sumIncluding.Sub(entry.FieldCollection), decimal.Zero)

	principal := loan.LoanAmount
	outstandingBefore := decimal.Max(principal.Sub(sumBefore), decimal.Zero)
	outstandingAfter := decimal.Max(principal.Sub(sumIncluding), decimal.Zero)
	decrease := decimal.Max(outstandingBefore.Sub(outstandingAfter), decimal.Zero)
	return decrease.Neg()
}

// LoanDenialDeltas reverse the pending buckets of a loan that will not
// proceed.
func LoanDenialDeltas(loan *Loan) SnapshotDelta {
	deltas := SnapshotDelta{}
	deltas.Add(MetricPendingLoanAmount, loan.LoanAmount.Neg())
	if loan.SecurityDeposit.IsPositive() {
		deltas.Add(MetricPendingSecurityDeposit, loan.SecurityDeposit.Neg())
	}
	return deltas
}

// SavingsTransactionDeltas cover a single deposit/withdrawal: overall flow
// and balance always move, plus the per-type flow/balance pair.
func SavingsTransactionDeltas(deposit decimal.Decimal, withdrawal decimal.Decimal, savingsType SavingsType) SnapshotDelta {
	net := deposit.Sub(withdrawal)

	deltas := SnapshotDelta{}
	deltas.Add(MetricSavingsDeposits, deposit)
	deltas.Add(MetricSavingsWithdrawals, withdrawal)
	deltas.Add(MetricNetSavingsFlow, net)
	deltas.Add(MetricSavingsBalance, net)
	switch savingsType {
	case SavingsTypePersonal:
		deltas.Add(MetricPersonalSavingsFlow, net)
		deltas.Add(MetricPersonalSavingsBalance, net)
	case SavingsTypeSecurity:
		deltas.Add(MetricSecurityDepositsFlow, net)
		deltas.Add(MetricSecuritySavingsBalance, net)
	}
	return deltas
}

// DistributionDeltas: principal handed to borrowers, now expected back.
func DistributionDeltas(total decimal.Decimal) SnapshotDelta {
	deltas := SnapshotDelta{}
	deltas.Add(MetricWaitingToBeCollected, total)
	return deltas
}

// BranchDataApprovalDeltas diff the record's manual figures against what was
// last applied, so re-approving an unchanged record posts nothing.
func BranchDataApprovalDeltas(record *BranchData) SnapshotDelta {
	deltas := SnapshotDelta{}
	deltas.Add(MetricLoanOfficerShortage, record.LoanOfficerShortage.Sub(record.AppliedLoanOfficerShortage))
	deltas.Add(MetricBranchShortage, record.BranchShortage.Sub(record.AppliedBranchShortage))
	deltas.Add(MetricEntityShortage, record.EntityShortage.Sub(record.AppliedEntityShortage))
	deltas.Add(MetricBadDebt, record.BadDebt.Sub(record.AppliedBadDebt))
	return deltas
}

// AdmissionFeeLRD is the fixed client registration fee, charged in LRD only.
var AdmissionFeeLRD = decimal.NewFromInt(1000)

func ClientRegistrationDeltas() SnapshotDelta {
	deltas := SnapshotDelta{}
	deltas.Add(MetricAdmissionFees, AdmissionFeeLRD)
	deltas.Add(MetricFeesCollected, AdmissionFeeLRD)
	deltas.Add(MetricProfit, AdmissionFeeLRD)
	return deltas
}

// IncrementForLoanApproval posts approval deltas, dated at disbursement when
// the loan carries one.
func IncrementForLoanApproval(ctx context.Context, loan *Loan, groupInfo *Group) ([]Metric, error) {
	when := time.Now()
	if loan.DisbursementDate != nil && !loan.DisbursementDate.IsZero() {
		when = *loan.DisbursementDate
	}
	input := IncrementInput{
		BranchName:      loan.BranchName,
		BranchCode:      loan.BranchCode,
		Currency:        loan.Currency,
		Date:            when,
		Deltas:          LoanApprovalDeltas(loan),
		LoanId:          utils.NilIfEmpty(loan.ID),
		GroupId:         utils.NilIfEmpty(loan.GroupId),
		ClientId:        loan.ClientId,
		LoanOfficerName: loanOfficerOrUser(ctx, loan),
		UpdateSource:    UpdateSourceLoanApproval,
	}
	if groupInfo != nil {
		input.GroupName = groupInfo.GroupName
		input.GroupCode = groupInfo.GroupCode
	}
	return IncrementMetrics(ctx, input)
}

func IncrementForCollection(ctx context.Context, loan *Loan, entry *LoanCollection, groupInfo *Group) ([]Metric, error) {
	if entry.WeeklyAmount.IsZero() && loan.WeeklyInstallment.IsZero() {
		config.LogWarn(config.GetLogger(), "models", "IncrementForCollection",
			"collection without expected weekly amount, arrears defaulted to zero",
			map[string]interface{}{"loanId": loan.ID, "branchCode": loan.BranchCode})
	}
	when := entry.CollectionDate
	if when.IsZero() {
		when = time.Now()
	}
	input := IncrementInput{
		BranchName:      loan.BranchName,
		BranchCode:      loan.BranchCode,
		Currency:        loan.Currency,
		Date:            when,
		Deltas:          CollectionDeltas(loan, entry),
		LoanId:          utils.NilIfEmpty(loan.ID),
		GroupId:         utils.NilIfEmpty(loan.GroupId),
		ClientId:        loan.ClientId,
		LoanOfficerName: loanOfficerOrUser(ctx, loan),
		UpdateSource:    UpdateSourceLoanCollection,
	}
	if groupInfo != nil {
		input.GroupName = groupInfo.GroupName
		input.GroupCode = groupInfo.GroupCode
	}
	return IncrementMetrics(ctx, input)
}

func IncrementForLoanDenial(ctx context.Context, loan *Loan, groupInfo *Group) ([]Metric, error) {
	input := IncrementInput{
		BranchName:      loan.BranchName,
		BranchCode:      loan.BranchCode,
		Currency:        loan.Currency,
		Date:            time.Now(),
		Deltas:          LoanDenialDeltas(loan),
		LoanId:          utils.NilIfEmpty(loan.ID),
		GroupId:         utils.NilIfEmpty(loan.GroupId),
		ClientId:        loan.ClientId,
		LoanOfficerName: loanOfficerOrUser(ctx, loan),
		UpdateSource:    UpdateSourceLoanDenied,
	}
	if groupInfo != nil {
		input.GroupName = groupInfo.GroupName
		input.GroupCode = groupInfo.GroupCode
	}
	return IncrementMetrics(ctx, input)
}

func IncrementForSavingsTransaction(ctx context.Context, account *SavingsAccount, deposit decimal.Decimal, withdrawal decimal.Decimal, savingsType SavingsType, when time.Time) ([]Metric, error) {
	input := IncrementInput{
		BranchName:   account.BranchName,
		BranchCode:   account.BranchCode,
		Currency:     account.Currency,
		Date:         when,
		Deltas:       SavingsTransactionDeltas(deposit, withdrawal, savingsType),
		GroupId:      utils.NilIfEmpty(account.GroupId),
		ClientId:     account.ClientId,
		UpdateSource: UpdateSourceSavings,
	}
	return IncrementMetrics(ctx, input)
}

func IncrementForDistribution(ctx context.Context, loan *Loan, total decimal.Decimal, when time.Time) ([]Metric, error) {
	input := IncrementInput{
		BranchName:      loan.BranchName,
		BranchCode:      loan.BranchCode,
		Currency:        loan.Currency,
		Date:            when,
		Deltas:          DistributionDeltas(total),
		LoanId:          utils.NilIfEmpty(loan.ID),
		GroupId:         utils.NilIfEmpty(loan.GroupId),
		ClientId:        loan.ClientId,
		LoanOfficerName: loanOfficerOrUser(ctx, loan),
		UpdateSource:    UpdateSourceDistribution,
	}
	return IncrementMetrics(ctx, input)
}

func IncrementForBranchDataApproval(ctx context.Context, record *BranchData) ([]Metric, error) {
	input := IncrementInput{
		BranchName:   record.BranchName,
		BranchCode:   record.BranchCode,
		Currency:     record.Currency,
		Date:         record.DataDate,
		Deltas:       BranchDataApprovalDeltas(record),
		UpdateSource: UpdateSourceBranchDataApproval,
	}
	return IncrementMetrics(ctx, input)
}

func IncrementForClientRegistration(ctx context.Context, client *Client, groupInfo *Group) ([]Metric, error) {
	when := time.Now()
	if client.AdmissionDate != nil && !client.AdmissionDate.IsZero() {
		when = *client.AdmissionDate
	}
	input := IncrementInput{
		BranchName:   client.BranchName,
		BranchCode:   client.BranchCode,
		Currency:     CurrencyLRD,
		Date:         when,
		Deltas:       ClientRegistrationDeltas(),
		GroupId:      utils.NilIfEmpty(client.GroupId),
		ClientId:     utils.NilIfEmpty(client.ID),
		UpdateSource: UpdateSourceClientRegistration,
	}
	if groupInfo != nil {
		input.GroupName = groupInfo.GroupName
		input.GroupCode = groupInfo.GroupCode
	}
	return IncrementMetrics(ctx, input)
}

func loanOfficerOrUser(ctx context.Context, loan *Loan) string {
	if loan.LoanOfficerName != "" {
		return loan.LoanOfficerName
	}
	if username, ok := utils.GetUsernameFromContext(ctx); ok {
		return username
	}
	return ""
}
