package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/utils"
	"gorm.io/gorm"
)

type Loan struct {
	ID       int  `gorm:"primary_key" json:"id"`
	GroupId  int  `gorm:"index;not null" json:"group_id"`
	ClientId *int `gorm:"index" json:"client_id"`

	BranchName string   `gorm:"size:100;index" json:"branch_name"`
	BranchCode string   `gorm:"size:50;index" json:"branch_code"`
	Currency   Currency `gorm:"type:enum('USD','LRD');not null;default:'LRD'" json:"currency"`

	MemberCode            string `gorm:"size:50" json:"member_code"`
	MemberAddress         string `gorm:"size:255" json:"member_address"`
	MemberOccupation      string `gorm:"size:100" json:"member_occupation"`
	GuarantorName         string `gorm:"size:100" json:"guarantor_name"`
	GuarantorRelationship string `gorm:"size:100" json:"guarantor_relationship"`
	PurposeOfLoan         string `gorm:"size:255" json:"purpose_of_loan"`
	BusinessType          string `gorm:"size:100" json:"business_type"`
	PreviousLoanInfo      string `gorm:"size:255" json:"previous_loan_info"`

	LoanAmount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loan_amount"`
	LoanAmountInWords  string          `gorm:"size:255" json:"loan_amount_in_words"`
	InterestRate       decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"interest_rate"`
	LoanDurationNumber int             `json:"loan_duration_number"`
	LoanDurationUnit   DurationUnit    `gorm:"size:10" json:"loan_duration_unit"`
	WeeklyInstallment  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"weekly_installment"`
	SecurityDeposit    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"security_deposit"`
	MemberAdmissionFee decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"member_admission_fee"`

	DisbursementDate    *time.Time `json:"disbursement_date"`
	CollectionStartDate *time.Time `json:"collection_start_date"`
	EndingDate          *time.Time `json:"ending_date"`
	MeetingDay          string     `gorm:"size:20" json:"meeting_day"`

	LoanOfficerName string     `gorm:"size:100;index" json:"loan_officer_name"`
	Status          LoanStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`

	Collections []LoanCollection `gorm:"foreignKey:LoanId" json:"collections"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// LoanCollection is one field-collection entry against a loan.
type LoanCollection struct {
	ID     int `gorm:"primary_key" json:"id"`
	LoanId int `gorm:"index;not null" json:"loan_id"`

	CollectionDate time.Time `gorm:"not null;index" json:"collection_date"`
	Currency       Currency  `gorm:"type:enum('USD','LRD');not null;default:'LRD'" json:"currency"`

	WeeklyAmount                decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"weekly_amount"`
	FieldCollection             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"field_collection"`
	AdvancePayment              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"advance_payment"`
	FieldBalance                decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"field_balance"`
	InterestPortion             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"interest_portion"`
	PrincipalPortion            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"principal_portion"`
	FeesPortion                 decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"fees_portion"`
	SecurityDepositContribution decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"security_deposit_contribution"`

	MemberName string `gorm:"size:100" json:"member_name"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// DurationToWeeks converts a loan term to whole weeks: days round up,
// months count as 4 weeks, years as 52.
func DurationToWeeks(n int, unit DurationUnit) int {
	if n <= 0 {
		return 0
	}
	switch unit {
	case DurationUnitDays:
		return (n + 6) / 7
	case DurationUnitMonths:
		return n * 4
	case DurationUnitYears:
		return n * 52
	default:
		return n
	}
}

func (l *Loan) TermWeeks() int {
	return DurationToWeeks(l.LoanDurationNumber, l.LoanDurationUnit)
}

// TotalRepayable prefers the concrete schedule (weekly installment × weeks);
// the flat-rate formula is the fallback when no schedule is known.
func (l *Loan) TotalRepayable() decimal.Decimal {
	weeks := l.TermWeeks()
	if weeks > 0 && l.WeeklyInstallment.IsPositive() {
		return l.WeeklyInstallment.Mul(decimal.NewFromInt(int64(weeks)))
	}
	rate := decimal.NewFromInt(1).Add(l.InterestRate.Div(decimal.NewFromInt(100)))
	return l.LoanAmount.Mul(rate)
}

func (l *Loan) TotalExpectedInterest() decimal.Decimal {
	return decimal.Max(l.TotalRepayable().Sub(l.LoanAmount), decimal.Zero).Round(2)
}

// ExpectedWeeklyPrincipal is the principal share of one installment.
func (l *Loan) ExpectedWeeklyPrincipal() decimal.Decimal {
	weeks := l.TermWeeks()
	if weeks <= 0 {
		return decimal.Zero
	}
	return l.LoanAmount.Div(decimal.NewFromInt(int64(weeks)))
}

func (l *Loan) ExpectedWeeklyInterest() decimal.Decimal {
	return decimal.Max(l.WeeklyInstallment.Sub(l.ExpectedWeeklyPrincipal()), decimal.Zero)
}

// AppraisalFeeRate: 2% of principal, charged at application time.
var AppraisalFeeRate = decimal.NewFromFloat(0.02)

func (l *Loan) AppraisalFee() decimal.Decimal {
	return l.LoanAmount.Mul(AppraisalFeeRate).Round(2)
}

type NewLoan struct {
	GroupId  int  `json:"group_id"`
	ClientId *int `json:"client_id" binding:"required"`

	BranchName string `json:"branch_name"`
	BranchCode string `json:"branch_code"`
	Currency   string `json:"currency"`

	MemberCode            string `json:"member_code"`
	MemberAddress         string `json:"member_address"`
	MemberOccupation      string `json:"member_occupation"`
	GuarantorName         string `json:"guarantor_name"`
	GuarantorRelationship string `json:"guarantor_relationship"`
	PurposeOfLoan         string `json:"purpose_of_loan"`
	BusinessType          string `json:"business_type"`
	PreviousLoanInfo      string `json:"previous_loan_info"`

	LoanAmount         decimal.Decimal `json:"loan_amount" binding:"required"`
	LoanAmountInWords  string          `json:"loan_amount_in_words"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	LoanDurationNumber int             `json:"loan_duration_number"`
	LoanDurationUnit   string          `json:"loan_duration_unit"`
	WeeklyInstallment  decimal.Decimal `json:"weekly_installment"`
	SecurityDeposit    decimal.Decimal `json:"security_deposit"`
	MemberAdmissionFee decimal.Decimal `json:"member_admission_fee"`

	DisbursementDate    *time.Time `json:"disbursement_date"`
	CollectionStartDate *time.Time `json:"collection_start_date"`
	EndingDate          *time.Time `json:"ending_date"`
	MeetingDay          string     `json:"meeting_day"`

	LoanOfficerName string `json:"loan_officer_name"`
	Status          string `json:"status"`
}

// CreateLoan files a loan application. The 2% appraisal fee and the pending
// principal post immediately; a loan created directly as active also goes
// through the approval deltas.
func CreateLoan(ctx context.Context, input *NewLoan) (*Loan, error) {
	if input.ClientId == nil {
		return nil, errors.New("client is required for per-client loans")
	}

	client, err := GetClientById(ctx, *input.ClientId)
	if err != nil {
		return nil, errors.New("client not found")
	}
	groupId := input.GroupId
	if groupId == 0 {
		groupId = client.GroupId
	}
	group, err := GetGroupById(ctx, groupId)
	if err != nil {
		return nil, errors.New("group not found")
	}
	if client.GroupId != group.ID {
		return nil, errors.New("client does not belong to the specified group")
	}

	currency := CurrencyLRD
	if input.Currency != "" {
		currency, err = ParseCurrency(input.Currency)
		if err != nil {
			return nil, err
		}
	}
	status := LoanStatusPending
	if input.Status != "" {
		status = LoanStatus(input.Status)
		if !status.Valid() {
			return nil, errors.New("invalid status value")
		}
	}

	loan := Loan{
		GroupId:               group.ID,
		ClientId:              input.ClientId,
		BranchName:            input.BranchName,
		BranchCode:            input.BranchCode,
		Currency:              currency,
		MemberCode:            input.MemberCode,
		MemberAddress:         input.MemberAddress,
		MemberOccupation:      input.MemberOccupation,
		GuarantorName:         input.GuarantorName,
		GuarantorRelationship: input.GuarantorRelationship,
		PurposeOfLoan:         input.PurposeOfLoan,
		BusinessType:          input.BusinessType,
		PreviousLoanInfo:      input.PreviousLoanInfo,
		LoanAmount:            input.LoanAmount,
		LoanAmountInWords:     input.LoanAmountInWords,
		InterestRate:          input.InterestRate,
		LoanDurationNumber:    input.LoanDurationNumber,
		LoanDurationUnit:      DurationUnit(input.LoanDurationUnit),
		WeeklyInstallment:     input.WeeklyInstallment,
		SecurityDeposit:       input.SecurityDeposit,
		MemberAdmissionFee:    input.MemberAdmissionFee,
		DisbursementDate:      input.DisbursementDate,
		CollectionStartDate:   input.CollectionStartDate,
		EndingDate:            input.EndingDate,
		MeetingDay:            input.MeetingDay,
		LoanOfficerName:       input.LoanOfficerName,
		Status:                status,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&loan).Error; err != nil {
		return nil, err
	}

	// Application-time deltas: appraisal fee and pending principal.
	createDeltas := SnapshotDelta{}
	fee := loan.AppraisalFee()
	createDeltas.Add(MetricAppraisalFees, fee)
	createDeltas.Add(MetricFeesCollected, fee)
	createDeltas.Add(MetricProfit, fee)
	createDeltas.Add(MetricPendingLoanAmount, loan.LoanAmount)
	if loan.SecurityDeposit.IsPositive() && status != LoanStatusActive {
		createDeltas.Add(MetricPendingSecurityDeposit, loan.SecurityDeposit)
	}
	if _, err := IncrementMetrics(ctx, IncrementInput{
		BranchName:      loan.BranchName,
		BranchCode:      loan.BranchCode,
		Currency:        loan.Currency,
		Date:            time.Now(),
		Deltas:          createDeltas,
		LoanId:          utils.NilIfEmpty(loan.ID),
		GroupId:         utils.NilIfEmpty(loan.GroupId),
		ClientId:        loan.ClientId,
		GroupName:       group.GroupName,
		GroupCode:       group.GroupCode,
		LoanOfficerName: loanOfficerOrUser(ctx, &loan),
		UpdateSource:    UpdateSourceLoanCreate,
	}); err != nil {
		return nil, err
	}

	if status == LoanStatusActive {
		if err := postLoanActivation(ctx, &loan, group); err != nil {
			return nil, err
		}
	}
	return &loan, nil
}

// SetLoanStatus transitions a loan's status. Activation computes the weekly
// installment from the schedule and posts the approval deltas plus the
// pending-to-actual conversions; denial clears the pending buckets.
func SetLoanStatus(ctx context.Context, id int, status LoanStatus) (*Loan, error) {
	if !status.Valid() {
		return nil, errors.New("invalid status value")
	}
	loan, err := GetLoanById(ctx, id)
	if err != nil {
		return nil, err
	}
	prevStatus := loan.Status

	db := config.GetDB()
	updates := map[string]interface{}{"status": status}

	if prevStatus != LoanStatusActive && status == LoanStatusActive {
		if loan.DisbursementDate == nil {
			now := time.Now()
			loan.DisbursementDate = &now
			updates["disbursement_date"] = now
		}
		if weeks := loan.TermWeeks(); weeks > 0 && loan.LoanAmount.IsPositive() {
			rate := decimal.NewFromInt(1).Add(loan.InterestRate.Div(decimal.NewFromInt(100)))
			weekly := loan.LoanAmount.Mul(rate).Div(decimal.NewFromInt(int64(weeks))).Round(2)
			loan.WeeklyInstallment = weekly
			updates["weekly_installment"] = weekly
		}
	}

	if err := db.WithContext(ctx).Model(&Loan{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	loan.Status = status

	group, _ := GetGroupById(ctx, loan.GroupId)

	if prevStatus != LoanStatusActive && status == LoanStatusActive {
		if err := postLoanActivation(ctx, loan, group); err != nil {
			return nil, err
		}
	}
	if prevStatus != LoanStatusDenied && status == LoanStatusDenied && prevStatus != LoanStatusActive {
		if _, err := IncrementForLoanDenial(ctx, loan, group); err != nil {
			return nil, err
		}
	}
	return loan, nil
}

// postLoanActivation runs the approval deltas, tallies the group's
// cumulative disbursed amount, and converts the pending admission fee and
// security deposit into actuals. The admission fee is always LRD.
func postLoanActivation(ctx context.Context, loan *Loan, group *Group) error {
	if _, err := IncrementForLoanApproval(ctx, loan, group); err != nil {
		return err
	}

	if err := AddGroupLoanAmount(ctx, loan.GroupId, loan.LoanAmount); err != nil {
		config.LogError(config.GetLogger(), "models", "postLoanActivation", "group tally update failed", loan.GroupId, err)
	}

	groupName, groupCode := "", ""
	if group != nil {
		groupName, groupCode = group.GroupName, group.GroupCode
	}

	if loan.SecurityDeposit.IsPositive() {
		deltas := SnapshotDelta{}
		deltas.Add(MetricPendingSecurityDeposit, loan.SecurityDeposit.Neg())
		if _, err := IncrementMetrics(ctx, IncrementInput{
			BranchName:      loan.BranchName,
			BranchCode:      loan.BranchCode,
			Currency:        loan.Currency,
			Date:            time.Now(),
			Deltas:          deltas,
			LoanId:          utils.NilIfEmpty(loan.ID),
			GroupId:         utils.NilIfEmpty(loan.GroupId),
			ClientId:        loan.ClientId,
			GroupName:       groupName,
			GroupCode:       groupCode,
			LoanOfficerName: loanOfficerOrUser(ctx, loan),
			UpdateSource:    UpdateSourceLoanApproval,
		}); err != nil {
			return err
		}
	}

	admissionFee := loan.MemberAdmissionFee
	if admissionFee.IsZero() {
		admissionFee = AdmissionFeeLRD
	}
	deltas := SnapshotDelta{}
	deltas.Add(MetricPendingAdmissionFees, admissionFee.Neg())
	deltas.Add(MetricAdmissionFees, admissionFee)
	deltas.Add(MetricFeesCollected, admissionFee)
	deltas.Add(MetricProfit, admissionFee)
	_, err := IncrementMetrics(ctx, IncrementInput{
		BranchName:      loan.BranchName,
		BranchCode:      loan.BranchCode,
		Currency:        CurrencyLRD,
		Date:            time.Now(),
		Deltas:          deltas,
		LoanId:          utils.NilIfEmpty(loan.ID),
		GroupId:         utils.NilIfEmpty(loan.GroupId),
		ClientId:        loan.ClientId,
		GroupName:       groupName,
		GroupCode:       groupCode,
		LoanOfficerName: loanOfficerOrUser(ctx, loan),
		UpdateSource:    UpdateSourceLoanApproval,
	})
	return err
}

type NewLoanCollection struct {
	CollectionDate              *time.Time      `json:"collection_date"`
	Currency                    string          `json:"currency"`
	WeeklyAmount                decimal.Decimal `json:"weekly_amount"`
	FieldCollection             decimal.Decimal `json:"field_collection"`
	AdvancePayment              decimal.Decimal `json:"advance_payment"`
	FeesPortion                 decimal.Decimal `json:"fees_portion"`
	SecurityDepositContribution decimal.Decimal `json:"security_deposit_contribution"`
	MemberName                  string          `json:"member_name"`
}

// enrich fills schedule-derived defaults and splits the payment into
// interest and principal portions, proportional to how much of the expected
// weekly amount was actually collected (clamped to [0,1]).
func (input *NewLoanCollection) enrich(loan *Loan, clientName string) LoanCollection {
	entry := LoanCollection{
		LoanId:                      loan.ID,
		Currency:                    loan.Currency,
		WeeklyAmount:                input.WeeklyAmount,
		FieldCollection:             input.FieldCollection,
		AdvancePayment:              input.AdvancePayment,
		FeesPortion:                 input.FeesPortion,
		SecurityDepositContribution: input.SecurityDepositContribution,
		MemberName:                  input.MemberName,
		CollectionDate:              time.Now(),
	}
	if input.CollectionDate != nil && !input.CollectionDate.IsZero() {
		entry.CollectionDate = *input.CollectionDate
	}
	if entry.WeeklyAmount.IsZero() {
		entry.WeeklyAmount = loan.WeeklyInstallment
	}
	entry.FieldBalance = decimal.Max(entry.WeeklyAmount.Sub(entry.FieldCollection).Sub(entry.AdvancePayment), decimal.Zero)

	factor := decimal.Zero
	if entry.WeeklyAmount.IsPositive() {
		factor = entry.FieldCollection.Div(entry.WeeklyAmount)
		factor = decimal.Max(decimal.Min(factor, decimal.NewFromInt(1)), decimal.Zero)
	}
	entry.InterestPortion = loan.ExpectedWeeklyInterest().Mul(factor).Round(2)
	entry.PrincipalPortion = loan.ExpectedWeeklyPrincipal().Mul(factor).Round(2)

	if entry.MemberName == "" {
		entry.MemberName = clientName
	}
	return entry
}

// AddCollection records one collection entry and posts its deltas.
func AddCollection(ctx context.Context, loanId int, input *NewLoanCollection) (*Loan, error) {
	return addCollections(ctx, loanId, []*NewLoanCollection{input})
}

// AddCollections records a batch of collection entries against one loan.
func AddCollections(ctx context.Context, loanId int, inputs []*NewLoanCollection) (*Loan, error) {
	if len(inputs) == 0 {
		return nil, errors.New("collections must not be empty")
	}
	return addCollections(ctx, loanId, inputs)
}

func addCollections(ctx context.Context, loanId int, inputs []*NewLoanCollection) (*Loan, error) {
	loan, err := GetLoanById(ctx, loanId)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanStatusActive {
		return nil, errors.New("cannot add collections to a loan that is not active")
	}

	clientName := ""
	if loan.ClientId != nil {
		if client, err := GetClientById(ctx, *loan.ClientId); err == nil {
			clientName = client.MemberName
		}
	}

	entries := make([]LoanCollection, 0, len(inputs))
	for _, input := range inputs {
		if input.Currency != "" && Currency(input.Currency) != loan.Currency {
			return nil, fmt.Errorf("collection currency %s does not match loan currency %s", input.Currency, loan.Currency)
		}
		entries = append(entries, input.enrich(loan, clientName))
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&entries).Error; err != nil {
		return nil, err
	}
	loan.Collections = append(loan.Collections, entries...)

	group, _ := GetGroupById(ctx, loan.GroupId)
	for i := range entries {
		if _, err := IncrementForCollection(ctx, loan, &entries[i], group); err != nil {
			return nil, err
		}
	}
	return loan, nil
}

func GetLoanById(ctx context.Context, id int) (*Loan, error) {
	db := config.GetDB()
	var loan Loan
	err := db.WithContext(ctx).Preload("Collections").First(&loan, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &loan, nil
}

type LoanFilter struct {
	BranchName string
	BranchCode string
	Currency   string
	Status     string
	GroupId    *int
	ClientId   *int
}

func ListLoans(ctx context.Context, filter LoanFilter) ([]Loan, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Loan{})

	if filter.BranchName != "" {
		dbCtx = dbCtx.Where("branch_name = ?", filter.BranchName)
	}
	if filter.BranchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", filter.BranchCode)
	}
	if filter.Currency != "" {
		dbCtx = dbCtx.Where("currency = ?", filter.Currency)
	}
	if filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", filter.Status)
	}
	if filter.GroupId != nil {
		dbCtx = dbCtx.Where("group_id = ?", *filter.GroupId)
	}
	if filter.ClientId != nil {
		dbCtx = dbCtx.Where("client_id = ?", *filter.ClientId)
	}

	var loans []Loan
	err := dbCtx.Order("created_at DESC").Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}
