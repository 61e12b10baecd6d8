package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/utils"
	"gorm.io/gorm"
)

// BranchData is a manually submitted end-of-day reconciliation sheet. The
// Applied* columns remember what has already been posted to the metrics, so
// re-approving an edited sheet posts only the difference.
type BranchData struct {
	ID int `gorm:"primary_key" json:"id"`

	BranchName string   `gorm:"size:100;index" json:"branch_name"`
	BranchCode string   `gorm:"size:50;index" json:"branch_code"`
	Currency   Currency `gorm:"type:enum('USD','LRD');not null;default:'LRD'" json:"currency"`

	DataDate time.Time      `gorm:"not null;index" json:"data_date"`
	Status   ApprovalStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`

	LoanOfficerShortage decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loan_officer_shortage"`
	BranchShortage      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"branch_shortage"`
	EntityShortage      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"entity_shortage"`
	BadDebt             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"bad_debt"`

	AppliedLoanOfficerShortage decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"applied_loan_officer_shortage"`
	AppliedBranchShortage      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"applied_branch_shortage"`
	AppliedEntityShortage      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"applied_entity_shortage"`
	AppliedBadDebt             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"applied_bad_debt"`

	SubmittedBy string     `gorm:"size:100" json:"submitted_by"`
	ApprovedBy  string     `gorm:"size:100" json:"approved_by"`
	ApprovedAt  *time.Time `json:"approved_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBranchData struct {
	BranchName string     `json:"branch_name" binding:"required"`
	BranchCode string     `json:"branch_code"`
	Currency   string     `json:"currency"`
	DataDate   *time.Time `json:"data_date"`

	LoanOfficerShortage decimal.Decimal `json:"loan_officer_shortage"`
	BranchShortage      decimal.Decimal `json:"branch_shortage"`
	EntityShortage      decimal.Decimal `json:"entity_shortage"`
	BadDebt             decimal.Decimal `json:"bad_debt"`
}

func CreateBranchData(ctx context.Context, input *NewBranchData) (*BranchData, error) {
	currency := CurrencyLRD
	if input.Currency != "" {
		parsed, err := ParseCurrency(input.Currency)
		if err != nil {
			return nil, err
		}
		currency = parsed
	}
	record := BranchData{
		BranchName:          input.BranchName,
		BranchCode:          input.BranchCode,
		Currency:            currency,
		DataDate:            time.Now(),
		Status:              ApprovalStatusPending,
		LoanOfficerShortage: input.LoanOfficerShortage,
		BranchShortage:      input.BranchShortage,
		EntityShortage:      input.EntityShortage,
		BadDebt:             input.BadDebt,
		SubmittedBy:         usernameFromContext(ctx),
	}
	if input.DataDate != nil && !input.DataDate.IsZero() {
		record.DataDate = *input.DataDate
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateBranchData edits a sheet's figures. The Applied* columns are left
// alone; the next approval reconciles the difference.
func UpdateBranchData(ctx context.Context, id int, input *NewBranchData) (*BranchData, error) {
	record, err := GetBranchDataById(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"loan_officer_shortage": input.LoanOfficerShortage,
		"branch_shortage":       input.BranchShortage,
		"entity_shortage":       input.EntityShortage,
		"bad_debt":              input.BadDebt,
		"status":                ApprovalStatusPending,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&BranchData{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	record.LoanOfficerShortage = input.LoanOfficerShortage
	record.BranchShortage = input.BranchShortage
	record.EntityShortage = input.EntityShortage
	record.BadDebt = input.BadDebt
	record.Status = ApprovalStatusPending
	return record, nil
}

// ApproveBranchData posts the difference between the sheet's current figures
// and what was already applied, then marks the current figures as applied.
// Approving an unchanged sheet is a no-op on the ledger.
func ApproveBranchData(ctx context.Context, id int) (*BranchData, error) {
	record, err := GetBranchDataById(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := IncrementForBranchDataApproval(ctx, record); err != nil {
		return nil, err
	}

	now := time.Now()
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&BranchData{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":                        ApprovalStatusApproved,
		"applied_loan_officer_shortage": record.LoanOfficerShortage,
		"applied_branch_shortage":       record.BranchShortage,
		"applied_entity_shortage":       record.EntityShortage,
		"applied_bad_debt":              record.BadDebt,
		"approved_by":                   usernameFromContext(ctx),
		"approved_at":                   now,
	}).Error
	if err != nil {
		return nil, err
	}
	record.Status = ApprovalStatusApproved
	record.AppliedLoanOfficerShortage = record.LoanOfficerShortage
	record.AppliedBranchShortage = record.BranchShortage
	record.AppliedEntityShortage = record.EntityShortage
	record.AppliedBadDebt = record.BadDebt
	record.ApprovedBy = usernameFromContext(ctx)
	record.ApprovedAt = &now
	return record, nil
}

func GetBranchDataById(ctx context.Context, id int) (*BranchData, error) {
	db := config.GetDB()
	var record BranchData
	err := db.WithContext(ctx).First(&record, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func ListBranchData(ctx context.Context, branchCode string, status string) ([]BranchData, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&BranchData{})
	if branchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", branchCode)
	}
	if status != "" {
		dbCtx = dbCtx.Where("status = ?", status)
	}
	var records []BranchData
	if err := dbCtx.Order("data_date DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
