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

// Distribution is a cash hand-out against an active loan, recorded when the
// money physically leaves the branch.
type Distribution struct {
	ID     int `gorm:"primary_key" json:"id"`
	LoanId int `gorm:"index;not null" json:"loan_id"`

	BranchName string   `gorm:"size:100;index" json:"branch_name"`
	BranchCode string   `gorm:"size:50;index" json:"branch_code"`
	Currency   Currency `gorm:"type:enum('USD','LRD');not null;default:'LRD'" json:"currency"`

	Amount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	DistributionDate time.Time       `gorm:"not null;index" json:"distribution_date"`
	Notes            string          `gorm:"size:255" json:"notes"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewDistribution struct {
	LoanId           int             `json:"loan_id" binding:"required"`
	Amount           decimal.Decimal `json:"amount" binding:"required"`
	DistributionDate *time.Time      `json:"distribution_date"`
	Notes            string          `json:"notes"`
}

// CreateDistribution records the hand-out and posts its distributed-amount
// delta dated at the distribution date.
func CreateDistribution(ctx context.Context, input *NewDistribution) (*Distribution, error) {
	if !input.Amount.IsPositive() {
		return nil, errors.New("distribution amount must be positive")
	}
	loan, err := GetLoanById(ctx, input.LoanId)
	if err != nil {
		return nil, err
	}
	if loan.Status != LoanStatusActive {
		return nil, errors.New("cannot distribute against a loan that is not active")
	}

	when := time.Now()
	if input.DistributionDate != nil && !input.DistributionDate.IsZero() {
		when = *input.DistributionDate
	}

	distribution := Distribution{
		LoanId:           loan.ID,
		BranchName:       loan.BranchName,
		BranchCode:       loan.BranchCode,
		Currency:         loan.Currency,
		Amount:           input.Amount,
		DistributionDate: when,
		Notes:            input.Notes,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&distribution).Error; err != nil {
		return nil, err
	}

	if _, err := IncrementForDistribution(ctx, loan, input.Amount, when); err != nil {
		return nil, err
	}
	return &distribution, nil
}

func ListDistributions(ctx context.Context, loanId *int, branchCode string) ([]Distribution, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Distribution{})
	if loanId != nil {
		dbCtx = dbCtx.Where("loan_id = ?", *loanId)
	}
	if branchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", branchCode)
	}
	var distributions []Distribution
	if err := dbCtx.Order("distribution_date DESC").Find(&distributions).Error; err != nil {
		return nil, err
	}
	return distributions, nil
}

func GetDistributionById(ctx context.Context, id int) (*Distribution, error) {
	db := config.GetDB()
	var distribution Distribution
	err := db.WithContext(ctx).First(&distribution, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &distribution, nil
}
