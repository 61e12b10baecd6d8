package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/config"
)

// BankDeposit is cash moved from a branch safe into the institution's bank
// account.
type BankDeposit struct {
	ID int `gorm:"primary_key" json:"id"`

	BranchName string   `gorm:"size:100;index" json:"branch_name"`
	BranchCode string   `gorm:"size:50;index" json:"branch_code"`
	Currency   Currency `gorm:"type:enum('USD','LRD');not null;default:'LRD'" json:"currency"`

	Amount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	DepositDate time.Time       `gorm:"not null;index" json:"deposit_date"`
	BankName    string          `gorm:"size:100" json:"bank_name"`
	SlipNumber  string          `gorm:"size:50" json:"slip_number"`
	Notes       string          `gorm:"size:255" json:"notes"`

	DepositedBy string `gorm:"size:100" json:"deposited_by"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewBankDeposit struct {
	BranchName  string          `json:"branch_name" binding:"required"`
	BranchCode  string          `json:"branch_code"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	DepositDate *time.Time      `json:"deposit_date"`
	BankName    string          `json:"bank_name"`
	SlipNumber  string          `json:"slip_number"`
	Notes       string          `json:"notes"`
}

// CreateBankDeposit records the transfer and posts the bank-deposit delta
// dated at the deposit date.
func CreateBankDeposit(ctx context.Context, input *NewBankDeposit) (*BankDeposit, error) {
	if !input.Amount.IsPositive() {
		return nil, errors.New("deposit amount must be positive")
	}
	currency := CurrencyLRD
	if input.Currency != "" {
		parsed, err := ParseCurrency(input.Currency)
		if err != nil {
			return nil, err
		}
		currency = parsed
	}
	deposit := BankDeposit{
		BranchName:  input.BranchName,
		BranchCode:  input.BranchCode,
		Currency:    currency,
		Amount:      input.Amount,
		DepositDate: time.Now(),
		BankName:    input.BankName,
		SlipNumber:  input.SlipNumber,
		Notes:       input.Notes,
		DepositedBy: usernameFromContext(ctx),
	}
	if input.DepositDate != nil && !input.DepositDate.IsZero() {
		deposit.DepositDate = *input.DepositDate
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&deposit).Error; err != nil {
		return nil, err
	}

	deltas := SnapshotDelta{}
	deltas.Add(MetricBankDepositSaving, deposit.Amount)
	if _, err := IncrementMetrics(ctx, IncrementInput{
		BranchName:   deposit.BranchName,
		BranchCode:   deposit.BranchCode,
		Currency:     deposit.Currency,
		Date:         deposit.DepositDate,
		Deltas:       deltas,
		UpdateSource: UpdateSourceBankDeposit,
	}); err != nil {
		return nil, err
	}
	return &deposit, nil
}

func ListBankDeposits(ctx context.Context, branchCode string) ([]BankDeposit, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&BankDeposit{})
	if branchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", branchCode)
	}
	var deposits []BankDeposit
	if err := dbCtx.Order("deposit_date DESC").Find(&deposits).Error; err != nil {
		return nil, err
	}
	return deposits, nil
}
