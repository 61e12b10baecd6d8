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

// SavingsAccount groups a client's savings transactions. Balance is a
// denormalized running total; the transactions table is the record.
type SavingsAccount struct {
	ID       int  `gorm:"primary_key" json:"id"`
	GroupId  int  `gorm:"index;not null" json:"group_id"`
	ClientId *int `gorm:"index" json:"client_id"`

	BranchName string   `gorm:"size:100;index" json:"branch_name"`
	BranchCode string   `gorm:"size:50;index" json:"branch_code"`
	Currency   Currency `gorm:"type:enum('USD','LRD');not null;default:'LRD'" json:"currency"`

	AccountName string          `gorm:"size:100" json:"account_name"`
	Balance     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`

	Transactions []SavingsTransaction `gorm:"foreignKey:AccountId" json:"transactions"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type SavingsTransaction struct {
	ID        int `gorm:"primary_key" json:"id"`
	AccountId int `gorm:"index;not null" json:"account_id"`

	Type       SavingsType     `gorm:"size:20;not null;default:'personal';index" json:"type"`
	Deposit    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"deposit"`
	Withdrawal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"withdrawal"`

	TransactionDate time.Time `gorm:"not null;index" json:"transaction_date"`
	Notes           string    `gorm:"size:255" json:"notes"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewSavingsAccount struct {
	GroupId     int    `json:"group_id" binding:"required"`
	ClientId    *int   `json:"client_id"`
	BranchName  string `json:"branch_name"`
	BranchCode  string `json:"branch_code"`
	Currency    string `json:"currency"`
	AccountName string `json:"account_name"`
}

func CreateSavingsAccount(ctx context.Context, input *NewSavingsAccount) (*SavingsAccount, error) {
	group, err := GetGroupById(ctx, input.GroupId)
	if err != nil {
		return nil, errors.New("group not found")
	}
	currency := CurrencyLRD
	if input.Currency != "" {
		parsed, err := ParseCurrency(input.Currency)
		if err != nil {
			return nil, err
		}
		currency = parsed
	}
	account := SavingsAccount{
		GroupId:     group.ID,
		ClientId:    input.ClientId,
		BranchName:  input.BranchName,
		BranchCode:  input.BranchCode,
		Currency:    currency,
		AccountName: input.AccountName,
	}
	if account.BranchName == "" {
		account.BranchName = group.BranchName
	}
	if account.BranchCode == "" {
		account.BranchCode = group.BranchCode
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

type NewSavingsTransaction struct {
	Type            string          `json:"type"`
	Deposit         decimal.Decimal `json:"deposit"`
	Withdrawal      decimal.Decimal `json:"withdrawal"`
	TransactionDate *time.Time      `json:"transaction_date"`
	Notes           string          `json:"notes"`
}

// AddSavingsTransaction records a deposit or withdrawal against an account,
// bumps the denormalized balance, and posts the savings-flow deltas. A
// withdrawal larger than the current balance is rejected.
func AddSavingsTransaction(ctx context.Context, accountId int, input *NewSavingsTransaction) (*SavingsTransaction, error) {
	account, err := GetSavingsAccountById(ctx, accountId)
	if err != nil {
		return nil, err
	}
	if input.Deposit.IsNegative() || input.Withdrawal.IsNegative() {
		return nil, errors.New("deposit and withdrawal amounts must not be negative")
	}
	if input.Deposit.IsZero() && input.Withdrawal.IsZero() {
		return nil, errors.New("a transaction needs a deposit or a withdrawal amount")
	}
	if input.Withdrawal.GreaterThan(account.Balance) {
		return nil, fmt.Errorf("withdrawal %s exceeds account balance %s", input.Withdrawal, account.Balance)
	}

	savingsType := NormalizeSavingsType(input.Type)
	when := time.Now()
	if input.TransactionDate != nil && !input.TransactionDate.IsZero() {
		when = *input.TransactionDate
	}

	txn := SavingsTransaction{
		AccountId:       account.ID,
		Type:            savingsType,
		Deposit:         input.Deposit,
		Withdrawal:      input.Withdrawal,
		TransactionDate: when,
		Notes:           input.Notes,
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}
		return tx.Model(&SavingsAccount{}).
			Where("id = ?", account.ID).
			Update("balance", gorm.Expr("balance + ?", input.Deposit.Sub(input.Withdrawal))).
			Error
	})
	if err != nil {
		return nil, err
	}

	if _, err := IncrementForSavingsTransaction(ctx, account, input.Deposit, input.Withdrawal, savingsType, when); err != nil {
		return nil, err
	}
	return &txn, nil
}

func GetSavingsAccountById(ctx context.Context, id int) (*SavingsAccount, error) {
	db := config.GetDB()
	var account SavingsAccount
	err := db.WithContext(ctx).First(&account, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &account, nil
}

func ListSavingsAccounts(ctx context.Context, groupId *int, branchCode string) ([]SavingsAccount, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&SavingsAccount{})
	if groupId != nil {
		dbCtx = dbCtx.Where("group_id = ?", *groupId)
	}
	if branchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", branchCode)
	}
	var accounts []SavingsAccount
	if err := dbCtx.Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
