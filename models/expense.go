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

// Expense is a branch expense claim. Only an approved expense hits the
// expenses metric; pending and rejected claims never touch the ledger.
type Expense struct {
	ID int `gorm:"primary_key" json:"id"`

	BranchName string   `gorm:"size:100;index" json:"branch_name"`
	BranchCode string   `gorm:"size:50;index" json:"branch_code"`
	Currency   Currency `gorm:"type:enum('USD','LRD');not null;default:'LRD'" json:"currency"`

	Description string          `gorm:"size:255" json:"description"`
	Category    string          `gorm:"size:100" json:"category"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`

	ExpenseDate time.Time      `gorm:"not null;index" json:"expense_date"`
	Status      ApprovalStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`

	RequestedBy string     `gorm:"size:100" json:"requested_by"`
	ApprovedBy  string     `gorm:"size:100" json:"approved_by"`
	ApprovedAt  *time.Time `json:"approved_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func usernameFromContext(ctx context.Context) string {
	username, _ := utils.GetUsernameFromContext(ctx)
	return username
}

type NewExpense struct {
	BranchName  string          `json:"branch_name"`
	BranchCode  string          `json:"branch_code"`
	Currency    string          `json:"currency"`
	Description string          `json:"description" binding:"required"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	ExpenseDate *time.Time      `json:"expense_date"`
}

func CreateExpense(ctx context.Context, input *NewExpense) (*Expense, error) {
	if !input.Amount.IsPositive() {
		return nil, errors.New("expense amount must be positive")
	}
	currency := CurrencyLRD
	if input.Currency != "" {
		parsed, err := ParseCurrency(input.Currency)
		if err != nil {
			return nil, err
		}
		currency = parsed
	}
	expense := Expense{
		BranchName:  input.BranchName,
		BranchCode:  input.BranchCode,
		Currency:    currency,
		Description: input.Description,
		Category:    input.Category,
		Amount:      input.Amount,
		ExpenseDate: time.Now(),
		Status:      ApprovalStatusPending,
		RequestedBy: usernameFromContext(ctx),
	}
	if input.ExpenseDate != nil && !input.ExpenseDate.IsZero() {
		expense.ExpenseDate = *input.ExpenseDate
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&expense).Error; err != nil {
		return nil, err
	}
	return &expense, nil
}

// ApproveExpense moves a pending claim to approved and posts the expenses
// delta, dated at the expense date so the snapshot lands on the right day.
func ApproveExpense(ctx context.Context, id int) (*Expense, error) {
	expense, err := GetExpenseById(ctx, id)
	if err != nil {
		return nil, err
	}
	if expense.Status != ApprovalStatusPending {
		return nil, errors.New("only a pending expense can be approved")
	}

	now := time.Now()
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&Expense{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      ApprovalStatusApproved,
		"approved_by": usernameFromContext(ctx),
		"approved_at": now,
	}).Error
	if err != nil {
		return nil, err
	}
	expense.Status = ApprovalStatusApproved
	expense.ApprovedBy = usernameFromContext(ctx)
	expense.ApprovedAt = &now

	deltas := SnapshotDelta{}
	deltas.Add(MetricExpenses, expense.Amount)
	if _, err := IncrementMetrics(ctx, IncrementInput{
		BranchName:   expense.BranchName,
		BranchCode:   expense.BranchCode,
		Currency:     expense.Currency,
		Date:         expense.ExpenseDate,
		Deltas:       deltas,
		UpdateSource: UpdateSourceExpenseApproval,
	}); err != nil {
		return nil, err
	}
	return expense, nil
}

func RejectExpense(ctx context.Context, id int) (*Expense, error) {
	expense, err := GetExpenseById(ctx, id)
	if err != nil {
		return nil, err
	}
	if expense.Status != ApprovalStatusPending {
		return nil, errors.New("only a pending expense can be rejected")
	}
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&Expense{}).Where("id = ?", id).
		Update("status", ApprovalStatusRejected).Error
	if err != nil {
		return nil, err
	}
	expense.Status = ApprovalStatusRejected
	return expense, nil
}

func GetExpenseById(ctx context.Context, id int) (*Expense, error) {
	db := config.GetDB()
	var expense Expense
	err := db.WithContext(ctx).First(&expense, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &expense, nil
}

func ListExpenses(ctx context.Context, branchCode string, status string) ([]Expense, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Expense{})
	if branchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", branchCode)
	}
	if status != "" {
		dbCtx = dbCtx.Where("status = ?", status)
	}
	var expenses []Expense
	if err := dbCtx.Order("expense_date DESC").Find(&expenses).Error; err != nil {
		return nil, err
	}
	return expenses, nil
}
