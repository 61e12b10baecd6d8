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

// Group is a lending group: the unit clients join and loans are issued
// under. GroupTotalLoanAmount is a running tally of everything ever
// disbursed to its members, bumped on each activation.
type Group struct {
	ID int `gorm:"primary_key" json:"id"`

	GroupName string `gorm:"size:100;not null;index" json:"group_name"`
	GroupCode string `gorm:"size:50;uniqueIndex;not null" json:"group_code"`

	BranchName string   `gorm:"size:100;index" json:"branch_name"`
	BranchCode string   `gorm:"size:50;index" json:"branch_code"`
	Currency   Currency `gorm:"type:enum('USD','LRD');not null;default:'LRD'" json:"currency"`

	LoanOfficerName string `gorm:"size:100" json:"loan_officer_name"`
	MeetingDay      string `gorm:"size:20" json:"meeting_day"`
	CommunityName   string `gorm:"size:100" json:"community_name"`

	GroupTotalLoanAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"group_total_loan_amount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewGroup struct {
	GroupName       string `json:"group_name" binding:"required"`
	GroupCode       string `json:"group_code" binding:"required"`
	BranchName      string `json:"branch_name"`
	BranchCode      string `json:"branch_code"`
	Currency        string `json:"currency"`
	LoanOfficerName string `json:"loan_officer_name"`
	MeetingDay      string `json:"meeting_day"`
	CommunityName   string `json:"community_name"`
}

func CreateGroup(ctx context.Context, input *NewGroup) (*Group, error) {
	currency := CurrencyLRD
	if input.Currency != "" {
		parsed, err := ParseCurrency(input.Currency)
		if err != nil {
			return nil, err
		}
		currency = parsed
	}
	group := Group{
		GroupName:       input.GroupName,
		GroupCode:       input.GroupCode,
		BranchName:      input.BranchName,
		BranchCode:      input.BranchCode,
		Currency:        currency,
		LoanOfficerName: input.LoanOfficerName,
		MeetingDay:      input.MeetingDay,
		CommunityName:   input.CommunityName,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&group).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, errors.New("a group with this code already exists")
		}
		return nil, err
	}
	return &group, nil
}

// AddGroupLoanAmount bumps the group's cumulative disbursed tally with a
// relative update so concurrent activations never lose increments.
func AddGroupLoanAmount(ctx context.Context, groupId int, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	db := config.GetDB()
	return db.WithContext(ctx).Model(&Group{}).
		Where("id = ?", groupId).
		Update("group_total_loan_amount", gorm.Expr("group_total_loan_amount + ?", amount)).
		Error
}

func GetGroupById(ctx context.Context, id int) (*Group, error) {
	db := config.GetDB()
	var group Group
	err := db.WithContext(ctx).First(&group, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &group, nil
}

func ListGroups(ctx context.Context, branchCode string) ([]Group, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Group{})
	if branchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", branchCode)
	}
	var groups []Group
	if err := dbCtx.Order("group_name ASC").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}
