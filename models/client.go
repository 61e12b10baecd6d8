package models

import (
	"context"
	"errors"
	"time"

	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/utils"
	"gorm.io/gorm"
)

// Client is a registered group member. Registration charges the flat
// admission fee in LRD regardless of the group's lending currency.
type Client struct {
	ID      int `gorm:"primary_key" json:"id"`
	GroupId int `gorm:"index;not null" json:"group_id"`

	MemberName string `gorm:"size:100;not null;index" json:"member_name"`
	MemberCode string `gorm:"size:50;index" json:"member_code"`

	BranchName string `gorm:"size:100;index" json:"branch_name"`
	BranchCode string `gorm:"size:50;index" json:"branch_code"`

	PhoneNumber string `gorm:"size:30" json:"phone_number"`
	Address     string `gorm:"size:255" json:"address"`
	Occupation  string `gorm:"size:100" json:"occupation"`
	NextOfKin   string `gorm:"size:100" json:"next_of_kin"`

	AdmissionDate *time.Time `json:"admission_date"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewClient struct {
	GroupId       int        `json:"group_id" binding:"required"`
	MemberName    string     `json:"member_name" binding:"required"`
	MemberCode    string     `json:"member_code"`
	BranchName    string     `json:"branch_name"`
	BranchCode    string     `json:"branch_code"`
	PhoneNumber   string     `json:"phone_number"`
	Address       string     `json:"address"`
	Occupation    string     `json:"occupation"`
	NextOfKin     string     `json:"next_of_kin"`
	AdmissionDate *time.Time `json:"admission_date"`
}

// RegisterClient creates the client and posts the admission fee deltas.
func RegisterClient(ctx context.Context, input *NewClient) (*Client, error) {
	group, err := GetGroupById(ctx, input.GroupId)
	if err != nil {
		return nil, errors.New("group not found")
	}

	client := Client{
		GroupId:       group.ID,
		MemberName:    input.MemberName,
		MemberCode:    input.MemberCode,
		BranchName:    input.BranchName,
		BranchCode:    input.BranchCode,
		PhoneNumber:   input.PhoneNumber,
		Address:       input.Address,
		Occupation:    input.Occupation,
		NextOfKin:     input.NextOfKin,
		AdmissionDate: input.AdmissionDate,
	}
	if client.BranchName == "" {
		client.BranchName = group.BranchName
	}
	if client.BranchCode == "" {
		client.BranchCode = group.BranchCode
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&client).Error; err != nil {
		return nil, err
	}

	if _, err := IncrementForClientRegistration(ctx, &client, group); err != nil {
		return nil, err
	}
	return &client, nil
}

func GetClientById(ctx context.Context, id int) (*Client, error) {
	db := config.GetDB()
	var client Client
	err := db.WithContext(ctx).First(&client, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &client, nil
}

func ListClients(ctx context.Context, groupId *int, branchCode string) ([]Client, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Client{})
	if groupId != nil {
		dbCtx = dbCtx.Where("group_id = ?", *groupId)
	}
	if branchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", branchCode)
	}
	var clients []Client
	if err := dbCtx.Order("member_name ASC").Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}
