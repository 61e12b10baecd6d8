package models

import (
	"context"
	"errors"
	"time"

	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/utils"
	"gorm.io/gorm"
)

// BranchRegistry anchors every incremental writer for a branch to one stable
// snapshot row. Branch code is the primary lookup key; name is a display
// fallback that tolerates codes arriving late in a branch's lifecycle. The
// code column is NULL for name-only branches so they never collide on the
// unique index.
type BranchRegistry struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BranchCode *string   `gorm:"size:50;uniqueIndex" json:"branch_code"`
	BranchName string    `gorm:"size:100;index" json:"branch_name"`
	SnapshotId int       `gorm:"not null" json:"snapshot_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ResolveSnapshotId looks up the branch's stable snapshot id, by code first,
// then by name. Returns 0 when no mapping exists yet.
func ResolveSnapshotId(ctx context.Context, branchCode string, branchName string) (int, error) {
	db := config.GetDB()

	if branchCode != "" {
		var reg BranchRegistry
		err := db.WithContext(ctx).Where("branch_code = ?", branchCode).First(&reg).Error
		if err == nil {
			return reg.SnapshotId, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
	}
	if branchName != "" {
		var reg BranchRegistry
		err := db.WithContext(ctx).Where("branch_name = ?", branchName).First(&reg).Error
		if err == nil {
			return reg.SnapshotId, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
	}
	return 0, nil
}

// EnsureBranchMapping returns the branch's snapshot id, creating the initial
// snapshot and registry row in one transaction on first use. Losing the
// create race (duplicate key on branch_code) is not an error; the winner's
// mapping is re-fetched.
func EnsureBranchMapping(ctx context.Context, branchCode string, branchName string, currency Currency) (int, error) {
	if branchCode == "" && branchName == "" {
		return 0, errors.New("branch code or branch name is required")
	}

	snapshotId, err := ResolveSnapshotId(ctx, branchCode, branchName)
	if err != nil {
		return 0, err
	}
	if snapshotId > 0 {
		return snapshotId, nil
	}

	now := time.Now()
	start, end, key := DayBounds(now)
	if !currency.Valid() {
		currency = CurrencyLRD
	}

	db := config.GetDB()
	var createdId int
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap := FinancialSnapshot{
			BranchName:  branchName,
			BranchCode:  branchCode,
			Currency:    currency,
			DayKey:      key,
			PeriodStart: start,
			PeriodEnd:   end,
			ComputedAt:  now,
		}
		if err := tx.Create(&snap).Error; err != nil {
			return err
		}
		reg := BranchRegistry{
			BranchCode: utils.NilIfEmpty(branchCode),
			BranchName: branchName,
			SnapshotId: snap.ID,
		}
		if err := tx.Create(&reg).Error; err != nil {
			return err
		}
		createdId = snap.ID
		return nil
	})
	if err == nil {
		return createdId, nil
	}
	if !utils.IsDuplicateKeyErr(err) {
		return 0, err
	}

	// Lost the race; the other writer's mapping is now in place.
	snapshotId, err = ResolveSnapshotId(ctx, branchCode, branchName)
	if err != nil {
		return 0, err
	}
	if snapshotId == 0 {
		return 0, errors.New("branch mapping vanished after duplicate-key race")
	}
	return snapshotId, nil
}
