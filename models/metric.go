package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/utils"
)

// Metric is one row of the append-only event ledger. Rows are never updated
// or deleted; a correction is a new row with the negated value.
type Metric struct {
	ID         int             `gorm:"primary_key" json:"id"`
	Name       string          `gorm:"size:100;not null;index:idx_metric_name_day,priority:1" json:"name"`
	Value      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"value"`
	OccurredAt time.Time       `gorm:"not null" json:"occurred_at"`
	Day        time.Time       `gorm:"not null;index:idx_metric_name_day,priority:2;index:idx_metric_branch_day,priority:2;index:idx_metric_officer_day,priority:2;index:idx_metric_currency_day,priority:2" json:"day"`

	BranchName      string   `gorm:"size:100;index" json:"branch_name"`
	BranchCode      string   `gorm:"size:50;index:idx_metric_branch_day,priority:1" json:"branch_code"`
	LoanOfficerName string   `gorm:"size:100;index:idx_metric_officer_day,priority:1" json:"loan_officer_name"`
	Currency        Currency `gorm:"type:enum('USD','LRD');not null;index:idx_metric_currency_day,priority:1" json:"currency"`

	LoanId   *int `gorm:"index" json:"loan_id"`
	GroupId  *int `gorm:"index" json:"group_id"`
	ClientId *int `gorm:"index" json:"client_id"`

	// Audit context of the triggering action, denormalized for drill-down.
	GroupName      string       `gorm:"size:100" json:"group_name"`
	GroupCode      string       `gorm:"size:50" json:"group_code"`
	UpdatedBy      string       `gorm:"size:64" json:"updated_by"`
	UpdatedByName  string       `gorm:"size:100" json:"updated_by_name"`
	UpdatedByEmail string       `gorm:"size:100" json:"updated_by_email"`
	UpdateSource   UpdateSource `gorm:"size:50" json:"update_source"`
	CorrelationId  string       `gorm:"size:64" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NewMetricEvent is the recorder's input shape. Value is a pointer so an
// absent value is distinguishable from zero; both are dropped.
type NewMetricEvent struct {
	Name            string           `json:"name"`
	Value           *decimal.Decimal `json:"value"`
	Date            *time.Time       `json:"date"`
	BranchName      string           `json:"branch_name"`
	BranchCode      string           `json:"branch_code"`
	LoanOfficerName string           `json:"loan_officer_name"`
	Currency        Currency         `json:"currency"`
	LoanId          *int             `json:"loan_id"`
	GroupId         *int             `json:"group_id"`
	ClientId        *int             `json:"client_id"`
	GroupName       string           `json:"group_name"`
	GroupCode       string           `json:"group_code"`
	UpdateSource    UpdateSource     `json:"update_source"`
}

// NormalizeDay truncates t to midnight in the institution's timezone; this
// is the ledger's daily grouping key.
func NormalizeDay(t time.Time) time.Time {
	day, err := utils.ConvertToDate(t, "")
	if err != nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	return day
}

func (e *NewMetricEvent) valid() bool {
	if e == nil || e.Name == "" {
		return false
	}
	return e.Value != nil && !e.Value.IsZero()
}

func (e *NewMetricEvent) toRow(ctx context.Context, now time.Time) Metric {
	occurredAt := now
	if e.Date != nil && !e.Date.IsZero() {
		occurredAt = *e.Date
	}
	currency := e.Currency
	if !currency.Valid() {
		currency = CurrencyLRD
	}

	row := Metric{
		Name:            e.Name,
		Value:           *e.Value,
		OccurredAt:      occurredAt,
		Day:             NormalizeDay(occurredAt),
		BranchName:      e.BranchName,
		BranchCode:      e.BranchCode,
		LoanOfficerName: e.LoanOfficerName,
		Currency:        currency,
		LoanId:          e.LoanId,
		GroupId:         e.GroupId,
		ClientId:        e.ClientId,
		GroupName:       e.GroupName,
		GroupCode:       e.GroupCode,
		UpdateSource:    e.UpdateSource,
	}
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		row.UpdatedBy = userId
	}
	if username, ok := utils.GetUsernameFromContext(ctx); ok {
		row.UpdatedByName = username
	}
	if email, ok := utils.GetUserEmailFromContext(ctx); ok {
		row.UpdatedByEmail = email
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		row.CorrelationId = cid
	}
	return row
}

// RecordMetric appends one ledger row. Events with an empty name or a
// missing/zero value are dropped silently, that is normal operation.
func RecordMetric(ctx context.Context, event *NewMetricEvent) (*Metric, error) {
	rows, err := RecordMetrics(ctx, []*NewMetricEvent{event})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// RecordMetrics appends many ledger rows in a single batch insert. Either
// every valid event is written or none is.
func RecordMetrics(ctx context.Context, events []*NewMetricEvent) ([]Metric, error) {
	now := time.Now()
	rows := make([]Metric, 0, len(events))
	for _, e := range events {
		if !e.valid() {
			continue
		}
		rows = append(rows, e.toRow(ctx, now))
	}
	if len(rows) == 0 {
		return nil, nil
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not ready")
	}
	if err := db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}

	publishMetricsChanged(rows)
	return rows, nil
}

// publishMetricsChanged pushes a minimal projection of the written rows for
// live dashboards. Best-effort: the ledger write already committed, publish
// failures are only logged.
func publishMetricsChanged(rows []Metric) {
	if !config.MetricsPublishEnabled() {
		return
	}
	changes := make([]config.MetricChange, 0, len(rows))
	correlationId := ""
	for _, r := range rows {
		changes = append(changes, config.MetricChange{
			Name:            r.Name,
			Value:           r.Value.String(),
			Day:             r.Day.Format("2006-01-02"),
			BranchName:      r.BranchName,
			BranchCode:      r.BranchCode,
			LoanOfficerName: r.LoanOfficerName,
			Currency:        string(r.Currency),
			LoanId:          r.LoanId,
			GroupId:         r.GroupId,
			ClientId:        r.ClientId,
		})
		if correlationId == "" {
			correlationId = r.CorrelationId
		}
	}

	go func() {
		msg := config.MetricsChangedMessage{
			Changes:       changes,
			CorrelationId: correlationId,
			PublishedAt:   time.Now(),
		}
		if err := config.PublishMetricsChanged(msg); err != nil {
			config.LogError(config.GetLogger(), "models", "publishMetricsChanged", "metrics-changed publish failed", len(changes), err)
		}
	}()
}

// MetricFilter narrows ledger queries; all fields are optional.
type MetricFilter struct {
	Names           []string   `json:"names"`
	BranchName      string     `json:"branch_name"`
	BranchCode      string     `json:"branch_code"`
	LoanOfficerName string     `json:"loan_officer_name"`
	Currency        string     `json:"currency"`
	LoanId          *int       `json:"loan_id"`
	GroupId         *int       `json:"group_id"`
	ClientId        *int       `json:"client_id"`
	DateFrom        *time.Time `json:"date_from"`
	DateTo          *time.Time `json:"date_to"`
}

// ListMetrics returns raw ledger rows, newest day first.
func ListMetrics(ctx context.Context, filter MetricFilter, limit int) ([]Metric, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Metric{})

	if len(filter.Names) > 0 {
		dbCtx = dbCtx.Where("name IN ?", filter.Names)
	}
	if filter.BranchName != "" {
		dbCtx = dbCtx.Where("branch_name = ?", filter.BranchName)
	}
	if filter.BranchCode != "" {
		dbCtx = dbCtx.Where("branch_code = ?", filter.BranchCode)
	}
	if filter.LoanOfficerName != "" {
		dbCtx = dbCtx.Where("loan_officer_name = ?", filter.LoanOfficerName)
	}
	if filter.Currency != "" {
		dbCtx = dbCtx.Where("currency = ?", filter.Currency)
	}
	if filter.LoanId != nil {
		dbCtx = dbCtx.Where("loan_id = ?", *filter.LoanId)
	}
	if filter.GroupId != nil {
		dbCtx = dbCtx.Where("group_id = ?", *filter.GroupId)
	}
	if filter.ClientId != nil {
		dbCtx = dbCtx.Where("client_id = ?", *filter.ClientId)
	}
	if filter.DateFrom != nil {
		dbCtx = dbCtx.Where("day >= ?", NormalizeDay(*filter.DateFrom))
	}
	if filter.DateTo != nil {
		dbCtx = dbCtx.Where("day <= ?", NormalizeDay(*filter.DateTo))
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var rows []Metric
	err := dbCtx.Order("day DESC, id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
