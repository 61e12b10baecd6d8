package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/models"
	"github.com/sunbirdmfi/microfin_backend/utils"
)

// Period grouping for the summarize report. Weeks use the ISO year-week
// label so periods sort and compare correctly across year boundaries.
const (
	GroupByDay   = "day"
	GroupByWeek  = "week"
	GroupByMonth = "month"
	GroupByYear  = "year"
)

var periodFormats = map[string]string{
	GroupByDay:   "DATE_FORMAT(day, '%Y-%m-%d')",
	GroupByWeek:  "DATE_FORMAT(day, '%x-W%v')",
	GroupByMonth: "DATE_FORMAT(day, '%Y-%m')",
	GroupByYear:  "DATE_FORMAT(day, '%Y')",
}

// splitColumns is the allow-list of dimensions a summary may be split by.
// Anything else is rejected so callers cannot inject arbitrary SQL.
var splitColumns = map[string]string{
	"branchName":      "branch_name",
	"branchCode":      "branch_code",
	"loanOfficerName": "loan_officer_name",
	"currency":        "currency",
	"loan":            "loan_id",
	"group":           "group_id",
	"client":          "client_id",
}

type SummarizeMetricsInput struct {
	Metrics  []string   `json:"metrics"`
	GroupBy  string     `json:"group_by"`
	SplitBy  []string   `json:"split_by"`
	FromDate *time.Time `json:"from_date"`
	ToDate   *time.Time `json:"to_date"`

	BranchName      string `json:"branch_name"`
	BranchCode      string `json:"branch_code"`
	Currency        string `json:"currency"`
	LoanOfficerName string `json:"loan_officer_name"`
	LoanId          *int   `json:"loan_id"`
	GroupId         *int   `json:"group_id"`
	ClientId        *int   `json:"client_id"`
}

type MetricSummaryRow struct {
	Metric string          `json:"metric"`
	Period string          `json:"period"`
	Total  decimal.Decimal `json:"total"`

	BranchName      *string `json:"branchName,omitempty"`
	BranchCode      *string `json:"branchCode,omitempty"`
	LoanOfficerName *string `json:"loanOfficerName,omitempty"`
	Currency        *string `json:"currency,omitempty"`
	LoanId          *int    `json:"loanId,omitempty"`
	GroupId         *int    `json:"groupId,omitempty"`
	ClientId        *int    `json:"clientId,omitempty"`
}

// SummarizeMetrics aggregates the metrics ledger into (metric, period)
// totals, optionally split by the allow-listed dimensions.
func SummarizeMetrics(ctx context.Context, input SummarizeMetricsInput) ([]*MetricSummaryRow, error) {
	start := time.Now()
	defer logSlowReport(ctx, "metric_summary_report", start, map[string]any{
		"group_by": input.GroupBy,
		"metrics":  len(input.Metrics),
	})

	if len(input.Metrics) == 0 {
		return nil, errors.New("at least one metric is required")
	}
	groupBy := input.GroupBy
	if groupBy == "" {
		groupBy = GroupByDay
	}
	periodExpr, ok := periodFormats[groupBy]
	if !ok {
		return nil, fmt.Errorf("invalid group_by value: %s", groupBy)
	}
	splitBy := utils.UniqueSlice(input.SplitBy)
	splitCols := make([]string, 0, len(splitBy))
	for _, dimension := range splitBy {
		col, ok := splitColumns[dimension]
		if !ok {
			return nil, fmt.Errorf("invalid split_by value: %s", dimension)
		}
		splitCols = append(splitCols, col)
	}

	sqlT := `
SELECT
    name AS metric,
    {{ .periodExpr }} AS period,
    {{- range .splitCols }}
    {{ . }},
    {{- end }}
    COALESCE(SUM(value), 0) AS total
FROM
    metrics
WHERE
    name IN @metricNames
    {{- if .fromDate }} AND day >= @fromDate {{- end }}
    {{- if .toDate }} AND day <= @toDate {{- end }}
    {{- if .branchName }} AND branch_name = @branchName {{- end }}
    {{- if .branchCode }} AND branch_code = @branchCode {{- end }}
    {{- if .currency }} AND currency = @currency {{- end }}
    {{- if .loanOfficerName }} AND loan_officer_name = @loanOfficerName {{- end }}
    {{- if .loanId }} AND loan_id = @loanId {{- end }}
    {{- if .groupId }} AND group_id = @groupId {{- end }}
    {{- if .clientId }} AND client_id = @clientId {{- end }}
GROUP BY
    name, period
    {{- range .splitCols }}
    , {{ . }}
    {{- end }}
ORDER BY metric ASC , period ASC;
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{
		"periodExpr":      periodExpr,
		"splitCols":       splitCols,
		"fromDate":        input.FromDate != nil,
		"toDate":          input.ToDate != nil,
		"branchName":      input.BranchName,
		"branchCode":      input.BranchCode,
		"currency":        input.Currency,
		"loanOfficerName": input.LoanOfficerName,
		"loanId":          utils.DereferencePtr(input.LoanId),
		"groupId":         utils.DereferencePtr(input.GroupId),
		"clientId":        utils.DereferencePtr(input.ClientId),
	})
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"metricNames":     input.Metrics,
		"fromDate":        input.FromDate,
		"toDate":          input.ToDate,
		"branchName":      input.BranchName,
		"branchCode":      input.BranchCode,
		"currency":        input.Currency,
		"loanOfficerName": input.LoanOfficerName,
		"loanId":          input.LoanId,
		"groupId":         input.GroupId,
		"clientId":        input.ClientId,
	}

	if reportCacheEnabled() {
		key := summaryCacheKey("metric_summary", sql, params)
		var cached []*MetricSummaryRow
		if ok, err := cacheGet(key, &cached); err == nil && ok && cached != nil {
			return cached, nil
		}
		rows, err := runSummaryQuery(ctx, sql, params)
		if err != nil {
			return nil, err
		}
		_ = cacheSet(key, rows, reportCacheTTL())
		return rows, nil
	}

	return runSummaryQuery(ctx, sql, params)
}

func runSummaryQuery(ctx context.Context, sql string, params map[string]interface{}) ([]*MetricSummaryRow, error) {
	db := config.GetDB()
	var rows []*MetricSummaryRow
	if err := db.WithContext(ctx).Raw(sql, params).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func summaryCacheKey(name string, sql string, params map[string]interface{}) string {
	return fmt.Sprintf("report:%s:%x", name, utils.HashKey(sql, params))
}

type ProfitSummaryInput struct {
	GroupBy  string     `json:"group_by"`
	FromDate *time.Time `json:"from_date"`
	ToDate   *time.Time `json:"to_date"`

	BranchName string `json:"branch_name"`
	BranchCode string `json:"branch_code"`
	Currency   string `json:"currency"`
}

type ProfitSummaryRow struct {
	Period   string          `json:"period"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Profit   decimal.Decimal `json:"profit"`
}

// GetProfitSummary reports income, expenses and their difference per
// period. Income and expense metric names come from fixed allow-lists.
func GetProfitSummary(ctx context.Context, input ProfitSummaryInput) ([]*ProfitSummaryRow, error) {
	start := time.Now()
	defer logSlowReport(ctx, "profit_summary_report", start, map[string]any{
		"group_by": input.GroupBy,
	})

	groupBy := input.GroupBy
	if groupBy == "" {
		groupBy = GroupByMonth
	}
	periodExpr, ok := periodFormats[groupBy]
	if !ok {
		return nil, fmt.Errorf("invalid group_by value: %s", groupBy)
	}

	sqlT := `
SELECT
    {{ .periodExpr }} AS period,
    COALESCE(SUM(CASE
        WHEN name IN @incomeMetrics THEN value
        ELSE 0
    END), 0) AS income,
    COALESCE(SUM(CASE
        WHEN name IN @expenseMetrics THEN value
        ELSE 0
    END), 0) AS expenses,
    COALESCE(SUM(CASE
        WHEN name IN @incomeMetrics THEN value
        WHEN name IN @expenseMetrics THEN - value
        ELSE 0
    END), 0) AS profit
FROM
    metrics
WHERE
    (name IN @incomeMetrics OR name IN @expenseMetrics)
    {{- if .fromDate }} AND day >= @fromDate {{- end }}
    {{- if .toDate }} AND day <= @toDate {{- end }}
    {{- if .branchName }} AND branch_name = @branchName {{- end }}
    {{- if .branchCode }} AND branch_code = @branchCode {{- end }}
    {{- if .currency }} AND currency = @currency {{- end }}
GROUP BY period
ORDER BY period ASC;
`
	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{
		"periodExpr": periodExpr,
		"fromDate":   input.FromDate != nil,
		"toDate":     input.ToDate != nil,
		"branchName": input.BranchName,
		"branchCode": input.BranchCode,
		"currency":   input.Currency,
	})
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"incomeMetrics":  models.ProfitIncomeMetrics,
		"expenseMetrics": models.ProfitExpenseMetrics,
		"fromDate":       input.FromDate,
		"toDate":         input.ToDate,
		"branchName":     input.BranchName,
		"branchCode":     input.BranchCode,
		"currency":       input.Currency,
	}

	db := config.GetDB()
	run := func() ([]*ProfitSummaryRow, error) {
		var rows []*ProfitSummaryRow
		if err := db.WithContext(ctx).Raw(sql, params).Scan(&rows).Error; err != nil {
			return nil, err
		}
		return rows, nil
	}

	if reportCacheEnabled() {
		key := summaryCacheKey("profit_summary", sql, params)
		var cached []*ProfitSummaryRow
		if ok, err := cacheGet(key, &cached); err == nil && ok && cached != nil {
			return cached, nil
		}
		rows, err := run()
		if err != nil {
			return nil, err
		}
		_ = cacheSet(key, rows, reportCacheTTL())
		return rows, nil
	}

	return run()
}
