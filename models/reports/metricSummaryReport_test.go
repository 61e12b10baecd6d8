package reports

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sunbirdmfi/microfin_backend/models"
)

func TestSummarizeMetricsRejectsEmptyMetricList(t *testing.T) {
	_, err := SummarizeMetrics(context.Background(), SummarizeMetricsInput{})
	if err == nil || !strings.Contains(err.Error(), "metric") {
		t.Fatalf("expected a missing-metrics error, got %v", err)
	}
}

func TestSummarizeMetricsRejectsUnknownGroupBy(t *testing.T) {
	_, err := SummarizeMetrics(context.Background(), SummarizeMetricsInput{
		Metrics: []string{models.MetricProfit},
		GroupBy: "fortnight",
	})
	if err == nil || !strings.Contains(err.Error(), "group_by") {
		t.Fatalf("expected an invalid group_by error, got %v", err)
	}
}

func TestSummarizeMetricsRejectsUnknownSplitBy(t *testing.T) {
	_, err := SummarizeMetrics(context.Background(), SummarizeMetricsInput{
		Metrics: []string{models.MetricProfit},
		SplitBy: []string{"branchName", "value); DROP TABLE metrics;--"},
	})
	if err == nil || !strings.Contains(err.Error(), "split_by") {
		t.Fatalf("expected an invalid split_by error, got %v", err)
	}
}

func TestGetProfitSummaryRejectsUnknownGroupBy(t *testing.T) {
	_, err := GetProfitSummary(context.Background(), ProfitSummaryInput{GroupBy: "quarter"})
	if err == nil || !strings.Contains(err.Error(), "group_by") {
		t.Fatalf("expected an invalid group_by error, got %v", err)
	}
}

func TestPeriodFormatsCoverEveryGrouping(t *testing.T) {
	for _, groupBy := range []string{GroupByDay, GroupByWeek, GroupByMonth, GroupByYear} {
		if _, ok := periodFormats[groupBy]; !ok {
			t.Errorf("no period expression for %q", groupBy)
		}
	}
}

func TestSummaryCacheKeyIsStable(t *testing.T) {
	loanId := 42
	a := summaryCacheKey("metric_summary", "SELECT 1", map[string]interface{}{
		"branchCode": "BR-01",
		"loanId":     &loanId,
	})
	loanIdAgain := 42
	b := summaryCacheKey("metric_summary", "SELECT 1", map[string]interface{}{
		"loanId":     &loanIdAgain,
		"branchCode": "BR-01",
	})
	if a != b {
		t.Fatalf("cache key should not depend on map order or pointer identity: %q vs %q", a, b)
	}

	c := summaryCacheKey("metric_summary", "SELECT 1", map[string]interface{}{
		"branchCode": "BR-02",
		"loanId":     &loanId,
	})
	if a == c {
		t.Fatalf("different params should hash differently")
	}
}

func TestReportCacheTTLFromEnv(t *testing.T) {
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "")
	if got := reportCacheTTL(); got != 120*time.Second {
		t.Fatalf("default TTL = %s, want 120s", got)
	}
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "45")
	if got := reportCacheTTL(); got != 45*time.Second {
		t.Fatalf("TTL = %s, want 45s", got)
	}
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "garbage")
	if got := reportCacheTTL(); got != 120*time.Second {
		t.Fatalf("bad TTL should fall back to default, got %s", got)
	}
}
