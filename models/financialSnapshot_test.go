package models

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSnapshotDeltaAdd(t *testing.T) {
	deltas := SnapshotDelta{}

	deltas.Add(MetricProfit, decimal.Zero)
	if len(deltas) != 0 {
		t.Fatalf("zero delta should not be stored, got %v", deltas)
	}

	deltas.Add(MetricProfit, dec("150"))
	deltas.Add(MetricProfit, dec("-50"))
	assertDelta(t, deltas, MetricProfit, "100")

	deltas.Add(MetricProfit, dec("-100"))
	if _, ok := deltas[MetricProfit]; ok {
		t.Fatalf("delta that cancels to zero should be removed, got %v", deltas)
	}
}

func TestSnapshotDeltaSortedNames(t *testing.T) {
	deltas := SnapshotDelta{}
	deltas.Add(MetricShortage, dec("1"))
	deltas.Add(MetricAdmissionFees, dec("1"))
	deltas.Add(MetricProfit, dec("1"))

	names := deltas.SortedNames()
	if len(names) != 3 || !sort.StringsAreSorted(names) {
		t.Fatalf("SortedNames = %v, want 3 sorted names", names)
	}
}

func TestDayBounds(t *testing.T) {
	at := time.Date(2026, 8, 15, 17, 45, 12, 0, time.UTC)
	start, end, key := DayBounds(at)

	if key != "2026-08-15" {
		t.Fatalf("key = %q, want 2026-08-15", key)
	}
	if !start.Equal(time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %s", start)
	}
	if !end.After(at) || !end.Before(start.Add(24*time.Hour)) {
		t.Fatalf("end = %s, want inside the same day after %s", end, at)
	}
	if ToDayKey(end) != key {
		t.Fatalf("end falls outside the day: %s", end)
	}
}

func TestNewMetricEventValid(t *testing.T) {
	value := dec("10")
	zero := decimal.Zero

	cases := []struct {
		name  string
		event *NewMetricEvent
		want  bool
	}{
		{"nil event", nil, false},
		{"missing name", &NewMetricEvent{Value: &value}, false},
		{"nil value", &NewMetricEvent{Name: MetricProfit}, false},
		{"zero value", &NewMetricEvent{Name: MetricProfit, Value: &zero}, false},
		{"ok", &NewMetricEvent{Name: MetricProfit, Value: &value}, true},
	}
	for _, c := range cases {
		if got := c.event.valid(); got != c.want {
			t.Errorf("%s: valid() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestCalculatorDeltasAllHaveSnapshotColumns(t *testing.T) {
	loan := &Loan{
		Status:             LoanStatusActive,
		LoanAmount:         dec("10000"),
		InterestRate:       dec("20"),
		LoanDurationNumber: 10,
		WeeklyInstallment:  dec("1200"),
		SecurityDeposit:    dec("500"),
	}
	entry := &LoanCollection{
		CollectionDate:   time.Now(),
		FieldCollection:  dec("700"),
		InterestPortion:  dec("116.67"),
		PrincipalPortion: dec("583.33"),
	}
	record := &BranchData{
		LoanOfficerShortage: dec("1"),
		BranchShortage:      dec("2"),
		EntityShortage:      dec("3"),
		BadDebt:             dec("4"),
	}

	sets := map[string]SnapshotDelta{
		"approval":     LoanApprovalDeltas(loan),
		"collection":   CollectionDeltas(loan, entry),
		"denial":       LoanDenialDeltas(loan),
		"savings":      SavingsTransactionDeltas(dec("10"), dec("3"), SavingsTypeSecurity),
		"distribution": DistributionDeltas(dec("100")),
		"branch data":  BranchDataApprovalDeltas(record),
		"registration": ClientRegistrationDeltas(),
	}
	for label, deltas := range sets {
		for name := range deltas {
			if _, ok := snapshotColumns[name]; !ok {
				t.Errorf("%s delta %q has no snapshot column", label, name)
			}
		}
	}
}
