package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/models"
	"github.com/sunbirdmfi/microfin_backend/utils"
)

// Run (requires Docker): INTEGRATION_TESTS=1 go test ./models -run LoanLifecycle -v
func TestLoanLifecycleLedgerAndSnapshotAgree(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegration(t)

	group, err := models.CreateGroup(ctx, &models.NewGroup{
		GroupName:  "Hope Group",
		GroupCode:  "GRP-01",
		BranchName: "Gardnersville",
		BranchCode: "BR-01",
	})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	admitted := time.Now()
	client, err := models.RegisterClient(ctx, &models.NewClient{
		GroupId:       group.ID,
		MemberName:    "Martha Kollie",
		AdmissionDate: &admitted,
	})
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if client.BranchCode != "BR-01" {
		t.Fatalf("client should inherit the group branch, got %q", client.BranchCode)
	}

	loan, err := models.CreateLoan(ctx, &models.NewLoan{
		GroupId:            group.ID,
		ClientId:           &client.ID,
		BranchName:         "Gardnersville",
		BranchCode:         "BR-01",
		LoanAmount:         decimal.NewFromInt(10000),
		InterestRate:       decimal.NewFromInt(20),
		LoanDurationNumber: 10,
		LoanDurationUnit:   "weeks",
	})
	if err != nil {
		t.Fatalf("CreateLoan: %v", err)
	}
	if loan.Status != models.LoanStatusPending {
		t.Fatalf("new loan status = %q, want pending", loan.Status)
	}

	loan, err = models.SetLoanStatus(ctx, loan.ID, models.LoanStatusActive)
	if err != nil {
		t.Fatalf("SetLoanStatus: %v", err)
	}
	if !loan.WeeklyInstallment.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("activation weekly installment = %s, want 1200", loan.WeeklyInstallment)
	}
	if loan.DisbursementDate == nil {
		t.Fatal("activation should stamp the disbursement date")
	}

	loan, err = models.AddCollection(ctx, loan.ID, &models.NewLoanCollection{
		FieldCollection: decimal.NewFromInt(1200),
	})
	if err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	if len(loan.Collections) != 1 {
		t.Fatalf("expected 1 collection on the loan, got %d", len(loan.Collections))
	}

	// The ledger is authoritative: every snapshot column must equal the
	// signed sum of its ledger rows.
	ledgerChecks := map[string]string{
		models.MetricProfit:               "2400",
		models.MetricAdmissionFees:        "2000",
		models.MetricFeesCollected:        "2200",
		models.MetricAppraisalFees:        "200",
		models.MetricPendingLoanAmount:    "0",
		models.MetricLoansCount:           "1",
		models.MetricInterestCollected:    "200",
		models.MetricCollected:            "1000",
		models.MetricApprovedLoanBalance:  "9000",
		models.MetricPendingInterest:      "1800",
		models.MetricPendingAdmissionFees: "-1000",
	}
	for name, want := range ledgerChecks {
		if got := ledgerSum(t, "BR-01", name); !got.Equal(mustDec(t, want)) {
			t.Errorf("ledger sum for %q = %s, want %s", name, got, want)
		}
	}

	snap := branchSnapshot(t, ctx, "BR-01")
	if !snap.Profit.Equal(mustDec(t, "2400")) {
		t.Errorf("snapshot profit = %s, want 2400", snap.Profit)
	}
	if !snap.AdmissionFees.Equal(mustDec(t, "2000")) {
		t.Errorf("snapshot admission fees = %s, want 2000", snap.AdmissionFees)
	}
	if !snap.ApprovedLoanBalance.Equal(mustDec(t, "9000")) {
		t.Errorf("snapshot approved loan balance = %s, want 9000", snap.ApprovedLoanBalance)
	}
	if !snap.PendingInterest.Equal(mustDec(t, "1800")) {
		t.Errorf("snapshot pending interest = %s, want 1800", snap.PendingInterest)
	}
	if !snap.PendingLoanAmount.IsZero() {
		t.Errorf("snapshot pending loan amount = %s, want 0", snap.PendingLoanAmount)
	}
	if !snap.Shortage.IsZero() || !snap.Overdue.IsZero() {
		t.Errorf("fully paid week should leave no shortage/overdue, got %s / %s", snap.Shortage, snap.Overdue)
	}

	// The compute job overwrites the same registry-anchored row from the
	// source tables.
	recomputed, err := models.ComputeDailySnapshot(ctx, "BR-01", "Gardnersville", time.Now(), models.CurrencyLRD)
	if err != nil {
		t.Fatalf("ComputeDailySnapshot: %v", err)
	}
	if recomputed.ID != snap.ID {
		t.Fatalf("compute wrote snapshot %d, want the registry-anchored row %d", recomputed.ID, snap.ID)
	}
	if recomputed.UpdateSource != models.UpdateSourceDailyCompute {
		t.Fatalf("update source = %q, want dailyCompute", recomputed.UpdateSource)
	}
	if !recomputed.InterestCollected.Equal(mustDec(t, "200")) {
		t.Errorf("recomputed interest collected = %s, want 200", recomputed.InterestCollected)
	}
	// Field collection plus advances for the day.
	if !recomputed.Collected.Equal(mustDec(t, "1200")) {
		t.Errorf("recomputed collected = %s, want 1200", recomputed.Collected)
	}
	// One admission today at the flat LRD fee.
	if !recomputed.AdmissionFees.Equal(mustDec(t, "1000")) {
		t.Errorf("recomputed admission fees = %s, want 1000", recomputed.AdmissionFees)
	}
	if !recomputed.FeesCollected.Equal(mustDec(t, "1000")) {
		t.Errorf("recomputed fees collected = %s, want 1000", recomputed.FeesCollected)
	}
	if !recomputed.Profit.Equal(mustDec(t, "1200")) {
		t.Errorf("recomputed profit = %s, want 1200", recomputed.Profit)
	}
	if !recomputed.LoansCount.Equal(mustDec(t, "1")) || !recomputed.LoanAmountDistributed.Equal(mustDec(t, "10000")) {
		t.Errorf("recomputed disbursements = %s loans / %s, want 1 / 10000",
			recomputed.LoansCount, recomputed.LoanAmountDistributed)
	}
	// Everything due this week was collected.
	if !recomputed.WaitingToBeCollected.IsZero() {
		t.Errorf("recomputed waiting = %s, want 0", recomputed.WaitingToBeCollected)
	}
	// Columns the job does not own keep their incremental values.
	if !recomputed.AppraisalFees.Equal(mustDec(t, "200")) {
		t.Errorf("appraisal fees = %s, want the incremental 200 to survive recompute", recomputed.AppraisalFees)
	}
	if !recomputed.ApprovedLoanBalance.Equal(mustDec(t, "9000")) {
		t.Errorf("approved loan balance = %s, want the incremental 9000 to survive recompute", recomputed.ApprovedLoanBalance)
	}
}

func TestBranchRegistryAnchorsOneSnapshotPerBranch(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegration(t)

	first, err := models.EnsureBranchMapping(ctx, "BR-77", "Old Road", models.CurrencyLRD)
	if err != nil {
		t.Fatalf("EnsureBranchMapping: %v", err)
	}
	if first == 0 {
		t.Fatal("expected a snapshot id")
	}

	again, err := models.EnsureBranchMapping(ctx, "BR-77", "Old Road Renamed", models.CurrencyUSD)
	if err != nil {
		t.Fatalf("EnsureBranchMapping (second): %v", err)
	}
	if again != first {
		t.Fatalf("same branch code resolved to snapshot %d, want %d", again, first)
	}

	// Name-only events from before branch codes existed still land on the
	// same row.
	byName, err := models.EnsureBranchMapping(ctx, "", "Old Road", models.CurrencyLRD)
	if err != nil {
		t.Fatalf("EnsureBranchMapping (by name): %v", err)
	}
	if byName != first {
		t.Fatalf("name fallback resolved to snapshot %d, want %d", byName, first)
	}

	// Two branches known only by name must not share a row just because
	// neither has a code yet.
	nameOnlyA, err := models.EnsureBranchMapping(ctx, "", "Logan Town", models.CurrencyLRD)
	if err != nil {
		t.Fatalf("EnsureBranchMapping (name-only A): %v", err)
	}
	nameOnlyB, err := models.EnsureBranchMapping(ctx, "", "New Kru Town", models.CurrencyLRD)
	if err != nil {
		t.Fatalf("EnsureBranchMapping (name-only B): %v", err)
	}
	if nameOnlyA == 0 || nameOnlyB == 0 || nameOnlyA == nameOnlyB {
		t.Fatalf("name-only branches collided: %d vs %d", nameOnlyA, nameOnlyB)
	}
	if againA, err := models.EnsureBranchMapping(ctx, "", "Logan Town", models.CurrencyLRD); err != nil || againA != nameOnlyA {
		t.Fatalf("name-only branch lost its mapping: got %d (%v), want %d", againA, err, nameOnlyA)
	}
}

func TestBranchRegistryConcurrentBootstrap(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegration(t)

	const writers = 8
	ids := make(chan int, writers)
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := models.EnsureBranchMapping(ctx, "BR-42", "Red Light", models.CurrencyLRD)
			if err != nil {
				errs <- err
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent EnsureBranchMapping: %v", err)
	}
	first := 0
	for id := range ids {
		if first == 0 {
			first = id
		}
		if id != first {
			t.Fatalf("race produced snapshot %d alongside %d", id, first)
		}
	}
	if first == 0 {
		t.Fatal("expected a snapshot id from the race")
	}

	db := config.GetDB()
	var registryRows int64
	if err := db.Model(&models.BranchRegistry{}).Where("branch_code = ?", "BR-42").Count(&registryRows).Error; err != nil {
		t.Fatalf("count registry rows: %v", err)
	}
	if registryRows != 1 {
		t.Fatalf("registry rows for BR-42 = %d, want 1", registryRows)
	}
	snaps, err := models.ListSnapshots(ctx, models.SnapshotFilter{BranchCode: "BR-42"})
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != first {
		t.Fatalf("expected the single snapshot %d, got %+v", first, snaps)
	}
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func ledgerSum(t *testing.T, branchCode, name string) decimal.Decimal {
	t.Helper()
	db := config.GetDB()
	var result struct {
		Total decimal.Decimal `json:"total"`
	}
	err := db.Raw("SELECT COALESCE(SUM(value), 0) AS total FROM metrics WHERE branch_code = ? AND name = ?",
		branchCode, name).Scan(&result).Error
	if err != nil {
		t.Fatalf("ledger sum for %q: %v", name, err)
	}
	return result.Total
}

func branchSnapshot(t *testing.T, ctx context.Context, branchCode string) *models.FinancialSnapshot {
	t.Helper()
	snaps, err := models.ListSnapshots(ctx, models.SnapshotFilter{BranchCode: branchCode})
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected exactly one snapshot for %s, got %d", branchCode, len(snaps))
	}
	return &snaps[0]
}

func setupIntegration(t *testing.T) context.Context {
	t.Helper()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "microfin_test")
	t.Setenv("DISABLE_METRICS_PUBLISH", "1")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, "1")
	ctx = utils.SetUsernameInContext(ctx, "tester@local")
	ctx = utils.SetUserEmailInContext(ctx, "tester@sunbird.local")
	return ctx
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("microfin-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("microfin-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=microfin_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
