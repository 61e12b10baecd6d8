package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sunbirdmfi/microfin_backend/config"
	"github.com/sunbirdmfi/microfin_backend/models"
	"github.com/sunbirdmfi/microfin_backend/utils"
)

func main() {
	branchCode := flag.String("branch-code", "", "Optional: recompute only one branch. If empty, recomputes every branch in the registry.")
	currency := flag.String("currency", "", "Optional: currency (USD or LRD); only used with -branch-code. Defaults to LRD.")
	from := flag.String("from", "", "Optional: start date (YYYY-MM-DD). Defaults to today.")
	to := flag.String("to", "", "Optional: end date (YYYY-MM-DD). Defaults to the start date.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	// Ensure schema is up-to-date (creates financial_snapshots if missing).
	models.MigrateTable()

	ctx = utils.SetUsernameInContext(ctx, "ComputeSnapshotJob")

	today, err := utils.ConvertToDate(time.Now().UTC(), "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve local date: %v\n", err)
		os.Exit(1)
	}
	start := today
	if strings.TrimSpace(*from) != "" {
		start, err = time.Parse("2006-01-02", strings.TrimSpace(*from))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -from date: %v\n", err)
			os.Exit(1)
		}
	}
	end := start
	if strings.TrimSpace(*to) != "" {
		end, err = time.Parse("2006-01-02", strings.TrimSpace(*to))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -to date: %v\n", err)
			os.Exit(1)
		}
	}
	if end.Before(start) {
		fmt.Fprintln(os.Stderr, "-to must not be before -from")
		os.Exit(1)
	}

	code := strings.TrimSpace(*branchCode)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if code == "" {
			fmt.Printf("Recomputing snapshots for all branches day=%s\n", models.ToDayKey(day))
			if err := models.ComputeDailySnapshots(ctx, day); err != nil {
				fmt.Fprintf(os.Stderr, "day %s: %v\n", models.ToDayKey(day), err)
				os.Exit(1)
			}
			continue
		}

		cur := models.CurrencyLRD
		if strings.TrimSpace(*currency) != "" {
			cur, err = models.ParseCurrency(strings.TrimSpace(*currency))
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid -currency: %v\n", err)
				os.Exit(1)
			}
		}
		fmt.Printf("Recomputing snapshot branch=%s currency=%s day=%s\n", code, cur, models.ToDayKey(day))
		if _, err := models.ComputeDailySnapshot(ctx, code, "", day, cur); err != nil {
			fmt.Fprintf(os.Stderr, "branch %s day %s: %v\n", code, models.ToDayKey(day), err)
			os.Exit(1)
		}
	}
	fmt.Println("Done")
}
