package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opendata-kr/g2b-collector/internal/checkpoint"
	"github.com/opendata-kr/g2b-collector/internal/config"
)

var (
	staleDays int

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show collection progress and health",
		Long:  "Read the checkpoint and report the cursor position, quota usage, and run freshness",
		RunE:  showStatus,
	}
)

func init() {
	statusCmd.Flags().IntVar(&staleDays, "stale-days", 2, "days without a run before the collector is reported unhealthy")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := checkpoint.NewStore(ctx, cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("creating checkpoint store: %w", err)
	}
	defer store.Close()

	cp, err := store.Load(ctx)
	if err == checkpoint.ErrNotExist {
		color.Yellow("No checkpoint yet: collection has never run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}

	label := color.New(color.FgGreen)

	label.Print("Position:        ")
	fmt.Printf("%s %d-%02d\n", cp.CurrentCategory, cp.CurrentYear, cp.CurrentMonth)

	label.Print("Calls today:     ")
	fmt.Printf("%d/%d (reset %s)\n", cp.DailyCallsUsed, cfg.Collection.DailyQuota, cp.LastResetDate)

	label.Print("Total collected: ")
	fmt.Printf("%d\n", cp.TotalCollected)

	label.Print("Last run:        ")
	fmt.Printf("%s\n", cp.LastRunDate)

	healthy := true

	loc, err := time.LoadLocation(cfg.Collection.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", cfg.Collection.Timezone, err)
	}
	if cp.LastRunDate != "" {
		lastRun, perr := time.ParseInLocation("2006-01-02", cp.LastRunDate, loc)
		if perr != nil {
			color.Red("❌ last_run_date %q is not a valid date", cp.LastRunDate)
			healthy = false
		} else if age := time.Now().In(loc).Sub(lastRun); age > time.Duration(staleDays)*24*time.Hour {
			color.Red("❌ No run for %d days (threshold %d)", int(age.Hours()/24), staleDays)
			healthy = false
		}
	}

	if cp.DailyCallsUsed >= cfg.Collection.DailyQuota {
		color.Yellow("⚠️  Daily quota exhausted; collection resumes after the next reset")
	}
	if cp.CurrentYear > cfg.Collection.EndYear {
		color.Green("🎉 Collection range is complete")
	}

	if !healthy {
		return fmt.Errorf("collector is unhealthy")
	}
	color.Green("✅ Collector is healthy")
	return nil
}
