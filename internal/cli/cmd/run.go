package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opendata-kr/g2b-collector/internal/checkpoint"
	"github.com/opendata-kr/g2b-collector/internal/collector"
	"github.com/opendata-kr/g2b-collector/internal/config"
	"github.com/opendata-kr/g2b-collector/internal/fetcher"
	"github.com/opendata-kr/g2b-collector/internal/notify"
	"github.com/opendata-kr/g2b-collector/internal/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one collection pass",
	Long:  "Resume from the stored checkpoint and collect until the daily quota, the end of the range, or a fatal error",
	Example: `  g2b run
  g2b run --config g2b.yaml`,
	RunE: runCollection,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runCollection(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client, err := fetcher.New(fetcher.Config{
		BaseURL:    cfg.API.BaseURL,
		APIKey:     cfg.API.Key,
		PageSize:   cfg.API.PageSize,
		MaxRetries: cfg.API.MaxRetries,
		BaseDelay:  cfg.API.BaseDelay,
		PageDelay:  cfg.API.PageDelay,
		Timeout:    cfg.API.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating API client: %w", err)
	}

	store, err := checkpoint.NewStore(ctx, cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("creating checkpoint store: %w", err)
	}
	defer store.Close()

	dataSink, err := sink.New(ctx, cfg.Sink)
	if err != nil {
		return fmt.Errorf("creating sink: %w", err)
	}
	defer dataSink.Close()

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Slack.Token != "" && cfg.Slack.ChannelID != "" {
		notifier = notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.ChannelID)
	}

	loc, err := time.LoadLocation(cfg.Collection.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", cfg.Collection.Timezone, err)
	}

	runner, err := collector.NewRunner(collector.Config{
		Categories:       cfg.Categories(),
		StartYear:        cfg.Collection.StartYear,
		EndYear:          cfg.Collection.EndYear,
		TrailingWindow:   cfg.Collection.TrailingWindow,
		DailyQuota:       cfg.Collection.DailyQuota,
		EmptyStreakLimit: cfg.Collection.EmptyStreakLimit,
		Location:         loc,
		BackupPath:       cfg.Collection.BackupPath,
	}, client, dataSink, store, notifier)
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}

	fmt.Println(color.GreenString("🚀 Starting collection run"))

	sum, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("collection failed (%s): %w", sum.State, err)
	}

	switch sum.State {
	case collector.StateQuotaStopped:
		fmt.Println(color.YellowString("⏸  Daily quota reached: %d new records over %d periods", sum.NewRecords, sum.Periods))
	case collector.StateRangeComplete:
		fmt.Println(color.GreenString("🎉 Collection range complete: %d new records over %d periods", sum.NewRecords, sum.Periods))
	default:
		fmt.Println(color.GreenString("✅ Run finished: %d new records over %d periods", sum.NewRecords, sum.Periods))
	}
	if len(sum.Errors) > 0 {
		fmt.Println(color.YellowString("⚠️  %d errors were recorded, see logs", len(sum.Errors)))
	}
	return nil
}
