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
	resetConfirm bool

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Reset the checkpoint to the start of the collection range",
		Long:  "Overwrite the stored checkpoint with a fresh one. Collected data is untouched; the next run re-walks the range from the beginning.",
		RunE:  resetCheckpoint,
	}
)

func init() {
	resetCmd.Flags().BoolVar(&resetConfirm, "confirm", false, "actually perform the reset")
	rootCmd.AddCommand(resetCmd)
}

func resetCheckpoint(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if !resetConfirm {
		color.Yellow("This discards all collection progress. Re-run with --confirm to proceed.")
		return nil
	}

	ctx := context.Background()
	store, err := checkpoint.NewStore(ctx, cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("creating checkpoint store: %w", err)
	}
	defer store.Close()

	loc, err := time.LoadLocation(cfg.Collection.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", cfg.Collection.Timezone, err)
	}

	cats := cfg.Categories()
	cp := checkpoint.Default(string(cats[0]), cfg.Collection.StartYear, time.Now().In(loc))
	if err := store.Save(ctx, cp); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}

	color.Green("✅ Checkpoint reset to %s %d-01", cp.CurrentCategory, cp.CurrentYear)
	return nil
}
