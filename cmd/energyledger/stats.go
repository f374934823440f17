package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/smallbiznis/energyledger/internal/config"
	obslogger "github.com/smallbiznis/energyledger/internal/observability/logger"
	"github.com/smallbiznis/energyledger/internal/record/domain"
	"github.com/smallbiznis/energyledger/internal/record/repository"
	"github.com/spf13/cobra"
)

type statsOptions struct {
	device         string
	includeDeleted bool
	dataDir        string
}

func newStatsCmd() *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the record count and total energy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.device, "device", "", "Only count this device")
	cmd.Flags().BoolVar(&opts.includeDeleted, "include-deleted", false, "Include soft-deleted records")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "Data directory for the file store (default: DATA_DIR)")

	return cmd
}

func runStats(cmd *cobra.Command, opts statsOptions) error {
	cfg := config.Load()
	log := obslogger.NewCLI(false)

	if dir := strings.TrimSpace(opts.dataDir); dir != "" {
		cfg.DataDir = dir
	}
	store, closeStore, err := repository.Open(cfg, clock.SystemClock{}, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	ctx := cmd.Context()
	if err := store.Load(ctx); err != nil {
		return err
	}

	result, err := store.FindAll(ctx, domain.ListFilter{
		Device:         strings.TrimSpace(opts.device),
		IncludeDeleted: opts.includeDeleted,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "records:      %s\n", humanize.Comma(int64(result.RecordCount)))
	fmt.Fprintf(out, "total energy: %s\n", humanize.CommafWithDigits(result.TotalEnergy, 2))
	if len(result.Records) > 0 {
		earliest, latest := result.Records[0].Timestamp, result.Records[0].Timestamp
		for _, record := range result.Records[1:] {
			if record.Timestamp.Before(earliest) {
				earliest = record.Timestamp
			}
			if record.Timestamp.After(latest) {
				latest = record.Timestamp
			}
		}
		fmt.Fprintf(out, "earliest:     %s\n", domain.FormatInstant(earliest))
		fmt.Fprintf(out, "latest:       %s\n", domain.FormatInstant(latest))
	}
	return nil
}
