package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/smallbiznis/energyledger/internal/clock"
	"github.com/smallbiznis/energyledger/internal/config"
	obslogger "github.com/smallbiznis/energyledger/internal/observability/logger"
	"github.com/smallbiznis/energyledger/internal/record/repository"
	"github.com/smallbiznis/energyledger/internal/upload"
	"github.com/spf13/cobra"
)

type importOptions struct {
	file    string
	dataDir string
	verbose bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace all records with the contents of a CSV or XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "CSV or XLSX file to import (required)")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "Data directory for the file store (default: DATA_DIR)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log progress to stderr")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(cmd *cobra.Command, opts importOptions) error {
	path := strings.TrimSpace(opts.file)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid --file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("invalid --file: %s is a directory", path)
	}

	log := obslogger.NewCLI(opts.verbose)
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	holder, err := config.NewIngestionConfigHolder(log)
	if err != nil {
		return err
	}

	if dir := strings.TrimSpace(opts.dataDir); dir != "" {
		cfg.DataDir = dir
	}
	store, closeStore, err := repository.Open(cfg, clock.SystemClock{}, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	svc := upload.New(upload.Params{Log: log, Repo: store, Ingestion: holder})
	result, err := svc.Upload(cmd.Context(), upload.Source{
		Name: filepath.Base(path),
		Body: f,
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", filepath.Base(path), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %s records from %s (%s, upload %s)\n",
		humanize.Comma(int64(result.Count)),
		filepath.Base(path),
		humanize.Bytes(uint64(info.Size())),
		result.UploadID,
	)
	return nil
}
