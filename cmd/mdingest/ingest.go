package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mdingest/internal/datasource/file"
	"mdingest/internal/ingest"
	"mdingest/internal/normalize"
	"mdingest/internal/parser"
	"mdingest/internal/writer"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		fileList string
		dryRun   bool
		strict   bool
		migrate  bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [DIR]",
		Short: "Ingest every matching file under DIR (default: ingest.root)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.cfg.Ingest.Root
			if len(args) == 1 {
				root = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runIngest(ctx, root, fileList, dryRun, migrate, strict)
		},
	}

	f := cmd.Flags()
	f.StringSlice("pattern", nil, "glob matched against file names (repeatable)")
	f.Int("concurrency", 0, "files processed in parallel")
	f.Int("max-failures", 0, "stop dispatching after N failed files (0 = unlimited)")
	f.Int("progress-every", 0, "emit a progress event every N files")
	f.Int("chunk-size", 0, "rows per insert statement")
	f.StringVar(&fileList, "file-list", "", "file with one path per line; bypasses directory enumeration")
	f.BoolVar(&dryRun, "dry-run", false, "write to an in-memory store instead of the database")
	f.BoolVar(&strict, "strict", false, "exit non-zero when any file fails")
	f.BoolVar(&migrate, "migrate", false, "apply schema migrations before ingesting")
	a.bind("ingest.patterns", f.Lookup("pattern"))
	a.bind("ingest.concurrency", f.Lookup("concurrency"))
	a.bind("ingest.max_failures", f.Lookup("max-failures"))
	a.bind("ingest.progress_every", f.Lookup("progress-every"))
	a.bind("ingest.chunk_size", f.Lookup("chunk-size"))
	return cmd
}

func (a *app) runIngest(ctx context.Context, root, fileList string, dryRun, migrate, strict bool) error {
	cfg := a.cfg.Ingest

	repo, err := a.openStore(ctx, dryRun)
	if err != nil {
		return err
	}
	defer repo.Close()

	if migrate || dryRun {
		if err := repo.Migrate(ctx, a.reg); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	flush := a.setupMetrics()
	defer flush()

	orch, err := ingest.New(ingest.Deps{
		Logger:    a.log,
		Store:     repo,
		Registry:  a.reg,
		Reporter:  ingest.MultiReporter{ingest.NewLogReporter(a.log), ingest.MetricsReporter{}},
		Parser:    parser.Options{BatchSize: cfg.ColumnarBatch},
		Normalize: normalize.Options{Dedupe: cfg.Dedupe, MaxRejections: cfg.MaxRejections},
		Writer:    writer.Options{ChunkSize: cfg.ChunkSize, Parallelism: cfg.WriteParallelism, Logger: a.log},
	})
	if err != nil {
		return err
	}

	opt := ingest.Options{
		Patterns:      cfg.Patterns,
		Concurrency:   cfg.Concurrency,
		ProgressEvery: cfg.ProgressEvery,
		MaxFailures:   cfg.MaxFailures,
	}

	var sum ingest.RunSummary
	if fileList != "" {
		files, err := file.ReadList(fileList)
		if err != nil {
			return err
		}
		sum = orch.IngestFiles(ctx, files, opt)
	} else {
		sum = orch.IngestDirectory(ctx, root, opt)
	}

	printSummary(a.out, sum, dryRun)
	switch {
	case sum.Diagnostic != nil:
		return sum.Diagnostic
	case strict && sum.FailedFiles > 0:
		return fmt.Errorf("%d of %d files failed", sum.FailedFiles, sum.TotalFiles)
	case errors.Is(ctx.Err(), context.Canceled):
		a.log.Warn("ingest: interrupted", zap.Int("not_dispatched", sum.NotDispatched))
	}
	return nil
}

func printSummary(w io.Writer, s ingest.RunSummary, dryRun bool) {
	mode := ""
	if dryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "run %s%s\n", s.RunID, mode)
	fmt.Fprintf(w, "  files:      %d total, %d ok, %d failed, %d not dispatched\n",
		s.TotalFiles, s.SuccessfulFiles, s.FailedFiles, s.NotDispatched)
	fmt.Fprintf(w, "  rows:       %d written, %d skipped, %d rejected\n",
		s.RowsWritten, s.RowsSkipped, s.RowsRejected)
	fmt.Fprintf(w, "  partitions: %d created\n", s.PartitionsCreated)
	fmt.Fprintf(w, "  duration:   %s\n", s.Duration.Round(time.Millisecond))
	for _, f := range s.FailedFileList {
		fmt.Fprintf(w, "  failed: %s\n", f)
	}
}
