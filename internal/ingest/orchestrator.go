// Package ingest drives ingestion runs: it enumerates source files, hands
// them to a bounded worker pool and turns every file into one
// IngestionResult. It is the error boundary of the engine; no file-level
// failure escapes it.
package ingest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mdingest/internal/datasource/file"
	"mdingest/internal/normalize"
	"mdingest/internal/parser"
	"mdingest/internal/partition"
	"mdingest/internal/schema"
	"mdingest/internal/source"
	"mdingest/internal/storage"
	"mdingest/internal/writer"
)

// DefaultPatterns matches every supported source encoding.
var DefaultPatterns = []string{"*.csv", "*.zip", "*.parquet", "*.gz", "*.feather"}

const (
	DefaultConcurrency   = 4
	DefaultProgressEvery = 10
)

// Deps is everything a run needs, constructed once by the caller.
type Deps struct {
	Logger   *zap.Logger
	Store    storage.Repository
	Registry *schema.Registry

	// Optional; derived from Store and Registry when nil. A Provisioner may
	// be shared between orchestrators; New leaves its OnCreated hook alone.
	Provisioner *partition.Provisioner
	Classifier  *source.Classifier
	Reporter    Reporter

	Parser    parser.Options
	Normalize normalize.Options
	Writer    writer.Options
}

// Options tunes one run.
type Options struct {
	Patterns    []string
	Concurrency int
	// ProgressEvery emits a progress event every N completed files; zero or
	// less disables progress events.
	ProgressEvery int
	// MaxFailures stops dispatching new files once this many have failed.
	// Zero means unlimited.
	MaxFailures int
}

func (o Options) withDefaults() Options {
	if len(o.Patterns) == 0 {
		o.Patterns = DefaultPatterns
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Orchestrator runs ingestions. It is safe to reuse across runs.
type Orchestrator struct {
	log        *zap.Logger
	store      storage.Repository
	registry   *schema.Registry
	prov       *partition.Provisioner
	classifier *source.Classifier
	reporter   Reporter
	normalizer *normalize.Normalizer
	writer     *writer.Writer
	parserOpt  parser.Options

	symbols sync.Map // symbolKey -> int64
}

// New wires an Orchestrator from d.
func New(d Deps) (*Orchestrator, error) {
	if d.Store == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}
	if d.Registry == nil {
		d.Registry = schema.Builtin()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Reporter == nil {
		d.Reporter = NewLogReporter(d.Logger)
	}
	if d.Provisioner == nil {
		d.Provisioner = partition.NewProvisioner(d.Store)
	}
	if d.Classifier == nil {
		d.Classifier = source.NewClassifier(d.Registry.Names())
	}
	if d.Writer.Logger == nil {
		d.Writer.Logger = d.Logger
	}

	return &Orchestrator{
		log:        d.Logger,
		store:      d.Store,
		registry:   d.Registry,
		prov:       d.Provisioner,
		classifier: d.Classifier,
		reporter:   d.Reporter,
		normalizer: normalize.New(d.Normalize),
		writer:     writer.New(d.Store, d.Provisioner, d.Writer),
		parserOpt:  d.Parser,
	}, nil
}

// IngestDirectory ingests every file under root matching opt.Patterns. An
// unreadable root yields a zero-file summary whose Diagnostic is an
// *EnumerationError.
func (o *Orchestrator) IngestDirectory(ctx context.Context, root string, opt Options) RunSummary {
	opt = opt.withDefaults()
	files, err := file.Enumerate(root, opt.Patterns)
	if err != nil {
		s := RunSummary{
			RunID:      uuid.NewString(),
			Started:    time.Now(),
			Diagnostic: &EnumerationError{Root: root, Err: err},
		}
		o.finish(ctx, root, s)
		return s
	}
	o.log.Info("ingest: enumerated",
		zap.String("root", root),
		zap.Strings("patterns", opt.Patterns),
		zap.Int("files", len(files)),
	)
	return o.run(ctx, root, files, opt)
}

// IngestFiles ingests an explicit list of files. Duplicates are removed.
//
// Cancelling ctx, or reaching opt.MaxFailures, stops dispatch of new files;
// files already handed to a worker run to completion on a context that is
// not cancelled with ctx.
func (o *Orchestrator) IngestFiles(ctx context.Context, files []string, opt Options) RunSummary {
	return o.run(ctx, "", files, opt.withDefaults())
}

func (o *Orchestrator) run(ctx context.Context, root string, files []string, opt Options) RunSummary {
	files = file.Dedupe(files)

	sum := RunSummary{RunID: uuid.NewString(), TotalFiles: len(files), Started: time.Now()}
	log := o.log.With(zap.String("run_id", sum.RunID))
	log.Info("ingest: run start",
		zap.Int("files", len(files)),
		zap.Int("concurrency", opt.Concurrency),
	)

	var (
		jobs       = make(chan string)
		results    = make(chan IngestionResult)
		stop       = make(chan struct{})
		stopOnce   sync.Once
		dispatched atomic.Int64
		wg         sync.WaitGroup
	)
	work := context.WithoutCancel(ctx)

	for range min(opt.Concurrency, max(len(files), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				results <- o.IngestFile(work, p)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range files {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			select {
			case jobs <- p:
				dispatched.Add(1)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := 0
	for r := range results {
		done++
		sum.add(r)
		if opt.MaxFailures > 0 && sum.FailedFiles >= opt.MaxFailures {
			stopOnce.Do(func() {
				log.Warn("ingest: failure limit reached, stopping dispatch",
					zap.Int("max_failures", opt.MaxFailures))
				close(stop)
			})
		}
		if opt.ProgressEvery > 0 && done%opt.ProgressEvery == 0 {
			o.reporter.Progress(Progress{
				Done:        done,
				Total:       len(files),
				Succeeded:   sum.SuccessfulFiles,
				Failed:      sum.FailedFiles,
				RowsWritten: sum.RowsWritten,
			})
		}
	}

	sum.NotDispatched = len(files) - int(dispatched.Load())
	sum.Stopped = sum.NotDispatched > 0
	slices.Sort(sum.FailedFileList)
	sum.Duration = time.Since(sum.Started)
	o.finish(ctx, root, sum)
	return sum
}

// finish reports s and, when the store keeps a run history, records it.
func (o *Orchestrator) finish(ctx context.Context, root string, s RunSummary) {
	o.reporter.RunSummary(s)

	rec, ok := o.store.(storage.RunRecorder)
	if !ok {
		return
	}
	if root == "" {
		root = "(file list)"
	}
	r := storage.RunRecord{
		RunID:             s.RunID,
		Root:              root,
		Started:           s.Started,
		Finished:          s.Started.Add(s.Duration),
		TotalFiles:        s.TotalFiles,
		SuccessfulFiles:   s.SuccessfulFiles,
		FailedFiles:       s.FailedFiles,
		RowsWritten:       s.RowsWritten,
		RowsRejected:      s.RowsRejected,
		RowsSkipped:       s.RowsSkipped,
		PartitionsCreated: s.PartitionsCreated,
	}
	if s.Diagnostic != nil {
		r.Diagnostic = s.Diagnostic.Error()
	}
	if err := rec.RecordRun(context.WithoutCancel(ctx), r); err != nil {
		o.log.Warn("ingest: record run failed", zap.String("run_id", s.RunID), zap.Error(err))
	}
}
