package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"mdingest/internal/normalize"
	"mdingest/internal/parser"
	"mdingest/internal/schema"
	"mdingest/internal/source"
	"mdingest/internal/storage"
	"mdingest/internal/writer"
)

// IngestFile runs the full pipeline for one file: classify, read, resolve
// the symbol, normalize and write. It never panics and never returns an
// error; failures are reported in the result.
func (o *Orchestrator) IngestFile(ctx context.Context, path string) (res IngestionResult) {
	start := time.Now()
	res.Path = path
	o.reporter.FileStart(path)

	defer func() {
		if v := recover(); v != nil {
			o.log.Error("ingest: worker panic",
				zap.String("file", path),
				zap.Any("panic", v),
				zap.ByteString("stack", debug.Stack()),
			)
			res.Success = false
			res.Err = &FileError{Path: path, Stage: StagePanic, Err: fmt.Errorf("%v", v)}
		}
		res.Duration = time.Since(start)
		o.reporter.FileResult(res)
	}()

	if err := o.ingest(ctx, path, &res); err != nil {
		res.Err = err
		return res
	}
	res.Success = true
	return res
}

func (o *Orchestrator) ingest(ctx context.Context, path string, res *IngestionResult) error {
	fail := func(stage Stage, err error) error {
		return &FileError{Path: path, Stage: stage, Err: err}
	}

	cl, err := o.classifier.Classify(path)
	if err != nil {
		return fail(StageClassify, err)
	}
	rt, err := o.registry.Lookup(cl.RecordType)
	if err != nil {
		return fail(StageClassify, err)
	}
	res.RecordType, res.Table = rt.Name, rt.Table

	tbl, err := parser.Read(ctx, path, o.parserOpt)
	if errors.Is(err, parser.ErrEmpty) {
		res.SkipReason = "empty"
		return nil
	}
	if err != nil {
		return fail(StageRead, err)
	}
	res.RowsRead = len(tbl.Rows)

	symbolID, err := o.resolveSymbol(ctx, cl)
	if err != nil {
		return fail(StageResolve, err)
	}

	nc := normalize.Context{SymbolID: symbolID, TradingType: cl.TradingType}
	if rt.SupportsInterval {
		nc.Interval = cl.Interval
	}
	norm, err := o.normalizer.Normalize(normalize.Input{
		Header: tbl.Header,
		Named:  tbl.Named,
		Rows:   tbl.Rows,
	}, rt, nc)
	if err != nil {
		return fail(StageNormalize, err)
	}
	res.RowsRejected = norm.Rejected + tbl.Malformed
	res.Rejections = norm.Rejections
	res.Duplicates = norm.Duplicates
	if len(norm.Rows) == 0 {
		res.SkipReason = "no valid rows"
		return nil
	}

	wr, err := o.writer.Write(ctx, batchFor(rt, norm))
	res.RowsWritten = wr.Written
	res.RowsSkipped = wr.Skipped
	res.PartitionsCreated = wr.PartitionsCreated
	for _, p := range wr.Created {
		o.reporter.PartitionCreated(p)
	}
	if err != nil {
		return fail(StageWrite, err)
	}
	return nil
}

func batchFor(rt *schema.RecordType, n *normalize.Result) writer.Batch {
	return writer.Batch{
		Table:       rt.Table,
		TimeColumn:  string(rt.TimeColumn),
		Partitioned: rt.Partitioned,
		Columns:     n.Columns,
		ConflictKey: rt.ConflictKey(),
		Rows:        n.Rows,
	}
}

// resolveSymbol returns the cached id for the file's symbol, registering it
// on first sight.
func (o *Orchestrator) resolveSymbol(ctx context.Context, cl source.Classification) (int64, error) {
	key := cl.Symbol + "\x00" + cl.TradingType
	if id, ok := o.symbols.Load(key); ok {
		return id.(int64), nil
	}
	base, quote := source.SplitSymbol(cl.Symbol, cl.TradingType)
	id, err := o.store.ResolveSymbol(ctx, storage.Symbol{
		Name:        cl.Symbol,
		TradingType: cl.TradingType,
		BaseAsset:   base,
		QuoteAsset:  quote,
	})
	if err != nil {
		return 0, err
	}
	o.symbols.Store(key, id)
	return id, nil
}
