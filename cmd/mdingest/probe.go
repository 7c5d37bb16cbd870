package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mdingest/internal/normalize"
	"mdingest/internal/parser"
	"mdingest/internal/source"
)

// probeReport describes how a single file would be ingested.
type probeReport struct {
	Path        string   `json:"path"`
	RecordType  string   `json:"record_type"`
	Table       string   `json:"table"`
	Symbol      string   `json:"symbol"`
	TradingType string   `json:"trading_type"`
	Interval    string   `json:"interval,omitempty"`
	Period      string   `json:"period"`
	Format      string   `json:"format"`
	Header      []string `json:"header,omitempty"`
	Named       bool     `json:"named_columns"`
	RowsRead    int      `json:"rows_read"`
	Malformed   int      `json:"rows_malformed"`
	RowsValid   int      `json:"rows_valid"`
	Rejected    int      `json:"rows_rejected"`
	Duplicates  int      `json:"duplicates"`
	Rejections  []string `json:"rejections,omitempty"`
	Columns     []string `json:"columns"`
	Sample      [][]any  `json:"sample"`
}

func newProbeCmd(a *app) *cobra.Command {
	var (
		rows   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "Classify, read and normalize one file without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.probe(cmd, args[0], rows)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printProbe(a.out, rep)
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 5, "normalized rows to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func (a *app) probe(cmd *cobra.Command, path string, rows int) (probeReport, error) {
	rep := probeReport{Path: path}

	cl, err := source.NewClassifier(a.reg.Names()).Classify(path)
	if err != nil {
		return rep, err
	}
	rt, err := a.reg.Lookup(cl.RecordType)
	if err != nil {
		return rep, err
	}
	rep.RecordType, rep.Table = rt.Name, rt.Table
	rep.Symbol, rep.TradingType, rep.Interval = cl.Symbol, cl.TradingType, cl.Interval
	rep.Period = cl.Period()

	tbl, err := parser.Read(cmd.Context(), path, parser.Options{BatchSize: a.cfg.Ingest.ColumnarBatch})
	if err != nil && !errors.Is(err, parser.ErrEmpty) {
		return rep, err
	}
	rep.Format, rep.Header, rep.Named = string(tbl.Format), tbl.Header, tbl.Named
	rep.RowsRead, rep.Malformed = len(tbl.Rows), tbl.Malformed

	nc := normalize.Context{TradingType: cl.TradingType}
	if rt.SupportsInterval {
		nc.Interval = cl.Interval
	}
	res, err := normalize.New(normalize.Options{
		Dedupe:        a.cfg.Ingest.Dedupe,
		MaxRejections: a.cfg.Ingest.MaxRejections,
	}).Normalize(normalize.Input{Header: tbl.Header, Named: tbl.Named, Rows: tbl.Rows}, rt, nc)
	if err != nil {
		return rep, err
	}
	rep.Columns = res.Columns
	rep.RowsValid, rep.Rejected, rep.Duplicates = len(res.Rows), res.Rejected, res.Duplicates
	for _, r := range res.Rejections {
		rep.Rejections = append(rep.Rejections, r.Error())
	}
	rep.Sample = res.Rows[:min(rows, len(res.Rows))]
	return rep, nil
}

func printProbe(w io.Writer, r probeReport) {
	fmt.Fprintf(w, "file:         %s\n", r.Path)
	fmt.Fprintf(w, "record type:  %s -> %s\n", r.RecordType, r.Table)
	fmt.Fprintf(w, "symbol:       %s (%s)\n", r.Symbol, r.TradingType)
	if r.Interval != "" {
		fmt.Fprintf(w, "interval:     %s\n", r.Interval)
	}
	fmt.Fprintf(w, "period:       %s\n", r.Period)
	fmt.Fprintf(w, "format:       %s\n", r.Format)
	if len(r.Header) > 0 {
		fmt.Fprintf(w, "header:       %v (named=%t)\n", r.Header, r.Named)
	}
	fmt.Fprintf(w, "rows:         %d read, %d valid, %d rejected, %d duplicates, %d malformed\n",
		r.RowsRead, r.RowsValid, r.Rejected, r.Duplicates, r.Malformed)
	for _, rej := range r.Rejections {
		fmt.Fprintf(w, "  rejected: %s\n", rej)
	}
	fmt.Fprintf(w, "columns:      %v\n", r.Columns)
	for _, row := range r.Sample {
		fmt.Fprintf(w, "  %v\n", row)
	}
}
