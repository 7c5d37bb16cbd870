package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mdingest/internal/config"
	"mdingest/internal/partition"
	"mdingest/internal/storage"
)

func newPartitionsCmd(a *app) *cobra.Command {
	var tables []string
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Inspect and provision monthly partitions",
	}
	cmd.PersistentFlags().StringSliceVar(&tables, "table", nil, "restrict to these tables (default: every partitioned table)")

	cmd.AddCommand(
		newPartitionsEnsureCmd(a, &tables),
		newPartitionsListCmd(a, &tables),
		newPartitionsCheckCmd(a, &tables),
		newPartitionsMaintainCmd(a, &tables),
	)
	return cmd
}

// targetTables resolves --table against the registry's partitioned tables.
func (a *app) targetTables(selected []string) ([]string, error) {
	var all []string
	for _, ti := range a.reg.PartitionedTables() {
		all = append(all, ti.Name)
	}
	if len(selected) == 0 {
		return all, nil
	}
	for _, t := range selected {
		if !slices.Contains(all, t) {
			return nil, fmt.Errorf("%q is not a partitioned table", t)
		}
	}
	return selected, nil
}

// withStore opens the store, resolves tables and runs fn.
func (a *app) withStore(ctx context.Context, selected []string, fn func(storage.Repository, []string) error) error {
	tables, err := a.targetTables(selected)
	if err != nil {
		return err
	}
	repo, err := a.openStore(ctx, false)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(repo, tables)
}

func newPartitionsEnsureCmd(a *app, tables *[]string) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "ensure --from YYYY-MM --to YYYY-MM",
		Short: "Create every missing monthly partition in [from, to]",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := partition.ParseYearMonth(from)
			if err != nil {
				return err
			}
			t := f
			if to != "" {
				if t, err = partition.ParseYearMonth(to); err != nil {
					return err
				}
			}
			if t.Before(f) {
				return fmt.Errorf("--to %s is before --from %s", t, f)
			}
			ctx := cmd.Context()
			return a.withStore(ctx, *tables, func(repo storage.Repository, names []string) error {
				prov := partition.NewProvisioner(repo)
				var errs []error
				for _, name := range names {
					created, err := prov.EnsureRange(ctx, name, f, t)
					for _, p := range created {
						fmt.Fprintf(a.out, "created %s\n", p.Name())
					}
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first month, YYYY-MM")
	cmd.Flags().StringVar(&to, "to", "", "last month, YYYY-MM (default: --from)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newPartitionsListCmd(a *app, tables *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List existing partitions with their bounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, *tables, func(repo storage.Repository, names []string) error {
				cat := partition.NewCatalog(repo)
				for _, name := range names {
					bs, err := cat.List(ctx, name)
					if err != nil {
						return err
					}
					for _, b := range bs {
						fmt.Fprintf(a.out, "%s\t%s\t%s\n", b.Name,
							time.UnixMilli(b.StartMs).UTC().Format(time.DateOnly),
							time.UnixMilli(b.EndMs).UTC().Format(time.DateOnly))
					}
				}
				return nil
			})
		},
	}
}

func newPartitionsCheckCmd(a *app, tables *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report gaps, overlaps and misaligned partitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, *tables, func(repo storage.Repository, names []string) error {
				cat := partition.NewCatalog(repo)
				bad := 0
				for _, name := range names {
					bs, anomalies, err := cat.Check(ctx, name)
					if err != nil {
						return err
					}
					for _, an := range anomalies {
						fmt.Fprintf(a.out, "%s: %s\n", name, an)
					}
					bad += len(anomalies)
					a.log.Debug("partitions: checked", zap.String("table", name),
						zap.Int("partitions", len(bs)), zap.Int("anomalies", len(anomalies)))
				}
				if bad > 0 {
					return fmt.Errorf("%d partition anomalies", bad)
				}
				fmt.Fprintf(a.out, "%d tables contiguous\n", len(names))
				return nil
			})
		},
	}
}

func newPartitionsMaintainCmd(a *app, tables *[]string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Provision the current month and the next N months, once or on a cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.withStore(ctx, *tables, func(repo storage.Repository, names []string) error {
				prov := partition.NewProvisioner(repo)
				return a.maintain(ctx, prov, names, a.cfg.Partitions, time.Now)
			})
		},
	}
	cmd.Flags().Int("months-ahead", 0, "months to provision beyond the current one")
	cmd.Flags().String("schedule", "", `cron spec, e.g. "@daily" or "0 3 * * *"; empty runs once`)
	a.bind("partitions.months_ahead", cmd.Flags().Lookup("months-ahead"))
	a.bind("partitions.schedule", cmd.Flags().Lookup("schedule"))
	return cmd
}

// maintain runs one ahead-provisioning pass, then keeps running on
// cfg.Schedule until ctx is done.
func (a *app) maintain(ctx context.Context, prov *partition.Provisioner, tables []string, cfg config.Partitions, now func() time.Time) error {
	pass := func() error {
		created, err := prov.EnsureAhead(ctx, tables, now(), cfg.MonthsAhead)
		for _, p := range created {
			fmt.Fprintf(a.out, "created %s\n", p.Name())
		}
		a.log.Info("partitions: maintain pass",
			zap.Int("tables", len(tables)),
			zap.Int("months_ahead", cfg.MonthsAhead),
			zap.Int("created", len(created)),
			zap.Error(err),
		)
		return err
	}
	if err := pass(); err != nil || cfg.Schedule == "" {
		return err
	}

	c := cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{a.log.Sugar()}))
	if _, err := c.AddFunc(cfg.Schedule, func() { _ = pass() }); err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}
	a.log.Info("partitions: scheduled", zap.String("schedule", cfg.Schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...any) { l.s.Debugw("cron: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.s.Errorw("cron: "+msg, append(kv, "error", err)...)
}
