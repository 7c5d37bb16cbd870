package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mdingest/internal/config"
	"mdingest/internal/metrics"
	"mdingest/internal/metrics/datadog"
	"mdingest/internal/metrics/prompush"
	"mdingest/internal/schema"
	"mdingest/internal/storage"
	_ "mdingest/internal/storage/all"
)

// app is the state shared by every subcommand once the root pre-run has
// loaded configuration.
type app struct {
	v       *viper.Viper
	cfgPath string
	cfg     config.Config
	log     *zap.Logger
	reg     *schema.Registry
	out     io.Writer
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.out = cfg, log, cmd.OutOrStdout()
	a.reg = schema.Builtin()
	return nil
}

func newLogger(c config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(c.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.DisableStacktrace = true
	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return log, nil
}

// openStore opens the configured backend, or an in-memory one for dry runs.
func (a *app) openStore(ctx context.Context, dryRun bool) (storage.Repository, error) {
	db := a.cfg.Database
	kind := db.Kind
	if dryRun {
		kind = "memory"
	}
	repo, err := storage.New(ctx, storage.Config{
		Kind:           kind,
		DSN:            db.ConnString(),
		Schema:         db.Schema,
		MinConns:       int32(db.MinConnections),
		MaxConns:       int32(db.MaxConnections),
		ConnectTimeout: db.ConnectTimeout,
		Logger:         a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", kind, err)
	}
	a.log.Info("storage: opened", zap.String("kind", kind), zap.String("dsn", db.Redacted()))
	return repo, nil
}

// setupMetrics installs the configured metrics backend and returns a flush
// func for shutdown. Backend init failures fall back to the nop backend.
func (a *app) setupMetrics() func() {
	m := a.cfg.Metrics
	var (
		b   metrics.Backend
		err error
	)
	switch m.Backend {
	case "pushgateway":
		b, err = prompush.NewBackend(m.Job, m.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{Addr: m.DatadogAddr, Namespace: m.Namespace, GlobalTags: m.Tags})
	case "", "none":
		a.log.Debug("metrics: disabled")
		return func() {}
	default:
		a.log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", m.Backend))
		return func() {}
	}
	if err != nil {
		a.log.Warn("metrics: backend init failed; using nop", zap.String("backend", m.Backend), zap.Error(err))
		return func() {}
	}
	metrics.SetBackend(b)
	a.log.Info("metrics: enabled", zap.String("backend", m.Backend), zap.String("job", m.Job))
	return func() {
		if err := metrics.Flush(); err != nil {
			a.log.Warn("metrics: flush failed", zap.Error(err))
		}
	}
}

// bind ties flag to a config key so an explicitly set flag takes precedence
// over file and environment.
func (a *app) bind(key string, flag *pflag.Flag) {
	if err := a.v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}
