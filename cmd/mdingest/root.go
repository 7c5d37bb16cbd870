package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "mdingest",
		Short:         "Load market-data archives into monthly partitioned tables",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (yaml, json or toml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "json", "log format: json or console")
	pf.String("store", "", "storage kind: postgres, sqlite or memory")
	pf.String("dsn", "", "database connection string (overrides DB_* settings)")
	a.bind("log.level", pf.Lookup("log-level"))
	a.bind("log.format", pf.Lookup("log-format"))
	a.bind("database.kind", pf.Lookup("store"))
	a.bind("database.dsn", pf.Lookup("dsn"))

	root.AddCommand(
		newIngestCmd(a),
		newMigrateCmd(a),
		newValidateCmd(a),
		newPartitionsCmd(a),
		newProbeCmd(a),
	)
	return root
}
