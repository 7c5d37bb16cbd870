package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mdingest/internal/config"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration and print any issues",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			issues := config.Validate(a.cfg)
			for _, iss := range issues {
				fmt.Fprintf(a.out, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if config.HasErrors(issues) {
				return errors.New("configuration has errors")
			}
			if len(issues) == 0 {
				fmt.Fprintln(a.out, "configuration ok")
			}
			return nil
		},
	}
}
