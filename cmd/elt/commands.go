package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"elt/internal/config"
	"elt/internal/feed"
	"elt/internal/pipeline"
)

var errLoadFailed = errors.New("one or more feeds failed to load")

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "elt",
		Short:         "Load the store API feeds into the bronze schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.prepare(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.envFile, "env-file", "", "dotenv file to read (default \".env\" when present)")
	pf.String("metrics-backend", "", "metrics backend: none, datadog or pushgateway (env METRICS_BACKEND)")
	pf.String("db-kind", "", "storage backend: postgres, mssql or sqlite (env DB_KIND)")
	pf.String("db-dsn", "", "full database DSN, overrides DB_* parts (env DB_DSN)")
	pf.String("schema", "", "bronze schema name (env BRONZE_SCHEMA)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logs")

	root.AddCommand(
		newSetupCmd(a),
		newExtractLoadCmd(a),
		newTransformCmd(a),
		newRunCmd(a),
		newValidateCmd(a),
	)
	return root
}

func newSetupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the bronze schema and tables if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.coordinator(cmd.Context(), true)
			if err != nil {
				return err
			}
			if err := c.Provision(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema %q ready\n", a.cfg.Schema)
			return nil
		},
	}
}

func newExtractLoadCmd(a *app) *cobra.Command {
	var failOnLoadError bool
	cmd := &cobra.Command{
		Use:       "extract-load [feed...]",
		Short:     "Fetch feeds from the API and upsert them into bronze tables",
		ValidArgs: feed.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.coordinator(cmd.Context(), true)
			if err != nil {
				return err
			}
			outcomes, err := c.ExtractLoad(cmd.Context(), args...)
			if err != nil {
				return err
			}
			printOutcomes(cmd.OutOrStdout(), outcomes)
			if failOnLoadError && pipeline.AnyFailed(outcomes) {
				return errLoadFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnLoadError, "fail-on-load-error", false, "exit non-zero when any feed fails to load")
	return cmd
}

func newTransformCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Run the downstream transformation command with retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.coordinator(cmd.Context(), false)
			if err != nil {
				return err
			}
			attempts, err := c.Transform(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transform succeeded after %d attempt(s)\n", attempts)
			return nil
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	var failOnLoadError bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Setup, extract-load every feed, then transform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.coordinator(cmd.Context(), true)
			if err != nil {
				return err
			}
			report, err := c.Run(cmd.Context())
			printOutcomes(cmd.OutOrStdout(), report.Feeds)
			if err != nil {
				return err
			}
			if report.TransformRan {
				fmt.Fprintf(cmd.OutOrStdout(), "transform succeeded after %d attempt(s)\n", report.TransformAttempts)
			}
			if failOnLoadError && report.LoadFailed() {
				return errLoadFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnLoadError, "fail-on-load-error", false, "exit non-zero when any feed fails to load")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print any issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issues := a.cfg.Validate()
			for _, iss := range issues {
				fmt.Fprintln(cmd.OutOrStdout(), iss.String())
			}
			if config.HasErrors(issues) {
				return errors.New("configuration is invalid")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}

func printOutcomes(w io.Writer, outcomes []pipeline.FeedOutcome) {
	for _, o := range outcomes {
		line := fmt.Sprintf("%-10s %-8s fetched=%d affected=%d", o.Feed, o.Status, o.Fetched, o.Affected)
		if o.Err != nil {
			line += " error=" + strings.ReplaceAll(o.Err.Error(), "\n", " ")
		}
		fmt.Fprintln(w, line)
	}
}
