package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/root-talis/migsql"
	"github.com/root-talis/migsql/config"
	"github.com/root-talis/migsql/logging"
	"github.com/root-talis/migsql/scaffold"
	"github.com/root-talis/migsql/source/files"
)

var errMissingFlag = errors.New("required flag is missing")

type globalFlags struct {
	config     string
	database   string
	connection string
	filepath   string
	migrations string
	template   string
	table      string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "migsql",
		Short:         "Apply and roll back SQL migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: "  migsql init --database sqlite\n" +
			"  migsql create --name post\n" +
			"  migsql migrate\n" +
			"  migsql rollback\n" +
			"  migsql rollback --all",
	}

	persistent := rootCmd.PersistentFlags()
	persistent.StringVarP(&flags.config, "config", "c", config.DefaultFile, "path to config file")
	persistent.StringVarP(&flags.database, "database", "d", "", "type of database: sqlite, postgresql, mysql")
	persistent.StringVarP(&flags.connection, "connection", "C", "", "postgresql or mysql connection string")
	persistent.StringVarP(&flags.filepath, "filepath", "f", "", "sqlite database file")
	persistent.StringVarP(&flags.migrations, "migrations", "m", config.DefaultMigrations, "path to migrations directory")
	persistent.StringVarP(&flags.template, "template", "t", "", "path to a custom migration template")
	persistent.StringVar(&flags.table, "table", config.DefaultTable, "name of the ledger table")
	persistent.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	persistent.StringVar(&flags.logFormat, "log-format", "text", "log format: text, json")

	rootCmd.AddCommand(
		newInitCmd(flags),
		newCreateCmd(flags),
		newMigrateCmd(flags),
		newRollbackCmd(flags),
		newStatusCmd(flags),
	)

	return rootCmd
}

func newInitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file and create the migrations directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.database == "" {
				return fmt.Errorf("%w: --database, options: sqlite, postgresql, mysql", errMissingFlag)
			}

			cfg := config.Config{
				Database:   flags.database,
				Migrations: flags.migrations,
				Template:   flags.template,
				Table:      flags.table,
			}

			switch flags.database {
			case config.SQLite:
				cfg.Filepath = flags.filepath
				if cfg.Filepath == "" {
					cfg.Filepath = config.DefaultSQLiteFile
				}
			case config.PostgreSQL, config.MySQL:
				if flags.connection == "" {
					return fmt.Errorf("%w: --connection, pass a %s connection string", errMissingFlag, flags.database)
				}
				cfg.Connection = flags.connection
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("failed to init: %w", err)
			}

			if err := config.Write(flags.config, cfg); err != nil {
				return fmt.Errorf("failed to init: %w", err)
			}

			if err := os.MkdirAll(cfg.Migrations, 0o755); err != nil { // nolint:gomnd
				return fmt.Errorf("failed to create migrations directory: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", flags.config)

			return nil
		},
	}
}

func newCreateCmd(flags *globalFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("%w: --name", errMissingFlag)
			}

			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			var template []byte
			if cfg.Template != "" {
				template, err = scaffold.ReadTemplate(cfg.Template)
			} else {
				template, err = scaffold.Template(cfg.Database)
			}
			if err != nil {
				return fmt.Errorf("failed to create migration: %w", err)
			}

			path, err := scaffold.Create(cfg.Migrations, name, template)
			if err != nil {
				return fmt.Errorf("failed to create migration: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)

			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "name of the new migration")

	return cmd
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, flags, func(ctx context.Context, m migsql.Migrator) error {
				result, err := m.Migrate(ctx)
				printNames(cmd.OutOrStdout(), "applied", result)
				return err
			})
		},
	}
}

func newRollbackCmd(flags *globalFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the latest migration, or all of them with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := migsql.RollbackLatest
			if all {
				mode = migsql.RollbackAll
			}

			return withMigrator(cmd, flags, func(ctx context.Context, m migsql.Migrator) error {
				result, err := m.Rollback(ctx, mode)
				printNames(cmd.OutOrStdout(), "reverted", result)
				if result != nil {
					for _, failed := range result.Failed {
						fmt.Fprintf(cmd.OutOrStdout(), "failed   %s: %v\n", failed.Name, failed.Err)
					}
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "roll back all migrations")

	return cmd
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied, pending and missing migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, flags, func(ctx context.Context, m migsql.Migrator) error {
				status, err := m.Status(ctx)
				if err != nil {
					return err // nolint:wrapcheck
				}

				out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0) // nolint:gomnd
				fmt.Fprintln(out, "MIGRATION\tSTATUS\tAPPLIED AT")
				for _, state := range status.Migrations {
					appliedAt := ""
					if !state.AppliedAt.IsZero() {
						appliedAt = state.AppliedAt.Local().Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(out, "%s\t%s\t%s\n", state.Name, state.Status, appliedAt)
				}
				if err := out.Flush(); err != nil {
					return fmt.Errorf("failed to print status: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "\n%d applied, %d pending, %d missing\n",
					status.AppliedCount, status.PendingCount, status.MissingCount)

				return nil
			})
		},
	}
}

// ---

func loadConfig(cmd *cobra.Command, flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.config, cmd.Flags().Changed("config"))
	if err != nil {
		return config.Config{}, err // nolint:wrapcheck
	}

	return cfg.With(overrides(cmd, flags)), nil
}

// overrides returns the flags set explicitly on the command line.
func overrides(cmd *cobra.Command, flags *globalFlags) config.Overrides {
	var result config.Overrides

	changed := func(name string, value *string) *string {
		if cmd.Flags().Changed(name) {
			return value
		}
		return nil
	}

	result.Database = changed("database", &flags.database)
	result.Connection = changed("connection", &flags.connection)
	result.Filepath = changed("filepath", &flags.filepath)
	result.Migrations = changed("migrations", &flags.migrations)
	result.Template = changed("template", &flags.template)
	result.Table = changed("table", &flags.table)
	result.LogLevel = changed("log-level", &flags.logLevel)
	result.LogFormat = changed("log-format", &flags.logFormat)

	return result
}

func withMigrator(cmd *cobra.Command, flags *globalFlags, run func(context.Context, migsql.Migrator) error) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err // nolint:wrapcheck
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	src, err := files.NewFilesSource(os.DirFS(cfg.Migrations), ".")
	if err != nil {
		return fmt.Errorf("failed to open migrations directory %s: %w", cfg.Migrations, err)
	}

	drv, err := openDriver(ctx, cfg, logger)
	if err != nil {
		return err
	}

	m := migsql.New(migsql.Config{KeepFailedReverts: cfg.KeepFailedReverts}, src, drv, migsql.WithLogger(logger))
	defer func() {
		if err := m.Close(); err != nil {
			logger.Error("failed to close database connection", "error", err)
		}
	}()

	return run(ctx, m)
}

func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err // nolint:wrapcheck
	}

	logger, err := logging.New(w, cfg.Log.Format, level)
	if err != nil {
		return nil, err // nolint:wrapcheck
	}

	return logger, nil
}

func printNames(w io.Writer, verb string, result *migsql.Result) {
	if result == nil {
		return
	}

	names := result.Applied
	if verb == "reverted" {
		names = result.Reverted
	}

	if len(names) == 0 {
		fmt.Fprintf(w, "nothing %s\n", verb)
		return
	}

	for _, name := range names {
		fmt.Fprintf(w, "%-8s %s\n", verb, name)
	}
}
