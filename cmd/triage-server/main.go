package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/healthcampaign/triage/internal/config"
	"github.com/healthcampaign/triage/internal/platform/db"
	"github.com/healthcampaign/triage/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "triage-server",
		Short:         "Cardiovascular triage scoring service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(scoreCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openDatabase loads config and connects; callers close the pool.
func openDatabase(ctx context.Context) (*config.Config, *dbHandle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)
	pool, err := db.NewPool(ctx, poolConfig(cfg), logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, &dbHandle{pool: pool, migrator: db.NewMigrator(pool, migrations.FS)}, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	var schema string

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, h, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			target, err := resolveSchema(schema)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", target)
			count, err := h.migrator.Up(ctx, target)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, h, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			target, err := resolveSchema(schema)
			if err != nil {
				return err
			}
			statuses, err := h.migrator.Status(ctx, target)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), target, statuses)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&schema, "tenant", "default", "Health entity whose schema is migrated")
	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage health entities",
	}

	var name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a health entity schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			ctx := cmd.Context()
			_, h, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer h.Close()

			schema, err := db.CreateTenantSchema(ctx, h.pool, name, migrations.FS)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Health entity %q ready in schema %s\n", name, schema)
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Entity identifier (lowercase letters, digits, underscore)")

	cmd.AddCommand(createCmd)
	return cmd
}

func scoreCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a triage input read from a JSON file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runScore(in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the input JSON (default stdin)")
	return cmd
}
