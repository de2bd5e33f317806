// Command intakectl runs operator tasks: schema migrations, lead retention,
// key rotation and firm onboarding.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"lexintake.org/internal/app"
	"lexintake.org/internal/auth"
	"lexintake.org/internal/config"
	"lexintake.org/internal/migrate"
	"lexintake.org/internal/obs"
	"lexintake.org/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRoot().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "intakectl:", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "intakectl",
		Short:         "Operator tooling for the LexIntake backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := obs.NewLogger(cfg.AppEnv)
			if err != nil {
				return err
			}
			obs.SetLogger(logger)
			if dsn, _ := cmd.Flags().GetString("dsn"); dsn != "" {
				cfg.DatabaseURL = dsn
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
	}
	root.PersistentFlags().String("dsn", "", "PostgreSQL DSN (overrides DATABASE_URL)")
	root.AddCommand(newMigrateCmd(), newCleanupCmd(), newRotateKeyCmd(), newFirmCmd())
	return root
}

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(cmd *cobra.Command) *config.Config {
	return cmd.Context().Value(configKey{}).(*config.Config)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or inspect schema migrations"}
	run := func(fn func(context.Context, *migrate.Manager) ([]string, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("pgx", configFrom(cmd).DatabaseURL)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			out, err := fn(ctx, migrate.NewManager(db, migrations.FS, ".", migrations.SeedsDir))
			if err != nil {
				return err
			}
			for _, line := range out {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply pending migrations", RunE: run(func(ctx context.Context, m *migrate.Manager) ([]string, error) {
			return m.Up(ctx)
		})},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", RunE: run(func(ctx context.Context, m *migrate.Manager) ([]string, error) {
			v, err := m.Down(ctx)
			if err != nil || v == "" {
				return nil, err
			}
			return []string{v}, nil
		})},
		&cobra.Command{Use: "status", Short: "List applied migrations", RunE: run(func(ctx context.Context, m *migrate.Manager) ([]string, error) {
			return m.Status(ctx)
		})},
		&cobra.Command{Use: "seed", Short: "Load development seed data", RunE: run(func(ctx context.Context, m *migrate.Manager) ([]string, error) {
			return m.Seed(ctx)
		})},
	)
	return cmd
}

// withApp builds the services for one command and closes them afterwards.
func withApp(fn func(cmd *cobra.Command, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := app.Build(cmd.Context(), configFrom(cmd))
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a)
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge marketing leads past the retention window",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			res, err := a.Intake.Cleanup(cmd.Context(), "", "intakectl")
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	}
}

func newRotateKeyCmd() *cobra.Command {
	var (
		firmID string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Issue a new API key for a firm and revoke the previous one",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			issued, err := a.Auth.RotateAPIKey(cmd.Context(), firmID, scopes, "")
			if err != nil {
				return err
			}
			return printJSON(cmd, issued)
		}),
	}
	cmd.Flags().StringVar(&firmID, "firm", "", "firm id")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scopes to grant (default: all standard scopes)")
	_ = cmd.MarkFlagRequired("firm")
	return cmd
}

func newFirmCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "firm", Short: "Manage firms"}
	var in auth.NewFirm
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a firm with its owner and first API key",
		RunE: withApp(func(cmd *cobra.Command, a *app.App) error {
			out, err := a.Auth.CreateFirm(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"firm_id":  out.Firm.ID,
				"owner_id": out.Owner.ID,
				"api_key":  out.Key,
			})
		}),
	}
	f := create.Flags()
	f.StringVar(&in.Name, "name", "", "firm name")
	f.StringVar(&in.State, "state", "", "US state")
	f.StringVar(&in.ContactEmail, "contact-email", "", "firm contact email")
	f.StringVar(&in.OwnerEmail, "owner-email", "", "owner sign-in email")
	f.StringVar(&in.OwnerName, "owner-name", "", "owner full name")
	f.StringVar(&in.OwnerPassword, "owner-password", "", "owner password")
	for _, name := range []string{"name", "owner-email", "owner-password"} {
		_ = create.MarkFlagRequired(name)
	}
	cmd.AddCommand(create)
	return cmd
}
