package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bristolpark/hmis/internal/config"
	"github.com/bristolpark/hmis/internal/domain/staff"
	"github.com/bristolpark/hmis/internal/platform/auth"
	"github.com/bristolpark/hmis/internal/platform/db"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "hmis-server",
		Short:        "Bristol Park hospital management API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(staffCmd())
	return rootCmd
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HMIS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openPool loads config and connects with the target schema created.
// schema and dir override DB_SCHEMA and MIGRATIONS_DIR when set.
func openPool(ctx context.Context, schema, dir string) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if schema != "" {
		cfg.DBSchema = schema
	}
	if dir != "" {
		cfg.MigrationsDir = dir
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, "")
	if err != nil {
		return nil, nil, err
	}
	if err := db.EnsureSchema(ctx, pool, cfg.DBSchema); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			to, _ := cmd.Flags().GetInt("to")

			ctx := context.Background()
			cfg, pool, err := openPool(ctx, schema, dir)
			if err != nil {
				return err
			}
			defer pool.Close()
			migrator := db.NewMigrator(pool, cfg.MigrationsDir)

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", cfg.DBSchema)
			count, err := migrator.UpTo(ctx, cfg.DBSchema, to)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	upCmd.Flags().Int("to", 0, "Stop after this version; 0 applies everything")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := openPool(ctx, schema, dir)
			if err != nil {
				return err
			}
			defer pool.Close()
			migrator := db.NewMigrator(pool, cfg.MigrationsDir)

			statuses, err := migrator.Status(ctx, cfg.DBSchema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", cfg.DBSchema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, strings.Repeat("-", 10)+" "+strings.Repeat("-", 40)+" "+strings.Repeat("-", 10)+" "+strings.Repeat("-", 20))
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.Modified {
						status = "modified"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func staffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage staff accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account, typically the first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := staffInputFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.DBSchema)
			if err != nil {
				return err
			}
			defer pool.Close()

			if in.BranchID == 0 {
				in.BranchID = cfg.DefaultBranch
			}
			svc := staff.NewService(staff.NewRepoPG(pool), staff.TokenConfig{})
			u, err := svc.CreateUser(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (%s)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Login name (required)")
	createCmd.Flags().String("password", "", "Password, at least 8 characters (required)")
	createCmd.Flags().String("role", auth.RoleAdmin, "Staff role")
	createCmd.Flags().String("email", "", "Email (defaults to <username>@bristolpark.local)")
	createCmd.Flags().String("first-name", "System", "First name")
	createCmd.Flags().String("last-name", "Administrator", "Last name")
	createCmd.Flags().Int("branch", 0, "Branch id (defaults to DEFAULT_BRANCH)")

	cmd.AddCommand(createCmd)
	return cmd
}

func staffInputFromFlags(cmd *cobra.Command) (staff.RegisterInput, error) {
	flags := cmd.Flags()
	username, _ := flags.GetString("username")
	password, _ := flags.GetString("password")
	if username == "" || password == "" {
		return staff.RegisterInput{}, fmt.Errorf("--username and --password are required")
	}
	role, _ := flags.GetString("role")
	if !auth.ValidRole(role) {
		return staff.RegisterInput{}, fmt.Errorf("unknown role %q", role)
	}
	email, _ := flags.GetString("email")
	if email == "" {
		email = username + "@bristolpark.local"
	}
	first, _ := flags.GetString("first-name")
	last, _ := flags.GetString("last-name")
	branch, _ := flags.GetInt("branch")
	return staff.RegisterInput{
		Username:  username,
		Email:     email,
		Password:  password,
		FirstName: first,
		LastName:  last,
		Role:      role,
		BranchID:  branch,
	}, nil
}
