package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sopkit/sopkit/internal/config"
	"github.com/sopkit/sopkit/internal/domain/conflict"
	"github.com/sopkit/sopkit/internal/domain/lookup"
	"github.com/sopkit/sopkit/internal/domain/rule"
	"github.com/sopkit/sopkit/internal/platform/db"
	"github.com/sopkit/sopkit/migrations"
)

var errCheckFailed = errors.New("rule table has errors or high-severity conflicts")

func main() {
	rootCmd := &cobra.Command{
		Use:   "sop-server",
		Short: "SOP rule engine: lookup vocabulary, rule validation and conflict resolution",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openApp loads config, opens the store and wires the services.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	a.pool = pool
	return a, nil
}

func runServer() error {
	a, err := openApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.logger
	e := a.server()

	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Str("store", a.cfg.StoreDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (postgres store only)",
	}

	openMigrator := func(ctx context.Context) (*db.Migrator, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for migrations")
		}
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, migrations.FS), pool.Close, nil
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Add lookup tags from a YAML seed file; existing tags are kept",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				file = a.cfg.LookupSeedFile
			}
			if file == "" {
				return fmt.Errorf("--file or LOOKUP_SEED_FILE is required")
			}
			tags, err := lookup.LoadSeedFile(file)
			if err != nil {
				return err
			}
			n, err := a.lookups.Seed(ctx, tags)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d new tag(s) from %s.\n", n, file)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Path to the lookup seed file (defaults to LOOKUP_SEED_FILE)")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <rules.csv>",
		Short: "Validate a rule table and report conflicts without storing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			cmd.SilenceUsage = true
			return runCheck(cmd.OutOrStdout(), a.lookups.Registry(), f)
		},
	}
}

// runCheck validates every row of a CSV table against repo and analyzes the
// valid rows for conflicts. It fails when any row has errors or any conflict
// is high severity.
func runCheck(w io.Writer, repo lookup.Repository, r io.Reader) error {
	candidates, err := rule.Import(r)
	if err != nil {
		return err
	}
	validator := rule.NewValidator(repo)
	batch := validator.ValidateBatch(candidates)

	for _, inv := range batch.InvalidRules {
		for _, issue := range inv.Validation.Errors {
			fmt.Fprintf(w, "%s\terror\t%s: %s\n", inv.Rule.RuleID, issue.Field, issue.Message)
		}
	}
	for _, valid := range batch.ValidRules {
		for _, issue := range validator.Validate(valid.Candidate).Warnings {
			fmt.Fprintf(w, "%s\twarning\t%s: %s\n", valid.RuleID, issue.Field, issue.Message)
		}
	}
	if len(batch.AllNeedsDefinition) > 0 {
		fmt.Fprintf(w, "undefined tags: %s\n", strings.Join(batch.AllNeedsDefinition, ", "))
	}

	conflicts := conflict.Analyze(batch.ValidRules)
	for _, c := range conflicts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Severity, strings.Join(c.AffectedRuleIDs, ","), c.Description)
	}
	sum := conflict.Summarize(conflicts)
	fmt.Fprintf(w, "%d rule(s): %d valid, %d invalid; %d conflict(s) (%d high, %d medium, %d low)\n",
		len(candidates), len(batch.ValidRules), len(batch.InvalidRules),
		sum.Total, sum.High, sum.Medium, sum.Low)

	if len(batch.InvalidRules) > 0 || sum.High > 0 {
		return errCheckFailed
	}
	return nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored rule set as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out, _ := cmd.Flags().GetString("out")
			compress, _ := cmd.Flags().GetBool("gzip")

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
				compress = compress || strings.HasSuffix(out, ".gz")
			}
			return a.rules.Export(ctx, w, compress)
		},
	}
	cmd.Flags().String("out", "", "Output file; a .gz suffix enables compression (default stdout)")
	cmd.Flags().Bool("gzip", false, "Gzip-compress the output")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <rules.csv>",
		Short: "Validate and add rules from a CSV table (plain or gzip)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			sopID, _ := cmd.Flags().GetString("sop")
			res, err := a.rules.Import(ctx, f, sopID)
			if err != nil {
				return err
			}
			printIngest(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().String("sop", "", "SOP id to attach the imported rules to")
	return cmd
}

func printIngest(w io.Writer, res *rule.IngestResult) {
	fmt.Fprintf(w, "Read %d rule(s): %d added, %d invalid, %d skipped.\n",
		res.Extracted, len(res.Added), len(res.Invalid), len(res.Skipped))
	for _, inv := range res.Invalid {
		for _, issue := range inv.Validation.Errors {
			fmt.Fprintf(w, "  %s: %s: %s\n", inv.Rule.RuleID, issue.Field, issue.Message)
		}
	}
	if len(res.NeedsDefinition) > 0 {
		fmt.Fprintf(w, "Undefined tags: %s\n", strings.Join(res.NeedsDefinition, ", "))
	}
}
