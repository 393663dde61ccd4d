package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/voicedb/internal/config"
	"github.com/ehr/voicedb/internal/domain/compliance"
	"github.com/ehr/voicedb/internal/domain/execution"
	"github.com/ehr/voicedb/internal/domain/schema"
	"github.com/ehr/voicedb/internal/platform/auth"
	"github.com/ehr/voicedb/internal/platform/db"
	"github.com/ehr/voicedb/internal/platform/hipaa"
	"github.com/ehr/voicedb/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voicedb",
		Short:         "Voice command to SQL compiler with HIPAA audit",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(compileCmd())
	root.AddCommand(entitiesCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tokenCmd())
	return root
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the voice command API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <transcript>",
		Short: "Execute one transcript through the audited pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, _ := cmd.Flags().GetString("caller")
			elevated, _ := cmd.Flags().GetBool("elevated")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			p, err := openPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			res := p.svc.Execute(ctx, execution.Request{
				Transcript: strings.Join(args, " "),
				Caller:     compliance.Caller{ID: caller, ElevatedApproval: elevated},
				RequestID:  "cli",
			})
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Outcome == hipaa.OutcomeFailed {
				return fmt.Errorf("command failed: %s", *res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().String("caller", "", "Caller identity recorded on the audit trail")
	cmd.Flags().Bool("elevated", false, "Caller holds elevated approval for destructive operations")
	return cmd
}

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <transcript>",
		Short: "Show how a transcript is parsed and synthesized without executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOffline()
			if err != nil {
				return err
			}
			front, err := buildFront(cfg, schema.MustDefault())
			if err != nil {
				return err
			}
			svc := execution.NewService(front.normalizer, front.extractor, front.synth, compliance.NewGate(), nil, zerolog.Nop())
			return printJSON(cmd.OutOrStdout(), svc.Compile(strings.Join(args, " ")))
		},
	}
}

func entitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List the registered entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), execution.Summaries(schema.MustDefault()))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
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

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			elevated, _ := cmd.Flags().GetBool("elevated")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}

			cfg, err := config.LoadOffline()
			if err != nil {
				return err
			}
			tok, err := auth.IssueToken(jwtConfig(cfg), subject, roles, elevated, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Caller identity (sub claim)")
	cmd.Flags().StringSlice("role", nil, "Role to include; repeatable")
	cmd.Flags().Bool("elevated", false, "Grant elevated approval for destructive operations")
	cmd.Flags().Duration("ttl", 15*time.Minute, "Token lifetime")
	return cmd
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:       cfg.AuthIssuer,
		Audience:     cfg.AuthAudience,
		SigningKey:   []byte(cfg.AuthSigningKey),
		ElevatedRole: cfg.ElevatedRole,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
