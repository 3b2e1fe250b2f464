package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tradesense/challenge/internal/app"
	"github.com/tradesense/challenge/internal/config"
	"github.com/tradesense/challenge/internal/repository"
	"github.com/tradesense/challenge/internal/service"
)

// Env is what the subcommands operate on.
type Env struct {
	Challenges *service.ChallengeService
	Auth       *service.AuthService
	Migrate    func(ctx context.Context) error
	Close      func()
}

// Opener builds an Env.  Tests substitute one backed by a MemoryStore.
type Opener func(ctx context.Context) (*Env, error)

// Execute runs the root command against the configured database.
func Execute() error {
	return New(openFromConfig).Execute()
}

func openFromConfig(ctx context.Context) (*Env, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Migrations are explicit here.
	cfg.DB.AutoMigrate = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Env{
		Challenges: a.Challenges,
		Auth:       a.Auth,
		Migrate:    func(ctx context.Context) error { return repository.Migrate(ctx, a.DB) },
		Close:      a.Close,
	}, nil
}

// New assembles the command tree.
func New(open Opener) *cobra.Command {
	var env *Env

	root := &cobra.Command{
		Use:           "challengectl",
		Short:         "Administer funded-trading challenges",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			env, err = open(cmd.Context())
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if env != nil && env.Close != nil {
				env.Close()
			}
		},
	}
	get := func() *Env { return env }

	root.AddCommand(
		newMigrateCmd(get),
		newPlansCmd(get),
		newListCmd(get),
		newShowCmd(get),
		newEvaluateCmd(get),
		newResetCmd(get),
		newAdjustCmd(get),
		newStatusCmd(get),
		newUpgradeCmd(get),
		newDeleteCmd(get),
		newStatsCmd(get),
		newLeaderboardCmd(get),
		newTokenCmd(get),
	)
	return root
}

func newMigrateCmd(env func() *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := env().Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// printJSON writes v indented.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
