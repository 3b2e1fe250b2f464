package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/tradesense/challenge/internal/domain"
)

// ── Plans ─────────────────────────────────────────────────────────────────────

func newPlansCmd(env func() *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List plans, or create one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plans, err := env().Challenges.ListPlans(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPRICE\tSTARTING BALANCE")
			for _, p := range plans {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Price.StringFixed(2), p.StartingBalance.StringFixed(2))
			}
			return tw.Flush()
		},
	}

	var name, price, balance string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parseDecimal(price)
			if err != nil {
				return err
			}
			b, err := parseDecimal(balance)
			if err != nil {
				return err
			}
			plan, err := env().Challenges.CreatePlan(cmd.Context(), name, p, b)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plan.ID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "plan name")
	create.Flags().StringVar(&price, "price", "", "purchase price")
	create.Flags().StringVar(&balance, "balance", "", "starting balance")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("price")
	_ = create.MarkFlagRequired("balance")

	cmd.AddCommand(create)
	return cmd
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func newListCmd(env func() *Env) *cobra.Command {
	var status, user string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List challenges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := domain.ChallengeFilter{Status: domain.ChallengeStatus(status), Limit: limit}
			if user != "" {
				uid, err := uuid.Parse(user)
				if err != nil {
					return fmt.Errorf("--user: %w", err)
				}
				f.UserID = &uid
			}
			list, err := env().Challenges.ListAllChallenges(cmd.Context(), f)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSER\tSTATUS\tSTART\tEQUITY\tPCT")
			for _, c := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.UserID, c.Status,
					c.StartingBalance.StringFixed(2), c.Equity.StringFixed(2), c.ProfitPct().StringFixed(2))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "active, failed, passed or pending")
	cmd.Flags().StringVar(&user, "user", "", "only this user's challenges")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func newShowCmd(env func() *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <challenge-id>",
		Short: "Print a challenge and its trades as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := env().Challenges.GetChallengeAdmin(ctx, id)
			if err != nil {
				return err
			}
			trades, err := env().Challenges.ListTrades(ctx, c.UserID, &c.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"challenge": c,
				"trades":    trades,
			})
		},
	}
}

func newStatsCmd(env func() *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate challenge statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := env().Challenges.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newLeaderboardCmd(env func() *Env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the top challenges by profit percentage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			board, err := env().Challenges.Leaderboard(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tCHALLENGE\tUSER\tPCT")
			for i, e := range board {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, e.ChallengeID, e.UserID, e.Pct.StringFixed(2))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "entries (0 = configured size)")
	return cmd
}

// ── Mutations ─────────────────────────────────────────────────────────────────

func newEvaluateCmd(env func() *Env) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "evaluate [challenge-id]",
		Short: "Run the rule evaluator on one challenge, or on every active one with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if all {
				changed, err := env().Challenges.EvaluateAllActive(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d challenge(s) changed\n", changed)
				return nil
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, changed, err := env().Challenges.Evaluate(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s changed=%t\n", c.ID, c.Status, changed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "evaluate every active challenge")
	return cmd
}

func newResetCmd(env func() *Env) *cobra.Command {
	return mutation("reset <challenge-id>", "Restore starting balance and reactivate", 1,
		func(cmd *cobra.Command, id uuid.UUID, _ []string) (*domain.Challenge, error) {
			return env().Challenges.Reset(cmd.Context(), id)
		})
}

func newAdjustCmd(env func() *Env) *cobra.Command {
	return mutation("adjust <challenge-id> <equity>", "Overwrite equity without evaluating", 2,
		func(cmd *cobra.Command, id uuid.UUID, rest []string) (*domain.Challenge, error) {
			equity, err := parseDecimal(rest[0])
			if err != nil {
				return nil, err
			}
			return env().Challenges.AdjustEquity(cmd.Context(), id, equity)
		})
}

func newStatusCmd(env func() *Env) *cobra.Command {
	return mutation("status <challenge-id> <status>", "Force a challenge status", 2,
		func(cmd *cobra.Command, id uuid.UUID, rest []string) (*domain.Challenge, error) {
			return env().Challenges.SetStatus(cmd.Context(), id, domain.ChallengeStatus(rest[0]))
		})
}

func newUpgradeCmd(env func() *Env) *cobra.Command {
	return mutation("upgrade <challenge-id> <plan-id>", "Move a challenge to a more expensive plan", 2,
		func(cmd *cobra.Command, id uuid.UUID, rest []string) (*domain.Challenge, error) {
			planID, err := parseID(rest[0])
			if err != nil {
				return nil, err
			}
			ctx := cmd.Context()
			c, err := env().Challenges.GetChallengeAdmin(ctx, id)
			if err != nil {
				return nil, err
			}
			return env().Challenges.Upgrade(ctx, domain.UpgradeRequest{
				ChallengeID: id,
				UserID:      c.UserID,
				NewPlanID:   planID,
			})
		})
}

func newDeleteCmd(env func() *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <challenge-id>",
		Short: "Delete a challenge and its trades",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := env().Challenges.DeleteChallenge(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", id)
			return nil
		},
	}
}

// mutation builds a command whose first argument is a challenge id and which
// prints the resulting balance line.
func mutation(use, short string, nargs int, fn func(cmd *cobra.Command, id uuid.UUID, rest []string) (*domain.Challenge, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := fn(cmd, id, args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s equity=%s day_start=%s\n",
				c.ID, c.Status, c.Equity.StringFixed(2), c.DayStartEquity.StringFixed(2))
			return nil
		},
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id %q", domain.ErrValidation, s)
	}
	return id, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	return d, nil
}
