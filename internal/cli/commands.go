package cli

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"spesesync/internal/core"
	"spesesync/internal/ledger"
)

func newAddCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add AMOUNT [CATEGORY]",
		Short: "Record an expense",
		Long: `Record an expense and wait for the authority to confirm it.

AMOUNT is a decimal in the major currency unit; both 12.34 and 12,34 are
accepted. Without CATEGORY the expense is unclassified.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := core.ParseDecimalToCents(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			data := core.ClientData{Amount: amount}
			if len(args) == 2 {
				data.Category = core.Category(args[1])
			}
			if err := data.Validate(); err != nil {
				return err
			}

			view, release, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			alias := view.InsertDraft(data)
			out := cmd.OutOrStdout()
			var outcome ledger.Outcome
			settled := a.settle(cmd.Context(), func() bool {
				var ok bool
				outcome, ok = view.Outcome(alias)
				return ok
			})
			switch {
			case !settled:
				fmt.Fprintf(out, "pending %s\n", alias)
				return nil
			case outcome.Rejected:
				return fmt.Errorf("%w: %s: %s", errRejected, alias, outcome.Reason)
			}
			return a.writeEntries(out, []ledger.Entry{outcome.Entry})
		},
	}
}

func newRevokeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke a confirmed expense",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}

			view, release, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			before := view.LiveCount()
			view.Revoke(id)
			out := cmd.OutOrStdout()
			if a.settle(cmd.Context(), func() bool { return view.LiveCount() < before }) {
				fmt.Fprintf(out, "revoked %s\n", id)
				return nil
			}
			fmt.Fprintf(out, "revocation of %s sent, not echoed yet\n", id)
			return nil
		},
	}
}

func newRecentCommand(a *app) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent expenses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n < 0 {
				return fmt.Errorf("invalid count %d: must not be negative", n)
			}
			view, release, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			return a.writeEntries(cmd.OutOrStdout(), view.LoadRecent(n))
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 10, "number of expenses to list")
	return cmd
}

func newRangeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "range FROM TO",
		Short: "List expenses at positions [FROM, TO), most recent first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid FROM %q: %w", args[0], err)
			}
			to, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid TO %q: %w", args[1], err)
			}
			if from < 0 || from > to {
				return fmt.Errorf("%w: [%d, %d)", ledger.ErrInvalidRange, from, to)
			}

			view, release, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			return a.writeEntries(cmd.OutOrStdout(), view.LoadRange(from, to))
		},
	}
}

func newSummaryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show lifetime and window totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			view, release, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			return a.writeSummary(cmd.OutOrStdout(), view)
		},
	}
}

func newBreakdownCommand(a *app) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "breakdown",
		Short: "Show totals per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := parseScope(scope)
			if err != nil {
				return err
			}
			view, release, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			return a.writeBreakdown(cmd.OutOrStdout(), view.CategoryBreakdown(s))
		},
	}
	cmd.Flags().StringVar(&scope, "scope", ledger.Lifetime.String(), "aggregate to break down: lifetime or window")
	return cmd
}

func parseScope(s string) (ledger.Scope, error) {
	switch s {
	case ledger.Lifetime.String():
		return ledger.Lifetime, nil
	case ledger.Window.String():
		return ledger.Window, nil
	default:
		return 0, fmt.Errorf("invalid scope %q: must be lifetime or window", s)
	}
}
