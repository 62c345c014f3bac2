package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmorrill/itemflow/internal/cli"
	"github.com/jmorrill/itemflow/internal/match"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/service"
)

func matchCmd() *cobra.Command {
	var window int
	var mode string

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match transactions to orders and expand them into item rows",
		Long: `Scores every transaction against the order pool and writes one output
row per matched line item. Production mode only processes transactions
that have no output rows yet; development mode clears non-manual output
and reprocesses everything.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if mode != "production" && mode != "development" {
				return fmt.Errorf("invalid mode %q, want production or development", mode)
			}

			config := match.DefaultConfig()
			config.DateWindowDays = window
			matcher, err := match.New(config)
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var txns []model.Transaction
			if mode == "development" {
				if err := store.ClearMatchOutput(ctx); err != nil {
					return err
				}
				txns, err = store.GetAllTransactions(ctx)
			} else {
				txns, err = store.GetUnprocessedTransactions(ctx)
			}
			if err != nil {
				return err
			}
			if len(txns) == 0 {
				fmt.Println(cli.FormatSuccess("nothing to match"))
				return nil
			}

			orders, err := store.GetOrders(ctx, service.OrderFilter{})
			if err != nil {
				return err
			}

			results := matcher.Match(txns, orders)

			var rows []model.ExpandedItemRow
			var high, low, unmatched, review int
			for _, result := range results {
				rows = append(rows, result.Rows...)
				if result.NeedsReview() {
					review++
				}
				switch result.Status {
				case model.MatchHigh:
					high++
				case model.MatchLow:
					low++
				default:
					unmatched++
				}
			}

			if err := store.SaveItemRows(ctx, rows); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"matched %d transactions: %d high, %d low, %d unmatched, %d need review (%d rows written)",
				len(results), high, low, unmatched, review, len(rows))))
			return nil
		},
	}

	cmd.Flags().IntVar(&window, "window", 30, "maximum days between transaction and order")
	cmd.Flags().StringVar(&mode, "mode", "production", "production (append only) or development (full reprocess)")

	return cmd
}
