package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmorrill/itemflow/internal/cli"
	"github.com/jmorrill/itemflow/internal/engine"
	"github.com/jmorrill/itemflow/internal/llm"
	"github.com/jmorrill/itemflow/internal/rules"
)

func categorizeCmd() *cobra.Command {
	var (
		batchSize   int
		maxBatches  int
		batchDelay  time.Duration
		dryRun      bool
		noLearn     bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Categorize uncategorized item rows",
		Long: `Runs the layered categorization over rows without a decision:
merchant rules first, then keyword rules, then the LLM fallback. Rows
the fallback resolves twice for the same merchant become new merchant
rules for the rest of the run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ruleStore, err := rules.NewStore(ctx, store)
			if err != nil {
				return err
			}

			var fallback engine.Fallback
			if apiKey := viper.GetString("llm.api_key"); apiKey != "" {
				client, err := llm.NewClient(llm.Config{
					Provider:          "anthropic",
					APIKey:            apiKey,
					Model:             viper.GetString("llm.model"),
					RequestsPerMinute: viper.GetInt("llm.requests_per_minute"),
				})
				if err != nil {
					return err
				}
				defer func() { _ = client.Close() }()
				fallback = client
			} else {
				fmt.Fprintln(os.Stderr, cli.FormatWarning(
					"no llm.api_key configured, rows without a rule match stay uncategorized"))
			}

			var prompter engine.Prompter
			if interactive {
				actor := os.Getenv("USER")
				if actor == "" {
					actor = "operator"
				}
				prompter = cli.NewPrompter(os.Stdin, os.Stdout, actor)
			}

			ambiguous := viper.GetStringSlice("categorize.ambiguous_merchants")
			if len(ambiguous) == 0 {
				ambiguous = engine.DefaultAmbiguousMerchants()
			}

			runner, err := engine.NewRunner(store, ruleStore,
				engine.NewCategorizer(ambiguous), fallback, prompter,
				engine.RunConfig{
					BatchSize:   batchSize,
					MaxBatches:  maxBatches,
					BatchDelay:  batchDelay,
					DryRun:      dryRun,
					NoLearn:     noLearn,
					Interactive: interactive,
				})
			if err != nil {
				return err
			}

			stats, err := runner.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"processed %d rows: %d by rules, %d by fallback, %d flagged for review, %d rules learned",
				stats.TotalRows, stats.RuleCategorized, stats.FallbackUsed,
				stats.NeedsReview, stats.RulesLearned)))
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 25, "rows per batch")
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "stop after N batches (0 = run to completion)")
	cmd.Flags().DurationVar(&batchDelay, "batch-delay", 2*time.Second, "pause between batches")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "decide but write nothing")
	cmd.Flags().BoolVar(&noLearn, "no-learn", false, "disable merchant rule learning")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "review flagged decisions at the terminal")

	return cmd
}
