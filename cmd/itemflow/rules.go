package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmorrill/itemflow/internal/cli"
	"github.com/jmorrill/itemflow/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and edit categorization rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddMerchantCmd())
	cmd.AddCommand(rulesAddKeywordCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List merchant and keyword rules in evaluation order",
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
			snap := ruleStore.Snapshot()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MERCHANT PATTERN\tCATEGORY\tCONFIDENCE\tSOURCE\tNOTE")
			for _, r := range snap.MerchantRules() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					r.Pattern, r.CategoryID, r.Confidence, r.Source, r.Note)
			}
			fmt.Fprintln(w, "\nKEYWORD\tCATEGORY\tPRIORITY")
			for _, r := range snap.KeywordRules() {
				fmt.Fprintf(w, "%s\t%s\t%d\n", r.Word, r.CategoryID, r.Priority)
			}
			return w.Flush()
		},
	}
}

func rulesAddMerchantCmd() *cobra.Command {
	var confidence int
	var note string

	cmd := &cobra.Command{
		Use:   "add-merchant <pattern> <category>",
		Short: "Append a merchant rule to the end of the ordered list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if err := ruleStore.AddMerchantRule(ctx, args[0], args[1], confidence, note); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("added merchant rule %q -> %s", args[0], args[1])))
			return nil
		},
	}

	cmd.Flags().IntVar(&confidence, "confidence", 100, "rule confidence (0-100)")
	cmd.Flags().StringVar(&note, "note", "", "provenance note")

	return cmd
}

func rulesAddKeywordCmd() *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "add-keyword <word> <category>",
		Short: "Add a word-boundary keyword rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if err := ruleStore.AddKeyword(ctx, args[0], args[1], priority); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("added keyword rule %q -> %s", args[0], args[1])))
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "match priority, higher wins")

	return cmd
}
