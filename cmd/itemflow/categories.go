package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmorrill/itemflow/internal/cli"
	"github.com/jmorrill/itemflow/internal/match"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/rules"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Inspect and edit the category taxonomy",
	}
	cmd.AddCommand(categoriesListCmd())
	cmd.AddCommand(categoriesAddCmd())
	return cmd
}

func categoriesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all categories",
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

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPARENT\tBUDGET\tDESCRIPTION")
			for _, c := range ruleStore.Categories() {
				budget := ""
				if !c.MonthlyBudget.IsZero() {
					budget = c.MonthlyBudget.StringFixed(2)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.ParentID, budget, c.Description)
			}
			return w.Flush()
		},
	}
}

func categoriesAddCmd() *cobra.Command {
	var parent, description, budget string

	cmd := &cobra.Command{
		Use:   "add <id> <name>",
		Short: "Add a category",
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

			category := model.Category{
				ID:          args[0],
				Name:        args[1],
				ParentID:    parent,
				Description: description,
			}
			if budget != "" {
				if category.MonthlyBudget, err = match.ParseAmount(budget); err != nil {
					return err
				}
			}

			if err := ruleStore.CreateCategory(ctx, category); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("added category %s", args[0])))
			return nil
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "parent category id")
	cmd.Flags().StringVar(&description, "description", "", "category description")
	cmd.Flags().StringVar(&budget, "budget", "", "monthly budget amount")

	return cmd
}
