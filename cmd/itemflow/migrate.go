package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmorrill/itemflow/internal/cli"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			fmt.Println(cli.FormatSuccess("database schema is up to date"))
			return nil
		},
	}
}
