package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmorrill/itemflow/internal/cli"
	"github.com/jmorrill/itemflow/internal/config"
	"github.com/jmorrill/itemflow/internal/match"
	"github.com/jmorrill/itemflow/internal/sheets"
)

func exportCmd() *cobra.Command {
	var startStr, endStr string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export categorized item rows to Google Sheets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			end := time.Now().UTC()
			start := end.AddDate(0, -1, 0)
			var err error
			if startStr != "" {
				if start, err = match.ParseDate(startStr); err != nil {
					return err
				}
			}
			if endStr != "" {
				if end, err = match.ParseDate(endStr); err != nil {
					return err
				}
			}

			sheetsConfig, err := config.LoadSheetsConfig()
			if err != nil {
				return fmt.Errorf("sheets configuration: %w", err)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := store.GetExportRecords(ctx, start, end)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println(cli.FormatWarning("no rows in the requested range"))
				return nil
			}

			writer, err := sheets.NewWriter(ctx, *sheetsConfig, slog.Default())
			if err != nil {
				return err
			}

			if err := writer.Write(ctx, records, start, end); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("exported %d rows", len(records))))
			return nil
		},
	}

	cmd.Flags().StringVar(&startStr, "start", "", "start date (default: one month ago)")
	cmd.Flags().StringVar(&endStr, "end", "", "end date (default: today)")

	return cmd
}
