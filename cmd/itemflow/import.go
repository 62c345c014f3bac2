package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmorrill/itemflow/internal/cli"
	"github.com/jmorrill/itemflow/internal/match"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/ofx"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import bank transactions or parsed order records",
	}
	cmd.AddCommand(importOFXCmd())
	cmd.AddCommand(importOrdersCmd())
	return cmd
}

func importOFXCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ofx <file>",
		Short: "Import bank transactions from an OFX/QFX statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = file.Close() }()

			txns, err := ofx.NewParser().ParseFile(ctx, file)
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SaveTransactions(ctx, txns); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("imported %d transactions", len(txns))))
			return nil
		},
	}
}

// Order CSV is denormalized: one line per item, order fields repeated.
// Expected header: external_id, order_number, kind, parse_status,
// timestamp, total, item_name, item_unit_price, item_quantity. Lines
// with a blank item_name contribute an itemless order.
func importOrdersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orders <csv>",
		Short: "Import parsed order records from a CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer func() { _ = file.Close() }()

			orders, rowErrs, err := readOrderCSV(file)
			if err != nil {
				return err
			}
			for _, rowErr := range rowErrs {
				fmt.Fprintln(os.Stderr, cli.FormatWarning(rowErr.Error()))
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SaveOrders(ctx, orders); err != nil {
				return err
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf(
				"imported %d orders (%d malformed lines skipped)", len(orders), len(rowErrs))))
			return nil
		},
	}
}

func readOrderCSV(r io.Reader) ([]model.ParsedOrderRecord, []error, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 9

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) != 9 || strings.ToLower(strings.TrimSpace(header[0])) != "external_id" {
		return nil, nil, fmt.Errorf("unexpected CSV header, want external_id,order_number,kind,parse_status,timestamp,total,item_name,item_unit_price,item_quantity")
	}

	byID := make(map[string]*model.ParsedOrderRecord)
	var order []string
	var rowErrs []error

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}

		externalID := strings.TrimSpace(record[0])
		if externalID == "" {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: empty external_id", line))
			continue
		}

		rec, ok := byID[externalID]
		if !ok {
			timestamp, err := match.ParseDate(record[4])
			if err != nil {
				rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, err))
				continue
			}
			total, err := match.ParseAmount(record[5])
			if err != nil {
				rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, err))
				continue
			}

			rec = &model.ParsedOrderRecord{
				ExternalID:  externalID,
				OrderNumber: strings.TrimSpace(record[1]),
				Kind:        model.OrderKind(strings.ToLower(strings.TrimSpace(record[2]))),
				ParseStatus: model.ParseStatus(strings.ToLower(strings.TrimSpace(record[3]))),
				Timestamp:   timestamp,
				Total:       total,
			}
			byID[externalID] = rec
			order = append(order, externalID)
		}

		itemName := strings.TrimSpace(record[6])
		if itemName == "" {
			continue
		}

		unitPrice, err := match.ParseAmount(record[7])
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		quantity, err := strconv.Atoi(strings.TrimSpace(record[8]))
		if err != nil || quantity <= 0 {
			quantity = 1
		}

		rec.Items = append(rec.Items, model.LineItem{
			Name:      itemName,
			UnitPrice: unitPrice,
			Quantity:  quantity,
		})
	}

	orders := make([]model.ParsedOrderRecord, 0, len(byID))
	for _, id := range order {
		orders = append(orders, *byID[id])
	}
	return orders, rowErrs, nil
}
