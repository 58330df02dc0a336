package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/synthesis"
	"github.com/kestrel-noc/kestrel/internal/workbook"
	"github.com/spf13/cobra"
)

type evaluateOptions struct {
	file  string
	sheet string
	city  string
	date  string
}

func newEvaluateCmd(a *app) *cobra.Command {
	opts := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Synthesize one city and day from a workbook or a JSON record file.",
		Long: `Evaluate runs the rule catalog against a local file and prints the synthesis as JSON.
An .xlsx file is read like an upload; a .json file holds an array of records.
Nothing is persisted or published.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Workbook (.xlsx) or JSON record file")
	cmd.Flags().StringVar(&opts.sheet, "sheet", workbook.DefaultSheet, "Workbook sheet to read")
	cmd.Flags().StringVar(&opts.city, "city", "", "City to keep")
	cmd.Flags().StringVar(&opts.date, "date", "", "Day to keep, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runEvaluate(cmd *cobra.Command, a *app, opts *evaluateOptions) error {
	records, err := readRecords(opts)
	if err != nil {
		return err
	}

	catalog, _, err := resolveCatalog(cmd.Context(), a.cfg, nil)
	if err != nil {
		return err
	}

	service := synthesis.NewService(catalog, synthesis.NewProcessor(), nil, nil, a.cfg.Evaluator.Workers)
	syn, err := service.Run(cmd.Context(), "cli", &synthesis.Request{
		City:    opts.city,
		Date:    opts.date,
		Records: records,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(syn)
}

func readRecords(opts *evaluateOptions) ([]domain.MetricRecord, error) {
	data, err := os.ReadFile(opts.file)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(opts.file)) {
	case ".json":
		var records []domain.MetricRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", opts.file, err)
		}
		if opts.city != "" && opts.date != "" {
			records = workbook.Filter(records, opts.city, opts.date)
		}
		return records, nil
	case ".xlsx":
		if opts.city == "" || opts.date == "" {
			return nil, errors.New("--city and --date are required for workbooks")
		}
		wb, err := workbook.OpenBytes(data)
		if err != nil {
			return nil, err
		}
		defer wb.Close()
		return wb.Extract(opts.sheet, opts.city, opts.date)
	default:
		return nil, fmt.Errorf("unsupported file type %q: want .xlsx or .json", filepath.Ext(opts.file))
	}
}
