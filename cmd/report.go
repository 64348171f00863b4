package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"

	"github.com/eida/wfcc/internal/output"
	"github.com/eida/wfcc/pkg/config"
	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/results"
	"github.com/eida/wfcc/pkg/consistency/types"
)

var reportFlags struct {
	table string
	limit int
	json  bool
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the content of a result file",
	Long: wordwrap.WrapString(
		"Without --table, prints the run that produced the result file and the "+
			"number of rows in each table. With --table, lists the rows of that "+
			"table ordered by file name."+
			"\n\n"+
			"Rows of remove_from_wfcatalog hold a full path when the archive file "+
			"has no station metadata, and the bare catalog file name when the "+
			"cataloged file no longer exists in the archive.",
		80),
	Example: fmt.Sprintf("  %s report --table missing_in_wfcatalog --limit 20", rootCmd.Name()),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load[config.ReportConfig]()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		r, err := results.OpenReader(cfg.Results.Path)
		if err != nil {
			return err
		}
		defer r.Close()

		if reportFlags.table != "" {
			table := model.Table(reportFlags.table)
			if !table.Valid() {
				return types.ConfigError{
					Field:  "table",
					Reason: fmt.Sprintf("%q is not one of %s", reportFlags.table, tableNames()),
				}
			}
			recs, err := r.Records(ctx, table, reportFlags.limit)
			if err != nil {
				return err
			}
			if reportFlags.json {
				return output.JSON(cmd.OutOrStdout(), recs)
			}
			printRecords(cmd, recs)
			if table == model.RemoveFromCatalog {
				fmt.Fprintln(cmd.OutOrStdout(), removalNote)
			}
			return nil
		}

		counts, err := r.Counts(ctx)
		if err != nil {
			return err
		}
		run, err := r.LatestRun(ctx)
		if err != nil && !errors.Is(err, results.ErrNoRuns) {
			return err
		}
		if reportFlags.json {
			byName := make(map[string]int, len(counts))
			for t, n := range counts {
				byName[string(t)] = n
			}
			return output.JSON(cmd.OutOrStdout(), map[string]any{"run": run, "counts": byName})
		}

		out := cmd.OutOrStdout()
		if err == nil {
			fmt.Fprintf(out, "Result %s, years %d-%d, finished %s\n",
				run.ID, run.YearStart, run.YearEnd, humanize.Time(run.FinishedAt))
			if len(run.Excluded) > 0 {
				fmt.Fprintf(out, "Excluded networks: %s\n", strings.Join(run.Excluded, ", "))
			}
			fmt.Fprintf(out, "Checksums compared: %t, strict epochs: %t, files: %s\n\n",
				run.Checksum, run.StrictEpochs, humanize.Comma(int64(run.Files)))
		}
		rows := [][]string{{"TABLE", "ROWS"}}
		for _, t := range model.Tables {
			rows = append(rows, []string{string(t), humanize.Comma(int64(counts[t]))})
		}
		output.Table(out, rows)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportFlags.table, "table", "t", "", "Table to list")
	reportCmd.Flags().IntVarP(&reportFlags.limit, "limit", "n", 0, "Maximum number of rows to list (default: all)")
	reportCmd.Flags().BoolVar(&reportFlags.json, "json", false, "Print as JSON")

	rootCmd.AddCommand(reportCmd)
}

const removalNote = "\nFull paths: archive files without metadata. " +
	"Bare names: cataloged files absent from the archive."

func tableNames() string {
	names := make([]string, 0, len(model.Tables))
	for _, t := range model.Tables {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

func printRecords(cmd *cobra.Command, recs []model.Record) {
	rows := [][]string{{"NET", "STA", "LOC", "CHA", "YEAR", "JDAY", "FILE"}}
	for _, rec := range recs {
		year, jday := "", ""
		if rec.HasDate {
			year = strconv.Itoa(rec.Year)
			jday = fmt.Sprintf("%03d", rec.JulianDay)
		}
		rows = append(rows, []string{rec.Network, rec.Station, rec.Location, rec.Channel, year, jday, rec.FileName})
	}
	output.Table(cmd.OutOrStdout(), rows)
}

