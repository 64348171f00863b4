package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eida/wfcc/internal/ctxutil"
	"github.com/eida/wfcc/internal/output"
	"github.com/eida/wfcc/pkg/bus"
	"github.com/eida/wfcc/pkg/config"
	"github.com/eida/wfcc/pkg/consistency"
	"github.com/eida/wfcc/pkg/consistency/catalog"
	"github.com/eida/wfcc/pkg/consistency/catalog/mongostore"
	"github.com/eida/wfcc/pkg/consistency/catalog/sqlcatalog"
	"github.com/eida/wfcc/pkg/consistency/metadata"
	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/scans"
)

var checkFlags struct {
	start    int
	end      int
	exclude  []string
	checksum bool
	json     bool
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Classify archive files against station metadata and the WFCatalog",
	Long: wordwrap.WrapString(
		"Scans every archive file of the requested years and compares it with "+
			"the channels published by the FDSN station service and the daily "+
			"streams recorded in the WFCatalog. Each inconsistency lands in one of "+
			"six tables of the result file: inconsistent_metadata, "+
			"missing_in_wfcatalog, inconsistent_checksum, older_date, "+
			"remove_from_wfcatalog and inappropriate_naming. Catalog entries "+
			"whose file is gone from the archive are listed in "+
			"remove_from_wfcatalog under their bare catalog file name."+
			"\n\n"+
			"The result file is replaced only when the run completes. Checksums "+
			"are compared only with --checksum, which reads every cataloged file.",
		80),
	Example: fmt.Sprintf("  %s check -s 2019 -e 2020 -x XX,YY --checksum", rootCmd.Name()),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load[config.Config]()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		store, err := openCatalog(ctx, cfg.Catalog)
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		fetcher := metadata.NewFDSNClient(cfg.FDSN.Endpoint,
			metadata.WithTimeout(cfg.FDSN.Timeout),
			metadata.WithRetries(cfg.FDSN.Retries),
		)

		b := bus.New()
		if !checkFlags.json {
			p := newProgress(cmd.ErrOrStderr())
			if err := p.subscribe(b); err != nil {
				return err
			}
			defer p.stop()
		}

		api := consistency.NewAPI(scans.New(cfg.Archive.Path), fetcher, store,
			consistency.WithWorkers(cfg.Check.Workers),
			consistency.WithEventBus(b),
			consistency.WithResultsPath(cfg.Results.Path),
		)
		report, err := api.Run(ctx, consistency.Params{
			YearStart:    checkFlags.start,
			YearEnd:      checkFlags.end,
			Excluded:     model.NewNetworkSet(checkFlags.exclude...),
			Checksum:     checkFlags.checksum,
			StrictEpochs: cfg.Check.StrictEpochs,
		})
		if err != nil {
			return ctxutil.ErrorWithCause(err, ctx)
		}

		if checkFlags.json {
			return output.JSON(cmd.OutOrStdout(), summaryJSON(report, cfg.Results.Path))
		}
		printSummary(cmd, report, cfg.Results.Path)
		return nil
	},
}

func init() {
	lastYear := time.Now().Year() - 1

	checkCmd.Flags().IntVarP(&checkFlags.start, "start", "s", lastYear, "First year to check")
	checkCmd.Flags().IntVarP(&checkFlags.end, "end", "e", lastYear, "Last year to check")
	checkCmd.Flags().StringSliceVarP(&checkFlags.exclude, "exclude", "x", nil, "Comma-separated networks to leave out")
	checkCmd.Flags().BoolVarP(&checkFlags.checksum, "checksum", "c", false, "Compare file checksums with the catalog")
	checkCmd.Flags().BoolVar(&checkFlags.json, "json", false, "Print the summary as JSON")

	checkCmd.Flags().Bool("strict-epochs", false, "Require the file day to fall within a channel epoch")
	cobra.CheckErr(viper.BindPFlag("check.strict_epochs", checkCmd.Flags().Lookup("strict-epochs")))

	checkCmd.Flags().Int("workers", 0, "Files classified concurrently (default: one per CPU)")
	cobra.CheckErr(viper.BindPFlag("check.workers", checkCmd.Flags().Lookup("workers")))

	checkCmd.Flags().String("archive", "", "Archive root directory")
	cobra.CheckErr(viper.BindPFlag("archive.path", checkCmd.Flags().Lookup("archive")))

	checkCmd.Flags().String("fdsn-endpoint", "", "FDSN station web service host")
	cobra.CheckErr(viper.BindPFlag("fdsn.endpoint", checkCmd.Flags().Lookup("fdsn-endpoint")))

	checkCmd.Flags().String("catalog-driver", config.DriverMongo, "WFCatalog backend (mongo, postgres, sqlite)")
	cobra.CheckErr(viper.BindPFlag("catalog.driver", checkCmd.Flags().Lookup("catalog-driver")))

	checkCmd.Flags().String("mongo-uri", "", "MongoDB connection string of the WFCatalog")
	cobra.CheckErr(viper.BindPFlag("catalog.mongo_uri", checkCmd.Flags().Lookup("mongo-uri")))

	checkCmd.Flags().String("catalog-dsn", "", "Connection string or file of the SQL catalog mirror")
	cobra.CheckErr(viper.BindPFlag("catalog.dsn", checkCmd.Flags().Lookup("catalog-dsn")))

	rootCmd.AddCommand(checkCmd)
}

func openCatalog(ctx context.Context, cfg config.CatalogConfig) (catalog.Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		store, err := mongostore.Open(ctx, cfg.MongoURI, cfg.Database, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("opening WFCatalog: %w", err)
		}
		return store, nil
	default:
		store, err := sqlcatalog.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening SQL catalog: %w", err)
		}
		return store, nil
	}
}

func printSummary(cmd *cobra.Command, report consistency.Report, resultsPath string) {
	out := cmd.OutOrStdout()
	rows := [][]string{{"TABLE", "ROWS"}}
	for _, t := range model.Tables {
		rows = append(rows, []string{string(t), humanize.Comma(int64(report.Counts[t]))})
	}
	output.Table(out, rows)
	fmt.Fprintln(out)

	if n := report.Counts[model.RemoveFromCatalog]; n > 0 {
		fmt.Fprintf(out, "Catalog removals: %s orphaned, %s absent from archive\n",
			humanize.Comma(int64(report.Reasons[model.ReasonOrphaned])),
			humanize.Comma(int64(report.Reasons[model.ReasonAbsent])))
	}
	fmt.Fprintf(out, "Files scanned:    %s (%s malformed names, %s skipped)\n",
		humanize.Comma(int64(report.Scan.Files)),
		humanize.Comma(int64(report.Scan.Malformed)),
		humanize.Comma(int64(report.Scan.Skipped)))
	fmt.Fprintf(out, "Reference sets:   %s channels, %s catalog entries\n",
		humanize.Comma(int64(report.MetadataChannels)),
		humanize.Comma(int64(report.CatalogEntries)))
	if report.BytesHashed > 0 {
		fmt.Fprintf(out, "Checksummed:      %s\n", humanize.IBytes(uint64(report.BytesHashed)))
	}
	fmt.Fprintf(out, "Duration:         %s\n", report.Duration.Round(time.Millisecond))

	if len(report.Errors) > 0 {
		output.Warning(cmd.ErrOrStderr(), "%d files could not be checked, first: %v", len(report.Errors), report.Errors[0])
	}
	output.Success(out, "results %s written to %s", report.ID, resultsPath)
}

type summary struct {
	ID               string         `json:"id"`
	Results          string         `json:"results"`
	Counts           map[string]int `json:"counts"`
	Reasons          map[string]int `json:"removal_reasons"`
	Files            int            `json:"files"`
	Malformed        int            `json:"malformed"`
	Skipped          int            `json:"skipped"`
	FileErrors       []string       `json:"file_errors,omitempty"`
	MetadataChannels int            `json:"metadata_channels"`
	CatalogEntries   int            `json:"catalog_entries"`
	BytesHashed      int64          `json:"bytes_hashed"`
	DurationSeconds  float64        `json:"duration_seconds"`
}

func summaryJSON(report consistency.Report, resultsPath string) summary {
	s := summary{
		ID:               report.ID.String(),
		Results:          resultsPath,
		Counts:           make(map[string]int, len(report.Counts)),
		Reasons:          make(map[string]int, len(report.Reasons)),
		Files:            report.Scan.Files,
		Malformed:        report.Scan.Malformed,
		Skipped:          report.Scan.Skipped,
		MetadataChannels: report.MetadataChannels,
		CatalogEntries:   report.CatalogEntries,
		BytesHashed:      report.BytesHashed,
		DurationSeconds:  report.Duration.Seconds(),
	}
	for t, n := range report.Counts {
		s.Counts[string(t)] = n
	}
	for r, n := range report.Reasons {
		s.Reasons[string(r)] = n
	}
	for _, fe := range report.Errors {
		s.FileErrors = append(s.FileErrors, fe.Error())
	}
	return s
}
