package consistency

import (
	"context"
	"fmt"
	"runtime"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eida/wfcc/internal/bettererrgroup"
	"github.com/eida/wfcc/pkg/bus"
	"github.com/eida/wfcc/pkg/bus/events"
	"github.com/eida/wfcc/pkg/consistency/catalog"
	"github.com/eida/wfcc/pkg/consistency/checksum"
	"github.com/eida/wfcc/pkg/consistency/engine"
	"github.com/eida/wfcc/pkg/consistency/metadata"
	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/results"
	"github.com/eida/wfcc/pkg/consistency/scans"
	"github.com/eida/wfcc/pkg/consistency/types"
)

var (
	log    = logging.Logger("consistency")
	tracer = otel.Tracer("consistency")
)

// SinkOpener returns a fresh Sink for one run.
type SinkOpener func(ctx context.Context) (results.Sink, error)

// Params are the parameters of a single consistency run.
type Params struct {
	YearStart    int
	YearEnd      int
	Excluded     model.NetworkSet
	Checksum     bool
	StrictEpochs bool
}

func (p Params) validate() error {
	if p.YearStart <= 0 {
		return types.ConfigError{Field: "start year", Reason: fmt.Sprintf("%d is not a valid year", p.YearStart)}
	}
	if p.YearEnd <= 0 {
		return types.ConfigError{Field: "end year", Reason: fmt.Sprintf("%d is not a valid year", p.YearEnd)}
	}
	if p.YearStart > p.YearEnd {
		return types.ConfigError{Field: "year range", Reason: fmt.Sprintf("start %d is after end %d", p.YearStart, p.YearEnd)}
	}
	return nil
}

// Report summarizes a persisted run.
type Report struct {
	ID               results.ResultID
	Counts           map[model.Table]int
	Reasons          map[model.RemovalReason]int
	Errors           types.FileErrors
	Scan             scans.Stats
	MetadataChannels int
	CatalogEntries   int
	BytesHashed      int64
	StartedAt        time.Time
	Duration         time.Duration
}

// Rows is the total number of persisted rows.
func (r Report) Rows() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}

// API runs consistency checks of an archive against station metadata and
// the waveform catalog.
type API struct {
	Scanner  scans.Scanner
	Metadata metadata.Fetcher
	Catalog  catalog.Store
	OpenSink SinkOpener
	Workers  int
	Bus      bus.Publisher
}

type Option func(*API)

func WithWorkers(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.Workers = n
		}
	}
}

func WithEventBus(b bus.Publisher) Option {
	return func(a *API) {
		a.Bus = b
	}
}

// WithResultsPath persists results to a SQLite artifact at path.
func WithResultsPath(path string) Option {
	return func(a *API) {
		a.OpenSink = func(ctx context.Context) (results.Sink, error) {
			return results.OpenSQLite(ctx, path)
		}
	}
}

func NewAPI(scanner scans.Scanner, fetcher metadata.Fetcher, store catalog.Store, opts ...Option) API {
	api := API{
		Scanner:  scanner,
		Metadata: fetcher,
		Catalog:  store,
		Workers:  runtime.NumCPU(),
		Bus:      bus.NoopBus{},
	}
	WithResultsPath(results.DefaultFileName)(&api)
	for _, opt := range opts {
		opt(&api)
	}
	return api
}

// Run prepares the metadata and catalog indexes, classifies every archive
// file of the requested years and persists the result. Configuration and
// source errors abort the run before anything is written.
func (a API) Run(ctx context.Context, p Params) (Report, error) {
	ctx, span := tracer.Start(ctx, "consistency-run", trace.WithAttributes(
		attribute.Int("run.year_start", p.YearStart),
		attribute.Int("run.year_end", p.YearEnd),
		attribute.StringSlice("run.excluded", p.Excluded.Sorted()),
		attribute.Bool("run.checksum", p.Checksum),
		attribute.Bool("run.strict_epochs", p.StrictEpochs),
	))
	defer span.End()

	started := time.Now()
	if err := p.validate(); err != nil {
		return Report{}, err
	}

	a.phase(events.PhaseIndexing, false)
	meta, cat, err := a.prepare(ctx, p)
	if err != nil {
		return Report{}, err
	}
	a.phase(events.PhaseIndexing, true)

	engineOpts := []engine.Option{
		engine.WithWorkers(a.Workers),
		engine.WithEventBus(a.Bus),
	}
	if p.Checksum {
		engineOpts = append(engineOpts, engine.WithVerifier(checksum.NewMD5(a.Scanner.Fs)))
	}

	var scanStats scans.Stats
	source := func(ctx context.Context, cb func(model.ParsedFile) error) error {
		stats, err := a.Scanner.Scan(ctx, scans.Params{
			YearStart: p.YearStart,
			YearEnd:   p.YearEnd,
			Excluded:  p.Excluded,
		}, cb)
		scanStats = stats
		return err
	}

	a.phase(events.PhaseScanning, false)
	class, err := engine.New(engineOpts...).Run(ctx, source, meta, cat)
	if err != nil {
		return Report{}, err
	}
	a.phase(events.PhaseScanning, true)

	a.phase(events.PhasePersist, false)
	sink, err := a.OpenSink(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("opening result sink: %w", err)
	}
	id, err := results.Persist(ctx, sink, class, results.RunInfo{
		StartedAt:    started,
		FinishedAt:   time.Now(),
		YearStart:    p.YearStart,
		YearEnd:      p.YearEnd,
		Excluded:     p.Excluded.Sorted(),
		Checksum:     p.Checksum,
		StrictEpochs: p.StrictEpochs,
		Files:        class.Scanned,
		FileErrors:   len(class.Errors),
	})
	if err != nil {
		return Report{}, err
	}
	a.phase(events.PhasePersist, true)

	report := Report{
		ID:               id,
		Counts:           make(map[model.Table]int, len(model.Tables)),
		Reasons:          class.ReasonCounts(),
		Errors:           class.Errors,
		Scan:             scanStats,
		MetadataChannels: meta.Len(),
		CatalogEntries:   cat.Len(),
		BytesHashed:      class.BytesHashed,
		StartedAt:        started,
		Duration:         time.Since(started),
	}
	for _, t := range model.Tables {
		report.Counts[t] = class.Count(t)
	}
	span.SetAttributes(attribute.String("run.result_id", id.String()))
	log.Infow("consistency run finished", "id", id, "rows", report.Rows(), "file_errors", len(report.Errors), "duration", report.Duration)
	return report, nil
}

// prepare checks the archive root and builds both reference indexes
// concurrently. The first failure cancels the others.
func (a API) prepare(ctx context.Context, p Params) (*metadata.Index, *catalog.Index, error) {
	var (
		meta *metadata.Index
		cat  *catalog.Index
	)
	var metaOpts []metadata.Option
	if p.StrictEpochs {
		metaOpts = append(metaOpts, metadata.WithStrictEpochs())
	}

	eg, egCtx := bettererrgroup.WithContext(ctx)
	eg.Go("archive-root", a.Scanner.CheckRoot)
	eg.Go("metadata-index", func() error {
		idx, err := metadata.Build(egCtx, a.Metadata, p.Excluded, metaOpts...)
		if err != nil {
			return err
		}
		meta = idx
		return nil
	})
	eg.Go("catalog-index", func() error {
		idx, err := catalog.Build(egCtx, a.Catalog, catalog.Query{
			YearStart: p.YearStart,
			YearEnd:   p.YearEnd,
			Excluded:  p.Excluded,
		})
		if err != nil {
			return err
		}
		cat = idx
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return meta, cat, nil
}

func (a API) phase(p events.Phase, done bool) {
	a.Bus.Publish(events.TopicPhase, events.PhaseView{Phase: p, Done: done, At: time.Now()})
}
