package engine

import (
	"context"
	"fmt"
	"iter"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eida/wfcc/internal/bettererrgroup"
	"github.com/eida/wfcc/pkg/bus"
	"github.com/eida/wfcc/pkg/bus/events"
	"github.com/eida/wfcc/pkg/consistency/checksum"
	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/types"
)

var (
	log    = logging.Logger("consistency/engine")
	tracer = otel.Tracer("consistency/engine")
)

const progressInterval = 1000

// SourceFunc streams archive files to cb, one at a time.
type SourceFunc func(ctx context.Context, cb func(model.ParsedFile) error) error

// MetadataLookup tells whether station metadata describes an identity.
type MetadataLookup interface {
	HasMetadata(id model.FileIdentity) bool
}

// CatalogLookup gives access to the catalog entries of the checked window.
type CatalogLookup interface {
	Entry(id model.FileIdentity) (model.CatalogEntry, bool)
	All() iter.Seq2[model.FileIdentity, model.CatalogEntry]
}

// Engine classifies archive files against metadata and the catalog.
type Engine struct {
	verifier checksum.Verifier
	workers  int
	bus      bus.Publisher
}

type Option func(*Engine)

// WithVerifier sets the checksum strategy. Without it checksums are not
// compared.
func WithVerifier(v checksum.Verifier) Option {
	return func(e *Engine) {
		e.verifier = v
	}
}

// WithWorkers bounds the number of files classified concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithEventBus(b bus.Publisher) Option {
	return func(e *Engine) {
		e.bus = b
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		verifier: checksum.Noop{},
		workers:  runtime.NumCPU(),
		bus:      bus.NoopBus{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// partition is the private state of one worker. Partitions are merged once
// every worker is done, so classification needs no locking.
type partition struct {
	class *model.Classification
	seen  map[model.FileIdentity]struct{}
}

// Run makes a single pass over source, classifying every file, then reports
// catalog entries that no archive file accounted for. Per-file failures are
// recorded in the classification; only source errors, worker panics and
// cancellation abort the run.
func (e *Engine) Run(ctx context.Context, source SourceFunc, meta MetadataLookup, cat CatalogLookup) (*model.Classification, error) {
	ctx, span := tracer.Start(ctx, "classify", trace.WithAttributes(
		attribute.Int("engine.workers", e.workers),
	))
	defer span.End()

	files := make(chan model.ParsedFile, e.workers*4)
	partitions := make([]*partition, e.workers)
	var classified atomic.Int64
	var hashed atomic.Int64

	eg, egCtx := bettererrgroup.WithContext(ctx)
	eg.Go("producer", func() error {
		defer close(files)
		return source(egCtx, func(f model.ParsedFile) error {
			select {
			case files <- f:
				return nil
			case <-egCtx.Done():
				return egCtx.Err()
			}
		})
	})

	for i := range partitions {
		p := &partition{
			class: model.NewClassification(),
			seen:  make(map[model.FileIdentity]struct{}),
		}
		partitions[i] = p
		eg.Go(fmt.Sprintf("worker-%d", i), func() error {
			for f := range files {
				if err := egCtx.Err(); err != nil {
					return err
				}
				before := p.class.BytesHashed
				if err := e.classify(egCtx, f, meta, cat, p); err != nil {
					return err
				}
				total := hashed.Add(p.class.BytesHashed - before)
				if n := classified.Add(1); n%progressInterval == 0 {
					e.bus.Publish(events.TopicProgress, events.ProgressView{
						Classified:  int(n),
						BytesHashed: total,
					})
				}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("classifying archive: %w", err)
	}

	result := model.NewClassification()
	seen := make(map[model.FileIdentity]struct{})
	for _, p := range partitions {
		result.Merge(p.class)
		for id := range p.seen {
			seen[id] = struct{}{}
		}
	}

	absent := 0
	for id, entry := range cat.All() {
		if _, ok := seen[id]; ok {
			continue
		}
		result.AddRemoval(model.NewRecord(id, entry.FileName), model.ReasonAbsent)
		absent++
	}

	slices.SortFunc(result.Errors, func(a, b types.FileError) int {
		return strings.Compare(a.Path, b.Path)
	})

	e.bus.Publish(events.TopicProgress, events.ProgressView{
		Classified:  result.Scanned,
		BytesHashed: result.BytesHashed,
	})
	span.SetAttributes(
		attribute.Int("engine.files", result.Scanned),
		attribute.Int("engine.rows", result.Total()),
		attribute.Int("engine.file_errors", len(result.Errors)),
	)
	log.Infow("classification complete",
		"files", result.Scanned,
		"rows", result.Total(),
		"absent_from_archive", absent,
		"file_errors", len(result.Errors),
	)
	return result, nil
}

func (e *Engine) classify(ctx context.Context, f model.ParsedFile, meta MetadataLookup, cat CatalogLookup, p *partition) error {
	class := p.class
	class.Scanned++

	if f.Identity == nil {
		class.Add(model.InappropriateNaming, model.NamingRecord(f.Name))
		e.publish(f, model.InappropriateNaming)
		return nil
	}
	id := *f.Identity

	entry, inCatalog := cat.Entry(id)
	if inCatalog {
		p.seen[id] = struct{}{}
	}

	if !meta.HasMetadata(id) {
		class.Add(model.InconsistentMetadata, model.NewRecord(id, f.Name))
		if inCatalog {
			class.AddRemoval(model.NewRecord(id, f.Path), model.ReasonOrphaned)
			e.publish(f, model.InconsistentMetadata, model.RemoveFromCatalog)
			return nil
		}
		e.publish(f, model.InconsistentMetadata)
		return nil
	}

	if !inCatalog {
		class.Add(model.MissingInCatalog, model.NewRecord(id, f.Path))
		e.publish(f, model.MissingInCatalog)
		return nil
	}

	var tables []model.Table
	res, err := e.verifier.Verify(ctx, f.Path, entry.Checksum)
	class.BytesHashed += res.Bytes
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Warnw("checksum failed, skipping checksum comparison", "path", f.Path, "err", err)
		class.AddError(types.FileError{Path: f.Path, Op: "checksum", Err: err})
	case res.Checked && !res.Match:
		class.Add(model.InconsistentChecksum, model.NewRecord(id, f.Path))
		tables = append(tables, model.InconsistentChecksum)
	}

	if f.ModTime.After(entry.AddedAt) {
		class.Add(model.OlderDate, model.NewRecord(id, f.Path))
		tables = append(tables, model.OlderDate)
	}
	e.publish(f, tables...)
	return nil
}

func (e *Engine) publish(f model.ParsedFile, tables ...model.Table) {
	if len(tables) == 0 {
		return
	}
	e.bus.Publish(events.TopicFile, events.FileView{Path: f.Path, Tables: tables})
}
