package catalog

import (
	"context"
	"iter"
	"maps"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/types"
)

var (
	log    = logging.Logger("consistency/catalog")
	tracer = otel.Tracer("consistency/catalog")
)

// Query selects the catalog records of a year range, minus excluded
// networks.
type Query struct {
	YearStart int
	YearEnd   int
	Excluded  model.NetworkSet
}

// Window returns the first and last instant covered by the query, matching
// how daily stream timestamps are stored.
func (q Query) Window() (time.Time, time.Time) {
	start := time.Date(q.YearStart, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(q.YearEnd, time.December, 31, 23, 59, 59, 999999000, time.UTC)
	return start, end
}

// Record is what a Store returns for one daily stream: the most recent file
// name, its checksum and when it was cataloged.
type Record struct {
	FileName string
	Checksum []byte
	Created  time.Time
}

// Store is a queryable WFCatalog backend.
type Store interface {
	Records(ctx context.Context, q Query, cb func(Record) error) error
	Close(ctx context.Context) error
}

// Index holds the catalog entries of the checked window keyed by identity.
type Index struct {
	entries map[model.FileIdentity]model.CatalogEntry
}

// NewIndex builds an index from entries directly. When two entries share an
// identity the most recently added one wins.
func NewIndex(entries ...model.CatalogEntry) *Index {
	idx := &Index{entries: make(map[model.FileIdentity]model.CatalogEntry, len(entries))}
	for _, e := range entries {
		idx.add(e)
	}
	return idx
}

func (idx *Index) add(e model.CatalogEntry) {
	if prev, ok := idx.entries[e.Identity]; ok && prev.AddedAt.After(e.AddedAt) {
		return
	}
	idx.entries[e.Identity] = e
}

// Build queries s and indexes every record whose file name parses and whose
// network is not excluded. A store failure is returned as a fatal
// SourceError.
func Build(ctx context.Context, s Store, q Query) (*Index, error) {
	ctx, span := tracer.Start(ctx, "build-catalog-index")
	defer span.End()

	idx := NewIndex()
	var malformed, excluded int
	err := s.Records(ctx, q, func(r Record) error {
		id, err := model.ParseFileName(r.FileName)
		if err != nil {
			log.Debugw("skipping catalog record with malformed file name", "file", r.FileName, "err", err)
			malformed++
			return nil
		}
		if q.Excluded.Contains(id.Network) {
			excluded++
			return nil
		}
		idx.add(model.CatalogEntry{
			Identity: id,
			FileName: r.FileName,
			Checksum: r.Checksum,
			AddedAt:  r.Created,
		})
		return nil
	})
	if err != nil {
		return nil, types.SourceError{Source: "catalog", Err: err}
	}

	span.SetAttributes(attribute.Int("catalog.entries", idx.Len()))
	if malformed > 0 {
		log.Warnw("skipped catalog records with malformed file names", "count", malformed)
	}
	log.Infow("indexed catalog", "entries", idx.Len(), "excluded", excluded)
	return idx, nil
}

func (idx *Index) Contains(id model.FileIdentity) bool {
	_, ok := idx.entries[id]
	return ok
}

func (idx *Index) Entry(id model.FileIdentity) (model.CatalogEntry, bool) {
	e, ok := idx.entries[id]
	return e, ok
}

func (idx *Index) Len() int {
	return len(idx.entries)
}

// All iterates over the indexed entries in no particular order.
func (idx *Index) All() iter.Seq2[model.FileIdentity, model.CatalogEntry] {
	return maps.All(idx.entries)
}
