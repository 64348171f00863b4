package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/eida/wfcc/pkg/consistency/model"
)

var (
	log    = logging.Logger("consistency/results")
	tracer = otel.Tracer("consistency/results")
)

// DefaultFileName is the name of the result artifact.
const DefaultFileName = "inconsistencies_results.db"

// ResultID identifies one persisted result set.
type ResultID uuid.UUID

func NewResultID() ResultID {
	return ResultID(uuid.New())
}

func (id ResultID) String() string {
	return uuid.UUID(id).String()
}

func (id ResultID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// RunInfo describes the run a result set came from.
type RunInfo struct {
	ID           ResultID
	StartedAt    time.Time
	FinishedAt   time.Time
	YearStart    int
	YearEnd      int
	Excluded     []string
	Checksum     bool
	StrictEpochs bool
	Files        int
	FileErrors   int
}

// Sink receives the rows of each result table. Nothing written to a Sink is
// visible until Commit succeeds; Abort discards everything.
type Sink interface {
	WriteInconsistentMetadata(ctx context.Context, recs []model.Record) error
	WriteMissingInCatalog(ctx context.Context, recs []model.Record) error
	WriteInconsistentChecksum(ctx context.Context, recs []model.Record) error
	WriteOlderDate(ctx context.Context, recs []model.Record) error
	WriteRemoveFromCatalog(ctx context.Context, recs []model.Record) error
	WriteInappropriateNaming(ctx context.Context, recs []model.Record) error
	Commit(ctx context.Context, info RunInfo) error
	Abort() error
}

// Persist writes every table of class to sink and commits it. On failure the
// sink is aborted, leaving any previous artifact in place.
func Persist(ctx context.Context, sink Sink, class *model.Classification, info RunInfo) (ResultID, error) {
	ctx, span := tracer.Start(ctx, "persist-results")
	defer span.End()

	if info.ID == ResultID(uuid.Nil) {
		info.ID = NewResultID()
	}
	span.SetAttributes(attribute.String("results.id", info.ID.String()))

	writers := []struct {
		table model.Table
		write func(context.Context, []model.Record) error
	}{
		{model.InconsistentMetadata, sink.WriteInconsistentMetadata},
		{model.MissingInCatalog, sink.WriteMissingInCatalog},
		{model.InconsistentChecksum, sink.WriteInconsistentChecksum},
		{model.OlderDate, sink.WriteOlderDate},
		{model.RemoveFromCatalog, sink.WriteRemoveFromCatalog},
		{model.InappropriateNaming, sink.WriteInappropriateNaming},
	}
	for _, w := range writers {
		recs := class.Records(w.table)
		if err := w.write(ctx, recs); err != nil {
			return ResultID{}, errors.Join(fmt.Errorf("writing %s: %w", w.table, err), sink.Abort())
		}
		log.Debugw("wrote result table", "table", w.table, "rows", len(recs))
	}

	if err := sink.Commit(ctx, info); err != nil {
		return ResultID{}, errors.Join(fmt.Errorf("committing results: %w", err), sink.Abort())
	}
	log.Infow("persisted results", "id", info.ID, "rows", class.Total())
	return info.ID, nil
}
