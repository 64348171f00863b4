package metadata

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/eida/wfcc/pkg/consistency/model"
	"github.com/eida/wfcc/pkg/consistency/types"
)

var (
	log    = logging.Logger("consistency/metadata")
	tracer = otel.Tracer("consistency/metadata")
)

// ErrEmptyInventory is returned when the station service lists no channel
// outside the excluded networks. Running against an empty inventory would
// report every archive file as lacking metadata.
var ErrEmptyInventory = errors.New("station inventory is empty")

// Fetcher streams channel epochs from a metadata source.
type Fetcher interface {
	Channels(ctx context.Context, cb func(model.MetadataEntry) error) error
}

// Index is the in-memory set of channels known to station metadata. Each
// channel keeps its epochs so that lookups can optionally require the file
// day to fall inside one of them.
type Index struct {
	channels     map[model.ChannelKey][]model.Epoch
	strictEpochs bool
}

type config struct {
	strictEpochs bool
}

type Option func(*config)

// WithStrictEpochs makes HasMetadata require the file day to fall within one
// of the channel's epochs, not just the channel to exist.
func WithStrictEpochs() Option {
	return func(c *config) {
		c.strictEpochs = true
	}
}

// NewIndex builds an index from entries directly.
func NewIndex(entries []model.MetadataEntry, opts ...Option) *Index {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	idx := &Index{
		channels:     make(map[model.ChannelKey][]model.Epoch, len(entries)),
		strictEpochs: cfg.strictEpochs,
	}
	for _, e := range entries {
		idx.add(e)
	}
	return idx
}

func (idx *Index) add(e model.MetadataEntry) {
	idx.channels[e.ChannelKey] = append(idx.channels[e.ChannelKey], e.Epoch)
}

// Build fetches the inventory from f and indexes every channel outside the
// excluded networks. Any fetch failure is returned as a fatal SourceError.
func Build(ctx context.Context, f Fetcher, excluded model.NetworkSet, opts ...Option) (*Index, error) {
	ctx, span := tracer.Start(ctx, "build-metadata-index")
	defer span.End()

	idx := NewIndex(nil, opts...)
	skipped := 0
	err := f.Channels(ctx, func(e model.MetadataEntry) error {
		if excluded.Contains(e.Network) {
			skipped++
			return nil
		}
		idx.add(e)
		return nil
	})
	if err != nil {
		return nil, types.SourceError{Source: "metadata", Err: err}
	}
	if idx.Len() == 0 {
		return nil, types.SourceError{Source: "metadata", Err: ErrEmptyInventory}
	}

	span.SetAttributes(attribute.Int("metadata.channels", idx.Len()))
	log.Infow("indexed station metadata", "channels", idx.Len(), "excluded", skipped, "strict_epochs", idx.strictEpochs)
	return idx, nil
}

// Has reports whether the channel of id is known, regardless of epochs.
func (idx *Index) Has(id model.FileIdentity) bool {
	_, ok := idx.channels[id.ChannelKey()]
	return ok
}

// Covers reports whether one of the channel's epochs includes the day of id.
func (idx *Index) Covers(id model.FileIdentity) bool {
	day := id.Date()
	for _, epoch := range idx.channels[id.ChannelKey()] {
		if epoch.Contains(day) {
			return true
		}
	}
	return false
}

// HasMetadata is the lookup the engine uses. It is Has, or Covers when the
// index was built with WithStrictEpochs.
func (idx *Index) HasMetadata(id model.FileIdentity) bool {
	if idx.strictEpochs {
		return idx.Covers(id)
	}
	return idx.Has(id)
}

// Len returns the number of distinct channels.
func (idx *Index) Len() int {
	return len(idx.channels)
}
