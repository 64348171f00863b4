package mongostore

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eida/wfcc/pkg/consistency/catalog"
)

var log = logging.Logger("consistency/catalog/mongostore")

const (
	DefaultDatabase   = "wfrepo"
	DefaultCollection = "daily_streams"
	connectTimeout    = 30 * time.Second
)

// Store reads the WFCatalog daily stream collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ catalog.Store = (*Store)(nil)

// Open connects to the MongoDB deployment at uri and checks it is reachable.
func Open(ctx context.Context, uri, database, collection string) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connecting to catalog: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging catalog: %w", err)
	}
	return &Store{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}, nil
}

// dailyStream is the projection of one daily_streams document.
type dailyStream struct {
	Created time.Time `bson:"created"`
	File    struct {
		Name     string `bson:"name"`
		Checksum string `bson:"chksm"`
	} `bson:"file"`
}

// Records streams the last file of every daily stream in the query window.
func (s *Store) Records(ctx context.Context, q catalog.Query, cb func(catalog.Record) error) error {
	cursor, err := s.coll.Aggregate(ctx, Pipeline(q), options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return fmt.Errorf("aggregating daily streams: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc dailyStream
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("decoding daily stream: %w", err)
		}
		checksum, err := hex.DecodeString(doc.File.Checksum)
		if err != nil {
			log.Debugw("catalog checksum is not hex", "file", doc.File.Name, "chksm", doc.File.Checksum)
			checksum = nil
		}
		if err := cb(catalog.Record{
			FileName: doc.File.Name,
			Checksum: checksum,
			Created:  doc.Created.UTC(),
		}); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("iterating daily streams: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Pipeline builds the aggregation selecting the query window and projecting
// the most recent file entry of each stream.
func Pipeline(q catalog.Query) mongo.Pipeline {
	start, end := q.Window()
	match := bson.D{
		{Key: "ts", Value: bson.D{
			{Key: "$gte", Value: start},
			{Key: "$lte", Value: end},
		}},
	}
	if len(q.Excluded) > 0 {
		match = append(match, bson.E{Key: "net", Value: bson.D{{Key: "$nin", Value: q.Excluded.Sorted()}}})
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "created", Value: 1},
			{Key: "file", Value: bson.D{{Key: "$arrayElemAt", Value: bson.A{"$files", -1}}}},
		}}},
	}
}
