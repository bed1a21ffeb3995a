// Package mongo is a storage engine on MongoDB. Conditional puts map to
// filtered ReplaceOne / InsertOne so the check is atomic server-side.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config configures the mongo engine.
type Config struct {
	URI                  string `yaml:"uri"`
	DatabaseName         string `yaml:"database_name"`
	DocumentCollection   string `yaml:"document_collection"`
	CollectionCollection string `yaml:"collection_collection"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		URI:                  "mongodb://localhost:27017",
		DatabaseName:         "docstore",
		DocumentCollection:   "documents",
		CollectionCollection: "collections",
	}
}

type engine struct {
	provider    *Provider
	docs        *mongo.Collection
	collections *mongo.Collection
}

// NewEngine wraps an open provider and ensures indexes.
func NewEngine(ctx context.Context, provider *Provider, cfg Config) (types.Engine, error) {
	defaults := DefaultConfig()
	if cfg.DocumentCollection == "" {
		cfg.DocumentCollection = defaults.DocumentCollection
	}
	if cfg.CollectionCollection == "" {
		cfg.CollectionCollection = defaults.CollectionCollection
	}
	db := provider.Database()
	e := &engine{
		provider:    provider,
		docs:        db.Collection(cfg.DocumentCollection),
		collections: db.Collection(cfg.CollectionCollection),
	}
	if err := e.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return e, nil
}

func (e *engine) ensureIndexes(ctx context.Context) error {
	_, err := e.docs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "collection", Value: 1},
			{Key: "deleted", Value: 1},
			{Key: "partition", Value: 1},
			{Key: "doc_id", Value: 1},
		},
	})
	return err
}

func (e *engine) Get(ctx context.Context, loc types.Location) (*types.StoredDoc, error) {
	var doc types.StoredDoc
	err := e.docs.FindOne(ctx, bson.M{"_id": types.StorageID(loc)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (e *engine) Put(ctx context.Context, doc *types.StoredDoc, cond types.Condition) (types.ShardInfo, error) {
	stored := *doc
	stored.StorageID = types.StorageID(doc.Location())

	if cond.Expected == nil {
		_, err := e.docs.InsertOne(ctx, &stored)
		if mongo.IsDuplicateKeyError(err) {
			return types.ShardInfo{}, types.ErrPreconditionFailed
		}
		if err != nil {
			return types.ShardInfo{}, err
		}
		return types.SingleCopy(), nil
	}

	filter := bson.M{
		"_id":          stored.StorageID,
		"seq_no":       cond.Expected.SeqNo,
		"primary_term": cond.Expected.PrimaryTerm,
	}
	result, err := e.docs.ReplaceOne(ctx, filter, &stored)
	if err != nil {
		return types.ShardInfo{}, err
	}
	if result.MatchedCount == 0 {
		return types.ShardInfo{}, types.ErrPreconditionFailed
	}
	return types.SingleCopy(), nil
}

func (e *engine) Scan(ctx context.Context, req types.ScanRequest) ([]*types.StoredDoc, error) {
	filter := bson.M{
		"collection": req.Collection,
		"deleted":    false,
	}
	if len(req.Partitions) > 0 {
		filter["partition"] = bson.M{"$in": req.Partitions}
	}
	if req.After != nil {
		filter["$or"] = bson.A{
			bson.M{"partition": bson.M{"$gt": req.After.Partition}},
			bson.M{"partition": req.After.Partition, "doc_id": bson.M{"$gt": req.After.ID}},
		}
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "partition", Value: 1}, {Key: "doc_id", Value: 1}})
	if req.Limit > 0 {
		findOptions.SetLimit(int64(req.Limit))
	}

	cursor, err := e.docs.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []*types.StoredDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (e *engine) Count(ctx context.Context, collection string) (int64, error) {
	return e.docs.CountDocuments(ctx, bson.M{"collection": collection, "deleted": false})
}

func (e *engine) PutCollection(ctx context.Context, meta types.CollectionMeta) error {
	_, err := e.collections.ReplaceOne(ctx, bson.M{"_id": meta.Name}, meta, options.Replace().SetUpsert(true))
	return err
}

func (e *engine) Collections(ctx context.Context) ([]types.CollectionMeta, error) {
	cursor, err := e.collections.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []types.CollectionMeta
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *engine) Close(ctx context.Context) error {
	return e.provider.Close(ctx)
}
