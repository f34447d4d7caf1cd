package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrDocumentExists = errors.New("document already exists")

type SaveOptions struct {
	Overwrite bool
	Prefix    string
}

// MongoStore writes documents into one collection, keyed by an id the caller
// chooses.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

func NewMongoStore(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection(collName),
		timeout:    30 * time.Second,
	}, nil
}

// DocumentID joins the prefix and id the way stored documents are keyed.
func DocumentID(prefix, id string) string {
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Save upserts data under id. Without Overwrite an existing document is an
// ErrDocumentExists.
func (m *MongoStore) Save(ctx context.Context, id string, data any, opts ...SaveOptions) error {
	opt := SaveOptions{Overwrite: true}
	if len(opts) > 0 {
		opt = opts[0]
	}
	docID := DocumentID(opt.Prefix, id)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if !opt.Overwrite {
		err := m.collection.FindOne(ctx, bson.M{"_id": docID}).Err()
		if err == nil {
			return fmt.Errorf("%s: %w", docID, ErrDocumentExists)
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("MongoDB FindOne failed: %w", err)
		}
	}

	doc, err := toDocument(docID, data)
	if err != nil {
		return err
	}
	_, err = m.collection.ReplaceOne(ctx, bson.M{"_id": docID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

func toDocument(docID string, data any) (bson.M, error) {
	raw, err := bson.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	doc["_id"] = docID
	return doc, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
