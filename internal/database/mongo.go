package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var ErrMongoConnect = errors.New("could not connect to mongodb")

// Mongo is the document store alternative to the postgres Database.
type Mongo struct {
	uri    string
	name   string
	client *mongo.Client
	db     *mongo.Database
}

func NewMongo(uri string, name string) *Mongo {
	return &Mongo{uri: uri, name: name}
}

func (m *Mongo) Connect(ctx context.Context) error {
	client, errConnect := mongo.Connect(ctx, options.Client().
		ApplyURI(m.uri).
		SetAppName("gflbans").
		SetServerSelectionTimeout(10*time.Second))
	if errConnect != nil {
		return errors.Join(errConnect, ErrMongoConnect)
	}

	if errPing := client.Ping(ctx, readpref.Primary()); errPing != nil {
		return errors.Join(errPing, ErrMongoConnect)
	}

	m.client = client
	m.db = client.Database(m.name)

	return nil
}

func (m *Mongo) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// EnsureIndexes creates the given indexes on a collection. Existing identical indexes are left alone.
func (m *Mongo) EnsureIndexes(ctx context.Context, collection string, indexes ...mongo.IndexModel) error {
	if len(indexes) == 0 {
		return nil
	}

	if _, err := m.Collection(collection).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", collection, MongoErr(err))
	}

	return nil
}

// Truncate removes every document of every collection. Indexes are kept.
func (m *Mongo) Truncate(ctx context.Context) error {
	names, errNames := m.db.ListCollectionNames(ctx, bson.D{})
	if errNames != nil {
		return MongoErr(errNames)
	}

	for _, name := range names {
		if _, err := m.Collection(name).DeleteMany(ctx, bson.D{}); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", name, MongoErr(err))
		}
	}

	return nil
}

func (m *Mongo) Close() error {
	if m.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.client.Disconnect(ctx) //nolint:wrapcheck
}

// MongoErr maps driver errors onto the shared sentinel errors.
func MongoErr(rootError error) error {
	if rootError == nil {
		return nil
	}

	if errors.Is(rootError, mongo.ErrNoDocuments) {
		return ErrNoResult
	}

	if mongo.IsDuplicateKeyError(rootError) {
		return ErrDuplicate
	}

	return rootError
}
