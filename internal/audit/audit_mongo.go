package audit

import (
	"context"
	"errors"
	"time"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "audit_log"

var errMalformedDocument = errors.New("malformed audit document")

type mongoEntry struct {
	EntryID   string            `bson:"_id"`
	Time      time.Time         `bson:"time"`
	Kind      string            `bson:"event_type"`
	Actor     string            `bson:"actor"`
	AdminID   *int64            `bson:"initiator"`
	AdminName string            `bson:"admin_name"`
	Target    string            `bson:"target"`
	Message   string            `bson:"message"`
	Detail    map[string]string `bson:"detail"`
}

type MongoRepository struct {
	db *database.Mongo
}

func NewMongoRepository(db *database.Mongo) MongoRepository {
	return MongoRepository{db: db}
}

func (r MongoRepository) Init(ctx context.Context) error {
	return r.db.EnsureIndexes(ctx, collectionName,
		mongo.IndexModel{Keys: bson.D{{Key: "time", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "event_type", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "initiator", Value: 1}}},
	)
}

func (r MongoRepository) collection() *mongo.Collection {
	return r.db.Collection(collectionName)
}

func (r MongoRepository) Insert(ctx context.Context, entry Entry) error {
	_, errInsert := r.collection().InsertOne(ctx, mongoEntry{
		EntryID:   entry.EntryID.String(),
		Time:      entry.Time,
		Kind:      string(entry.Kind),
		Actor:     entry.Actor,
		AdminID:   entry.AdminID,
		AdminName: entry.AdminName,
		Target:    entry.Target,
		Message:   entry.Message,
		Detail:    entry.Detail,
	})

	return database.MongoErr(errInsert)
}

func filter(q Query) bson.M {
	doc := bson.M{}

	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for idx, kind := range q.Kinds {
			kinds[idx] = string(kind)
		}

		doc["event_type"] = bson.M{"$in": kinds}
	}

	if q.AdminID != nil {
		doc["initiator"] = *q.AdminID
	}

	if q.Since != nil {
		doc["time"] = bson.M{"$gte": *q.Since}
	}

	return doc
}

func (r MongoRepository) Find(ctx context.Context, q Query) ([]Entry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "time", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(q.Offset)).                      //nolint:gosec
		SetLimit(int64(q.CappedLimit(maxListResults))) //nolint:gosec

	cursor, errFind := r.collection().Find(ctx, filter(q), opts)
	if errFind != nil {
		return nil, database.MongoErr(errFind)
	}

	var docs []mongoEntry
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, database.MongoErr(errAll)
	}

	entries := make([]Entry, 0, len(docs))

	for _, doc := range docs {
		entryID, errID := uuid.FromString(doc.EntryID)
		if errID != nil {
			return nil, errors.Join(errID, errMalformedDocument)
		}

		entries = append(entries, Entry{
			EntryID:   entryID,
			Time:      doc.Time.UTC(),
			Kind:      Kind(doc.Kind),
			Actor:     doc.Actor,
			AdminID:   doc.AdminID,
			AdminName: doc.AdminName,
			Target:    doc.Target,
			Message:   doc.Message,
			Detail:    doc.Detail,
		})
	}

	return entries, nil
}

func (r MongoRepository) Count(ctx context.Context, q Query) (int64, error) {
	count, errCount := r.collection().CountDocuments(ctx, filter(q))
	if errCount != nil {
		return 0, database.MongoErr(errCount)
	}

	return count, nil
}

func (r MongoRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	result, errDelete := r.collection().DeleteMany(ctx, bson.M{"time": bson.M{"$lt": olderThan}})
	if errDelete != nil {
		return 0, database.MongoErr(errDelete)
	}

	return result.DeletedCount, nil
}
