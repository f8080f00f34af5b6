package rpc

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

const collectionName = "rpc"

var errMalformedEvent = errors.New("malformed event document")

// mongoEvent keeps the payload as a sub document so events stay readable from the mongo shell.
type mongoEvent struct {
	ID             string    `bson:"_id"`
	Time           time.Time `bson:"time"`
	Target         *string   `bson:"target"`
	AcknowledgedBy []string  `bson:"acknowledged_by"`
	Event          string    `bson:"event"`
	Payload        bson.D    `bson:"payload"`
}

func toMongoEvent(event Event) (mongoEvent, error) {
	var payload bson.D
	if errPayload := bson.UnmarshalExtJSON(event.Payload, false, &payload); errPayload != nil {
		return mongoEvent{}, errors.Join(errPayload, ErrInvalidEvent)
	}

	doc := mongoEvent{
		ID:             event.EventID.String(),
		Time:           event.CreatedAt,
		AcknowledgedBy: make([]string, len(event.AcknowledgedBy)),
		Event:          string(event.Type),
		Payload:        payload,
	}

	if event.Target != nil {
		target := event.Target.String()
		doc.Target = &target
	}

	for idx, serverID := range event.AcknowledgedBy {
		doc.AcknowledgedBy[idx] = serverID.String()
	}

	return doc, nil
}

func (doc mongoEvent) event() (Event, error) {
	eventID, errID := uuid.FromString(doc.ID)
	if errID != nil {
		return Event{}, errors.Join(errID, errMalformedEvent)
	}

	payload, errPayload := bson.MarshalExtJSON(doc.Payload, false, false)
	if errPayload != nil {
		return Event{}, errors.Join(errPayload, errMalformedEvent)
	}

	event := Event{
		EventID:        eventID,
		CreatedAt:      doc.Time,
		AcknowledgedBy: make([]uuid.UUID, 0, len(doc.AcknowledgedBy)),
		Type:           EventType(doc.Event),
		Payload:        payload,
	}

	if doc.Target != nil {
		target, errTarget := uuid.FromString(*doc.Target)
		if errTarget != nil {
			return Event{}, errors.Join(errTarget, errMalformedEvent)
		}

		event.Target = &target
	}

	for _, value := range doc.AcknowledgedBy {
		serverID, errServer := uuid.FromString(value)
		if errServer != nil {
			return Event{}, errors.Join(errServer, errMalformedEvent)
		}

		event.AcknowledgedBy = append(event.AcknowledgedBy, serverID)
	}

	return event, nil
}

type MongoRepository struct {
	db *database.Mongo
}

func NewMongoRepository(db *database.Mongo) MongoRepository {
	return MongoRepository{db: db}
}

func (r MongoRepository) Init(ctx context.Context) error {
	return r.db.EnsureIndexes(ctx, collectionName,
		mongo.IndexModel{Keys: bson.D{{Key: "target", Value: 1}, {Key: "time", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "time", Value: 1}}},
	)
}

func (r MongoRepository) collection() *mongo.Collection {
	return r.db.Collection(collectionName)
}

func (r MongoRepository) Insert(ctx context.Context, event Event) error {
	doc, errDoc := toMongoEvent(event)
	if errDoc != nil {
		return errDoc
	}

	_, errInsert := r.collection().InsertOne(ctx, doc)

	return database.MongoErr(errInsert)
}

func (r MongoRepository) Get(ctx context.Context, eventID uuid.UUID) (Event, error) {
	var doc mongoEvent
	if errFind := r.collection().FindOne(ctx, bson.M{"_id": eventID.String()}).Decode(&doc); errFind != nil {
		return Event{}, database.MongoErr(errFind)
	}

	return doc.event()
}

func (r MongoRepository) find(ctx context.Context, filter bson.M, limit uint64) ([]Event, error) {
	cursor, errFind := r.collection().Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "time", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))) //nolint:gosec
	if errFind != nil {
		return nil, database.MongoErr(errFind)
	}

	var docs []mongoEvent
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, database.MongoErr(errAll)
	}

	events := make([]Event, 0, len(docs))

	for _, doc := range docs {
		event, errEvent := doc.event()
		if errEvent != nil {
			return nil, errEvent
		}

		events = append(events, event)
	}

	return events, nil
}

func (r MongoRepository) Targeted(ctx context.Context, serverID uuid.UUID, limit uint64) ([]Event, error) {
	return r.find(ctx, bson.M{"target": serverID.String()}, limit)
}

func (r MongoRepository) Broadcasts(ctx context.Context, serverID uuid.UUID, limit uint64) ([]Event, error) {
	return r.find(ctx, bson.M{"target": nil, "acknowledged_by": bson.M{"$ne": serverID.String()}}, limit)
}

func (r MongoRepository) Delete(ctx context.Context, eventID uuid.UUID) error {
	result, errDelete := r.collection().DeleteOne(ctx, bson.M{"_id": eventID.String()})
	if errDelete != nil {
		return database.MongoErr(errDelete)
	}

	if result.DeletedCount == 0 {
		return database.ErrNoResult
	}

	return nil
}

func (r MongoRepository) Acknowledge(ctx context.Context, eventID uuid.UUID, serverID uuid.UUID) (bool, error) {
	result, errUpdate := r.collection().UpdateOne(ctx,
		bson.M{"_id": eventID.String(), "target": nil, "acknowledged_by": bson.M{"$ne": serverID.String()}},
		bson.M{"$addToSet": bson.M{"acknowledged_by": serverID.String()}})
	if errUpdate != nil {
		return false, database.MongoErr(errUpdate)
	}

	return result.ModifiedCount > 0, nil
}

func (r MongoRepository) Purge(ctx context.Context, olderThan time.Time, serverIDs []uuid.UUID) (int64, error) {
	clauses := bson.A{bson.M{"time": bson.M{"$lt": olderThan}}}

	if len(serverIDs) > 0 {
		ids := make(bson.A, len(serverIDs))
		for idx, serverID := range serverIDs {
			ids[idx] = serverID.String()
		}

		clauses = append(clauses, bson.M{"target": nil, "acknowledged_by": bson.M{"$all": ids}})
	}

	result, errDelete := r.collection().DeleteMany(ctx, bson.M{"$or": clauses})
	if errDelete != nil {
		return 0, database.MongoErr(errDelete)
	}

	return result.DeletedCount, nil
}
