package vpn

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "vpns"

type mongoRule struct {
	RuleID  string `bson:"_id"`
	IsASN   bool   `bson:"is_asn"`
	Payload string `bson:"payload"`
	Dubious bool   `bson:"is_dubious"`
	Cloud   bool   `bson:"is_cloud"`
	Comment string `bson:"comment"`
	AddedOn int64  `bson:"added_on"`
}

func toMongo(rule Rule) mongoRule {
	return mongoRule{
		RuleID:  rule.RuleID.String(),
		IsASN:   rule.Kind == KindASN,
		Payload: rule.Payload,
		Dubious: rule.Dubious,
		Cloud:   rule.Cloud,
		Comment: rule.Comment,
		AddedOn: rule.AddedOn.Unix(),
	}
}

func (doc mongoRule) rule() (Rule, error) {
	ruleID, errID := uuid.FromString(doc.RuleID)
	if errID != nil {
		return Rule{}, errID
	}

	kind := KindCIDR
	if doc.IsASN {
		kind = KindASN
	}

	return Rule{
		RuleID:  ruleID,
		Kind:    kind,
		Payload: doc.Payload,
		Dubious: doc.Dubious,
		Cloud:   doc.Cloud,
		Comment: doc.Comment,
		AddedOn: time.Unix(doc.AddedOn, 0).UTC(),
	}, nil
}

type MongoRepository struct {
	db *database.Mongo
}

func NewMongoRepository(db *database.Mongo) MongoRepository {
	return MongoRepository{db: db}
}

func (r MongoRepository) Init(ctx context.Context) error {
	return r.db.EnsureIndexes(ctx, collectionName,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "is_asn", Value: 1}, {Key: "payload", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		mongo.IndexModel{Keys: bson.D{{Key: "added_on", Value: 1}}},
	)
}

func (r MongoRepository) collection() *mongo.Collection {
	return r.db.Collection(collectionName)
}

func (r MongoRepository) Insert(ctx context.Context, rule Rule) error {
	_, errInsert := r.collection().InsertOne(ctx, toMongo(rule))

	return database.MongoErr(errInsert)
}

func (r MongoRepository) Get(ctx context.Context, ruleID uuid.UUID) (Rule, error) {
	var doc mongoRule
	if errFind := r.collection().FindOne(ctx, bson.M{"_id": ruleID.String()}).Decode(&doc); errFind != nil {
		return Rule{}, database.MongoErr(errFind)
	}

	return doc.rule()
}

func (r MongoRepository) Update(ctx context.Context, rule Rule) error {
	result, errReplace := r.collection().ReplaceOne(ctx, bson.M{"_id": rule.RuleID.String()}, toMongo(rule))
	if errReplace != nil {
		return database.MongoErr(errReplace)
	}

	if result.MatchedCount == 0 {
		return database.ErrNoResult
	}

	return nil
}

func (r MongoRepository) Delete(ctx context.Context, kind Kind, payload string) error {
	result, errDelete := r.collection().DeleteOne(ctx, bson.M{"is_asn": kind == KindASN, "payload": payload})
	if errDelete != nil {
		return database.MongoErr(errDelete)
	}

	if result.DeletedCount == 0 {
		return database.ErrNoResult
	}

	return nil
}

func searchFilter(search string) bson.M {
	if search == "" {
		return bson.M{}
	}

	pattern := bson.M{"$regex": regexp.QuoteMeta(search), "$options": "i"}

	return bson.M{"$or": bson.A{bson.M{"payload": pattern}, bson.M{"comment": pattern}}}
}

func (r MongoRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Rule, error) {
	cursor, errFind := r.collection().Find(ctx, filter, opts)
	if errFind != nil {
		return nil, database.MongoErr(errFind)
	}

	var docs []mongoRule
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, database.MongoErr(errAll)
	}

	rules := make([]Rule, 0, len(docs))

	for _, doc := range docs {
		rule, errDecode := doc.rule()
		if errDecode != nil {
			return nil, errDecode
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

func (r MongoRepository) Find(ctx context.Context, q ListQuery) ([]Rule, error) {
	return r.find(ctx, searchFilter(q.Search), options.Find().
		SetSort(bson.D{{Key: "added_on", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(q.Offset)).                      //nolint:gosec
		SetLimit(int64(q.CappedLimit(maxListResults)))) //nolint:gosec
}

func (r MongoRepository) Count(ctx context.Context, search string) (int64, error) {
	count, errCount := r.collection().CountDocuments(ctx, searchFilter(search))
	if errCount != nil {
		return 0, database.MongoErr(errCount)
	}

	return count, nil
}

func (r MongoRepository) ByPayload(ctx context.Context, kind Kind, payload string) (Rule, bool, error) {
	var doc mongoRule

	errFind := r.collection().FindOne(ctx, bson.M{"is_asn": kind == KindASN, "payload": payload}).Decode(&doc)
	if errFind != nil {
		if errors.Is(database.MongoErr(errFind), database.ErrNoResult) {
			return Rule{}, false, nil
		}

		return Rule{}, false, database.MongoErr(errFind)
	}

	rule, errDecode := doc.rule()

	return rule, errDecode == nil, errDecode
}

func (r MongoRepository) CIDRRules(ctx context.Context) ([]Rule, error) {
	return r.find(ctx, bson.M{"is_asn": false}, options.Find().SetSort(bson.D{{Key: "added_on", Value: 1}}))
}
