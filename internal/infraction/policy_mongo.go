package infraction

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

const policyCollectionName = "tiering_policies"

type mongoTier struct {
	Punishments []string `bson:"punishments"`
	Duration    int64    `bson:"duration"`
	Playtime    bool     `bson:"dec_online"`
}

type mongoPolicy struct {
	ID                  string      `bson:"_id"`
	Name                string      `bson:"name"`
	Server              *string     `bson:"server"`
	Tiers               []mongoTier `bson:"tiers"`
	IncludeOtherServers bool        `bson:"include_other_servers"`
	TierTTL             int64       `bson:"tier_ttl"`
	Reason              string      `bson:"default_reason"`
	Created             int64       `bson:"created"`
}

func toMongoPolicy(policy Policy) mongoPolicy {
	doc := mongoPolicy{
		ID:                  policy.PolicyID.String(),
		Name:                policy.Name,
		Tiers:               make([]mongoTier, len(policy.Tiers)),
		IncludeOtherServers: policy.IncludeOtherServers,
		TierTTL:             policy.TierTTL,
		Reason:              policy.Reason,
		Created:             policy.Created.Unix(),
	}

	if policy.ServerID != nil {
		server := policy.ServerID.String()
		doc.Server = &server
	}

	for idx, tier := range policy.Tiers {
		punishments := make([]string, len(tier.Punishments))
		for kindIdx, kind := range tier.Punishments {
			punishments[kindIdx] = string(kind)
		}

		doc.Tiers[idx] = mongoTier{Punishments: punishments, Duration: tier.Duration, Playtime: tier.Playtime}
	}

	return doc
}

func (doc mongoPolicy) policy() (Policy, error) {
	policyID, errID := uuid.FromString(doc.ID)
	if errID != nil {
		return Policy{}, errors.Join(errID, errMalformedDocument)
	}

	policy := Policy{
		PolicyID:            policyID,
		Name:                doc.Name,
		Tiers:               make([]Tier, len(doc.Tiers)),
		IncludeOtherServers: doc.IncludeOtherServers,
		TierTTL:             doc.TierTTL,
		Reason:              doc.Reason,
		Created:             time.Unix(doc.Created, 0).UTC(),
	}

	if doc.Server != nil {
		serverID, errServer := uuid.FromString(*doc.Server)
		if errServer != nil {
			return Policy{}, errors.Join(errServer, errMalformedDocument)
		}

		policy.ServerID = &serverID
	}

	for idx, tier := range doc.Tiers {
		punishments := make([]PunishmentKind, len(tier.Punishments))
		for kindIdx, kind := range tier.Punishments {
			punishments[kindIdx] = PunishmentKind(kind)
		}

		policy.Tiers[idx] = Tier{Punishments: punishments, Duration: tier.Duration, Playtime: tier.Playtime}
	}

	return policy, nil
}

func (r MongoRepository) policies() *mongo.Collection {
	return r.db.Collection(policyCollectionName)
}

func (r MongoRepository) SavePolicy(ctx context.Context, policy Policy) error {
	_, errReplace := r.policies().ReplaceOne(ctx, bson.M{"_id": policy.PolicyID.String()},
		toMongoPolicy(policy), options.Replace().SetUpsert(true))

	return database.MongoErr(errReplace)
}

func (r MongoRepository) Policy(ctx context.Context, policyID uuid.UUID) (Policy, error) {
	var stored mongoPolicy
	if errFind := r.policies().FindOne(ctx, bson.M{"_id": policyID.String()}).Decode(&stored); errFind != nil {
		return Policy{}, database.MongoErr(errFind)
	}

	return stored.policy()
}

func (r MongoRepository) Policies(ctx context.Context, serverID uuid.UUID) ([]Policy, error) {
	cursor, errFind := r.policies().Find(ctx, bson.M{"server": serverID.String()},
		options.Find().SetSort(bson.D{{Key: "created", Value: 1}, {Key: "_id", Value: 1}}))
	if errFind != nil {
		return nil, database.MongoErr(errFind)
	}

	var docs []mongoPolicy
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, database.MongoErr(errAll)
	}

	policies := make([]Policy, 0, len(docs))

	for _, doc := range docs {
		policy, errDecode := doc.policy()
		if errDecode != nil {
			return nil, errDecode
		}

		policies = append(policies, policy)
	}

	return policies, nil
}
