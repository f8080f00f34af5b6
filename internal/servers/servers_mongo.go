package servers

import (
	"context"
	"regexp"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "servers"

type mongoServer struct {
	ServerID      string `bson:"_id"`
	Name          string `bson:"friendly_name"`
	IP            string `bson:"ip"`
	GamePort      int32  `bson:"game_port"`
	KeyHash       string `bson:"server_key"`
	KeySalt       string `bson:"server_key_salt"`
	AllowUnknown  bool   `bson:"allow_unknown"`
	Enabled       bool   `bson:"enabled"`
	IgnoreGlobals bool   `bson:"ignore_globals"`
	Permissions   int64  `bson:"permissions"`
	CreatedOn     int64  `bson:"created_on"`
	UpdatedOn     int64  `bson:"updated_on"`
}

func (doc mongoServer) server() (Server, error) {
	serverID, errID := uuid.FromString(doc.ServerID)
	if errID != nil {
		return Server{}, errID
	}

	return Server{
		ServerID:      serverID,
		Name:          doc.Name,
		IP:            doc.IP,
		GamePort:      uint16(doc.GamePort), //nolint:gosec
		KeyHash:       doc.KeyHash,
		KeySalt:       doc.KeySalt,
		AllowUnknown:  doc.AllowUnknown,
		Enabled:       doc.Enabled,
		IgnoreGlobals: doc.IgnoreGlobals,
		Permissions:   auth.Permission(doc.Permissions), //nolint:gosec
		CreatedOn:     time.Unix(doc.CreatedOn, 0),
		UpdatedOn:     time.Unix(doc.UpdatedOn, 0),
	}, nil
}

func toMongo(server Server) mongoServer {
	return mongoServer{
		ServerID:      server.ServerID.String(),
		Name:          server.Name,
		IP:            server.IP,
		GamePort:      int32(server.GamePort),
		KeyHash:       server.KeyHash,
		KeySalt:       server.KeySalt,
		AllowUnknown:  server.AllowUnknown,
		Enabled:       server.Enabled,
		IgnoreGlobals: server.IgnoreGlobals,
		Permissions:   int64(server.Permissions), //nolint:gosec
		CreatedOn:     server.CreatedOn.Unix(),
		UpdatedOn:     server.UpdatedOn.Unix(),
	}
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
			Keys:    bson.D{{Key: "ip", Value: 1}, {Key: "game_port", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		mongo.IndexModel{Keys: bson.D{{Key: "enabled", Value: 1}}},
	)
}

func (r MongoRepository) find(ctx context.Context, filter bson.M) ([]Server, error) {
	cursor, errFind := r.db.Collection(collectionName).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "friendly_name", Value: 1}}))
	if errFind != nil {
		return nil, database.MongoErr(errFind)
	}

	var docs []mongoServer
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, database.MongoErr(errAll)
	}

	servers := make([]Server, 0, len(docs))

	for _, doc := range docs {
		server, errDecode := doc.server()
		if errDecode != nil {
			return nil, errDecode
		}

		servers = append(servers, server)
	}

	return servers, nil
}

func (r MongoRepository) findOne(ctx context.Context, filter bson.M) (Server, error) {
	var doc mongoServer
	if errFind := r.db.Collection(collectionName).FindOne(ctx, filter).Decode(&doc); errFind != nil {
		return Server{}, database.MongoErr(errFind)
	}

	return doc.server()
}

func (r MongoRepository) Servers(ctx context.Context, includeDisabled bool) ([]Server, error) {
	if includeDisabled {
		return r.find(ctx, bson.M{})
	}

	return r.find(ctx, bson.M{"enabled": true})
}

func (r MongoRepository) Server(ctx context.Context, serverID uuid.UUID) (Server, error) {
	return r.findOne(ctx, bson.M{"_id": serverID.String()})
}

func (r MongoRepository) ByAddress(ctx context.Context, ip string, port uint16) (Server, error) {
	return r.findOne(ctx, bson.M{"ip": ip, "game_port": int32(port)})
}

func (r MongoRepository) ByName(ctx context.Context, name string) ([]Server, error) {
	return r.find(ctx, bson.M{"friendly_name": bson.M{"$regex": regexp.QuoteMeta(name), "$options": "i"}})
}

func (r MongoRepository) Save(ctx context.Context, server Server) error {
	_, errReplace := r.db.Collection(collectionName).ReplaceOne(ctx,
		bson.M{"_id": server.ServerID.String()}, toMongo(server), options.Replace().SetUpsert(true))

	return database.MongoErr(errReplace)
}

func (r MongoRepository) Delete(ctx context.Context, serverID uuid.UUID) error {
	result, errDelete := r.db.Collection(collectionName).DeleteOne(ctx, bson.M{"_id": serverID.String()})
	if errDelete != nil {
		return database.MongoErr(errDelete)
	}

	if result.DeletedCount == 0 {
		return database.ErrNoResult
	}

	return nil
}
