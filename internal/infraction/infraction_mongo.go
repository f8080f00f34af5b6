package infraction

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/internal/predicate"
	"github.com/gofrs/uuid/v5"
	"github.com/leighmacdonald/steamid/v4/steamid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "infractions"

var errMalformedDocument = errors.New("malformed infraction document")

var keys = predicate.Keys{ //nolint:gochecknoglobals
	FieldID:            "_id",
	FieldService:       "gs_service",
	FieldUserID:        "gs_id",
	FieldName:          "gs_name",
	FieldIP:            "ip",
	FieldFlags:         "flags",
	FieldCreated:       "created",
	FieldExpires:       "expires",
	FieldTimeLeft:      "time_left",
	FieldOriginalTime:  "original_time",
	FieldServer:        "server",
	FieldAdminID:       "admin_id",
	FieldReason:        "reason",
	FieldRemovalReason: "removal_reason",
	FieldPolicyID:      "policy_id",
}

type mongoAuthor struct {
	SteamID int64  `bson:"steam_id"`
	Name    string `bson:"name"`
}

type mongoComment struct {
	Author     *mongoAuthor `bson:"author"`
	Content    string       `bson:"content"`
	Private    bool         `bson:"private"`
	Created    int64        `bson:"created"`
	EditedAt   *int64       `bson:"edit_time,omitempty"`
	EditAuthor *mongoAuthor `bson:"edit_author,omitempty"`
}

type mongoFile struct {
	Name       string       `bson:"name"`
	StorageKey string       `bson:"storage_key"`
	Uploader   *mongoAuthor `bson:"uploader"`
	Private    bool         `bson:"private"`
	Created    int64        `bson:"created"`
}

// mongoInfraction is the persisted document. Timestamps are unix seconds so the rendered predicates
// can compare and subtract them directly.
type mongoInfraction struct {
	ID            string         `bson:"_id"`
	Service       *string        `bson:"gs_service"`
	UserID        *string        `bson:"gs_id"`
	Name          *string        `bson:"gs_name"`
	IP            *string        `bson:"ip"`
	Flags         int64          `bson:"flags"`
	Created       int64          `bson:"created"`
	Expires       *int64         `bson:"expires"`
	TimeLeft      *int64         `bson:"time_left"`
	OriginalTime  *int64         `bson:"original_time"`
	LastHeartbeat *int64         `bson:"last_heartbeat"`
	Server        *string        `bson:"server"`
	AdminID       *int64         `bson:"admin_id"`
	AdminName     *string        `bson:"admin_name"`
	Reason        string         `bson:"reason"`
	RemovedOn     *int64         `bson:"removed_on"`
	RemovedByID   *int64         `bson:"removed_by_id"`
	RemovedByName *string        `bson:"removed_by_name"`
	RemovalReason *string        `bson:"removal_reason"`
	Comments      []mongoComment `bson:"comments"`
	Files         []mongoFile    `bson:"files"`
	UpdatedOn     int64          `bson:"updated_on"`
	PolicyID      *string        `bson:"policy_id"`
}

type MongoRepository struct {
	db *database.Mongo
}

func NewMongoRepository(db *database.Mongo) MongoRepository {
	return MongoRepository{db: db}
}

// Init creates the indexes backing the query and search compilers.
func (r MongoRepository) Init(ctx context.Context) error {
	if err := r.db.EnsureIndexes(ctx, policyCollectionName,
		mongo.IndexModel{Keys: bson.D{{Key: "server", Value: 1}}}); err != nil {
		return err
	}

	return r.db.EnsureIndexes(ctx, collectionName,
		mongo.IndexModel{Keys: bson.D{{Key: "gs_service", Value: 1}, {Key: "gs_id", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "ip", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "created", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "admin_id", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "server", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "policy_id", Value: 1}}},
	)
}

func (r MongoRepository) collection() *mongo.Collection {
	return r.db.Collection(collectionName)
}

func (r MongoRepository) Find(ctx context.Context, pred predicate.Predicate, filter query.Filter) ([]Infraction, error) {
	doc, errFilter := predicate.ToBSON(pred, keys)
	if errFilter != nil {
		return nil, errFilter
	}

	// A zero limit is unbounded for the driver as well.
	opts := options.Find().
		SetSort(bson.D{{Key: "created", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(filter.Offset)).                      //nolint:gosec
		SetLimit(int64(filter.CappedLimit(maxFindResults))) //nolint:gosec

	cursor, errFind := r.collection().Find(ctx, doc, opts)
	if errFind != nil {
		return nil, database.MongoErr(errFind)
	}

	var docs []mongoInfraction
	if errAll := cursor.All(ctx, &docs); errAll != nil {
		return nil, database.MongoErr(errAll)
	}

	results := make([]Infraction, 0, len(docs))

	for _, stored := range docs {
		inf, errDecode := stored.infraction()
		if errDecode != nil {
			return nil, errDecode
		}

		results = append(results, inf)
	}

	return results, nil
}

func (r MongoRepository) Count(ctx context.Context, pred predicate.Predicate) (int64, error) {
	doc, errFilter := predicate.ToBSON(pred, keys)
	if errFilter != nil {
		return 0, errFilter
	}

	count, errCount := r.collection().CountDocuments(ctx, doc)
	if errCount != nil {
		return 0, database.MongoErr(errCount)
	}

	return count, nil
}

func (r MongoRepository) Get(ctx context.Context, infractionID uuid.UUID) (Infraction, error) {
	var stored mongoInfraction
	if errFind := r.collection().FindOne(ctx, bson.M{"_id": infractionID.String()}).Decode(&stored); errFind != nil {
		return Infraction{}, database.MongoErr(errFind)
	}

	return stored.infraction()
}

func (r MongoRepository) Insert(ctx context.Context, inf Infraction) error {
	_, errInsert := r.collection().InsertOne(ctx, toMongo(inf))

	return database.MongoErr(errInsert)
}

// Update replaces the whole document in a single write.
func (r MongoRepository) Update(ctx context.Context, inf Infraction) error {
	result, errReplace := r.collection().ReplaceOne(ctx, bson.M{"_id": inf.InfractionID.String()}, toMongo(inf))
	if errReplace != nil {
		return database.MongoErr(errReplace)
	}

	if result.MatchedCount == 0 {
		return database.ErrNoResult
	}

	return nil
}

func (r MongoRepository) AdminIDs(ctx context.Context, name string) ([]int64, error) {
	values, errDistinct := r.collection().Distinct(ctx, "admin_id", bson.M{
		"admin_id":   bson.M{"$ne": nil},
		"admin_name": bson.M{"$regex": "^" + regexp.QuoteMeta(name) + "$", "$options": "i"},
	})
	if errDistinct != nil {
		return nil, database.MongoErr(errDistinct)
	}

	adminIDs := make([]int64, 0, len(values))

	for _, value := range values {
		switch adminID := value.(type) {
		case int64:
			adminIDs = append(adminIDs, adminID)
		case int32:
			adminIDs = append(adminIDs, int64(adminID))
		}
	}

	return adminIDs, nil
}

func unixPtr(value *time.Time) *int64 {
	if value == nil {
		return nil
	}

	unix := value.Unix()

	return &unix
}

func timePtr(value *int64) *time.Time {
	if value == nil {
		return nil
	}

	out := time.Unix(*value, 0).UTC()

	return &out
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}

	return &value
}

func toMongoAuthor(author *Author) *mongoAuthor {
	if author == nil {
		return nil
	}

	return &mongoAuthor{SteamID: author.SteamID.Int64(), Name: author.Name}
}

func (a *mongoAuthor) author() *Author {
	if a == nil {
		return nil
	}

	return &Author{SteamID: steamid.New(a.SteamID), Name: a.Name}
}

func toMongo(inf Infraction) mongoInfraction {
	stored := Store(inf)
	doc := mongoInfraction{
		ID:            inf.InfractionID.String(),
		Service:       strPtr(inf.Target.Service),
		UserID:        strPtr(inf.Target.UserID),
		Name:          strPtr(inf.Target.Name),
		IP:            strPtr(inf.Target.IP),
		Flags:         int64(stored.Flags), //nolint:gosec
		Created:       inf.Created.Unix(),
		Expires:       unixPtr(stored.Expires),
		TimeLeft:      stored.TimeLeft,
		OriginalTime:  stored.OriginalTime,
		LastHeartbeat: unixPtr(stored.LastHeartbeat),
		Reason:        inf.Reason,
		Comments:      make([]mongoComment, 0, len(inf.Comments)),
		Files:         make([]mongoFile, 0, len(inf.Files)),
		UpdatedOn:     inf.UpdatedOn.Unix(),
	}

	if inf.ServerID != nil {
		doc.Server = strPtr(inf.ServerID.String())
	}

	if inf.PolicyID != nil {
		doc.PolicyID = strPtr(inf.PolicyID.String())
	}

	if inf.Admin != nil {
		adminID := inf.Admin.SteamID.Int64()
		doc.AdminID = &adminID
		doc.AdminName = &inf.Admin.Name
	}

	if inf.Removal != nil {
		doc.RemovedOn = unixPtr(&inf.Removal.RemovedAt)
		doc.RemovalReason = &inf.Removal.Reason

		if inf.Removal.Remover != nil {
			removerID := inf.Removal.Remover.SteamID.Int64()
			doc.RemovedByID = &removerID
			doc.RemovedByName = &inf.Removal.Remover.Name
		}
	}

	for _, comment := range inf.Comments {
		stored := mongoComment{
			Author:  toMongoAuthor(comment.Author),
			Content: comment.Content,
			Private: comment.Private,
			Created: comment.Created.Unix(),
		}

		if comment.EditData != nil {
			stored.EditedAt = unixPtr(&comment.EditData.Time)
			stored.EditAuthor = toMongoAuthor(comment.EditData.Author)
		}

		doc.Comments = append(doc.Comments, stored)
	}

	for _, file := range inf.Files {
		doc.Files = append(doc.Files, mongoFile{
			Name:       file.Name,
			StorageKey: file.StorageKey,
			Uploader:   toMongoAuthor(file.Uploader),
			Private:    file.Private,
			Created:    file.Created.Unix(),
		})
	}

	return doc
}

func (doc mongoInfraction) infraction() (Infraction, error) {
	infractionID, errID := uuid.FromString(doc.ID)
	if errID != nil {
		return Infraction{}, errors.Join(errID, errMalformedDocument)
	}

	inf := Infraction{
		InfractionID: infractionID,
		Target: Target{
			Service: deref(doc.Service),
			UserID:  deref(doc.UserID),
			Name:    deref(doc.Name),
			IP:      deref(doc.IP),
		},
		Created:   time.Unix(doc.Created, 0).UTC(),
		Admin:     authorOf(doc.AdminID, doc.AdminName),
		Reason:    doc.Reason,
		Comments:  make([]Comment, 0, len(doc.Comments)),
		Files:     make([]File, 0, len(doc.Files)),
		UpdatedOn: time.Unix(doc.UpdatedOn, 0).UTC(),
	}

	if doc.Server != nil {
		serverID, errServer := uuid.FromString(*doc.Server)
		if errServer != nil {
			return Infraction{}, errors.Join(errServer, errMalformedDocument)
		}

		inf.ServerID = &serverID
	}

	if doc.PolicyID != nil {
		policyID, errPolicy := uuid.FromString(*doc.PolicyID)
		if errPolicy != nil {
			return Infraction{}, errors.Join(errPolicy, errMalformedDocument)
		}

		inf.PolicyID = &policyID
	}

	stored := Stored{
		Flags:         Flag(doc.Flags), //nolint:gosec
		Expires:       timePtr(doc.Expires),
		TimeLeft:      doc.TimeLeft,
		OriginalTime:  doc.OriginalTime,
		LastHeartbeat: timePtr(doc.LastHeartbeat),
	}

	if err := DecodeFlags(&inf, stored); err != nil {
		return Infraction{}, err
	}

	if stored.Flags.Has(FlagRemoved) {
		removal := &Removal{Reason: deref(doc.RemovalReason), Remover: authorOf(doc.RemovedByID, doc.RemovedByName)}
		if doc.RemovedOn != nil {
			removal.RemovedAt = time.Unix(*doc.RemovedOn, 0).UTC()
		}

		inf.Removal = removal
	}

	for _, comment := range doc.Comments {
		out := Comment{
			Author:  comment.Author.author(),
			Content: comment.Content,
			Private: comment.Private,
			Created: time.Unix(comment.Created, 0).UTC(),
		}

		if comment.EditedAt != nil {
			out.EditData = &EditData{Time: time.Unix(*comment.EditedAt, 0).UTC(), Author: comment.EditAuthor.author()}
		}

		inf.Comments = append(inf.Comments, out)
	}

	for _, file := range doc.Files {
		inf.Files = append(inf.Files, File{
			Name:       file.Name,
			StorageKey: file.StorageKey,
			Uploader:   file.Uploader.author(),
			Private:    file.Private,
			Created:    time.Unix(file.Created, 0).UTC(),
		})
	}

	return inf, nil
}
