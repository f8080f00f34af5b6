package infraction

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/internal/predicate"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

// maxFindResults caps explicit page sizes. A zero limit is never capped so expansion and sync
// queries see every match.
const maxFindResults = 10000

// Repository persists infractions. Update must write every attribute of the record in a single atomic
// operation.
type Repository interface {
	Find(ctx context.Context, pred predicate.Predicate, filter query.Filter) ([]Infraction, error)
	Count(ctx context.Context, pred predicate.Predicate) (int64, error)
	Get(ctx context.Context, infractionID uuid.UUID) (Infraction, error)
	Insert(ctx context.Context, inf Infraction) error
	Update(ctx context.Context, inf Infraction) error
	AdminIDs(ctx context.Context, name string) ([]int64, error)
}

var columns = predicate.Columns{ //nolint:gochecknoglobals
	FieldID:            "infraction_id",
	FieldService:       "gs_service",
	FieldUserID:        "gs_id",
	FieldName:          "gs_name",
	FieldIP:            "ip",
	FieldFlags:         "flags",
	FieldCreated:       "created",
	FieldExpires:       "expires",
	FieldTimeLeft:      "time_left",
	FieldOriginalTime:  "original_time",
	FieldServer:        "server_id",
	FieldAdminID:       "admin_id",
	FieldReason:        "reason",
	FieldRemovalReason: "removal_reason",
	FieldPolicyID:      "policy_id",
}

var selectColumns = []string{ //nolint:gochecknoglobals
	"infraction_id", "gs_service", "gs_id", "gs_name", "ip", "flags", "created", "expires", "time_left",
	"original_time", "last_heartbeat", "server_id", "admin_id", "admin_name", "reason", "removed_on",
	"removed_by_id", "removed_by_name", "removal_reason", "comments", "files", "updated_on", "policy_id",
}

type PostgresRepository struct {
	db database.Database
}

func NewPostgresRepository(db database.Database) PostgresRepository {
	return PostgresRepository{db: db}
}

func (r PostgresRepository) Find(ctx context.Context, pred predicate.Predicate, filter query.Filter) ([]Infraction, error) {
	where, errWhere := predicate.ToSQL(pred, columns)
	if errWhere != nil {
		return nil, errWhere
	}

	builder := r.db.Builder().
		Select(selectColumns...).
		From("infraction").
		Where(where).
		OrderBy("created DESC", "infraction_id DESC")
	builder = filter.ApplyLimitOffset(builder, maxFindResults)

	rows, errRows := r.db.QueryBuilder(ctx, builder)
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	results := []Infraction{}

	for rows.Next() {
		inf, errScan := scanInfraction(rows)
		if errScan != nil {
			return nil, errScan
		}

		results = append(results, inf)
	}

	if errRows := rows.Err(); errRows != nil {
		return nil, database.DBErr(errRows)
	}

	return results, nil
}

func (r PostgresRepository) Count(ctx context.Context, pred predicate.Predicate) (int64, error) {
	where, errWhere := predicate.ToSQL(pred, columns)
	if errWhere != nil {
		return 0, errWhere
	}

	count, errCount := r.db.GetCount(ctx, r.db.Builder().
		Select("count(infraction_id)").
		From("infraction").
		Where(where))
	if errCount != nil {
		return 0, database.DBErr(errCount)
	}

	return count, nil
}

func (r PostgresRepository) Get(ctx context.Context, infractionID uuid.UUID) (Infraction, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select(selectColumns...).
		From("infraction").
		Where(sq.Expr("infraction_id = ?", infractionID)))
	if errRow != nil {
		return Infraction{}, database.DBErr(errRow)
	}

	return scanInfraction(row)
}

func (r PostgresRepository) Insert(ctx context.Context, inf Infraction) error {
	values := rowValues(inf)

	return database.DBErr(r.db.ExecInsertBuilder(ctx, r.db.Builder().
		Insert("infraction").
		SetMap(values)))
}

// Update rewrites the whole row in one statement so a transition is never observed half applied.
func (r PostgresRepository) Update(ctx context.Context, inf Infraction) error {
	values := rowValues(inf)
	delete(values, "infraction_id")
	delete(values, "created")

	query, args, errQuery := r.db.Builder().
		Update("infraction").
		SetMap(values).
		Where(sq.Expr("infraction_id = ?", inf.InfractionID)).
		Suffix("RETURNING infraction_id").
		ToSql()
	if errQuery != nil {
		return errors.Join(errQuery, database.ErrCreateQuery)
	}

	var updatedID uuid.UUID
	if errScan := r.db.QueryRow(ctx, query, args...).Scan(&updatedID); errScan != nil {
		return database.DBErr(errScan)
	}

	return nil
}

func (r PostgresRepository) AdminIDs(ctx context.Context, name string) ([]int64, error) {
	rows, errRows := r.db.QueryBuilder(ctx, r.db.Builder().
		Select("admin_id").
		Distinct().
		From("infraction").
		Where(sq.And{sq.NotEq{"admin_id": nil}, sq.Expr("lower(admin_name) = lower(?)", name)}))
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	adminIDs := []int64{}

	for rows.Next() {
		var adminID int64
		if errScan := rows.Scan(&adminID); errScan != nil {
			return nil, database.DBErr(errScan)
		}

		adminIDs = append(adminIDs, adminID)
	}

	return adminIDs, nil
}

func rowValues(inf Infraction) map[string]any {
	stored := Store(inf)

	values := map[string]any{
		"infraction_id":   inf.InfractionID,
		"gs_service":      nullString(inf.Target.Service),
		"gs_id":           nullString(inf.Target.UserID),
		"gs_name":         nullString(inf.Target.Name),
		"ip":              nullString(inf.Target.IP),
		"flags":           int64(stored.Flags), //nolint:gosec
		"created":         inf.Created,
		"expires":         stored.Expires,
		"time_left":       stored.TimeLeft,
		"original_time":   stored.OriginalTime,
		"last_heartbeat":  stored.LastHeartbeat,
		"server_id":       inf.ServerID,
		"admin_id":        nil,
		"admin_name":      nil,
		"reason":          inf.Reason,
		"removed_on":      nil,
		"removed_by_id":   nil,
		"removed_by_name": nil,
		"removal_reason":  nil,
		"comments":        inf.Comments,
		"files":           inf.Files,
		"updated_on":      inf.UpdatedOn,
		"policy_id":       inf.PolicyID,
	}

	if inf.Admin != nil {
		values["admin_id"] = inf.Admin.SteamID.Int64()
		values["admin_name"] = inf.Admin.Name
	}

	if inf.Removal != nil {
		values["removed_on"] = inf.Removal.RemovedAt
		values["removal_reason"] = inf.Removal.Reason

		if inf.Removal.Remover != nil {
			values["removed_by_id"] = inf.Removal.Remover.SteamID.Int64()
			values["removed_by_name"] = inf.Removal.Remover.Name
		}
	}

	if inf.Comments == nil {
		values["comments"] = []Comment{}
	}

	if inf.Files == nil {
		values["files"] = []File{}
	}

	return values
}

func authorOf(steamID *int64, name *string) *Author {
	if steamID == nil {
		return nil
	}

	author := &Author{SteamID: steamid.New(*steamID)}
	if name != nil {
		author.Name = *name
	}

	return author
}

func deref(value *string) string {
	if value == nil {
		return ""
	}

	return *value
}

func scanInfraction(row pgx.Row) (Infraction, error) {
	var (
		inf                                     Infraction
		service, userID, name, ip               *string
		adminName, removedByName, removalReason *string
		adminID, removedByID                    *int64
		removedOn                               *time.Time
		flags                                   int64
		stored                                  Stored
	)

	if errScan := row.Scan(&inf.InfractionID, &service, &userID, &name, &ip, &flags, &inf.Created,
		&stored.Expires, &stored.TimeLeft, &stored.OriginalTime, &stored.LastHeartbeat, &inf.ServerID,
		&adminID, &adminName, &inf.Reason, &removedOn, &removedByID, &removedByName, &removalReason,
		&inf.Comments, &inf.Files, &inf.UpdatedOn, &inf.PolicyID); errScan != nil {
		return Infraction{}, database.DBErr(errScan)
	}

	stored.Flags = Flag(flags) //nolint:gosec
	if err := DecodeFlags(&inf, stored); err != nil {
		return Infraction{}, err
	}

	inf.Target = Target{Service: deref(service), UserID: deref(userID), Name: deref(name), IP: deref(ip)}
	inf.Admin = authorOf(adminID, adminName)

	if stored.Flags.Has(FlagRemoved) {
		removal := &Removal{Reason: deref(removalReason), Remover: authorOf(removedByID, removedByName)}
		if removedOn != nil {
			removal.RemovedAt = *removedOn
		}

		inf.Removal = removal
	}

	if inf.Comments == nil {
		inf.Comments = []Comment{}
	}

	if inf.Files == nil {
		inf.Files = []File{}
	}

	return inf, nil
}
