package rpc

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// Repository stores pending events. Reads are ordered oldest first.
type Repository interface {
	Insert(ctx context.Context, event Event) error
	Get(ctx context.Context, eventID uuid.UUID) (Event, error)
	// Targeted returns events addressed to serverID.
	Targeted(ctx context.Context, serverID uuid.UUID, limit uint64) ([]Event, error)
	// Broadcasts returns broadcasts that serverID has not acknowledged yet.
	Broadcasts(ctx context.Context, serverID uuid.UUID, limit uint64) ([]Event, error)
	// Delete returns database.ErrNoResult when the event no longer exists.
	Delete(ctx context.Context, eventID uuid.UUID) error
	// Acknowledge adds serverID to the ack set of a broadcast. It reports false when the broadcast is gone or
	// was already acknowledged by serverID.
	Acknowledge(ctx context.Context, eventID uuid.UUID, serverID uuid.UUID) (bool, error)
	// Purge removes events created before olderThan and broadcasts acknowledged by every one of serverIDs.
	Purge(ctx context.Context, olderThan time.Time, serverIDs []uuid.UUID) (int64, error)
}

var eventColumns = []string{"event_id", "created_at", "target", "acknowledged_by", "event_type", "payload"} //nolint:gochecknoglobals

type PostgresRepository struct {
	db database.Database
}

func NewPostgresRepository(db database.Database) PostgresRepository {
	return PostgresRepository{db: db}
}

func (r PostgresRepository) Insert(ctx context.Context, event Event) error {
	return database.DBErr(r.db.ExecInsertBuilder(ctx, r.db.Builder().
		Insert("rpc_event").
		Columns(eventColumns...).
		Values(event.EventID, event.CreatedAt, event.Target, event.AcknowledgedBy, string(event.Type),
			[]byte(event.Payload))))
}

func (r PostgresRepository) Get(ctx context.Context, eventID uuid.UUID) (Event, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select(eventColumns...).
		From("rpc_event").
		Where(sq.Expr("event_id = ?", eventID)))
	if errRow != nil {
		return Event{}, database.DBErr(errRow)
	}

	return scanEvent(row)
}

func (r PostgresRepository) query(ctx context.Context, where sq.Sqlizer, limit uint64) ([]Event, error) {
	rows, errRows := r.db.QueryBuilder(ctx, r.db.Builder().
		Select(eventColumns...).
		From("rpc_event").
		Where(where).
		OrderBy("created_at", "event_id").
		Limit(limit))
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	events := []Event{}

	for rows.Next() {
		event, errScan := scanEvent(rows)
		if errScan != nil {
			return nil, errScan
		}

		events = append(events, event)
	}

	if errRows := rows.Err(); errRows != nil {
		return nil, database.DBErr(errRows)
	}

	return events, nil
}

func (r PostgresRepository) Targeted(ctx context.Context, serverID uuid.UUID, limit uint64) ([]Event, error) {
	return r.query(ctx, sq.Expr("target = ?", serverID), limit)
}

func (r PostgresRepository) Broadcasts(ctx context.Context, serverID uuid.UUID, limit uint64) ([]Event, error) {
	return r.query(ctx, sq.And{
		sq.Expr("target IS NULL"),
		sq.Expr("NOT (?::uuid = ANY(acknowledged_by))", serverID),
	}, limit)
}

func (r PostgresRepository) Delete(ctx context.Context, eventID uuid.UUID) error {
	affected, errExec := r.db.ExecDeleteBuilder(ctx, r.db.Builder().
		Delete("rpc_event").
		Where(sq.Expr("event_id = ?", eventID)))
	if errExec != nil {
		return database.DBErr(errExec)
	}

	if affected == 0 {
		return database.ErrNoResult
	}

	return nil
}

// Acknowledge appends in a single statement so concurrent acks from different servers are not lost.
func (r PostgresRepository) Acknowledge(ctx context.Context, eventID uuid.UUID, serverID uuid.UUID) (bool, error) {
	affected, errExec := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
		Update("rpc_event").
		Set("acknowledged_by", sq.Expr("array_append(acknowledged_by, ?::uuid)", serverID)).
		Where(sq.Expr("event_id = ?", eventID)).
		Where(sq.Expr("target IS NULL")).
		Where(sq.Expr("NOT (?::uuid = ANY(acknowledged_by))", serverID)))
	if errExec != nil {
		return false, database.DBErr(errExec)
	}

	return affected > 0, nil
}

func (r PostgresRepository) Purge(ctx context.Context, olderThan time.Time, serverIDs []uuid.UUID) (int64, error) {
	where := sq.Or{sq.Expr("created_at < ?", olderThan)}
	if len(serverIDs) > 0 {
		where = append(where, sq.And{
			sq.Expr("target IS NULL"),
			sq.Expr("acknowledged_by @> ?::uuid[]", serverIDs),
		})
	}

	affected, errExec := r.db.ExecDeleteBuilder(ctx, r.db.Builder().
		Delete("rpc_event").
		Where(where))
	if errExec != nil {
		return 0, database.DBErr(errExec)
	}

	return affected, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		event     Event
		eventType string
		payload   []byte
	)

	if errScan := row.Scan(&event.EventID, &event.CreatedAt, &event.Target, &event.AcknowledgedBy,
		&eventType, &payload); errScan != nil {
		return Event{}, database.DBErr(errScan)
	}

	event.Type = EventType(eventType)
	event.Payload = json.RawMessage(payload)

	if event.AcknowledgedBy == nil {
		event.AcknowledgedBy = []uuid.UUID{}
	}

	return event, nil
}
