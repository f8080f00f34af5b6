package audit

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gflze/gflbans/internal/database"
	"github.com/jackc/pgx/v5"
)

var entryColumns = []string{ //nolint:gochecknoglobals
	"entry_id", "created_on", "kind", "actor", "admin_id", "admin_name", "target", "message", "detail",
}

type PostgresRepository struct {
	db database.Database
}

func NewPostgresRepository(db database.Database) PostgresRepository {
	return PostgresRepository{db: db}
}

func (r PostgresRepository) Insert(ctx context.Context, entry Entry) error {
	return database.DBErr(r.db.ExecInsertBuilder(ctx, r.db.Builder().
		Insert("audit_log").
		Columns(entryColumns...).
		Values(entry.EntryID, entry.Time, string(entry.Kind), entry.Actor, entry.AdminID, entry.AdminName,
			entry.Target, entry.Message, entry.Detail)))
}

func where(q Query) sq.And {
	clause := sq.And{}

	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for idx, kind := range q.Kinds {
			kinds[idx] = string(kind)
		}

		clause = append(clause, sq.Eq{"kind": kinds})
	}

	if q.AdminID != nil {
		clause = append(clause, sq.Eq{"admin_id": *q.AdminID})
	}

	if q.Since != nil {
		clause = append(clause, sq.GtOrEq{"created_on": *q.Since})
	}

	return clause
}

func (r PostgresRepository) Find(ctx context.Context, q Query) ([]Entry, error) {
	builder := r.db.Builder().
		Select(entryColumns...).
		From("audit_log").
		Where(where(q)).
		OrderBy("created_on DESC", "entry_id DESC")
	builder = q.ApplyLimitOffset(builder, maxListResults)

	rows, errRows := r.db.QueryBuilder(ctx, builder)
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	entries := []Entry{}

	for rows.Next() {
		entry, errScan := scanEntry(rows)
		if errScan != nil {
			return nil, errScan
		}

		entries = append(entries, entry)
	}

	if errRows := rows.Err(); errRows != nil {
		return nil, database.DBErr(errRows)
	}

	return entries, nil
}

func (r PostgresRepository) Count(ctx context.Context, q Query) (int64, error) {
	count, errCount := r.db.GetCount(ctx, r.db.Builder().
		Select("count(entry_id)").
		From("audit_log").
		Where(where(q)))
	if errCount != nil {
		return 0, database.DBErr(errCount)
	}

	return count, nil
}

func (r PostgresRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	count, errDelete := r.db.ExecDeleteBuilder(ctx, r.db.Builder().
		Delete("audit_log").
		Where(sq.Lt{"created_on": olderThan}))
	if errDelete != nil {
		return 0, database.DBErr(errDelete)
	}

	return count, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry     Entry
		kind      string
		adminName *string
	)

	if errScan := row.Scan(&entry.EntryID, &entry.Time, &kind, &entry.Actor, &entry.AdminID, &adminName,
		&entry.Target, &entry.Message, &entry.Detail); errScan != nil {
		return Entry{}, database.DBErr(errScan)
	}

	entry.Kind = Kind(kind)

	if adminName != nil {
		entry.AdminName = *adminName
	}

	return entry, nil
}
