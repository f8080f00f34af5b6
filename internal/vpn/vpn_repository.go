package vpn

import (
	"context"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const maxListResults = 1000

type Repository interface {
	// Insert returns database.ErrDuplicate when a rule with the same type and payload exists.
	Insert(ctx context.Context, rule Rule) error
	Get(ctx context.Context, ruleID uuid.UUID) (Rule, error)
	Update(ctx context.Context, rule Rule) error
	// Delete returns database.ErrNoResult when no rule matches.
	Delete(ctx context.Context, kind Kind, payload string) error
	// Find returns rules oldest first.
	Find(ctx context.Context, q ListQuery) ([]Rule, error)
	Count(ctx context.Context, search string) (int64, error)
	ByPayload(ctx context.Context, kind Kind, payload string) (Rule, bool, error)
	CIDRRules(ctx context.Context) ([]Rule, error)
}

var ruleColumns = []string{"rule_id", "kind", "payload", "dubious", "cloud", "comment", "added_on"} //nolint:gochecknoglobals

type PostgresRepository struct {
	db database.Database
}

func NewPostgresRepository(db database.Database) PostgresRepository {
	return PostgresRepository{db: db}
}

func (r PostgresRepository) Insert(ctx context.Context, rule Rule) error {
	return database.DBErr(r.db.ExecInsertBuilder(ctx, r.db.Builder().
		Insert("vpn").
		Columns(ruleColumns...).
		Values(rule.RuleID, string(rule.Kind), rule.Payload, rule.Dubious, rule.Cloud, rule.Comment, rule.AddedOn)))
}

func (r PostgresRepository) Get(ctx context.Context, ruleID uuid.UUID) (Rule, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select(ruleColumns...).
		From("vpn").
		Where(sq.Eq{"rule_id": ruleID}))
	if errRow != nil {
		return Rule{}, database.DBErr(errRow)
	}

	return scanRule(row)
}

func (r PostgresRepository) Update(ctx context.Context, rule Rule) error {
	count, errUpdate := r.db.ExecUpdateBuilder(ctx, r.db.Builder().
		Update("vpn").
		SetMap(map[string]any{
			"kind":    string(rule.Kind),
			"payload": rule.Payload,
			"dubious": rule.Dubious,
			"cloud":   rule.Cloud,
			"comment": rule.Comment,
		}).
		Where(sq.Eq{"rule_id": rule.RuleID}))
	if errUpdate != nil {
		return database.DBErr(errUpdate)
	}

	if count == 0 {
		return database.ErrNoResult
	}

	return nil
}

func (r PostgresRepository) Delete(ctx context.Context, kind Kind, payload string) error {
	count, errDelete := r.db.ExecDeleteBuilder(ctx, r.db.Builder().
		Delete("vpn").
		Where(sq.Eq{"kind": string(kind), "payload": payload}))
	if errDelete != nil {
		return database.DBErr(errDelete)
	}

	if count == 0 {
		return database.ErrNoResult
	}

	return nil
}

func searchClause(search string) sq.Sqlizer {
	if search == "" {
		return sq.Expr("TRUE")
	}

	pattern := "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(search) + "%"

	return sq.Or{sq.ILike{"payload": pattern}, sq.ILike{"comment": pattern}}
}

func (r PostgresRepository) query(ctx context.Context, builder sq.SelectBuilder) ([]Rule, error) {
	rows, errRows := r.db.QueryBuilder(ctx, builder)
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	rules := []Rule{}

	for rows.Next() {
		rule, errScan := scanRule(rows)
		if errScan != nil {
			return nil, errScan
		}

		rules = append(rules, rule)
	}

	if errRows := rows.Err(); errRows != nil {
		return nil, database.DBErr(errRows)
	}

	return rules, nil
}

func (r PostgresRepository) Find(ctx context.Context, q ListQuery) ([]Rule, error) {
	builder := r.db.Builder().
		Select(ruleColumns...).
		From("vpn").
		Where(searchClause(q.Search)).
		OrderBy("added_on", "rule_id")

	return r.query(ctx, q.ApplyLimitOffset(builder, maxListResults))
}

func (r PostgresRepository) Count(ctx context.Context, search string) (int64, error) {
	count, errCount := r.db.GetCount(ctx, r.db.Builder().
		Select("count(rule_id)").
		From("vpn").
		Where(searchClause(search)))
	if errCount != nil {
		return 0, database.DBErr(errCount)
	}

	return count, nil
}

func (r PostgresRepository) ByPayload(ctx context.Context, kind Kind, payload string) (Rule, bool, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select(ruleColumns...).
		From("vpn").
		Where(sq.Eq{"kind": string(kind), "payload": payload}))
	if errRow != nil {
		return Rule{}, false, database.DBErr(errRow)
	}

	rule, errScan := scanRule(row)
	if errScan != nil {
		if errors.Is(errScan, database.ErrNoResult) {
			return Rule{}, false, nil
		}

		return Rule{}, false, errScan
	}

	return rule, true, nil
}

func (r PostgresRepository) CIDRRules(ctx context.Context) ([]Rule, error) {
	return r.query(ctx, r.db.Builder().
		Select(ruleColumns...).
		From("vpn").
		Where(sq.Eq{"kind": string(KindCIDR)}).
		OrderBy("added_on", "rule_id"))
}

func scanRule(row pgx.Row) (Rule, error) {
	var (
		rule Rule
		kind string
	)

	if errScan := row.Scan(&rule.RuleID, &kind, &rule.Payload, &rule.Dubious, &rule.Cloud, &rule.Comment,
		&rule.AddedOn); errScan != nil {
		return Rule{}, database.DBErr(errScan)
	}

	rule.Kind = Kind(kind)

	return rule, nil
}
