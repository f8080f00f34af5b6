package infraction

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

var policyColumns = []string{ //nolint:gochecknoglobals
	"policy_id", "name", "server_id", "tiers", "include_other_servers", "tier_ttl", "reason", "created_on",
}

// SavePolicy inserts the policy or rewrites an existing one.
func (r PostgresRepository) SavePolicy(ctx context.Context, policy Policy) error {
	query, args, errQuery := r.db.Builder().
		Insert("tier_policy").
		Columns(policyColumns...).
		Values(policy.PolicyID, policy.Name, policy.ServerID, policy.Tiers, policy.IncludeOtherServers,
			policy.TierTTL, policy.Reason, policy.Created).
		Suffix(`ON CONFLICT (policy_id) DO UPDATE SET
			name = EXCLUDED.name, server_id = EXCLUDED.server_id, tiers = EXCLUDED.tiers,
			include_other_servers = EXCLUDED.include_other_servers, tier_ttl = EXCLUDED.tier_ttl,
			reason = EXCLUDED.reason`).
		ToSql()
	if errQuery != nil {
		return database.ErrCreateQuery
	}

	_, errExec := r.db.Exec(ctx, query, args...)

	return database.DBErr(errExec)
}

func (r PostgresRepository) Policy(ctx context.Context, policyID uuid.UUID) (Policy, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select(policyColumns...).
		From("tier_policy").
		Where(sq.Expr("policy_id = ?", policyID)))
	if errRow != nil {
		return Policy{}, database.DBErr(errRow)
	}

	return scanPolicy(row)
}

func (r PostgresRepository) Policies(ctx context.Context, serverID uuid.UUID) ([]Policy, error) {
	rows, errRows := r.db.QueryBuilder(ctx, r.db.Builder().
		Select(policyColumns...).
		From("tier_policy").
		Where(sq.Expr("server_id = ?", serverID)).
		OrderBy("created_on", "policy_id"))
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	policies := []Policy{}

	for rows.Next() {
		policy, errScan := scanPolicy(rows)
		if errScan != nil {
			return nil, errScan
		}

		policies = append(policies, policy)
	}

	if errRows := rows.Err(); errRows != nil {
		return nil, database.DBErr(errRows)
	}

	return policies, nil
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var policy Policy

	if errScan := row.Scan(&policy.PolicyID, &policy.Name, &policy.ServerID, &policy.Tiers,
		&policy.IncludeOtherServers, &policy.TierTTL, &policy.Reason, &policy.Created); errScan != nil {
		return Policy{}, database.DBErr(errScan)
	}

	return policy, nil
}
