package servers

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

type Repository interface {
	Servers(ctx context.Context, includeDisabled bool) ([]Server, error)
	Server(ctx context.Context, serverID uuid.UUID) (Server, error)
	ByAddress(ctx context.Context, ip string, port uint16) (Server, error)
	// ByName returns servers whose name contains name, ignoring case.
	ByName(ctx context.Context, name string) ([]Server, error)
	Save(ctx context.Context, server Server) error
	Delete(ctx context.Context, serverID uuid.UUID) error
}

var serverColumns = []string{ //nolint:gochecknoglobals
	"server_id", "name", "ip", "game_port", "server_key", "server_key_salt", "allow_unknown", "enabled",
	"ignore_globals", "permissions", "created_on", "updated_on",
}

type PostgresRepository struct {
	db database.Database
}

func NewPostgresRepository(db database.Database) PostgresRepository {
	return PostgresRepository{db: db}
}

func (r PostgresRepository) query(ctx context.Context, where sq.Sqlizer) ([]Server, error) {
	builder := r.db.Builder().
		Select(serverColumns...).
		From("server").
		OrderBy("name")
	if where != nil {
		builder = builder.Where(where)
	}

	rows, errRows := r.db.QueryBuilder(ctx, builder)
	if errRows != nil {
		return nil, database.DBErr(errRows)
	}

	defer rows.Close()

	servers := []Server{}

	for rows.Next() {
		server, errScan := scanServer(rows)
		if errScan != nil {
			return nil, errScan
		}

		servers = append(servers, server)
	}

	if errRows := rows.Err(); errRows != nil {
		return nil, database.DBErr(errRows)
	}

	return servers, nil
}

func (r PostgresRepository) Servers(ctx context.Context, includeDisabled bool) ([]Server, error) {
	if includeDisabled {
		return r.query(ctx, nil)
	}

	return r.query(ctx, sq.Eq{"enabled": true})
}

func (r PostgresRepository) Server(ctx context.Context, serverID uuid.UUID) (Server, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select(serverColumns...).
		From("server").
		Where(sq.Expr("server_id = ?", serverID)))
	if errRow != nil {
		return Server{}, database.DBErr(errRow)
	}

	return scanServer(row)
}

func (r PostgresRepository) ByAddress(ctx context.Context, ip string, port uint16) (Server, error) {
	row, errRow := r.db.QueryRowBuilder(ctx, r.db.Builder().
		Select(serverColumns...).
		From("server").
		Where(sq.Eq{"ip": ip, "game_port": int32(port)}))
	if errRow != nil {
		return Server{}, database.DBErr(errRow)
	}

	return scanServer(row)
}

func (r PostgresRepository) ByName(ctx context.Context, name string) ([]Server, error) {
	return r.query(ctx, sq.ILike{"name": "%" + name + "%"})
}

// Save inserts the server or updates every column of an existing one.
func (r PostgresRepository) Save(ctx context.Context, server Server) error {
	query, args, errQuery := r.db.Builder().
		Insert("server").
		Columns(serverColumns...).
		Values(server.ServerID, server.Name, server.IP, int32(server.GamePort), server.KeyHash, server.KeySalt,
			server.AllowUnknown, server.Enabled, server.IgnoreGlobals, int64(server.Permissions),
			server.CreatedOn, server.UpdatedOn).
		Suffix(`ON CONFLICT (server_id) DO UPDATE SET
			name = EXCLUDED.name, ip = EXCLUDED.ip, game_port = EXCLUDED.game_port,
			server_key = EXCLUDED.server_key, server_key_salt = EXCLUDED.server_key_salt,
			allow_unknown = EXCLUDED.allow_unknown, enabled = EXCLUDED.enabled,
			ignore_globals = EXCLUDED.ignore_globals, permissions = EXCLUDED.permissions,
			updated_on = EXCLUDED.updated_on`).
		ToSql()
	if errQuery != nil {
		return database.ErrCreateQuery
	}

	_, errExec := r.db.Exec(ctx, query, args...)

	return database.DBErr(errExec)
}

func (r PostgresRepository) Delete(ctx context.Context, serverID uuid.UUID) error {
	affected, errExec := r.db.ExecDeleteBuilder(ctx, r.db.Builder().
		Delete("server").
		Where(sq.Expr("server_id = ?", serverID)))
	if errExec != nil {
		return database.DBErr(errExec)
	}

	if affected == 0 {
		return database.ErrNoResult
	}

	return nil
}

func scanServer(row pgx.Row) (Server, error) {
	var (
		server      Server
		port        int32
		permissions int64
	)

	if errScan := row.Scan(&server.ServerID, &server.Name, &server.IP, &port, &server.KeyHash, &server.KeySalt,
		&server.AllowUnknown, &server.Enabled, &server.IgnoreGlobals, &permissions,
		&server.CreatedOn, &server.UpdatedOn); errScan != nil {
		return Server{}, database.DBErr(errScan)
	}

	server.GamePort = uint16(port)                     //nolint:gosec
	server.Permissions = auth.Permission(permissions) //nolint:gosec

	return server, nil
}
