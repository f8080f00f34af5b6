// Package database provides the postgres and mongodb connections shared by the repositories.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	pgxuuid "github.com/jackc/pgx-gofrs-uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNoResult is returned on successful queries which return no rows.
	ErrNoResult = errors.New("no results found")
	// ErrDuplicate is returned when a duplicate row result is attempted to be inserted.
	ErrDuplicate = errors.New("entity already exists")

	ErrPoolFailed    = errors.New("could not create store pool")
	ErrCreateQuery   = errors.New("failed to generate query")
	ErrUnknownDriver = errors.New("unknown database driver")
)

//go:embed migrations
var migrations embed.FS

// Driver selects the backing store used by the repositories.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMongo    Driver = "mongo"
	DriverMemory   Driver = "memory"
)

func ParseDriver(value string) (Driver, error) {
	switch Driver(value) {
	case DriverPostgres, DriverMongo, DriverMemory:
		return Driver(value), nil
	case "":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownDriver, value)
	}
}

// Database is the common postgres interface. Errors returned by the query methods are not wrapped, callers
// should pass them through DBErr.
type Database interface {
	Connect(ctx context.Context) error
	Close() error
	Migrate(action MigrationAction) error
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryBuilder(ctx context.Context, builder sq.SelectBuilder) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	QueryRowBuilder(ctx context.Context, builder sq.SelectBuilder) (pgx.Row, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	ExecInsertBuilder(ctx context.Context, builder sq.InsertBuilder) error
	ExecDeleteBuilder(ctx context.Context, builder sq.DeleteBuilder) (int64, error)
	ExecUpdateBuilder(ctx context.Context, builder sq.UpdateBuilder) (int64, error)
	Builder() sq.StatementBuilderType
	GetCount(ctx context.Context, builder sq.SelectBuilder) (int64, error)
	TruncateTable(ctx context.Context, table string) error
	WrapTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type dbQueryTracer struct{}

func (tracer *dbQueryTracer) TraceQueryStart(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	slog.Debug("Executing command", slog.String("sql", data.SQL), slog.Any("args", data.Args))

	return ctx
}

func (tracer *dbQueryTracer) TraceQueryEnd(_ context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) {
		slog.Debug("Command failed", slog.String("error", data.Err.Error()))
	}
}

type postgresStore struct {
	conn *pgxpool.Pool
	// Use $ for pg based queries.
	sb          sq.StatementBuilderType
	dsn         string
	autoMigrate bool
	migrated    bool
	logQueries  bool
}

func New(dsn string, autoMigrate bool, logQueries bool) Database {
	return &postgresStore{
		sb:          sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		dsn:         dsn,
		autoMigrate: autoMigrate,
		logQueries:  logQueries,
	}
}

// DBErr is used to wrap common database errors in owr own error types.
func DBErr(rootError error) error {
	if rootError == nil {
		return nil
	}

	if errors.Is(rootError, pgx.ErrNoRows) {
		return ErrNoResult
	}

	var pgErr *pgconn.PgError

	if errors.As(rootError, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return ErrDuplicate
		default:
			return rootError
		}
	}

	return rootError
}

func (db *postgresStore) WrapTx(ctx context.Context, txFunc func(pgx.Tx) error) error {
	transaction, errTx := db.conn.Begin(ctx)
	if errTx != nil {
		return DBErr(errTx)
	}

	if err := txFunc(transaction); err != nil {
		if errRollback := transaction.Rollback(ctx); errRollback != nil {
			return errors.Join(err, DBErr(errRollback))
		}

		return err
	}

	if err := transaction.Commit(ctx); err != nil {
		return DBErr(err)
	}

	return nil
}

// Connect migrates the schema when enabled and opens the pool.
func (db *postgresStore) Connect(ctx context.Context) error {
	cfg, errConfig := pgxpool.ParseConfig(db.dsn)
	if errConfig != nil {
		return fmt.Errorf("unable to parse db config/dsn: %w", errConfig)
	}

	cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxuuid.Register(conn.TypeMap())

		return nil
	}

	if db.logQueries {
		cfg.ConnConfig.Tracer = &dbQueryTracer{}
	}

	if db.autoMigrate && !db.migrated {
		if errMigrate := db.Migrate(MigrateUp); errMigrate != nil {
			return fmt.Errorf("could not migrate schema: %w", errMigrate)
		}
	}

	dbConn, errConnectConfig := pgxpool.NewWithConfig(ctx, cfg)
	if errConnectConfig != nil {
		return errors.Join(errConnectConfig, ErrPoolFailed)
	}

	db.conn = dbConn

	return nil
}

func (db *postgresStore) Builder() sq.StatementBuilderType {
	return db.sb
}

//nolint:ireturn
func (db *postgresStore) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return db.conn.Query(ctx, query, args...) //nolint:wrapcheck
}

func (db *postgresStore) QueryBuilder(ctx context.Context, builder sq.SelectBuilder) (pgx.Rows, error) { //nolint:ireturn
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return nil, errors.Join(errQuery, ErrCreateQuery)
	}

	return db.Query(ctx, query, args...)
}

func (db *postgresStore) QueryRow(ctx context.Context, query string, args ...any) pgx.Row { //nolint:ireturn
	return db.conn.QueryRow(ctx, query, args...)
}

func (db *postgresStore) QueryRowBuilder(ctx context.Context, builder sq.SelectBuilder) (pgx.Row, error) { //nolint:ireturn
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return nil, errors.Join(errQuery, ErrCreateQuery)
	}

	return db.conn.QueryRow(ctx, query, args...), nil
}

// Exec returns the number of affected rows.
func (db *postgresStore) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := db.conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	return tag.RowsAffected(), nil
}

func (db *postgresStore) ExecInsertBuilder(ctx context.Context, builder sq.InsertBuilder) error {
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return errors.Join(errQuery, ErrCreateQuery)
	}

	_, err := db.Exec(ctx, query, args...)

	return err
}

func (db *postgresStore) ExecDeleteBuilder(ctx context.Context, builder sq.DeleteBuilder) (int64, error) {
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return 0, errors.Join(errQuery, ErrCreateQuery)
	}

	return db.Exec(ctx, query, args...)
}

func (db *postgresStore) ExecUpdateBuilder(ctx context.Context, builder sq.UpdateBuilder) (int64, error) {
	query, args, errQuery := builder.ToSql()
	if errQuery != nil {
		return 0, errors.Join(errQuery, ErrCreateQuery)
	}

	return db.Exec(ctx, query, args...)
}

// Close will close the underlying database connection if it exists.
func (db *postgresStore) Close() error {
	if db.conn != nil {
		db.conn.Close()
	}

	return nil
}

func (db *postgresStore) GetCount(ctx context.Context, builder sq.SelectBuilder) (int64, error) {
	countQuery, argsCount, errCountQuery := builder.ToSql()
	if errCountQuery != nil {
		return 0, errors.Join(errCountQuery, ErrCreateQuery)
	}

	var count int64
	if errCount := db.
		QueryRow(ctx, countQuery, argsCount...).
		Scan(&count); errCount != nil {
		return 0, errCount //nolint:wrapcheck
	}

	return count, nil
}

func (db *postgresStore) TruncateTable(ctx context.Context, table string) error {
	if _, errExec := db.Exec(ctx, "TRUNCATE "+pgx.Identifier{table}.Sanitize()+" CASCADE"); errExec != nil {
		return DBErr(errExec)
	}

	return nil
}
