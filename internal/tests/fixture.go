// Package tests holds the shared postgres and mongo fixtures and http helpers used by package tests.
package tests

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/internal/httphelper"
	"github.com/gflze/gflbans/internal/servers"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/gin-gonic/gin"
	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	OwnerSID = steamid.New(76561198084134025) //nolint:gochecknoglobals
	ModSID   = steamid.New(76561198084134026) //nolint:gochecknoglobals
	UserSID  = steamid.New(76561198084134027) //nolint:gochecknoglobals

	ErrContainer = errors.New("failed to bring up test container")
)

const (
	testInfo  = "gflbans-test"
	mongoPort = "27017/tcp"
)

// Fixture is a migrated postgres database and an empty mongo database, each running in a throwaway
// container. It is only created when TEST_INTEGRATION is set.
type Fixture struct {
	container      *postgres.PostgresContainer
	mongoContainer testcontainers.Container
	Database       database.Database
	DSN            string
	Mongo          *database.Mongo
}

func Integration() bool {
	return os.Getenv("TEST_INTEGRATION") != ""
}

// NewFixture starts the container and applies the migrations. It returns nil when integration tests
// are disabled.
func NewFixture() *Fixture {
	if !Integration() {
		return nil
	}

	testCtx, cancel := context.WithTimeout(context.Background(), time.Minute*2)
	defer cancel()

	container, errContainer := postgres.Run(testCtx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase(testInfo),
		postgres.WithUsername(testInfo),
		postgres.WithPassword(testInfo),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	if errContainer != nil {
		panic(errors.Join(errContainer, ErrContainer))
	}

	dsn, errDSN := container.ConnectionString(testCtx, "sslmode=disable")
	if errDSN != nil {
		panic(errors.Join(errDSN, ErrContainer))
	}

	databaseConn := database.New(dsn, true, false)
	if err := databaseConn.Connect(testCtx); err != nil {
		panic(err)
	}

	mongoContainer, mongoDB := newMongo(testCtx)

	return &Fixture{
		container:      container,
		mongoContainer: mongoContainer,
		Database:       databaseConn,
		DSN:            dsn,
		Mongo:          mongoDB,
	}
}

func newMongo(ctx context.Context) (testcontainers.Container, *database.Mongo) {
	container, errContainer := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/mongo:7",
			ExposedPorts: []string{mongoPort},
			WaitingFor: wait.ForAll(
				wait.ForLog("Waiting for connections"),
				wait.ForListeningPort(mongoPort),
			).WithDeadline(time.Minute),
		},
		Started: true,
	})
	if errContainer != nil {
		panic(errors.Join(errContainer, ErrContainer))
	}

	uri, errURI := container.PortEndpoint(ctx, mongoPort, "mongodb")
	if errURI != nil {
		panic(errors.Join(errURI, ErrContainer))
	}

	mongoDB := database.NewMongo(uri, "gflbans_test")
	if err := mongoDB.Connect(ctx); err != nil {
		panic(err)
	}

	return container, mongoDB
}

// Skip marks the test skipped when no fixture is running.
func (f *Fixture) Skip(t *testing.T) {
	t.Helper()

	if f == nil {
		t.Skip("TEST_INTEGRATION not set")
	}
}

func (f *Fixture) Close() {
	if f == nil {
		return
	}

	_ = f.Database.Close()
	_ = f.Mongo.Close()

	termCtx, termCancel := context.WithTimeout(context.Background(), time.Second*30)
	defer termCancel()

	for _, container := range []testcontainers.Container{f.container, f.mongoContainer} {
		if errTerm := container.Terminate(termCtx); errTerm != nil {
			panic(fmt.Sprintf("Failed to terminate test container: %v", errTerm))
		}
	}
}

// Reset empties both stores.
func (f *Fixture) Reset(ctx context.Context) {
	for _, table := range []string{"audit_log", "vpn", "rpc_event", "infraction", "tier_policy", "server"} {
		if err := f.Database.TruncateTable(ctx, table); err != nil {
			panic(err)
		}
	}

	if err := f.Mongo.Truncate(ctx); err != nil {
		panic(err)
	}
}

func CreateRouter() *gin.Engine {
	router, err := httphelper.CreateRouter(httphelper.RouterOpts{LogLevel: log.Error, Mode: gin.TestMode})
	if err != nil {
		panic(err)
	}

	return router
}

// CreateTestServer registers an enabled server reachable from the httptest client address.
func CreateTestServer(ctx context.Context, serversCase servers.Servers, name string, port uint16) (servers.Server, auth.Credential) {
	created, errCreate := serversCase.Create(ctx, servers.RequestServerCreate{
		Name:     name,
		IP:       TestClientIP,
		GamePort: port,
	})
	if errCreate != nil {
		panic(errCreate)
	}

	credential, errCred := auth.ParseCredential(created.Authorization)
	if errCred != nil {
		panic(errCred)
	}

	return created.Server, credential
}
