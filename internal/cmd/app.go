package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gflze/gflbans/internal/audit"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/internal/config"
	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/internal/httphelper"
	"github.com/gflze/gflbans/internal/identity"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/internal/notification"
	"github.com/gflze/gflbans/internal/rpc"
	"github.com/gflze/gflbans/internal/servers"
	"github.com/gflze/gflbans/internal/vpn"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/leighmacdonald/steamid/v4/steamid"
)

var (
	BuildVersion = "master" //nolint:gochecknoglobals
	BuildCommit  = ""       //nolint:gochecknoglobals
	BuildDate    = ""       //nolint:gochecknoglobals
)

// stores holds the repositories of the configured driver.
type stores struct {
	infractions infraction.Repository
	policies    infraction.PolicyRepository
	servers     servers.Repository
	events      rpc.Repository
	vpns        vpn.Repository
	audit       audit.Repository
}

// App owns every long lived component of a running instance.
type App struct {
	config   config.Config
	database database.Database
	mongo    *database.Mongo
	sentry   *sentry.Client
	stores   stores

	servers     servers.Servers
	serverAuth  *servers.ServerAuth
	infractions infraction.Infractions
	admins      auth.Admins
	audits      audit.Audits
	vpns        vpn.VPNs
	broker      rpc.Broker
	coordinator rpc.Coordinator
	purge       *rpc.PurgeScheduler
	discord     *notification.DiscordNotifier

	logCloser func()
}

func NewApp(conf config.Config) *App {
	return &App{config: conf}
}

// Open sets up logging and connects the configured store. It is enough for the maintenance commands.
func (a *App) Open(ctx context.Context) error {
	a.setupSentry()

	a.logCloser = log.MustCreateLogger(ctx, a.config.Log.File, log.ParseLevel(string(a.config.Log.Level)),
		a.sentry != nil, BuildVersion)

	switch a.config.Database.Driver {
	case database.DriverMongo:
		mongoDB := database.NewMongo(a.config.Database.MongoURI, a.config.Database.MongoDB)
		if errConnect := mongoDB.Connect(ctx); errConnect != nil {
			slog.Error("Cannot initialize mongo", log.ErrAttr(errConnect))

			return errConnect
		}

		a.mongo = mongoDB

		infractionRepo := infraction.NewMongoRepository(mongoDB)
		serverRepo := servers.NewMongoRepository(mongoDB)
		eventRepo := rpc.NewMongoRepository(mongoDB)
		vpnRepo := vpn.NewMongoRepository(mongoDB)
		auditRepo := audit.NewMongoRepository(mongoDB)

		for _, initializer := range []interface{ Init(context.Context) error }{
			infractionRepo, serverRepo, eventRepo, vpnRepo, auditRepo,
		} {
			if errInit := initializer.Init(ctx); errInit != nil {
				return errInit
			}
		}

		a.stores = stores{
			infractions: infractionRepo,
			policies:    infractionRepo,
			servers:     serverRepo,
			events:      eventRepo,
			vpns:        vpnRepo,
			audit:       auditRepo,
		}
	case database.DriverMemory:
		slog.Warn("Using the in-memory store, nothing will be persisted")

		infractionRepo := infraction.NewMemoryRepository()
		a.stores = stores{
			infractions: infractionRepo,
			policies:    infractionRepo,
			servers:     servers.NewMemoryRepository(),
			events:      rpc.NewMemoryRepository(),
			vpns:        vpn.NewMemoryRepository(),
			audit:       audit.NewMemoryRepository(),
		}
	default:
		dbConn := database.New(a.config.Database.DSN, a.config.Database.AutoMigrate, a.config.Database.LogQueries)
		if errConnect := dbConn.Connect(ctx); errConnect != nil {
			slog.Error("Cannot initialize database", log.ErrAttr(errConnect))

			return errConnect
		}

		a.database = dbConn
		infractionRepo := infraction.NewPostgresRepository(dbConn)
		a.stores = stores{
			infractions: infractionRepo,
			policies:    infractionRepo,
			servers:     servers.NewPostgresRepository(dbConn),
			events:      rpc.NewPostgresRepository(dbConn),
			vpns:        vpn.NewPostgresRepository(dbConn),
			audit:       audit.NewPostgresRepository(dbConn),
		}
	}

	a.servers = servers.NewServers(a.stores.servers)
	a.broker = rpc.NewBroker(a.stores.events, a.servers, rpc.BrokerConfig{
		AckPollInterval: a.config.RPC.AckPollInterval,
		Retention:       a.config.RPC.Retention,
	})
	a.audits = audit.NewAudits(a.stores.audit, a.config.Audit.Retention, nil)

	return nil
}

// Init builds the request serving components on top of Open.
func (a *App) Init(ctx context.Context) error {
	if errOpen := a.Open(ctx); errOpen != nil {
		return errOpen
	}

	slog.Info("Starting gflbans...",
		slog.String("version", BuildVersion),
		slog.String("commit", BuildCommit),
		slog.String("date", BuildDate),
		slog.String("driver", string(a.config.Database.Driver)))

	if a.config.General.SteamKey != "" {
		if errKey := steamid.SetKey(a.config.General.SteamKey); errKey != nil {
			return errors.Join(errKey, errSteamKey)
		}
	}

	apiKeys, errKeys := a.config.APIKeys()
	if errKeys != nil {
		return errKeys
	}

	if len(apiKeys) == 0 {
		slog.Warn("No api keys configured, only game servers can authenticate")
	}

	a.serverAuth = servers.NewServerAuth(a.servers, apiKeys, a.config.Log.SentryDSN)

	admins, errAdmins := a.config.Admins()
	if errAdmins != nil {
		return errAdmins
	}

	a.admins = admins

	var asn vpn.ASNResolver
	if a.config.VPN.ASNLookupURL != "" {
		asn = vpn.NewHTTPASNResolver(a.config.VPN.ASNLookupURL)
	}

	a.vpns = vpn.NewVPNs(a.stores.vpns, asn, a.audits, vpn.Config{
		CacheSize: a.config.VPN.CacheSize,
		CacheTTL:  a.config.VPN.CacheTTL,
	})

	notifiers := notification.Notifiers{notification.NewLogNotifier()}

	if a.config.Discord.Enabled {
		session, errSession := notification.NewDiscordSession()
		if errSession != nil {
			return errSession
		}

		discord, errDiscord := notification.NewDiscordNotifier(session, notification.DiscordConfig{
			WebhookID:    a.config.Discord.WebhookID,
			WebhookToken: a.config.Discord.WebhookToken,
			ExternalURL:  a.config.General.ExternalURL,
		})
		if errDiscord != nil {
			return errDiscord
		}

		a.discord = discord
		notifiers = append(notifiers, discord)
	}

	a.coordinator = rpc.NewCoordinator(a.servers, a.stores.infractions, a.broker, rpc.CoordinatorConfig{
		FanOut: a.config.RPC.FanOut,
	})

	resolver := identity.NewSteamResolver(identity.Opts{
		CacheSize: a.config.Identity.CacheSize,
		CacheTTL:  a.config.Identity.CacheTTL,
		RateLimit: a.config.Identity.RateLimit,
	})

	a.infractions = infraction.NewInfractions(a.stores.infractions, a.stores.policies, a.servers, resolver,
		a.admins, a.vpns, a.audits, notifiers, a.coordinator,
		infraction.Config{
			HeartbeatGap:   a.config.Infraction.HeartbeatMaxGap,
			AltConcurrency: a.config.Infraction.AltConcurrency,
		})

	a.purge = rpc.NewPurgeScheduler(a.config.RPC.PurgeSchedule,
		rpc.PurgeJob{Name: "rpc_events", Purger: a.broker},
		rpc.PurgeJob{Name: "audit_log", Purger: a.audits})

	return nil
}

var errSteamKey = errors.New("invalid steam api key")

func (a *App) setupSentry() {
	if a.config.Log.SentryDSN == "" {
		slog.Info("Sentry.io support is disabled. To enable, set logging.sentry_dsn.")

		return
	}

	sentryClient, err := log.NewSentryClient(a.config.Log.SentryDSN, true, 0.25, BuildVersion,
		string(a.config.General.Mode))
	if err != nil {
		slog.Error("Failed to setup sentry client", log.ErrAttr(err))

		return
	}

	slog.Info("Sentry.io support is enabled.")

	a.sentry = sentryClient
}

// StartBackground launches the workers that live for the duration of ctx.
func (a *App) StartBackground(ctx context.Context) error {
	if a.discord != nil {
		go a.discord.Start(ctx)
	}

	return a.purge.Start(ctx)
}

func (a *App) router() (http.Handler, error) {
	router, errRouter := httphelper.CreateRouter(httphelper.RouterOpts{
		HTTPLogEnabled:    a.config.Log.HTTPEnabled,
		LogLevel:          log.ParseLevel(string(a.config.Log.Level)),
		Mode:              string(a.config.General.Mode),
		SentryDSN:         a.config.Log.SentryDSN,
		Version:           BuildVersion,
		PProfEnabled:      a.config.HTTP.PProfEnabled,
		PrometheusEnabled: a.config.HTTP.PrometheusEnabled,
		HTTPCORSEnabled:   a.config.HTTP.CorsEnabled,
		CORSOrigins:       a.config.HTTP.CorsOrigins,
	})
	if errRouter != nil {
		return nil, errRouter
	}

	var origins []string
	if a.config.HTTP.CorsEnabled {
		origins = a.config.HTTP.CorsOrigins
	}

	infraction.NewInfractionHandler(router, a.infractions, a.serverAuth.Middleware)
	servers.NewServersHandler(router, a.servers, a.serverAuth)
	vpn.NewVPNHandler(router, a.vpns, a.admins, a.serverAuth.Middleware)
	audit.NewAuditHandler(router, a.audits, a.serverAuth.Middleware)
	rpc.NewRPCHandler(router, a.broker, a.servers, a.serverAuth.Middleware, rpc.HandlerConfig{
		PushInterval: a.config.RPC.PushInterval,
		KickTimeout:  a.config.RPC.KickTimeout,
		Origins:      origins,
		Auditor:      a.audits,
	})

	return router, nil
}

func (a *App) Serve(rootCtx context.Context) error {
	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errBackground := a.StartBackground(ctx); errBackground != nil {
		return errBackground
	}

	router, errRouter := a.router()
	if errRouter != nil {
		slog.Error("Could not setup router", log.ErrAttr(errRouter))

		return errRouter
	}

	httpServer := httphelper.NewServer(a.config.HTTP.Addr(), router)

	go func() {
		<-ctx.Done()

		slog.Info("Shutting down HTTP service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		if errShutdown := httpServer.Shutdown(shutdownCtx); errShutdown != nil { //nolint:contextcheck
			slog.Error("Error shutting down http service", log.ErrAttr(errShutdown))
		}
	}()

	slog.Info("Starting HTTP server", slog.String("address", a.config.HTTP.Addr()),
		slog.String("url", a.config.General.ExternalURL))

	errServe := httpServer.ListenAndServe()
	if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		slog.Error("HTTP server returned error", log.ErrAttr(errServe))

		return fmt.Errorf("http server: %w", errServe)
	}

	<-ctx.Done()

	slog.Info("Exiting...")

	return nil
}

func (a *App) Close() {
	if a.database != nil {
		if errClose := a.database.Close(); errClose != nil {
			slog.Error("Failed to close database cleanly", log.ErrAttr(errClose))
		}
	}

	if a.mongo != nil {
		log.Closer(a.mongo)
	}

	if a.sentry != nil {
		a.sentry.Flush(2 * time.Second)
	}

	if a.logCloser != nil {
		a.logCloser()
	}
}
