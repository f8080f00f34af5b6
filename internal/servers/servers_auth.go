package servers

import (
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/gin-gonic/gin"
)

func NewServerAuth(servers Servers, apiKeys auth.APIKeys, sentryDSN string) *ServerAuth {
	return &ServerAuth{servers: servers, apiKeys: apiKeys, sentryDSN: sentryDSN}
}

// ServerAuth turns the authorization credential of a request into an auth.Actor. Game servers present
// `SERVER <server_id> <key>` and tooling presents `API <name> <key>`.
type ServerAuth struct {
	servers   Servers
	apiKeys   auth.APIKeys
	sentryDSN string
}

// credential reads the Authorization header, falling back to query params for websocket clients that
// cannot set headers.
func credential(ctx *gin.Context) (auth.Credential, error) {
	if header := ctx.GetHeader("Authorization"); header != "" {
		return auth.ParseCredential(header)
	}

	tokenType := ctx.Query("token_type")
	if tokenType == "" {
		return auth.Credential{}, auth.ErrInvalidCredential
	}

	return auth.ParseCredential(tokenType + " " + ctx.Query("token_id") + " " + ctx.Query("token_secret"))
}

func (s ServerAuth) Middleware(ctx *gin.Context) {
	cred, errCred := credential(ctx)
	if errCred != nil {
		ctx.AbortWithStatus(http.StatusUnauthorized)

		return
	}

	var actor auth.Actor

	switch cred.Kind {
	case auth.CredentialAPI:
		key, found := s.apiKeys.Find(cred.ID, cred.Secret)
		if !found {
			slog.Warn("Rejected api key", slog.String("name", cred.ID), slog.String("ip", ctx.ClientIP()))
			ctx.AbortWithStatus(http.StatusUnauthorized)

			return
		}

		actor = key.Actor()
	case auth.CredentialServer:
		server, errServer := s.servers.ByKey(ctx, cred, ctx.ClientIP())
		if errServer != nil {
			slog.Warn("Rejected server key", log.ErrAttr(errServer),
				slog.String("server_id", cred.ID), slog.String("ip", ctx.ClientIP()))
			ctx.AbortWithStatus(http.StatusUnauthorized)

			return
		}

		actor = server.Actor()
	}

	auth.SetActor(ctx, actor)

	if s.sentryDSN != "" {
		if hub := sentrygin.GetHubFromContext(ctx); hub != nil {
			hub.Scope().SetUser(sentry.User{
				ID:        cred.ID,
				IPAddress: ctx.ClientIP(),
				Name:      actor.Name,
			})
		}
	}

	ctx.Next()
}

// ServerOnly rejects actors that are not game servers. It must be installed after Middleware.
func ServerOnly() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, found := auth.CurrentActor(ctx)
		if !found || !actor.IsServer() {
			ctx.AbortWithStatus(http.StatusForbidden)

			return
		}

		ctx.Next()
	}
}
