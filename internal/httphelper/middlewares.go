package httphelper

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gflze/gflbans/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
	"github.com/unrolled/secure/cspbuilder"
)

func recoveryHandler() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		slog.Error("Recovery error:", slog.String("err", fmt.Sprintf("%v", err)))

		c.JSON(http.StatusInternalServerError, gin.H{
			"message": "Something went wrong",
		})
	})
}

func errorHandler() gin.HandlerFunc {
	// To conform to rfc9457, we need to set the content-type. Calling ctx.JSON() would use the default application/json
	// content type.
	abort := func(ctx *gin.Context, apiError APIError) {
		ctx.Header("Content-Type", "application/problem+json")
		ctx.Status(apiError.Status)

		if err := json.NewEncoder(ctx.Writer).Encode(apiError); err != nil {
			ctx.Abort()
		}
	}

	capture := func(ctx *gin.Context, level sentry.Level, err error, extra map[string]any) {
		hub := sentrygin.GetHubFromContext(ctx)
		if hub == nil {
			return
		}

		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(level)
			scope.SetExtras(extra)
			hub.CaptureException(err)
		})
	}

	return func(ctx *gin.Context) {
		ctx.Next()

		err := ctx.Errors.Last()
		if err == nil {
			return
		}

		ctx.Abort()

		var apiError APIError
		if errors.As(err, &apiError) {
			abort(ctx, apiError)

			if apiError.Status >= http.StatusInternalServerError {
				capture(ctx, sentry.LevelError, apiError, map[string]any{"title": apiError.Title, "detail": apiError.Detail})
			}
		} else {
			abort(ctx, NewAPIError(http.StatusInternalServerError, ErrInternal))
			capture(ctx, sentry.LevelWarning, err, nil)
		}

		args := []any{
			slog.String("method", ctx.Request.Method),
			slog.String("path", ctx.Request.URL.Path),
			slog.String("error", err.Error()),
		}

		if actor, found := auth.CurrentActor(ctx); found {
			args = append(args, slog.String("actor", actor.Name), slog.String("actor_kind", actor.Kind.String()))
		}

		if apiError.Status > 0 && apiError.Status < http.StatusInternalServerError {
			slog.Warn("Rejected http request", args...)
		} else {
			slog.Error("Error in http handler", args...)
		}
	}
}

// useSecure sets the security headers. Only json is served so the content security policy forbids everything.
func useSecure(devMode bool) gin.HandlerFunc {
	cspBuilder := cspbuilder.Builder{
		Directives: map[string][]string{
			cspbuilder.DefaultSrc:     {"'none'"},
			cspbuilder.FrameAncestors: {"'none'"},
		},
	}

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ContentSecurityPolicy: cspBuilder.MustBuild(),
		IsDevelopment:         devMode,
	})

	return func(ctx *gin.Context) {
		if err := secureMiddleware.Process(ctx.Writer, ctx.Request); err != nil {
			ctx.Abort()

			return
		}

		// Avoid header rewrite if response is a redirection.
		if status := ctx.Writer.Status(); status > 300 && status < 399 {
			ctx.Abort()
		}
	}
}

func useSentry(engine *gin.Engine, version string) {
	engine.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	engine.Use(func(ctx *gin.Context) {
		if hub := sentrygin.GetHubFromContext(ctx); hub != nil {
			hub.Scope().SetTag("version", version)
		}

		ctx.Next()
	})
}
