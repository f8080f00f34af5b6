// Package httphelper builds the gin engine and holds the request binding and error response helpers
// shared by every http handler.
package httphelper

import (
	"errors"
	"log/slog"
	"net"
	"net/netip"

	"github.com/Depado/ginprom"
	"github.com/gflze/gflbans/pkg/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/leighmacdonald/steamid/v4/steamid"
	sloggin "github.com/samber/slog-gin"
)

var ErrValidator = errors.New("failed to register validator")

type RouterOpts struct {
	HTTPLogEnabled    bool
	LogLevel          log.Level
	Mode              string
	SentryDSN         string
	Version           string
	PProfEnabled      bool
	PrometheusEnabled bool
	HTTPCORSEnabled   bool
	CORSOrigins       []string
}

// CreateRouter constructs a new router using gin.Engine with the provided RouterOpts.
func CreateRouter(opts RouterOpts) (*gin.Engine, error) {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(recoveryHandler())
	engine.Use(errorHandler())

	if errReg := registerCustomValidators(); errReg != nil {
		return nil, errReg
	}

	if opts.HTTPLogEnabled {
		useSloggin(engine, opts.LogLevel)
	}

	if opts.SentryDSN != "" {
		useSentry(engine, opts.Version)
	}

	if opts.PProfEnabled {
		pprof.Register(engine)
	}

	if opts.HTTPCORSEnabled {
		useCors(engine, opts.CORSOrigins, opts.Mode != gin.ReleaseMode)
	}

	if opts.PrometheusEnabled {
		usePrometheus(engine)
	}

	return engine, nil
}

// registerCustomValidators handles registering our custom request field type validators within the
// validation engine that gin uses.
func registerCustomValidators() error {
	if instance, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := instance.RegisterValidation("steamid", steamIDValidator); err != nil {
			return errors.Join(err, ErrValidator)
		}

		if err := instance.RegisterValidation("ip_addr", ipAddrValidator); err != nil {
			return errors.Join(err, ErrValidator)
		}

		if err := instance.RegisterValidation("address", addressValidator); err != nil {
			return errors.Join(err, ErrValidator)
		}
	}

	return nil
}

func steamIDValidator(fl validator.FieldLevel) bool {
	switch value := fl.Field().Interface().(type) {
	case steamid.SteamID:
		return value.Valid()
	case string:
		sid := steamid.New(value)

		return sid.Valid()
	default:
		return false
	}
}

func ipAddrValidator(fl validator.FieldLevel) bool {
	value, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	_, errAddr := netip.ParseAddr(value)

	return errAddr == nil
}

// addressValidator accepts host:port pairs.
func addressValidator(fl validator.FieldLevel) bool {
	value, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	host, port, errSplit := net.SplitHostPort(value)

	return errSplit == nil && host != "" && port != ""
}

func useCors(engine *gin.Engine, origins []string, devMode bool) {
	engine.Use(useSecure(devMode))

	if len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
		corsConfig.AllowWildcard = true

		engine.Use(cors.New(corsConfig))
	} else {
		slog.Warn("No cors origins defined, disabling")
	}
}

func usePrometheus(engine *gin.Engine) {
	prom := ginprom.New(ginprom.Engine(engine), func(prom *ginprom.Prometheus) {
		prom.Namespace = "gflbans"
		prom.Subsystem = "http"
	})
	engine.Use(prom.Instrument())
}

func useSloggin(engine *gin.Engine, level log.Level) {
	engine.Use(sloggin.NewWithConfig(slog.Default(), sloggin.Config{
		DefaultLevel:     log.ToSlogLevel(level),
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
}
