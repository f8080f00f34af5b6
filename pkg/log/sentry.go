package log

import (
	"errors"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
)

var ErrClientInit = errors.New("failed to initialize sentry client")

// NewSentryClient binds a client to the current hub. Release mode reports as production, every other mode
// as development.
func NewSentryClient(dsn string, tracing bool, sampleRate float64, buildVersion string, mode string) (*sentry.Client, error) {
	env := "production"
	if mode != gin.ReleaseMode {
		env = "development"
	}

	client, errClient := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		EnableTracing:    tracing,
		TracesSampleRate: sampleRate,
		SendDefaultPII:   false,
		SampleRate:       1.0,
		Release:          "gflbans@" + buildVersion,
		Environment:      env,
	})
	if errClient != nil {
		return nil, errors.Join(errClient, ErrClientInit)
	}

	sentry.CurrentHub().BindClient(client)

	return client, nil
}
