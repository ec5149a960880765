package main

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

// telemetryActive is set once Sentry has been initialised.
var telemetryActive bool

// InitSentry initializes the Sentry client with the given DSN
func InitSentry(dsn string) error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      getEnvironment(),
		TracesSampleRate: 0.1,
		AttachStacktrace: true,
		// statements and literals can carry user data
		BeforeBreadcrumb: func(b *sentry.Breadcrumb, _ *sentry.BreadcrumbHint) *sentry.Breadcrumb {
			delete(b.Data, "sql")
			return b
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	telemetryActive = true
	return nil
}

// setupTelemetry initialises Sentry when the user opted in. The DSN comes from
// PGTED_SENTRY_DSN or settings.json.
func setupTelemetry(settings *Settings) {
	InitBreadcrumbs(100)
	if !settings.TelemetryEnabled {
		return
	}
	dsn := os.Getenv("PGTED_SENTRY_DSN")
	if dsn == "" {
		dsn = settings.SentryDSN
	}
	if dsn == "" {
		return
	}
	if err := InitSentry(dsn); err != nil {
		debugLog("%v\n", err)
	}
}

// getEnvironment determines the environment (dev or production)
func getEnvironment() string {
	if _, err := os.Stat(".git"); err == nil {
		return "development"
	}
	if os.Getenv("PGTED_ENV") == "dev" {
		return "development"
	}
	return "production"
}

// FlushAndShutdown flushes pending Sentry events and closes the client
func FlushAndShutdown() {
	if telemetryActive {
		sentry.Flush(5 * time.Second)
	}
}

// CaptureError sends an error to Sentry along with any pending breadcrumbs
func CaptureError(err error) {
	if err == nil || !telemetryActive {
		return
	}

	if breadcrumbs != nil {
		breadcrumbs.Flush()
	}

	sentry.CaptureException(err)
}
