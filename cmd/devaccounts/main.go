package main

import (
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"devaccounts/internal/observability"
)

func main() {
	logger := observability.NewLogger(observability.ConfigFromEnv())

	// Report panics and pipeline failures to Sentry when a DSN is provided.
	sentryEnabled := false
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      envOr("SENTRY_ENVIRONMENT", "production"),
			Release:          envOr("APP_VERSION", "dev"),
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			sentryEnabled = true
		}
	}

	err := Execute(logger)

	if sentryEnabled {
		if err != nil {
			sentry.CaptureException(err)
		}
		sentry.Flush(2 * time.Second)
	}
	if err != nil {
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
