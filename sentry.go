package main

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// InitSentry initializes the Sentry client with the given DSN
func InitSentry(dsn, release string) error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      getEnvironment(),
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	sentryEnabled = true
	return nil
}

// getEnvironment determines the environment (dev or production)
func getEnvironment() string {
	if env := os.Getenv("SQLGRID_ENV"); env != "" {
		return env
	}
	if _, err := os.Stat(".git"); err == nil {
		return "development"
	}
	return "production"
}

// FlushAndShutdown flushes pending Sentry events
func FlushAndShutdown() {
	if sentryEnabled {
		sentry.Flush(5 * time.Second)
	}
}

// CaptureError sends err to Sentry along with the pending breadcrumbs.
// It is a no-op until InitSentry succeeds.
func CaptureError(err error, command string) {
	if err == nil || !sentryEnabled {
		return
	}

	breadcrumbs.Flush()

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("command", command)
		sentry.CaptureException(err)
	})
}
