// Package telemetry wires Sentry error tracking into the Kino backend.
//
// Usage in main:
//
//	telemetry.Init(cfg.SentryDSN, version)
//	defer telemetry.Flush()
//
// Usage at failure sites:
//
//	telemetry.CaptureError(err, map[string]string{"operation": "blob_create"})
package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/reelworks/kino/internal/respond"
)

// Init initializes the Sentry SDK. dsn may be empty, in which case Sentry
// stays disabled and every Capture call is a no-op. release should be the
// git SHA or version tag.
func Init(dsn, release string) error {
	env := os.Getenv("KINO_ENV")
	if env == "" {
		env = "development"
	}

	if dsn == "" {
		fmt.Fprintln(os.Stderr, "[telemetry] SENTRY_DSN not set, Sentry disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		AttachStacktrace: true,
		Tags:             map[string]string{"service": "kino"},
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return scrub(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	return nil
}

// CaptureError sends an error to Sentry with optional context tags.
// Safe to call when Sentry is disabled.
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent. Call with defer in main.
func Flush() {
	sentry.Flush(2 * time.Second)
}

// Recover is an HTTP middleware that catches panics, reports them to
// Sentry with request context, and answers 500.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Scope().SetTag("panic", "true")

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				hub.CaptureException(err)
				hub.Flush(2 * time.Second)

				respond.Internal(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// scrub strips PII from events before transmission: user emails, IPs,
// and credential-bearing headers.
func scrub(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}
	if event.User.Email != "" {
		event.User.Email = "[redacted]"
	}
	event.User.IPAddress = ""
	if event.Request != nil {
		for k := range event.Request.Headers {
			switch k {
			case "Authorization", "Cookie", "X-New-Access-Token":
				event.Request.Headers[k] = "[redacted]"
			}
		}
	}
	return event
}
