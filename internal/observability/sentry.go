package observability

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/audiosrc/internal/conf"
	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
	"github.com/tphakala/audiosrc/internal/privacy"
)

// InitSentry enables error reporting when a DSN is configured. The returned
// function flushes pending events and must be called before exit. With no
// DSN it is a no-op.
func InitSentry(settings *conf.Settings, version string) (flush func(), err error) {
	dsn := settings.Telemetry.SentryDSN
	if dsn == "" {
		return func() {}, nil
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // Explicitly clear server name to prevent hostname leakage
		Release:          fmt.Sprintf("audiosrc@%s", version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.Message = privacy.ScrubMessage(event.Message)
			for i := range event.Exception {
				event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
			}
			event.ServerName = ""
			event.User = sentry.User{}
			event.Request = nil
			return event
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	GetLogger().Info("Error reporting enabled", logger.String("release", version))

	return func() { sentry.Flush(2 * time.Second) }, nil
}
