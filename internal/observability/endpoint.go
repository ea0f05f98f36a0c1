// Package observability provides Prometheus metrics functionality for monitoring the audiosrc capture service.
// Sentry error telemetry is handled by the errors package reporter.
package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tphakala/audiosrc/internal/conf"
	apperrors "github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
	metricspkg "github.com/tphakala/audiosrc/internal/observability/metrics"
)

// Endpoint handles all operations related to Prometheus-compatible telemetry.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	debug         bool
}

// NewEndpoint creates a new instance of telemetry Endpoint.
//
// It returns an error if telemetry is not enabled in the settings. The
// function does not create new metrics but serves the provided Metrics
// registry. Profiling handlers are mounted when debug is enabled.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, apperrors.Newf("telemetry not enabled in settings").
			Component("observability").
			Category(apperrors.CategoryConfiguration).
			Context("operation", "new_endpoint").
			Build()
	}

	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		metrics:       metrics,
		debug:         settings.Debug,
	}, nil
}

// Handler returns the HTTP handler serving the endpoint routes.
func (e *Endpoint) Handler() http.Handler {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)
	if e.debug {
		RegisterDebugHandlers(mux)
	}
	return mux
}

// Run serves the endpoint until ctx is done and then shuts the server down
// gracefully. It returns an error only when the listener fails.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return apperrors.New(err).
			Component("observability").
			Category(apperrors.CategoryNetwork).
			Context("operation", "listen").
			Context("address", e.listenAddress).
			Build()
	}
	return e.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	e.server = &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		GetLogger().Info("Telemetry endpoint starting", logger.String("address", ln.Addr().String()))
		errCh <- e.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return apperrors.New(err).
			Component("observability").
			Category(apperrors.CategoryNetwork).
			Context("operation", "serve").
			Build()
	case <-ctx.Done():
	}

	GetLogger().Info("Stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		GetLogger().Error("Telemetry server shutdown error", logger.Error(err))
	}
	<-errCh
	return nil
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
