// Package capture runs a capture session end to end: it opens the configured
// source, pulls buffers into an optional WAV sink and serves telemetry and
// session events while the session runs.
package capture

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/audiosrc/internal/audiocore"
	"github.com/tphakala/audiosrc/internal/audiocore/sources"
	"github.com/tphakala/audiosrc/internal/audiocore/wavsink"
	"github.com/tphakala/audiosrc/internal/conf"
	"github.com/tphakala/audiosrc/internal/errors"
	"github.com/tphakala/audiosrc/internal/logger"
	"github.com/tphakala/audiosrc/internal/mqtt"
	"github.com/tphakala/audiosrc/internal/observability"
	"github.com/tphakala/audiosrc/internal/observability/metrics"
)

// DefaultStateInterval is how often session state is logged and published.
const DefaultStateInterval = 10 * time.Second

// GetLogger returns the capture runner logger
func GetLogger() logger.Logger {
	return logger.Global().Module("capture")
}

// Summary describes a finished run
type Summary struct {
	SessionID       string
	Pulls           uint64
	Frames          uint64
	Discontinuities uint64
	Diagnostics     audiocore.Diagnostics
}

// Runner wires a session to its consumers. Fields left nil are built from
// the settings by Run.
type Runner struct {
	Settings      *conf.Settings
	Source        audiocore.CaptureSource
	Metrics       *observability.Metrics
	Publisher     *mqtt.Publisher
	StateInterval time.Duration
	log           logger.Logger
}

// Run captures with the given settings until ctx is done or the configured
// output duration elapses.
func Run(ctx context.Context, settings *conf.Settings) error {
	_, err := (&Runner{Settings: settings}).Run(ctx)
	return err
}

func (r *Runner) setup() error {
	r.log = GetLogger()
	if r.StateInterval <= 0 {
		r.StateInterval = DefaultStateInterval
	}
	if r.Metrics == nil {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		r.Metrics = m
	}
	if r.Source == nil {
		src, err := sources.CreateSource(&r.Settings.Capture)
		if err != nil {
			return err
		}
		r.Source = src
	}
	if r.Publisher == nil && r.Settings.MQTT.Enabled {
		cfg := mqtt.ConfigFromSettings(&r.Settings.MQTT)
		r.Publisher = mqtt.NewPublisher(mqtt.NewClient(cfg, r.Metrics.MQTT), cfg.Topic,
			mqtt.WithPublisherMetrics(r.Metrics.MQTT))
	}
	return nil
}

// Run prepares and starts the session, pulls until done and tears the
// session down again.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if err := r.setup(); err != nil {
		return nil, err
	}

	cfg, err := audiocore.ConfigFromSettings(&r.Settings.Capture)
	if err != nil {
		return nil, err
	}

	opts := []audiocore.SessionOption{
		audiocore.WithSessionClock(audiocore.NewSystemClock()),
		audiocore.WithMetrics(r.Metrics.Capture, r.Metrics.Capture),
	}
	if w := sources.Watcher(r.Source); w != nil {
		opts = append(opts, audiocore.WithDeviceWatcher(w))
	}
	if r.Publisher != nil {
		opts = append(opts, audiocore.WithDeviceLostHandler(r.Publisher.DeviceLost))
	} else {
		opts = append(opts, audiocore.WithDeviceLostHandler(func(id string, err error) {
			r.log.Warn("capture device lost", logger.String("session_id", id), logger.Error(err))
		}))
	}

	session := audiocore.NewSession(cfg, r.Source, opts...)
	if err := session.Prepare(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Unprepare(); err != nil {
			r.log.Warn("failed to release capture device", logger.Error(err))
		}
	}()

	var sink *wavsink.Sink
	if path := r.Settings.Output.Path; path != "" {
		sink, err = wavsink.Create(path, session.Format(), wavsink.WithGapFill(true))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				r.log.Error("failed to finalize WAV file", logger.Error(err))
			}
		}()
	}

	var endpoint *observability.Endpoint
	if r.Settings.Telemetry.Enabled {
		if endpoint, err = observability.NewEndpoint(r.Settings, r.Metrics); err != nil {
			return nil, err
		}
	}

	if err := session.Start(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d := r.Settings.Output.Duration; d > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, d)
		defer cancel()
	}

	summary := &Summary{SessionID: session.ID()}
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return r.pullLoop(gctx, session, sink, summary)
	})

	if endpoint != nil {
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	if r.Publisher != nil {
		g.Go(func() error { return r.Publisher.Run(gctx) })
	}

	g.Go(func() error {
		r.reportState(gctx, session)
		return nil
	})

	r.log.Info("capture running",
		logger.String("session_id", session.ID()),
		logger.String("device", session.Description()),
		logger.String("format", session.Format().String()),
		logger.String("output", r.Settings.Output.Path))

	runErr := g.Wait()
	if err := session.Stop(); err != nil {
		r.log.Warn("failed to stop capture session", logger.Error(err))
	}

	summary.Diagnostics = session.Diagnostics()
	if sink != nil {
		r.log.Info("WAV output written",
			logger.String("path", r.Settings.Output.Path),
			logger.Uint64("frames", sink.Frames()),
			logger.Uint64("gaps", sink.Gaps()))
	}
	return summary, runErr
}

// pullLoop pulls sequential buffers until ctx is done.
func (r *Runner) pullLoop(ctx context.Context, session *audiocore.Session, sink *wavsink.Sink, summary *Summary) error {
	recorder := r.Metrics.Capture
	for {
		buf, err := session.Pull(ctx, 0, nil)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, audiocore.ErrStopped) {
				return nil
			}
			return err
		}

		summary.Pulls++
		summary.Frames += buf.Frames()
		if buf.Discontinuous {
			summary.Discontinuities++
		}

		if sink == nil {
			continue
		}
		started := time.Now()
		if err := sink.Write(buf); err != nil {
			recorder.RecordOperation(metrics.OpWAVWrite, metrics.StatusError)
			recorder.RecordError(metrics.OpWAVWrite, "file_io")
			return err
		}
		recorder.RecordOperation(metrics.OpWAVWrite, metrics.StatusSuccess)
		recorder.RecordDuration(metrics.OpWAVWrite, time.Since(started).Seconds())
	}
}

// reportState logs and publishes a diagnostics snapshot every interval.
func (r *Runner) reportState(ctx context.Context, session *audiocore.Session) {
	ticker := time.NewTicker(r.StateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		d := session.Diagnostics()
		r.log.Debug("capture state",
			logger.String("state", d.State),
			logger.Uint64("next_sample", d.NextSample),
			logger.Int("overflow_bytes", d.OverflowBytes),
			logger.Uint64("timeshifted", d.Timeshifted),
			logger.Uint64("drift_corrections", d.DriftCorrections))
		if r.Publisher != nil {
			r.Publisher.ObserveState(&d)
		}
	}
}
