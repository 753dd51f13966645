package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"DROWSY_DETECTOR/go-backend/internal/detection"
	"DROWSY_DETECTOR/go-backend/internal/models"
	"DROWSY_DETECTOR/go-backend/internal/services"
)

// EventLogger persists completed drowsiness episodes.
type EventLogger interface {
	Log(ctx context.Context, earValue, durationSeconds float64, sessionID string, at time.Time) (int64, error)
}

// SessionProvider answers which session is currently receiving events.
type SessionProvider interface {
	Current() string
}

// Processor runs the per-frame pipeline for one camera stream: signal source
// -> debounce engine -> alert sink and event log. One Processor per connected
// client; the engine state inside is not shared across streams.
type Processor struct {
	source   services.SignalSource
	engine   *detection.Engine
	sink     services.AlertSink
	events   EventLogger
	sessions SessionProvider
	metrics  *services.Metrics
	logger   *zap.Logger
}

func New(
	source services.SignalSource,
	engine *detection.Engine,
	sink services.AlertSink,
	events EventLogger,
	sessions SessionProvider,
	metrics *services.Metrics,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		source:   source,
		engine:   engine,
		sink:     sink,
		events:   events,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}
}

// Process feeds one frame through the pipeline and returns the detection
// status for the client. A signal-source failure leaves the debounce state
// untouched (that frame simply never happened) and is reported alongside the
// current status.
func (p *Processor) Process(ctx context.Context, frame []byte) (models.DetectionStatus, error) {
	start := time.Now()

	sig, err := p.source.ComputeSignal(ctx, frame)
	if err != nil {
		p.metrics.IncrementErrors()
		return models.DetectionStatus{Drowsy: p.engine.AlertActive()}, err
	}

	p.metrics.IncrementFrames()
	defer p.metrics.RecordLatency(time.Since(start))

	if sig.FacesPresent == 0 {
		p.engine.Observe(sig, false)
		return models.DetectionStatus{
			Drowsy:    p.engine.AlertActive(),
			Method:    sig.Method,
			FaceFound: false,
		}, nil
	}

	tr := p.engine.Observe(sig, true)
	switch tr.Kind {
	case detection.TransitionAlertStarted:
		p.metrics.IncrementAlerts()
		p.logger.Info("drowsiness detected, starting alert",
			zap.Float64("signal", sig.Value),
			zap.String("method", string(sig.Method)))
		// Restart from the beginning of the sound, then loop.
		p.sink.Stop()
		p.sink.Play(true)

	case detection.TransitionAlertEnded:
		p.sink.Stop()
		p.logEpisode(ctx, tr)
	}

	return models.DetectionStatus{
		Drowsy:     p.engine.AlertActive(),
		Confidence: sig.Confidence,
		Method:     sig.Method,
		FaceFound:  true,
	}, nil
}

// logEpisode persists one completed episode. Episodes ending with no current
// session (for example when the sweeper closed it mid-episode) are dropped:
// tagging them to a closed or missing session would break the per-session
// aggregate counters.
func (p *Processor) logEpisode(ctx context.Context, tr detection.Transition) {
	duration := tr.Duration.Seconds()
	if duration <= 0 {
		p.logger.Warn("skipping zero-length episode",
			zap.Float64("signal", tr.SignalValue))
		return
	}

	sessionID := p.sessions.Current()
	if sessionID == "" {
		p.logger.Warn("no active session, dropping episode",
			zap.Float64("signal", tr.SignalValue),
			zap.Float64("duration_seconds", duration))
		return
	}

	id, err := p.events.Log(ctx, tr.SignalValue, duration, sessionID, tr.At)
	if err != nil {
		// The live alert state is already correct; the episode is lost from
		// persistence only.
		p.metrics.IncrementErrors()
		p.logger.Error("failed to log drowsiness event",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	p.metrics.IncrementEventsLogged()
	p.logger.Info("logged drowsiness event",
		zap.Int64("event_id", id),
		zap.String("session_id", sessionID),
		zap.Float64("duration_seconds", duration))
}

// StopAlert silences the sink and drops any running episode without logging
// it. Called on stream teardown.
func (p *Processor) StopAlert() {
	p.engine.Reset()
	p.sink.Stop()
}

// AlertActive reports whether this stream's alert is currently sounding.
func (p *Processor) AlertActive() bool {
	return p.engine.AlertActive()
}
