package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"DROWSY_DETECTOR/go-backend/internal/detection"
	"DROWSY_DETECTOR/go-backend/internal/models"
	"DROWSY_DETECTOR/go-backend/internal/services"
)

// scriptedSource replays a fixed sequence of signals.
type scriptedSource struct {
	signals []models.Signal
	errs    []error
	calls   int
}

func (s *scriptedSource) ComputeSignal(context.Context, []byte) (models.Signal, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if i >= len(s.signals) {
		return models.Signal{}, err
	}
	return s.signals[i], err
}

type recordingSink struct {
	playCalls int
	stopCalls int
	playing   bool
}

func (s *recordingSink) Play(bool) {
	if !s.playing {
		s.playing = true
		s.playCalls++
	}
}

func (s *recordingSink) Stop() {
	if s.playing {
		s.playing = false
		s.stopCalls++
	}
}

type loggedEvent struct {
	earValue  float64
	duration  float64
	sessionID string
}

type recordingLogger struct {
	events []loggedEvent
	err    error
}

func (l *recordingLogger) Log(_ context.Context, earValue, durationSeconds float64, sessionID string, _ time.Time) (int64, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.events = append(l.events, loggedEvent{earValue, durationSeconds, sessionID})
	return int64(len(l.events)), nil
}

type fixedSession struct{ id string }

func (s *fixedSession) Current() string { return s.id }

func closed(v float64) models.Signal {
	return models.Signal{FacesPresent: 1, Closed: true, Value: v, Confidence: 0.9, Method: models.MethodEAR}
}

func open(v float64) models.Signal {
	return models.Signal{FacesPresent: 1, Closed: false, Value: v, Confidence: 0.8, Method: models.MethodEAR}
}

func newTestProcessor(source services.SignalSource, sink services.AlertSink, events EventLogger, sessionID string) *Processor {
	return New(
		source,
		detection.NewEngine(3),
		sink,
		events,
		&fixedSession{id: sessionID},
		services.NewMetrics(),
		zap.NewNop(),
	)
}

func TestProcess_EndToEndEpisode(t *testing.T) {
	source := &scriptedSource{signals: []models.Signal{
		closed(0.1), closed(0.1), closed(0.1), open(0.3),
	}}
	sink := &recordingSink{}
	events := &recordingLogger{}
	p := newTestProcessor(source, sink, events, "session-1")
	ctx := context.Background()

	st, err := p.Process(ctx, []byte("f1"))
	require.NoError(t, err)
	assert.False(t, st.Drowsy)

	st, err = p.Process(ctx, []byte("f2"))
	require.NoError(t, err)
	assert.False(t, st.Drowsy)

	// Third consecutive closed frame triggers the alert.
	st, err = p.Process(ctx, []byte("f3"))
	require.NoError(t, err)
	assert.True(t, st.Drowsy)
	assert.Equal(t, 1, sink.playCalls)

	// Eyes open: alert ends, exactly one event logged.
	st, err = p.Process(ctx, []byte("f4"))
	require.NoError(t, err)
	assert.False(t, st.Drowsy)
	assert.Equal(t, 1, sink.stopCalls)
	require.Len(t, events.events, 1)
	assert.Equal(t, "session-1", events.events[0].sessionID)
	assert.Equal(t, 0.3, events.events[0].earValue)
	assert.Greater(t, events.events[0].duration, 0.0)
}

func TestProcess_NoFaceReturnsNoAlertAndResetsCounter(t *testing.T) {
	source := &scriptedSource{signals: []models.Signal{
		closed(0.1), closed(0.1),
		{FacesPresent: 0},
		closed(0.1), closed(0.1),
	}}
	sink := &recordingSink{}
	events := &recordingLogger{}
	p := newTestProcessor(source, sink, events, "session-1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		st, err := p.Process(ctx, nil)
		require.NoError(t, err)
		assert.False(t, st.Drowsy)
		if i == 2 {
			assert.False(t, st.FaceFound)
		}
	}
	assert.Zero(t, sink.playCalls, "face loss broke the closed run, no alert expected")
}

func TestProcess_SourceErrorLeavesStateUntouched(t *testing.T) {
	source := &scriptedSource{
		signals: []models.Signal{closed(0.1), closed(0.1), {}, closed(0.1)},
		errs:    []error{nil, nil, errors.New("inference unavailable"), nil},
	}
	sink := &recordingSink{}
	events := &recordingLogger{}
	p := newTestProcessor(source, sink, events, "session-1")
	ctx := context.Background()

	_, err := p.Process(ctx, nil)
	require.NoError(t, err)
	_, err = p.Process(ctx, nil)
	require.NoError(t, err)

	_, err = p.Process(ctx, nil)
	assert.Error(t, err)

	// The failed frame did not reset the counter: this closed frame is the
	// third consecutive observation and triggers the alert.
	st, err := p.Process(ctx, nil)
	require.NoError(t, err)
	assert.True(t, st.Drowsy)
	assert.Equal(t, 1, sink.playCalls)
}

func TestProcess_OrphanEpisodeIsDropped(t *testing.T) {
	source := &scriptedSource{signals: []models.Signal{
		closed(0.1), closed(0.1), closed(0.1), open(0.3),
	}}
	sink := &recordingSink{}
	events := &recordingLogger{}
	p := newTestProcessor(source, sink, events, "") // no active session
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		p.Process(ctx, nil)
	}

	assert.Empty(t, events.events, "episodes without a session are dropped")
	assert.Equal(t, 1, sink.stopCalls, "alert still stops")
}

func TestProcess_StorageFailureKeepsLiveStateCorrect(t *testing.T) {
	source := &scriptedSource{signals: []models.Signal{
		closed(0.1), closed(0.1), closed(0.1), open(0.3),
	}}
	sink := &recordingSink{}
	events := &recordingLogger{err: errors.New("commit failed")}
	p := newTestProcessor(source, sink, events, "session-1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.Process(ctx, nil)
	}
	st, err := p.Process(ctx, nil)
	require.NoError(t, err, "persistence failure is logged, not surfaced per-frame")
	assert.False(t, st.Drowsy)
	assert.Equal(t, 1, sink.stopCalls)
	assert.False(t, p.AlertActive())
}

func TestProcess_AlertSoundExactlyOncePerEpisode(t *testing.T) {
	signals := []models.Signal{
		closed(0.1), closed(0.1), closed(0.1), // episode 1 start
		closed(0.1), closed(0.1), // still drowsy
		open(0.3),                             // episode 1 end
		closed(0.1), closed(0.1), closed(0.1), // episode 2 start
		open(0.3), // episode 2 end
	}
	source := &scriptedSource{signals: signals}
	sink := &recordingSink{}
	events := &recordingLogger{}
	p := newTestProcessor(source, sink, events, "session-1")
	ctx := context.Background()

	for range signals {
		p.Process(ctx, nil)
	}

	assert.Equal(t, 2, sink.playCalls)
	assert.Equal(t, 2, sink.stopCalls)
	assert.Len(t, events.events, 2)
}

func TestStopAlert_SilencesAndDropsEpisode(t *testing.T) {
	source := &scriptedSource{signals: []models.Signal{
		closed(0.1), closed(0.1), closed(0.1), open(0.3),
	}}
	sink := &recordingSink{}
	events := &recordingLogger{}
	p := newTestProcessor(source, sink, events, "session-1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.Process(ctx, nil)
	}
	require.True(t, p.AlertActive())

	p.StopAlert()
	assert.False(t, p.AlertActive())
	assert.Equal(t, 1, sink.stopCalls)

	// The open frame after teardown must not log a stray event.
	p.Process(ctx, nil)
	assert.Empty(t, events.events)
}
