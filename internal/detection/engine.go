package detection

import (
	"time"

	"DROWSY_DETECTOR/go-backend/internal/models"
)

// TransitionKind classifies the outcome of feeding one frame signal into the
// engine.
type TransitionKind int

const (
	TransitionNone TransitionKind = iota
	TransitionAlertStarted
	TransitionAlertEnded
)

// Transition is a discrete alert state change. Duration and SignalValue are
// only meaningful for TransitionAlertEnded.
type Transition struct {
	Kind        TransitionKind
	At          time.Time
	Duration    time.Duration
	SignalValue float64
}

// Engine debounces a stream of noisy per-frame eye signals into alert
// started/ended transitions. It requires closedFrames consecutive "closed"
// observations before declaring an alert, and a single "open" observation to
// end one. The engine performs no I/O; side effects (alert sound, event
// persistence) are the caller's job, so transitions stay deterministic under
// test.
//
// One Engine serves exactly one camera stream and is not safe for concurrent
// use; each stream owns its own instance.
type Engine struct {
	closedFrames int

	count       int
	alertActive bool
	alertStart  time.Time

	now func() time.Time
}

func NewEngine(closedFrames int) *Engine {
	if closedFrames < 1 {
		closedFrames = 1
	}
	return &Engine{
		closedFrames: closedFrames,
		now:          time.Now,
	}
}

// Observe feeds one frame's signal into the state machine.
//
// Losing the face resets the consecutive-closed counter but does not end an
// active alert: the alert keeps sounding until a clear "eyes open" signal
// reappears.
func (e *Engine) Observe(sig models.Signal, facePresent bool) Transition {
	if !facePresent {
		e.count = 0
		return Transition{Kind: TransitionNone}
	}

	if sig.Closed {
		e.count++
		if e.count >= e.closedFrames && !e.alertActive {
			e.alertActive = true
			e.alertStart = e.now()
			return Transition{Kind: TransitionAlertStarted, At: e.alertStart}
		}
		return Transition{Kind: TransitionNone}
	}

	// Eyes open.
	e.count = 0
	if e.alertActive {
		now := e.now()
		duration := now.Sub(e.alertStart)
		if duration < 0 {
			duration = 0
		}
		e.alertActive = false
		return Transition{
			Kind:        TransitionAlertEnded,
			At:          now,
			Duration:    duration,
			SignalValue: sig.Value,
		}
	}
	return Transition{Kind: TransitionNone}
}

// AlertActive reports whether an alert episode is currently running.
func (e *Engine) AlertActive() bool {
	return e.alertActive
}

// AlertStart returns the start time of the running episode. Only valid while
// AlertActive is true.
func (e *Engine) AlertStart() time.Time {
	return e.alertStart
}

// Reset clears all debounce state, dropping any running episode without
// emitting a transition. Used on stream teardown.
func (e *Engine) Reset() {
	e.count = 0
	e.alertActive = false
	e.alertStart = time.Time{}
}
