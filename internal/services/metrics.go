package services

import (
	"sync/atomic"
	"time"
)

// Metrics tracks process-wide counters for the /api/metrics endpoint.
type Metrics struct {
	totalFrames   atomic.Int64
	totalErrors   atomic.Int64
	totalLatency  atomic.Int64
	droppedFrames atomic.Int64
	alertsStarted atomic.Int64
	eventsLogged  atomic.Int64
	lastFrameTime atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64

	startTime time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) IncrementFrames() {
	m.totalFrames.Add(1)
	m.lastFrameTime.Store(time.Now().Unix())
}

func (m *Metrics) IncrementErrors()        { m.totalErrors.Add(1) }
func (m *Metrics) IncrementDroppedFrames() { m.droppedFrames.Add(1) }
func (m *Metrics) IncrementAlerts()        { m.alertsStarted.Add(1) }
func (m *Metrics) IncrementEventsLogged()  { m.eventsLogged.Add(1) }

func (m *Metrics) RecordLatency(duration time.Duration) {
	m.totalLatency.Add(duration.Milliseconds())
}

func (m *Metrics) IncrementWebSocketConnections() { m.wsConnections.Add(1) }
func (m *Metrics) DecrementWebSocketConnections() { m.wsConnections.Add(-1) }
func (m *Metrics) IncrementWebSocketMessages()    { m.wsMessages.Add(1) }
func (m *Metrics) IncrementWebSocketErrors()      { m.wsErrors.Add(1) }

func (m *Metrics) GetTotalFrames() int64   { return m.totalFrames.Load() }
func (m *Metrics) GetTotalErrors() int64   { return m.totalErrors.Load() }
func (m *Metrics) GetDroppedFrames() int64 { return m.droppedFrames.Load() }
func (m *Metrics) GetAlertsStarted() int64 { return m.alertsStarted.Load() }
func (m *Metrics) GetEventsLogged() int64  { return m.eventsLogged.Load() }
func (m *Metrics) GetLastFrameTime() int64 { return m.lastFrameTime.Load() }

func (m *Metrics) GetAvgLatency() float64 {
	frames := m.totalFrames.Load()
	if frames == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(frames)
}

func (m *Metrics) GetWebSocketConnections() int64 { return m.wsConnections.Load() }
func (m *Metrics) GetWebSocketMessages() int64    { return m.wsMessages.Load() }
func (m *Metrics) GetWebSocketErrors() int64      { return m.wsErrors.Load() }

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
