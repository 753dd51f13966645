package services

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// AlertSink plays and stops the drowsiness alert sound. Both operations are
// idempotent; Stop on a silent sink is a no-op.
type AlertSink interface {
	Play(loop bool)
	Stop()
}

// NopSink discards alert commands. Used in tests and headless runs.
type NopSink struct{}

func (NopSink) Play(bool) {}
func (NopSink) Stop()     {}

// AlertCommand is one play/stop instruction for the client-side player.
type AlertCommand struct {
	Playing bool `json:"playing"`
	Loop    bool `json:"loop"`
}

// ChannelSink forwards alert commands to a client over a channel (the
// WebSocket layer drains it into the connection). Sends never block: if the
// client is slow the latest command wins, which is safe because only the
// final play/stop state matters.
type ChannelSink struct {
	commands chan AlertCommand
	playing  atomic.Bool
	logger   *zap.Logger
}

func NewChannelSink(logger *zap.Logger) *ChannelSink {
	return &ChannelSink{
		commands: make(chan AlertCommand, 1),
		logger:   logger,
	}
}

// Commands exposes the outbound command stream.
func (s *ChannelSink) Commands() <-chan AlertCommand {
	return s.commands
}

func (s *ChannelSink) Play(loop bool) {
	if !s.playing.CompareAndSwap(false, true) {
		return
	}
	s.push(AlertCommand{Playing: true, Loop: loop})
	s.logger.Info("alert sound started", zap.Bool("loop", loop))
}

func (s *ChannelSink) Stop() {
	if !s.playing.CompareAndSwap(true, false) {
		return
	}
	s.push(AlertCommand{Playing: false})
	s.logger.Info("alert sound stopped")
}

func (s *ChannelSink) push(cmd AlertCommand) {
	for {
		select {
		case s.commands <- cmd:
			return
		default:
			select {
			case <-s.commands:
			default:
			}
		}
	}
}
