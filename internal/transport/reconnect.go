package transport

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Supervisor drives bounded, delayed reconnection attempts after the Channel
// closes or fails, without any caller involvement. Delay before attempt n is
// baseDelay * n (linear backoff). Past maxAttempts it gives up until the
// caller connects explicitly.
type Supervisor struct {
	ch    *Channel
	clock clockwork.Clock
	log   *zap.Logger

	baseDelay   time.Duration
	maxAttempts int

	mu       sync.Mutex
	endpoint string
	attempts int
	timer    clockwork.Timer
	stopped  bool
}

func NewSupervisor(ch *Channel, baseDelay time.Duration, maxAttempts int, clock clockwork.Clock, log *zap.Logger) *Supervisor {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		ch:          ch,
		clock:       clock,
		log:         log,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		stopped:     true,
	}
}

// Track arms the supervisor for an endpoint. Called on every caller-initiated
// Connect so a fresh connect restores automatic recovery after a give-up.
func (s *Supervisor) Track(endpoint string) {
	s.mu.Lock()
	s.endpoint = endpoint
	s.attempts = 0
	s.stopped = false
	s.stopTimerLocked()
	s.mu.Unlock()
}

// NoteOpen resets the attempt counter after a successful open.
func (s *Supervisor) NoteOpen() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

// NoteFailure schedules the next reconnection attempt, if any remain.
func (s *Supervisor) NoteFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.endpoint == "" {
		return
	}
	if s.attempts >= s.maxAttempts {
		s.log.Warn("reconnect attempts exhausted, giving up",
			zap.Int("attempts", s.attempts))
		return
	}
	s.attempts++
	delay := time.Duration(s.attempts) * s.baseDelay
	s.stopTimerLocked()
	s.timer = s.clock.AfterFunc(delay, s.attempt)
	s.log.Info("reconnect scheduled",
		zap.Int("attempt", s.attempts),
		zap.Duration("delay", delay))
}

// Cancel aborts any pending attempt. A scheduled attempt that has not fired
// yet will observe the stopped flag and never dial.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	s.stopped = true
	s.stopTimerLocked()
	s.mu.Unlock()
}

// Attempts reports how many attempts have been made since the last open.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) attempt() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	endpoint := s.endpoint
	s.mu.Unlock()

	// A failed dial reports through OnFailure, which feeds the next
	// NoteFailure; no retry loop needed here.
	_ = s.ch.Connect(context.Background(), endpoint)
}

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
