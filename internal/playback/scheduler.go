package playback

import (
	"io"
	"log"
	"sync"
	"time"
)

// Sink is the live outbound connection audio frames are delivered to.
type Sink interface {
	// Live reports whether the connection can still accept writes.
	Live() bool
	// WriteFrame sends one frame as a binary message.
	WriteFrame(frame []byte) error
}

// SchedulerConfig holds frame sizing for the scheduler. Zero values use the
// 20 ms / 640 byte defaults.
type SchedulerConfig struct {
	FrameSize     int
	FrameDuration time.Duration
}

// Scheduler slices synthesized audio into frames and schedules their delayed
// delivery. Every set it starts goes through the Registry, so a new set for a
// call always cancels the previous one first.
type Scheduler struct {
	registry  *Registry
	frameSize int
	tick      time.Duration
	logger    *log.Logger
}

// NewScheduler creates a scheduler bound to registry.
func NewScheduler(registry *Registry, cfg SchedulerConfig, logger *log.Logger) *Scheduler {
	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	tick := cfg.FrameDuration
	if tick <= 0 {
		tick = FrameDuration
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Scheduler{
		registry:  registry,
		frameSize: frameSize,
		tick:      tick,
		logger:    logger,
	}
}

// Plan builds an unarmed set for audio. No timer is started until the set is
// handed to Registry.Replace.
func (s *Scheduler) Plan(audio []byte, sink Sink) *Set {
	return &Set{
		frames: SliceFrames(audio, s.frameSize),
		sink:   sink,
		tick:   s.tick,
		logger: s.logger,
	}
}

// Play cancels any set already scheduled for callID, then schedules audio on
// sink. It returns without waiting for any frame to fire.
func (s *Scheduler) Play(callID string, audio []byte, sink Sink) *Set {
	set := s.Plan(audio, sink)
	cancelled := s.registry.Replace(callID, set)
	if cancelled > 0 {
		s.logger.Printf("playback: cancelled %d pending frames for call %s", cancelled, callID)
	}
	s.logger.Printf("playback: scheduled %d frames (%d bytes) for call %s", set.Len(), len(audio), callID)
	return set
}

// Set is one turn's ordered sequence of delayed frame deliveries.
type Set struct {
	frames [][]byte
	sink   Sink
	tick   time.Duration
	logger *log.Logger

	mu          sync.Mutex
	timers      []*time.Timer
	next        int // first frame not yet delivered or skipped
	started     bool
	cancelled   bool
	scheduledAt time.Time
	delivered   int
	skipped     int
}

// Len returns the number of frames in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.frames)
}

// ScheduledAt returns when the set was armed (zero if never armed).
func (s *Set) ScheduledAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduledAt
}

// Delivered returns how many frames were written to the sink.
func (s *Set) Delivered() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// Pending returns how many frames have neither fired nor been cancelled.
func (s *Set) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return 0
	}
	if !s.started {
		return len(s.frames)
	}
	return len(s.frames) - s.next
}

// start arms one timer per frame; frame i fires i*tick after now.
func (s *Set) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.cancelled {
		return
	}
	s.started = true
	s.scheduledAt = time.Now()
	s.timers = make([]*time.Timer, len(s.frames))
	for i := range s.frames {
		i := i
		s.timers[i] = time.AfterFunc(time.Duration(i)*s.tick, func() { s.fire(i) })
	}
}

// fire delivers every frame up to and including i that has not gone out yet,
// in order. Timers that come due together race for s.mu; whichever wins sends
// the overdue frames and the rest find nothing left to do. Delivery happens
// under s.mu so Cancel never returns while a write from this set is in flight.
func (s *Set) fire(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.cancelled && s.next <= i {
		k := s.next
		s.next++
		frame := s.frames[k]
		s.frames[k] = nil

		if !s.sink.Live() {
			s.skipped++
			continue
		}
		if err := s.sink.WriteFrame(frame); err != nil {
			s.skipped++
			if s.logger != nil {
				s.logger.Printf("playback: frame %d write failed: %v", k, err)
			}
			continue
		}
		s.delivered++
	}
}

// Cancel stops every frame that has not fired yet and returns how many were
// stopped. Cancelling a nil, empty or already cancelled set is a no-op.
func (s *Set) Cancel() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return 0
	}
	s.cancelled = true
	if !s.started {
		return 0
	}
	for _, t := range s.timers {
		t.Stop()
	}
	stopped := len(s.frames) - s.next
	for k := s.next; k < len(s.frames); k++ {
		s.frames[k] = nil
	}
	return stopped
}
