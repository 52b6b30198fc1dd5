package encoder

import (
	"math/rand"
	"time"
)

// clipState is the raw-clip sub-component's three-state machine from
// spec.md §3: "Idle → Clipping → Closing".
type clipState int

const (
	clipIdle clipState = iota
	clipClipping
	clipClosing
)

// RawClipScheduler decides when the rear encoder should start and stop
// its parallel lossless clip, independent of any codec or I/O so it can
// be tested as pure logic. One frame through the main encode loop
// corresponds to one call to Tick.
type RawClipScheduler struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	clipLength int

	state          clipState
	nextClipStart  time.Time
	clipFrameCount int

	rand *rand.Rand
}

// NewRawClipScheduler returns a scheduler that will start its first clip
// at a random offset from `start` within [minDelay, maxDelay).
func NewRawClipScheduler(start time.Time, minDelay, maxDelay time.Duration, clipLength int, src *rand.Rand) *RawClipScheduler {
	s := &RawClipScheduler{
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		clipLength: clipLength,
		rand:       src,
	}
	s.nextClipStart = start.Add(s.randomDelay())
	return s
}

func (s *RawClipScheduler) randomDelay() time.Duration {
	span := s.maxDelay - s.minDelay
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.rand.Int63n(int64(span)))
}

// Tick advances the scheduler by one observed frame at time now and
// reports whether this frame should be encoded into the raw clip.
func (s *RawClipScheduler) Tick(now time.Time) (shouldEncode bool) {
	switch s.state {
	case clipIdle:
		if !now.Before(s.nextClipStart) {
			s.state = clipClipping
			s.clipFrameCount = 0
		} else {
			return false
		}
		fallthrough
	case clipClipping:
		s.clipFrameCount++
		if s.clipFrameCount >= s.clipLength {
			s.state = clipClosing
		}
		return true
	case clipClosing:
		s.state = clipIdle
		s.nextClipStart = now.Add(s.randomDelay())
		return false
	}
	return false
}

// Active reports whether the scheduler is in the Clipping state. After the
// Tick that records a clip's last frame the state is Closing, and Active
// reports false.
func (s *RawClipScheduler) Active() bool {
	return s.state == clipClipping
}
