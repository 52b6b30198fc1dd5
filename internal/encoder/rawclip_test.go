package encoder

import (
	"math/rand"
	"testing"
	"time"
)

func TestRawClipSchedulerStaysIdleBeforeNextStart(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewRawClipScheduler(start, 61*time.Second, 480*time.Second, 100, rand.New(rand.NewSource(1)))

	if s.Tick(start.Add(10 * time.Second)) {
		t.Fatal("Tick returned true before the scheduled clip start")
	}
	if s.Active() {
		t.Fatal("Active() = true before any clip started")
	}
}

func TestRawClipSchedulerRecordsExactlyClipLengthFrames(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewRawClipScheduler(start, 61*time.Second, 480*time.Second, 5, rand.New(rand.NewSource(1)))
	// Start the first clip immediately; the next one is scheduled at least
	// 61s after it closes, well past the 20 ticks below.
	s.nextClipStart = start

	encodedCount := 0
	now := start
	for i := 0; i < 20; i++ {
		if s.Tick(now) {
			encodedCount++
		}
		now = now.Add(time.Second)
	}

	if encodedCount != 5 {
		t.Fatalf("encodedCount = %d, want 5 (clipLength)", encodedCount)
	}
}

func TestRawClipSchedulerReturnsToIdleAndReschedules(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewRawClipScheduler(start, 61*time.Second, 480*time.Second, 2, rand.New(rand.NewSource(1)))
	s.nextClipStart = start

	now := start
	// Two Clipping ticks.
	if !s.Tick(now) {
		t.Fatal("expected first tick to encode")
	}
	now = now.Add(time.Second)
	if !s.Tick(now) {
		t.Fatal("expected second tick to encode (reaches clipLength)")
	}
	now = now.Add(time.Second)
	// Third tick closes the clip.
	if s.Tick(now) {
		t.Fatal("expected closing tick to not encode")
	}
	if s.Active() {
		t.Fatal("Active() = true after closing tick")
	}
	if !s.nextClipStart.After(now) {
		t.Fatalf("nextClipStart = %v, want something after %v", s.nextClipStart, now)
	}
}

func TestRawClipSchedulerNeverStartsBeforeMinDelay(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		s := NewRawClipScheduler(start, 61*time.Second, 480*time.Second, 100, src)
		if s.nextClipStart.Before(start.Add(61 * time.Second)) {
			t.Fatalf("nextClipStart = %v, want >= start+61s", s.nextClipStart)
		}
		if s.nextClipStart.After(start.Add(480 * time.Second)) {
			t.Fatalf("nextClipStart = %v, want < start+480s", s.nextClipStart)
		}
	}
}
