package ingest

import "testing"

// S4 — quicklog sampling: freq=3, 10 events, marked indices {0,3,6,9}.
func TestQuicklogSamplerMarksEveryKth(t *testing.T) {
	q := newQuicklogSampler(3)

	want := map[int]bool{0: true, 3: true, 6: true, 9: true}
	for i := 0; i < 10; i++ {
		got := q.mark()
		if got != want[i] {
			t.Errorf("event %d: mark() = %v, want %v", i, got, want[i])
		}
	}
}

func TestQuicklogSamplerNeverMarksWhenFreqZero(t *testing.T) {
	q := newQuicklogSampler(0)
	for i := 0; i < 5; i++ {
		if q.mark() {
			t.Fatalf("event %d: expected never marked with freq=0", i)
		}
	}
}

func TestQuicklogSamplerAlwaysMarksWhenFreqOne(t *testing.T) {
	q := newQuicklogSampler(1)
	for i := 0; i < 5; i++ {
		if !q.mark() {
			t.Fatalf("event %d: expected always marked with freq=1", i)
		}
	}
}
