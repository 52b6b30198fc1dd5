package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/e7canasta/recorderd/internal/bus"
	"github.com/e7canasta/recorderd/internal/clock"
	"github.com/e7canasta/recorderd/internal/config"
	"github.com/e7canasta/recorderd/internal/ingest"
	"github.com/e7canasta/recorderd/internal/logger"
	"github.com/e7canasta/recorderd/internal/params"
	"github.com/e7canasta/recorderd/internal/rotation"
)

func newTestLoop(t *testing.T, segLength time.Duration, entries []config.SubscriptionEntry) (*ingest.Loop, *bus.MemoryBus, *logger.Logger, *rotation.Coordinator, string) {
	t.Helper()
	root := t.TempDir()
	log, err := logger.New(root)
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	store, err := params.Open(root + "/params.db")
	if err != nil {
		t.Fatalf("params.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	coord := rotation.New()
	memBus := bus.NewMemoryBus()
	segClock := clock.NewSegmentClock(time.Now(), segLength)

	loop := ingest.New(memBus, log, coord, segClock, store, entries, "frame", "test-version", "/nonexistent/system.properties", true, false)
	return loop, memBus, log, coord, root
}

func TestLoopCreatesInitialSegmentOnStart(t *testing.T) {
	loop, memBus, _, coord, _ := newTestLoop(t, time.Hour, []config.SubscriptionEntry{
		{Name: "frame", ShouldLog: true},
	})
	_ = memBus

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	<-ctx.Done()
	<-done

	snap := coord.Snapshot()
	if snap.SegNum != 0 {
		t.Fatalf("SegNum = %d, want 0 (initial segment created at startup)", snap.SegNum)
	}
}

func TestLoopLogsMessagesAndExtractsFrameID(t *testing.T) {
	loop, memBus, _, coord, root := newTestLoop(t, time.Hour, []config.SubscriptionEntry{
		{Name: "frame", ShouldLog: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// Give the loop a moment to create the initial segment and subscribe.
	time.Sleep(30 * time.Millisecond)

	payload := make([]byte, 8)
	payload[0], payload[1], payload[2], payload[3] = 0, 0, 0, 42
	if err := memBus.Publisher().Publish("frame", payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	snap := coord.Snapshot()
	if snap.LastFrameID != 42 {
		t.Fatalf("LastFrameID = %d, want 42", snap.LastFrameID)
	}

	path := root + "/0"
	records, err := logger.ReadSegment(path)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	// init record + the one frame message.
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
}

func TestLoopRotatesOnSegmentBoundaryEvenWithoutTraffic(t *testing.T) {
	loop, _, _, coord, _ := newTestLoop(t, 50*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	<-ctx.Done()
	<-done

	snap := coord.Snapshot()
	if snap.SegNum < 2 {
		t.Fatalf("SegNum = %d, want >= 2 after several rotation boundaries with no traffic", snap.SegNum)
	}
}

func TestLoopSkipsSubscriptionsNotMarkedShouldLog(t *testing.T) {
	loop, memBus, _, _, root := newTestLoop(t, time.Hour, []config.SubscriptionEntry{
		{Name: "frame", ShouldLog: true},
		{Name: "debug", ShouldLog: false},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)

	// Publishing to "debug" should have no subscriber at all (no
	// subscription state created for ShouldLog: false), so this is a
	// silent no-op rather than an error.
	if err := memBus.Publisher().Publish("debug", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	records, err := logger.ReadSegment(root + "/0")
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1 (init record only)", len(records))
	}
}
