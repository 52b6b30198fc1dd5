package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/recorderd/internal/bus"
	"github.com/e7canasta/recorderd/internal/logger"
	"github.com/e7canasta/recorderd/internal/rotation"
	"github.com/e7canasta/recorderd/internal/videoring"
)

var errDialFailed = errors.New("dial failed")

// fakeRing yields a fixed sequence of frames, then returns an error.
type fakeRing struct {
	frames []videoring.Frame
	i      int
}

func (r *fakeRing) Next(ctx context.Context) (videoring.Frame, error) {
	if r.i >= len(r.frames) {
		return videoring.Frame{}, context.Canceled
	}
	f := r.frames[r.i]
	r.i++
	return f, nil
}

func (r *fakeRing) Close() error { return nil }

// fakeCodec records Init/Rotate calls and returns a per-segment counter.
type fakeCodec struct {
	inited       bool
	rotations    []string
	segmentNum   int
	frameCounter int
}

func (c *fakeCodec) Init(width, height, fps, bitrateBps int) error {
	c.inited = true
	return nil
}

func (c *fakeCodec) EncodeFrame(frame videoring.Frame) (Result, error) {
	c.frameCounter++
	return Result{SegmentNum: c.segmentNum, SegmentID: c.frameCounter}, nil
}

func (c *fakeCodec) Rotate(path string, segNum int) error {
	c.rotations = append(c.rotations, path)
	c.segmentNum = segNum
	c.frameCounter = 0
	return nil
}

func (c *fakeCodec) Close() error { return nil }

func setupWorkerTest(t *testing.T) (*logger.Logger, *rotation.Coordinator, *bus.MemoryBus) {
	t.Helper()
	log, err := logger.New(t.TempDir())
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	coord := rotation.New()
	memBus := bus.NewMemoryBus()
	return log, coord, memBus
}

func TestWorkerRotatesAndPublishesIndexEventsForFrontCamera(t *testing.T) {
	log, coord, memBus := setupWorkerTest(t)

	// Ingest loop side: create the first segment and advance the coordinator.
	seg0, path0, err := log.NextSegment([]byte("init0"), false)
	if err != nil {
		t.Fatalf("NextSegment #1: %v", err)
	}
	coord.AdvanceSegment(path0, seg0)

	sub, err := memBus.Subscribe("encodeidx/front")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	codec := &fakeCodec{}
	ring := &fakeRing{frames: []videoring.Frame{
		{FrameID: 1}, {FrameID: 2},
	}}

	w := NewWorker(
		Config{Camera: Front, Width: 100, Height: 100, FPS: 20, BitrateBps: 1_000_000, IndexTopic: "encodeidx/front"},
		coord, log, memBus.Publisher(),
		func() (videoring.Ring, error) { return ring, nil },
		codec, nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		t.Fatalf("Run: %v", err)
	}

	if !codec.inited {
		t.Fatal("codec was never initialized")
	}
	if len(codec.rotations) != 1 {
		t.Fatalf("rotations = %d, want 1 (front rotates on first ShouldRotate call since encoderSegment starts at -1)", len(codec.rotations))
	}

	select {
	case msg := <-sub.Messages():
		var evt IndexEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			t.Fatalf("unmarshal published event: %v", err)
		}
		if evt.Type != FrameTypeFront {
			t.Fatalf("Type = %q, want %q", evt.Type, FrameTypeFront)
		}
	default:
		t.Fatal("expected at least one published index event")
	}

	records, err := logger.ReadSegment(path0)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	// init record + 2 index events.
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
}

func TestWorkerRearCameraRotatesOnceIngestHasCaughtUp(t *testing.T) {
	log, coord, memBus := setupWorkerTest(t)

	seg0, path0, err := log.NextSegment([]byte("init0"), false)
	if err != nil {
		t.Fatalf("NextSegment #1: %v", err)
	}
	coord.AdvanceSegment(path0, seg0)
	coord.ObserveFrame(6) // ingest has already reached the frame the encoder is about to process.

	codec := &fakeCodec{}
	ring := &fakeRing{frames: []videoring.Frame{{FrameID: 6}}}

	w := NewWorker(
		Config{Camera: Rear, Width: 100, Height: 100, FPS: 20, BitrateBps: 5_000_000, IndexTopic: "encodeidx/rear"},
		coord, log, memBus.Publisher(),
		func() (videoring.Ring, error) { return ring, nil },
		codec, nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		t.Fatalf("Run: %v", err)
	}

	// Rear should rotate on its very first ShouldRotate call:
	// encoderSegment starts at -1 < RotateSegment 0, and frame 6 is past
	// the watermark captured by AdvanceSegment (0, since no frame had been
	// observed yet at that point).
	if len(codec.rotations) != 1 {
		t.Fatalf("rotations = %d, want 1", len(codec.rotations))
	}
}

func TestWorkerRawClipEncodesBoundedLengthThenCloses(t *testing.T) {
	log, coord, memBus := setupWorkerTest(t)

	seg0, path0, err := log.NextSegment([]byte("init0"), false)
	if err != nil {
		t.Fatalf("NextSegment: %v", err)
	}
	coord.AdvanceSegment(path0, seg0)
	coord.ObserveFrame(100) // ingest is already well ahead, so the rear worker never blocks in WaitForFrame.

	mainCodec := &fakeCodec{}
	clipCodec := &fakeCodec{}

	frames := make([]videoring.Frame, 10)
	for i := range frames {
		frames[i] = videoring.Frame{FrameID: uint32(i + 1)}
	}
	ring := &fakeRing{frames: frames}

	w := NewWorker(
		Config{
			Camera: Rear, Width: 100, Height: 100, FPS: 20, BitrateBps: 5_000_000,
			IndexTopic: "encodeidx/rear", RawClip: true,
			ClipMinDelay: 0, ClipMaxDelay: time.Nanosecond, ClipLength: 3,
		},
		coord, log, memBus.Publisher(),
		func() (videoring.Ring, error) { return ring, nil },
		mainCodec, func() Codec { return clipCodec },
	)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		t.Fatalf("Run: %v", err)
	}

	if !clipCodec.inited {
		t.Fatal("raw-clip codec was never initialized despite RawClip: true")
	}
	if clipCodec.frameCounter == 0 {
		t.Fatal("raw-clip codec never encoded a frame")
	}

	records, err := logger.ReadSegment(path0)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	// init + one main-stream index event per frame (10) + clip events.
	if len(records) < 1+10 {
		t.Fatalf("len(records) = %d, want at least %d", len(records), 1+10)
	}
}

func TestWorkerNoDiskLoggingStillPublishesButNeverWritesSegment(t *testing.T) {
	log, coord, memBus := setupWorkerTest(t)

	seg0, path0, err := log.NextSegment([]byte("init0"), false)
	if err != nil {
		t.Fatalf("NextSegment: %v", err)
	}
	coord.AdvanceSegment(path0, seg0)
	coord.ObserveFrame(1) // ingest has already reached frame 1, so the rear worker does not block in WaitForFrame.

	sub, err := memBus.Subscribe("encodeidx/rear")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	codec := &fakeCodec{}
	ring := &fakeRing{frames: []videoring.Frame{{FrameID: 1}}}

	w := NewWorker(
		Config{
			Camera: Rear, Width: 100, Height: 100, FPS: 20, BitrateBps: 5_000_000,
			IndexTopic: "encodeidx/rear", NoDiskLogging: true,
		},
		coord, log, memBus.Publisher(),
		func() (videoring.Ring, error) { return ring, nil },
		codec, nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		t.Fatalf("Run: %v", err)
	}

	select {
	case <-sub.Messages():
	default:
		t.Fatal("expected an index event to still be published with disk logging disabled")
	}

	records, err := logger.ReadSegment(path0)
	if err != nil {
		t.Fatalf("ReadSegment: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1 (init record only, no index events written to disk)", len(records))
	}
}

func TestWorkerReconnectsAfterRingFailure(t *testing.T) {
	log, coord, memBus := setupWorkerTest(t)
	seg0, path0, err := log.NextSegment([]byte("init0"), false)
	if err != nil {
		t.Fatalf("NextSegment: %v", err)
	}
	coord.AdvanceSegment(path0, seg0)

	dialCount := 0
	dial := func() (videoring.Ring, error) {
		dialCount++
		if dialCount == 1 {
			return nil, errDialFailed
		}
		return &fakeRing{frames: []videoring.Frame{{FrameID: 1}}}, nil
	}

	codec := &fakeCodec{}
	w := NewWorker(
		Config{Camera: Front, Width: 1, Height: 1, FPS: 20, BitrateBps: 1, IndexTopic: "t"},
		coord, log, memBus.Publisher(), dial, codec, nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Run(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		t.Fatalf("Run: %v", err)
	}

	if dialCount < 2 {
		t.Fatalf("dialCount = %d, want >= 2 (retry after first failure)", dialCount)
	}
}
