package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/e7canasta/recorderd/internal/bus"
	"github.com/e7canasta/recorderd/internal/logger"
	"github.com/e7canasta/recorderd/internal/rotation"
	"github.com/e7canasta/recorderd/internal/videoring"
)

// Camera distinguishes the rear (timing-anchor) and front (best-effort)
// cameras, per spec.md §4.1/§4.3.
type Camera int

const (
	Rear Camera = iota
	Front
)

func (c Camera) String() string {
	if c == Front {
		return "front"
	}
	return "rear"
}

func (c Camera) frameType() FrameType {
	if c == Front {
		return FrameTypeFront
	}
	return FrameTypeRear
}

// RingDialer opens a fresh Ring connection, retried by Worker's outer
// loop on failure per spec §4.3 step 1.
type RingDialer func() (videoring.Ring, error)

// Config configures one camera's Encoder Worker.
type Config struct {
	Camera       Camera
	Width        int
	Height       int
	FPS          int
	BitrateBps   int
	IndexTopic   string
	RawClip      bool // only meaningful for Camera == Rear
	ClipMinDelay time.Duration
	ClipMaxDelay time.Duration
	ClipLength   int

	// Stream and StreamTopic enable the raw H.264 bitstream publisher
	// (spec.md §6 "--stream"); only meaningful for Camera == Rear.
	Stream      bool
	StreamTopic string

	// NoDiskLogging true (spec.md §6 "--only-stream") means no segment is
	// ever written: the codec's file sink is dropped and IndexEvent is
	// still published to the bus but never persisted to a writer handle.
	NoDiskLogging bool
}

// streamEnabler is implemented by codecs (GstCodec) that can tee their
// encoded output to a publish callback in addition to the segment file.
type streamEnabler interface {
	EnableStream(publish func([]byte))
}

// fileSinkDisabler is implemented by codecs that can drop their file-sink
// branch entirely, for --only-stream.
type fileSinkDisabler interface {
	DisableFileSink()
}

// Worker is one camera's long-lived Encoder Worker: it owns exactly one
// Ring connection, one Codec, and (rear camera only) one raw-clip
// scheduler and its own lossless Codec instance.
type Worker struct {
	cfg         Config
	coordinator *rotation.Coordinator
	log         *logger.Logger
	publisher   bus.Publisher
	dial        RingDialer
	codec       Codec

	newClipCodec func() Codec // nil unless cfg.RawClip

	encoderSegment int
	currentPath    string
	handle         *logger.Handle
	clip           *RawClipScheduler
	clipCodec      Codec
	clipHandle     *logger.Handle

	// encodeCounter is "cnt" in the original: a single counter that never
	// resets across the worker's lifetime, incremented once per processed
	// frame and shared by that frame's main-stream and raw-clip index
	// events alike (spec.md §4.3.f, distinct from the codec's per-segment
	// Result.SegmentID).
	encodeCounter int
}

// NewWorker wires a Worker from its collaborators. codec and
// newClipCodec let tests and cmd/loggerd supply GstCodec or a fake.
func NewWorker(cfg Config, coordinator *rotation.Coordinator, log *logger.Logger, publisher bus.Publisher, dial RingDialer, codec Codec, newClipCodec func() Codec) *Worker {
	return &Worker{
		cfg:            cfg,
		coordinator:    coordinator,
		log:            log,
		publisher:      publisher,
		dial:           dial,
		codec:          codec,
		newClipCodec:   newClipCodec,
		encoderSegment: -1,
	}
}

// Run is the Encoder Worker's outer loop: connect-or-retry, then drain
// frames until the Ring breaks or ctx is cancelled. It returns when ctx is
// done, when the Ring reports a context cancellation or deadline error, or
// when the codec fails to initialise.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		if w.handle != nil {
			w.handle.Close()
		}
		if w.clipHandle != nil {
			w.clipHandle.Close()
		}
	}()

	if w.cfg.Stream {
		if se, ok := w.codec.(streamEnabler); ok {
			se.EnableStream(func(accessUnit []byte) {
				if err := w.publisher.Publish(w.cfg.StreamTopic, accessUnit); err != nil {
					slog.Warn("encoder: publish raw bitstream failed, continuing", "camera", w.cfg.Camera, "error", err)
				}
			})
		}
	}
	if w.cfg.NoDiskLogging {
		if fd, ok := w.codec.(fileSinkDisabler); ok {
			fd.DisableFileSink()
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ring, err := w.dial()
		if err != nil {
			slog.Warn("encoder: ring connect failed, retrying", "camera", w.cfg.Camera, "error", err)
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := w.codec.Init(w.cfg.Width, w.cfg.Height, w.cfg.FPS, w.cfg.BitrateBps); err != nil {
			ring.Close()
			return fmt.Errorf("encoder: init codec: %w", err)
		}

		if w.cfg.Camera == Rear && w.cfg.RawClip && w.newClipCodec != nil {
			w.clip = NewRawClipScheduler(time.Now(), w.cfg.ClipMinDelay, w.cfg.ClipMaxDelay, w.cfg.ClipLength, rand.New(rand.NewSource(time.Now().UnixNano())))
		}

		runErr := w.drain(ctx, ring)
		ring.Close()

		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return runErr
		}
		// Any other drain error (ring broke) falls through to outer
		// reconnect, per spec §4.3 step 2a: "a null result breaks to
		// outer reconnect."
	}
}

// drain runs the per-frame inner loop until the ring yields an error.
func (w *Worker) drain(ctx context.Context, ring videoring.Ring) error {
	for {
		frame, err := ring.Next(ctx)
		if err != nil {
			return err
		}

		if err := w.processFrame(frame); err != nil {
			slog.Warn("encoder: dropping frame after processing error",
				"camera", w.cfg.Camera, "frame_id", frame.FrameID, "error", err)
		}
	}
}

func (w *Worker) processFrame(frame videoring.Frame) error {
	if w.cfg.Camera == Rear {
		w.coordinator.WaitForFrame(frame.FrameID)
	}

	rotate, targetSeg, targetPath := w.coordinator.ShouldRotate(w.encoderSegment, frame.FrameID, w.cfg.Camera == Front)
	if rotate {
		if err := w.rotateTo(targetPath, targetSeg); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
	}

	result, err := w.codec.EncodeFrame(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	// encodeCounter advances once per processed frame, shared by this
	// frame's main-stream event and (if taken below) its raw-clip event —
	// matching the original's single post-loop "cnt++".
	w.encodeCounter++

	if err := w.publishAndLog(frame, result, w.cfg.Camera.frameType(), w.handle); err != nil {
		return err
	}

	if w.clip != nil {
		if w.clip.Tick(time.Now()) {
			if err := w.ensureClipCodec(); err != nil {
				return fmt.Errorf("init raw clip codec: %w", err)
			}
			clipResult, err := w.clipCodec.EncodeFrame(frame)
			if err != nil {
				return fmt.Errorf("encode raw clip frame: %w", err)
			}
			if err := w.publishAndLog(frame, clipResult, FrameTypeLosslessClip, w.clipHandle); err != nil {
				return err
			}
		} else if w.clipCodec != nil && !w.clip.Active() {
			// The clip just closed: tear down its codec and handle.
			w.clipCodec.Close()
			w.clipHandle.Close()
			w.clipCodec = nil
			w.clipHandle = nil
		}
	}

	return nil
}

func (w *Worker) rotateTo(targetPath string, targetSeg int) error {
	if err := w.codec.Rotate(targetPath, targetSeg); err != nil {
		return err
	}
	if w.clipCodec != nil {
		if err := w.clipCodec.Rotate(targetPath, targetSeg); err != nil {
			return err
		}
	}

	if w.handle != nil {
		w.handle.Close()
		w.handle = nil
	}
	if !w.cfg.NoDiskLogging {
		handle, err := w.log.GetHandle()
		if err != nil {
			return err
		}
		w.handle = handle
	}

	if w.clipCodec != nil {
		if w.clipHandle != nil {
			w.clipHandle.Close()
			w.clipHandle = nil
		}
		if !w.cfg.NoDiskLogging {
			clipHandle, err := w.log.GetHandle()
			if err != nil {
				return err
			}
			w.clipHandle = clipHandle
		}
	}

	w.encoderSegment = targetSeg
	w.currentPath = targetPath
	return nil
}

func (w *Worker) publishAndLog(frame videoring.Frame, result Result, frameType FrameType, handle *logger.Handle) error {
	event := IndexEvent{
		FrameID:      frame.FrameID,
		Type:         frameType,
		EncodeID:     w.encodeCounter,
		SegmentNum:   result.SegmentNum,
		SegmentID:    result.SegmentID,
		LogMonoNanos: uint64(time.Now().UnixNano()),
	}

	payload, err := event.Marshal()
	if err != nil {
		return err
	}

	if err := w.publisher.Publish(w.cfg.IndexTopic, payload); err != nil {
		slog.Warn("encoder: publish index event failed, continuing", "camera", w.cfg.Camera, "error", err)
	}

	if handle != nil {
		if err := handle.Log(payload, false); err != nil {
			return fmt.Errorf("log index event: %w", err)
		}
	}
	return nil
}

// ensureClipCodec lazily creates the raw-clip codec and its writer handle
// the moment a clip first starts inside the current segment (not every
// segment gets a clip, so this cannot happen unconditionally in rotateTo).
func (w *Worker) ensureClipCodec() error {
	if w.clipCodec != nil {
		return nil
	}
	w.clipCodec = w.newClipCodec()
	if w.cfg.NoDiskLogging {
		if fd, ok := w.clipCodec.(fileSinkDisabler); ok {
			fd.DisableFileSink()
		}
	}
	if err := w.clipCodec.Init(w.cfg.Width, w.cfg.Height, w.cfg.FPS, w.cfg.BitrateBps); err != nil {
		return err
	}
	if err := w.clipCodec.Rotate(w.currentPath, w.encoderSegment); err != nil {
		return err
	}
	if !w.cfg.NoDiskLogging {
		handle, err := w.log.GetHandle()
		if err != nil {
			return err
		}
		w.clipHandle = handle
	}
	return nil
}
