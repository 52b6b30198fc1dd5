// Package recorder wires the ingest loop, the two camera encoder workers,
// and the optional lidar ingester into a single running process, exactly
// the way cmd/oriond's core.Orion wires its MQTT client, inference
// pipeline, and health server. cmd/loggerd is a thin flag-parsing shell
// around this package.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/recorderd/internal/bus"
	"github.com/e7canasta/recorderd/internal/clock"
	"github.com/e7canasta/recorderd/internal/config"
	"github.com/e7canasta/recorderd/internal/encoder"
	"github.com/e7canasta/recorderd/internal/ingest"
	"github.com/e7canasta/recorderd/internal/logger"
	"github.com/e7canasta/recorderd/internal/params"
	"github.com/e7canasta/recorderd/internal/rotation"
	"github.com/e7canasta/recorderd/internal/videoring"
)

// Recorder holds every long-lived component of one recorderd process.
type Recorder struct {
	cfg   config.Runtime
	Log   *logger.Logger
	Store *params.Store
	Coord *rotation.Coordinator

	loop        *ingest.Loop
	rearWorker  *encoder.Worker
	frontWorker *encoder.Worker
	lidar       *ingest.LidarIngester
}

// New builds a Recorder from its runtime settings and subscription list.
// busImpl is injected rather than constructed here so tests can supply a
// bus.NewMemoryBus() in place of the real MQTT adapter.
func New(cfg config.Runtime, entries []config.SubscriptionEntry, busImpl bus.Bus) (*Recorder, error) {
	if err := logger.ClearLocks(cfg.LogRoot); err != nil {
		return nil, fmt.Errorf("recorder: clear locks: %w", err)
	}

	log, err := logger.New(cfg.LogRoot)
	if err != nil {
		return nil, fmt.Errorf("recorder: open logger: %w", err)
	}

	store, err := params.Open(cfg.ParamsDBPath)
	if err != nil {
		return nil, fmt.Errorf("recorder: open params store: %w", err)
	}

	coord := rotation.NewWithGap(cfg.DiscontinuityGap)
	segClock := clock.NewSegmentClock(time.Now(), cfg.SegmentLength)
	loop := ingest.New(busImpl, log, coord, segClock, store, entries, cfg.FrameTopic, cfg.SoftwareVersion, cfg.SystemPropertiesPath, true, !cfg.DiskLogging)

	rearWorker := encoder.NewWorker(
		encoder.Config{
			Camera:        encoder.Rear,
			Width:         cfg.CameraWidth,
			Height:        cfg.CameraHeight,
			FPS:           cfg.CameraFPS,
			BitrateBps:    cfg.RearBitrateBps,
			IndexTopic:    cfg.RearIndexTopic,
			RawClip:       cfg.RawClipEnabled,
			ClipMinDelay:  cfg.RawClipMinDelay,
			ClipMaxDelay:  cfg.RawClipMaxDelay,
			ClipLength:    cfg.RawClipLength,
			Stream:        cfg.StreamEnabled,
			StreamTopic:   cfg.StreamTopic,
			NoDiskLogging: !cfg.DiskLogging,
		},
		coord, log, busImpl.Publisher(),
		func() (videoring.Ring, error) { return videoring.NewGstRing(cfg.RearShmPath, cfg.CameraWidth, cfg.CameraHeight) },
		encoder.NewGstCodec(false),
		func() encoder.Codec { return encoder.NewGstCodec(true) },
	)

	frontWorker := encoder.NewWorker(
		encoder.Config{
			Camera:        encoder.Front,
			Width:         cfg.CameraWidth,
			Height:        cfg.CameraHeight,
			FPS:           cfg.CameraFPS,
			BitrateBps:    cfg.FrontBitrateBps,
			IndexTopic:    cfg.FrontIndexTopic,
			NoDiskLogging: !cfg.DiskLogging,
		},
		coord, log, busImpl.Publisher(),
		func() (videoring.Ring, error) { return videoring.NewGstRing(cfg.FrontShmPath, cfg.CameraWidth, cfg.CameraHeight) },
		encoder.NewGstCodec(false),
		nil,
	)

	var lidar *ingest.LidarIngester
	if cfg.LidarEnabled {
		lidar = ingest.NewLidarIngester(cfg.LidarAddr, log)
	}

	return &Recorder{
		cfg:         cfg,
		Log:         log,
		Store:       store,
		Coord:       coord,
		loop:        loop,
		rearWorker:  rearWorker,
		frontWorker: frontWorker,
		lidar:       lidar,
	}, nil
}

// Run starts the ingest loop, both encoder workers, and (if enabled) the
// lidar ingester, and blocks until ctx is cancelled or one of them returns
// a non-context error (spec §7: "the ingest loop surfaces only fatal
// errors"). On return every component has been told to stop; Close still
// needs to be called to release the logger and params store.
func (r *Recorder) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Wake a rear encoder blocked in WaitForFrame as soon as we stop, since
	// the ingest loop will observe no further frames.
	go func() {
		<-ctx.Done()
		r.Coord.Shutdown()
	}()

	errCh := make(chan error, 4)
	run := func(name string, fn func(context.Context) error) {
		go func() {
			err := fn(ctx)
			if err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("%s: %w", name, err)
				return
			}
			errCh <- nil
		}()
	}

	started := 2
	run("ingest", r.loop.Run)
	run("rear-encoder", r.rearWorker.Run)
	if r.shouldRecordFront() {
		started++
		run("front-encoder", r.frontWorker.Run)
	} else {
		slog.Info("front camera recording disabled, skipping front encoder worker")
	}
	if r.lidar != nil {
		started++
		run("lidar", r.lidar.Run)
	}

	var firstErr error
	for i := 0; i < started; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	r.Coord.Shutdown()
	return firstErr
}

// shouldRecordFront gates the front-camera worker on the persisted
// "RecordFront" param, grounded on loggerd.cc's encoder_thread: a missing
// value or anything other than "1" means the front camera exits cleanly
// without ever starting (spec.md §4.3).
func (r *Recorder) shouldRecordFront() bool {
	value, ok, err := r.Store.Get("RecordFront")
	if err != nil {
		slog.Warn("failed to read RecordFront param, defaulting to disabled", "error", err)
		return false
	}
	return ok && value == "1"
}

// Close releases the params store and logger. Call after Run returns.
func (r *Recorder) Close() error {
	var err error
	if e := r.Store.Close(); e != nil {
		err = e
	}
	if e := r.Log.Close(); e != nil && err == nil {
		err = e
	}
	return err
}
