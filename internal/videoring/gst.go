package videoring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// errRingClosed is returned by Next when the appsink yields no sample,
// meaning the pipeline reached EOS or was torn down underneath the reader.
var errRingClosed = errors.New("videoring: ring closed")

// GstRing is a Ring backed by a GStreamer pipeline reading from a POSIX
// shared-memory socket (shmsrc), grounded on the teacher's RTSP capture
// pipeline (modules/stream-capture/internal/rtsp/pipeline.go) but fed
// from shmsrc instead of rtspsrc — the closest concrete stand-in for
// spec.md's "shared-memory video ring" assumption.
type GstRing struct {
	pipeline *gst.Pipeline
	appsink  *app.Sink
	width    int
	height   int
	seq      atomic.Uint64
}

// NewGstRing connects to the shared-memory socket at shmPath, expecting
// raw planar I420 frames of the given dimensions.
func NewGstRing(shmPath string, width, height int) (*GstRing, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("videoring: new pipeline: %w", err)
	}

	shmsrc, err := gst.NewElement("shmsrc")
	if err != nil {
		return nil, fmt.Errorf("videoring: new shmsrc: %w", err)
	}
	shmsrc.SetProperty("socket-path", shmPath)
	shmsrc.SetProperty("is-live", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("videoring: new capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d", width, height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("videoring: new appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 2)
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(shmsrc, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("videoring: add elements: %w", err)
	}
	if err := gst.ElementLinkMany(shmsrc, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("videoring: link elements: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("videoring: set playing: %w", err)
	}

	return &GstRing{pipeline: pipeline, appsink: appsink, width: width, height: height}, nil
}

// Next blocks on the appsink until a frame arrives, the pipeline reaches
// EOS, or ctx is cancelled. frame_id is assigned sequentially here since
// shmsrc carries no frame_id metadata of its own — the spec's contract
// only requires it be monotonically increasing.
func (r *GstRing) Next(ctx context.Context) (Frame, error) {
	type result struct {
		frame Frame
		err   error
	}
	done := make(chan result, 1)

	go func() {
		sample := r.appsink.PullSample()
		if sample == nil {
			done <- result{err: errRingClosed}
			return
		}
		buffer := sample.GetBuffer()
		if buffer == nil {
			done <- result{err: errRingClosed}
			return
		}
		mapInfo := buffer.Map(gst.MapRead)
		data := make([]byte, len(mapInfo.Bytes()))
		copy(data, mapInfo.Bytes())
		buffer.Unmap()

		id := uint32(r.seq.Add(1))
		done <- result{frame: Frame{
			Data:         data,
			Width:        r.width,
			Height:       r.height,
			FrameID:      id,
			TimestampEOF: time.Now(),
		}}
	}()

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case res := <-done:
		return res.frame, res.err
	}
}

// Close stops the pipeline and releases GStreamer resources.
func (r *GstRing) Close() error {
	if err := r.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("videoring: set null: %w", err)
	}
	return nil
}
