package encoder

import (
	"fmt"
	"path/filepath"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/recorderd/internal/videoring"
)

// GstCodec encodes I420 frames to H.264 via an appsrc → videoconvert →
// x264enc → h264parse → splitmuxsink pipeline, grounded on the teacher's
// GStreamer element-wiring style in
// modules/stream-capture/internal/rtsp/pipeline.go. splitmuxsink's
// "split-now" action signal gives Rotate a frame-aligned cut without
// tearing down the encoder between segments.
type GstCodec struct {
	pipeline *gst.Pipeline
	appsrc   *app.Source
	sink     *gst.Element

	segmentNum int
	frameInSeg int
	lossless   bool
	fileSink   bool

	streamPublish func([]byte) // non-nil enables the raw bitstream tee
	streamSink    *app.Sink
}

// NewGstCodec returns an unconfigured codec. lossless selects x264enc's
// zerolatency/lossless tuning, used by the raw-clip sub-encoder.
func NewGstCodec(lossless bool) *GstCodec {
	return &GstCodec{lossless: lossless, segmentNum: -1, fileSink: true}
}

// EnableStream arranges for every encoded access unit to also be handed to
// publish, in addition to being written to the segment's video file —
// spec.md §6's "--stream enables the raw bitstream publisher". Must be
// called before Init.
func (c *GstCodec) EnableStream(publish func([]byte)) {
	c.streamPublish = publish
}

// DisableFileSink drops the splitmuxsink branch entirely: Rotate becomes a
// no-op beyond its segment bookkeeping. Grounded on loggerd.cc's
// "--only-stream" setting is_logging false. Must be called before Init.
func (c *GstCodec) DisableFileSink() {
	c.fileSink = false
}

// Init builds the pipeline for the given frame dimensions, target frame
// rate, and bitrate (rear: 5_000_000, front: 1_000_000, per spec §4.3).
func (c *GstCodec) Init(width, height, fps, bitrateBps int) error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("encoder: new pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return fmt.Errorf("encoder: new appsrc: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1", width, height, fps)
	appsrc.SetProperty("caps", gst.NewCapsFromString(capsStr))
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("format", int(gst.FormatTime))

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("encoder: new videoconvert: %w", err)
	}

	x264, err := gst.NewElement("x264enc")
	if err != nil {
		return fmt.Errorf("encoder: new x264enc: %w", err)
	}
	x264.SetProperty("bitrate", uint(bitrateBps/1000)) // kbps
	if c.lossless {
		x264.SetProperty("tune", "zerolatency")
		x264.SetProperty("speed-preset", "ultrafast")
		x264.SetProperty("qp-max", uint(0))
	} else {
		x264.SetProperty("tune", "zerolatency")
		x264.SetProperty("speed-preset", "superfast")
	}

	parser, err := gst.NewElement("h264parse")
	if err != nil {
		return fmt.Errorf("encoder: new h264parse: %w", err)
	}

	var sink *gst.Element
	if c.fileSink {
		sink, err = gst.NewElement("splitmuxsink")
		if err != nil {
			return fmt.Errorf("encoder: new splitmuxsink: %w", err)
		}
		// max-size-bytes=0 disables size-based splitting; segments are cut
		// only by Rotate's explicit "split-now" signal.
		sink.SetProperty("max-size-bytes", uint64(0))
	}

	var streamSink *app.Sink
	if c.streamPublish != nil {
		streamSink, err = app.NewAppSink()
		if err != nil {
			return fmt.Errorf("encoder: new stream appsink: %w", err)
		}
		streamSink.SetCallbacks(&app.SinkCallbacks{
			NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
				sample := sink.PullSample()
				if sample == nil {
					return gst.FlowOK
				}
				buffer := sample.GetBuffer()
				if buffer == nil {
					return gst.FlowOK
				}
				mapInfo := buffer.Map(gst.MapRead)
				data := mapInfo.Bytes()
				if len(data) > 0 {
					accessUnit := make([]byte, len(data))
					copy(accessUnit, data)
					c.streamPublish(accessUnit)
				}
				buffer.Unmap()
				return gst.FlowOK
			},
		})
	}

	switch {
	case sink != nil && streamSink != nil:
		// Both the segment file and the raw bitstream publisher are active:
		// tee the parsed access units to a queue per branch so neither
		// consumer can stall the other.
		tee, err := gst.NewElement("tee")
		if err != nil {
			return fmt.Errorf("encoder: new tee: %w", err)
		}
		fileQueue, err := gst.NewElement("queue")
		if err != nil {
			return fmt.Errorf("encoder: new file queue: %w", err)
		}
		streamQueue, err := gst.NewElement("queue")
		if err != nil {
			return fmt.Errorf("encoder: new stream queue: %w", err)
		}
		if err := pipeline.AddMany(appsrc.Element, converter, x264, parser, tee, fileQueue, sink, streamQueue, streamSink.Element); err != nil {
			return fmt.Errorf("encoder: add elements: %w", err)
		}
		if err := gst.ElementLinkMany(appsrc.Element, converter, x264, parser, tee); err != nil {
			return fmt.Errorf("encoder: link main chain: %w", err)
		}
		if err := gst.ElementLinkMany(tee, fileQueue, sink); err != nil {
			return fmt.Errorf("encoder: link file branch: %w", err)
		}
		if err := gst.ElementLinkMany(tee, streamQueue, streamSink.Element); err != nil {
			return fmt.Errorf("encoder: link stream branch: %w", err)
		}
	case sink != nil:
		if err := pipeline.AddMany(appsrc.Element, converter, x264, parser, sink); err != nil {
			return fmt.Errorf("encoder: add elements: %w", err)
		}
		if err := gst.ElementLinkMany(appsrc.Element, converter, x264, parser, sink); err != nil {
			return fmt.Errorf("encoder: link elements: %w", err)
		}
	case streamSink != nil:
		if err := pipeline.AddMany(appsrc.Element, converter, x264, parser, streamSink.Element); err != nil {
			return fmt.Errorf("encoder: add elements: %w", err)
		}
		if err := gst.ElementLinkMany(appsrc.Element, converter, x264, parser, streamSink.Element); err != nil {
			return fmt.Errorf("encoder: link elements: %w", err)
		}
	default:
		return fmt.Errorf("encoder: neither file sink nor stream publisher enabled")
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("encoder: set playing: %w", err)
	}

	c.pipeline = pipeline
	c.appsrc = appsrc
	c.sink = sink
	c.streamSink = streamSink
	return nil
}

// EncodeFrame pushes one I420 frame into the pipeline. frameInSeg (out_id
// in spec.md §4.3.e) is the per-segment frame counter, reset on every
// Rotate.
func (c *GstCodec) EncodeFrame(frame videoring.Frame) (Result, error) {
	buf := gst.NewBufferFromBytes(frame.Data)
	if ret := c.appsrc.PushBuffer(buf); ret != gst.FlowOK {
		return Result{}, fmt.Errorf("encoder: push buffer: flow return %v", ret)
	}

	id := c.frameInSeg
	c.frameInSeg++
	return Result{SegmentNum: c.segmentNum, SegmentID: id}, nil
}

// Rotate points splitmuxsink at a new output location and cuts the
// current file, starting out_id back at zero for the new segment. With
// the file sink disabled (--only-stream) this only advances the segment
// bookkeeping that IndexEvent still reports.
func (c *GstCodec) Rotate(path string, segNum int) error {
	if c.sink != nil {
		location := filepath.Join(path, "video.mkv")
		c.sink.SetProperty("location", location)
		c.sink.Emit("split-now")
	}

	c.segmentNum = segNum
	c.frameInSeg = 0
	return nil
}

// Close tears down the pipeline.
func (c *GstCodec) Close() error {
	if c.pipeline == nil {
		return nil
	}
	if err := c.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("encoder: set null: %w", err)
	}
	return nil
}
