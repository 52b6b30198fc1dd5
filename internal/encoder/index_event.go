package encoder

import (
	"encoding/json"
	"fmt"
)

// FrameType distinguishes which camera/stream an index event came from,
// per spec §4.3's "type (rear/front/lossless-clip)".
type FrameType string

const (
	FrameTypeRear         FrameType = "rear"
	FrameTypeFront        FrameType = "front"
	FrameTypeLosslessClip FrameType = "lossless-clip"
)

// IndexEvent is the encode-index record spec.md §4.3.f describes: built
// once per encoded frame, published to the per-camera index port and
// written into the segment's writer handle so it shares a segment with
// the frame's ingest-side metadata.
//
// EncodeID and SegmentID are two distinct counters, per the original's
// loggerd.cc (cnt vs. out_id): EncodeID is a single counter that never
// resets across the worker's lifetime (one per processed frame, shared by
// a frame's main-stream and raw-clip index events alike); SegmentID is
// the codec's own per-segment counter (Result.SegmentID), reset to zero
// on every rotation.
type IndexEvent struct {
	FrameID      uint32    `json:"frame_id"`
	Type         FrameType `json:"type"`
	EncodeID     int       `json:"encode_id"`
	SegmentNum   int       `json:"segment_num"`
	SegmentID    int       `json:"segment_id"`
	LogMonoNanos uint64    `json:"log_mono_time"`
}

// Marshal encodes the event as the opaque payload written to the
// writer handle and published on the bus — JSON for the same reason as
// initdata.Record.Marshal: no schema/serialization library is in
// recorderd's dependency set.
func (e IndexEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoder: marshal index event: %w", err)
	}
	return data, nil
}
