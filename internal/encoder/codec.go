// Package encoder implements the per-camera Encoder Worker: it pulls
// frames from a videoring.Ring, drives a Codec, and rotates in lockstep
// with the Rotation Coordinator per spec.md §4.3.
package encoder

import "github.com/e7canasta/recorderd/internal/videoring"

// Result is returned by EncodeFrame: the segment and per-segment
// monotonically increasing frame index (spec.md §4.3.e: "the encoder
// returns (out_segment, out_id) where out_id is a per-segment,
// monotonically increasing frame index") the encoded frame landed at.
// SegmentID resets to zero on every Rotate; it is distinct from the
// Worker-owned, never-reset EncodeID that IndexEvent carries.
type Result struct {
	SegmentNum int
	SegmentID  int
}

// Codec is the video codec contract spec.md assumes: "an encoder
// offering init, encode_frame → (segment_num, segment_id), rotate(path,
// seg), close".
type Codec interface {
	Init(width, height, fps, bitrateBps int) error
	EncodeFrame(frame videoring.Frame) (Result, error)
	Rotate(path string, segNum int) error
	Close() error
}
