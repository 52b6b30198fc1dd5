// Package videoring defines the contract recorderd's encoder workers use
// to pull frames from the camera, mirroring the shared-memory video ring
// spec.md assumes: "a stream handle that yields planar YUV frames tagged
// with a monotonically increasing frame_id and a capture timestamp."
package videoring

import (
	"context"
	"time"
)

// Frame is one planar frame pulled from the ring.
type Frame struct {
	Data         []byte
	Width        int
	Height       int
	FrameID      uint32
	TimestampEOF time.Time
}

// Ring is the ring-reader contract an Encoder Worker connects to. Next
// blocks until a frame is available, the ring is closed (returns an
// error), or ctx is cancelled.
type Ring interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}
