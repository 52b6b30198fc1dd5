// Package rotation implements the shared rotation state that synchronizes
// the ingest loop with the per-camera encoder workers.
//
// The Coordinator is the only shared mutable state between those
// goroutines. It is guarded by a single mutex plus a condition variable,
// the same pairing used by the worker mailbox in framesupplier
// (internal/worker_slot.go) for blocking/wake semantics.
package rotation

import "sync"

// defaultDiscontinuityGap bounds how far behind the ingest side the
// rear-camera encoder will wait for before giving up and proceeding
// unsynchronized. A gap this large usually means the ingest process
// restarted and frame ids jumped, not that ingest is merely slow.
// The source left whether this should be configurable unaddressed; here
// it is, via NewWithGap, defaulting to this value when unspecified.
const defaultDiscontinuityGap = 8

// State is the rotation singleton described in spec §3. It is only ever
// read through Coordinator's locked methods; callers never see the zero
// value mutate out from under them.
type State struct {
	SegmentPath       string
	SegNum            int
	LastFrameID       uint32
	RotateLastFrameID uint32
	RotateSegment     int
}

// Coordinator guards State with a mutex and notifies waiters on every
// state transition via the embedded condition variable.
type Coordinator struct {
	mu               sync.Mutex
	cond             *sync.Cond
	state            State
	exited           bool
	discontinuityGap uint32
}

// New returns a ready Coordinator with SegNum and RotateSegment at -1,
// i.e. before any segment has been created, using the default
// discontinuity gap.
func New() *Coordinator {
	return NewWithGap(defaultDiscontinuityGap)
}

// NewWithGap is New with an explicit discontinuity gap, wired from
// config.Runtime.DiscontinuityGap in production.
func NewWithGap(gap uint32) *Coordinator {
	c := &Coordinator{state: State{SegNum: -1, RotateSegment: -1}, discontinuityGap: gap}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// AdvanceSegment is called only by the ingest loop, once per rotation
// tick. It captures the frame id observed so far as the rotation
// watermark before publishing the new segment, per invariant 2 of spec §3.
func (c *Coordinator) AdvanceSegment(path string, segNum int) {
	c.mu.Lock()
	c.state.RotateLastFrameID = c.state.LastFrameID
	c.state.SegmentPath = path
	c.state.SegNum = segNum
	c.state.RotateSegment = segNum
	c.mu.Unlock()
	c.cond.Broadcast()
}

// ObserveFrame is called only by the ingest loop when it decodes a
// rear-camera frame event.
func (c *Coordinator) ObserveFrame(frameID uint32) {
	c.mu.Lock()
	c.state.LastFrameID = frameID
	c.mu.Unlock()
	c.cond.Broadcast()
}

// WaitForFrame blocks the calling (rear-camera encoder) goroutine while
// ingest is still behind frameID by fewer than discontinuityGap frames.
// It returns early, without waiting, once the process starts shutting
// down so the encoder can drain and exit.
func (c *Coordinator) WaitForFrame(frameID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for frameID > c.state.LastFrameID && (frameID-c.state.LastFrameID) < c.discontinuityGap && !c.exited {
		c.cond.Wait()
	}
}

// ShouldRotate implements the rotation decision from spec §4.1. The rear
// camera is the timing anchor: it only rotates once ingest has observed a
// frame newer than the one captured at the last rotation tick. The front
// camera is best effort and rotates as soon as a newer segment exists.
func (c *Coordinator) ShouldRotate(encoderSegment int, frameID uint32, isFront bool) (rotate bool, targetSeg int, targetPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isFront {
		rotate = encoderSegment < c.state.RotateSegment
	} else {
		rotate = frameID > c.state.RotateLastFrameID && encoderSegment < c.state.RotateSegment
	}
	return rotate, c.state.RotateSegment, c.state.SegmentPath
}

// Snapshot returns a copy of the current state, for logging and tests.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Shutdown sets the shutdown flag and wakes every waiter so encoder
// goroutines blocked in WaitForFrame can observe it and return.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	c.exited = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// ShuttingDown reports whether Shutdown has been called.
func (c *Coordinator) ShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}
