package ingest

import "encoding/binary"

// frameIDOffset is the fixed byte offset of the frame_id field within a
// camera-frame event's payload. The core never otherwise parses event
// payloads (spec §3); this one field and the timestamp-patch field below
// are the two named exceptions.
const frameIDOffset = 0

// ExtractFrameID reads the frame_id out of a camera-frame topic's event
// payload. ok is false if the payload is too short to contain one —
// a malformed individual message, logged and skipped by the caller, never
// fatal (spec §7).
func ExtractFrameID(payload []byte) (frameID uint32, ok bool) {
	if len(payload) < frameIDOffset+4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(payload[frameIDOffset : frameIDOffset+4]), true
}

// timestampSentinelOffset and timestampPatchOffset are the exact byte
// offsets from spec §6: the four-byte sentinel 02 00 01 00 must be
// present at 0x0C for the patch at 0x10 to be safe to apply.
const (
	timestampSentinelOffset = 0x0C
	timestampPatchOffset    = 0x10
)

var timestampSentinel = [4]byte{0x02, 0x00, 0x01, 0x00}

// PatchTimestamp overwrites the 8-byte monotonic receive timestamp field
// of a timestamp-patchable event in place, iff the wire sentinel is
// present at its expected offset. It reports whether the patch was
// applied. A producer that doesn't carry the sentinel is not fatal: the
// caller skips the patch and logs the event unmodified (spec §7).
func PatchTimestamp(payload []byte, monoNanos uint64) bool {
	if len(payload) < timestampPatchOffset+8 {
		return false
	}
	if [4]byte(payload[timestampSentinelOffset:timestampSentinelOffset+4]) != timestampSentinel {
		return false
	}
	binary.LittleEndian.PutUint64(payload[timestampPatchOffset:timestampPatchOffset+8], monoNanos)
	return true
}
