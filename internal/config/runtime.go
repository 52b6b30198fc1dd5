package config

import "time"

// Runtime holds process-level settings that spec.md hard-codes as
// constants (CAMERA_FPS, SEGMENT_LENGTH, LOG_ROOT, the raw-clip bounds)
// but which are kept as an overridable struct here, following the
// teacher's config.Config pattern of a defaults-plus-flags struct rather
// than scattered package-level constants.
type Runtime struct {
	LogRoot          string
	SegmentLength    time.Duration
	CameraFPS        int
	CameraWidth      int
	CameraHeight     int
	RearBitrateBps   int
	FrontBitrateBps  int
	RearIndexTopic   string
	FrontIndexTopic  string
	StreamTopic      string
	StreamEnabled    bool // --stream / --only-stream: raw H.264 bitstream publisher on the rear camera
	DiskLogging      bool // false under --only-stream: no segment is ever created or written
	FrameTopic       string
	DiscontinuityGap uint32
	SoftwareVersion  string

	RawClipEnabled   bool
	RawClipLength    int // frames
	RawClipMinDelay  time.Duration
	RawClipMaxDelay  time.Duration

	LidarEnabled bool
	LidarAddr    string

	RearShmPath  string
	FrontShmPath string

	ServiceListPath string
	BusBroker       string
	BusTopicPrefix  string

	ParamsDBPath         string
	SystemPropertiesPath string
}

// DefaultRuntime mirrors spec.md's hard-coded constants exactly
// (CAMERA_FPS=20, SEGMENT_LENGTH=60s, LOG_ROOT, RAW_CLIP_LENGTH=100,
// RAW_CLIP_FREQUENCY in [61s, 480s)) so the zero-flag invocation behaves
// identically to the original.
func DefaultRuntime() Runtime {
	return Runtime{
		LogRoot:          "/data/media/0/realdata",
		SegmentLength:    60 * time.Second,
		CameraFPS:        20,
		CameraWidth:      1280,
		CameraHeight:     720,
		RearBitrateBps:   5_000_000,
		FrontBitrateBps:  1_000_000,
		RearIndexTopic:   "encodeidx/rear",
		FrontIndexTopic:  "encodeidx/front",
		StreamTopic:      "stream/raw",
		StreamEnabled:    false,
		DiskLogging:      true,
		FrameTopic:       "frame",
		DiscontinuityGap: 8,
		SoftwareVersion:  "recorderd-dev",

		RawClipEnabled:  true,
		RawClipLength:   100,
		RawClipMinDelay: 61 * time.Second,
		RawClipMaxDelay: 480 * time.Second,

		LidarEnabled: false,
		LidarAddr:    ":2368",

		RearShmPath:  "/dev/shm/camera_rear",
		FrontShmPath: "/dev/shm/camera_front",

		ServiceListPath: "../service_list.yaml",
		BusBroker:       "127.0.0.1:1883",
		BusTopicPrefix:  "recorder",

		ParamsDBPath:         "/data/params/params.db",
		SystemPropertiesPath: "/etc/recorderd/system.properties",
	}
}
