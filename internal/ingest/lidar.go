package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/e7canasta/recorderd/internal/logger"
)

// maxLidarPacket bounds one UDP datagram read, matching the original's
// MAX_LIDAR_PACKET.
const maxLidarPacket = 2048

// LidarIngester is the supplemental UDP lidar ingest loop, grounded on
// loggerd.cc's ENABLE_LIDAR thread: original_source gates it with a
// compile-time flag, made a runtime flag here (config.Runtime.LidarEnabled)
// since Go has no portable compile-time #if. It logs raw packets into the
// main log without any quicklog mirror, identically to the original.
type LidarIngester struct {
	addr string
	log  *logger.Logger
}

// NewLidarIngester returns an ingester that will bind addr (host:port,
// UDP) when Run is called.
func NewLidarIngester(addr string, log *logger.Logger) *LidarIngester {
	return &LidarIngester{addr: addr, log: log}
}

// Run listens for UDP packets until ctx is cancelled, logging each one
// verbatim. A malformed or empty read is logged and skipped, never fatal
// (spec.md §7's "transient I/O" category).
func (li *LidarIngester) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", li.addr)
	if err != nil {
		return fmt.Errorf("lidar: resolve %s: %w", li.addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("lidar: listen %s: %w", li.addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxLidarPacket)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("lidar: read failed, continuing", "error", err)
			continue
		}
		if n <= 0 {
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		if err := li.log.Log(packet, false); err != nil {
			slog.Warn("lidar: log failed, dropping packet", "error", err)
		}
	}
}
