//go:build linux

package main

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const dmaLatencyPath = "/dev/cpu_dma_latency"

// holdDMALatency writes latency to path and keeps the descriptor open until
// ctx is done. The kernel drops the request when the descriptor is closed.
func holdDMALatency(ctx context.Context, path string, latency int32, logger zerolog.Logger) error {
	if latency < 0 {
		return fmt.Errorf("latency must not be negative, got %d", latency)
	}

	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], uint32(latency))
	if _, err := unix.Write(fd, buf[:]); err != nil {
		unix.Close(fd)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logger.Info().Str("path", path).Int32("latency_us", latency).Msg("Holding DMA latency request; press Ctrl+C to release")
	<-ctx.Done()

	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	logger.Info().Msg("Released DMA latency request")
	return nil
}
