//go:build !linux

package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jnesss/pressurize/platform"
)

const dmaLatencyPath = "/dev/cpu_dma_latency"

func holdDMALatency(ctx context.Context, path string, latency int32, logger zerolog.Logger) error {
	return platform.ErrUnsupported
}
