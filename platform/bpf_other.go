//go:build !linux

// This file lets the binary build on development machines without eBPF
// support. Attaching always fails.

package platform

// Attach is not available outside Linux
func Attach(cfg Config) (Producer, error) {
	return nil, ErrUnsupported
}
