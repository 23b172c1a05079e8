package device

import (
	"os"
	"strconv"
	"sync"
)

// HostAccelerator probes the accelerator runtime exposed by the host. The
// probe results are environment-driven so deployments without a device
// daemon degrade to CPU without code changes.
type HostAccelerator struct {
	mu       sync.Mutex
	reserved uint64
}

// NewHostAccelerator returns the host-backed accelerator runtime.
func NewHostAccelerator() *HostAccelerator {
	return &HostAccelerator{}
}

func (h *HostAccelerator) DiscreteAvailable() bool {
	return os.Getenv("ACCEL_DISCRETE") == "1"
}

func (h *HostAccelerator) IntegratedAvailable() bool {
	return os.Getenv("ACCEL_INTEGRATED") == "1"
}

func (h *HostAccelerator) ComputeCapability() int {
	if v, err := strconv.Atoi(os.Getenv("ACCEL_CAPABILITY")); err == nil {
		return v
	}
	return 0
}

func (h *HostAccelerator) TotalMemoryBytes() uint64 {
	if v, err := strconv.ParseUint(os.Getenv("ACCEL_MEMORY_BYTES"), 10, 64); err == nil {
		return v
	}
	return 0
}

func (h *HostAccelerator) Memory() (allocated, reserved uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return 0, h.reserved
}

func (h *HostAccelerator) ClearCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reserved = 0
}

func (h *HostAccelerator) Synchronize() {}
