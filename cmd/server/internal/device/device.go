// Package device selects the compute device for inference and manages
// accelerator memory across pipeline runs.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/voxscribe/voxscribe/cmd/server/internal/metrics"
)

// Kind identifies a class of compute device.
type Kind string

const (
	KindDiscrete   Kind = "discrete"   // dedicated GPU
	KindIntegrated Kind = "integrated" // SoC accelerator
	KindCPU        Kind = "cpu"
)

// Precision is the numeric compute type used for inference.
type Precision string

const (
	PrecisionFloat16 Precision = "float16"
	PrecisionFloat32 Precision = "float32"
	PrecisionInt8    Precision = "int8"
)

// Profile is a fully resolved compute configuration. It is derived once at
// selection time and passed unchanged to every inference call.
type Profile struct {
	Kind      Kind
	Precision Precision
	BatchSize int
}

// MemorySnapshot is a point-in-time view of accelerator memory occupancy.
// Free is what the runtime has not reserved out of the device total.
type MemorySnapshot struct {
	AllocatedBytes uint64 `json:"allocated_bytes"`
	ReservedBytes  uint64 `json:"reserved_bytes"`
	FreeBytes      uint64 `json:"free_bytes"`
	TotalBytes     uint64 `json:"total_bytes"`
}

// Accelerator abstracts the hardware runtime. Implementations talk to the
// actual accelerator driver; tests substitute a fake.
type Accelerator interface {
	// DiscreteAvailable reports whether a dedicated GPU is usable.
	DiscreteAvailable() bool
	// IntegratedAvailable reports whether a SoC accelerator is usable.
	IntegratedAvailable() bool
	// ComputeCapability returns the discrete device's major capability
	// version, or 0 when unknown.
	ComputeCapability() int
	// TotalMemoryBytes returns the discrete device's total memory, or 0
	// when unknown.
	TotalMemoryBytes() uint64
	// Memory returns current allocated and reserved byte counts.
	Memory() (allocated, reserved uint64)
	// ClearCache asks the runtime to return cached blocks to the device.
	ClearCache()
	// Synchronize blocks until all queued device work has completed.
	Synchronize()
}

// Manager owns device selection and the memory release protocol.
type Manager struct {
	acc    Accelerator
	logger *slog.Logger
}

// NewManager creates a device manager over the given accelerator runtime.
func NewManager(acc Accelerator, logger *slog.Logger) *Manager {
	return &Manager{acc: acc, logger: logger}
}

// Select resolves the compute profile. preferred narrows the choice to one
// device class ("auto" keeps the full preference order discrete, integrated,
// cpu). Selection never fails: the CPU is always a valid fallback.
func (m *Manager) Select(preferred string) Profile {
	var p Profile

	switch {
	case (preferred == "auto" || preferred == "discrete") && m.acc.DiscreteAvailable():
		p.Kind = KindDiscrete
		// Half precision needs tensor-core era hardware.
		if m.acc.ComputeCapability() >= 7 {
			p.Precision = PrecisionFloat16
		} else {
			p.Precision = PrecisionFloat32
		}
		p.BatchSize = batchForMemory(m.acc.TotalMemoryBytes())
	case (preferred == "auto" || preferred == "integrated") && m.acc.IntegratedAvailable():
		p.Kind = KindIntegrated
		p.Precision = PrecisionFloat32
		p.BatchSize = 4
	default:
		p.Kind = KindCPU
		p.Precision = PrecisionInt8
		p.BatchSize = 1
	}

	m.logger.Info("compute device selected",
		slog.String("kind", string(p.Kind)),
		slog.String("precision", string(p.Precision)),
		slog.Int("batch_size", p.BatchSize),
	)
	return p
}

// batchForMemory maps total device memory to a transcription batch size.
func batchForMemory(total uint64) int {
	const gb = uint64(1) << 30
	switch {
	case total >= 24*gb:
		return 16
	case total >= 12*gb:
		return 8
	case total >= 6*gb:
		return 4
	default:
		return 2
	}
}

// Release frees accelerator memory between pipeline stages. The protocol is
// deliberately repetitive: one collector pass alone leaves reachable model
// weights cached in the runtime, so collection and cache clearing alternate
// and the final synchronize acts as a completion barrier.
func (m *Manager) Release(ctx context.Context) error {
	runtime.GC()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory release interrupted: %w", err)
	}

	for i := 0; i < 3; i++ {
		m.acc.ClearCache()
		runtime.GC()
	}
	m.acc.Synchronize()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory release interrupted: %w", err)
	}

	snap := m.Snapshot()
	m.logger.Debug("accelerator memory released",
		slog.Uint64("allocated_bytes", snap.AllocatedBytes),
		slog.Uint64("reserved_bytes", snap.ReservedBytes),
	)
	return nil
}

// Snapshot reads current accelerator memory occupancy and publishes it to
// the metrics registry.
func (m *Manager) Snapshot() MemorySnapshot {
	allocated, reserved := m.acc.Memory()
	metrics.SetDeviceMemory(allocated, reserved)
	total := m.acc.TotalMemoryBytes()
	var free uint64
	if total > reserved {
		free = total - reserved
	}
	return MemorySnapshot{
		AllocatedBytes: allocated,
		ReservedBytes:  reserved,
		FreeBytes:      free,
		TotalBytes:     total,
	}
}
