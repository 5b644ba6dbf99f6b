package monitoring

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemSampler periodically samples the hub's own CPU and memory usage for
// the /api/stats endpoint. Sampling is best-effort: on platforms where
// process inspection fails the snapshot simply stays at zero.
type SystemSampler struct {
	mu     sync.RWMutex
	proc   *process.Process
	cpuPct float64
	rssMB  float64
}

// NewSystemSampler creates a sampler bound to the current process.
func NewSystemSampler() *SystemSampler {
	s := &SystemSampler{}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	return s
}

// Start launches the sampling loop. It returns immediately; the loop stops
// when ctx is canceled.
func (s *SystemSampler) Start(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	if s.proc == nil {
		logger.Warn().Msg("Process inspection unavailable, system stats disabled")
		return
	}
	go func() {
		defer RecoverPanic(logger, "systemSampler", nil)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

func (s *SystemSampler) sample() {
	cpuPct, err := s.proc.CPUPercent()
	if err != nil {
		return
	}
	var rssMB float64
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		rssMB = float64(mem.RSS) / (1024 * 1024)
	}
	s.mu.Lock()
	s.cpuPct = cpuPct
	s.rssMB = rssMB
	s.mu.Unlock()
}

// Snapshot returns the most recent CPU percentage and resident memory in MB.
func (s *SystemSampler) Snapshot() (cpuPct, rssMB float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpuPct, s.rssMB
}
