// Package diag samples the bridge's own resource usage for the periodic
// debug status line.
package diag

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

type Snapshot struct {
	PID        int32
	RSSBytes   uint64
	CPUPercent float64
	Goroutines int
}

func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("pid", int(s.PID)),
		slog.String("rss", fmt.Sprintf("%.1fMiB", float64(s.RSSBytes)/(1<<20))),
		slog.Float64("cpu", s.CPUPercent),
		slog.Int("goroutines", s.Goroutines),
	)
}

// Sampler reads process statistics for the current process.
type Sampler struct {
	proc *process.Process
}

func NewSampler() (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("diag: open self: %w", err)
	}
	return &Sampler{proc: p}, nil
}

// Snapshot returns current usage. CPUPercent is averaged over the life
// of the process.
func (s *Sampler) Snapshot() (Snapshot, error) {
	snap := Snapshot{PID: s.proc.Pid, Goroutines: runtime.NumGoroutine()}

	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return snap, fmt.Errorf("diag: memory info: %w", err)
	}
	snap.RSSBytes = mem.RSS

	cpu, err := s.proc.CPUPercent()
	if err != nil {
		return snap, fmt.Errorf("diag: cpu percent: %w", err)
	}
	snap.CPUPercent = cpu
	return snap, nil
}
