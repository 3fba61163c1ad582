// Package resources samples CPU and memory usage of running service processes.
package resources

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/workshop/internal/metrics"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is the latest sample for one service.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_pct"`
	MemoryMB   float64   `json:"ram_mb"`
	NumThreads int32     `json:"num_threads"`
	SampledAt  time.Time `json:"sampled_at"`
}

// TargetFunc returns the PIDs to sample keyed by service id.
type TargetFunc func() map[string]int

// Sampler periodically samples every target PID. It implements suture.Service.
type Sampler struct {
	interval time.Duration
	targets  TargetFunc

	mu     sync.RWMutex
	latest map[string]Usage
}

func NewSampler(interval time.Duration, targets TargetFunc) *Sampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sampler{interval: interval, targets: targets, latest: make(map[string]Usage)}
}

// Serve samples immediately and then on every tick until ctx is done.
func (s *Sampler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Collect()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sampler) String() string { return "resource-sampler" }

// Collect takes one sample of every target. Services whose process cannot be
// inspected are dropped from the result set.
func (s *Sampler) Collect() {
	if s.targets == nil {
		return
	}
	now := time.Now()
	results := make(map[string]Usage)
	for id, pid := range s.targets() {
		if pid <= 0 {
			continue
		}
		u, err := sample(int32(pid), now)
		if err != nil {
			slog.Debug("resource sample failed", "service", id, "pid", pid, "error", err)
			continue
		}
		results[id] = u
	}

	s.mu.Lock()
	for id := range s.latest {
		if _, ok := results[id]; !ok {
			metrics.DeleteServiceResources(id)
		}
	}
	s.latest = results
	s.mu.Unlock()

	for id, u := range results {
		metrics.SetServiceResources(id, u.CPUPercent, u.MemoryMB)
	}
}

// Get returns the latest sample of id as the public view's resources map,
// or an empty map when nothing is known.
func (s *Sampler) Get(id string) map[string]float64 {
	s.mu.RLock()
	u, ok := s.latest[id]
	s.mu.RUnlock()
	if !ok {
		return map[string]float64{}
	}
	return map[string]float64{
		"cpu_pct": u.CPUPercent,
		"ram_mb":  u.MemoryMB,
	}
}

// Usage returns the full latest sample of id.
func (s *Sampler) Usage(id string) (Usage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.latest[id]
	return u, ok
}

func sample(pid int32, at time.Time) (Usage, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		threads = 0
	}
	return Usage{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		NumThreads: threads,
		SampledAt:  at,
	}, nil
}
