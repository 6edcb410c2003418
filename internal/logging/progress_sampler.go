package logging

import (
	"math"
	"strings"
	"sync"
)

// ProgressSampler thins out progress logging for long renders and training
// runs. A sample is kept when the phase changes or when the percentage
// reaches the next multiple of the step. Safe for concurrent use.
type ProgressSampler struct {
	mu    sync.Mutex
	step  float64
	phase string
	next  float64
}

// NewProgressSampler returns a sampler that keeps one sample per step
// percentage points. Non-positive steps fall back to 5.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 5
	}
	return &ProgressSampler{step: step}
}

// ShouldLog reports whether the sample is worth logging. A negative percent
// means the position is unknown and only a phase change is reported.
func (s *ProgressSampler) ShouldLog(percent float64, phase string) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := false
	if phase = strings.TrimSpace(phase); phase != "" && phase != s.phase {
		s.phase = phase
		s.next = 0
		keep = true
	}
	if percent < 0 {
		return keep
	}
	percent = math.Min(percent, 100)
	if percent >= s.next {
		s.next = (math.Floor(percent/s.step) + 1) * s.step
		keep = true
	}
	return keep
}
