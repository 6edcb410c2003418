package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"talkreel/internal/extjob"
	"talkreel/internal/services"
)

// stepMarker prefixes the line the chain prints before each step.
const stepMarker = "##talkreel-step "

// Step is one shell command in a chain.
type Step struct {
	Name    string
	Command string
}

// Chain is an ordered list of steps where each consumes the previous step's
// output. The generated script stops at the first failing step.
type Chain struct {
	Steps []Step
	// Locate finds the chain's final artifact on the host once every step
	// has succeeded.
	Locate extjob.Locator
}

func (c Chain) validate() error {
	if len(c.Steps) == 0 {
		return services.Wrap(services.ErrValidation, "session", "run", "chain has no steps", nil)
	}
	for i, step := range c.Steps {
		if strings.TrimSpace(step.Command) == "" {
			return services.Wrap(services.ErrValidation, "session", "run", fmt.Sprintf("step %d has no command", i+1), nil)
		}
	}
	return nil
}

// Script renders the chain as one bash program. Each step is announced with
// a marker line so failures can be attributed to the step that was running.
func (c Chain) Script() string {
	var b strings.Builder
	b.WriteString("set -e")
	for i, step := range c.Steps {
		fmt.Fprintf(&b, " && echo '%s%d'", stepMarker, i+1)
		b.WriteString(" && ")
		b.WriteString(strings.TrimSpace(step.Command))
	}
	return b.String()
}

// StepError reports the step at which a chain stopped.
type StepError struct {
	// Index is 1-based; 0 means the chain failed before its first step.
	Index int
	Step  string
	Total int
	Err   error
}

func (e *StepError) Error() string {
	if e.Index == 0 {
		return fmt.Sprintf("chain failed before first step: %v", e.Err)
	}
	return fmt.Sprintf("chain step %d/%d (%s) failed: %v", e.Index, e.Total, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type stepTracker struct {
	chain Chain
	mu    sync.Mutex
	index int
}

// observe records marker lines and reports whether line was one.
func (t *stepTracker) observe(line string) bool {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), stepMarker)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 1 || n > len(t.chain.Steps) {
		return false
	}
	t.mu.Lock()
	t.index = n
	t.mu.Unlock()
	return true
}

func (t *stepTracker) current() (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index == 0 {
		return 0, ""
	}
	return t.index, t.chain.Steps[t.index-1].Name
}
