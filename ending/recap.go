package ending

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	xmtime "github.com/mensylisir/xmplay/time"
)

// HostStats holds the per-host outcome counters of one play.
type HostStats struct {
	OK          int
	Changed     int
	Unreachable int
	Failed      int
	Skipped     int
}

// HasFailure reports whether the host ended the play in a failing state.
func (s HostStats) HasFailure() bool {
	return s.Failed > 0 || s.Unreachable > 0
}

// PlayRecap reduces the task results of one play into per-host counters.
// Safe for concurrent Record calls from per-host workers.
type PlayRecap struct {
	Play string

	mu      sync.Mutex
	stats   map[string]*HostStats
	results []*TaskResult
	started time.Time
	elapsed time.Duration
}

// NewPlayRecap starts a recap for the named play.
func NewPlayRecap(play string) *PlayRecap {
	return &PlayRecap{
		Play:    play,
		stats:   make(map[string]*HostStats),
		started: time.Now(),
	}
}

// Record folds one task result into the recap.
func (p *PlayRecap) Record(r *TaskResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.results = append(p.results, r)
	s, ok := p.stats[r.Host]
	if !ok {
		s = &HostStats{}
		p.stats[r.Host] = s
	}

	outcome := r.Outcome
	if r.Ignored && (outcome == OutcomeFailed || outcome == OutcomeUnreachable) {
		outcome = OutcomeOK
	}
	switch outcome {
	case OutcomeOK:
		s.OK++
	case OutcomeChanged:
		s.Changed++
		s.OK++
	case OutcomeUnreachable:
		s.Unreachable++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	}
}

// Finish fixes the play's wall time.
func (p *PlayRecap) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elapsed = time.Since(p.started)
}

// Elapsed returns the play's wall time, live until Finish is called.
func (p *PlayRecap) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.elapsed > 0 {
		return p.elapsed
	}
	return time.Since(p.started)
}

// Stats returns a copy of the per-host counters.
func (p *PlayRecap) Stats() map[string]HostStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]HostStats, len(p.stats))
	for host, s := range p.stats {
		out[host] = *s
	}
	return out
}

// Results returns the recorded task results in arrival order.
func (p *PlayRecap) Results() []*TaskResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*TaskResult, len(p.results))
	copy(out, p.results)
	return out
}

// RunResult aggregates play recaps into the final run outcome.
type RunResult struct {
	RunID  string
	Recaps []*PlayRecap
}

// Add appends a finished play recap.
func (r *RunResult) Add(recap *PlayRecap) {
	r.Recaps = append(r.Recaps, recap)
}

// Failed reports whether any host in any play failed or was unreachable.
func (r *RunResult) Failed() bool {
	for _, recap := range r.Recaps {
		for _, s := range recap.Stats() {
			if s.HasFailure() {
				return true
			}
		}
	}
	return false
}

// ExitCode returns the process exit status the run should end with.
func (r *RunResult) ExitCode() int {
	if r.Failed() {
		return 2
	}
	return 0
}

// Render formats the recap block printed at the end of a run.
func (r *RunResult) Render() string {
	var b strings.Builder
	b.WriteString("PLAY RECAP\n")
	for _, recap := range r.Recaps {
		fmt.Fprintf(&b, "play %q (%s)\n", recap.Play, xmtime.Humanize(recap.Elapsed()))

		stats := recap.Stats()
		hosts := make([]string, 0, len(stats))
		for host := range stats {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)
		for _, host := range hosts {
			s := stats[host]
			fmt.Fprintf(&b, "  %-24s ok=%-4d changed=%-4d unreachable=%-4d failed=%-4d skipped=%-4d\n",
				host, s.OK, s.Changed, s.Unreachable, s.Failed, s.Skipped)
		}
	}
	return b.String()
}
