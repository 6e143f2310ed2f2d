// Package report accumulates per-stage counts while a run executes and
// renders them into the final run summary.
package report

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/climatehealth/fusion-cli/internal/model"
	"github.com/climatehealth/fusion-cli/internal/normalize"
)

// clock is a package-level time source so tests can freeze time via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source for elapsed-time reporting. Pass nil to
// reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Collector accumulates counts from concurrent pipeline stages. All methods
// are safe for concurrent use.
type Collector struct {
	started time.Time

	sourceRows   atomic.Int64
	normalized   atomic.Int64
	parseErrors  atomic.Int64
	unresolvable atomic.Int64
	outOfScope   atomic.Int64
	trimmed      atomic.Int64
	fused        atomic.Int64
	accepted     atomic.Int64
	rejected     atomic.Int64

	mu            sync.Mutex
	rejectReasons map[string]int64
	variableRows  map[string]int64
}

// NewCollector starts a collector; elapsed time counts from this call.
func NewCollector() *Collector {
	return &Collector{
		started:       clock.Now(),
		rejectReasons: make(map[string]int64),
		variableRows:  make(map[string]int64),
	}
}

// AddBatch merges one normalization batch's counts and tallies which
// canonical variables its records contribute.
func (c *Collector) AddBatch(batch *normalize.Batch) {
	s := batch.Stats
	c.sourceRows.Add(s.SourceRows)
	c.normalized.Add(s.Normalized)
	c.parseErrors.Add(s.ParseErrors)
	c.unresolvable.Add(s.Unresolvable)
	c.outOfScope.Add(s.OutOfScope)
	c.trimmed.Add(s.Trimmed)

	c.mu.Lock()
	for _, rec := range batch.Records {
		for name := range rec.Variables {
			c.variableRows[name]++
		}
	}
	c.mu.Unlock()
}

// AddFused records the fused group count.
func (c *Collector) AddFused(n int) {
	c.fused.Add(int64(n))
}

// AddValidation records the gate outcome, tallying rejections per rule.
func (c *Collector) AddValidation(accepted int, rejected []model.Rejection) {
	c.accepted.Add(int64(accepted))
	c.rejected.Add(int64(len(rejected)))

	c.mu.Lock()
	for _, rej := range rejected {
		c.rejectReasons[rej.Err.Rule]++
	}
	c.mu.Unlock()
}

// Summary renders the counts collected so far.
func (c *Collector) Summary() *model.RunSummary {
	c.mu.Lock()
	reasons := copyCounts(c.rejectReasons)
	varRows := copyCounts(c.variableRows)
	c.mu.Unlock()

	return &model.RunSummary{
		SourceRows:    c.sourceRows.Load(),
		Normalized:    c.normalized.Load(),
		ParseErrors:   c.parseErrors.Load(),
		Unresolvable:  c.unresolvable.Load(),
		OutOfScope:    c.outOfScope.Load(),
		Trimmed:       c.trimmed.Load(),
		Fused:         c.fused.Load(),
		Accepted:      c.accepted.Load(),
		Rejected:      c.rejected.Load(),
		RejectReasons: reasons,
		VariableRows:  varRows,
		Elapsed:       clock.Since(c.started),
	}
}

// Log writes the summary at info level in one structured line per stage.
func (c *Collector) Log() {
	s := c.Summary()
	zap.L().Info("run summary",
		zap.Int64("source_rows", s.SourceRows),
		zap.Int64("normalized", s.Normalized),
		zap.Int64("parse_errors", s.ParseErrors),
		zap.Int64("unresolvable", s.Unresolvable),
		zap.Int64("out_of_scope", s.OutOfScope),
		zap.Int64("trimmed", s.Trimmed),
		zap.Int64("fused", s.Fused),
		zap.Int64("accepted", s.Accepted),
		zap.Int64("rejected", s.Rejected),
		zap.Duration("elapsed", s.Elapsed),
	)
}

func copyCounts(src map[string]int64) map[string]int64 {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
