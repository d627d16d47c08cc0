// Package batch implements the Batch Executor: concurrent per-document
// dispatch over a worker pool sized by the Resource Monitor, a circuit
// breaker that halts dispatch on sustained failure, and checkpointing after
// every document so a run can resume where it left off.
package batch

import (
	"context"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/scireview/extractcore/config"
	"github.com/scireview/extractcore/controller"
	"github.com/scireview/extractcore/document"
	"github.com/scireview/extractcore/errkind"
	"github.com/scireview/extractcore/metrics"
	"github.com/scireview/extractcore/pipeline"
	"github.com/scireview/extractcore/resource"
	"github.com/scireview/extractcore/schema"
	"github.com/scireview/extractcore/state"
)

// circuitBreaker counts consecutive document failures across workers; any
// success anywhere resets the count. It is a single atomic counter plus
// boolean guarded by one mutex, per the concurrency model's shared-resource
// policy.
type circuitBreaker struct {
	mu          sync.Mutex
	consecutive int
	threshold   int
	open        bool
}

func newCircuitBreaker(threshold int) *circuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &circuitBreaker{threshold: threshold}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutive = 0
}

// recordFailure increments the consecutive-failure count and opens the
// breaker once it reaches the configured threshold.
func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutive++
	if cb.consecutive >= cb.threshold {
		cb.open = true
	}
}

func (cb *circuitBreaker) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}

// Reset reopens dispatch after an operator has investigated the sustained
// failure; it does not retroactively touch documents already marked
// batch_circuit_open.
func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open = false
	cb.consecutive = 0
}

// Summary reports a batch run's outcome by failure kind, for per-kind
// counts in the batch-level observability surface.
type Summary struct {
	Processed     int
	Succeeded     int
	Failed        int
	FailureCounts map[errkind.Kind]int
}

// Executor drives a batch of documents through the Controller, respecting
// resource pressure, the circuit breaker, and checkpoint resumability.
type Executor struct {
	Controller *controller.Controller
	State      *state.Store
	Monitor    *resource.Monitor
	Config     *config.Config

	// CheckpointExportPath, when set, is written via State.SaveAsync after
	// every completed document.
	CheckpointExportPath string

	// Metrics receives batch-level observability events. Nil is valid.
	Metrics metrics.Recorder

	breaker *circuitBreaker

	mu      sync.Mutex
	summary Summary
}

func (e *Executor) recorder() metrics.Recorder {
	if e.Metrics == nil {
		return metrics.Noop{}
	}
	return e.Metrics
}

// NewExecutor builds an Executor with a fresh circuit breaker sized from
// the configured threshold.
func NewExecutor(c *controller.Controller, s *state.Store, m *resource.Monitor, cfg *config.Config) *Executor {
	return &Executor{
		Controller: c,
		State:      s,
		Monitor:    m,
		Config:     cfg,
		breaker:    newCircuitBreaker(cfg.CircuitBreakerThreshold),
		summary:    Summary{FailureCounts: map[errkind.Kind]int{}},
	}
}

// ResetCircuitBreaker reopens dispatch after an operator-triggered reset.
func (e *Executor) ResetCircuitBreaker() {
	e.breaker.Reset()
}

// Run dispatches every document not already recorded in the State Store,
// honoring resume, the circuit breaker, and resource-aware worker counts.
// Documents skipped because the breaker is open are recorded with kind
// batch_circuit_open so a later reset-and-retry can find them via the
// state store's failure list.
func (e *Executor) Run(ctx context.Context, docs []*document.Document, s *schema.Schema, theme string) (Summary, error) {
	workers := max1(e.Monitor.RecommendedWorkers(e.Config.Workers))
	pool, err := ants.NewPool(workers)
	if err != nil {
		return Summary{}, err
	}
	defer pool.Release()
	e.recorder().RecordWorkers(workers)

	var wg sync.WaitGroup
	for _, doc := range docs {
		if e.State != nil && e.State.IsProcessed(doc.Filename) {
			continue
		}

		if e.breaker.isOpen() {
			e.recordCircuitOpen(ctx, doc.Filename)
			continue
		}

		workers := max1(e.Monitor.RecommendedWorkers(e.Config.Workers))
		pool.Tune(workers)
		e.recorder().RecordWorkers(workers)

		doc := doc
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			// Re-check once a worker is free: a document queued behind the
			// failure that opened the breaker must not be extracted.
			if e.breaker.isOpen() {
				e.recordCircuitOpen(ctx, doc.Filename)
				return
			}
			e.processOne(ctx, doc, s, theme)
		})
		if submitErr != nil {
			wg.Done()
			e.recordFailure(ctx, doc.Filename, errkind.Unknown, submitErr.Error())
		}
	}
	wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summary, nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (e *Executor) processOne(ctx context.Context, doc *document.Document, s *schema.Schema, theme string) {
	result, err := e.Controller.Extract(ctx, doc, s, theme)
	if err != nil {
		e.recordFailure(ctx, doc.Filename, classify(err), err.Error())
		return
	}
	e.recordSuccess(ctx, doc.Filename, result)
}

// classify maps an extraction error to a failure kind. errkind-tagged
// errors carry their kind directly; anything else falls back to a coarse
// message-based heuristic so unexpected panics-as-errors still land in a
// sensible bucket rather than always "unknown".
func classify(err error) errkind.Kind {
	if kind := errkind.Classify(err); kind != "" && kind != errkind.Unknown {
		return kind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "memory") || strings.Contains(msg, "oom"):
		return errkind.OOM
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return errkind.Timeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "transport") || strings.Contains(msg, "network"):
		return errkind.Transport
	default:
		return errkind.Unknown
	}
}

func (e *Executor) recordSuccess(ctx context.Context, filename string, result pipeline.Result) {
	e.breaker.recordSuccess()
	e.recorder().RecordCircuitBreakerState(false)
	if e.State != nil {
		_ = e.State.UpdateResult(ctx, filename, result)
	}
	e.mu.Lock()
	e.summary.Processed++
	e.summary.Succeeded++
	e.mu.Unlock()
	e.checkpoint()
}

func (e *Executor) recordFailure(ctx context.Context, filename string, kind errkind.Kind, message string) {
	e.breaker.recordFailure()
	e.recorder().RecordFailure(kind)
	e.recorder().RecordCircuitBreakerState(e.breaker.isOpen())
	if e.State != nil {
		_ = e.State.UpdateFailure(ctx, filename, state.Failure{ErrorType: string(kind), Message: message})
	}
	e.mu.Lock()
	e.summary.Processed++
	e.summary.Failed++
	e.summary.FailureCounts[kind]++
	e.mu.Unlock()
	e.checkpoint()
}

func (e *Executor) recordCircuitOpen(ctx context.Context, filename string) {
	e.recorder().RecordFailure(errkind.BatchCircuitOpen)
	if e.State != nil {
		// UpdateSkip, not UpdateFailure: a skipped document must still be
		// eligible for redispatch once the circuit breaker is reset.
		_ = e.State.UpdateSkip(ctx, filename, state.Failure{
			ErrorType: string(errkind.BatchCircuitOpen),
			Message:   "circuit breaker open: not dispatched",
		})
	}
	e.mu.Lock()
	e.summary.Processed++
	e.summary.Failed++
	e.summary.FailureCounts[errkind.BatchCircuitOpen]++
	e.mu.Unlock()
}

func (e *Executor) checkpoint() {
	if e.State == nil || e.CheckpointExportPath == "" {
		return
	}
	e.State.SaveAsync(e.CheckpointExportPath)
}
