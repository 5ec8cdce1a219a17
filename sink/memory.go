// Package sink provides implementations of the pipeline sink: the terminal
// recipient of the results emitted by the last stage of a pipeline.
package sink

import (
	"sync"

	"github.com/TimTheToolman/riak-pipe/fitting"
)

// Result is one output delivered to the sink, annotated with the name of the
// stage that emitted it.
type Result struct {
	Stage  string
	Output interface{}
}

// Memory is an in-memory fitting.Sink implementation that collects delivered
// results and observes the final end-of-inputs signal. It is safe for
// concurrent use.
type Memory struct {
	mu      sync.Mutex
	results []Result

	eoiOnce sync.Once
	doneCh  chan struct{}
}

var _ fitting.Sink = (*Memory)(nil)

// NewMemory creates a new in-memory sink instance.
func NewMemory() *Memory {
	return &Memory{doneCh: make(chan struct{})}
}

// Result implements fitting.Sink.
func (s *Memory) Result(stage string, _ *fitting.Handle, output interface{}) {
	s.mu.Lock()
	s.results = append(s.results, Result{Stage: stage, Output: output})
	s.mu.Unlock()
}

// EOI implements fitting.Sink. The first signal closes the channel returned
// by Done; repeated signals have no effect.
func (s *Memory) EOI() {
	s.eoiOnce.Do(func() { close(s.doneCh) })
}

// Done returns a channel that is closed once the pipeline has delivered its
// end-of-inputs signal to the sink.
func (s *Memory) Done() <-chan struct{} { return s.doneCh }

// Results returns a copy of the results delivered so far, in delivery order.
func (s *Memory) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// Outputs returns a copy of just the output values delivered so far, in
// delivery order.
func (s *Memory) Outputs() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interface{}, len(s.results))
	for i, r := range s.results {
		out[i] = r.Output
	}
	return out
}
