package fitting

import "github.com/google/uuid"

// Handle is the routable identity of a pipeline stage. Ordinary handles
// address a Control process; the distinguished sink handle addresses the
// pipeline sink instead. A handle caches its stage's partfun so routers do
// not need to dereference the control process. Handles are immutable once
// assigned, and the unique id distinguishes a handle across reincarnations
// of the same stage.
type Handle struct {
	id      uuid.UUID
	name    string
	partfun Partfun
	ctrl    *Control
	sink    Sink
}

// SinkHandle returns the distinguished handle that routes outputs and the
// final end-of-inputs signal directly to the supplied sink.
func SinkHandle(s Sink) *Handle {
	return &Handle{
		id:      uuid.New(),
		name:    "sink",
		partfun: toSink,
		sink:    s,
	}
}

// ID returns the unique id minted for this handle.
func (h *Handle) ID() uuid.UUID { return h.id }

// Name returns the label of the stage this handle addresses.
func (h *Handle) Name() string { return h.name }

// Partfun returns the cached input-routing selector for the stage this
// handle addresses.
func (h *Handle) Partfun() Partfun { return h.partfun }

// IsSink returns true if this is a sink handle.
func (h *Handle) IsSink() bool { return h.sink != nil }

// GetDetails registers the worker at partition p in the stage's roster and
// returns the stage details. The call is idempotent for a worker that
// re-requests its details. It returns ErrGone if the control process has
// terminated.
func (h *Handle) GetDetails(p Partition, w WorkerRef) (*Details, error) {
	if h.ctrl == nil {
		return nil, ErrGone
	}
	return h.ctrl.getDetails(p, w)
}

// WorkerDone reports that the worker has drained its inputs (or archived its
// state for a handoff) and terminated. The report is acknowledged and never
// fails; reports addressed to a terminated control are dropped.
func (h *Handle) WorkerDone(w WorkerRef) {
	if h.ctrl == nil {
		return
	}
	h.ctrl.workerDone(w)
}

// EOI signals that no further inputs will arrive for the stage this handle
// addresses. For a sink handle the signal is delivered to the sink itself.
// The signal is acknowledged and never fails.
func (h *Handle) EOI() {
	if h.sink != nil {
		h.sink.EOI()
		return
	}
	h.ctrl.eoi()
}

// Workers returns the partitions that currently have a worker registered in
// the stage's roster. It returns ErrGone if the control process has
// terminated.
func (h *Handle) Workers() ([]Partition, error) {
	if h.ctrl == nil {
		return nil, ErrGone
	}
	return h.ctrl.workers()
}
