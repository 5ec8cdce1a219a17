package fitting

import (
	"github.com/TimTheToolman/riak-pipe/lifecycle"
	"github.com/google/uuid"
)

// WorkerRef identifies a worker process: it can be monitored for liveness
// and compared for identity. The Worker type implements it; tests may supply
// their own.
type WorkerRef interface {
	lifecycle.Peer

	// Ref returns a stable unique id for this worker.
	Ref() uuid.UUID
}

// workerEntry records one (partition, worker) pair in a control's roster
// together with the cancellation token of its liveness monitor.
type workerEntry struct {
	partition Partition
	ref       WorkerRef
	monitor   *lifecycle.Token
}

// roster is the authoritative record of the workers currently doing work on
// a stage's behalf. It is exclusively owned by the control's actor
// go-routine; at most one entry exists per (partition, ref) pair and every
// entry carries an active liveness monitor until it is removed.
type roster struct {
	entries []workerEntry
}

// contains reports whether the (partition, ref) pair is already present.
func (r *roster) contains(p Partition, ref WorkerRef) bool {
	for _, e := range r.entries {
		if e.partition == p && e.ref == ref {
			return true
		}
	}
	return false
}

// add appends a new entry. Callers must check contains first.
func (r *roster) add(p Partition, ref WorkerRef, monitor *lifecycle.Token) {
	r.entries = append(r.entries, workerEntry{partition: p, ref: ref, monitor: monitor})
}

// removeRef removes every entry whose worker matches ref and returns the
// removed entries so their monitors can be cancelled.
func (r *roster) removeRef(ref WorkerRef) []workerEntry {
	var removed []workerEntry
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.ref == ref {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return removed
}

// empty reports whether the roster has no entries.
func (r *roster) empty() bool { return len(r.entries) == 0 }

// partitions returns a copy of the partition ids currently in the roster.
func (r *roster) partitions() []Partition {
	out := make([]Partition, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.partition
	}
	return out
}

// cancelMonitors cancels the liveness monitor of every entry.
func (r *roster) cancelMonitors() {
	for _, e := range r.entries {
		e.monitor.Cancel()
	}
}
