package vnode

import (
	"io"
	"sync"

	"github.com/TimTheToolman/riak-pipe/fitting"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Assignment maps partitions to the vnodes that own them. It implements the
// routing surfaces the fitting core depends on: emitted outputs are enqueued
// on the owning vnode of the partition selected by the destination stage's
// partfun, and end-of-inputs signals are delivered to the owning vnode of
// each roster partition. Assignments are mutable so partitions can be
// repointed after a handoff; placement policy itself is up to the caller.
type Assignment struct {
	logger *logrus.Entry

	mu     sync.RWMutex
	owners map[fitting.Partition]*Vnode
}

var (
	_ fitting.Router        = (*Assignment)(nil)
	_ fitting.EOIDispatcher = (*Assignment)(nil)
)

// NewAssignment creates an empty partition assignment. A nil logger is
// replaced with an output-discarding one.
func NewAssignment(logger *logrus.Entry) *Assignment {
	if logger == nil {
		logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	return &Assignment{
		logger: logger,
		owners: make(map[fitting.Partition]*Vnode),
	}
}

// Assign makes vn the owner of partition p, replacing any previous owner.
func (a *Assignment) Assign(p fitting.Partition, vn *Vnode) {
	a.mu.Lock()
	a.owners[p] = vn
	a.mu.Unlock()
}

// Owner returns the vnode that owns partition p.
func (a *Assignment) Owner(p fitting.Partition) (*Vnode, error) {
	a.mu.RLock()
	vn := a.owners[p]
	a.mu.RUnlock()
	if vn == nil {
		return nil, xerrors.Errorf("no vnode assigned to partition %d", p)
	}
	return vn, nil
}

// QueueWork implements fitting.Router: the destination partition is selected
// by the stage handle's partfun and the output is enqueued on its owner.
func (a *Assignment) QueueWork(h *fitting.Handle, output interface{}) error {
	p, err := h.Partfun().Partition(output)
	if err != nil {
		return xerrors.Errorf("routing output for fitting %q: %w", h.Name(), err)
	}
	return a.queueOn(h, p, output)
}

// QueueWorkFollow implements fitting.Router: the output stays on the
// emitting worker's partition.
func (a *Assignment) QueueWorkFollow(h *fitting.Handle, output interface{}, from fitting.Partition) error {
	return a.queueOn(h, from, output)
}

func (a *Assignment) queueOn(h *fitting.Handle, p fitting.Partition, output interface{}) error {
	vn, err := a.Owner(p)
	if err != nil {
		return xerrors.Errorf("routing output for fitting %q: %w", h.Name(), err)
	}
	vn.QueueWork(h, p, output)
	return nil
}

// DeliverEOI implements fitting.EOIDispatcher. Delivery is best-effort: an
// unassigned partition is logged and skipped, matching the treatment of
// vanished workers.
func (a *Assignment) DeliverEOI(h *fitting.Handle, p fitting.Partition) {
	vn, err := a.Owner(p)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"fitting":   h.Name(),
			"partition": p,
		}).Warn("dropping end-of-inputs delivery for unassigned partition")
		return
	}
	vn.DeliverEOI(h, p)
}
