// Package vnode provides an in-memory implementation of the vnode
// collaborator: it owns the per-partition work queues of each stage,
// dispatches queued inputs to hosted workers via the pull-based input
// protocol, marks stages as drained when a control process delivers an
// end-of-inputs signal, and hands worker state off to other vnodes.
package vnode

import (
	"context"
	"io"
	"sync"

	"github.com/TimTheToolman/riak-pipe/fitting"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Config encapsulates the configuration options for a vnode.
type Config struct {
	// Router is handed to hosted workers for emitting their outputs;
	// it is typically the Assignment shared by every vnode.
	Router fitting.Router

	// Logger is the logger to use. If not defined an output-discarding
	// logger will be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Router == nil {
		err = multierror.Append(err, xerrors.New("output router not specified"))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	return err
}

// queuedItem is one entry in a partition's work queue: either a payload for
// the module's Process callback or an archive carried over by a handoff.
type queuedItem struct {
	payload interface{}
	archive interface{}
	handoff bool
}

func (it queuedItem) input() fitting.Input {
	if it.handoff {
		return fitting.Input{Kind: fitting.KindHandoff, Archive: it.archive}
	}
	return fitting.Input{Kind: fitting.KindInput, Payload: it.payload}
}

// partitionQueue tracks the pending work and the hosted worker for one
// (stage, partition) pair.
type partitionQueue struct {
	items            []queuedItem
	drained          bool
	archiveRequested bool
	archiveCh        chan interface{}
	waiter           chan fitting.Input
	worker           *fitting.Worker
}

type stageState struct {
	handle     *fitting.Handle
	partitions map[fitting.Partition]*partitionQueue
}

// Vnode hosts the workers for the partitions assigned to it. At most one
// worker runs per (stage, partition) pair; a worker is created when work
// first arrives for the pair and torn down when it drains or is archived.
type Vnode struct {
	cfg      Config
	ctx      context.Context
	cancelFn context.CancelFunc

	mu     sync.Mutex
	stages map[uuid.UUID]*stageState
}

var _ fitting.WorkerHost = (*Vnode)(nil)

// New creates a new vnode instance. It is important for callers to invoke
// Close() on the returned vnode when they are done using it.
func New(cfg Config) (*Vnode, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("vnode: config validation failed: %w", err)
	}
	ctx, cancelFn := context.WithCancel(context.Background())
	return &Vnode{
		cfg:      cfg,
		ctx:      ctx,
		cancelFn: cancelFn,
		stages:   make(map[uuid.UUID]*stageState),
	}, nil
}

// Close tears down the vnode; hosted workers observe a cancelled context on
// their next input request and terminate.
func (v *Vnode) Close() error {
	v.cancelFn()
	return nil
}

// QueueWork enqueues one input for the stage addressed by h on partition p.
// If no worker is hosted for the pair yet, one is started.
func (v *Vnode) QueueWork(h *fitting.Handle, p fitting.Partition, output interface{}) {
	v.enqueue(h, p, queuedItem{payload: output})
	queuedWorkCounter.WithLabelValues(h.Name()).Inc()
}

func (v *Vnode) enqueue(h *fitting.Handle, p fitting.Partition, item queuedItem) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pq := v.ensurePartition(h, p)
	v.ensureWorker(h, p, pq)
	if pq.waiter != nil {
		// The worker is parked waiting for input; the queue is empty so
		// the item can be delivered directly.
		pq.waiter <- item.input()
		pq.waiter = nil
		return
	}
	pq.items = append(pq.items, item)
}

func (v *Vnode) ensurePartition(h *fitting.Handle, p fitting.Partition) *partitionQueue {
	st := v.stages[h.ID()]
	if st == nil {
		st = &stageState{
			handle:     h,
			partitions: make(map[fitting.Partition]*partitionQueue),
		}
		v.stages[h.ID()] = st
	}
	pq := st.partitions[p]
	if pq == nil {
		pq = new(partitionQueue)
		st.partitions[p] = pq
	}
	return pq
}

// ensureWorker starts a worker for the pair if none is hosted, or replaces
// one that has already terminated (a worker that failed before draining is
// retried when the next input arrives).
func (v *Vnode) ensureWorker(h *fitting.Handle, p fitting.Partition, pq *partitionQueue) {
	if pq.worker != nil {
		select {
		case <-pq.worker.Done():
			// fall through and start a replacement
		default:
			return
		}
	}
	w, err := fitting.StartWorker(v.ctx, fitting.WorkerConfig{
		Handle:    h,
		Partition: p,
		Host:      v,
		Router:    v.cfg.Router,
		Logger:    v.cfg.Logger,
	})
	if err != nil {
		v.cfg.Logger.WithFields(logrus.Fields{
			"fitting":   h.Name(),
			"partition": p,
			"err":       err,
		}).Error("unable to start worker")
		return
	}
	pq.worker = w
}

// NextInput implements fitting.WorkerHost. It blocks until the partition has
// a queued item, has been told to drain, or is being archived for a handoff.
func (v *Vnode) NextInput(ctx context.Context, h *fitting.Handle, p fitting.Partition) (fitting.Input, error) {
	v.mu.Lock()
	st := v.stages[h.ID()]
	if st == nil || st.partitions[p] == nil {
		v.mu.Unlock()
		return fitting.Input{}, xerrors.Errorf("no work queue for fitting %q partition %d", h.Name(), p)
	}
	pq := st.partitions[p]

	if pq.archiveRequested {
		pq.archiveRequested = false
		v.mu.Unlock()
		return fitting.Input{Kind: fitting.KindArchive}, nil
	}
	if len(pq.items) > 0 {
		item := pq.items[0]
		pq.items = pq.items[1:]
		v.mu.Unlock()
		return item.input(), nil
	}
	if pq.drained {
		delete(st.partitions, p)
		v.mu.Unlock()
		return fitting.Input{Kind: fitting.KindDone}, nil
	}

	waiter := make(chan fitting.Input, 1)
	pq.waiter = waiter
	v.mu.Unlock()

	select {
	case in := <-waiter:
		return in, nil
	case <-ctx.Done():
		v.mu.Lock()
		if pq.waiter == waiter {
			pq.waiter = nil
		} else {
			// An input raced with the cancellation; put it back at the
			// head of the queue so it is not lost.
			select {
			case in := <-waiter:
				pq.items = append([]queuedItem{inputItem(in)}, pq.items...)
			default:
			}
		}
		v.mu.Unlock()
		return fitting.Input{}, ctx.Err()
	}
}

func inputItem(in fitting.Input) queuedItem {
	if in.Kind == fitting.KindHandoff {
		return queuedItem{handoff: true, archive: in.Archive}
	}
	return queuedItem{payload: in.Payload}
}

// DeliverEOI marks the (stage, partition) pair as drained: once its queue
// empties, the hosted worker's next input request is answered with a done
// input.
func (v *Vnode) DeliverEOI(h *fitting.Handle, p fitting.Partition) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pq := v.ensurePartition(h, p)
	if pq.drained {
		return
	}
	pq.drained = true
	if len(pq.items) == 0 && pq.archiveCh == nil && pq.waiter != nil {
		pq.waiter <- fitting.Input{Kind: fitting.KindDone}
		pq.waiter = nil
	}
}

// ReplyArchive implements fitting.WorkerHost: it accepts the archive value a
// worker produced in response to an archive directive.
func (v *Vnode) ReplyArchive(h *fitting.Handle, p fitting.Partition, archive interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.stages[h.ID()]
	if st == nil || st.partitions[p] == nil || st.partitions[p].archiveCh == nil {
		v.cfg.Logger.WithFields(logrus.Fields{
			"fitting":   h.Name(),
			"partition": p,
		}).Warn("dropping archive reply with no handoff in progress")
		return
	}
	pq := st.partitions[p]
	pq.archiveCh <- archive
	pq.archiveCh = nil
}

// Handoff relocates the (stage, partition) pair to the target vnode: the
// hosted worker is directed to archive its state, and the archive followed
// by any still-queued inputs is replayed on the target, whose fresh worker
// registers with the stage's control and adopts the archive. Callers are
// expected to repoint the partition's assignment at the target so future
// work is routed there.
func (v *Vnode) Handoff(h *fitting.Handle, p fitting.Partition, target *Vnode) error {
	v.mu.Lock()
	st := v.stages[h.ID()]
	if st == nil || st.partitions[p] == nil || st.partitions[p].worker == nil {
		v.mu.Unlock()
		return xerrors.Errorf("no worker to hand off for fitting %q partition %d", h.Name(), p)
	}
	pq := st.partitions[p]
	if pq.archiveCh != nil {
		v.mu.Unlock()
		return xerrors.Errorf("handoff already in progress for fitting %q partition %d", h.Name(), p)
	}
	archiveCh := make(chan interface{}, 1)
	pq.archiveCh = archiveCh
	worker := pq.worker
	if pq.waiter != nil {
		pq.waiter <- fitting.Input{Kind: fitting.KindArchive}
		pq.waiter = nil
	} else {
		pq.archiveRequested = true
	}
	v.mu.Unlock()

	var archive interface{}
	select {
	case archive = <-archiveCh:
	case <-worker.Done():
		// The worker may have replied just before terminating.
		select {
		case archive = <-archiveCh:
		default:
			v.mu.Lock()
			pq.archiveCh = nil
			pq.archiveRequested = false
			v.mu.Unlock()
			return xerrors.Errorf("worker terminated before archiving: %w", worker.Err())
		}
	case <-v.ctx.Done():
		return v.ctx.Err()
	}

	v.mu.Lock()
	pending := pq.items
	drained := pq.drained
	delete(st.partitions, p)
	v.mu.Unlock()

	target.enqueue(h, p, queuedItem{handoff: true, archive: archive})
	for _, item := range pending {
		target.enqueue(h, p, item)
	}
	if drained {
		target.DeliverEOI(h, p)
	}
	handoffsCounter.WithLabelValues(h.Name()).Inc()
	v.cfg.Logger.WithFields(logrus.Fields{
		"fitting":   h.Name(),
		"partition": p,
		"pending":   len(pending),
	}).Debug("handed off partition")
	return nil
}
