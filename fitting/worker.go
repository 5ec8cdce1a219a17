package fitting

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// InputKind tags the reply forms a vnode can hand to a worker's input
// request.
type InputKind int

const (
	// KindInput carries one payload for the module's Process callback.
	KindInput InputKind = iota

	// KindDone tells the worker its stage has drained; the worker invokes
	// the module's Done callback and terminates.
	KindDone

	// KindHandoff carries the archive produced by the worker that
	// previously served this partition on another vnode.
	KindHandoff

	// KindArchive directs the worker to archive its state, reply with it
	// and terminate so the partition can be handed off.
	KindArchive
)

// Input is one reply to a worker's input request.
type Input struct {
	Kind    InputKind
	Payload interface{}
	Archive interface{}
}

// WorkerHost is the surface a worker requires from its hosting vnode: a
// pull-based input request and a way to reply with an archive when directed
// to hand off.
type WorkerHost interface {
	// NextInput blocks until the vnode has an input, a drain signal or an
	// archive directive for the worker at partition p of stage h.
	NextInput(ctx context.Context, h *Handle, p Partition) (Input, error)

	// ReplyArchive delivers the worker's archive value in response to an
	// archive directive.
	ReplyArchive(h *Handle, p Partition, archive interface{})
}

// WorkerConfig encapsulates the configuration options for a worker.
type WorkerConfig struct {
	// Handle is the handle of the stage this worker serves.
	Handle *Handle

	// Partition is the partition this worker is responsible for.
	Partition Partition

	// Host is the vnode hosting this worker.
	Host WorkerHost

	// Router is used by the worker's emission primitive to enqueue
	// outputs on downstream work queues.
	Router Router

	// Logger is the logger to use. If not defined an output-discarding
	// logger will be used instead.
	Logger *logrus.Entry
}

func (cfg *WorkerConfig) validate() error {
	var err error
	if cfg.Handle == nil {
		err = multierror.Append(err, xerrors.New("stage handle not specified"))
	}
	if cfg.Host == nil {
		err = multierror.Append(err, xerrors.New("worker host not specified"))
	}
	if cfg.Router == nil {
		err = multierror.Append(err, xerrors.New("output router not specified"))
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	return err
}

// Worker hosts one instance of a user-supplied module on one partition. It
// pulls inputs from its hosting vnode, drives the module's callbacks for
// each one and cooperates with handoff and archiving. A worker terminates
// normally when it receives a done or archive input; it reports done to its
// control on every normal termination.
type Worker struct {
	cfg    WorkerConfig
	id     uuid.UUID
	logger *logrus.Entry

	doneCh chan struct{}

	mu  sync.Mutex
	err error
}

// StartWorker validates the supplied config and starts a worker go-routine.
// The worker's first act is to request its stage details from the control
// process; module initialization and the input-request loop run entirely on
// the worker's own go-routine so the creating vnode is never blocked on
// worker startup.
func StartWorker(ctx context.Context, cfg WorkerConfig) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("fitting worker: config validation failed: %w", err)
	}
	w := &Worker{
		cfg:    cfg,
		id:     uuid.New(),
		doneCh: make(chan struct{}),
	}
	w.logger = cfg.Logger.WithFields(logrus.Fields{
		"fitting":   cfg.Handle.Name(),
		"partition": cfg.Partition,
		"worker":    w.id,
	})
	go w.run(ctx)
	return w, nil
}

// Done returns a channel that is closed when the worker terminates.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }

// Ref returns the worker's unique id.
func (w *Worker) Ref() uuid.UUID { return w.id }

// Err returns the worker's termination reason, or nil if the worker is
// still running or terminated normally. The hosting vnode may use it to
// decide whether to retry when the next input arrives.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	w.logger.WithField("err", err).Error("worker terminated abnormally")
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	details, err := w.cfg.Handle.GetDetails(w.cfg.Partition, w)
	if err != nil {
		w.fail(xerrors.Errorf("fetching fitting details: %w", err))
		return
	}
	module, known := Lookup(details.Module)
	if !known {
		w.fail(xerrors.Errorf("module %q is not registered", details.Module))
		return
	}
	state, err := initModule(module, w.cfg.Partition, details)
	if err != nil {
		w.fail(err)
		return
	}
	workersStartedCounter.WithLabelValues(details.Name).Inc()

	trace := details.Options.Trace
	emit := func(output interface{}) error {
		if err := Emit(output, w.cfg.Partition, details, w.cfg.Router); err != nil {
			return err
		}
		outputsEmittedCounter.WithLabelValues(details.Name).Inc()
		return nil
	}

	for {
		in, err := w.cfg.Host.NextInput(ctx, w.cfg.Handle, w.cfg.Partition)
		if err != nil {
			w.fail(xerrors.Errorf("requesting next input: %w", err))
			return
		}

		switch in.Kind {
		case KindInput:
			if trace {
				w.logger.Debug("processing input")
			}
			state, err = module.Process(in.Payload, state, emit)
			if err != nil {
				w.fail(xerrors.Errorf("processing input: %w", err))
				return
			}
			inputsProcessedCounter.WithLabelValues(details.Name).Inc()
		case KindHandoff:
			if hr, ok := module.(HandoffReceiver); ok {
				state, err = hr.Handoff(in.Archive, state)
				if err != nil {
					w.fail(xerrors.Errorf("adopting handoff archive: %w", err))
					return
				}
			}
			// Modules without the capability discard the archive.
		case KindArchive:
			archive := UndefinedArchive
			if ar, ok := module.(Archiver); ok {
				if archive, err = ar.Archive(state); err != nil {
					w.fail(xerrors.Errorf("archiving worker state: %w", err))
					return
				}
			}
			w.cfg.Host.ReplyArchive(w.cfg.Handle, w.cfg.Partition, archive)
			w.cfg.Handle.WorkerDone(w)
			workersDoneCounter.WithLabelValues(details.Name).Inc()
			w.logger.Debug("worker archived and terminated")
			return
		case KindDone:
			if err := module.Done(state); err != nil {
				w.fail(xerrors.Errorf("running done callback: %w", err))
				return
			}
			w.cfg.Handle.WorkerDone(w)
			workersDoneCounter.WithLabelValues(details.Name).Inc()
			w.logger.Debug("worker drained and terminated")
			return
		}
	}
}

// initModule invokes the module's Init callback, classifying both returned
// errors and panics as init failures.
func initModule(m Module, p Partition, d *Details) (state interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			state, err = nil, &InitFailedError{Kind: "panic", Info: r}
		}
	}()
	state, initErr := m.Init(p, d)
	if initErr != nil {
		return nil, &InitFailedError{Kind: "error", Info: initErr}
	}
	return state, nil
}
