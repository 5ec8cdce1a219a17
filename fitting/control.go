package fitting

import (
	"io"
	"time"

	"github.com/TimTheToolman/riak-pipe/lifecycle"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// ControlConfig encapsulates the configuration options for a stage's control
// process.
type ControlConfig struct {
	// Builder is the pipeline builder that constructed this stage. The
	// control binds its liveness to it: if the builder terminates, the
	// control terminates with ErrBuilderExited.
	Builder lifecycle.Peer

	// Spec describes the stage. It must pass ValidateSpec.
	Spec Spec

	// Output is the handle that this stage's outputs and end-of-inputs
	// signal are forwarded through: the next stage's handle or a sink
	// handle.
	Output *Handle

	// Dispatcher delivers end-of-inputs signals to the vnodes hosting
	// this stage's workers.
	Dispatcher EOIDispatcher

	// Options are the pipeline-global options distributed to workers.
	Options Options

	// DrainTimeout bounds the time the control waits for its workers to
	// report done after the end-of-inputs broadcast. Zero disables the
	// timeout.
	DrainTimeout time.Duration

	// Clock is used to arm the drain timeout. If not specified, the
	// wall-clock will be used instead.
	Clock clock.Clock

	// Logger is the logger to use. If not defined an output-discarding
	// logger will be used instead.
	Logger *logrus.Entry
}

func (cfg *ControlConfig) validate() error {
	var err error
	if cfg.Builder == nil {
		err = multierror.Append(err, xerrors.New("builder not specified"))
	}
	if cfg.Output == nil {
		err = multierror.Append(err, xerrors.New("output handle not specified"))
	}
	if cfg.Dispatcher == nil {
		err = multierror.Append(err, xerrors.New("EOI dispatcher not specified"))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	return err
}

type ctrlState int

const (
	// waitUpstreamEOI is the initial state: inputs are still arriving and
	// the roster grows as workers request their details.
	waitUpstreamEOI ctrlState = iota

	// waitWorkersDone is entered after the upstream end-of-inputs signal
	// has been broadcast; the control is draining its roster.
	waitWorkersDone
)

type getDetailsMsg struct {
	partition Partition
	worker    WorkerRef
	replyCh   chan *Details
}

type workerDoneMsg struct {
	worker WorkerRef
	ackCh  chan struct{}
}

type eoiMsg struct {
	ackCh chan struct{}
}

type workersMsg struct {
	replyCh chan []Partition
}

type downMsg struct {
	worker WorkerRef
}

type builderExitMsg struct{}

// Control is the single per-stage actor that serves stage metadata to
// vnodes, owns the authoritative roster of (partition, worker) pairs working
// for the stage, and coordinates the end-of-inputs barrier. All operations
// are serialized through the control's mailbox; handlers never block on I/O.
type Control struct {
	cfg     ControlConfig
	handle  *Handle
	details *Details
	logger  *logrus.Entry

	mailbox    chan interface{}
	doneCh     chan struct{}
	builderMon *lifecycle.Token

	// The fields below are owned by the run loop.
	state     ctrlState
	roster    roster
	timeoutCh <-chan time.Time
	stopped   bool
}

// NewControl validates the supplied spec, starts a control process for it
// and returns the stage handle. The control lives until its builder
// terminates (fatal), until its drain timeout expires (fatal), or until it
// has forwarded the end-of-inputs signal downstream after all of its workers
// reported done (normal).
func NewControl(cfg ControlConfig) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("fitting control: config validation failed: %w", err)
	}
	if err := ValidateSpec(cfg.Spec); err != nil {
		return nil, err
	}

	c := &Control{
		cfg:     cfg,
		logger:  cfg.Logger.WithField("fitting", cfg.Spec.Name),
		mailbox: make(chan interface{}),
		doneCh:  make(chan struct{}),
	}
	c.handle = &Handle{
		id:      uuid.New(),
		name:    cfg.Spec.Name,
		partfun: cfg.Spec.Partfun,
		ctrl:    c,
	}
	c.details = &Details{
		Name:    cfg.Spec.Name,
		Module:  cfg.Spec.Module,
		Arg:     cfg.Spec.Arg,
		Partfun: cfg.Spec.Partfun,
		Handle:  c.handle,
		Output:  cfg.Output,
		Options: cfg.Options,
	}
	c.builderMon = lifecycle.Watch(cfg.Builder, func() {
		c.post(builderExitMsg{})
	})

	go c.run()
	return c.handle, nil
}

// post enqueues a message on the control's mailbox, dropping it if the
// control has already terminated.
func (c *Control) post(msg interface{}) bool {
	select {
	case c.mailbox <- msg:
		return true
	case <-c.doneCh:
		return false
	}
}

func (c *Control) getDetails(p Partition, w WorkerRef) (*Details, error) {
	replyCh := make(chan *Details, 1)
	if !c.post(&getDetailsMsg{partition: p, worker: w, replyCh: replyCh}) {
		return nil, ErrGone
	}
	select {
	case d := <-replyCh:
		return d, nil
	case <-c.doneCh:
		return nil, ErrGone
	}
}

func (c *Control) workerDone(w WorkerRef) {
	ackCh := make(chan struct{}, 1)
	if !c.post(&workerDoneMsg{worker: w, ackCh: ackCh}) {
		return
	}
	select {
	case <-ackCh:
	case <-c.doneCh:
	}
}

func (c *Control) eoi() {
	ackCh := make(chan struct{}, 1)
	if !c.post(&eoiMsg{ackCh: ackCh}) {
		return
	}
	select {
	case <-ackCh:
	case <-c.doneCh:
	}
}

func (c *Control) workers() ([]Partition, error) {
	replyCh := make(chan []Partition, 1)
	if !c.post(&workersMsg{replyCh: replyCh}) {
		return nil, ErrGone
	}
	select {
	case parts := <-replyCh:
		return parts, nil
	case <-c.doneCh:
		return nil, ErrGone
	}
}

// run implements the control's serial message loop. Each handler executes to
// completion before the next message is dequeued; handlers are O(|roster|)
// and never perform blocking I/O.
func (c *Control) run() {
	for !c.stopped {
		select {
		case msg := <-c.mailbox:
			switch m := msg.(type) {
			case *getDetailsMsg:
				c.handleGetDetails(m)
			case *workerDoneMsg:
				c.handleWorkerDone(m)
			case *eoiMsg:
				c.handleEOI(m)
			case *workersMsg:
				m.replyCh <- c.roster.partitions()
			case *downMsg:
				c.handleDown(m)
			case builderExitMsg:
				c.logger.Error("builder exited; terminating fitting")
				c.shutdown(ErrBuilderExited)
			}
		case <-c.timeoutCh:
			c.logger.WithField("partitions", c.roster.partitions()).
				Error("workers did not drain in time; terminating fitting")
			c.shutdown(ErrDrainTimeout)
		}
	}
}

// handleGetDetails grows the roster. A re-request from an already-registered
// worker is idempotent. A request that arrives after the end-of-inputs
// broadcast is a worker that relocated here via handoff; it is registered
// and its vnode is told to drain it immediately so it cannot block the
// barrier.
func (c *Control) handleGetDetails(m *getDetailsMsg) {
	if !c.roster.contains(m.partition, m.worker) {
		w := m.worker
		mon := lifecycle.Watch(w, func() {
			c.post(&downMsg{worker: w})
		})
		c.roster.add(m.partition, w, mon)
		if c.state == waitWorkersDone {
			c.logger.WithField("partition", m.partition).
				Debug("late worker arrival; delivering immediate end-of-inputs")
			c.cfg.Dispatcher.DeliverEOI(c.handle, m.partition)
		}
	}
	m.replyCh <- c.details
}

// handleWorkerDone shrinks the roster. Before the upstream end-of-inputs
// signal this only happens when a worker relocated to another partition via
// handoff, so an empty roster is not checked for; afterwards an empty roster
// completes the barrier.
func (c *Control) handleWorkerDone(m *workerDoneMsg) {
	for _, e := range c.roster.removeRef(m.worker) {
		e.monitor.Cancel()
	}
	m.ackCh <- struct{}{}
	if c.state == waitWorkersDone && c.roster.empty() {
		c.finish()
	}
}

// handleEOI observes the upstream end-of-inputs barrier: with an empty
// roster the signal is forwarded at once, otherwise it is broadcast to every
// worker's vnode and the control starts draining.
func (c *Control) handleEOI(m *eoiMsg) {
	m.ackCh <- struct{}{}
	if c.state != waitUpstreamEOI {
		c.logger.Warn("ignoring duplicate end-of-inputs signal")
		return
	}
	if c.roster.empty() {
		c.finish()
		return
	}
	for _, p := range c.roster.partitions() {
		c.cfg.Dispatcher.DeliverEOI(c.handle, p)
	}
	c.state = waitWorkersDone
	if c.cfg.DrainTimeout > 0 {
		c.timeoutCh = c.cfg.Clock.After(c.cfg.DrainTimeout)
	}
}

// handleDown reacts to a fired liveness monitor: the vanished worker is
// removed from the roster and will not be retried here. A disappearance
// while draining can therefore complete the barrier without that worker's
// done callback having run.
func (c *Control) handleDown(m *downMsg) {
	removed := c.roster.removeRef(m.worker)
	if len(removed) == 0 {
		return
	}
	for _, e := range removed {
		e.monitor.Cancel()
	}
	c.logger.WithField("worker", m.worker.Ref()).Warn("worker vanished; removed from roster")
	if c.state == waitWorkersDone && c.roster.empty() {
		c.logger.Warn("completing drain despite vanished worker")
		c.finish()
	}
}

// finish forwards the end-of-inputs signal downstream and terminates the
// control normally.
func (c *Control) finish() {
	c.details.Output.EOI()
	eoiForwardedCounter.WithLabelValues(c.cfg.Spec.Name).Inc()
	c.logger.Debug("forwarded end-of-inputs; fitting complete")
	c.shutdown(nil)
}

// shutdown cancels every installed monitor and marks the control as gone.
func (c *Control) shutdown(reason error) {
	c.roster.cancelMonitors()
	c.builderMon.Cancel()
	if reason != nil {
		c.logger.WithField("reason", reason).Debug("fitting control terminated")
	}
	c.stopped = true
	close(c.doneCh)
}
