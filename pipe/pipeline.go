// Package pipe provides the construction and driving surface for riak-pipe
// pipelines: it validates the supplied stage specs, builds and links the
// per-stage control processes, and exposes operations for feeding inputs,
// signalling end-of-inputs and aborting.
package pipe

import (
	"io"
	"time"

	"github.com/TimTheToolman/riak-pipe/fitting"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Config encapsulates the configuration options for executing a pipeline.
type Config struct {
	// Specs describes the pipeline stages in flow order. At least one
	// stage is required; every spec must pass fitting.ValidateSpec.
	Specs []fitting.Spec

	// Sink receives the results of the last stage and the final
	// end-of-inputs signal.
	Sink fitting.Sink

	// Router enqueues routed outputs on vnode work queues; it is
	// typically a vnode.Assignment.
	Router fitting.Router

	// Dispatcher delivers end-of-inputs signals to vnodes; it is
	// typically the same vnode.Assignment as Router.
	Dispatcher fitting.EOIDispatcher

	// Options are the pipeline-global options distributed to every stage.
	Options fitting.Options

	// DrainTimeout bounds each stage's wait for its workers to drain
	// after end-of-inputs. Zero disables the timeout.
	DrainTimeout time.Duration

	// Clock is used to arm drain timeouts. If not specified, the
	// wall-clock will be used instead.
	Clock clock.Clock

	// Logger is the logger to use. If not defined an output-discarding
	// logger will be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if len(cfg.Specs) == 0 {
		err = multierror.Append(err, xerrors.New("no fitting specs provided"))
	}
	if cfg.Sink == nil {
		err = multierror.Append(err, xerrors.New("sink not specified"))
	}
	if cfg.Router == nil {
		err = multierror.Append(err, xerrors.New("output router not specified"))
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

// Pipeline is a running chain of linked stages. Inputs fed via QueueWork
// flow through every stage and reach the configured sink; the EOI signal
// propagates the end-of-inputs barrier stage by stage until the sink
// observes it.
type Pipeline struct {
	cfg     Config
	builder *builder
	handles []*fitting.Handle
	logger  *logrus.Entry
}

// Exec validates the supplied config and specs, constructs a control
// process for every stage and links them tail-to-head, with the last stage
// feeding the sink. A validation failure of any spec aborts construction;
// controls that were already created observe the failed builder and
// terminate.
func Exec(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("pipeline: config validation failed: %w", err)
	}
	for _, spec := range cfg.Specs {
		if err := fitting.ValidateSpec(spec); err != nil {
			return nil, err
		}
	}

	b := newBuilder()
	handles := make([]*fitting.Handle, len(cfg.Specs))
	output := fitting.SinkHandle(cfg.Sink)
	for i := len(cfg.Specs) - 1; i >= 0; i-- {
		h, err := fitting.NewControl(fitting.ControlConfig{
			Builder:      b,
			Spec:         cfg.Specs[i],
			Output:       output,
			Dispatcher:   cfg.Dispatcher,
			Options:      cfg.Options,
			DrainTimeout: cfg.DrainTimeout,
			Clock:        cfg.Clock,
			Logger:       cfg.Logger,
		})
		if err != nil {
			wrappedErr := xerrors.Errorf("pipeline: starting fitting %q: %w", cfg.Specs[i].Name, err)
			b.fail(wrappedErr)
			return nil, wrappedErr
		}
		handles[i] = h
		output = h
	}

	return &Pipeline{
		cfg:     cfg,
		builder: b,
		handles: handles,
		logger:  cfg.Logger,
	}, nil
}

// QueueWork routes one input into the first stage on the partition selected
// by the stage's partfun. First stages that use Follow routing have no
// sender to follow; feed those via QueueWorkTo instead.
func (p *Pipeline) QueueWork(input interface{}) error {
	h := p.handles[0]
	if h.Partfun().IsFollow() {
		return xerrors.Errorf("first fitting %q uses follow routing; use QueueWorkTo", h.Name())
	}
	return p.cfg.Router.QueueWork(h, input)
}

// QueueWorkTo routes one input into the first stage on an explicitly chosen
// partition.
func (p *Pipeline) QueueWorkTo(part fitting.Partition, input interface{}) error {
	return p.cfg.Router.QueueWorkFollow(p.handles[0], input, part)
}

// EOI signals that no further inputs will be fed to the pipeline. The
// barrier propagates stage by stage: each stage forwards it only after all
// of its workers have drained, and the sink observes it last.
func (p *Pipeline) EOI() {
	p.handles[0].EOI()
}

// Abort terminates the pipeline abnormally: the builder fails, every stage
// control that is still alive terminates with fitting.ErrBuilderExited, and
// subsequent operations on the stage handles report fitting.ErrGone.
func (p *Pipeline) Abort(err error) {
	if err == nil {
		err = xerrors.New("pipeline aborted")
	}
	p.logger.WithField("err", err).Error("aborting pipeline")
	p.builder.fail(err)
}

// NumStages returns the number of stages in the pipeline.
func (p *Pipeline) NumStages() int { return len(p.handles) }

// Handle returns the handle of the stage at the given index.
func (p *Pipeline) Handle(stage int) (*fitting.Handle, error) {
	if stage < 0 || stage >= len(p.handles) {
		return nil, xerrors.Errorf("no stage with index %d", stage)
	}
	return p.handles[stage], nil
}

// Workers returns the partitions that currently have a worker registered
// for the stage at the given index.
func (p *Pipeline) Workers(stage int) ([]fitting.Partition, error) {
	h, err := p.Handle(stage)
	if err != nil {
		return nil, err
	}
	return h.Workers()
}
