package fitting_test

import (
	"time"

	"github.com/TimTheToolman/riak-pipe/fitting"
	"github.com/juju/clock/testclock"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(ControlTestSuite))

type ControlTestSuite struct {
	builder    *stubBuilder
	dispatcher *stubDispatcher
	sink       *stubSink
}

func (s *ControlTestSuite) SetUpTest(c *gc.C) {
	s.builder = newStubBuilder()
	s.dispatcher = newStubDispatcher()
	s.sink = newStubSink()
}

func (s *ControlTestSuite) startControl(c *gc.C, cfg fitting.ControlConfig) *fitting.Handle {
	if cfg.Builder == nil {
		cfg.Builder = s.builder
	}
	if cfg.Output == nil {
		cfg.Output = fitting.SinkHandle(s.sink)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = s.dispatcher
	}
	if cfg.Spec.Name == "" {
		cfg.Spec = fitting.Spec{Name: "pass", Module: "test/pass", Partfun: fitting.Follow}
	}
	h, err := fitting.NewControl(cfg)
	c.Assert(err, gc.IsNil)
	return h
}

func (s *ControlTestSuite) TestBadSpecAbortsConstruction(c *gc.C) {
	_, err := fitting.NewControl(fitting.ControlConfig{
		Builder:    s.builder,
		Spec:       fitting.Spec{Name: "mystery", Module: "test/not-registered", Partfun: fitting.Follow},
		Output:     fitting.SinkHandle(s.sink),
		Dispatcher: s.dispatcher,
	})
	c.Assert(err, gc.NotNil)

	var badSpec *fitting.BadSpecError
	c.Assert(xerrors.As(err, &badSpec), gc.Equals, true)
}

func (s *ControlTestSuite) TestMissingConfigFields(c *gc.C) {
	_, err := fitting.NewControl(fitting.ControlConfig{
		Spec: fitting.Spec{Name: "pass", Module: "test/pass", Partfun: fitting.Follow},
	})
	c.Assert(err, gc.ErrorMatches, "(?s).*builder not specified.*")
	c.Assert(err, gc.ErrorMatches, "(?s).*output handle not specified.*")
	c.Assert(err, gc.ErrorMatches, "(?s).*EOI dispatcher not specified.*")
}

func (s *ControlTestSuite) TestEmptyRosterForwardsEOIImmediately(c *gc.C) {
	h := s.startControl(c, fitting.ControlConfig{})

	h.EOI()
	s.sink.expectEOI(c)

	waitFor(c, func() bool {
		_, err := h.GetDetails(0, newStubWorker())
		return xerrors.Is(err, fitting.ErrGone)
	}, "control to report gone after forwarding EOI")
}

func (s *ControlTestSuite) TestRosterGrowsOnGetDetails(c *gc.C) {
	h := s.startControl(c, fitting.ControlConfig{})

	w0, w1 := newStubWorker(), newStubWorker()
	details, err := h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)
	c.Assert(details.Name, gc.Equals, "pass")
	c.Assert(details.Module, gc.Equals, "test/pass")
	c.Assert(details.Handle, gc.Equals, h)
	c.Assert(details.Output.IsSink(), gc.Equals, true)

	// A re-request from the same worker is idempotent.
	_, err = h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)

	_, err = h.GetDetails(1, w1)
	c.Assert(err, gc.IsNil)

	parts, err := h.Workers()
	c.Assert(err, gc.IsNil)
	c.Assert(parts, gc.DeepEquals, []fitting.Partition{0, 1})
}

func (s *ControlTestSuite) TestWorkerDoneBeforeEOI(c *gc.C) {
	h := s.startControl(c, fitting.ControlConfig{})

	w0, w1 := newStubWorker(), newStubWorker()
	_, err := h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)
	_, err = h.GetDetails(1, w1)
	c.Assert(err, gc.IsNil)

	// The worker at partition 0 relocated via handoff and terminated
	// before end-of-inputs arrived: the entry is removed but the stage
	// keeps waiting for upstream.
	h.WorkerDone(w0)
	parts, err := h.Workers()
	c.Assert(err, gc.IsNil)
	c.Assert(parts, gc.DeepEquals, []fitting.Partition{1})
	c.Assert(s.sink.eoiSeen(), gc.Equals, false)

	h.EOI()
	c.Assert(s.dispatcher.expectDelivery(c), gc.Equals, fitting.Partition(1))
	s.dispatcher.expectNoDelivery(c)

	h.WorkerDone(w1)
	s.sink.expectEOI(c)
}

func (s *ControlTestSuite) TestEOIBroadcastAndDrain(c *gc.C) {
	h := s.startControl(c, fitting.ControlConfig{})

	w0, w1 := newStubWorker(), newStubWorker()
	_, err := h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)
	_, err = h.GetDetails(1, w1)
	c.Assert(err, gc.IsNil)

	h.EOI()
	delivered := map[fitting.Partition]bool{
		s.dispatcher.expectDelivery(c): true,
		s.dispatcher.expectDelivery(c): true,
	}
	c.Assert(delivered, gc.DeepEquals, map[fitting.Partition]bool{0: true, 1: true})
	c.Assert(s.sink.eoiSeen(), gc.Equals, false)

	h.WorkerDone(w0)
	c.Assert(s.sink.eoiSeen(), gc.Equals, false)
	h.WorkerDone(w1)
	s.sink.expectEOI(c)

	waitFor(c, func() bool {
		_, err := h.Workers()
		return xerrors.Is(err, fitting.ErrGone)
	}, "control to report gone after draining")
}

func (s *ControlTestSuite) TestLateArrivalIsDrainedImmediately(c *gc.C) {
	h := s.startControl(c, fitting.ControlConfig{})

	w0 := newStubWorker()
	_, err := h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)

	h.EOI()
	c.Assert(s.dispatcher.expectDelivery(c), gc.Equals, fitting.Partition(0))

	// A worker that relocated here via handoff after the broadcast must
	// still receive details, and its vnode must be told to drain it at
	// once so it cannot block the barrier.
	w1 := newStubWorker()
	details, err := h.GetDetails(1, w1)
	c.Assert(err, gc.IsNil)
	c.Assert(details, gc.NotNil)
	c.Assert(s.dispatcher.expectDelivery(c), gc.Equals, fitting.Partition(1))

	h.WorkerDone(w0)
	c.Assert(s.sink.eoiSeen(), gc.Equals, false)
	h.WorkerDone(w1)
	s.sink.expectEOI(c)
}

func (s *ControlTestSuite) TestVanishedWorkerIsRemoved(c *gc.C) {
	h := s.startControl(c, fitting.ControlConfig{})

	w0, w1 := newStubWorker(), newStubWorker()
	_, err := h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)
	_, err = h.GetDetails(1, w1)
	c.Assert(err, gc.IsNil)

	w0.kill()
	waitFor(c, func() bool {
		parts, err := h.Workers()
		return err == nil && len(parts) == 1 && parts[0] == 1
	}, "vanished worker to be removed from the roster")
	c.Assert(s.sink.eoiSeen(), gc.Equals, false)
}

func (s *ControlTestSuite) TestVanishedWorkerCompletesDrain(c *gc.C) {
	h := s.startControl(c, fitting.ControlConfig{})

	w0, w1 := newStubWorker(), newStubWorker()
	_, err := h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)
	_, err = h.GetDetails(1, w1)
	c.Assert(err, gc.IsNil)

	h.EOI()
	h.WorkerDone(w0)

	// The remaining worker vanishes instead of reporting done; the drain
	// completes without its done callback.
	w1.kill()
	s.sink.expectEOI(c)
}

func (s *ControlTestSuite) TestBuilderExitTerminatesControl(c *gc.C) {
	h := s.startControl(c, fitting.ControlConfig{})

	w0 := newStubWorker()
	_, err := h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)

	s.builder.fail()
	waitFor(c, func() bool {
		_, err := h.GetDetails(1, newStubWorker())
		return xerrors.Is(err, fitting.ErrGone)
	}, "control to report gone after builder exit")

	_, err = h.Workers()
	c.Assert(xerrors.Is(err, fitting.ErrGone), gc.Equals, true)
	c.Assert(s.sink.eoiSeen(), gc.Equals, false)
}

func (s *ControlTestSuite) TestDrainTimeout(c *gc.C) {
	clk := testclock.NewClock(time.Now())
	h := s.startControl(c, fitting.ControlConfig{
		DrainTimeout: time.Minute,
		Clock:        clk,
	})

	w0 := newStubWorker()
	_, err := h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)

	h.EOI()
	c.Assert(s.dispatcher.expectDelivery(c), gc.Equals, fitting.Partition(0))

	c.Assert(clk.WaitAdvance(time.Minute, 5*time.Second, 1), gc.IsNil)
	waitFor(c, func() bool {
		_, err := h.Workers()
		return xerrors.Is(err, fitting.ErrGone)
	}, "control to terminate after the drain timeout")

	// The stage failed; end-of-inputs must not have reached the sink.
	c.Assert(s.sink.eoiSeen(), gc.Equals, false)
}

func (s *ControlTestSuite) TestDuplicateEOIIsIgnored(c *gc.C) {
	h := s.startControl(c, fitting.ControlConfig{})

	w0 := newStubWorker()
	_, err := h.GetDetails(0, w0)
	c.Assert(err, gc.IsNil)

	h.EOI()
	c.Assert(s.dispatcher.expectDelivery(c), gc.Equals, fitting.Partition(0))
	h.EOI()
	s.dispatcher.expectNoDelivery(c)

	h.WorkerDone(w0)
	s.sink.expectEOI(c)
}
