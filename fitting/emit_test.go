package fitting_test

import (
	"github.com/TimTheToolman/riak-pipe/fitting"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(EmitTestSuite))

type EmitTestSuite struct {
	builder    *stubBuilder
	dispatcher *stubDispatcher
	sink       *stubSink
	router     *stubRouter
}

func (s *EmitTestSuite) SetUpTest(c *gc.C) {
	s.builder = newStubBuilder()
	s.dispatcher = newStubDispatcher()
	s.sink = newStubSink()
	s.router = new(stubRouter)
}

func (s *EmitTestSuite) stageHandle(c *gc.C, partfun fitting.Partfun) *fitting.Handle {
	h, err := fitting.NewControl(fitting.ControlConfig{
		Builder:    s.builder,
		Spec:       fitting.Spec{Name: "next", Module: "test/pass", Partfun: partfun},
		Output:     fitting.SinkHandle(s.sink),
		Dispatcher: s.dispatcher,
	})
	c.Assert(err, gc.IsNil)
	return h
}

func (s *EmitTestSuite) TestEmitToSink(c *gc.C) {
	details := &fitting.Details{
		Name:   "last",
		Output: fitting.SinkHandle(s.sink),
	}

	err := fitting.Emit("out", 3, details, s.router)
	c.Assert(err, gc.IsNil)
	c.Assert(s.sink.results(), gc.DeepEquals, []interface{}{"out"})
	c.Assert(s.router.queued, gc.HasLen, 0)
	c.Assert(s.router.followed, gc.HasLen, 0)
}

func (s *EmitTestSuite) TestEmitFollow(c *gc.C) {
	next := s.stageHandle(c, fitting.Follow)
	details := &fitting.Details{Name: "first", Output: next}

	err := fitting.Emit("out", 3, details, s.router)
	c.Assert(err, gc.IsNil)
	c.Assert(s.router.followed, gc.DeepEquals, []routedOutput{
		{handle: next, output: "out", from: 3},
	})
	c.Assert(s.router.queued, gc.HasLen, 0)
}

func (s *EmitTestSuite) TestEmitByPartitionFunc(c *gc.C) {
	next := s.stageHandle(c, fitting.PartitionBy(func(output interface{}) fitting.Partition {
		return fitting.Partition(len(output.(string)))
	}))
	details := &fitting.Details{Name: "first", Output: next}

	err := fitting.Emit("out", 3, details, s.router)
	c.Assert(err, gc.IsNil)
	c.Assert(s.router.queued, gc.DeepEquals, []routedOutput{
		{handle: next, output: "out"},
	})
	c.Assert(s.router.followed, gc.HasLen, 0)

	// The destination partition is computed by the router from the cached
	// partfun on the handle.
	p, err := next.Partfun().Partition("out")
	c.Assert(err, gc.IsNil)
	c.Assert(p, gc.Equals, fitting.Partition(3))
}
