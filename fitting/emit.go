package fitting

// Router is implemented by the vnode subsystem: it accepts emitted outputs
// and enqueues them on the work queue of the partition that the destination
// stage's partfun selects.
type Router interface {
	// QueueWork enqueues output for the stage addressed by h on the
	// partition selected by h's partfun.
	QueueWork(h *Handle, output interface{}) error

	// QueueWorkFollow enqueues output for the stage addressed by h on
	// the same partition as the emitting worker.
	QueueWorkFollow(h *Handle, output interface{}, from Partition) error
}

// Sink is implemented by the terminal recipient of pipeline results. The
// last stage's outputs and the final end-of-inputs signal are delivered to
// it directly.
type Sink interface {
	// Result delivers one output emitted by the stage named stage.
	Result(stage string, h *Handle, output interface{})

	// EOI signals that every stage has drained and no further results
	// will be delivered.
	EOI()
}

// EOIDispatcher is implemented by the vnode subsystem: it delivers an
// end-of-inputs signal to the vnode hosting the worker of stage h on
// partition p. The vnode replies with a done input to that worker once its
// existing queue empties.
type EOIDispatcher interface {
	DeliverEOI(h *Handle, p Partition)
}

// Emit routes a single output emitted by the worker at partition from of the
// stage described by d. Outputs bound for a sink handle are delivered
// directly; Follow outputs stay on the emitting worker's partition; anything
// else is enqueued on the partition selected by the destination partfun.
func Emit(output interface{}, from Partition, d *Details, r Router) error {
	out := d.Output
	switch {
	case out.IsSink():
		out.sink.Result(d.Name, out, output)
		return nil
	case out.Partfun().IsFollow():
		return r.QueueWorkFollow(out, output, from)
	default:
		return r.QueueWork(out, output)
	}
}
