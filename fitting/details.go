package fitting

// Options carries the pipeline-global options that are distributed to every
// stage and worker.
type Options struct {
	// Trace enables per-input debug logging in workers.
	Trace bool
}

// Details bundles everything a worker needs to know about its stage: the
// spec fields, the handle of its own control process, the handle that its
// outputs should be routed through, and the pipeline-global options. Details
// values are created once per stage and are read-only thereafter.
type Details struct {
	// Name is the stage label from the spec.
	Name string

	// Module is the registered module id from the spec.
	Module string

	// Arg is the opaque module initialization argument from the spec.
	Arg interface{}

	// Partfun is the stage's own input-routing selector.
	Partfun Partfun

	// Handle is the handle of this stage's own control process. Workers
	// use it to fetch details, to report done and to identify themselves
	// to their hosting vnode.
	Handle *Handle

	// Output is the handle that this stage's outputs are routed through:
	// the next stage's handle, or a sink handle for the last stage.
	Output *Handle

	// Options are the pipeline-global options.
	Options Options
}
