// Package fitting implements the coordination core of a riak-pipe pipeline:
// the per-stage specification and metadata types, the control process that
// tracks the workers doing work on a stage's behalf and propagates the
// end-of-inputs barrier downstream, and the worker state machine that drives
// a user-supplied module on a single partition.
package fitting

// Partition identifies one of the partitions that the inputs of a stage are
// spread across.
type Partition int

// PartitionFunc deterministically selects the destination partition for an
// output value. Implementations must be pure: the same output must always
// map to the same partition.
type PartitionFunc func(output interface{}) Partition

type partfunKind int

const (
	partfunInvalid partfunKind = iota
	partfunFollow
	partfunSink
	partfunFunc
)

// Partfun selects how the outputs routed *into* a stage are assigned to
// partitions. A stage's outputs are routed using the partfun of the *next*
// stage's handle.
type Partfun struct {
	kind partfunKind
	fn   PartitionFunc
}

// Follow routes each output to the same partition as the worker that emitted
// it.
var Follow = Partfun{kind: partfunFollow}

// toSink marks the distinguished partfun carried by sink handles; outputs
// routed through it are delivered directly to the pipeline sink.
var toSink = Partfun{kind: partfunSink}

// PartitionBy returns a Partfun that routes each output to the partition
// selected by fn.
func PartitionBy(fn PartitionFunc) Partfun {
	return Partfun{kind: partfunFunc, fn: fn}
}

// IsFollow returns true if this partfun routes outputs to the emitting
// worker's own partition.
func (p Partfun) IsFollow() bool { return p.kind == partfunFollow }

// IsSink returns true if this partfun delivers outputs directly to the
// pipeline sink.
func (p Partfun) IsSink() bool { return p.kind == partfunSink }

// IsValid returns true if the partfun has been populated with one of the
// supported routing modes.
func (p Partfun) IsValid() bool { return p.kind != partfunInvalid }

// Partition applies the partition-selection function to output. It returns
// an error for Follow and sink partfuns, whose destinations do not depend on
// the output value.
func (p Partfun) Partition(output interface{}) (Partition, error) {
	if p.kind != partfunFunc {
		return 0, errNoPartitionFunc
	}
	return p.fn(output), nil
}

// Spec describes a single pipeline stage. Specs are immutable once supplied
// to a pipeline and must pass ValidateSpec before a control process is
// created for them.
type Spec struct {
	// Name is an opaque label for the stage; it is attached to results
	// delivered to the sink and to emitted log entries.
	Name string

	// Module identifies the registered user-supplied Module that
	// implements the stage's processing behaviour.
	Module string

	// Arg is an opaque initialization argument passed through to the
	// module's Init callback.
	Arg interface{}

	// Partfun selects the destination partition for inputs routed into
	// this stage: either Follow or a PartitionBy selector.
	Partfun Partfun
}
