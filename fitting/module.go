package fitting

import (
	"sync"

	"golang.org/x/xerrors"
)

// EmitFunc is handed to a module's Process callback for emitting outputs to
// the next stage (or to the pipeline sink, for the last stage). Emission is
// best-effort and non-blocking from the module's perspective.
type EmitFunc func(output interface{}) error

// Module is implemented by the user-supplied behaviours that pipeline stages
// execute. One module instance serves every worker of its stage; all
// per-worker state must be threaded through the opaque state value.
type Module interface {
	// Init is invoked once when a worker starts on a partition. The
	// returned state value is threaded through all subsequent callbacks.
	Init(p Partition, d *Details) (interface{}, error)

	// Process is invoked for every input delivered to the worker. Outputs
	// are emitted through emit. Process returns the new worker state.
	Process(input interface{}, state interface{}, emit EmitFunc) (interface{}, error)

	// Done is invoked after the worker has drained its inputs, just
	// before it terminates.
	Done(state interface{}) error
}

// ArgValidator is an optional module capability: modules that implement it
// get a chance to reject a spec's Arg at validation time.
type ArgValidator interface {
	ValidateArg(arg interface{}) error
}

// Archiver is an optional module capability: modules that implement it can
// capture their worker state as an opaque archive value so it can be handed
// off to a worker on another vnode.
type Archiver interface {
	Archive(state interface{}) (interface{}, error)
}

// HandoffReceiver is an optional module capability: modules that implement
// it can adopt an archive produced by an Archiver on the worker that
// previously served the partition. Modules without it silently discard
// incoming archives.
type HandoffReceiver interface {
	Handoff(archive interface{}, state interface{}) (interface{}, error)
}

// UndefinedArchive is the archive value a worker reports when it is asked to
// archive but its module does not implement Archiver.
var UndefinedArchive interface{} = undefinedArchive{}

type undefinedArchive struct{}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Module)
)

// Register makes a module available for use in specs under the given id. It
// panics if id is empty, m is nil, or id is already taken.
func Register(id string, m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if id == "" {
		panic("fitting: Register called with empty module id")
	}
	if m == nil {
		panic("fitting: Register called with nil module")
	}
	if _, exists := registry[id]; exists {
		panic(xerrors.Errorf("fitting: module %q already registered", id))
	}
	registry[id] = m
}

// Lookup returns the module registered under id, if any.
func Lookup(id string) (Module, bool) {
	registryMu.RLock()
	m, exists := registry[id]
	registryMu.RUnlock()
	return m, exists
}
