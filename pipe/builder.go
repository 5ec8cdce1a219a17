package pipe

import "sync"

// builder is the peer that every control process in a pipeline binds its
// liveness to. Its done channel closes only on abnormal termination; a
// pipeline that completes normally simply leaves the builder quiescent,
// since every control cancels its builder monitor as it terminates.
type builder struct {
	failOnce sync.Once
	doneCh   chan struct{}

	mu  sync.Mutex
	err error
}

func newBuilder() *builder {
	return &builder{doneCh: make(chan struct{})}
}

// Done implements lifecycle.Peer.
func (b *builder) Done() <-chan struct{} { return b.doneCh }

// fail terminates the builder abnormally, propagating to every control that
// is still watching it.
func (b *builder) fail(err error) {
	b.failOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		close(b.doneCh)
	})
}

// Err returns the builder's termination reason, if any.
func (b *builder) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
