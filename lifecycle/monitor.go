// Package lifecycle provides a small liveness-monitoring primitive: callers
// can watch a peer and receive a one-shot notification when it terminates.
package lifecycle

import "sync"

// Peer is implemented by entities whose termination can be observed. The
// returned channel must be closed exactly once, when the peer terminates.
type Peer interface {
	Done() <-chan struct{}
}

// Token is returned by Watch and can be used to dismantle a monitor before
// (or after) it fires. Calls to Cancel are idempotent.
type Token struct {
	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// Cancel dismantles the monitor associated with this token. Canceling a
// monitor that has already fired or been cancelled has no effect.
func (t *Token) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

// Watch installs a liveness monitor on the specified peer. When the peer
// terminates, onDown is invoked exactly once from a dedicated go-routine.
// Monitors that are cancelled before the peer terminates never fire.
func Watch(p Peer, onDown func()) *Token {
	t := &Token{cancelCh: make(chan struct{})}
	go func() {
		select {
		case <-p.Done():
			select {
			case <-t.cancelCh:
				return
			default:
			}
			onDown()
		case <-t.cancelCh:
		}
	}()
	return t
}
