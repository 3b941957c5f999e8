package common

import (
	"bytes"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrReentrantCall is returned when an entrypoint is invoked from inside a
// transaction that is still executing, e.g. from an asset transfer hook.
var ErrReentrantCall = errors.New("reentrant call rejected")

// Executor serialises every state transition made against one journaled
// state. Engines that share a state must share an Executor so a revert in one
// transaction can never discard writes of another.
//
// Callers on other goroutines wait for the running transaction to finish. A
// call made from the goroutine that is running the transaction fails fast
// with ErrReentrantCall instead of deadlocking.
type Executor struct {
	mu    sync.Mutex
	owner atomic.Uint64
}

// NewExecutor returns an idle executor.
func NewExecutor() *Executor { return &Executor{} }

// Enter blocks until no other transaction runs and returns the release
// function.
func (x *Executor) Enter() (func(), error) {
	id := goroutineID()
	if id != 0 && x.owner.Load() == id {
		return nil, ErrReentrantCall
	}
	x.mu.Lock()
	x.owner.Store(id)
	return x.release, nil
}

func (x *Executor) release() {
	x.owner.Store(0)
	x.mu.Unlock()
}

// Busy reports whether a transaction is running.
func (x *Executor) Busy() bool {
	return x.owner.Load() != 0
}

// Execute runs one state-changing entrypoint of module: it enters the
// executor, rejects paused modules and applies fn atomically against the
// snapshotter. A nil pause view never blocks.
func (x *Executor) Execute(pauses PauseView, module string, s Snapshotter, fn func() error) error {
	return x.ExecuteOrdered(pauses, module, s, fn, nil)
}

// ExecuteOrdered is Execute with publish called after fn succeeds and before
// the next transaction starts, so observers see transactions in execution
// order.
func (x *Executor) ExecuteOrdered(pauses PauseView, module string, s Snapshotter, fn func() error, publish func()) error {
	release, err := x.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := Guard(pauses, module); err != nil {
		return err
	}
	if err := Atomic(s, fn); err != nil {
		return err
	}
	if publish != nil {
		publish()
	}
	return nil
}

// Committer flushes buffered state.
type Committer interface {
	Commit() error
}

// Commit flushes c between transactions so no snapshot is ever open across
// the flush.
func (x *Executor) Commit(c Committer) error {
	release, err := x.Enter()
	if err != nil {
		return err
	}
	defer release()
	return c.Commit()
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID reads the current goroutine's id from its stack header. The
// runtime keeps no other handle that survives a blocking call.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(header, ' '); i > 0 {
		header = header[:i]
	}
	id, err := strconv.ParseUint(string(header), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
