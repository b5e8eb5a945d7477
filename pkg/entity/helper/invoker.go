package helper

import (
	"errors"
	"sync"
)

// ErrInvokerClosed is returned when spawning on a stopped Invoker.
var ErrInvokerClosed = errors.New("invoker already closed")

// Invoker keeps track of the goroutines a component spawns, so
// stopping the component waits for all of them to finish and
// nothing leaks.
type Invoker struct {
	mutex   sync.Mutex
	working bool
	group   sync.WaitGroup
}

func NewInvoker() *Invoker {
	return &Invoker{working: true}
}

// Spawn runs the function on a tracked goroutine.
func (i *Invoker) Spawn(f func()) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if !i.working {
		return ErrInvokerClosed
	}

	i.group.Add(1)
	go func() {
		defer i.group.Done()
		f()
	}()
	return nil
}

// Stop refuses new goroutines and blocks until the running
// ones finish. Must not be called from a spawned goroutine.
func (i *Invoker) Stop() {
	i.mutex.Lock()
	i.working = false
	i.mutex.Unlock()
	i.group.Wait()
}
