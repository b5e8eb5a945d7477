package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/jabolina/go-entity/pkg/entity/helper"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

// ConnectionState is the session state of the manager.
type ConnectionState int32

const (
	Stopped ConnectionState = iota
	Starting
	Running
	Paused
	RejoinInProgress
)

func (c ConnectionState) String() string {
	switch c {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case RejoinInProgress:
		return "REJOIN_IN_PROGRESS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(c))
	}
}

// Holds the connection state, broadcasting every change to the
// goroutines waiting for it.
type connectionState struct {
	mutex    sync.Mutex
	state    ConnectionState
	changed  chan struct{}
	onChange func(from, to ConnectionState)
}

func newConnectionState(initial ConnectionState, onChange func(from, to ConnectionState)) *connectionState {
	return &connectionState{
		state:    initial,
		changed:  make(chan struct{}),
		onChange: onChange,
	}
}

func (c *connectionState) current() ConnectionState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Moves to the given state, asserting the current one is valid.
// Nothing moves out of STOPPED, the call is ignored and returns false.
func (c *connectionState) transition(to ConnectionState, from ...ConnectionState) bool {
	c.mutex.Lock()
	previous := c.state
	if previous == Stopped {
		c.mutex.Unlock()
		return false
	}

	valid := false
	for _, f := range from {
		valid = valid || f == previous
	}
	if !valid {
		c.mutex.Unlock()
		helper.Fail("illegal state transition %s -> %s", previous, to)
	}

	c.state = to
	close(c.changed)
	c.changed = make(chan struct{})
	c.mutex.Unlock()

	c.onChange(previous, to)
	return true
}

func (c *connectionState) pause() bool {
	return c.transition(Paused, Running, Starting)
}

func (c *connectionState) starting() bool {
	return c.transition(Starting, Paused, RejoinInProgress)
}

func (c *connectionState) running() bool {
	return c.transition(Running, Starting)
}

func (c *connectionState) rejoin() bool {
	return c.transition(RejoinInProgress, Paused, RejoinInProgress)
}

// Terminal transition. Returns false if already stopped.
func (c *connectionState) stop() bool {
	c.mutex.Lock()
	previous := c.state
	if previous == Stopped {
		c.mutex.Unlock()
		return false
	}
	c.state = Stopped
	close(c.changed)
	c.changed = make(chan struct{})
	c.mutex.Unlock()

	c.onChange(previous, Stopped)
	return true
}

// Fails fast on STOPPED and REJOIN_IN_PROGRESS, nil otherwise.
func (c *connectionState) admissible() error {
	return stateError(c.current())
}

// Blocks until RUNNING. Fails fast on STOPPED and REJOIN_IN_PROGRESS.
func (c *connectionState) waitUntilRunning(ctx context.Context) error {
	c.mutex.Lock()
	for c.state != Running {
		if err := stateError(c.state); err != nil {
			c.mutex.Unlock()
			return err
		}
		changed := c.changed
		c.mutex.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mutex.Lock()
	}
	c.mutex.Unlock()
	return nil
}

func stateError(state ConnectionState) error {
	switch state {
	case Stopped:
		return types.ErrNotRunning
	case RejoinInProgress:
		return types.ErrRejoinInProgress
	default:
		return nil
	}
}
