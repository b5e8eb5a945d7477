package core

import "sync"

// InFlightMonitor observes the partial results of a streaming
// invocation. Accept receives every value but the last one, which
// is returned by Get. Close is called once the message retires.
type InFlightMonitor interface {
	Accept(value []byte)
	Close()
}

// MonitorFunc adapts a function into a monitor without a close step.
type MonitorFunc func(value []byte)

func (f MonitorFunc) Accept(value []byte) {
	f(value)
}

func (f MonitorFunc) Close() {}

// ChannelMonitor publishes the partial results into a channel,
// closed when the message retires. Consumers must drain Values,
// a full buffer blocks the delivery of further results until the
// monitor closes.
type ChannelMonitor struct {
	mutex   sync.Mutex
	closed  bool
	done    chan struct{}
	sending sync.WaitGroup
	values  chan []byte
}

func NewChannelMonitor(size int) *ChannelMonitor {
	return &ChannelMonitor{
		done:   make(chan struct{}),
		values: make(chan []byte, size),
	}
}

func (c *ChannelMonitor) Values() <-chan []byte {
	return c.values
}

func (c *ChannelMonitor) Accept(value []byte) {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.sending.Add(1)
	c.mutex.Unlock()
	defer c.sending.Done()

	select {
	case c.values <- value:
	case <-c.done:
	}
}

// Close aborts the blocked Accept calls and closes Values.
func (c *ChannelMonitor) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mutex.Unlock()

	c.sending.Wait()
	close(c.values)
}
