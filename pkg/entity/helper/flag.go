package helper

import "sync/atomic"

const (
	active   = 0x0
	inactive = 0x1
)

// Flag is a one way switch, it starts active and can be
// inactivated exactly once. Used to guard actions that must
// happen a single time, as closing an endpoint or sending
// a message.
type Flag struct {
	flag int32
}

// IsActive returns `true` if the flag still active.
func (f *Flag) IsActive() bool {
	return atomic.LoadInt32(&f.flag) == active
}

// IsInactive returns `true` if the flag is inactive.
func (f *Flag) IsInactive() bool {
	return atomic.LoadInt32(&f.flag) == inactive
}

// Inactivate returns `true` only for the caller that changed
// the flag from active to inactive.
func (f *Flag) Inactivate() bool {
	return atomic.CompareAndSwapInt32(&f.flag, active, inactive)
}
