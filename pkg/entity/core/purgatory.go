package core

import (
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/coocood/freecache"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

var defaultValue = []byte{0x1}

// Purgatory remembers keys for a while after they left the live
// tables, so late traffic referencing them is recognized.
type Purgatory interface {
	// Set adds a new entry. Returns true if the entry did not
	// exist previously and false otherwise.
	Set(id string) bool

	// Contains verify if the given entry exists in purgatory.
	Contains(id string) bool

	Close()
}

// RetiredPurgatory holds transactions retired or failed locally.
// Acks arriving after that are dropped instead of treated as a
// protocol violation.
type RetiredPurgatory struct {
	mutex    sync.Mutex
	delegate *ttlcache.Cache
}

func NewRetiredPurgatory(retention time.Duration) *RetiredPurgatory {
	c := ttlcache.NewCache()
	c.SetTTL(retention)
	return &RetiredPurgatory{delegate: c}
}

func (r *RetiredPurgatory) Set(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.delegate.Get(id); ok {
		return false
	}
	r.delegate.Set(id, true)
	return true
}

func (r *RetiredPurgatory) Contains(id string) bool {
	_, ok := r.delegate.Get(id)
	return ok
}

func (r *RetiredPurgatory) Close() {
	r.delegate.Close()
}

// ReleasedPurgatory holds descriptors released by this client.
// Server messages racing with the release are expected and dropped
// quietly.
type ReleasedPurgatory struct {
	delegate   *freecache.Cache
	expiration int
}

func NewReleasedPurgatory(size int, retention time.Duration) *ReleasedPurgatory {
	return &ReleasedPurgatory{
		delegate:   freecache.NewCache(size),
		expiration: int(retention / time.Second),
	}
}

func (r *ReleasedPurgatory) Set(id string) bool {
	old, err := r.delegate.GetOrSet([]byte(id), defaultValue, r.expiration)
	return old == nil && err == nil
}

func (r *ReleasedPurgatory) Contains(id string) bool {
	v, err := r.delegate.Peek([]byte(id))
	return v != nil && err == nil
}

// Forget removes the entry, used when a descriptor is fetched again.
func (r *ReleasedPurgatory) Forget(id string) {
	r.delegate.Del([]byte(id))
}

func (r *ReleasedPurgatory) Close() {}

func descriptorKey(descriptor types.EntityDescriptor) string {
	return descriptor.String()
}
