package core

import (
	"strconv"
	"sync"

	"github.com/jabolina/go-entity/pkg/entity/types"
	"github.com/wangjia184/sortedset"
)

// TransactionSource allocates transaction identifiers and tracks
// the ones still pending. The smallest pending identifier is the
// low-water mark advertised to the server.
type TransactionSource struct {
	mutex   sync.Mutex
	current types.TransactionID
	pending *sortedset.SortedSet
}

func NewTransactionSource() *TransactionSource {
	return &TransactionSource{pending: sortedset.New()}
}

func transactionKey(id types.TransactionID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Create allocates the next identifier and marks it as pending.
func (t *TransactionSource) Create() types.TransactionID {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.current++
	id := t.current
	t.pending.AddOrUpdate(transactionKey(id), sortedset.SCORE(id), id)
	return id
}

// Oldest returns the smallest pending identifier, false when
// nothing is pending.
func (t *TransactionSource) Oldest() (types.TransactionID, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	min := t.pending.PeekMin()
	if min == nil {
		return types.NullTransactionID, false
	}
	return min.Value.(types.TransactionID), true
}

// Retire removes the identifier from the pending set. Returns
// whether it was pending.
func (t *TransactionSource) Retire(id types.TransactionID) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.pending.Remove(transactionKey(id)) != nil
}

func (t *TransactionSource) Pending() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.pending.GetCount()
}
