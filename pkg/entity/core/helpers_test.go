package core

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/jabolina/go-entity/pkg/entity/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// Records every message handed by the sender. When a responder is
// set, it answers synchronously like a server would.
type fakeChannel struct {
	mutex     sync.Mutex
	messages  []*types.Message
	refuse    bool
	responder func(message *types.Message)
}

func (f *fakeChannel) Send(message *types.Message) bool {
	f.mutex.Lock()
	if f.refuse {
		f.mutex.Unlock()
		return false
	}
	f.messages = append(f.messages, message)
	responder := f.responder
	f.mutex.Unlock()

	if responder != nil {
		responder(message)
	}
	return true
}

func (f *fakeChannel) setResponder(responder func(message *types.Message)) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.responder = responder
}

func (f *fakeChannel) setRefuse(refuse bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.refuse = refuse
}

func (f *fakeChannel) sent() []*types.Message {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	messages := make([]*types.Message, len(f.messages))
	copy(messages, f.messages)
	return messages
}

func (f *fakeChannel) sentTypes() []types.MessageType {
	var kinds []types.MessageType
	for _, m := range f.sent() {
		kinds = append(kinds, m.Type)
	}
	return kinds
}

func testConfiguration() *types.Configuration {
	config := types.DefaultConfiguration()
	config.Logger = hclog.NewNullLogger()
	config.Registerer = prometheus.NewRegistry()
	return config
}

func newTestManager(t *testing.T, channel Channel) *Manager {
	m, err := NewManager(channel, testConfiguration())
	require.NoError(t, err)
	return m
}

func fetchReply(fetchID uint64, configuration []byte) []byte {
	reply := make([]byte, fetchIDSize, fetchIDSize+len(configuration))
	binary.BigEndian.PutUint64(reply, fetchID)
	return append(reply, configuration...)
}

// A synchronous server answering every message with received,
// result and retired.
func serve(m *Manager, result func(message *types.Message) ([]byte, error)) func(*types.Message) {
	return func(message *types.Message) {
		m.Received(message.TransactionID)
		value, err := result(message)
		m.SetResult(message.TransactionID, value, err)
		m.Retired(message.TransactionID)
	}
}

// Answers fetches with the given configuration, invocations with
// the payload and everything else with an empty result.
func echo(configuration []byte) func(message *types.Message) ([]byte, error) {
	return func(message *types.Message) ([]byte, error) {
		switch message.Type {
		case types.FetchEntity:
			return fetchReply(uint64(message.TransactionID), configuration), nil
		case types.InvokeAction:
			return append([]byte{}, message.Payload...), nil
		default:
			return nil, nil
		}
	}
}

type recordingListener struct {
	mutex        sync.Mutex
	messages     []string
	disconnected int
}

func (r *recordingListener) HandleMessage(message []byte) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.messages = append(r.messages, string(message))
}

func (r *recordingListener) DidDisconnectUnexpectedly() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.disconnected++
}

func (r *recordingListener) received() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string{}, r.messages...)
}

func (r *recordingListener) disconnects() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.disconnected
}
