package network

import (
	"bytes"
	"errors"
	"testing"

	"github.com/jabolina/go-entity/pkg/entity/types"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	acks    []types.Ack
	values  [][]byte
	errs    []error
	pushed  []string
	private []string
}

func (r *recordingHandler) Sent(types.TransactionID) { r.acks = append(r.acks, types.Sent) }

func (r *recordingHandler) Received(types.TransactionID) { r.acks = append(r.acks, types.Received) }

func (r *recordingHandler) Retired(types.TransactionID) { r.acks = append(r.acks, types.Retired) }

func (r *recordingHandler) SetResult(_ types.TransactionID, value []byte, err error) {
	r.values = append(r.values, value)
	r.errs = append(r.errs, err)
}

func (r *recordingHandler) HandleMessage(_ types.EntityDescriptor, message []byte) {
	r.pushed = append(r.pushed, string(message))
}

func (r *recordingHandler) HandleTransactionMessage(_ types.TransactionID, message []byte) {
	r.private = append(r.private, string(message))
}

func (r *recordingHandler) Pause() {}

func (r *recordingHandler) Unpause() {}

func (r *recordingHandler) InitializeHandshake(types.Handshake) {}

func (r *recordingHandler) StartRejoin() {}

func (r *recordingHandler) Shutdown() {}

func (r *recordingHandler) ClientID() types.ClientID { return "recording" }

func TestWire_ExceptionSurvivesFrame(t *testing.T) {
	exception := types.NewNotFound(types.NewEntityID("counter", "missing"))
	exception.RemoteTrace = "server.go:10"

	data, err := EncodeFrame(ResultFrame, NewResult(7, nil, exception))
	require.NoError(t, err)
	kind, body, err := DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, ResultFrame, kind)

	handler := &recordingHandler{}
	require.NoError(t, dispatch(handler, kind, body))
	require.Nil(t, handler.values[0])
	require.ErrorIs(t, handler.errs[0], types.ErrEntityNotFound)

	var decoded *types.EntityException
	require.True(t, errors.As(handler.errs[0], &decoded))
	require.Equal(t, "missing", decoded.EntityName)
	require.Equal(t, "server.go:10", decoded.RemoteTrace)
}

func TestWire_PlainErrorBecomesUncaught(t *testing.T) {
	result := NewResult(3, nil, errors.New("boom"))
	require.Equal(t, types.ServerUncaught, result.Exception.Kind)
	require.Equal(t, "boom", result.Exception.Description)
}

func TestWire_EmptyValueIsNotMissing(t *testing.T) {
	data, err := EncodeFrame(ResultFrame, NewResult(1, nil, nil))
	require.NoError(t, err)
	kind, body, err := DecodeFrame(data)
	require.NoError(t, err)

	handler := &recordingHandler{}
	require.NoError(t, dispatch(handler, kind, body))
	require.NotNil(t, handler.values[0])
	require.Empty(t, handler.values[0])
	require.NoError(t, handler.errs[0])
}

func TestWire_StreamFramesInOrder(t *testing.T) {
	var buf bytes.Buffer
	writer := NewFrameWriter(&buf)
	require.NoError(t, writer.Write(AckFrame, &AckBody{TransactionID: 1, Ack: types.Received}))
	require.NoError(t, writer.Write(ServerMessageFrame, &ServerMessageBody{Data: []byte("event")}))
	require.NoError(t, writer.Write(TransactionMessageFrame, &TransactionMessageBody{TransactionID: 1, Data: []byte("partial")}))
	require.NoError(t, writer.Write(AckFrame, &AckBody{TransactionID: 1, Ack: types.Retired}))

	handler := &recordingHandler{}
	reader := NewFrameReader(&buf)
	for i := 0; i < 4; i++ {
		kind, body, err := reader.Read()
		require.NoError(t, err)
		require.NoError(t, dispatch(handler, kind, body))
	}

	require.Equal(t, []types.Ack{types.Received, types.Retired}, handler.acks)
	require.Equal(t, []string{"event"}, handler.pushed)
	require.Equal(t, []string{"partial"}, handler.private)
}

func TestWire_UnknownFrameRejected(t *testing.T) {
	_, _, err := DecodeFrame([]byte{0xff})
	require.ErrorIs(t, err, ErrUnknownFrame)

	handler := &recordingHandler{}
	err = dispatch(handler, RequestFrame, &types.Message{})
	require.ErrorIs(t, err, ErrUnknownFrame)
}
