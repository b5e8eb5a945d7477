package network

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/jabolina/go-entity/pkg/entity/core"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

// FrameKind is the byte preceding every msgpack encoded frame body.
type FrameKind uint8

const (
	// Client to server, body is types.Message.
	RequestFrame FrameKind = iota

	// Client to server, body is types.HandshakeMessage.
	HandshakeFrame

	// Server to client, body is HandshakeAccepted.
	HandshakeAcceptedFrame

	// Server to client, body is AckBody.
	AckFrame

	// Server to client, body is ResultBody.
	ResultFrame

	// Server to client, body is ServerMessageBody.
	ServerMessageFrame

	// Server to client, body is TransactionMessageBody.
	TransactionMessageFrame
)

var ErrUnknownFrame = errors.New("unknown frame kind")

type HandshakeAccepted struct {
	Client types.ClientID
}

type AckBody struct {
	TransactionID types.TransactionID
	Ack           types.Ack
}

// ResultBody carries either a value or an exception. HasValue tells
// an empty value from no value.
type ResultBody struct {
	TransactionID types.TransactionID
	Value         []byte
	HasValue      bool
	Exception     *types.EntityException
}

type ServerMessageBody struct {
	Descriptor types.EntityDescriptor
	Data       []byte
}

type TransactionMessageBody struct {
	TransactionID types.TransactionID
	Data          []byte
}

// NewResult creates the result frame body for a value or an error.
// Errors that are not entity exceptions travel as uncaught server
// exceptions.
func NewResult(id types.TransactionID, value []byte, err error) *ResultBody {
	body := &ResultBody{TransactionID: id}
	if err == nil {
		body.Value, body.HasValue = value, true
		return body
	}

	var exception *types.EntityException
	if !errors.As(err, &exception) {
		exception = types.NewEntityException(types.ServerUncaught, "", "", err.Error())
	}
	body.Exception = exception
	return body
}

func newBody(kind FrameKind) (interface{}, error) {
	switch kind {
	case RequestFrame:
		return &types.Message{}, nil
	case HandshakeFrame:
		return &types.HandshakeMessage{}, nil
	case HandshakeAcceptedFrame:
		return &HandshakeAccepted{}, nil
	case AckFrame:
		return &AckBody{}, nil
	case ResultFrame:
		return &ResultBody{}, nil
	case ServerMessageFrame:
		return &ServerMessageBody{}, nil
	case TransactionMessageFrame:
		return &TransactionMessageBody{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrame, kind)
	}
}

// FrameWriter writes frames on a stream.
type FrameWriter struct {
	w   *bufio.Writer
	enc *codec.Encoder
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	buffered := bufio.NewWriter(w)
	return &FrameWriter{
		w:   buffered,
		enc: codec.NewEncoder(buffered, &codec.MsgpackHandle{}),
	}
}

// Write encodes and flushes a single frame.
func (f *FrameWriter) Write(kind FrameKind, body interface{}) error {
	if err := f.w.WriteByte(byte(kind)); err != nil {
		return err
	}

	if err := f.enc.Encode(body); err != nil {
		return err
	}

	return f.w.Flush()
}

// FrameReader reads frames from a stream.
type FrameReader struct {
	r   *bufio.Reader
	dec *codec.Decoder
}

func NewFrameReader(r io.Reader) *FrameReader {
	buffered := bufio.NewReader(r)
	return &FrameReader{
		r:   buffered,
		dec: codec.NewDecoder(buffered, &codec.MsgpackHandle{}),
	}
}

// Read decodes the next frame, the body is a pointer to the
// structure of the frame kind.
func (f *FrameReader) Read() (FrameKind, interface{}, error) {
	b, err := f.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	kind := FrameKind(b)
	body, err := newBody(kind)
	if err != nil {
		return kind, nil, err
	}

	if err := f.dec.Decode(body); err != nil {
		return kind, nil, err
	}
	return kind, body, nil
}

// EncodeFrame encodes a frame into a single buffer, used by
// message oriented channels.
func EncodeFrame(kind FrameKind, body interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(kind))
	if err := codec.NewEncoder(&buf, &codec.MsgpackHandle{}).Encode(body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeFrame(data []byte) (FrameKind, interface{}, error) {
	if len(data) == 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}

	kind := FrameKind(data[0])
	body, err := newBody(kind)
	if err != nil {
		return kind, nil, err
	}

	if err := codec.NewDecoderBytes(data[1:], &codec.MsgpackHandle{}).Decode(body); err != nil {
		return kind, nil, err
	}
	return kind, body, nil
}

// Dispatches a server frame to the handler.
func dispatch(handler core.ResponseHandler, kind FrameKind, body interface{}) error {
	switch kind {
	case AckFrame:
		ack := body.(*AckBody)
		switch ack.Ack {
		case types.Sent:
			handler.Sent(ack.TransactionID)
		case types.Received:
			handler.Received(ack.TransactionID)
		case types.Retired:
			handler.Retired(ack.TransactionID)
		default:
			return fmt.Errorf("unexpected ack %s for transaction %d", ack.Ack, ack.TransactionID)
		}
	case ResultFrame:
		result := body.(*ResultBody)
		var err error
		var value []byte
		if result.Exception != nil {
			err = result.Exception
		} else if result.HasValue {
			value = result.Value
			if value == nil {
				value = []byte{}
			}
		}
		handler.SetResult(result.TransactionID, value, err)
	case ServerMessageFrame:
		message := body.(*ServerMessageBody)
		handler.HandleMessage(message.Descriptor, message.Data)
	case TransactionMessageFrame:
		message := body.(*TransactionMessageBody)
		handler.HandleTransactionMessage(message.TransactionID, message.Data)
	default:
		return fmt.Errorf("%w: %d not expected by the client", ErrUnknownFrame, kind)
	}
	return nil
}
