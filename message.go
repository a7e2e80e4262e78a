package overlay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"
)

// frameKind distinguishes the three message shapes the wire protocol
// carries over a bidirectional, length-framed stream.
type frameKind byte

const (
	frameCall frameKind = iota + 1
	frameReply
	frameError
)

// callFrame is Call(requestId, methodName, args).
type callFrame struct {
	RequestID string  `json:"request_id"`
	Method    string  `json:"method"`
	Args      []Value `json:"args"`
}

// replyFrame is Reply(requestId, value).
type replyFrame struct {
	RequestID string `json:"request_id"`
	Value     Value  `json:"value"`
}

// errorKind names the error kinds carried by an Error frame.
type errorKind string

const (
	errKindTransport      errorKind = "TransportError"
	errKindRemoteMethod   errorKind = "RemoteMethodError"
	errKindUnknownMethod  errorKind = "UnknownMethod"
	errKindUnknownType    errorKind = "UnknownType"
	errKindStopped        errorKind = "Stopped"
	errKindMissingRs      errorKind = "MissingRs"
)

// errorFrame is Error(requestId, kind, message).
type errorFrame struct {
	RequestID string    `json:"request_id"`
	Kind      errorKind `json:"kind"`
	Message   string    `json:"message"`
}

// envelope is the outermost shape written to the wire: a kind tag plus
// the kind-specific payload, so a reader can dispatch on Kind before
// unmarshalling Payload into the right frame type.
type envelope struct {
	Kind    frameKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func newRequestID() string {
	return uuid.NewString()
}

// writeFrame writes a 4-byte big-endian length prefix followed by the
// JSON-encoded envelope, so a single connection can carry many
// back-to-back messages without either side needing to guess where one
// message ends and the next begins.
func writeFrame(w io.Writer, kind frameKind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := envelope{Kind: kind, Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// maxFrameSize bounds a single frame so a misbehaving or hostile peer
// cannot force an unbounded allocation via a crafted length prefix.
const maxFrameSize = 16 << 20

// readFrame reads one length-framed envelope from r.
func readFrame(r io.Reader) (envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return envelope{}, errors.New("overlay: frame exceeds maximum size")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func writeCall(w io.Writer, f callFrame) error   { return writeFrame(w, frameCall, f) }
func writeReply(w io.Writer, f replyFrame) error { return writeFrame(w, frameReply, f) }
func writeError(w io.Writer, f errorFrame) error { return writeFrame(w, frameError, f) }
