package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// MaxFrameSize is the largest accepted envelope body in bytes.
const MaxFrameSize = 10_000_000

// headerSize is the length prefix size: a little-endian uint32.
const headerSize = 4

// ServerID is the sender id stamped on every server-originated envelope.
const ServerID = "server"

// Framing and decoding errors.
var (
	// ErrInvalidLength is returned for a length prefix of zero or above MaxFrameSize.
	ErrInvalidLength = errors.New("invalid frame length")
	// ErrDecode is returned when a well-framed body is not a valid envelope or payload.
	ErrDecode = errors.New("failed to decode message")
)

// Envelope is the unit of every exchange. Payload is opaque to the envelope;
// its schema is implied by Kind.
type Envelope struct {
	Kind        Kind   `json:"kind"`
	SenderID    string `json:"senderId,omitempty"`
	TargetID    string `json:"targetId,omitempty"`
	TimestampMs int64  `json:"timestampMs"`
	Payload     string `json:"payload,omitempty"`
}

// NewEnvelope builds a server-originated envelope carrying p, which must be
// the payload type registered for kind.
func NewEnvelope(kind Kind, p Payload) (*Envelope, error) {
	payload, err := encodePayload(kind, p)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Kind:        kind,
		SenderID:    ServerID,
		TimestampMs: time.Now().UnixMilli(),
		Payload:     payload,
	}, nil
}

// MustEnvelope is NewEnvelope for payloads that are statically known to match.
func MustEnvelope(kind Kind, p Payload) *Envelope {
	env, err := NewEnvelope(kind, p)
	if err != nil {
		panic(err)
	}
	return env
}

// Encode returns the framed bytes of env: length prefix followed by the JSON body.
func Encode(env *Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(body))
	}

	frame := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[headerSize:], body)
	return frame, nil
}

// WriteEnvelope frames env and writes it with a single Write call.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	frame, err := Encode(env)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadEnvelope reads exactly one frame from r. The body is fully read before
// decoding is attempted. Any error means the stream can no longer be trusted.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length == 0 || length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &env, nil
}
