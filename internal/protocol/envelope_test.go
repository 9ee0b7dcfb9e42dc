package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func envelopeGen() *rapid.Generator[*Envelope] {
	return rapid.Custom(func(t *rapid.T) *Envelope {
		return &Envelope{
			Kind:        Kind(rapid.Uint8().Draw(t, "kind")),
			SenderID:    rapid.String().Draw(t, "sender"),
			TargetID:    rapid.String().Draw(t, "target"),
			TimestampMs: rapid.Int64().Draw(t, "timestamp"),
			Payload:     rapid.String().Draw(t, "payload"),
		}
	})
}

// For any envelope, reading back its encoding yields the same envelope.
func TestFramingRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := envelopeGen().Draw(t, "envelope")

		var buf bytes.Buffer
		require.NoError(t, WriteEnvelope(&buf, env))

		got, err := ReadEnvelope(&buf)
		require.NoError(t, err)
		assert.Equal(t, env, got)
		assert.Zero(t, buf.Len(), "frame must be consumed exactly")
	})
}

// Several frames written back to back are read back in order.
func TestFramingStreamProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		envs := rapid.SliceOfN(envelopeGen(), 1, 8).Draw(t, "envelopes")

		var buf bytes.Buffer
		for _, env := range envs {
			require.NoError(t, WriteEnvelope(&buf, env))
		}
		for _, want := range envs {
			got, err := ReadEnvelope(&buf)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		_, err := ReadEnvelope(&buf)
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestEncode_LittleEndianPrefix(t *testing.T) {
	frame, err := Encode(&Envelope{Kind: KindHeartbeat, TimestampMs: 1})
	require.NoError(t, err)

	length := binary.LittleEndian.Uint32(frame[:4])
	assert.Equal(t, len(frame)-4, int(length))
	assert.JSONEq(t, `{"kind":4,"timestampMs":1}`, string(frame[4:]))
}

func frameWithLength(length uint32, body []byte) []byte {
	frame := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(frame, length)
	return append(frame, body...)
}

func TestReadEnvelope_InvalidLength(t *testing.T) {
	tests := []struct {
		name   string
		length uint32
	}{
		{"zero", 0},
		{"above cap", MaxFrameSize + 1},
		{"negative as int32", 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadEnvelope(bytes.NewReader(frameWithLength(tt.length, []byte("{}"))))
			assert.ErrorIs(t, err, ErrInvalidLength)
		})
	}
}

func TestReadEnvelope_TruncatedBody(t *testing.T) {
	_, err := ReadEnvelope(bytes.NewReader(frameWithLength(100, []byte(`{"kind":4}`))))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadEnvelope_TruncatedHeader(t *testing.T) {
	_, err := ReadEnvelope(bytes.NewReader([]byte{0x01, 0x00}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadEnvelope_DecodeFailure(t *testing.T) {
	bodies := []string{`not json`, `{"kind":"connect"}`, `{"kind":4} trailing`, `[1,2]`}
	for _, body := range bodies {
		_, err := ReadEnvelope(bytes.NewReader(frameWithLength(uint32(len(body)), []byte(body))))
		assert.True(t, errors.Is(err, ErrDecode), "body %q: %v", body, err)
	}
}

func TestEncode_RejectsOversizedEnvelope(t *testing.T) {
	env := &Envelope{Kind: KindFileChunk, Payload: string(bytes.Repeat([]byte("a"), MaxFrameSize))}
	_, err := Encode(env)
	assert.ErrorIs(t, err, ErrInvalidLength)
}
