package ingest

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/framecap/internal/constants"
	"github.com/udisondev/framecap/internal/protocol"
)

func TestWriteReadMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, KindFrame, FrameBody(protocol.ChannelZone, protocol.DirectionTx, []byte{1, 2, 3})))
	require.NoError(t, WriteMessage(&buf, KindSkipNext))

	// [len=6][kind][ch][dir][1 2 3]
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(buf.Bytes()))

	readBuf := make([]byte, 64)
	kind, body, err := ReadMessage(&buf, readBuf)
	require.NoError(t, err)
	assert.Equal(t, KindFrame, kind)

	ch, dir, frame, err := DecodeFrame(body)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChannelZone, ch)
	assert.Equal(t, protocol.DirectionTx, dir)
	assert.Equal(t, []byte{1, 2, 3}, frame)

	kind, body, err = ReadMessage(&buf, readBuf)
	require.NoError(t, err)
	assert.Equal(t, KindSkipNext, kind)
	assert.Empty(t, body)
}

func TestReadMessage_GrowsPastBuffer(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0xAB}, 100)
	require.NoError(t, WriteMessage(&buf, KindResolution, ResolutionBody(77, payload)))

	kind, body, err := ReadMessage(&buf, make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, KindResolution, kind)

	recipient, got, err := DecodeResolution(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(77), recipient)
	assert.Equal(t, payload, got)
}

func TestReadMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short header", []byte{1, 0}},
		{"zero length", []byte{0, 0, 0, 0}},
		{"too long", binary.LittleEndian.AppendUint32(nil, constants.IngestMaxMessageSize+1)},
		{"truncated body", []byte{5, 0, 0, 0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadMessage(bytes.NewReader(tt.data), make([]byte, 16))
			assert.Error(t, err)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, _, _, err := DecodeFrame([]byte{0})
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, _, _, err = DecodeFrame([]byte{9, 0})
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, _, err = DecodeResolution([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = DecodeKeyProbe(make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestKeyProbe_Encode(t *testing.T) {
	k := KeyProbe{Live: [3]byte{1, 2, 3}, CounterA: 0x01020304, CounterB: 5}
	body := k.Encode()
	assert.Equal(t, []byte{1, 2, 3, 4, 3, 2, 1, 5, 0, 0, 0}, body)

	got, err := DecodeKeyProbe(body)
	require.NoError(t, err)
	assert.Equal(t, k, got)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "Resolution", KindResolution.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
