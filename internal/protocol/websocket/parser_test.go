package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/titan-gateway/titan/internal/domain"
)

func TestAcceptKey_KnownVector(t *testing.T) {
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got)
}

func buildMaskedFrame(opcode Opcode, payload []byte, key [4]byte) []byte {
	masked := append([]byte(nil), payload...)
	Mask(masked, key)

	var buf []byte
	buf = append(buf, 0x80|byte(opcode))
	length := len(payload)
	switch {
	case length < 126:
		buf = append(buf, 0x80|byte(length))
	case length <= 0xFFFF:
		buf = append(buf, 0x80|126, byte(length>>8), byte(length))
	default:
		panic("test helper doesn't support 64-bit lengths")
	}
	buf = append(buf, key[:]...)
	buf = append(buf, masked...)
	return buf
}

func TestParser_TextFrame(t *testing.T) {
	p := New(true)
	frame := buildMaskedFrame(OpText, []byte("hello"), [4]byte{1, 2, 3, 4})

	res, consumed, f, err := p.Feed(frame)
	require.NoError(t, err)
	require.Equal(t, Complete, res)
	assert.Equal(t, len(frame), consumed)
	assert.Equal(t, []byte("hello"), f.Payload)
	assert.True(t, f.FIN)
}

func TestParser_IncompletePayload(t *testing.T) {
	p := New(true)
	frame := buildMaskedFrame(OpText, []byte("hello world"), [4]byte{9, 9, 9, 9})

	res, _, _, err := p.Feed(frame[:len(frame)-3])
	require.NoError(t, err)
	assert.Equal(t, Incomplete, res)

	res2, consumed2, f2, err2 := p.Feed(frame)
	require.NoError(t, err2)
	require.Equal(t, Complete, res2)
	assert.Equal(t, len(frame), consumed2)
	assert.Equal(t, "hello world", string(f2.Payload))
}

func TestParser_UnmaskedClientFrameRejected(t *testing.T) {
	p := New(true)
	frame := []byte{0x81, 0x05, 'h', 'e', 'l', 'l', 'o'} // FIN+text, not masked
	_, _, _, err := p.Feed(frame)
	require.Error(t, err)
}

func TestParser_FragmentedControlFrameRejected(t *testing.T) {
	p := New(true)
	frame := []byte{0x08, 0x80, 0, 0, 0, 0} // opcode=close, FIN=0, masked, empty payload
	_, _, _, err := p.Feed(frame)
	require.Error(t, err)
}

func TestParser_ReservedBitsRejected(t *testing.T) {
	p := New(true)
	frame := []byte{0xF1, 0x80, 0, 0, 0, 0}
	_, _, _, err := p.Feed(frame)
	require.Error(t, err)
}

func TestParser_ControlPayloadTooLarge(t *testing.T) {
	p := New(true)
	payload := make([]byte, 126)
	frame := buildMaskedFrame(OpPing, payload, [4]byte{1, 1, 1, 1})
	_, _, _, err := p.Feed(frame)
	require.Error(t, err)
}

func TestParser_ExtendedLength16(t *testing.T) {
	p := New(true)
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := buildMaskedFrame(OpBinary, payload, [4]byte{5, 6, 7, 8})

	res, consumed, f, err := p.Feed(frame)
	require.NoError(t, err)
	require.Equal(t, Complete, res)
	assert.Equal(t, len(frame), consumed)
	assert.Equal(t, payload, f.Payload)
}

func TestIsUpgradeRequest(t *testing.T) {
	req := &domain.Request{}
	req.Headers.Set("Upgrade", "websocket")
	req.Headers.Set("Connection", "Upgrade")
	req.Headers.Set("Sec-WebSocket-Version", "13")
	req.Headers.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	assert.True(t, IsUpgradeRequest(req))
}
