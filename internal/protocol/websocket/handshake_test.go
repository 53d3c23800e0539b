package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/titan-gateway/titan/internal/domain"
)

func validUpgradeRequest() *domain.Request {
	req := &domain.Request{Method: "GET", Path: "/ws"}
	req.Headers.Set("Upgrade", "websocket")
	req.Headers.Set("Connection", "Upgrade")
	req.Headers.Set("Sec-WebSocket-Version", "13")
	req.Headers.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return req
}

func TestAccept_Success(t *testing.T) {
	resp, err := Accept(validUpgradeRequest())
	require.NoError(t, err)
	assert.Equal(t, 101, resp.StatusCode)

	accept, ok := resp.Headers.Get("Sec-WebSocket-Accept")
	require.True(t, ok)
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", accept)

	upgrade, _ := resp.Headers.Get("Upgrade")
	assert.Equal(t, "websocket", upgrade)
}

func TestAccept_MissingUpgradeHeader(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Del("Upgrade")
	_, err := Accept(req)
	require.Error(t, err)
	var badHandshake *ErrBadHandshake
	assert.ErrorAs(t, err, &badHandshake)
}

func TestAccept_WrongVersion(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Set("Sec-WebSocket-Version", "8")
	_, err := Accept(req)
	require.Error(t, err)
}

func TestAccept_ConnectionHeaderIsTokenList(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Set("Connection", "keep-alive, Upgrade")
	_, err := Accept(req)
	require.NoError(t, err)
}

func TestAccept_BadKeyLength(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Set("Sec-WebSocket-Key", "dG9vc2hvcnQ=") // decodes to fewer than 16 bytes
	_, err := Accept(req)
	require.Error(t, err)
}

func TestAccept_KeyNotBase64(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Set("Sec-WebSocket-Key", "not-valid-base64!!")
	_, err := Accept(req)
	require.Error(t, err)
}

func TestIsUpgradeRequest_MissingKey(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Del("Sec-WebSocket-Key")
	assert.False(t, IsUpgradeRequest(req))
}

func TestContainsToken(t *testing.T) {
	assert.True(t, containsToken("keep-alive, Upgrade", "upgrade"))
	assert.True(t, containsToken("Upgrade", "upgrade"))
	assert.False(t, containsToken("keep-alive", "upgrade"))
}
