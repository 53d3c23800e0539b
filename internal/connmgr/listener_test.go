package connmgr

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/titan-gateway/titan/internal/config"
)

// fakeHTTPBackend starts a tiny listener that replies with a fixed HTTP/1.1
// response, standing in for a real upstream backend.
func fakeHTTPBackend(t *testing.T, body string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				for {
					line, err := br.ReadString('\n')
					if err != nil || line == "\r\n" {
						break
					}
				}
				resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
				c.Write([]byte(resp))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

// startGatewayWithConfig writes cfgJSON (already formatted by the caller) to
// a temp file, loads it through the same config.Manager path titand/main.go
// uses, and boots a Server on an ephemeral port.
func startGatewayWithConfig(t *testing.T, cfgJSON string) *Server {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "titan.json")
	require.NoError(t, os.WriteFile(path, []byte(cfgJSON), 0o644))

	manager := config.NewManager(nil)
	require.NoError(t, manager.Load(path))

	srv := NewServer(manager, nil, nil)
	go srv.ListenAndServe("127.0.0.1:0", manager.Get().Config.Server)
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, time.Millisecond)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	return srv
}

func TestServeHTTP1_SimpleGET(t *testing.T) {
	backendAddr := fakeHTTPBackend(t, "OK")
	host, port, err := net.SplitHostPort(backendAddr)
	require.NoError(t, err)

	cfgJSON := fmt.Sprintf(`{
		"server": {"listen_addr": "127.0.0.1", "port": 8080},
		"upstreams": [{"name": "u", "policy": "round_robin", "backends": [{"host": %q, "port": %s}]}],
		"routes": [{"path": "/hello", "method": "GET", "upstream": "u", "middleware": ["proxy"]}]
	}`, host, port)
	srv := startGatewayWithConfig(t, cfgJSON)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)
	require.Equal(t, "keep-alive", resp.Header.Get("Connection"))
	buf := make([]byte, 2)
	n, _ := resp.Body.Read(buf)
	require.Equal(t, "OK", string(buf[:n]))
}

func TestServeHTTP1_NoRouteMatch(t *testing.T) {
	cfgJSON := `{
		"server": {"listen_addr": "127.0.0.1", "port": 8080},
		"upstreams": [],
		"routes": []
	}`
	srv := startGatewayWithConfig(t, cfgJSON)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /missing HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 400, resp.StatusCode)
}

// TestWebSocketTunnel drives a real upgrade handshake and a full duplex
// frame exchange through tunnelWebSocket, using gorilla/websocket on both
// ends of the gateway (client and fake backend) as an independent reference
// implementation against our hand-rolled frame parser/writer in
// internal/protocol/websocket (spec §4.4 "Tunnel semantics").
func TestWebSocketTunnel(t *testing.T) {
	upgrader := gorillaws.Upgrader{}
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { backendLn.Close() })

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		mt, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		_ = c.WriteMessage(mt, append([]byte("echo:"), msg...))
	})
	go http.Serve(backendLn, mux)

	host, port, err := net.SplitHostPort(backendLn.Addr().String())
	require.NoError(t, err)

	cfgJSON := fmt.Sprintf(`{
		"server": {"listen_addr": "127.0.0.1", "port": 8080},
		"upstreams": [{"name": "u", "policy": "round_robin", "backends": [{"host": %q, "port": %s}]}],
		"routes": [{"path": "/ws", "method": "GET", "upstream": "u", "middleware": ["proxy"]}]
	}`, host, port)
	srv := startGatewayWithConfig(t, cfgJSON)

	wsURL := fmt.Sprintf("ws://%s/ws", srv.Addr().String())
	client, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(gorillaws.TextMessage, []byte("hi")))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, gorillaws.TextMessage, mt)
	require.Equal(t, "echo:hi", string(msg))
}
