// SPDX-License-Identifier: MIT

package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConnPair upgrades a loopback connection and returns the server side
// wrapped in a WSConn plus the raw client side as the peer.
func newConnPair(t *testing.T) (*WSConn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			serverCh <- nil
			return
		}
		serverCh <- ws
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ws := <-serverCh
	require.NotNil(t, ws, "server side upgrade failed")

	conn := NewWSConn(ws, nil)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func TestWSConn_SendDeliversJSON(t *testing.T) {
	conn, client := newConnPair(t)

	require.NoError(t, conn.Send(map[string]any{"action": "heartbeat", "requestId": "hb-1", "success": true}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "heartbeat", env["action"])
	assert.Equal(t, true, env["success"])
}

func TestWSConn_ReadFrameReturnsClientFrames(t *testing.T) {
	conn, client := newConnPair(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"action": "search", "query": "sunset"}`)))

	data, err := conn.ReadFrame()
	require.NoError(t, err)
	f, err := ParseFrame(data)
	require.NoError(t, err)
	assert.Equal(t, "search", f.Action)
	assert.Equal(t, "sunset", f.Query)
}

func TestWSConn_CloseFailsPendingSend(t *testing.T) {
	conn, _ := newConnPair(t)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(map[string]any{"action": "heartbeat"}), ErrConnClosed)
}

func TestWSConn_ConcurrentSendsAreSerialized(t *testing.T) {
	conn, client := newConnPair(t)

	const frames = 20
	var wg sync.WaitGroup
	for i := 0; i < frames; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, conn.Send(map[string]any{"requestId": fmt.Sprintf("r-%d", i)}))
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < frames; i++ {
		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		var env map[string]any
		require.NoError(t, json.Unmarshal(data, &env))
		seen[env["requestId"].(string)] = true
	}
	assert.Len(t, seen, frames)
}

func TestWSConn_PeerCloseFailsRead(t *testing.T) {
	conn, client := newConnPair(t)

	require.NoError(t, client.Close())

	_, err := conn.ReadFrame()
	assert.Error(t, err)
}
