package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannelServer(t *testing.T, ch *Channel) (wsURL string, teardown func()) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, ch.Upgrade(w, r))
	}))
	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/@devkit/hmr"
	return wsURL, srv.Close
}

func dial(t *testing.T, url string) *websocket.Conn {
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return c
}

func readMessage(t *testing.T, c *websocket.Conn) wireMessage {
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var msg wireMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestChannelSendsConnectedOnUpgrade(t *testing.T) {
	ch := NewChannel()
	url, teardown := newTestChannelServer(t, ch)
	defer teardown()

	c := dial(t, url)
	defer c.Close()

	msg := readMessage(t, c)
	assert.Equal(t, "connected", msg.Type)
}

func TestChannelBroadcastsUpdateToAllClients(t *testing.T) {
	ch := NewChannel()
	url, teardown := newTestChannelServer(t, ch)
	defer teardown()

	c1 := dial(t, url)
	defer c1.Close()
	c2 := dial(t, url)
	defer c2.Close()

	readMessage(t, c1) // connected
	readMessage(t, c2) // connected

	ch.SendUpdate([]HmrUpdate{{Kind: UpdateJS, Path: "/src/a.js", AcceptedPath: "/src/a.js", Timestamp: 1}})

	for _, c := range []*websocket.Conn{c1, c2} {
		msg := readMessage(t, c)
		assert.Equal(t, "update", msg.Type)
		var payload updatePayload
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		require.Len(t, payload.Updates, 1)
		assert.Equal(t, "/src/a.js", payload.Updates[0].Path)
	}
}

func TestChannelSendFullReload(t *testing.T) {
	ch := NewChannel()
	url, teardown := newTestChannelServer(t, ch)
	defer teardown()

	c := dial(t, url)
	defer c.Close()
	readMessage(t, c) // connected

	ch.SendFullReload("/index.html")

	msg := readMessage(t, c)
	assert.Equal(t, "full-reload", msg.Type)
	var payload fullReloadPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "/index.html", payload.Path)
}

func TestChannelSendUpdateSkipsWhenEmpty(t *testing.T) {
	ch := NewChannel()
	url, teardown := newTestChannelServer(t, ch)
	defer teardown()

	c := dial(t, url)
	defer c.Close()
	readMessage(t, c) // connected

	ch.SendUpdate(nil)
	ch.SendFullReload("/after-empty")

	msg := readMessage(t, c)
	assert.Equal(t, "full-reload", msg.Type, "an empty update batch must not produce a wire message")
}

func TestChannelCustomEventDispatch(t *testing.T) {
	ch := NewChannel()
	url, teardown := newTestChannelServer(t, ch)
	defer teardown()

	received := make(chan string, 1)
	ch.On("app:ping", func(data json.RawMessage) {
		received <- string(data)
	})

	c := dial(t, url)
	defer c.Close()
	readMessage(t, c) // connected

	payload, _ := json.Marshal(customPayload{Event: "app:ping", Data: json.RawMessage(`{"n":1}`)})
	envelope, _ := json.Marshal(wireMessage{Type: "custom", Payload: payload})
	require.NoError(t, c.WriteMessage(websocket.TextMessage, envelope))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"n":1}`, data)
	case <-time.After(2 * time.Second):
		t.Fatal("custom event listener was never invoked")
	}
}

func TestChannelBuffersErrorSentBeforeAnyClientConnects(t *testing.T) {
	ch := NewChannel()
	ch.SendError("transform failed", "")

	url, teardown := newTestChannelServer(t, ch)
	defer teardown()

	c := dial(t, url)
	defer c.Close()

	readMessage(t, c) // connected
	msg := readMessage(t, c)
	assert.Equal(t, "error", msg.Type, "an error sent before any client connected must be flushed to the first connection")
	var payload errorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "transform failed", payload.Message)

	ch2 := NewChannel()
	url2, teardown2 := newTestChannelServer(t, ch2)
	defer teardown2()
	c1 := dial(t, url2)
	defer c1.Close()
	readMessage(t, c1) // connected

	ch2.SendError("second error", "")
	readMessage(t, c1) // the already-connected client gets it immediately, not buffered

	c2 := dial(t, url2)
	defer c2.Close()
	readMessage(t, c2) // connected

	ch2.SendError("third error", "")
	third := readMessage(t, c2)
	assert.Equal(t, "error", third.Type)
}

func TestChannelCloseDisconnectsClients(t *testing.T) {
	ch := NewChannel()
	url, teardown := newTestChannelServer(t, ch)
	defer teardown()

	c := dial(t, url)
	defer c.Close()
	readMessage(t, c) // connected

	require.NoError(t, ch.Close())

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	assert.Error(t, err, "the client connection should be closed from the server side")
}
