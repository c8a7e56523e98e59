package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeServerConnectionRecordsSends(t *testing.T) {
	t.Parallel()
	fake := &FakeServerConnection{
		SendFunc: func(req Request) (*Response, error) {
			return &Response{Epoch: req.Epoch}, nil
		},
	}

	resp, err := fake.Send(context.Background(), Request{Chunk: ChunkPayload{Data: []byte{1, 2}}, Epoch: 3})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, uint64(3), resp.Epoch)
	assert.Len(t, fake.Sent, 1)
}

func TestFakeServerConnectionSignalsConnectivityLost(t *testing.T) {
	t.Parallel()
	fake := &FakeServerConnection{}
	resp, err := fake.Send(context.Background(), Request{})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestWebSocketConnectionRoundTrip(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req Request
		require.NoError(t, conn.ReadJSON(&req))
		require.NoError(t, conn.WriteJSON(Response{Epoch: req.Epoch, Chunk: &ChunkPayload{Data: []byte("ok"), Length: 2, End: 2}}))
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := conn.Send(context.Background(), Request{Chunk: ChunkPayload{Data: []byte{1}}, Epoch: 7})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, uint64(7), resp.Epoch)
	require.NotNil(t, resp.Chunk)
	assert.Equal(t, []byte("ok"), resp.Chunk.Data)
}
