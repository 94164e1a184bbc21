package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRunRegistersAndHeartbeats(t *testing.T) {
	var upgrader websocket.Upgrader
	received := make(chan Info, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var info Info
			if err := conn.ReadJSON(&info); err != nil {
				return
			}
			received <- info
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	registrar := New(wsURL, "gw-1", "Gateway-1", 8000, zerolog.Nop(),
		WithHeartbeatInterval(20*time.Millisecond),
		WithReconnectDelay(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go registrar.Run(ctx)

	first := waitFor(t, received)
	require.Equal(t, "register", first.Type)
	require.Equal(t, "gw-1", first.DeviceID)
	require.Equal(t, 8000, first.Port)

	// A heartbeat should follow within a couple of ticks.
	waitFor(t, received)
}

func waitFor(t *testing.T, ch chan Info) Info {
	t.Helper()
	select {
	case info := <-ch:
		return info
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for registration message")
		return Info{}
	}
}
