package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"xficredit/core/events"
	"xficredit/core/types"
)

func TestHubDeliversClones(t *testing.T) {
	hub := NewHub(nil)
	ch, _, cancel := hub.Subscribe()
	defer cancel()
	require.Equal(t, 1, hub.Subscribers())

	hub.Emit(events.TokenAllowedChanged{Token: "XFI", Allowed: true})
	select {
	case evt := <-ch:
		require.Equal(t, events.TypeTokenAllowedChanged, evt.Type)
		require.Equal(t, "XFI", evt.Attr("token"))
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	require.Equal(t, 0, hub.Subscribers())
}

func TestHubEvictsSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	_, evicted, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i <= streamBuffer; i++ {
		hub.Emit(events.TokenAllowedChanged{Token: "XFI", Allowed: i%2 == 0})
	}
	select {
	case <-evicted:
	default:
		t.Fatal("slow subscriber should be evicted")
	}
	require.Equal(t, 0, hub.Subscribers())
	// Emitting with nothing subscribed is a no-op.
	hub.Emit(events.TokenAllowedChanged{Token: "XFI"})
}

func TestStreamOverWebsocket(t *testing.T) {
	h := newHarness(t, nil)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+h.token(h.user))
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, h.ledgers.Registry.Allow(h.owner, "BTC"))

	var evt types.Event
	require.NoError(t, wsjson.Read(ctx, conn, &evt))
	require.Equal(t, events.TypeTokenAllowedChanged, evt.Type)
	require.Equal(t, "BTC", evt.Attr("token"))
}
