package viewport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/handshake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simOrigin = "https://sim.exstem.local"

func newTestHost(t *testing.T, allowed ...string) (*Host, *httptest.Server, chan string) {
	t.Helper()
	host := NewHost(Config{URL: "https://sim.exstem.local/viewer", AllowedOrigins: allowed}, zerolog.Nop())
	loaded := make(chan string, 4)
	host.OnLoaded(func(token string) { loaded <- token })
	srv := httptest.NewServer(host)
	t.Cleanup(func() {
		host.Close()
		srv.Close()
	})
	return host, srv, loaded
}

func dial(t *testing.T, srv *httptest.Server, token, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?v=" + token
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func waitLoaded(t *testing.T, loaded <-chan string) string {
	t.Helper()
	select {
	case tok := <-loaded:
		return tok
	case <-time.After(2 * time.Second):
		t.Fatal("viewport never reported load-complete")
		return ""
	}
}

func TestHost_RoundTrip(t *testing.T) {
	host, srv, loaded := newTestHost(t, simOrigin)

	require.NoError(t, host.Load("a1"))
	conn, _, err := dial(t, srv, "a1", simOrigin)
	require.NoError(t, err)
	assert.Equal(t, "a1", waitLoaded(t, loaded))

	require.NoError(t, host.Post(handshake.Message{Type: handshake.TypePing}, simOrigin))
	var got handshake.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, handshake.TypePing, got.Type)

	require.NoError(t, conn.WriteJSON(handshake.Message{Type: handshake.TypeInstanceReady}))
	select {
	case in := <-host.Inbound():
		assert.Equal(t, simOrigin, in.Origin)
		assert.Equal(t, "a1", in.Token)
		assert.Equal(t, handshake.TypeInstanceReady, in.Message.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}
}

func TestHost_RefusesStaleToken(t *testing.T) {
	host, srv, _ := newTestHost(t, simOrigin)
	require.NoError(t, host.Load("fresh"))

	_, resp, err := dial(t, srv, "old", simOrigin)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHost_RejectsDisallowedOriginAtUpgrade(t *testing.T) {
	_, srv, _ := newTestHost(t, simOrigin)

	_, resp, err := dial(t, srv, "", "https://attacker.example")

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHost_PostDropsOtherTargetOrigins(t *testing.T) {
	host, srv, loaded := newTestHost(t)
	_, _, err := dial(t, srv, "", simOrigin)
	require.NoError(t, err)
	waitLoaded(t, loaded)

	err = host.Post(handshake.Message{Type: handshake.TypeSimulationData}, "https://elsewhere.example")
	assert.ErrorIs(t, err, ErrOriginMismatch)
}

func TestHost_PostWithoutInstance(t *testing.T) {
	host, _, _ := newTestHost(t, simOrigin)
	assert.ErrorIs(t, host.Post(handshake.Message{Type: handshake.TypePing}, simOrigin), ErrNotConnected)
}

func TestHost_LoadDropsPreviousInstance(t *testing.T) {
	host, srv, loaded := newTestHost(t, simOrigin)
	old, _, err := dial(t, srv, "", simOrigin)
	require.NoError(t, err)
	waitLoaded(t, loaded)

	require.NoError(t, host.Load("r2"))
	assert.ErrorIs(t, host.Post(handshake.Message{Type: handshake.TypePing}, simOrigin), ErrNotConnected)

	require.NoError(t, old.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = old.ReadMessage()
	assert.Error(t, err, "the old instance is disconnected")
}

func TestHost_LoadURL(t *testing.T) {
	host := NewHost(Config{URL: "https://sim.exstem.local/viewer?lang=vi"}, zerolog.Nop())

	assert.Equal(t, "https://sim.exstem.local/viewer?lang=vi", host.LoadURL(""))
	assert.Equal(t, "https://sim.exstem.local/viewer?lang=vi&v=abc", host.LoadURL("abc"))
}
