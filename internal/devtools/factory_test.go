package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/browserpool/pkg/config"
	"github.com/stackmesh/browserpool/pkg/errors"
)

// fakeEndpoint emulates the remote-debugging HTTP surface plus one
// websocket target per /json/new call.
type fakeEndpoint struct {
	srv       *httptest.Server
	upgrader  websocket.Upgrader
	targets   atomic.Int64
	closed    atomic.Int64
	refuseNew atomic.Bool
}

func newFakeEndpoint(t *testing.T) *fakeEndpoint {
	t.Helper()
	fe := &fakeEndpoint{}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"Browser":          "FakeBrowser/1.0",
			"Protocol-Version": "1.3",
		})
	})
	mux.HandleFunc("/json/new", func(w http.ResponseWriter, r *http.Request) {
		if fe.refuseNew.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		id := fmt.Sprintf("target-%d", fe.targets.Add(1))
		wsURL := "ws" + strings.TrimPrefix(fe.srv.URL, "http") + "/devtools/page/" + id
		json.NewEncoder(w).Encode(map[string]string{
			"id":                   id,
			"type":                 "page",
			"webSocketDebuggerUrl": wsURL,
		})
	})
	mux.HandleFunc("/json/close/", func(w http.ResponseWriter, r *http.Request) {
		fe.closed.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/devtools/page/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := fe.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// echo protocol replies keyed by request id
		for {
			var req struct {
				ID     int64           `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			reply := map[string]interface{}{
				"id":     req.ID,
				"result": map[string]string{"method": req.Method},
			}
			if err := ws.WriteJSON(reply); err != nil {
				return
			}
		}
	})

	fe.srv = httptest.NewServer(mux)
	t.Cleanup(fe.srv.Close)
	return fe
}

func (fe *fakeEndpoint) factory() *Factory {
	return NewFactory(config.DevToolsConfig{
		Endpoint:    fe.srv.URL,
		DialTimeout: 2 * time.Second,
		PingTimeout: time.Second,
	})
}

func TestCreateDialsFreshTarget(t *testing.T) {
	fe := newFakeEndpoint(t)
	f := fe.factory()

	conn, err := f.Create(context.Background())
	require.NoError(t, err)

	c := conn.(*Conn)
	assert.Equal(t, "target-1", c.TargetID())
	assert.True(t, f.IsAlive(conn))

	f.Dispose(conn)
	assert.False(t, f.IsAlive(conn))
	assert.Equal(t, int64(1), fe.closed.Load())
}

func TestCreateFailsWhenEndpointRefuses(t *testing.T) {
	fe := newFakeEndpoint(t)
	fe.refuseNew.Store(true)
	f := fe.factory()

	_, err := f.Create(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectionCreation))
}

func TestCreateFailsWhenEndpointUnreachable(t *testing.T) {
	f := NewFactory(config.DevToolsConfig{
		Endpoint:    "http://127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	})

	_, err := f.Create(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnectionCreation))
}

func TestSendRoundTrip(t *testing.T) {
	fe := newFakeEndpoint(t)
	f := fe.factory()

	conn, err := f.Create(context.Background())
	require.NoError(t, err)
	defer f.Dispose(conn)

	c := conn.(*Conn)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.Send(ctx, "Page.navigate", map[string]string{"url": "about:blank"})
	require.NoError(t, err)

	var echoed map[string]string
	require.NoError(t, json.Unmarshal(result, &echoed))
	assert.Equal(t, "Page.navigate", echoed["method"])
}

func TestSendDoesNotInheritEarlierDeadline(t *testing.T) {
	fe := newFakeEndpoint(t)
	f := fe.factory()

	conn, err := f.Create(context.Background())
	require.NoError(t, err)
	defer f.Dispose(conn)

	c := conn.(*Conn)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	_, err = c.Send(ctx, "Runtime.enable", nil)
	cancel()
	require.NoError(t, err)

	// wait for the first call's deadline to pass, then send without one
	time.Sleep(150 * time.Millisecond)

	_, err = c.Send(context.Background(), "Page.enable", nil)
	require.NoError(t, err)
}

func TestVersionProbe(t *testing.T) {
	fe := newFakeEndpoint(t)
	f := fe.factory()

	v, err := f.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FakeBrowser/1.0", v.Browser)
}

func TestIsAliveRejectsForeignHandle(t *testing.T) {
	fe := newFakeEndpoint(t)
	f := fe.factory()

	assert.False(t, f.IsAlive("not-a-devtools-conn"))
	assert.NotPanics(t, func() { f.Dispose("not-a-devtools-conn") })
}
