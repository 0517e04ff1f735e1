// Package devtools provides a pool.ConnectionFactory for a browser
// remote-debugging endpoint. Targets are discovered over the endpoint's
// HTTP interface and each pooled connection holds one websocket to a
// dedicated target.
package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stackmesh/browserpool/pkg/config"
	"github.com/stackmesh/browserpool/pkg/errors"
	"github.com/stackmesh/browserpool/pkg/logging"
	"github.com/stackmesh/browserpool/pkg/pool"
)

// targetInfo is the subset of the /json/new response the factory needs.
type targetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// VersionInfo is the /json/version response.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Conn is one live remote-debugging connection: a websocket to a
// dedicated browser target. It satisfies pool.Connection as an opaque
// handle; only this package's Factory knows how to probe and close it.
type Conn struct {
	targetID string
	wsURL    string

	mu sync.Mutex
	ws *websocket.Conn
	// next id for protocol commands sent over this socket
	seq int64
}

// TargetID returns the browser target backing this connection.
func (c *Conn) TargetID() string { return c.targetID }

// Send issues one protocol command and waits for the matching reply.
// Callers are serialized; the remote-debugging protocol multiplexes
// replies by id on a single socket.
func (c *Conn) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	id := c.seq

	req := map[string]interface{}{"id": id, "method": method}
	if params != nil {
		req["params"] = params
	}

	// a deadline from an earlier call must not leak into this one
	deadline, _ := ctx.Deadline()
	_ = c.ws.SetWriteDeadline(deadline)
	_ = c.ws.SetReadDeadline(deadline)

	if err := c.ws.WriteJSON(req); err != nil {
		return nil, errors.NewProtocolError(fmt.Sprintf("write %s", method)).WithCause(err)
	}

	// skip interleaved events until our reply arrives
	for {
		var reply struct {
			ID     int64           `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := c.ws.ReadJSON(&reply); err != nil {
			return nil, errors.NewProtocolError(fmt.Sprintf("read %s reply", method)).WithCause(err)
		}
		if reply.ID != id {
			continue
		}
		if reply.Error != nil {
			return nil, errors.NewProtocolError(fmt.Sprintf("%s: %s (%d)", method, reply.Error.Message, reply.Error.Code))
		}
		return reply.Result, nil
	}
}

// Factory creates pooled connections against one remote-debugging
// endpoint. Implements pool.ConnectionFactory.
type Factory struct {
	endpoint    string
	dialTimeout time.Duration
	pingTimeout time.Duration
	httpClient  *http.Client
	dialer      *websocket.Dialer
	logger      *logging.Logger
}

// NewFactory creates a factory for the configured endpoint.
func NewFactory(cfg config.DevToolsConfig) *Factory {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 3 * time.Second
	}

	return &Factory{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		dialTimeout: dialTimeout,
		pingTimeout: pingTimeout,
		httpClient:  &http.Client{Timeout: dialTimeout},
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
		logger: logging.GetLogger(),
	}
}

// Create opens a fresh browser target and dials its debugger socket.
func (f *Factory) Create(ctx context.Context) (pool.Connection, error) {
	// /json/version doubles as an endpoint reachability probe
	if _, err := f.Version(ctx); err != nil {
		return nil, err
	}

	target, err := f.newTarget(ctx)
	if err != nil {
		return nil, err
	}

	ws, _, err := f.dialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		f.closeTarget(ctx, target.ID)
		return nil, errors.NewConnectionCreationError(
			fmt.Sprintf("websocket dial failed for target %s", target.ID)).WithCause(err)
	}

	f.logger.LogPoolEvent("devtools_connected", target.ID, map[string]interface{}{
		"ws_url": target.WebSocketDebuggerURL,
	})

	return &Conn{
		targetID: target.ID,
		wsURL:    target.WebSocketDebuggerURL,
		ws:       ws,
	}, nil
}

// IsAlive probes the websocket with a control ping.
func (f *Factory) IsAlive(conn pool.Connection) bool {
	c, ok := conn.(*Conn)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return false
	}
	err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.pingTimeout))
	return err == nil
}

// Dispose closes the websocket and releases the browser target.
func (f *Factory) Dispose(conn pool.Connection) {
	c, ok := conn.(*Conn)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.ws != nil {
		deadline := time.Now().Add(f.pingTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
		c.ws = nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), f.dialTimeout)
	defer cancel()
	f.closeTarget(ctx, c.targetID)

	f.logger.LogPoolEvent("devtools_disposed", c.targetID, nil)
}

// Version fetches /json/version from the endpoint.
func (f *Factory) Version(ctx context.Context) (*VersionInfo, error) {
	var v VersionInfo
	if err := f.getJSON(ctx, http.MethodGet, "/json/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// newTarget asks the endpoint for a fresh target via /json/new.
func (f *Factory) newTarget(ctx context.Context) (*targetInfo, error) {
	var t targetInfo
	// newer browsers require PUT for /json/new
	if err := f.getJSON(ctx, http.MethodPut, "/json/new", &t); err != nil {
		return nil, err
	}
	if t.WebSocketDebuggerURL == "" {
		return nil, errors.NewConnectionCreationError("target has no websocket debugger URL")
	}
	return &t, nil
}

// closeTarget releases a target; best effort during disposal.
func (f *Factory) closeTarget(ctx context.Context, targetID string) {
	if targetID == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"/json/close/"+targetID, nil)
	if err != nil {
		return
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("Failed to close browser target",
			"target_id", targetID,
			"error", err.Error(),
		)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (f *Factory) getJSON(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, f.endpoint+path, nil)
	if err != nil {
		return errors.NewConnectionCreationError("building discovery request").WithCause(err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return errors.NewConnectionCreationError(
			fmt.Sprintf("endpoint discovery %s failed", path)).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.NewConnectionCreationError(
			fmt.Sprintf("endpoint discovery %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewConnectionCreationError(
			fmt.Sprintf("decoding %s response", path)).WithCause(err)
	}
	return nil
}
