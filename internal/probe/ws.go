package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wire frames exchanged with the native probe backend.
type wsRequest struct {
	ID          uint64          `json:"id"`
	Method      string          `json:"method"`
	Params      json.RawMessage `json:"params"`
	TimeoutSecs int             `json:"timeout_secs"`
}

type wsResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WSTransport talks to the native probe backend over a single websocket
// connection, correlating responses to requests by id. The connection is
// dialed on first use and re-dialed on the call after a failure.
type WSTransport struct {
	endpoint string
	logger   *zap.Logger
	dialer   *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan wsResponse
	nextID  uint64
}

// NewWSTransport prepares a transport for the given backend URL. http(s)
// schemes are rewritten to ws(s), matching how the endpoint is usually
// configured.
func NewWSTransport(endpoint string, logger *zap.Logger) (*WSTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("backend endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("backend endpoint: unsupported scheme %q", u.Scheme)
	}
	return &WSTransport{
		endpoint: u.String(),
		logger:   logger,
		dialer:   websocket.DefaultDialer,
		pending:  map[uint64]chan wsResponse{},
	}, nil
}

func (t *WSTransport) Call(ctx context.Context, method string, params any, timeoutSecs int) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%s: encode params: %w", method, err)
	}

	t.mu.Lock()
	if t.conn == nil {
		if err := t.dialLocked(ctx); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.nextID++
	id := t.nextID
	ch := make(chan wsResponse, 1)
	t.pending[id] = ch
	err = t.conn.WriteJSON(wsRequest{ID: id, Method: method, Params: raw, TimeoutSecs: timeoutSecs})
	if err != nil {
		delete(t.pending, id)
		t.closeLocked(err)
		t.mu.Unlock()
		return nil, fmt.Errorf("%s: send: %w", method, err)
	}
	t.mu.Unlock()

	// The backend enforces timeoutSecs; the grace period only guards
	// against a backend that stopped answering entirely.
	wait := time.Duration(timeoutSecs)*time.Second + 5*time.Second
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("%s: %s", method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.drop(id)
		return nil, ctx.Err()
	case <-timer.C:
		t.drop(id)
		return nil, fmt.Errorf("%s: backend did not answer within %s", method, wait)
	}
}

func (t *WSTransport) dialLocked(ctx context.Context) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.endpoint, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.logger.Warn("backend dial failed",
			zap.String("endpoint", t.endpoint),
			zap.Int("status", status),
			zap.Error(err),
		)
		return fmt.Errorf("dial backend %s: %w", t.endpoint, err)
	}
	t.conn = conn
	t.logger.Info("backend connected", zap.String("endpoint", t.endpoint))
	go t.readLoop(conn)
	return nil
}

// readLoop dispatches responses to their waiting callers until the
// connection dies, then fails every caller still pending on it.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var resp wsResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.closeLocked(err)
			}
			t.mu.Unlock()
			return
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (t *WSTransport) closeLocked(cause error) {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	if cause == nil {
		cause = errors.New("connection closed")
	}
	for id, ch := range t.pending {
		delete(t.pending, id)
		ch <- wsResponse{ID: id, Error: "backend connection lost: " + cause.Error()}
	}
	t.logger.Warn("backend disconnected", zap.Error(cause))
}

func (t *WSTransport) drop(id uint64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Close shuts the transport down; any in-flight calls fail.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked(errors.New("transport closed"))
	return nil
}
