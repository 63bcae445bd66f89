package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// fakeBackend runs a websocket endpoint answering requests through handle.
func fakeBackend(t *testing.T, handle func(conn *websocket.Conn, req wsRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var mu sync.Mutex
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			go func(req wsRequest) {
				mu.Lock()
				defer mu.Unlock()
				handle(conn, req)
			}(req)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWSCallRoundTrip(t *testing.T) {
	backend := fakeBackend(t, func(conn *websocket.Conn, req wsRequest) {
		if req.Method != MethodClassifyIP {
			_ = conn.WriteJSON(wsResponse{ID: req.ID, Error: "unexpected method " + req.Method})
			return
		}
		var p struct {
			IP string `json:"ip"`
		}
		_ = json.Unmarshal(req.Params, &p)
		result, _ := json.Marshal(map[string]any{"ip": p.IP, "ip_type": "public"})
		_ = conn.WriteJSON(wsResponse{ID: req.ID, Result: result})
	})

	transport, err := NewWSTransport(backend.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer transport.Close()

	raw, err := transport.Call(context.Background(), MethodClassifyIP, ipParams{IP: "8.8.8.8"}, 5)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	var decoded struct {
		IP     string `json:"ip"`
		IPType string `json:"ip_type"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.IP != "8.8.8.8" || decoded.IPType != "public" {
		t.Fatalf("unexpected result: %+v", decoded)
	}
}

func TestWSBackendErrorNamesMethod(t *testing.T) {
	backend := fakeBackend(t, func(conn *websocket.Conn, req wsRequest) {
		_ = conn.WriteJSON(wsResponse{ID: req.ID, Error: "ping failed: operation not permitted"})
	})

	transport, err := NewWSTransport(backend.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer transport.Close()

	_, err = transport.Call(context.Background(), MethodPingGateway, timeoutParams{5}, 5)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), MethodPingGateway) || !strings.Contains(err.Error(), "not permitted") {
		t.Fatalf("error should carry method and backend message: %v", err)
	}
}

func TestWSCorrelatesOutOfOrderResponses(t *testing.T) {
	// The backend batches two requests and answers them in reverse order;
	// each caller must still receive its own response.
	var mu sync.Mutex
	held := []wsRequest{}
	backend := fakeBackend(t, func(conn *websocket.Conn, req wsRequest) {
		mu.Lock()
		held = append(held, req)
		if len(held) < 2 {
			mu.Unlock()
			return
		}
		batch := held
		held = nil
		mu.Unlock()
		for i := len(batch) - 1; i >= 0; i-- {
			r := batch[i]
			result, _ := json.Marshal(map[string]string{"echo": r.Method})
			_ = conn.WriteJSON(wsResponse{ID: r.ID, Result: result})
		}
	})

	transport, err := NewWSTransport(backend.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer transport.Close()

	methods := []string{MethodCheckMTU, MethodGeoLookup}
	results := make([]string, len(methods))
	var wg sync.WaitGroup
	for i, method := range methods {
		wg.Add(1)
		go func(i int, method string) {
			defer wg.Done()
			raw, err := transport.Call(context.Background(), method, hostParams{Host: "example.com"}, 5)
			if err != nil {
				t.Errorf("%s: %v", method, err)
				return
			}
			var decoded struct {
				Echo string `json:"echo"`
			}
			_ = json.Unmarshal(raw, &decoded)
			results[i] = decoded.Echo
		}(i, method)
	}
	wg.Wait()

	for i, method := range methods {
		if results[i] != method {
			t.Fatalf("response misrouted: call %s received %q", method, results[i])
		}
	}
}

func TestWSFailsPendingCallsOnDisconnect(t *testing.T) {
	backend := fakeBackend(t, func(conn *websocket.Conn, req wsRequest) {
		conn.Close()
	})

	transport, err := NewWSTransport(backend.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer transport.Close()

	_, err = transport.Call(context.Background(), MethodCheckMTU, hostParams{Host: "example.com"}, 1)
	if err == nil {
		t.Fatal("expected the call to fail when the backend hangs up")
	}
	if !strings.Contains(err.Error(), "connection lost") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewWSTransportSchemes(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
		wantErr  bool
	}{
		{"http://127.0.0.1:9000/rpc", "ws://127.0.0.1:9000/rpc", false},
		{"https://probe.example/rpc", "wss://probe.example/rpc", false},
		{"ws://127.0.0.1:9000", "ws://127.0.0.1:9000", false},
		{"ftp://127.0.0.1", "", true},
	}
	for _, tt := range tests {
		transport, err := NewWSTransport(tt.endpoint, nil)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected an error", tt.endpoint)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.endpoint, err)
			continue
		}
		if transport.endpoint != tt.want {
			t.Errorf("%s: rewritten to %q, want %q", tt.endpoint, transport.endpoint, tt.want)
		}
	}
}
