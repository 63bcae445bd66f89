package probe

import (
	"context"
	"encoding/json"
)

// MockTransport answers probe calls from a responder function. Params are
// handed over JSON-encoded, exactly as the backend would receive them, and
// returned values are marshalled the same way the backend would encode them.
type MockTransport struct {
	Responder func(method string, params json.RawMessage) (any, error)
}

func (m *MockTransport) Call(ctx context.Context, method string, params any, timeoutSecs int) (json.RawMessage, error) {
	if m.Responder == nil {
		return nil, ErrUnsupported
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	v, err := m.Responder(method, raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
