package protodiag

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/jaxxstorm/conndiag/internal/model"
	"github.com/jaxxstorm/conndiag/internal/probe"
)

func TestDefaultRegistryTags(t *testing.T) {
	registry := Default()
	tags := registry.Tags()
	sort.Strings(tags)
	want := []string{"http", "https", "rdp", "ssh"}
	if len(tags) != len(want) {
		t.Fatalf("got tags %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("got tags %v, want %v", tags, want)
		}
	}
	if _, ok := registry.Lookup("dns"); ok {
		t.Fatal("dns must have no deep diagnosis")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	noop := func(ctx context.Context, client *probe.Client, target model.Target, port, timeoutSecs int) (model.ProtocolReport, error) {
		return model.ProtocolReport{}, nil
	}
	if err := registry.Register("mosh", noop); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := registry.Register("mosh", noop); err == nil {
		t.Fatal("duplicate registration must fail")
	}
}

func diagnoseWith(t *testing.T, tag string, target model.Target, port int) (string, map[string]any) {
	t.Helper()
	var gotMethod string
	var gotParams map[string]any
	mock := &probe.MockTransport{Responder: func(method string, params json.RawMessage) (any, error) {
		gotMethod = method
		if err := json.Unmarshal(params, &gotParams); err != nil {
			return nil, err
		}
		return model.ProtocolReport{Summary: "ok"}, nil
	}}
	client := probe.New(mock, probe.Options{})

	routine, ok := Default().Lookup(tag)
	if !ok {
		t.Fatalf("no routine for %s", tag)
	}
	if _, err := routine(context.Background(), client, target, port, 8); err != nil {
		t.Fatalf("routine failed: %v", err)
	}
	return gotMethod, gotParams
}

func TestSSHRoutineParams(t *testing.T) {
	target := model.Target{
		Host:           "example.com",
		Protocol:       "ssh",
		Username:       "deploy",
		PrivateKeyPath: "/home/deploy/.ssh/id_ed25519",
	}
	method, params := diagnoseWith(t, "ssh", target, 2222)

	if method != probe.MethodDiagnoseSSH {
		t.Fatalf("got method %q", method)
	}
	if params["host"] != "example.com" || params["port"] != float64(2222) {
		t.Fatalf("unexpected params: %v", params)
	}
	if params["username"] != "deploy" || params["private_key_path"] != "/home/deploy/.ssh/id_ed25519" {
		t.Fatalf("credentials not forwarded: %v", params)
	}
	if params["connect_timeout_secs"] != float64(8) {
		t.Fatalf("timeout not forwarded: %v", params)
	}
}

func TestHTTPSRoutineDefaults(t *testing.T) {
	target := model.Target{Host: "example.com", Protocol: "https"}
	method, params := diagnoseWith(t, "https", target, 443)

	if method != probe.MethodDiagnoseHTTP {
		t.Fatalf("got method %q", method)
	}
	if params["use_tls"] != true {
		t.Fatalf("https must enable tls: %v", params)
	}
	if params["path"] != "/" || params["method"] != "GET" {
		t.Fatalf("path and method must default: %v", params)
	}
}

func TestHTTPRoutineTLSByPort(t *testing.T) {
	target := model.Target{Host: "example.com", Protocol: "http", HTTPPath: "/health", HTTPMethod: "HEAD"}

	_, plain := diagnoseWith(t, "http", target, 8080)
	if plain["use_tls"] != false {
		t.Fatalf("http on 8080 must stay plain: %v", plain)
	}
	if plain["path"] != "/health" || plain["method"] != "HEAD" {
		t.Fatalf("explicit path and method must pass through: %v", plain)
	}

	_, tls := diagnoseWith(t, "http", target, 443)
	if tls["use_tls"] != true {
		t.Fatalf("port 443 must imply tls: %v", tls)
	}
}

func TestRDPRoutineParams(t *testing.T) {
	target := model.Target{
		Host:     "desktop.corp.example",
		Protocol: "rdp",
		Username: "alice",
		Domain:   "CORP",
	}
	method, params := diagnoseWith(t, "rdp", target, 3389)

	if method != probe.MethodDiagnoseRDP {
		t.Fatalf("got method %q", method)
	}
	if params["domain"] != "CORP" || params["username"] != "alice" {
		t.Fatalf("unexpected params: %v", params)
	}
}
