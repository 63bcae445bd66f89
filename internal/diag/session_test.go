package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jaxxstorm/conndiag/internal/model"
	"github.com/jaxxstorm/conndiag/internal/probe"
)

type recorder struct {
	mu    sync.Mutex
	calls map[string][]json.RawMessage
}

func newRecorder() *recorder {
	return &recorder{calls: map[string][]json.RawMessage{}}
}

func (r *recorder) record(method string, params json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[method] = append(r.calls[method], append(json.RawMessage(nil), params...))
}

func (r *recorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls[method])
}

func (r *recorder) param(method string, field string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls[method]) == 0 {
		return ""
	}
	var decoded map[string]any
	_ = json.Unmarshal(r.calls[method][0], &decoded)
	s, _ := decoded[field].(string)
	return s
}

func happyResponder(rec *recorder, resolvedIP string) func(string, json.RawMessage) (any, error) {
	rtt := 12.5
	return func(method string, params json.RawMessage) (any, error) {
		rec.record(method, params)
		switch method {
		case probe.MethodPingHost, probe.MethodPingGateway:
			return model.PingReply{Success: true, TimeMs: &rtt}, nil
		case probe.MethodDNSLookup:
			return model.DNSResult{Success: true, ResolvedIPs: []string{resolvedIP}, ResolutionTimeMs: 3}, nil
		case probe.MethodClassifyIP:
			var p struct {
				IP string `json:"ip"`
			}
			_ = json.Unmarshal(params, &p)
			return model.IPClassification{IP: p.IP, IPType: "public", IPClass: "C"}, nil
		case probe.MethodCheckPort:
			return model.PortResult{Port: 443, Open: true, Service: "https"}, nil
		case probe.MethodTraceroute:
			return []model.Hop{{Hop: 1, IP: "10.0.0.1"}, {Hop: 2, Timeout: true}}, nil
		case probe.MethodTCPTiming:
			return model.TCPTiming{Success: true, ConnectTimeMs: 9, TotalTimeMs: 11}, nil
		case probe.MethodICMPBlockade:
			return model.ICMPBlockade{ICMPAllowed: true, TCPReachable: true, Diagnosis: "no filtering detected"}, nil
		case probe.MethodFingerprint:
			return model.ServiceFingerprint{Port: 443, Service: "https"}, nil
		case probe.MethodCheckMTU:
			return model.MTUResult{RecommendedMTU: 1500}, nil
		case probe.MethodCheckTLS:
			return model.TLSResult{TLSSupported: true, TLSVersion: "TLS 1.3", CertificateValid: true}, nil
		case probe.MethodAsymmetry:
			return model.AsymmetricRouting{PathStability: "stable", TTLAnalysis: "ttl consistent"}, nil
		case probe.MethodGeoLookup:
			return model.GeoResult{IP: resolvedIP, Country: "US", Source: "test"}, nil
		case probe.MethodUDPProbe:
			return model.UDPProbe{Port: 53, ResponseReceived: true}, nil
		case probe.MethodLeakage:
			return model.LeakCheck{OverallStatus: "secure"}, nil
		case probe.MethodDiagnoseSSH, probe.MethodDiagnoseHTTP, probe.MethodDiagnoseRDP:
			return model.ProtocolReport{
				Steps:   []model.ProtocolStep{{Name: "connect", Status: model.StepPass, Message: "connected"}},
				Summary: "healthy",
			}, nil
		default:
			return nil, fmt.Errorf("unexpected method %s", method)
		}
	}
}

func newTestSession(responder func(string, json.RawMessage) (any, error)) *Session {
	client := probe.New(&probe.MockTransport{Responder: responder}, probe.Options{Timeout: time.Second})
	return NewSession(client, Config{
		PingCount:    3,
		PingInterval: time.Millisecond,
		ProbeTimeout: time.Second,
	})
}

func TestRunHTTPSScenario(t *testing.T) {
	rec := newRecorder()
	session := newTestSession(happyResponder(rec, "203.0.113.10"))

	report := session.Run(context.Background(), model.Target{Host: "example.com", Protocol: "https", Port: 443})

	if report.State != model.RunCompleted {
		t.Fatalf("expected completed run, got %s (%s)", report.State, report.RunError)
	}
	dns, ok := report.DNS.Get()
	if !ok || !dns.Success || len(dns.ResolvedIPs) == 0 {
		t.Fatalf("expected populated dns result: %+v", report.DNS)
	}
	if _, ok := report.IPInfo.Get(); !ok {
		t.Fatalf("expected populated ip classification")
	}
	if port, ok := report.Port.Get(); !ok || !port.Open {
		t.Fatalf("expected open port, got %+v", report.Port)
	}
	if tlsRes, ok := report.TLS.Get(); !ok || !tlsRes.TLSSupported {
		t.Fatalf("expected tls supported, got %+v", report.TLS)
	}
	if !report.UDP.Pending() {
		t.Fatalf("udp field must stay unset for https/443")
	}
	if !report.Leak.Pending() {
		t.Fatalf("leak field must stay unset without a proxy")
	}
	if len(report.PingSeries) != 3 || report.PingStats == nil {
		t.Fatalf("expected 3 ping samples with stats, got %d", len(report.PingSeries))
	}
	if _, ok := report.Protocol.Get(); !ok {
		t.Fatalf("expected https deep diagnosis to be attached")
	}
	if rec.count(probe.MethodDiagnoseHTTP) != 1 {
		t.Fatalf("expected exactly one http diagnosis call")
	}
}

func TestClassifyDispatchedOncePerRun(t *testing.T) {
	rec := newRecorder()
	session := newTestSession(happyResponder(rec, "203.0.113.10"))
	session.Run(context.Background(), model.Target{Host: "example.com", Protocol: "https", Port: 443})

	if got := rec.count(probe.MethodClassifyIP); got != 1 {
		t.Fatalf("expected exactly one classify_ip call, got %d", got)
	}
	if ip := rec.param(probe.MethodClassifyIP, "ip"); ip != "203.0.113.10" {
		t.Fatalf("expected classification of the resolved IP, got %q", ip)
	}
}

func TestClassifyFallsBackToLiteralHost(t *testing.T) {
	rec := newRecorder()
	base := happyResponder(rec, "")
	responder := func(method string, params json.RawMessage) (any, error) {
		if method == probe.MethodDNSLookup {
			rec.record(method, params)
			return model.DNSResult{Success: false, Error: "NXDOMAIN"}, nil
		}
		return base(method, params)
	}
	session := newTestSession(responder)
	session.Run(context.Background(), model.Target{Host: "192.0.2.7", Protocol: "ssh"})

	if got := rec.count(probe.MethodClassifyIP); got != 1 {
		t.Fatalf("expected exactly one classify_ip call, got %d", got)
	}
	if ip := rec.param(probe.MethodClassifyIP, "ip"); ip != "192.0.2.7" {
		t.Fatalf("expected classification of the literal host, got %q", ip)
	}
}

func TestTLSNeverDispatchedForSSH(t *testing.T) {
	rec := newRecorder()
	session := newTestSession(happyResponder(rec, "203.0.113.10"))
	report := session.Run(context.Background(), model.Target{Host: "example.com", Protocol: "ssh", Port: 22})

	if got := rec.count(probe.MethodCheckTLS); got != 0 {
		t.Fatalf("check_tls must not be dispatched for ssh/22, got %d calls", got)
	}
	if !report.TLS.Pending() {
		t.Fatalf("tls field must stay unset for ssh/22")
	}
}

func TestUDPProbeGating(t *testing.T) {
	rec := newRecorder()
	session := newTestSession(happyResponder(rec, "203.0.113.10"))
	session.Run(context.Background(), model.Target{Host: "ns.example.com", Protocol: "dns"})

	if got := rec.count(probe.MethodUDPProbe); got != 1 {
		t.Fatalf("expected udp probe for a dns target, got %d calls", got)
	}

	rec2 := newRecorder()
	session2 := newTestSession(happyResponder(rec2, "203.0.113.10"))
	report := session2.Run(context.Background(), model.Target{Host: "example.com", Protocol: "ssh", Port: 22})
	if got := rec2.count(probe.MethodUDPProbe); got != 0 {
		t.Fatalf("udp probe must not run for ssh/22, got %d calls", got)
	}
	if !report.UDP.Pending() {
		t.Fatalf("udp field must stay unset, not failed")
	}
}

func TestLeakDetectionGatedOnProxy(t *testing.T) {
	rec := newRecorder()
	session := newTestSession(happyResponder(rec, "203.0.113.10"))
	session.Run(context.Background(), model.Target{Host: "example.com", Protocol: "ssh", ViaProxy: true})
	if got := rec.count(probe.MethodLeakage); got != 1 {
		t.Fatalf("expected leak detection for a proxied target, got %d calls", got)
	}

	rec2 := newRecorder()
	session2 := newTestSession(happyResponder(rec2, "203.0.113.10"))
	session2.Run(context.Background(), model.Target{Host: "example.com", Protocol: "ssh"})
	if got := rec2.count(probe.MethodLeakage); got != 0 {
		t.Fatalf("leak detection must not run without a proxy, got %d calls", got)
	}
}

func TestProbeFailureDoesNotAbortSiblings(t *testing.T) {
	rec := newRecorder()
	base := happyResponder(rec, "203.0.113.10")
	responder := func(method string, params json.RawMessage) (any, error) {
		if method == probe.MethodTraceroute {
			return nil, errors.New("socket: permission denied")
		}
		return base(method, params)
	}
	session := newTestSession(responder)
	report := session.Run(context.Background(), model.Target{Host: "example.com", Protocol: "https", Port: 443})

	if report.State != model.RunCompleted {
		t.Fatalf("run must complete despite a failed probe, got %s", report.State)
	}
	if !report.Traceroute.Failed() {
		t.Fatalf("expected traceroute recorded as failed, got %+v", report.Traceroute)
	}
	if _, ok := report.DNS.Get(); !ok {
		t.Fatalf("sibling probes must still populate the report")
	}
}

func TestUnsupportedProbeLeavesFieldUnset(t *testing.T) {
	rec := newRecorder()
	base := happyResponder(rec, "203.0.113.10")
	responder := func(method string, params json.RawMessage) (any, error) {
		if method == probe.MethodTraceroute {
			return nil, fmt.Errorf("traceroute: %w", probe.ErrUnsupported)
		}
		return base(method, params)
	}
	session := newTestSession(responder)
	report := session.Run(context.Background(), model.Target{Host: "example.com", Protocol: "https", Port: 443})

	if !report.Traceroute.Pending() {
		t.Fatalf("unsupported traceroute must leave the field unset, got %+v", report.Traceroute)
	}
	if report.State != model.RunCompleted {
		t.Fatalf("run must still complete, got %s", report.State)
	}
}

func TestSupersedingRunWinsTheReport(t *testing.T) {
	gate := make(chan struct{})
	firstStarted := make(chan struct{})
	var once sync.Once

	rec := newRecorder()
	base := happyResponder(rec, "203.0.113.2")
	responder := func(method string, params json.RawMessage) (any, error) {
		var p struct {
			Host string `json:"host"`
		}
		_ = json.Unmarshal(params, &p)
		if p.Host == "first.example" {
			once.Do(func() { close(firstStarted) })
			<-gate
			return model.DNSResult{Success: true, ResolvedIPs: []string{"198.51.100.1"}}, nil
		}
		return base(method, params)
	}

	client := probe.New(&probe.MockTransport{Responder: responder}, probe.Options{Timeout: time.Second})
	session := NewSession(client, Config{PingCount: 1, PingInterval: time.Millisecond, ProbeTimeout: time.Second})

	done := make(chan struct{})
	go func() {
		defer close(done)
		session.Run(context.Background(), model.Target{Host: "first.example", Protocol: "ssh"})
	}()
	<-firstStarted

	report := session.Run(context.Background(), model.Target{Host: "second.example", Protocol: "https", Port: 443})
	close(gate)
	<-done

	snap, ok := session.Snapshot()
	if !ok {
		t.Fatalf("expected a current report")
	}
	if snap.Target.Host != "second.example" {
		t.Fatalf("displayed report must belong to the superseding run, got %q", snap.Target.Host)
	}
	if dns, ok := snap.DNS.Get(); !ok || dns.ResolvedIPs[0] != "203.0.113.2" {
		t.Fatalf("stale run's data leaked into the report: %+v", snap.DNS)
	}
	if report.Target.Host != "second.example" || report.State != model.RunCompleted {
		t.Fatalf("superseding run must complete normally, got %+v", report.Target)
	}
}

func TestPingSeriesOrderAndStats(t *testing.T) {
	times := []float64{10, 20, 30}
	var idx int
	var mu sync.Mutex

	rec := newRecorder()
	base := happyResponder(rec, "203.0.113.10")
	responder := func(method string, params json.RawMessage) (any, error) {
		if method == probe.MethodPingHost {
			var p struct {
				Host string `json:"host"`
			}
			_ = json.Unmarshal(params, &p)
			if p.Host == "example.com" {
				mu.Lock()
				rtt := times[idx%len(times)]
				idx++
				mu.Unlock()
				return model.PingReply{Success: true, TimeMs: &rtt}, nil
			}
		}
		return base(method, params)
	}

	client := probe.New(&probe.MockTransport{Responder: responder}, probe.Options{Timeout: time.Second})
	session := NewSession(client, Config{PingCount: 3, PingInterval: time.Millisecond, ProbeTimeout: time.Second})
	report := session.Run(context.Background(), model.Target{Host: "example.com", Protocol: "ssh", Port: 22})

	if len(report.PingSeries) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(report.PingSeries))
	}
	for i, sample := range report.PingSeries {
		if sample.Seq != i+1 {
			t.Fatalf("series out of order: sample %d has seq %d", i, sample.Seq)
		}
	}
	if report.PingStats == nil || report.PingStats.Sent != 3 || report.PingStats.Received != 3 {
		t.Fatalf("unexpected stats: %+v", report.PingStats)
	}
}

func TestDeepDiagnosisErrorRecordedDistinctly(t *testing.T) {
	rec := newRecorder()
	base := happyResponder(rec, "203.0.113.10")
	responder := func(method string, params json.RawMessage) (any, error) {
		if method == probe.MethodDiagnoseSSH {
			return nil, errors.New("backend crashed")
		}
		return base(method, params)
	}
	session := newTestSession(responder)
	report := session.Run(context.Background(), model.Target{Host: "example.com", Protocol: "ssh", Port: 22})

	if !report.Protocol.Failed() {
		t.Fatalf("expected diagnosis errored state, got %+v", report.Protocol)
	}
	if report.State != model.RunCompleted {
		t.Fatalf("a failed diagnosis must not fail the run, got %s", report.State)
	}
}

func TestOnUpdateDeliversIncrementalSnapshots(t *testing.T) {
	rec := newRecorder()
	var mu sync.Mutex
	updates := 0

	client := probe.New(&probe.MockTransport{Responder: happyResponder(rec, "203.0.113.10")}, probe.Options{Timeout: time.Second})
	session := NewSession(client, Config{
		PingCount:    1,
		PingInterval: time.Millisecond,
		ProbeTimeout: time.Second,
		OnUpdate: func(model.Report) {
			mu.Lock()
			updates++
			mu.Unlock()
		},
	})
	session.Run(context.Background(), model.Target{Host: "example.com", Protocol: "https", Port: 443})

	mu.Lock()
	defer mu.Unlock()
	if updates < 10 {
		t.Fatalf("expected a snapshot per field write, got %d updates", updates)
	}
}
