package probe

import (
	"context"
	"encoding/json"
	"errors"
)

// RPC method names understood by the native probe backend.
const (
	MethodPingHost     = "ping_host_detailed"
	MethodPingGateway  = "ping_gateway"
	MethodDNSLookup    = "dns_lookup"
	MethodClassifyIP   = "classify_ip"
	MethodCheckPort    = "check_port"
	MethodTraceroute   = "traceroute"
	MethodTCPTiming    = "tcp_connection_timing"
	MethodICMPBlockade = "detect_icmp_blockade"
	MethodFingerprint  = "fingerprint_service"
	MethodCheckTLS     = "check_tls"
	MethodCheckMTU     = "check_mtu"
	MethodAsymmetry    = "detect_asymmetric_routing"
	MethodGeoLookup    = "lookup_ip_geo"
	MethodUDPProbe     = "probe_udp_port"
	MethodLeakage      = "detect_proxy_leakage"
	MethodDiagnoseSSH  = "diagnose_ssh_connection"
	MethodDiagnoseHTTP = "diagnose_http_connection"
	MethodDiagnoseRDP  = "diagnose_rdp_connection"
)

// ErrUnsupported is returned by transports that cannot perform a given
// probe in the current environment (e.g. raw-socket probes without the
// native helper). The orchestrator records it as unavailable rather than
// failing the run.
var ErrUnsupported = errors.New("probe not supported by this transport")

// Transport delivers one named probe call to whatever implements it: the
// native backend over websocket, the in-process fallback, or a test mock.
// Every call must settle; timeoutSecs is the server-side enforcement hint.
type Transport interface {
	Call(ctx context.Context, method string, params any, timeoutSecs int) (json.RawMessage, error)
}
