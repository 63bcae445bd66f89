package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jaxxstorm/conndiag/internal/model"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// LocalTransport is a best-effort in-process fallback used when no native
// backend is configured. It covers the probes an unprivileged user-space
// socket can perform; everything needing raw sockets or the native helper
// returns ErrUnsupported and surfaces as unavailable in the report.
type LocalTransport struct {
	logger     *zap.Logger
	resolvConf string
}

func NewLocalTransport(logger *zap.Logger) *LocalTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalTransport{logger: logger, resolvConf: "/etc/resolv.conf"}
}

func (t *LocalTransport) Call(ctx context.Context, method string, params any, timeoutSecs int) (json.RawMessage, error) {
	timeout := time.Duration(timeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var (
		result any
		err    error
	)
	switch method {
	case MethodDNSLookup:
		p := params.(hostTimeoutParams)
		result = t.lookupDNS(ctx, p.Host, timeout)
	case MethodClassifyIP:
		p := params.(ipParams)
		result, err = classify(p.IP)
	case MethodCheckPort:
		p := params.(hostPortTimeoutParams)
		result = t.checkPort(p.Host, p.Port, timeout)
	case MethodTCPTiming:
		p := params.(hostPortTimeoutParams)
		result = t.tcpTiming(p.Host, p.Port, timeout)
	case MethodCheckTLS:
		p := params.(hostPortParams)
		result = t.checkTLS(p.Host, p.Port, timeout)
	case MethodFingerprint:
		p := params.(hostPortParams)
		result = t.fingerprint(p.Host, p.Port, timeout)
	case MethodUDPProbe:
		p := params.(udpProbeParams)
		result = t.probeUDP(p.Host, p.Port, time.Duration(p.TimeoutMs)*time.Millisecond)
	default:
		t.logger.Debug("probe needs the native backend", zap.String("method", method))
		return nil, fmt.Errorf("%s: %w", method, ErrUnsupported)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (t *LocalTransport) lookupDNS(ctx context.Context, host string, timeout time.Duration) model.DNSResult {
	started := time.Now()
	if ip := net.ParseIP(host); ip != nil {
		return model.DNSResult{
			Success:          true,
			ResolvedIPs:      []string{ip.String()},
			ResolutionTimeMs: 0,
		}
	}

	servers := t.resolvers()
	client := &dns.Client{Timeout: timeout}
	ips := []string{}
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true
		for _, server := range servers {
			resp, _, err := client.ExchangeContext(ctx, msg, server)
			if err != nil {
				lastErr = err
				continue
			}
			for _, rr := range resp.Answer {
				switch record := rr.(type) {
				case *dns.A:
					ips = append(ips, record.A.String())
				case *dns.AAAA:
					ips = append(ips, record.AAAA.String())
				}
			}
			break
		}
	}

	elapsed := float64(time.Since(started).Microseconds()) / 1000
	if len(ips) == 0 {
		msg := "no records"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		return model.DNSResult{Success: false, ResolutionTimeMs: elapsed, Error: msg}
	}

	out := model.DNSResult{Success: true, ResolvedIPs: ips, ResolutionTimeMs: elapsed}
	if reverse, err := dns.ReverseAddr(ips[0]); err == nil {
		msg := new(dns.Msg)
		msg.SetQuestion(reverse, dns.TypePTR)
		msg.RecursionDesired = true
		for _, server := range servers {
			resp, _, err := client.ExchangeContext(ctx, msg, server)
			if err != nil {
				continue
			}
			for _, rr := range resp.Answer {
				if ptr, ok := rr.(*dns.PTR); ok {
					out.ReverseDNS = strings.TrimSuffix(ptr.Ptr, ".")
				}
			}
			break
		}
	}
	return out
}

func (t *LocalTransport) resolvers() []string {
	conf, err := dns.ClientConfigFromFile(t.resolvConf)
	if err != nil || len(conf.Servers) == 0 {
		return []string{"1.1.1.1:53", "8.8.8.8:53"}
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	return servers
}

func classify(raw string) (model.IPClassification, error) {
	ip := net.ParseIP(raw)
	if ip == nil {
		return model.IPClassification{}, fmt.Errorf("classify_ip: %q is not an IP address", raw)
	}
	out := model.IPClassification{IP: ip.String(), IsIPv6: ip.To4() == nil}
	switch {
	case ip.IsLoopback():
		out.IPType = "loopback"
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		out.IPType = "link-local"
	case ip.IsPrivate():
		out.IPType = "private"
	case ip.IsMulticast():
		out.IPType = "multicast"
	case ip.IsUnspecified():
		out.IPType = "unspecified"
	default:
		out.IPType = "public"
	}
	if v4 := ip.To4(); v4 != nil {
		// Legacy classful label, kept for display parity with the backend.
		switch {
		case v4[0] < 128:
			out.IPClass = "A"
		case v4[0] < 192:
			out.IPClass = "B"
		case v4[0] < 224:
			out.IPClass = "C"
		case v4[0] < 240:
			out.IPClass = "D"
		default:
			out.IPClass = "E"
		}
	}
	return out, nil
}

func (t *LocalTransport) checkPort(host string, port int, timeout time.Duration) model.PortResult {
	out := model.PortResult{Port: port}
	started := time.Now()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprint(port)), timeout)
	if err != nil {
		return out
	}
	defer conn.Close()
	elapsed := float64(time.Since(started).Microseconds()) / 1000
	out.Open = true
	out.TimeMs = &elapsed
	out.Service = wellKnownService(port)
	out.Banner = readBanner(conn)
	return out
}

func (t *LocalTransport) tcpTiming(host string, port int, timeout time.Duration) model.TCPTiming {
	started := time.Now()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprint(port)), timeout)
	if err != nil {
		return model.TCPTiming{Success: false, Error: err.Error()}
	}
	defer conn.Close()
	connectMs := float64(time.Since(started).Microseconds()) / 1000
	return model.TCPTiming{
		ConnectTimeMs:  connectMs,
		TotalTimeMs:    connectMs,
		Success:        true,
		SlowConnection: connectMs > 1000,
	}
}

func (t *LocalTransport) checkTLS(host string, port int, timeout time.Duration) model.TLSResult {
	started := time.Now()
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, fmt.Sprint(port)), &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
	})
	if err != nil {
		return model.TLSResult{TLSSupported: false, Error: err.Error()}
	}
	defer conn.Close()

	state := conn.ConnectionState()
	out := model.TLSResult{
		TLSSupported:    true,
		TLSVersion:      tls.VersionName(state.Version),
		HandshakeTimeMs: float64(time.Since(started).Microseconds()) / 1000,
	}
	if len(state.PeerCertificates) == 0 {
		return out
	}
	leaf := state.PeerCertificates[0]
	out.CertificateSubject = leaf.Subject.String()
	out.CertificateExpiry = leaf.NotAfter.UTC().Format(time.RFC3339)

	opts := x509.VerifyOptions{DNSName: host, Intermediates: x509.NewCertPool()}
	for _, cert := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := leaf.Verify(opts); err == nil {
		out.CertificateValid = true
	} else {
		out.Error = err.Error()
	}
	return out
}

func (t *LocalTransport) fingerprint(host string, port int, timeout time.Duration) model.ServiceFingerprint {
	out := model.ServiceFingerprint{Port: port, Service: wellKnownService(port)}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprint(port)), timeout)
	if err != nil {
		return out
	}
	defer conn.Close()
	banner := readBanner(conn)
	if banner == "" {
		return out
	}
	out.Banner = banner
	out.ResponsePreview = banner
	switch {
	case strings.HasPrefix(banner, "SSH-"):
		out.ProtocolDetected = "ssh"
		out.Version = strings.TrimPrefix(strings.SplitN(banner, " ", 2)[0], "SSH-")
	case strings.HasPrefix(banner, "HTTP/"):
		out.ProtocolDetected = "http"
	case strings.HasPrefix(banner, "220"):
		out.ProtocolDetected = "smtp-or-ftp"
	}
	return out
}

func (t *LocalTransport) probeUDP(host string, port int, timeout time.Duration) model.UDPProbe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	out := model.UDPProbe{Port: port}
	conn, err := net.DialTimeout("udp", net.JoinHostPort(host, fmt.Sprint(port)), timeout)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer conn.Close()

	payload := []byte{0x00}
	if port == 53 {
		// A real query is the only payload a DNS server will answer.
		msg := new(dns.Msg)
		msg.SetQuestion("example.com.", dns.TypeA)
		msg.RecursionDesired = true
		if packed, err := msg.Pack(); err == nil {
			payload = packed
		}
	}

	started := time.Now()
	if _, err := conn.Write(payload); err != nil {
		out.Error = err.Error()
		return out
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		// No answer is the normal case for UDP; not an error condition.
		return out
	}
	latency := float64(time.Since(started).Microseconds()) / 1000
	out.ResponseReceived = true
	out.LatencyMs = &latency
	if port == 53 && n > 0 {
		out.ResponseType = "dns"
	}
	return out
}

func readBanner(conn net.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return ""
	}
	return strings.TrimSpace(string(buf[:n]))
}

func wellKnownService(port int) string {
	switch port {
	case 21:
		return "ftp"
	case 22:
		return "ssh"
	case 23:
		return "telnet"
	case 25:
		return "smtp"
	case 53:
		return "dns"
	case 80:
		return "http"
	case 443:
		return "https"
	case 3389:
		return "rdp"
	case 5900:
		return "vnc"
	default:
		return ""
	}
}
