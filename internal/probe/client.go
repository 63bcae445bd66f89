package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jaxxstorm/conndiag/internal/model"
	"go.uber.org/zap"
)

type Options struct {
	// Timeout is the default per-probe timeout hint sent to the backend
	// for methods whose RPC shape carries no explicit timeout parameter.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client is the typed boundary to the named remote procedures. It never
// retries; repetition policy belongs to the orchestrator.
type Client struct {
	transport Transport
	opts      Options
}

func New(transport Transport, opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{transport: transport, opts: opts}
}

func (c *Client) defaultSecs() int {
	return int(c.opts.Timeout / time.Second)
}

func call[T any](ctx context.Context, c *Client, method string, params any, timeoutSecs int) (T, error) {
	var out T
	started := time.Now()
	raw, err := c.transport.Call(ctx, method, params, timeoutSecs)
	if err != nil {
		c.opts.Logger.Debug("probe call failed",
			zap.String("method", method),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%s: decode response: %w", method, err)
	}
	c.opts.Logger.Debug("probe call ok",
		zap.String("method", method),
		zap.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}

type pingHostParams struct {
	Host        string `json:"host"`
	Count       int    `json:"count"`
	TimeoutSecs int    `json:"timeout_secs"`
}

func (c *Client) PingHost(ctx context.Context, host string, count, timeoutSecs int) (model.PingReply, error) {
	return call[model.PingReply](ctx, c, MethodPingHost, pingHostParams{host, count, timeoutSecs}, timeoutSecs)
}

type timeoutParams struct {
	TimeoutSecs int `json:"timeout_secs"`
}

func (c *Client) PingGateway(ctx context.Context, timeoutSecs int) (model.PingReply, error) {
	return call[model.PingReply](ctx, c, MethodPingGateway, timeoutParams{timeoutSecs}, timeoutSecs)
}

type hostTimeoutParams struct {
	Host        string `json:"host"`
	TimeoutSecs int    `json:"timeout_secs"`
}

func (c *Client) LookupDNS(ctx context.Context, host string, timeoutSecs int) (model.DNSResult, error) {
	return call[model.DNSResult](ctx, c, MethodDNSLookup, hostTimeoutParams{host, timeoutSecs}, timeoutSecs)
}

type ipParams struct {
	IP string `json:"ip"`
}

func (c *Client) ClassifyIP(ctx context.Context, ip string) (model.IPClassification, error) {
	return call[model.IPClassification](ctx, c, MethodClassifyIP, ipParams{ip}, c.defaultSecs())
}

type hostPortTimeoutParams struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	TimeoutSecs int    `json:"timeout_secs"`
}

func (c *Client) CheckPort(ctx context.Context, host string, port, timeoutSecs int) (model.PortResult, error) {
	return call[model.PortResult](ctx, c, MethodCheckPort, hostPortTimeoutParams{host, port, timeoutSecs}, timeoutSecs)
}

type tracerouteParams struct {
	Host        string `json:"host"`
	MaxHops     int    `json:"max_hops"`
	TimeoutSecs int    `json:"timeout_secs"`
}

func (c *Client) Traceroute(ctx context.Context, host string, maxHops, timeoutSecs int) ([]model.Hop, error) {
	return call[[]model.Hop](ctx, c, MethodTraceroute, tracerouteParams{host, maxHops, timeoutSecs}, timeoutSecs)
}

func (c *Client) TCPTiming(ctx context.Context, host string, port, timeoutSecs int) (model.TCPTiming, error) {
	return call[model.TCPTiming](ctx, c, MethodTCPTiming, hostPortTimeoutParams{host, port, timeoutSecs}, timeoutSecs)
}

type hostPortParams struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (c *Client) DetectBlockade(ctx context.Context, host string, port int) (model.ICMPBlockade, error) {
	return call[model.ICMPBlockade](ctx, c, MethodICMPBlockade, hostPortParams{host, port}, c.defaultSecs())
}

func (c *Client) FingerprintService(ctx context.Context, host string, port int) (model.ServiceFingerprint, error) {
	return call[model.ServiceFingerprint](ctx, c, MethodFingerprint, hostPortParams{host, port}, c.defaultSecs())
}

func (c *Client) CheckTLS(ctx context.Context, host string, port int) (model.TLSResult, error) {
	return call[model.TLSResult](ctx, c, MethodCheckTLS, hostPortParams{host, port}, c.defaultSecs())
}

type hostParams struct {
	Host string `json:"host"`
}

func (c *Client) CheckMTU(ctx context.Context, host string) (model.MTUResult, error) {
	return call[model.MTUResult](ctx, c, MethodCheckMTU, hostParams{host}, c.defaultSecs())
}

type asymmetryParams struct {
	Host        string `json:"host"`
	SampleCount int    `json:"sample_count"`
}

func (c *Client) DetectAsymmetry(ctx context.Context, host string, sampleCount int) (model.AsymmetricRouting, error) {
	return call[model.AsymmetricRouting](ctx, c, MethodAsymmetry, asymmetryParams{host, sampleCount}, c.defaultSecs())
}

func (c *Client) LookupGeo(ctx context.Context, ip string) (model.GeoResult, error) {
	return call[model.GeoResult](ctx, c, MethodGeoLookup, ipParams{ip}, c.defaultSecs())
}

type udpProbeParams struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (c *Client) ProbeUDP(ctx context.Context, host string, port, timeoutMs int) (model.UDPProbe, error) {
	secs := timeoutMs / 1000
	if secs < 1 {
		secs = 1
	}
	return call[model.UDPProbe](ctx, c, MethodUDPProbe, udpProbeParams{host, port, timeoutMs}, secs)
}

type leakageParams struct {
	ExpectedExitIP string `json:"expected_exit_ip,omitempty"`
}

func (c *Client) DetectLeakage(ctx context.Context, expectedExitIP string) (model.LeakCheck, error) {
	return call[model.LeakCheck](ctx, c, MethodLeakage, leakageParams{expectedExitIP}, c.defaultSecs())
}

func (c *Client) DiagnoseSSH(ctx context.Context, p model.SSHParams) (model.ProtocolReport, error) {
	secs := p.ConnectTimeoutSecs
	if secs == 0 {
		secs = c.defaultSecs()
	}
	return call[model.ProtocolReport](ctx, c, MethodDiagnoseSSH, p, secs)
}

func (c *Client) DiagnoseHTTP(ctx context.Context, p model.HTTPParams) (model.ProtocolReport, error) {
	secs := p.ConnectTimeoutSecs
	if secs == 0 {
		secs = c.defaultSecs()
	}
	return call[model.ProtocolReport](ctx, c, MethodDiagnoseHTTP, p, secs)
}

func (c *Client) DiagnoseRDP(ctx context.Context, p model.RDPParams) (model.ProtocolReport, error) {
	return call[model.ProtocolReport](ctx, c, MethodDiagnoseRDP, p, c.defaultSecs())
}
