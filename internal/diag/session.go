// Package diag orchestrates the connection diagnostics: probe calls are
// sequenced into dependency-respecting groups, each group's members run
// concurrently and fail independently, and results are merged into a
// single report incrementally so a consumer can render as data arrives.
package diag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jaxxstorm/conndiag/internal/model"
	"github.com/jaxxstorm/conndiag/internal/probe"
	"github.com/jaxxstorm/conndiag/internal/protodiag"
	"github.com/jaxxstorm/conndiag/internal/stats"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	// PingCount is the length of the sequential ping series.
	PingCount int
	// PingInterval is the minimum spacing between series attempts.
	PingInterval time.Duration
	// MaxHops bounds the traceroute.
	MaxHops int
	// ProbeTimeout is the per-probe timeout hint.
	ProbeTimeout time.Duration
	// InternetProbeHost is the well-known address used for the internet
	// reachability check.
	InternetProbeHost string
	// AsymmetrySamples is the sample count for asymmetric-routing detection.
	AsymmetrySamples int
	// Routines are the registered deep-diagnosis protocols.
	Routines *protodiag.Registry
	// OnUpdate, when set, receives a report snapshot after every field
	// write for progressive rendering.
	OnUpdate func(model.Report)
	Logger   *zap.Logger
}

// Session owns the current diagnostic report. Starting a new run bumps the
// generation counter; goroutines from a superseded run observe the bump and
// drop their writes, so a stale run can never contaminate the new report.
type Session struct {
	client *probe.Client
	cfg    Config

	mu     sync.Mutex
	gen    uint64
	report *model.Report
}

func NewSession(client *probe.Client, cfg Config) *Session {
	if cfg.PingCount == 0 {
		cfg.PingCount = 5
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 500 * time.Millisecond
	}
	if cfg.MaxHops == 0 {
		cfg.MaxHops = 30
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.InternetProbeHost == "" {
		cfg.InternetProbeHost = "1.1.1.1"
	}
	if cfg.AsymmetrySamples == 0 {
		cfg.AsymmetrySamples = 5
	}
	if cfg.Routines == nil {
		cfg.Routines = protodiag.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Session{client: client, cfg: cfg}
}

// Snapshot returns a copy of the latest run's report, or ok=false when no
// run has been started.
func (s *Session) Snapshot() (model.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return model.Report{}, false
	}
	return s.report.Snapshot(), true
}

// Run executes one full diagnostic pass and returns this run's report.
// A Run started while a previous one is still in flight supersedes it: the
// older run keeps executing but its remaining writes are discarded.
func (s *Session) Run(ctx context.Context, target model.Target) model.Report {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	report := model.NewReport(target)
	s.report = report
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Error("diagnostic run aborted", zap.Any("panic", r))
			s.write(gen, func(rep *model.Report) {
				rep.State = model.RunFailed
				rep.RunError = fmt.Sprint(r)
				rep.CompletedAt = time.Now()
			})
		}
	}()

	port := ResolvePort(target)
	secs := int(s.cfg.ProbeTimeout / time.Second)
	if secs < 1 {
		secs = 1
	}

	s.cfg.Logger.Info("diagnostic run started",
		zap.String("host", target.Host),
		zap.String("protocol", target.Protocol),
		zap.Int("port", port),
	)

	// Groups A, B and C are independent of each other; their combined
	// completion is the synchronization point for the advanced phase.
	s.settle(ctx,
		s.probeInternet(gen, secs),
		s.probeGateway(gen, secs),
		s.probeTargetPing(gen, target, secs),
		s.probeDNSAndClassify(gen, target, secs),
		s.probePort(gen, target, port, secs),
		s.probeTraceroute(gen, target, secs),
	)

	// Group D: advanced probes, gated on the target host/port being known.
	advanced := []func(context.Context){}
	if target.Host != "" {
		advanced = append(advanced, s.probeMTU(gen, target))
	}
	if port > 0 {
		advanced = append(advanced,
			s.probeTCPTiming(gen, target, port, secs),
			s.probeBlockade(gen, target, port),
			s.probeFingerprint(gen, target, port),
		)
		if TLSApplicable(target, port) {
			advanced = append(advanced, s.probeTLS(gen, target, port))
		}
	}
	s.settle(ctx, advanced...)

	// Group E: extended probes, gated on D completing; geolocation uses
	// Group B's resolved IP when available.
	extended := []func(context.Context){
		s.probeAsymmetry(gen, target),
		s.probeGeo(gen, target),
	}
	if udpPort, ok := UDPService(target, port); ok {
		extended = append(extended, s.probeUDP(gen, target, udpPort))
	}
	if LeakCheckApplicable(target) {
		extended = append(extended, s.probeLeakage(gen))
	}
	s.settle(ctx, extended...)

	// Group F: the ping series is strictly sequential; concurrent pings
	// would contend for the same socket and distort the measurement.
	s.pingSeries(ctx, gen, target, secs)

	// Group G: protocol deep diagnosis, when one is registered.
	s.deepDiagnose(ctx, gen, target, port, secs)

	s.write(gen, func(rep *model.Report) {
		rep.State = model.RunCompleted
		rep.CompletedAt = time.Now()
	})
	s.cfg.Logger.Info("diagnostic run finished",
		zap.String("host", target.Host),
		zap.Duration("elapsed", time.Since(report.StartedAt)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	return report.Snapshot()
}

// write applies a mutation to the current report unless the run has been
// superseded. The OnUpdate hook fires outside the lock.
func (s *Session) write(gen uint64, fn func(*model.Report)) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	fn(s.report)
	var snap model.Report
	notify := s.cfg.OnUpdate != nil
	if notify {
		snap = s.report.Snapshot()
	}
	s.mu.Unlock()
	if notify {
		s.cfg.OnUpdate(snap)
	}
	return true
}

// settle runs group members concurrently and waits for every one of them
// to finish. Members fail independently; a panic in one is contained and
// never cancels its siblings.
func (s *Session) settle(ctx context.Context, tasks ...func(context.Context)) {
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.cfg.Logger.Error("probe panicked", zap.Any("panic", r))
				}
			}()
			fn(ctx)
		}(task)
	}
	wg.Wait()
}

// resolve applies a probe outcome to a slot: success sets the value, a
// transport failure records it, and an unsupported probe leaves the field
// unset so the consumer treats it as not applicable.
func resolve[T any](s *Session, gen uint64, name string, slot func(*model.Report) *model.Slot[T], value T, err error) {
	if err != nil && errors.Is(err, probe.ErrUnsupported) {
		s.cfg.Logger.Warn("probe unavailable on this transport", zap.String("probe", name))
		return
	}
	s.write(gen, func(rep *model.Report) {
		if err != nil {
			slot(rep).Fail(err.Error())
			return
		}
		slot(rep).Set(value)
	})
}

func (s *Session) probeInternet(gen uint64, secs int) func(context.Context) {
	return func(ctx context.Context) {
		reply, err := s.client.PingHost(ctx, s.cfg.InternetProbeHost, 1, secs)
		resolve(s, gen, "internet", func(r *model.Report) *model.Slot[model.PingReply] { return &r.Internet }, reply, err)
	}
}

func (s *Session) probeGateway(gen uint64, secs int) func(context.Context) {
	return func(ctx context.Context) {
		reply, err := s.client.PingGateway(ctx, secs)
		resolve(s, gen, "gateway", func(r *model.Report) *model.Slot[model.PingReply] { return &r.Gateway }, reply, err)
	}
}

func (s *Session) probeTargetPing(gen uint64, target model.Target, secs int) func(context.Context) {
	return func(ctx context.Context) {
		reply, err := s.client.PingHost(ctx, target.Host, 1, secs)
		resolve(s, gen, "target_ping", func(r *model.Report) *model.Slot[model.PingReply] { return &r.TargetPing }, reply, err)
	}
}

// probeDNSAndClassify resolves the hostname and then classifies exactly one
// address: the first resolved IP on success, otherwise the literal hostname
// (which covers targets that are already an address).
func (s *Session) probeDNSAndClassify(gen uint64, target model.Target, secs int) func(context.Context) {
	return func(ctx context.Context) {
		dnsRes, err := s.client.LookupDNS(ctx, target.Host, secs)
		resolve(s, gen, "dns", func(r *model.Report) *model.Slot[model.DNSResult] { return &r.DNS }, dnsRes, err)

		subject := target.Host
		if err == nil && dnsRes.Success && len(dnsRes.ResolvedIPs) > 0 {
			subject = dnsRes.ResolvedIPs[0]
		}
		cls, err := s.client.ClassifyIP(ctx, subject)
		resolve(s, gen, "classify_ip", func(r *model.Report) *model.Slot[model.IPClassification] { return &r.IPInfo }, cls, err)
	}
}

func (s *Session) probePort(gen uint64, target model.Target, port, secs int) func(context.Context) {
	return func(ctx context.Context) {
		if port <= 0 {
			return
		}
		res, err := s.client.CheckPort(ctx, target.Host, port, secs)
		resolve(s, gen, "check_port", func(r *model.Report) *model.Slot[model.PortResult] { return &r.Port }, res, err)
	}
}

func (s *Session) probeTraceroute(gen uint64, target model.Target, secs int) func(context.Context) {
	return func(ctx context.Context) {
		hops, err := s.client.Traceroute(ctx, target.Host, s.cfg.MaxHops, secs)
		resolve(s, gen, "traceroute", func(r *model.Report) *model.Slot[[]model.Hop] { return &r.Traceroute }, hops, err)
	}
}

func (s *Session) probeTCPTiming(gen uint64, target model.Target, port, secs int) func(context.Context) {
	return func(ctx context.Context) {
		timing, err := s.client.TCPTiming(ctx, target.Host, port, secs)
		resolve(s, gen, "tcp_timing", func(r *model.Report) *model.Slot[model.TCPTiming] { return &r.TCPTiming }, timing, err)
	}
}

func (s *Session) probeBlockade(gen uint64, target model.Target, port int) func(context.Context) {
	return func(ctx context.Context) {
		blockade, err := s.client.DetectBlockade(ctx, target.Host, port)
		resolve(s, gen, "icmp_blockade", func(r *model.Report) *model.Slot[model.ICMPBlockade] { return &r.Blockade }, blockade, err)
	}
}

func (s *Session) probeFingerprint(gen uint64, target model.Target, port int) func(context.Context) {
	return func(ctx context.Context) {
		fp, err := s.client.FingerprintService(ctx, target.Host, port)
		resolve(s, gen, "fingerprint", func(r *model.Report) *model.Slot[model.ServiceFingerprint] { return &r.Service }, fp, err)
	}
}

func (s *Session) probeMTU(gen uint64, target model.Target) func(context.Context) {
	return func(ctx context.Context) {
		mtu, err := s.client.CheckMTU(ctx, target.Host)
		resolve(s, gen, "mtu", func(r *model.Report) *model.Slot[model.MTUResult] { return &r.MTU }, mtu, err)
	}
}

func (s *Session) probeTLS(gen uint64, target model.Target, port int) func(context.Context) {
	return func(ctx context.Context) {
		res, err := s.client.CheckTLS(ctx, target.Host, port)
		resolve(s, gen, "tls", func(r *model.Report) *model.Slot[model.TLSResult] { return &r.TLS }, res, err)
	}
}

func (s *Session) probeAsymmetry(gen uint64, target model.Target) func(context.Context) {
	return func(ctx context.Context) {
		res, err := s.client.DetectAsymmetry(ctx, target.Host, s.cfg.AsymmetrySamples)
		resolve(s, gen, "asymmetry", func(r *model.Report) *model.Slot[model.AsymmetricRouting] { return &r.Asymmetry }, res, err)
	}
}

func (s *Session) probeGeo(gen uint64, target model.Target) func(context.Context) {
	return func(ctx context.Context) {
		subject := target.Host
		s.mu.Lock()
		if gen == s.gen {
			if ip, ok := s.report.ResolvedIP(); ok {
				subject = ip
			}
		}
		s.mu.Unlock()
		res, err := s.client.LookupGeo(ctx, subject)
		resolve(s, gen, "geo", func(r *model.Report) *model.Slot[model.GeoResult] { return &r.Geo }, res, err)
	}
}

func (s *Session) probeUDP(gen uint64, target model.Target, udpPort int) func(context.Context) {
	return func(ctx context.Context) {
		res, err := s.client.ProbeUDP(ctx, target.Host, udpPort, int(s.cfg.ProbeTimeout/time.Millisecond))
		resolve(s, gen, "udp", func(r *model.Report) *model.Slot[model.UDPProbe] { return &r.UDP }, res, err)
	}
}

func (s *Session) probeLeakage(gen uint64) func(context.Context) {
	return func(ctx context.Context) {
		res, err := s.client.DetectLeakage(ctx, "")
		resolve(s, gen, "leak", func(r *model.Report) *model.Slot[model.LeakCheck] { return &r.Leak }, res, err)
	}
}

// pingSeries issues a fixed number of echo attempts strictly one after the
// other, paced at least PingInterval apart, recomputing the derived
// statistics after every sample.
func (s *Session) pingSeries(ctx context.Context, gen uint64, target model.Target, secs int) {
	limiter := rate.NewLimiter(rate.Every(s.cfg.PingInterval), 1)
	for i := 0; i < s.cfg.PingCount; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		reply, err := s.client.PingHost(ctx, target.Host, 1, secs)
		sample := model.PingSample{Seq: i + 1}
		switch {
		case err != nil && errors.Is(err, probe.ErrUnsupported):
			return
		case err != nil:
			sample.Error = err.Error()
		default:
			sample.Success = reply.Success
			sample.TimeMs = reply.TimeMs
			sample.Error = reply.Error
		}
		ok := s.write(gen, func(rep *model.Report) {
			rep.PingSeries = append(rep.PingSeries, sample)
			derived := stats.Summarize(rep.PingSeries)
			rep.PingStats = &derived
		})
		if !ok {
			return
		}
	}
}

func (s *Session) deepDiagnose(ctx context.Context, gen uint64, target model.Target, port, secs int) {
	routine, ok := s.cfg.Routines.Lookup(target.Protocol)
	if !ok {
		return
	}
	report, err := routine(ctx, s.client, target, port, secs)
	if err != nil && errors.Is(err, probe.ErrUnsupported) {
		s.cfg.Logger.Warn("deep diagnosis unavailable on this transport", zap.String("protocol", target.Protocol))
		return
	}
	s.write(gen, func(rep *model.Report) {
		if err != nil {
			rep.Protocol.Fail("diagnosis errored: " + err.Error())
			return
		}
		rep.Protocol.Set(report)
	})
}
