package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaxxstorm/conndiag/internal/model"
)

// Format renders the report as a flat plain-text block for clipboard
// export. It is deterministic and total: sections appear in a fixed order
// mirroring the probe groups, and a section is emitted only when its field
// was populated during the run. Failed probes render inline as unavailable.
func Format(report model.Report) string {
	b := &strings.Builder{}

	fmt.Fprintln(b, "Connection Diagnostics Report")
	fmt.Fprintf(b, "Target: %s (%s)", report.Target.Host, report.Target.Protocol)
	if report.Target.Port > 0 {
		fmt.Fprintf(b, " port %d", report.Target.Port)
	}
	fmt.Fprintln(b)
	if !report.StartedAt.IsZero() {
		fmt.Fprintf(b, "Started: %s\n", report.StartedAt.UTC().Format(time.RFC3339))
	}
	if report.State == model.RunFailed && report.RunError != "" {
		fmt.Fprintf(b, "Run aborted: %s\n", report.RunError)
	}

	formatConnectivity(b, report)
	formatSlot(b, "DNS", report.DNS, formatDNS)
	formatSlot(b, "IP Classification", report.IPInfo, formatIPInfo)
	formatSlot(b, "Port Check", report.Port, formatPort)
	formatSlot(b, "Traceroute", report.Traceroute, formatTraceroute)
	formatSlot(b, "TCP Timing", report.TCPTiming, formatTCPTiming)
	formatSlot(b, "ICMP Blockade", report.Blockade, formatBlockade)
	formatSlot(b, "Service Fingerprint", report.Service, formatService)
	formatSlot(b, "MTU", report.MTU, formatMTU)
	formatSlot(b, "TLS", report.TLS, formatTLS)
	formatSlot(b, "Routing Symmetry", report.Asymmetry, formatAsymmetry)
	formatSlot(b, "Geolocation", report.Geo, formatGeo)
	formatSlot(b, "UDP Probe", report.UDP, formatUDP)
	formatSlot(b, "Leak Detection", report.Leak, formatLeak)
	formatPingStats(b, report)
	formatSlot(b, "Protocol Diagnosis", report.Protocol, formatProtocol)

	return b.String()
}

// formatSlot writes one labeled section for a populated slot and nothing
// for a pending one.
func formatSlot[T any](b *strings.Builder, title string, slot model.Slot[T], body func(*strings.Builder, T)) {
	if slot.Pending() {
		return
	}
	fmt.Fprintf(b, "\n[%s]\n", title)
	if slot.Failed() {
		fmt.Fprintf(b, "unavailable: %s\n", slot.Error)
		return
	}
	if slot.Value != nil {
		body(b, *slot.Value)
	}
}

func formatConnectivity(b *strings.Builder, report model.Report) {
	if report.Internet.Pending() && report.Gateway.Pending() && report.TargetPing.Pending() {
		return
	}
	fmt.Fprintf(b, "\n[Connectivity]\n")
	writeReach(b, "Internet", report.Internet)
	writeReach(b, "Gateway", report.Gateway)
	writeReach(b, "Target", report.TargetPing)
}

func writeReach(b *strings.Builder, label string, slot model.Slot[model.PingReply]) {
	reach := model.Reachability(slot)
	if reach == model.ReachUnknown {
		return
	}
	line := fmt.Sprintf("%s: %s", label, reach)
	if reply, ok := slot.Get(); ok && reply.TimeMs != nil {
		line += fmt.Sprintf(" (%.1f ms)", *reply.TimeMs)
	}
	if slot.Failed() {
		line += fmt.Sprintf(" (probe error: %s)", slot.Error)
	}
	fmt.Fprintln(b, line)
}

func formatDNS(b *strings.Builder, d model.DNSResult) {
	if !d.Success {
		fmt.Fprintf(b, "resolution failed: %s\n", orDash(d.Error))
		return
	}
	fmt.Fprintf(b, "Resolved: %s (%.1f ms)\n", strings.Join(d.ResolvedIPs, ", "), d.ResolutionTimeMs)
	if d.ReverseDNS != "" {
		fmt.Fprintf(b, "Reverse DNS: %s\n", d.ReverseDNS)
	}
}

func formatIPInfo(b *strings.Builder, c model.IPClassification) {
	line := fmt.Sprintf("%s: %s", c.IP, c.IPType)
	if c.IPClass != "" {
		line += fmt.Sprintf(" (class %s)", c.IPClass)
	}
	if c.IsIPv6 {
		line += " ipv6"
	}
	fmt.Fprintln(b, line)
	if c.NetworkInfo != "" {
		fmt.Fprintln(b, c.NetworkInfo)
	}
}

func formatPort(b *strings.Builder, p model.PortResult) {
	state := "closed"
	if p.Open {
		state = "open"
	}
	line := fmt.Sprintf("Port %d: %s", p.Port, state)
	if p.Service != "" {
		line += fmt.Sprintf(" (%s)", p.Service)
	}
	if p.TimeMs != nil {
		line += fmt.Sprintf(" %.1f ms", *p.TimeMs)
	}
	fmt.Fprintln(b, line)
	if p.Banner != "" {
		fmt.Fprintf(b, "Banner: %s\n", p.Banner)
	}
}

func formatTraceroute(b *strings.Builder, hops []model.Hop) {
	if len(hops) == 0 {
		fmt.Fprintln(b, "no route data")
		return
	}
	for _, hop := range hops {
		if hop.Timeout {
			fmt.Fprintf(b, "%2d  *\n", hop.Hop)
			continue
		}
		line := fmt.Sprintf("%2d  %s", hop.Hop, orDash(hop.IP))
		if hop.Hostname != "" {
			line += fmt.Sprintf(" (%s)", hop.Hostname)
		}
		if hop.TimeMs != nil {
			line += fmt.Sprintf("  %.1f ms", *hop.TimeMs)
		}
		fmt.Fprintln(b, line)
	}
}

func formatTCPTiming(b *strings.Builder, t model.TCPTiming) {
	if !t.Success {
		fmt.Fprintf(b, "connection failed: %s\n", orDash(t.Error))
		return
	}
	fmt.Fprintf(b, "Connect: %.1f ms, total: %.1f ms\n", t.ConnectTimeMs, t.TotalTimeMs)
	if t.SlowConnection {
		fmt.Fprintln(b, "Connection is slow")
	}
}

func formatBlockade(b *strings.Builder, blockade model.ICMPBlockade) {
	fmt.Fprintf(b, "ICMP allowed: %t, TCP reachable: %t\n", blockade.ICMPAllowed, blockade.TCPReachable)
	if blockade.Diagnosis != "" {
		fmt.Fprintln(b, blockade.Diagnosis)
	}
}

func formatService(b *strings.Builder, s model.ServiceFingerprint) {
	line := fmt.Sprintf("Port %d: %s", s.Port, orDash(s.Service))
	if s.Version != "" {
		line += " " + s.Version
	}
	if s.ProtocolDetected != "" {
		line += fmt.Sprintf(" (detected: %s)", s.ProtocolDetected)
	}
	fmt.Fprintln(b, line)
	if s.Banner != "" {
		fmt.Fprintf(b, "Banner: %s\n", s.Banner)
	}
}

func formatMTU(b *strings.Builder, m model.MTUResult) {
	if m.Error != "" {
		fmt.Fprintf(b, "probe error: %s\n", m.Error)
	}
	if m.PathMTU != nil {
		fmt.Fprintf(b, "Path MTU: %d\n", *m.PathMTU)
	}
	fmt.Fprintf(b, "Fragmentation needed: %t, recommended MTU: %d\n", m.FragmentationNeeded, m.RecommendedMTU)
}

func formatTLS(b *strings.Builder, t model.TLSResult) {
	if !t.TLSSupported {
		fmt.Fprintf(b, "TLS not supported: %s\n", orDash(t.Error))
		return
	}
	fmt.Fprintf(b, "TLS %s, handshake %.1f ms\n", t.TLSVersion, t.HandshakeTimeMs)
	valid := "invalid"
	if t.CertificateValid {
		valid = "valid"
	}
	line := fmt.Sprintf("Certificate: %s", valid)
	if t.CertificateSubject != "" {
		line += ", " + t.CertificateSubject
	}
	if t.CertificateExpiry != "" {
		line += ", expires " + t.CertificateExpiry
	}
	fmt.Fprintln(b, line)
}

func formatAsymmetry(b *strings.Builder, a model.AsymmetricRouting) {
	fmt.Fprintf(b, "Asymmetry detected: %t (confidence %.0f%%), path stability: %s\n",
		a.AsymmetryDetected, a.Confidence*100, orDash(a.PathStability))
	if a.TTLAnalysis != "" {
		fmt.Fprintln(b, a.TTLAnalysis)
	}
	for _, note := range a.Notes {
		fmt.Fprintf(b, "- %s\n", note)
	}
}

func formatGeo(b *strings.Builder, g model.GeoResult) {
	if g.Error != "" {
		fmt.Fprintf(b, "lookup failed: %s\n", g.Error)
		return
	}
	parts := []string{g.IP}
	if g.City != "" {
		parts = append(parts, g.City)
	}
	if g.Country != "" {
		parts = append(parts, g.Country)
	}
	fmt.Fprintln(b, strings.Join(parts, ", "))
	if g.ASN != "" || g.ASNOrg != "" {
		fmt.Fprintf(b, "ASN: %s %s\n", g.ASN, g.ASNOrg)
	}
	if g.ISP != "" {
		fmt.Fprintf(b, "ISP: %s\n", g.ISP)
	}
	if g.IsDatacenter {
		fmt.Fprintln(b, "Datacenter address")
	}
}

func formatUDP(b *strings.Builder, u model.UDPProbe) {
	if u.Error != "" {
		fmt.Fprintf(b, "probe error: %s\n", u.Error)
		return
	}
	if !u.ResponseReceived {
		fmt.Fprintf(b, "Port %d: no response (open|filtered)\n", u.Port)
		return
	}
	line := fmt.Sprintf("Port %d: responded", u.Port)
	if u.ResponseType != "" {
		line += fmt.Sprintf(" (%s)", u.ResponseType)
	}
	if u.LatencyMs != nil {
		line += fmt.Sprintf(" %.1f ms", *u.LatencyMs)
	}
	fmt.Fprintln(b, line)
}

func formatLeak(b *strings.Builder, l model.LeakCheck) {
	fmt.Fprintf(b, "Status: %s\n", orDash(l.OverallStatus))
	fmt.Fprintf(b, "DNS leak: %t, IP mismatch: %t\n", l.DNSLeakDetected, l.IPMismatchDetected)
	if l.DetectedPublicIP != "" {
		fmt.Fprintf(b, "Public IP: %s\n", l.DetectedPublicIP)
	}
	if len(l.DNSServersDetected) > 0 {
		fmt.Fprintf(b, "DNS servers: %s\n", strings.Join(l.DNSServersDetected, ", "))
	}
	for _, note := range l.Notes {
		fmt.Fprintf(b, "- %s\n", note)
	}
}

func formatPingStats(b *strings.Builder, report model.Report) {
	if len(report.PingSeries) == 0 || report.PingStats == nil {
		return
	}
	s := report.PingStats
	fmt.Fprintf(b, "\n[Ping Statistics]\n")
	fmt.Fprintf(b, "Sent: %d, received: %d, success rate: %.0f%%\n", s.Sent, s.Received, s.SuccessRate)
	fmt.Fprintf(b, "Latency avg: %.1f ms, min: %.1f ms, max: %.1f ms, jitter: %.1f ms\n",
		s.AvgMs, s.MinMs, s.MaxMs, s.JitterMs)
}

func formatProtocol(b *strings.Builder, p model.ProtocolReport) {
	for _, step := range p.Steps {
		fmt.Fprintf(b, "[%s] %s: %s (%.0f ms)\n", strings.ToUpper(string(step.Status)), step.Name, step.Message, step.DurationMs)
		if step.Detail != "" {
			fmt.Fprintf(b, "      %s\n", step.Detail)
		}
	}
	if p.Summary != "" {
		fmt.Fprintf(b, "Summary: %s\n", p.Summary)
	}
	if p.RootCause != "" {
		fmt.Fprintf(b, "Root cause: %s\n", p.RootCause)
	}
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
