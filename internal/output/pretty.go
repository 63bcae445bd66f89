package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jaxxstorm/conndiag/internal/model"
)

// RenderPretty renders a styled terminal view of the report: one line per
// populated probe with a status label, followed by the ping statistics and
// the deep-diagnosis steps.
func RenderPretty(report model.Report) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("conndiag")
	lineStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	okStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	warnStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))

	header := fmt.Sprintf("%s (%s)", report.Target.Host, report.Target.Protocol)
	if report.Target.Port > 0 {
		header += fmt.Sprintf(" port %d", report.Target.Port)
	}
	lines := []string{title, lineStyle.Render(header), ""}

	appendLine := func(label, status, detail string, good bool) {
		rendered := okStyle.Render(status)
		if !good {
			rendered = failStyle.Render(status)
		}
		line := fmt.Sprintf("%s %-18s %s", rendered, label, detail)
		lines = append(lines, lineStyle.Render(strings.TrimRight(line, " ")))
	}
	appendReach := func(label string, slot model.Slot[model.PingReply]) {
		reach := model.Reachability(slot)
		if reach == model.ReachUnknown {
			return
		}
		detail := ""
		if reply, ok := slot.Get(); ok && reply.TimeMs != nil {
			detail = fmt.Sprintf("%.1f ms", *reply.TimeMs)
		}
		if reach == model.ReachYes {
			appendLine(label, "OK", detail, true)
		} else {
			appendLine(label, "FAIL", slotFailureDetail(slot.Error, slot.Value), false)
		}
	}

	appendReach("internet", report.Internet)
	appendReach("gateway", report.Gateway)
	appendReach("target", report.TargetPing)

	if !report.DNS.Pending() {
		if d, ok := report.DNS.Get(); ok && d.Success {
			appendLine("dns", "OK", strings.Join(d.ResolvedIPs, ", "), true)
		} else {
			appendLine("dns", "FAIL", report.DNS.Error, false)
		}
	}
	if c, ok := report.IPInfo.Get(); ok {
		appendLine("ip", "OK", fmt.Sprintf("%s %s", c.IP, c.IPType), true)
	}
	if p, ok := report.Port.Get(); ok {
		if p.Open {
			appendLine("port", "OK", fmt.Sprintf("%d open", p.Port), true)
		} else {
			appendLine("port", "FAIL", fmt.Sprintf("%d closed", p.Port), false)
		}
	}
	if hops, ok := report.Traceroute.Get(); ok {
		appendLine("traceroute", "OK", fmt.Sprintf("%d hops", len(hops)), true)
	}
	if t, ok := report.TCPTiming.Get(); ok {
		appendLine("tcp", boolLabel(t.Success), fmt.Sprintf("connect %.1f ms", t.ConnectTimeMs), t.Success)
	}
	if blockade, ok := report.Blockade.Get(); ok {
		if blockade.LikelyBlocked {
			lines = append(lines, warnStyle.Render("WARN")+lineStyle.Render(fmt.Sprintf(" %-18s %s", "icmp", blockade.Diagnosis)))
		} else {
			appendLine("icmp", "OK", blockade.Diagnosis, true)
		}
	}
	if t, ok := report.TLS.Get(); ok {
		appendLine("tls", boolLabel(t.TLSSupported), t.TLSVersion, t.TLSSupported)
	}
	if g, ok := report.Geo.Get(); ok {
		appendLine("geo", "OK", strings.TrimSpace(g.Country+" "+g.City), true)
	}
	if l, ok := report.Leak.Get(); ok {
		good := !l.DNSLeakDetected && !l.IPMismatchDetected
		appendLine("leak", boolLabel(good), l.OverallStatus, good)
	}

	if s := report.PingStats; s != nil {
		lines = append(lines, "", lineStyle.Render(fmt.Sprintf(
			"ping %d/%d  avg=%.1fms  jitter=%.1fms  min=%.1fms  max=%.1fms",
			s.Received, s.Sent, s.AvgMs, s.JitterMs, s.MinMs, s.MaxMs)))
	}

	if p, ok := report.Protocol.Get(); ok {
		lines = append(lines, "")
		for _, step := range p.Steps {
			label := okStyle.Render(strings.ToUpper(string(step.Status)))
			switch step.Status {
			case model.StepFail:
				label = failStyle.Render("FAIL")
			case model.StepWarn:
				label = warnStyle.Render("WARN")
			}
			lines = append(lines, fmt.Sprintf("%s %s", label, lineStyle.Render(step.Name+": "+step.Message)))
		}
		if p.Summary != "" {
			lines = append(lines, lineStyle.Render(p.Summary))
		}
	} else if report.Protocol.Failed() {
		lines = append(lines, "", failStyle.Render("diagnosis errored")+lineStyle.Render(" "+report.Protocol.Error))
	}

	switch report.State {
	case model.RunFailed:
		lines = append(lines, "", failStyle.Render("RUN FAILED "+report.RunError))
	case model.RunCompleted:
		if model.Reachability(report.TargetPing) == model.ReachNo {
			lines = append(lines, "", failStyle.Render("TARGET UNREACHABLE"))
		}
	}

	return strings.Join(lines, "\n")
}

func boolLabel(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}

func slotFailureDetail(errMsg string, reply *model.PingReply) string {
	if reply != nil && reply.Error != "" {
		return reply.Error
	}
	return errMsg
}
