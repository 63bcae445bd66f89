package model

import "time"

// SlotState tracks the lifecycle of one report field. A slot starts
// pending and transitions at most once to ok or failed; a probe that was
// never dispatched (gated off or unsupported) leaves its slot pending for
// the whole run.
type SlotState string

const (
	SlotPending SlotState = ""
	SlotOK      SlotState = "ok"
	SlotFailed  SlotState = "failed"
)

// Slot is a single-assignment report field. Set and Fail are no-ops once
// the slot has reached a terminal state, so a run can never downgrade a
// field from success back to pending.
type Slot[T any] struct {
	State SlotState `json:"state,omitempty"`
	Value *T        `json:"value,omitempty"`
	Error string    `json:"error,omitempty"`
}

func (s *Slot[T]) Set(v T) bool {
	if s.State != SlotPending {
		return false
	}
	s.State = SlotOK
	s.Value = &v
	return true
}

func (s *Slot[T]) Fail(msg string) bool {
	if s.State != SlotPending {
		return false
	}
	s.State = SlotFailed
	s.Error = msg
	return true
}

func (s Slot[T]) OK() bool      { return s.State == SlotOK }
func (s Slot[T]) Failed() bool  { return s.State == SlotFailed }
func (s Slot[T]) Pending() bool { return s.State == SlotPending }

// Get returns the value when the slot completed successfully.
func (s Slot[T]) Get() (T, bool) {
	if s.State != SlotOK || s.Value == nil {
		var zero T
		return zero, false
	}
	return *s.Value, true
}

// Reach is the tri-state reachability judgment derived from an echo slot.
type Reach string

const (
	ReachUnknown Reach = "unknown"
	ReachYes     Reach = "yes"
	ReachNo      Reach = "no"
)

// Reachability collapses an echo slot into a tri-state: pending means the
// probe never ran, a transport failure or an unsuccessful echo both mean no.
func Reachability(s Slot[PingReply]) Reach {
	switch {
	case s.Pending():
		return ReachUnknown
	case s.OK() && s.Value != nil && s.Value.Success:
		return ReachYes
	default:
		return ReachNo
	}
}

// RunState is the orchestrator lifecycle of one report.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Report is the mutable aggregate owned by the orchestrator for the
// duration of one run. Fields are written at most once each, by exactly
// one probe goroutine; concurrent readers take a Snapshot.
type Report struct {
	Target      Target    `json:"target"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	State       RunState  `json:"state"`
	RunError    string    `json:"run_error,omitempty"`

	Internet   Slot[PingReply]          `json:"internet,omitzero"`
	Gateway    Slot[PingReply]          `json:"gateway,omitzero"`
	TargetPing Slot[PingReply]          `json:"target_ping,omitzero"`
	DNS        Slot[DNSResult]          `json:"dns,omitzero"`
	IPInfo     Slot[IPClassification]   `json:"ip_info,omitzero"`
	Port       Slot[PortResult]         `json:"port,omitzero"`
	Traceroute Slot[[]Hop]              `json:"traceroute,omitzero"`
	TCPTiming  Slot[TCPTiming]          `json:"tcp_timing,omitzero"`
	Blockade   Slot[ICMPBlockade]       `json:"icmp_blockade,omitzero"`
	Service    Slot[ServiceFingerprint] `json:"service,omitzero"`
	MTU        Slot[MTUResult]          `json:"mtu,omitzero"`
	TLS        Slot[TLSResult]          `json:"tls,omitzero"`
	Asymmetry  Slot[AsymmetricRouting]  `json:"asymmetry,omitzero"`
	Geo        Slot[GeoResult]          `json:"geo,omitzero"`
	UDP        Slot[UDPProbe]           `json:"udp,omitzero"`
	Leak       Slot[LeakCheck]          `json:"leak,omitzero"`

	PingSeries []PingSample         `json:"ping_series,omitempty"`
	PingStats  *PingStats           `json:"ping_stats,omitempty"`
	Protocol   Slot[ProtocolReport] `json:"protocol_diagnosis,omitzero"`
}

// NewReport allocates a fresh report for one orchestrator run.
func NewReport(target Target) *Report {
	return &Report{
		Target:    target,
		StartedAt: time.Now(),
		State:     RunRunning,
	}
}

// Snapshot returns a read-only copy safe to hand to a concurrent consumer.
// Slot values are never mutated after assignment, so sharing their pointers
// is fine; only the growing ping series and stats need cloning.
func (r *Report) Snapshot() Report {
	cp := *r
	if r.PingSeries != nil {
		cp.PingSeries = append([]PingSample(nil), r.PingSeries...)
	}
	if r.PingStats != nil {
		stats := *r.PingStats
		cp.PingStats = &stats
	}
	return cp
}

// ResolvedIP returns the first DNS-resolved address, when there is one.
func (r *Report) ResolvedIP() (string, bool) {
	dns, ok := r.DNS.Get()
	if !ok || !dns.Success || len(dns.ResolvedIPs) == 0 {
		return "", false
	}
	return dns.ResolvedIPs[0], true
}
