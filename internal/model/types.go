package model

// Target describes the connection under diagnosis. It is supplied once per
// run and never mutated.
type Target struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Protocol string `json:"protocol"`
	ViaProxy bool   `json:"via_proxy,omitempty"`

	// Credentials and protocol knobs, only consulted by the deep
	// protocol diagnosis.
	Username       string `json:"username,omitempty"`
	Password       string `json:"-"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	Domain         string `json:"domain,omitempty"`
	HTTPPath       string `json:"http_path,omitempty"`
	HTTPMethod     string `json:"http_method,omitempty"`
	VerifyTLS      bool   `json:"verify_tls,omitempty"`
}

// PingReply is the result of a single echo probe (target, gateway or the
// external reference address).
type PingReply struct {
	Success bool     `json:"success"`
	TimeMs  *float64 `json:"time_ms,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type DNSResult struct {
	Success          bool     `json:"success"`
	ResolvedIPs      []string `json:"resolved_ips,omitempty"`
	ReverseDNS       string   `json:"reverse_dns,omitempty"`
	ResolutionTimeMs float64  `json:"resolution_time_ms"`
	Error            string   `json:"error,omitempty"`
}

type IPClassification struct {
	IP          string `json:"ip"`
	IPType      string `json:"ip_type"`
	IPClass     string `json:"ip_class,omitempty"`
	IsIPv6      bool   `json:"is_ipv6"`
	NetworkInfo string `json:"network_info,omitempty"`
}

type PortResult struct {
	Port    int      `json:"port"`
	Open    bool     `json:"open"`
	Service string   `json:"service,omitempty"`
	TimeMs  *float64 `json:"time_ms,omitempty"`
	Banner  string   `json:"banner,omitempty"`
}

// Hop is one traceroute hop, ordered by hop count starting at 1.
type Hop struct {
	Hop      int      `json:"hop"`
	IP       string   `json:"ip,omitempty"`
	Hostname string   `json:"hostname,omitempty"`
	TimeMs   *float64 `json:"time_ms,omitempty"`
	Timeout  bool     `json:"timeout"`
}

type TCPTiming struct {
	ConnectTimeMs  float64 `json:"connect_time_ms"`
	TotalTimeMs    float64 `json:"total_time_ms"`
	Success        bool    `json:"success"`
	SlowConnection bool    `json:"slow_connection"`
	Error          string  `json:"error,omitempty"`
}

// ICMPBlockade is produced entirely by the backend probe; the orchestrator
// threads it through unchanged.
type ICMPBlockade struct {
	ICMPAllowed   bool   `json:"icmp_allowed"`
	TCPReachable  bool   `json:"tcp_reachable"`
	LikelyBlocked bool   `json:"likely_blocked"`
	Diagnosis     string `json:"diagnosis"`
}

type ServiceFingerprint struct {
	Port             int    `json:"port"`
	Service          string `json:"service"`
	Version          string `json:"version,omitempty"`
	Banner           string `json:"banner,omitempty"`
	ProtocolDetected string `json:"protocol_detected,omitempty"`
	ResponsePreview  string `json:"response_preview,omitempty"`
}

type TLSResult struct {
	TLSSupported       bool    `json:"tls_supported"`
	TLSVersion         string  `json:"tls_version,omitempty"`
	CertificateValid   bool    `json:"certificate_valid"`
	CertificateSubject string  `json:"certificate_subject,omitempty"`
	CertificateExpiry  string  `json:"certificate_expiry,omitempty"`
	HandshakeTimeMs    float64 `json:"handshake_time_ms"`
	Error              string  `json:"error,omitempty"`
}

type MTUProbe struct {
	Size    int  `json:"size"`
	Success bool `json:"success"`
}

type MTUResult struct {
	PathMTU             *int       `json:"path_mtu,omitempty"`
	FragmentationNeeded bool       `json:"fragmentation_needed"`
	RecommendedMTU      int        `json:"recommended_mtu"`
	TestResults         []MTUProbe `json:"test_results,omitempty"`
	Error               string     `json:"error,omitempty"`
}

type AsymmetricRouting struct {
	AsymmetryDetected bool     `json:"asymmetry_detected"`
	Confidence        float64  `json:"confidence"`
	PathStability     string   `json:"path_stability"`
	LatencyVarianceMs *float64 `json:"latency_variance,omitempty"`
	TTLAnalysis       string   `json:"ttl_analysis"`
	Notes             []string `json:"notes,omitempty"`
}

type GeoResult struct {
	IP           string `json:"ip"`
	ASN          string `json:"asn,omitempty"`
	ASNOrg       string `json:"asn_org,omitempty"`
	Country      string `json:"country,omitempty"`
	City         string `json:"city,omitempty"`
	ISP          string `json:"isp,omitempty"`
	IsDatacenter bool   `json:"is_datacenter,omitempty"`
	Source       string `json:"source"`
	Error        string `json:"error,omitempty"`
}

type UDPProbe struct {
	Port             int      `json:"port"`
	ResponseReceived bool     `json:"response_received"`
	ResponseType     string   `json:"response_type,omitempty"`
	LatencyMs        *float64 `json:"latency_ms,omitempty"`
	Error            string   `json:"error,omitempty"`
}

type LeakCheck struct {
	DNSLeakDetected    bool     `json:"dns_leak_detected"`
	IPMismatchDetected bool     `json:"ip_mismatch_detected"`
	DetectedPublicIP   string   `json:"detected_public_ip,omitempty"`
	DNSServersDetected []string `json:"dns_servers_detected,omitempty"`
	OverallStatus      string   `json:"overall_status"`
	Notes              []string `json:"notes,omitempty"`
}

// PingSample is one attempt of the sequential ping series. Order reflects
// send order and is preserved for jitter computation.
type PingSample struct {
	Seq     int      `json:"seq"`
	Success bool     `json:"success"`
	TimeMs  *float64 `json:"time_ms,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PingStats are derived from a PingSample series; see the stats package.
type PingStats struct {
	Sent        int     `json:"sent"`
	Received    int     `json:"received"`
	SuccessRate float64 `json:"success_rate"`
	AvgMs       float64 `json:"avg_ms"`
	JitterMs    float64 `json:"jitter_ms"`
	MinMs       float64 `json:"min_ms"`
	MaxMs       float64 `json:"max_ms"`
}

// StepStatus is the status of one deep-diagnosis step.
type StepStatus string

const (
	StepPass StepStatus = "pass"
	StepFail StepStatus = "fail"
	StepWarn StepStatus = "warn"
	StepInfo StepStatus = "info"
	StepSkip StepStatus = "skip"
)

type ProtocolStep struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Message    string     `json:"message"`
	DurationMs float64    `json:"duration_ms"`
	Detail     string     `json:"detail,omitempty"`
}

// ProtocolReport is the atomic result of a protocol-specific deep
// diagnosis (ssh/http/rdp). It is independent of the network report and
// only attached alongside it.
type ProtocolReport struct {
	Protocol        string         `json:"protocol"`
	ResolvedIP      string         `json:"resolved_ip,omitempty"`
	Steps           []ProtocolStep `json:"steps"`
	TotalDurationMs float64        `json:"total_duration_ms"`
	Summary         string         `json:"summary"`
	RootCause       string         `json:"root_cause,omitempty"`
}

// Parameter bundles for the deep-diagnosis RPCs.

type SSHParams struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password,omitempty"`
	PrivateKeyPath     string `json:"private_key_path,omitempty"`
	ConnectTimeoutSecs int    `json:"connect_timeout_secs"`
}

type HTTPParams struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	UseTLS             bool   `json:"use_tls"`
	Path               string `json:"path"`
	Method             string `json:"method"`
	ConnectTimeoutSecs int    `json:"connect_timeout_secs"`
	VerifySSL          bool   `json:"verify_ssl"`
}

type RDPParams struct {
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Username string            `json:"username"`
	Password string            `json:"password,omitempty"`
	Domain   string            `json:"domain,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}
