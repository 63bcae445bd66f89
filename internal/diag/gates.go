package diag

import "github.com/jaxxstorm/conndiag/internal/model"

// Default ports by protocol tag, used when the target carries no explicit
// port. These tables are configuration data; overlapping entries (e.g.
// port 500 in the UDP list without a protocol tag) are intentional.
var defaultPorts = map[string]int{
	"ssh":        22,
	"sftp":       22,
	"telnet":     23,
	"ftp":        21,
	"http":       80,
	"https":      443,
	"rdp":        3389,
	"vnc":        5900,
	"smtp":       25,
	"dns":        53,
	"ntp":        123,
	"snmp":       161,
	"tftp":       69,
	"mysql":      3306,
	"postgresql": 5432,
	"redis":      6379,
}

// Ports on which a TLS handshake is expected even without an https tag.
var tlsPorts = map[int]bool{
	443:  true,
	8443: true,
	993:  true,
	995:  true,
	465:  true,
	636:  true,
}

// UDP-bearing services by protocol tag, and the fixed port allow-list for
// targets whose tag carries no UDP mapping.
var udpServicePorts = map[string]int{
	"dns":  53,
	"ntp":  123,
	"snmp": 161,
	"tftp": 69,
	"dhcp": 67,
}

var udpPorts = map[int]bool{
	53:  true,
	123: true,
	161: true,
	162: true,
	69:  true,
	67:  true,
	68:  true,
	500: true,
}

// DefaultPort returns the conventional port for a protocol tag, or 0 when
// the tag is unknown.
func DefaultPort(protocol string) int {
	return defaultPorts[protocol]
}

// ResolvePort returns the port the diagnostics should probe: the target's
// explicit port when set, otherwise the protocol default.
func ResolvePort(target model.Target) int {
	if target.Port > 0 {
		return target.Port
	}
	return DefaultPort(target.Protocol)
}

// TLSApplicable reports whether the TLS check should be dispatched at all.
func TLSApplicable(target model.Target, port int) bool {
	return target.Protocol == "https" || tlsPorts[port]
}

// UDPService returns the port the UDP probe should hit and whether the
// target maps to a UDP-bearing service at all. Targets without a mapping
// leave the UDP field unset.
func UDPService(target model.Target, port int) (int, bool) {
	if udpPorts[port] {
		return port, true
	}
	if p, ok := udpServicePorts[target.Protocol]; ok {
		return p, true
	}
	return 0, false
}

// LeakCheckApplicable reports whether leak detection should run: only when
// the target is known to route through a configured proxy or chain.
func LeakCheckApplicable(target model.Target) bool {
	return target.ViaProxy
}
