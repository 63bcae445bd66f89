package diag

import (
	"testing"

	"github.com/jaxxstorm/conndiag/internal/model"
)

func TestResolvePort(t *testing.T) {
	tests := []struct {
		name   string
		target model.Target
		want   int
	}{
		{"explicit port wins", model.Target{Protocol: "ssh", Port: 2222}, 2222},
		{"ssh default", model.Target{Protocol: "ssh"}, 22},
		{"https default", model.Target{Protocol: "https"}, 443},
		{"rdp default", model.Target{Protocol: "rdp"}, 3389},
		{"dns default", model.Target{Protocol: "dns"}, 53},
		{"unknown protocol has no default", model.Target{Protocol: "gopher"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolvePort(tt.target); got != tt.want {
				t.Errorf("ResolvePort(%+v) = %d, want %d", tt.target, got, tt.want)
			}
		})
	}
}

func TestTLSApplicable(t *testing.T) {
	tests := []struct {
		name   string
		target model.Target
		port   int
		want   bool
	}{
		{"https protocol", model.Target{Protocol: "https"}, 443, true},
		{"https on odd port", model.Target{Protocol: "https"}, 8080, true},
		{"imaps port", model.Target{Protocol: "imap"}, 993, true},
		{"alt https port", model.Target{Protocol: "custom"}, 8443, true},
		{"ldaps port", model.Target{Protocol: "ldap"}, 636, true},
		{"ssh", model.Target{Protocol: "ssh"}, 22, false},
		{"plain http", model.Target{Protocol: "http"}, 80, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TLSApplicable(tt.target, tt.port); got != tt.want {
				t.Errorf("TLSApplicable(%s, %d) = %v, want %v", tt.target.Protocol, tt.port, got, tt.want)
			}
		})
	}
}

func TestUDPService(t *testing.T) {
	tests := []struct {
		name     string
		target   model.Target
		port     int
		wantPort int
		wantOK   bool
	}{
		{"udp port passes through", model.Target{Protocol: "custom"}, 123, 123, true},
		{"isakmp port", model.Target{Protocol: "custom"}, 500, 500, true},
		{"dns tag maps to 53", model.Target{Protocol: "dns"}, 0, 53, true},
		{"dhcp tag maps to 67", model.Target{Protocol: "dhcp"}, 0, 67, true},
		{"ssh has no udp service", model.Target{Protocol: "ssh"}, 22, 0, false},
		{"https has no udp service", model.Target{Protocol: "https"}, 443, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := UDPService(tt.target, tt.port)
			if got != tt.wantPort || ok != tt.wantOK {
				t.Errorf("UDPService(%s, %d) = (%d, %v), want (%d, %v)",
					tt.target.Protocol, tt.port, got, ok, tt.wantPort, tt.wantOK)
			}
		})
	}
}

func TestLeakCheckApplicable(t *testing.T) {
	if LeakCheckApplicable(model.Target{Host: "example.com"}) {
		t.Error("leak check must be skipped for a direct target")
	}
	if !LeakCheckApplicable(model.Target{Host: "example.com", ViaProxy: true}) {
		t.Error("leak check must run for a proxied target")
	}
}
