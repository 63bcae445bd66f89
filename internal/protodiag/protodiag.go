// Package protodiag dispatches protocol-specific deep diagnoses. Each
// supported protocol tag registers a routine that builds the protocol's
// connection parameters from the target and invokes the matching backend
// diagnosis. The whole report arrives atomically or the call fails
// atomically; there is no partial-step streaming.
package protodiag

import (
	"context"
	"fmt"
	"sync"

	"github.com/jaxxstorm/conndiag/internal/model"
	"github.com/jaxxstorm/conndiag/internal/probe"
)

// Routine runs the deep diagnosis for one protocol tag.
type Routine func(ctx context.Context, client *probe.Client, target model.Target, port, timeoutSecs int) (model.ProtocolReport, error)

// Registry maps protocol tags to their diagnosis routines. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	routines map[string]Routine
}

func NewRegistry() *Registry {
	return &Registry{routines: make(map[string]Routine)}
}

// Register adds a routine under the given tag. Returns an error if the
// tag is already taken.
func (r *Registry) Register(tag string, routine Routine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routines[tag]; exists {
		return fmt.Errorf("protocol %q is already registered", tag)
	}
	r.routines[tag] = routine
	return nil
}

// Lookup returns the routine for a tag, or ok=false when the protocol has
// no deep diagnosis and the phase should be skipped.
func (r *Registry) Lookup(tag string) (Routine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routine, ok := r.routines[tag]
	return routine, ok
}

// Tags returns the registered protocol tags.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.routines))
	for tag := range r.routines {
		tags = append(tags, tag)
	}
	return tags
}

// Default returns a registry with the built-in routines: ssh, http, https
// and rdp.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register("ssh", diagnoseSSH)
	_ = r.Register("http", diagnoseHTTP)
	_ = r.Register("https", diagnoseHTTP)
	_ = r.Register("rdp", diagnoseRDP)
	return r
}

func diagnoseSSH(ctx context.Context, client *probe.Client, target model.Target, port, timeoutSecs int) (model.ProtocolReport, error) {
	return client.DiagnoseSSH(ctx, model.SSHParams{
		Host:               target.Host,
		Port:               port,
		Username:           target.Username,
		Password:           target.Password,
		PrivateKeyPath:     target.PrivateKeyPath,
		ConnectTimeoutSecs: timeoutSecs,
	})
}

func diagnoseHTTP(ctx context.Context, client *probe.Client, target model.Target, port, timeoutSecs int) (model.ProtocolReport, error) {
	path := target.HTTPPath
	if path == "" {
		path = "/"
	}
	method := target.HTTPMethod
	if method == "" {
		method = "GET"
	}
	return client.DiagnoseHTTP(ctx, model.HTTPParams{
		Host:               target.Host,
		Port:               port,
		UseTLS:             target.Protocol == "https" || port == 443,
		Path:               path,
		Method:             method,
		ConnectTimeoutSecs: timeoutSecs,
		VerifySSL:          target.VerifyTLS,
	})
}

func diagnoseRDP(ctx context.Context, client *probe.Client, target model.Target, port, timeoutSecs int) (model.ProtocolReport, error) {
	return client.DiagnoseRDP(ctx, model.RDPParams{
		Host:     target.Host,
		Port:     port,
		Username: target.Username,
		Password: target.Password,
		Domain:   target.Domain,
	})
}
