package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/prospectiq/credit-server-go/internal/config"
	"github.com/prospectiq/credit-server-go/internal/model"
)

// Entry binds a metered service name to its provider and billing terms.
type Entry struct {
	Provider Provider
	Kind     model.CreditKind
	Cost     int64
}

// Registry maps metered service names to provider entries. Built once at
// startup; read-only afterwards.
type Registry struct {
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

func (r *Registry) Register(service string, entry Entry) {
	r.entries[service] = entry
}

func (r *Registry) Lookup(service string) (Entry, bool) {
	entry, ok := r.entries[service]
	return entry, ok
}

func (r *Registry) Services() []string {
	services := make([]string, 0, len(r.entries))
	for name := range r.entries {
		services = append(services, name)
	}
	return services
}

// BuildRegistry wires an HTTP provider for every configured service under the
// given base URL. An empty base URL yields an empty registry: the gateway
// then rejects every metered call with UnknownService.
func BuildRegistry(baseURL string, timeout time.Duration) *Registry {
	registry := NewRegistry()
	if baseURL == "" {
		return registry
	}

	baseURL = strings.TrimSuffix(baseURL, "/")
	for service, sc := range config.ServiceCosts {
		registry.Register(service, Entry{
			Provider: NewHTTPProvider(service, fmt.Sprintf("%s/%s", baseURL, service), timeout),
			Kind:     sc.Kind,
			Cost:     sc.Cost,
		})
	}
	return registry
}
