package discovery

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"interlude/types"
)

// Backend looks up the live address of one declared service on a target
// platform.
type Backend interface {
	Lookup(ctx context.Context, namespace string, svc types.ServiceLink) (string, error)
}

// Resolver queries the target platform after a successful deploy and turns
// the results into a fresh route table and resolved service links. It never
// mutates a live table; the synthesizer owns activation.
type Resolver struct {
	httpClient *http.Client
	endpoint   string // external address-echo endpoint
	fallback   string // backend used when a service cannot be found
	backends   map[types.Platform]Backend
}

// NewResolver creates a resolver with the given address-echo endpoint and
// fallback backend.
func NewResolver(endpoint, fallback string) *Resolver {
	return &Resolver{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   endpoint,
		fallback:   fallback,
		backends:   make(map[types.Platform]Backend),
	}
}

// Register wires the backend used for a platform.
func (r *Resolver) Register(platform types.Platform, backend Backend) {
	r.backends[platform] = backend
}

// HostIP resolves the machine's public address via the external echo
// endpoint.
func (r *Resolver) HostIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", types.WrapError(types.KindDiscoveryUnavailable, err, "address lookup failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", types.WrapError(types.KindDiscoveryUnavailable, err, "address lookup failed")
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", types.NewError(types.KindDiscoveryUnavailable, "address lookup returned %q", ip)
	}
	return ip, nil
}

// BaseDomain derives the domain-suffix variable by stripping the profile's
// prefix token from the inbound Host header. Host "studio-abc123.example.com"
// with token "studio" yields "-abc123.example.com".
func BaseDomain(host, prefixToken string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if prefixToken == "" {
		return host
	}
	return strings.TrimPrefix(host, prefixToken)
}

// BuildRouteTable queries the platform for every declared service and
// returns the ordered table. A service that cannot be found degrades to the
// fallback backend instead of producing an empty entry; stale reports
// whether any lookup failed.
func (r *Resolver) BuildRouteTable(ctx context.Context, profile types.Profile) (types.RouteTable, bool) {
	table := types.RouteTable{Fallback: r.fallback}
	stale := false

	backend := r.backends[profile.Platform]
	for _, svc := range profile.Services {
		if svc.PathPrefix == "" {
			continue
		}

		addr := r.fallback
		if backend == nil {
			stale = true
			log.Printf("Discovery: no backend registered for platform %q", profile.Platform)
		} else if found, err := backend.Lookup(ctx, profile.Namespace, svc); err != nil {
			stale = true
			log.Printf("Discovery: service %s unavailable, using fallback: %v", svc.Name, err)
		} else {
			addr = found
		}

		table.Routes = append(table.Routes, types.Route{Pattern: svc.PathPrefix, Backend: addr})
	}

	return table, stale
}

// ResolveLinks substitutes the runtime variables into every service-link
// URL template. A variable that could not be resolved is left in place
// rather than substituted with an empty string.
func (r *Resolver) ResolveLinks(profile types.Profile, host, hostIP string) map[string]string {
	vars := map[string]string{
		"BASE_DOMAIN": BaseDomain(host, profile.PrefixToken),
	}
	if hostIP != "" {
		vars["HOST_IP"] = hostIP
	}

	links := make(map[string]string)
	for _, svc := range profile.Services {
		if svc.URLTemplate == "" {
			continue
		}
		links[svc.Name] = types.Substitute(svc.URLTemplate, vars)
	}
	return links
}

// Fallback returns the configured fallback backend address.
func (r *Resolver) Fallback() string {
	return r.fallback
}
