// Package activation drives what happens around a lifecycle transition:
// service discovery, route-table activation and DNS registration after a
// successful deploy, and topology reversion after uninstall.
package activation

import (
	"context"
	"log"
	"time"

	"interlude/discovery"
	"interlude/dns"
	"interlude/proxy"
	"interlude/state"
	"interlude/types"
)

const transitionTimeout = 60 * time.Second

// Activator implements the state machine's post-transition hook. It never
// holds the deployment lock and never turns its own failures into
// deployment failures; problems degrade to a stale route table.
type Activator struct {
	resolver *discovery.Resolver
	proxyMgr *proxy.Manager
	dnsCli   *dns.Client
}

// New creates an activator.
func New(resolver *discovery.Resolver, proxyMgr *proxy.Manager, dnsCli *dns.Client) *Activator {
	return &Activator{resolver: resolver, proxyMgr: proxyMgr, dnsCli: dnsCli}
}

// Deployed discovers live backends, activates the post-deployment routing
// topology and resolves the profile's service links. Returns the links and
// whether any part of the route table ended up stale.
func (a *Activator) Deployed(profile types.Profile, host string, publish func(types.StreamEvent)) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
	defer cancel()

	stale := false

	hostIP, err := a.resolver.HostIP(ctx)
	if err != nil {
		stale = true
		log.Printf("Activation: public address lookup failed: %v", err)
		publish(types.StreamEvent{Type: types.EventWarning, Message: "Could not resolve public address"})
	}

	table, tableStale := a.resolver.BuildRouteTable(ctx, profile)
	if tableStale {
		stale = true
	}

	if err := a.proxyMgr.Activate(ctx, types.ModePost, &table); err != nil {
		// Last-known-good configuration stays live.
		stale = true
		log.Printf("Activation: proxy activation failed, keeping previous routing: %v", err)
		publish(types.StreamEvent{Type: types.EventWarning, Message: "Proxy routing not updated, previous configuration remains active"})
	} else {
		publish(types.StreamEvent{Type: types.EventInfo, Message: "Proxy now routing to deployed services"})
	}

	links := a.resolver.ResolveLinks(profile, host, hostIP)

	if hostIP != "" {
		a.dnsCli.RegisterLinks(ctx, links, hostIP)
	}

	return links, stale
}

// Uninstalled removes registered DNS records and reverts the proxy to the
// pre-deployment topology. Best-effort only.
func (a *Activator) Uninstalled(profile types.Profile) {
	ctx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
	defer cancel()

	a.dnsCli.RemoveAll(ctx)

	if err := a.proxyMgr.Activate(ctx, types.ModePre, nil); err != nil {
		log.Printf("Activation: failed to revert proxy to pre-deployment mode: %v", err)
	}
}

var _ state.Activator = (*Activator)(nil)
