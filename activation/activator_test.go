package activation

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interlude/config"
	"interlude/discovery"
	"interlude/dns"
	"interlude/proxy"
	"interlude/types"
)

func newTestActivator(t *testing.T, hostIPServer string) (*Activator, *proxy.Manager) {
	t.Helper()

	resolver := discovery.NewResolver(hostIPServer, "127.0.0.1:9999")
	proxyMgr := proxy.NewManager(config.ProxyConfig{
		ListenPort: ":8080",
		Binary:     "true",
		ConfigPath: filepath.Join(t.TempDir(), "interlude.conf"),
	}, "/interlude", "127.0.0.1:8081")

	dnsCli, err := dns.NewClient(types.CloudflareConfig{Enabled: false})
	require.NoError(t, err)

	return New(resolver, proxyMgr, dnsCli), proxyMgr
}

func testProfile() types.Profile {
	return types.Profile{
		ID:          "studio",
		Platform:    types.PlatformCompose,
		PrefixToken: "studio",
		Services: []types.ServiceLink{
			{Name: "dashboard", Service: "dash", Port: 3000, PathPrefix: "/dashboard/", URLTemplate: "https://dash${BASE_DOMAIN}"},
		},
	}
}

func TestDeployedActivatesPostModeAndResolvesLinks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("203.0.113.7"))
	}))
	defer server.Close()

	activator, proxyMgr := newTestActivator(t, server.URL)

	var events []types.StreamEvent
	publish := func(event types.StreamEvent) { events = append(events, event) }

	links, stale := activator.Deployed(testProfile(), "studio-abc.example.com", publish)

	// No platform backend is registered, so routes degrade to the fallback
	// and the table is stale, but links still resolve and post mode goes
	// live.
	assert.True(t, stale)
	assert.Equal(t, "https://dash-abc.example.com", links["dashboard"])
	assert.Equal(t, types.ModePost, proxyMgr.Mode())

	sawRoutingInfo := false
	for _, event := range events {
		if event.Type == types.EventInfo {
			sawRoutingInfo = true
		}
	}
	assert.True(t, sawRoutingInfo, "successful activation announces the routing switch")

	table := proxyMgr.Table()
	require.Len(t, table.Routes, 1)
	assert.Equal(t, "127.0.0.1:9999", table.Routes[0].Backend)
}

func TestUninstalledRevertsToPreMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("203.0.113.7"))
	}))
	defer server.Close()

	activator, proxyMgr := newTestActivator(t, server.URL)

	_, _ = activator.Deployed(testProfile(), "studio-abc.example.com", func(types.StreamEvent) {})
	require.Equal(t, types.ModePost, proxyMgr.Mode())

	activator.Uninstalled(testProfile())
	assert.Equal(t, types.ModePre, proxyMgr.Mode())
	assert.Empty(t, proxyMgr.Table().Routes)
}
