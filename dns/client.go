package dns

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	cf "github.com/cloudflare/cloudflare-go"

	"interlude/types"
)

// Client registers resolved service-link hostnames as DNS records pointing
// at the discovered public address. Registration is best-effort: a DNS
// failure never fails a deployment.
type Client struct {
	api       *cf.API
	config    types.CloudflareConfig
	domainMap map[string]types.ServiceDomain // link name -> registered domain
	mu        sync.RWMutex
}

// NewClient creates a new Cloudflare API client. When the integration is
// disabled the client only tracks what it would have registered.
func NewClient(config types.CloudflareConfig) (*Client, error) {
	if !config.Enabled {
		return &Client{
			config:    config,
			domainMap: make(map[string]types.ServiceDomain),
		}, nil
	}

	api, err := cf.NewWithAPIToken(config.APIToken)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudflare API client: %w", err)
	}

	return &Client{
		api:       api,
		config:    config,
		domainMap: make(map[string]types.ServiceDomain),
	}, nil
}

// RegisterLinks creates one A record per resolved service link, pointing at
// the given address. Links whose URL has no hostname are skipped.
func (c *Client) RegisterLinks(ctx context.Context, links map[string]string, address string) {
	for name, link := range links {
		host := hostnameOf(link)
		if host == "" {
			continue
		}
		if err := c.registerDomain(ctx, name, host, address); err != nil {
			log.Printf("DNS: failed to register %s for link %s: %v", host, name, err)
		}
	}
}

func (c *Client) registerDomain(ctx context.Context, linkName, domain, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// If not enabled, just record what would have happened
	if !c.config.Enabled {
		log.Printf("DNS: Integration disabled. Would create record for %s -> %s", domain, address)
		c.domainMap[linkName] = types.ServiceDomain{LinkName: linkName, Domain: domain}
		return nil
	}

	proxied := c.config.Proxied
	recordParams := cf.CreateDNSRecordParams{
		Type:    "A",
		Name:    domain,
		Content: address,
		TTL:     120,
		Proxied: &proxied,
	}

	log.Printf("DNS: Creating record for %s -> %s", domain, address)

	record, err := c.api.CreateDNSRecord(ctx, cf.ZoneIdentifier(c.config.ZoneID), recordParams)
	if err != nil {
		return fmt.Errorf("failed to create DNS record: %w", err)
	}

	c.domainMap[linkName] = types.ServiceDomain{
		LinkName: linkName,
		Domain:   domain,
		DNSRecord: types.CloudflareDNSRecord{
			RecordID: record.ID,
			Name:     domain,
			Content:  address,
			Type:     "A",
			Proxied:  proxied,
		},
	}

	log.Printf("DNS: Created record for %s (ID: %s)", domain, record.ID)
	return nil
}

// RemoveAll deletes every record the client registered. Failures are
// logged and skipped; uninstall cleanup never blocks on remote success.
func (c *Client) RemoveAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for linkName, domainInfo := range c.domainMap {
		if !c.config.Enabled || domainInfo.DNSRecord.RecordID == "" {
			delete(c.domainMap, linkName)
			continue
		}

		log.Printf("DNS: Deleting record for %s (ID: %s)", domainInfo.Domain, domainInfo.DNSRecord.RecordID)
		if err := c.api.DeleteDNSRecord(ctx, cf.ZoneIdentifier(c.config.ZoneID), domainInfo.DNSRecord.RecordID); err != nil {
			log.Printf("DNS: failed to delete record for %s: %v", domainInfo.Domain, err)
		}
		delete(c.domainMap, linkName)
	}
}

// Domains returns the currently registered service domains.
func (c *Client) Domains() []types.ServiceDomain {
	c.mu.RLock()
	defer c.mu.RUnlock()

	domains := make([]types.ServiceDomain, 0, len(c.domainMap))
	for _, domain := range c.domainMap {
		domains = append(domains, domain)
	}
	return domains
}

// hostnameOf extracts the hostname from a service-link URL. Links that are
// bare addresses or paths yield an empty string.
func hostnameOf(link string) string {
	if !strings.Contains(link, "://") {
		return ""
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
