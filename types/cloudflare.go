package types

// CloudflareConfig holds configuration for Cloudflare integration
type CloudflareConfig struct {
	Enabled  bool   `json:"enabled"`   // Whether Cloudflare integration is enabled
	APIToken string `json:"api_token"` // Cloudflare API token for authentication
	ZoneID   string `json:"zone_id"`   // Cloudflare Zone ID
	Proxied  bool   `json:"proxied"`   // Whether created records are proxied through Cloudflare
}

// CloudflareDNSRecord represents a DNS record created for a service link
type CloudflareDNSRecord struct {
	RecordID string `json:"record_id"` // Cloudflare Record ID
	Name     string `json:"name"`      // The full domain name, e.g. "studio.example.com"
	Content  string `json:"content"`   // IP address or CNAME value
	Type     string `json:"type"`      // "A" or "CNAME"
	Proxied  bool   `json:"proxied"`   // Whether the record is proxied through Cloudflare
}

// ServiceDomain ties a resolved service link to its DNS record
type ServiceDomain struct {
	LinkName  string              `json:"link_name"` // Service link name from the profile
	Domain    string              `json:"domain"`    // The registered domain
	DNSRecord CloudflareDNSRecord `json:"dns_record,omitempty"`
}
