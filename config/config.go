package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"interlude/types"
)

// ProxyConfig holds the settings for the external reverse-proxy engine
type ProxyConfig struct {
	ListenPort string `json:"listen_port"` // port the proxy serves traffic on
	Binary     string `json:"binary"`      // proxy engine binary, e.g. "nginx"
	ConfigPath string `json:"config_path"` // where rendered configuration is written
}

// Config holds the application configuration
type Config struct {
	APIServerPort      string                 `json:"api_server_port"`
	UIPathPrefix       string                 `json:"ui_path_prefix"` // sub-path routed to the orchestrator in post mode
	ProjectName        string                 `json:"project_name"`
	Heading            string                 `json:"heading"`
	StateFilePath      string                 `json:"state_file_path"`
	CredentialFilePath string                 `json:"credential_file_path"`
	ProfilesDir        string                 `json:"profiles_dir"`
	DefaultProfileID   string                 `json:"default_profile_id"`
	DryRunOverride     bool                   `json:"dry_run_override"` // force every deploy into dry-run mode
	FallbackBackend    string                 `json:"fallback_backend"` // host:port used when a service cannot be discovered
	OrchestratorAddr   string                 `json:"orchestrator_addr"` // backend address of the orchestrator's own interface
	HostIPEndpoint     string                 `json:"host_ip_endpoint"`  // external address-echo endpoint
	HelpFilePath       string                 `json:"help_file_path"`
	CancelGraceSeconds int                    `json:"cancel_grace_seconds"` // SIGTERM to SIGKILL escalation window
	TailLines          int                    `json:"tail_lines"`           // output lines retained for exit info
	Proxy              ProxyConfig            `json:"proxy"`
	Cloudflare         types.CloudflareConfig `json:"cloudflare"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		APIServerPort:      ":8081",
		UIPathPrefix:       "/interlude",
		ProjectName:        "Interlude",
		Heading:            "Deployment Launcher",
		StateFilePath:      "/var/lib/interlude/state.json",
		CredentialFilePath: "/var/lib/interlude/deploy.env",
		ProfilesDir:        "/etc/interlude/profiles",
		DefaultProfileID:   "",
		DryRunOverride:     false,
		FallbackBackend:    "127.0.0.1:8081",
		OrchestratorAddr:   "127.0.0.1:8081",
		HostIPEndpoint:     "https://icanhazip.com",
		HelpFilePath:       "/etc/interlude/help.txt",
		CancelGraceSeconds: 10,
		TailLines:          20,
		Proxy: ProxyConfig{
			ListenPort: ":8080",
			Binary:     "nginx",
			ConfigPath: "/etc/nginx/conf.d/interlude.conf",
		},
		Cloudflare: types.CloudflareConfig{
			Enabled:  false,
			APIToken: "",
			ZoneID:   "",
			Proxied:  true,
		},
	}
}

// LoadConfig loads configuration from a file or environment variables
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	// Load from file if provided
	if configPath != "" {
		if err := loadFromFile(&config, configPath); err != nil {
			return config, err
		}
	}

	// Override with environment variables
	overrideFromEnv(&config)

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func loadFromFile(config *Config, path string) error {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(bytes, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv(config *Config) {
	// Core settings
	if val := os.Getenv("INTERLUDE_API_PORT"); val != "" {
		config.APIServerPort = ensurePortFormat(val)
	}

	if val := os.Getenv("INTERLUDE_PROXY_PORT"); val != "" {
		config.Proxy.ListenPort = ensurePortFormat(val)
	}

	if val := os.Getenv("INTERLUDE_UI_PATH"); val != "" {
		config.UIPathPrefix = ensurePathFormat(val)
	}

	if val := os.Getenv("INTERLUDE_STATE_FILE"); val != "" {
		config.StateFilePath = val
	}

	if val := os.Getenv("INTERLUDE_CREDENTIAL_FILE"); val != "" {
		config.CredentialFilePath = val
	}

	if val := os.Getenv("INTERLUDE_PROFILES_DIR"); val != "" {
		config.ProfilesDir = val
	}

	if val := os.Getenv("INTERLUDE_PROFILE"); val != "" {
		config.DefaultProfileID = val
	}

	if val := os.Getenv("INTERLUDE_DRY_RUN"); val != "" {
		config.DryRunOverride = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("INTERLUDE_FALLBACK_BACKEND"); val != "" {
		config.FallbackBackend = val
	}

	if val := os.Getenv("INTERLUDE_PROXY_BINARY"); val != "" {
		config.Proxy.Binary = val
	}

	if val := os.Getenv("INTERLUDE_PROXY_CONFIG"); val != "" {
		config.Proxy.ConfigPath = val
	}

	if val := os.Getenv("INTERLUDE_CANCEL_GRACE"); val != "" {
		if grace, err := parseEnvInt(val); err == nil {
			config.CancelGraceSeconds = grace
		}
	}

	// Cloudflare settings
	if val := os.Getenv("INTERLUDE_CLOUDFLARE_ENABLED"); val != "" {
		config.Cloudflare.Enabled = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("INTERLUDE_CLOUDFLARE_API_TOKEN"); val != "" {
		config.Cloudflare.APIToken = val
	}

	if val := os.Getenv("INTERLUDE_CLOUDFLARE_ZONE_ID"); val != "" {
		config.Cloudflare.ZoneID = val
	}
}

// ensurePortFormat ensures port is in the format ":8080"
func ensurePortFormat(port string) string {
	port = strings.TrimSpace(port)
	if !strings.HasPrefix(port, ":") {
		return ":" + port
	}
	return port
}

// ensurePathFormat ensures a URL sub-path starts with "/" and has no
// trailing slash
func ensurePathFormat(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(path, "/")
}

// parseEnvInt parses an integer from an environment variable
func parseEnvInt(val string) (int, error) {
	var result int
	if _, err := fmt.Sscanf(val, "%d", &result); err != nil {
		return 0, err
	}
	return result, nil
}
