package proxy

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/sys/atomicwriter"

	"interlude/config"
	"interlude/types"
)

// Manager owns the external reverse-proxy engine's configuration. It is the
// only component that writes or reloads it. A new table always replaces the
// old one atomically; a table that fails validation never becomes live.
type Manager struct {
	mu    sync.RWMutex
	mode  types.ProxyMode
	table types.RouteTable

	binary           string
	configPath       string
	listenPort       string
	uiPath           string
	orchestratorAddr string
}

// NewManager creates a manager in pre-deployment mode.
func NewManager(cfg config.ProxyConfig, uiPath, orchestratorAddr string) *Manager {
	return &Manager{
		mode:             types.ModePre,
		binary:           cfg.Binary,
		configPath:       cfg.ConfigPath,
		listenPort:       cfg.ListenPort,
		uiPath:           uiPath,
		orchestratorAddr: orchestratorAddr,
	}
}

// Mode returns the topology currently served.
func (m *Manager) Mode() types.ProxyMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Table returns a copy of the live route table.
func (m *Manager) Table() types.RouteTable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table := m.table
	table.Routes = append([]types.Route(nil), m.table.Routes...)
	return table
}

// Activate renders, validates and hot-reloads the configuration for the
// given mode. On validation failure the previous configuration stays live
// and a ConfigInvalid error is returned. A successful activation reloads
// the engine without dropping established connections.
func (m *Manager) Activate(ctx context.Context, mode types.ProxyMode, table *types.RouteTable) error {
	rendered, err := m.Synthesize(mode, table)
	if err != nil {
		return err
	}

	if err := m.validate(ctx, rendered); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create proxy config directory: %w", err)
	}
	if err := atomicwriter.WriteFile(m.configPath, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("failed to write proxy config: %w", err)
	}

	if err := m.reload(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.mode = mode
	if mode == types.ModePost && table != nil {
		m.table = *table
	} else {
		m.table = types.RouteTable{}
	}
	m.mu.Unlock()

	log.Printf("Proxy: activated %s mode configuration", mode)
	return nil
}

// validate runs the engine's configuration check against the candidate
// text, wrapped in a minimal standalone document in a scratch directory so
// the live configuration is never touched.
func (m *Manager) validate(ctx context.Context, rendered string) error {
	dir, err := os.MkdirTemp("", "interlude-proxy-*")
	if err != nil {
		return fmt.Errorf("failed to create validation directory: %w", err)
	}
	defer os.RemoveAll(dir)

	candidate := filepath.Join(dir, "candidate.conf")
	if err := os.WriteFile(candidate, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("failed to write candidate config: %w", err)
	}

	wrapper := filepath.Join(dir, "wrapper.conf")
	wrapperText := fmt.Sprintf("events {}\nhttp {\n    include %s;\n}\n", candidate)
	if err := os.WriteFile(wrapper, []byte(wrapperText), 0o644); err != nil {
		return fmt.Errorf("failed to write wrapper config: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(checkCtx, m.binary, "-t", "-q", "-p", dir, "-c", wrapper)
	if output, err := cmd.CombinedOutput(); err != nil {
		return types.WrapError(types.KindConfigInvalid, err, "proxy config rejected: %s", string(output))
	}
	return nil
}

// reload signals the engine to pick up the new configuration without
// terminating existing connections.
func (m *Manager) reload(ctx context.Context) error {
	reloadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(reloadCtx, m.binary, "-s", "reload")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("proxy reload failed: %s: %w", string(output), err)
	}
	return nil
}
