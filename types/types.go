package types

import "time"

// Phase represents the possible phases of the deployment lifecycle
type Phase string

const (
	// Deployment lifecycle phases
	PhaseIdle         Phase = "idle"         // Nothing deployed
	PhaseDeploying    Phase = "deploying"    // Deploy sequence in progress
	PhaseDeployed     Phase = "deployed"     // Deploy sequence finished successfully
	PhaseFailed       Phase = "failed"       // Deploy sequence failed or was cancelled
	PhaseUninstalling Phase = "uninstalling" // Teardown sequence in progress
)

// ProxyMode selects which routing topology the proxy engine serves
type ProxyMode string

const (
	// ModePre routes every request to the orchestrator's own interface.
	ModePre ProxyMode = "pre"
	// ModePost routes by path through the active route table, keeping the
	// UI sub-path pointed at the orchestrator.
	ModePost ProxyMode = "post"
)

// ExitInfo captures how a command sequence ended. Absent on success.
type ExitInfo struct {
	ExitCode int      `json:"exit_code"`
	Error    string   `json:"error,omitempty"`
	Tail     []string `json:"tail,omitempty"` // last lines of captured output
}

// DeploymentState is the single process-wide lifecycle record. It is owned
// by the state machine and persisted on every transition.
type DeploymentState struct {
	Phase        Phase             `json:"phase"`
	ProfileID    string            `json:"profile_id,omitempty"`
	Version      string            `json:"version,omitempty"`
	Namespace    string            `json:"namespace,omitempty"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	ExitInfo     *ExitInfo         `json:"exit_info,omitempty"`
	ServiceLinks map[string]string `json:"service_links,omitempty"`
	RoutesStale  bool              `json:"routes_stale,omitempty"`
}

// Route maps one path pattern to a backend address.
type Route struct {
	Pattern string `json:"pattern"` // path prefix, e.g. "/studio/"
	Backend string `json:"backend"` // host:port
}

// RouteTable is the ordered routing table used by the proxy. It is rebuilt
// wholesale on every discovery cycle, never patched in place.
type RouteTable struct {
	Routes   []Route `json:"routes"`
	Fallback string  `json:"fallback"` // backend for anything unmatched
}
