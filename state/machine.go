package state

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"interlude/config"
	"interlude/executor"
	"interlude/secrets"
	"interlude/types"
)

// Activator reacts to lifecycle transitions. After a successful deploy it
// resolves service links and activates the post-deployment routing
// topology; after uninstall it reverts to the pre-deployment topology.
// Implementations must not block on the deployment lock.
type Activator interface {
	// Deployed returns the resolved service links and whether the route
	// table ended up stale (discovery or activation failure, non-fatal).
	Deployed(profile types.Profile, host string, publish func(types.StreamEvent)) (map[string]string, bool)
	// Uninstalled reverts routing and cleans up anything Deployed created.
	Uninstalled(profile types.Profile)
}

// DeployRequest carries one deploy attempt's inputs.
type DeployRequest struct {
	ProfileID   string
	Version     string
	Credentials map[string]string
	DryRun      bool
	Host        string // inbound Host header, used for domain-suffix resolution
}

// DryRunResult is the preview returned instead of executing. Credential
// values are always masked.
type DryRunResult struct {
	ProfileID string            `json:"profile_id"`
	Version   string            `json:"version,omitempty"`
	Commands  [][]string        `json:"commands"`
	Env       map[string]string `json:"env"`
}

// Run is one in-flight deploy or uninstall.
type Run struct {
	ID        string
	ProfileID string
	Uninstall bool
	Bus       *executor.Broadcaster

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Cancel asks the run's current child process to stop. Safe to call more
// than once.
func (r *Run) Cancel() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Done is closed when the run has finished and its transition is recorded.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Machine owns the single process-wide DeploymentState. All transitions go
// through it; no other component may set the phase. Write-intent calls
// while a run is active fail fast with AlreadyRunning, read-only calls stay
// concurrent.
type Machine struct {
	mu     sync.RWMutex
	state  types.DeploymentState
	active *Run

	store     *Store
	profiles  *config.ProfileStore
	secrets   *secrets.Materializer
	runner    *executor.Runner
	activator Activator

	dryRunOverride bool
}

// NewMachine creates the state machine and recovers persisted state. A
// phase interrupted by a crash is demoted to Failed; the workload itself is
// left untouched (recovery is best-effort, not authoritative).
func NewMachine(store *Store, profiles *config.ProfileStore, mat *secrets.Materializer, runner *executor.Runner, dryRunOverride bool) (*Machine, error) {
	m := &Machine{
		store:          store,
		profiles:       profiles,
		secrets:        mat,
		runner:         runner,
		dryRunOverride: dryRunOverride,
		state:          types.DeploymentState{Phase: types.PhaseIdle},
	}

	recovered, err := store.Load()
	if err != nil {
		return nil, err
	}
	if recovered != nil {
		m.state = *recovered
		if m.state.Phase == types.PhaseDeploying || m.state.Phase == types.PhaseUninstalling {
			log.Printf("StateMachine: recovered interrupted phase %q, marking failed", m.state.Phase)
			now := time.Now().UTC()
			m.state.Phase = types.PhaseFailed
			m.state.FinishedAt = &now
			m.state.ExitInfo = &types.ExitInfo{
				ExitCode: -1,
				Error:    "orchestrator restarted while a run was in progress",
			}
			if err := store.Save(&m.state); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// SetActivator wires the post-transition hook. Must be called before the
// first deploy.
func (m *Machine) SetActivator(a Activator) {
	m.activator = a
}

// State returns a copy of the current deployment state.
func (m *Machine) State() types.DeploymentState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ActiveRun returns the in-flight run, or nil.
func (m *Machine) ActiveRun() *Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// CancelActive cancels the in-flight run if there is one.
func (m *Machine) CancelActive() {
	if run := m.ActiveRun(); run != nil {
		run.Cancel()
	}
}

// validateDeploy resolves and checks a request without mutating anything.
func (m *Machine) validateDeploy(req DeployRequest) (types.Profile, error) {
	profile, ok := m.profiles.Get(req.ProfileID)
	if !ok {
		return profile, types.NewError(types.KindUnknownProfile, "no profile named %q", req.ProfileID)
	}
	if req.Version != "" && len(profile.Versions) > 0 && !profile.HasVersion(req.Version) {
		return profile, types.NewError(types.KindUnknownProfile, "profile %q has no version %q", req.ProfileID, req.Version)
	}
	if err := secrets.Validate(&profile, req.Credentials); err != nil {
		return profile, err
	}
	return profile, nil
}

// commandVars returns the placeholder values substituted into command
// vectors. Credentials never appear here; they reach the tooling only
// through the credential file.
func (m *Machine) commandVars(version string) map[string]string {
	return map[string]string{
		"VERSION":  version,
		"ENV_FILE": m.secrets.Path(),
	}
}

func resolveSequence(seq [][]string, vars map[string]string) [][]string {
	out := make([][]string, len(seq))
	for i, argv := range seq {
		out[i] = types.SubstituteArgv(argv, vars)
	}
	return out
}

// DryRun resolves the full command sequence and masked environment without
// executing anything, transitioning phase, or touching the credential file.
func (m *Machine) DryRun(req DeployRequest) (*DryRunResult, error) {
	profile, err := m.validateDeploy(req)
	if err != nil {
		return nil, err
	}

	return &DryRunResult{
		ProfileID: profile.ID,
		Version:   req.Version,
		Commands:  resolveSequence(profile.DeploySequence(), m.commandVars(req.Version)),
		Env:       secrets.MaskedEnv(&profile, req.Credentials),
	}, nil
}

// IsDryRun reports whether the request (or the global override) asks for a
// preview instead of an execution.
func (m *Machine) IsDryRun(req DeployRequest) bool {
	return req.DryRun || m.dryRunOverride
}

// StartDeploy validates the request, claims the single-flight slot,
// materializes credentials and starts the command sequence in the
// background. The returned run's broadcaster carries the live stream.
func (m *Machine) StartDeploy(req DeployRequest) (*Run, error) {
	profile, err := m.validateDeploy(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.active != nil || m.state.Phase == types.PhaseDeploying || m.state.Phase == types.PhaseUninstalling {
		m.mu.Unlock()
		return nil, types.NewError(types.KindAlreadyRunning, "a %s is already in progress", m.state.Phase)
	}

	now := time.Now().UTC()
	m.state = types.DeploymentState{
		Phase:     types.PhaseDeploying,
		ProfileID: profile.ID,
		Version:   req.Version,
		Namespace: profile.Namespace,
		StartedAt: &now,
	}

	run := &Run{
		ID:        uuid.NewString(),
		ProfileID: profile.ID,
		Bus:       executor.NewBroadcaster(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.active = run

	if err := m.store.Save(&m.state); err != nil {
		m.state = types.DeploymentState{Phase: types.PhaseIdle}
		m.active = nil
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	if err := m.secrets.Materialize(&profile, req.Credentials); err != nil {
		m.finish(run, types.PhaseFailed, &types.ExitInfo{ExitCode: -1, Error: err.Error()}, nil)
		return nil, err
	}

	go m.runDeploy(run, profile, req)
	return run, nil
}

// runDeploy executes the deploy sequence and drives the resulting
// transition. Runs outside the state lock so status queries and new
// subscribers stay responsive.
func (m *Machine) runDeploy(run *Run, profile types.Profile, req DeployRequest) {
	publish := func(event types.StreamEvent) {
		event.RunID = run.ID
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}
		run.Bus.Publish(event)
	}

	publish(types.StreamEvent{Type: types.EventStart, Message: "Deploying " + profile.Name})
	publish(types.StreamEvent{Type: types.EventSection, Message: "Running deployment commands"})

	commands := resolveSequence(profile.DeploySequence(), m.commandVars(req.Version))
	result := m.runner.Run(run.ID, commands, profile.WorkDir, nil, false, run.stop, run.Bus)

	switch {
	case result.Cancelled:
		log.Printf("StateMachine: deploy of %s cancelled", profile.ID)
		publish(types.StreamEvent{Type: types.EventError, Message: "Deployment cancelled"})
		m.finish(run, types.PhaseFailed, &types.ExitInfo{
			ExitCode: -1,
			Error:    string(types.KindCancelled),
			Tail:     result.Tail,
		}, nil)

	case result.Failed():
		log.Printf("StateMachine: deploy of %s failed with exit code %d", profile.ID, result.ExitCode)
		publish(types.StreamEvent{Type: types.EventError, Message: "Deployment failed"})
		exitInfo := &types.ExitInfo{ExitCode: result.ExitCode, Tail: result.Tail}
		if result.Err != nil {
			exitInfo.Error = result.Err.Error()
		}
		m.finish(run, types.PhaseFailed, exitInfo, nil)

	default:
		publish(types.StreamEvent{Type: types.EventSuccess, Message: "Deployment commands completed"})
		publish(types.StreamEvent{Type: types.EventSection, Message: "Resolving services"})

		var links map[string]string
		stale := false
		if m.activator != nil {
			links, stale = m.activator.Deployed(profile, req.Host, publish)
		}
		if stale {
			publish(types.StreamEvent{Type: types.EventWarning, Message: "Service discovery incomplete, routes may be stale"})
		}
		for _, svc := range profile.Services {
			if url, ok := links[svc.Name]; ok {
				publish(types.StreamEvent{Type: types.EventService, Name: svc.Name, URL: url})
			}
		}

		log.Printf("StateMachine: deploy of %s succeeded", profile.ID)
		m.finishDeployed(run, links, stale)
	}
}

// finishDeployed records the Deployed transition and emits the terminal
// summary.
func (m *Machine) finishDeployed(run *Run, links map[string]string, stale bool) {
	m.mu.Lock()
	now := time.Now().UTC()
	m.state.Phase = types.PhaseDeployed
	m.state.FinishedAt = &now
	m.state.ServiceLinks = links
	m.state.RoutesStale = stale
	m.state.ExitInfo = nil
	if err := m.store.Save(&m.state); err != nil {
		log.Printf("StateMachine: failed to persist state: %v", err)
	}
	m.active = nil
	m.mu.Unlock()

	run.Bus.Publish(types.StreamEvent{
		Type:         types.EventComplete,
		RunID:        run.ID,
		Timestamp:    time.Now().UTC(),
		Phase:        types.PhaseDeployed,
		ServiceLinks: links,
	})
	run.Bus.Publish(types.StreamEvent{Type: types.EventStreamEnd, RunID: run.ID, Timestamp: time.Now().UTC()})
	run.Bus.Close()
	close(run.done)
}

// finish records a non-success terminal transition and closes the stream.
func (m *Machine) finish(run *Run, phase types.Phase, exitInfo *types.ExitInfo, links map[string]string) {
	m.mu.Lock()
	now := time.Now().UTC()
	m.state.Phase = phase
	m.state.FinishedAt = &now
	m.state.ExitInfo = exitInfo
	m.state.ServiceLinks = links
	if err := m.store.Save(&m.state); err != nil {
		log.Printf("StateMachine: failed to persist state: %v", err)
	}
	m.active = nil
	m.mu.Unlock()

	run.Bus.Publish(types.StreamEvent{
		Type:      types.EventComplete,
		RunID:     run.ID,
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		ExitInfo:  exitInfo,
	})
	run.Bus.Publish(types.StreamEvent{Type: types.EventStreamEnd, RunID: run.ID, Timestamp: time.Now().UTC()})
	run.Bus.Close()
	close(run.done)
}

// StartUninstall claims the single-flight slot and runs the active
// profile's teardown sequence. Teardown is best-effort: every command runs
// regardless of exit codes, and the state and credential files are cleared
// afterwards no matter what.
func (m *Machine) StartUninstall() (*Run, error) {
	m.mu.Lock()
	switch m.state.Phase {
	case types.PhaseDeploying, types.PhaseUninstalling:
		phase := m.state.Phase
		m.mu.Unlock()
		return nil, types.NewError(types.KindAlreadyRunning, "a %s is already in progress", phase)
	case types.PhaseIdle:
		m.mu.Unlock()
		return nil, types.NewError(types.KindNothingToUninstall, "nothing is deployed")
	}

	profile, ok := m.profiles.Get(m.state.ProfileID)
	if !ok {
		// Profile removed since deploy time; still clear local state.
		log.Printf("StateMachine: uninstalling unknown profile %q, running cleanup only", m.state.ProfileID)
	}
	version := m.state.Version

	m.state.Phase = types.PhaseUninstalling
	run := &Run{
		ID:        uuid.NewString(),
		ProfileID: m.state.ProfileID,
		Uninstall: true,
		Bus:       executor.NewBroadcaster(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.active = run
	if err := m.store.Save(&m.state); err != nil {
		log.Printf("StateMachine: failed to persist state: %v", err)
	}
	m.mu.Unlock()

	go m.runUninstall(run, profile, ok, version)
	return run, nil
}

func (m *Machine) runUninstall(run *Run, profile types.Profile, haveProfile bool, version string) {
	publish := func(event types.StreamEvent) {
		event.RunID = run.ID
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}
		run.Bus.Publish(event)
	}

	publish(types.StreamEvent{Type: types.EventStart, Message: "Uninstalling " + run.ProfileID})

	if haveProfile && len(profile.UninstallCommands) > 0 {
		commands := resolveSequence(profile.UninstallCommands, m.commandVars(version))
		result := m.runner.Run(run.ID, commands, profile.WorkDir, nil, true, run.stop, run.Bus)
		if result.Failed() {
			publish(types.StreamEvent{Type: types.EventWarning, Message: "Some teardown commands failed, continuing cleanup"})
		}
	}

	if err := m.secrets.Remove(); err != nil {
		log.Printf("StateMachine: %v", err)
	}
	if err := m.store.Remove(); err != nil {
		log.Printf("StateMachine: %v", err)
	}
	// Routing must revert even when the profile vanished from the store;
	// only the teardown commands depend on the profile definition.
	if m.activator != nil {
		m.activator.Uninstalled(profile)
	}

	m.mu.Lock()
	m.state = types.DeploymentState{Phase: types.PhaseIdle}
	m.active = nil
	m.mu.Unlock()

	publish(types.StreamEvent{Type: types.EventSuccess, Message: "Uninstall complete"})
	publish(types.StreamEvent{Type: types.EventComplete, Phase: types.PhaseIdle})
	publish(types.StreamEvent{Type: types.EventStreamEnd})
	run.Bus.Close()
	close(run.done)
}
