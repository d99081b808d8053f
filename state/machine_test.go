package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interlude/config"
	"interlude/executor"
	"interlude/secrets"
	"interlude/types"
)

type stubActivator struct {
	mu          sync.Mutex
	links       map[string]string
	stale       bool
	uninstalled bool
}

func (s *stubActivator) Deployed(profile types.Profile, host string, publish func(types.StreamEvent)) (map[string]string, bool) {
	return s.links, s.stale
}

func (s *stubActivator) Uninstalled(profile types.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uninstalled = true
}

func (s *stubActivator) wasUninstalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uninstalled
}

type testEnv struct {
	machine     *Machine
	store       *Store
	statePath   string
	credPath    string
	profiles    *config.ProfileStore
	profilesDir string
	activator   *stubActivator
}

func newTestEnv(t *testing.T, profileYAML string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	profilesDir := filepath.Join(dir, "profiles")
	require.NoError(t, os.MkdirAll(profilesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(profilesDir, "test.yaml"), []byte(profileYAML), 0o644))

	profiles, err := config.NewProfileStore(profilesDir)
	require.NoError(t, err)

	statePath := filepath.Join(dir, "state.json")
	credPath := filepath.Join(dir, "deploy.env")
	store := NewStore(statePath)
	runner := executor.NewRunner(2*time.Second, 10)

	machine, err := NewMachine(store, profiles, secrets.NewMaterializer(credPath), runner, false)
	require.NoError(t, err)

	activator := &stubActivator{}
	machine.SetActivator(activator)

	return &testEnv{
		machine:     machine,
		store:       store,
		statePath:   statePath,
		credPath:    credPath,
		profiles:    profiles,
		profilesDir: profilesDir,
		activator:   activator,
	}
}

func waitForRun(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for run to finish")
	}
}

const quickProfile = `
id: quick
name: Quick
platform: compose
command: ["sh", "-c", "echo deploying"]
uninstall_commands:
  - ["sh", "-c", "echo tearing down"]
inputs:
  - id: token
    env_var: API_TOKEN
    required: true
    secret: true
services:
  - name: dashboard
    service: dash
    port: 3000
    path_prefix: /dashboard/
    url_template: https://dash${BASE_DOMAIN}
`

const slowProfile = `
id: slow
name: Slow
platform: compose
command: ["sleep", "1"]
uninstall_commands:
  - ["sh", "-c", "echo bye"]
`

const failingProfile = `
id: failing
name: Failing
platform: compose
versions: ["2.0"]
command: ["sh", "-c", "echo building; exit 1"]
uninstall_commands:
  - ["sh", "-c", "echo bye"]
`

func TestConcurrentDeploysExactlyOneSucceeds(t *testing.T) {
	env := newTestEnv(t, slowProfile)

	const attempts = 5
	var wg sync.WaitGroup
	results := make([]error, attempts)
	runs := make([]*Run, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runs[i], results[i] = env.machine.StartDeploy(DeployRequest{ProfileID: "slow"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range results {
		if err == nil {
			succeeded++
			waitForRun(t, runs[i])
		} else {
			assert.Equal(t, types.KindAlreadyRunning, types.KindOf(err))
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestFailingCommandTransitionsToFailed(t *testing.T) {
	env := newTestEnv(t, failingProfile)

	run, err := env.machine.StartDeploy(DeployRequest{ProfileID: "failing", Version: "2.0"})
	require.NoError(t, err)
	waitForRun(t, run)

	st := env.machine.State()
	assert.Equal(t, types.PhaseFailed, st.Phase)
	require.NotNil(t, st.ExitInfo)
	assert.Equal(t, 1, st.ExitInfo.ExitCode)
	assert.Contains(t, st.ExitInfo.Tail, "building")
	assert.Empty(t, st.ServiceLinks)

	// The failed state is persisted for recovery.
	persisted, err := env.store.Load()
	require.NoError(t, err)
	assert.Equal(t, types.PhaseFailed, persisted.Phase)
}

func TestSuccessfulDeployRecordsLinks(t *testing.T) {
	env := newTestEnv(t, quickProfile)
	env.activator.links = map[string]string{"dashboard": "https://dash-abc.example.com"}

	run, err := env.machine.StartDeploy(DeployRequest{
		ProfileID:   "quick",
		Credentials: map[string]string{"token": "secret-token"},
		Host:        "studio-abc.example.com",
	})
	require.NoError(t, err)
	waitForRun(t, run)

	st := env.machine.State()
	assert.Equal(t, types.PhaseDeployed, st.Phase)
	assert.Equal(t, env.activator.links, st.ServiceLinks)
	assert.False(t, st.RoutesStale)
	assert.Nil(t, st.ExitInfo)

	// Credential file was materialized for the tooling.
	content, err := os.ReadFile(env.credPath)
	require.NoError(t, err)
	assert.Equal(t, "API_TOKEN=secret-token\n", string(content))
}

func TestStaleDiscoveryDoesNotFailDeploy(t *testing.T) {
	env := newTestEnv(t, quickProfile)
	env.activator.stale = true

	run, err := env.machine.StartDeploy(DeployRequest{
		ProfileID:   "quick",
		Credentials: map[string]string{"token": "x"},
	})
	require.NoError(t, err)
	waitForRun(t, run)

	st := env.machine.State()
	assert.Equal(t, types.PhaseDeployed, st.Phase)
	assert.True(t, st.RoutesStale)
}

func TestDryRunNeverMutatesAnything(t *testing.T) {
	env := newTestEnv(t, failingProfile)

	result, err := env.machine.DryRun(DeployRequest{ProfileID: "failing", Version: "2.0", DryRun: true})
	require.NoError(t, err)

	require.Len(t, result.Commands, 1)
	assert.Equal(t, []string{"sh", "-c", "echo building; exit 1"}, result.Commands[0])

	assert.Equal(t, types.PhaseIdle, env.machine.State().Phase)
	_, statErr := os.Stat(env.credPath)
	assert.True(t, os.IsNotExist(statErr), "dry run must not touch the credential file")
	_, statErr = os.Stat(env.statePath)
	assert.True(t, os.IsNotExist(statErr), "dry run must not persist state")
}

func TestDryRunMasksEveryCredential(t *testing.T) {
	env := newTestEnv(t, quickProfile)

	result, err := env.machine.DryRun(DeployRequest{
		ProfileID:   "quick",
		Credentials: map[string]string{"token": "super-secret-value"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"API_TOKEN": secrets.MaskToken}, result.Env)
	for _, argv := range result.Commands {
		for _, arg := range argv {
			assert.NotContains(t, arg, "super-secret-value")
		}
	}
}

func TestDeployValidationErrors(t *testing.T) {
	env := newTestEnv(t, quickProfile)

	_, err := env.machine.StartDeploy(DeployRequest{ProfileID: "missing"})
	assert.Equal(t, types.KindUnknownProfile, types.KindOf(err))

	_, err = env.machine.StartDeploy(DeployRequest{ProfileID: "quick"})
	assert.Equal(t, types.KindMissingRequiredField, types.KindOf(err))

	_, err = env.machine.StartDeploy(DeployRequest{
		ProfileID:   "quick",
		Credentials: map[string]string{"token": "x", "bogus": "y"},
	})
	assert.Equal(t, types.KindUnknownField, types.KindOf(err))

	// Validation errors never mutate state.
	assert.Equal(t, types.PhaseIdle, env.machine.State().Phase)
}

func TestUninstallResetsToIdleAndRemovesFiles(t *testing.T) {
	env := newTestEnv(t, failingProfile)

	run, err := env.machine.StartDeploy(DeployRequest{ProfileID: "failing"})
	require.NoError(t, err)
	waitForRun(t, run)
	require.Equal(t, types.PhaseFailed, env.machine.State().Phase)

	uninstall, err := env.machine.StartUninstall()
	require.NoError(t, err)
	waitForRun(t, uninstall)

	assert.Equal(t, types.PhaseIdle, env.machine.State().Phase)
	assert.True(t, env.activator.wasUninstalled())

	_, statErr := os.Stat(env.statePath)
	assert.True(t, os.IsNotExist(statErr), "state file should be gone after uninstall")
	_, statErr = os.Stat(env.credPath)
	assert.True(t, os.IsNotExist(statErr), "credential file should be gone after uninstall")
}

func TestUninstallRevertsRoutingWhenProfileRemoved(t *testing.T) {
	env := newTestEnv(t, quickProfile)

	run, err := env.machine.StartDeploy(DeployRequest{
		ProfileID:   "quick",
		Credentials: map[string]string{"token": "x"},
	})
	require.NoError(t, err)
	waitForRun(t, run)
	require.Equal(t, types.PhaseDeployed, env.machine.State().Phase)

	// The deployed profile disappears from the store (hot reload of an
	// edited profiles directory).
	require.NoError(t, os.Remove(filepath.Join(env.profilesDir, "test.yaml")))
	require.NoError(t, env.profiles.Reload())

	uninstall, err := env.machine.StartUninstall()
	require.NoError(t, err)
	waitForRun(t, uninstall)

	assert.Equal(t, types.PhaseIdle, env.machine.State().Phase)
	assert.True(t, env.activator.wasUninstalled(), "routing must revert even without the profile definition")
	_, statErr := os.Stat(env.credPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUninstallFromIdleFails(t *testing.T) {
	env := newTestEnv(t, quickProfile)

	_, err := env.machine.StartUninstall()
	assert.Equal(t, types.KindNothingToUninstall, types.KindOf(err))
}

func TestRecoveryDemotesInterruptedPhase(t *testing.T) {
	dir := t.TempDir()
	profilesDir := filepath.Join(dir, "profiles")
	require.NoError(t, os.MkdirAll(profilesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(profilesDir, "q.yaml"), []byte(quickProfile), 0o644))

	profiles, err := config.NewProfileStore(profilesDir)
	require.NoError(t, err)

	statePath := filepath.Join(dir, "state.json")
	store := NewStore(statePath)
	now := time.Now().UTC()
	require.NoError(t, store.Save(&types.DeploymentState{
		Phase:     types.PhaseDeploying,
		ProfileID: "quick",
		StartedAt: &now,
	}))

	runner := executor.NewRunner(time.Second, 5)
	machine, err := NewMachine(store, profiles, secrets.NewMaterializer(filepath.Join(dir, "env")), runner, false)
	require.NoError(t, err)

	st := machine.State()
	assert.Equal(t, types.PhaseFailed, st.Phase)
	require.NotNil(t, st.ExitInfo)
	assert.Contains(t, st.ExitInfo.Error, "restarted")
}

func TestTwoSubscribersSeeSameDeployStream(t *testing.T) {
	env := newTestEnv(t, quickProfile)

	run, err := env.machine.StartDeploy(DeployRequest{
		ProfileID:   "quick",
		Credentials: map[string]string{"token": "x"},
	})
	require.NoError(t, err)

	first := run.Bus.Subscribe()
	second := run.Bus.Subscribe()
	waitForRun(t, run)

	var firstEvents, secondEvents []types.StreamEvent
	for event := range first {
		firstEvents = append(firstEvents, event)
	}
	for event := range second {
		secondEvents = append(secondEvents, event)
	}

	assert.Equal(t, firstEvents, secondEvents)
	require.NotEmpty(t, firstEvents)
	assert.Equal(t, types.EventStreamEnd, firstEvents[len(firstEvents)-1].Type)
	assert.Equal(t, types.EventComplete, firstEvents[len(firstEvents)-2].Type)
}
