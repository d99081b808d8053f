package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"interlude/activation"
	"interlude/api"
	"interlude/config"
	"interlude/discovery"
	"interlude/dns"
	"interlude/executor"
	"interlude/proxy"
	"interlude/secrets"
	"interlude/state"
	"interlude/types"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(os.Getenv("INTERLUDE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	profiles, err := config.NewProfileStore(cfg.ProfilesDir)
	if err != nil {
		log.Fatalf("Failed to load profiles: %v", err)
	}

	// Initialize the core components
	materializer := secrets.NewMaterializer(cfg.CredentialFilePath)
	runner := executor.NewRunner(time.Duration(cfg.CancelGraceSeconds)*time.Second, cfg.TailLines)
	store := state.NewStore(cfg.StateFilePath)

	machine, err := state.NewMachine(store, profiles, materializer, runner, cfg.DryRunOverride)
	if err != nil {
		log.Fatalf("Failed to initialize state machine: %v", err)
	}

	resolver := discovery.NewResolver(cfg.HostIPEndpoint, cfg.FallbackBackend)
	if dockerBackend, err := discovery.NewDockerBackend(); err != nil {
		log.Printf("Discovery: docker backend unavailable: %v", err)
	} else {
		resolver.Register(types.PlatformCompose, dockerBackend)
	}
	if kubeBackend, err := discovery.NewKubeBackend(); err != nil {
		log.Printf("Discovery: kubernetes backend unavailable: %v", err)
	} else {
		resolver.Register(types.PlatformKubernetes, kubeBackend)
	}

	proxyManager := proxy.NewManager(cfg.Proxy, cfg.UIPathPrefix, cfg.OrchestratorAddr)

	dnsClient, err := dns.NewClient(cfg.Cloudflare)
	if err != nil {
		log.Fatalf("Failed to initialize DNS client: %v", err)
	}

	machine.SetActivator(activation.New(resolver, proxyManager, dnsClient))

	// A recovered deployed phase keeps whatever routing is already live;
	// everything else starts from the pre-deployment topology.
	if machine.State().Phase != types.PhaseDeployed {
		if err := proxyManager.Activate(ctx, types.ModePre, nil); err != nil {
			log.Printf("Proxy: initial activation failed, continuing without routing: %v", err)
		}
	}

	// Hot-reload profiles on edits
	go func() {
		if err := config.WatchProfiles(ctx, profiles); err != nil {
			log.Printf("ProfileStore: watcher stopped: %v", err)
		}
	}()

	handler := api.NewHandler(cfg, profiles, machine, api.NewMetrics())
	apiServer := &http.Server{
		Addr:    cfg.APIServerPort,
		Handler: api.NewRouter(handler, cfg.UIPathPrefix),
	}

	log.Printf("Interlude API server starting on port %s", cfg.APIServerPort)

	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API Server ListenAndServe error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	// Stop the profile watcher
	cancel()

	// Cancel any in-flight run and wait for its transition to land so the
	// persisted state is accurate on the next start.
	if run := machine.ActiveRun(); run != nil {
		log.Printf("Cancelling in-flight run for profile '%s'...", run.ProfileID)
		run.Cancel()
		select {
		case <-run.Done():
			log.Println("In-flight run finished.")
		case <-time.After(time.Duration(cfg.CancelGraceSeconds+5) * time.Second):
			log.Println("In-flight run did not finish in time.")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	log.Println("Attempting to shut down API server...")
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("API Server failed to shutdown gracefully: %v", err)
	} else {
		log.Println("API Server shutdown complete.")
	}

	log.Println("Server exited gracefully")
}
