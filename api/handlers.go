package api

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"interlude/config"
	"interlude/state"
	"interlude/types"
)

// Handler serves the orchestrator's control-plane surface.
type Handler struct {
	cfg      config.Config
	profiles *config.ProfileStore
	machine  *state.Machine
	metrics  *Metrics
}

// NewHandler creates the control-plane handler.
func NewHandler(cfg config.Config, profiles *config.ProfileStore, machine *state.Machine, metrics *Metrics) *Handler {
	return &Handler{cfg: cfg, profiles: profiles, machine: machine, metrics: metrics}
}

// deployRequest is the POST /deploy body. Credential values are never
// echoed back.
type deployRequest struct {
	ProfileID   string            `json:"profile_id"`
	Version     string            `json:"version"`
	Credentials map[string]string `json:"credentials"`
	DryRun      bool              `json:"dry_run"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// respondError maps an error kind to an HTTP status and writes the stable
// tag plus message. Messages never carry credential values.
func respondError(c *gin.Context, err error) {
	kind := types.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case types.KindAlreadyRunning, types.KindNothingToUninstall:
		status = http.StatusConflict
	case types.KindUnknownProfile:
		status = http.StatusNotFound
	case types.KindMissingRequiredField, types.KindUnknownField:
		status = http.StatusBadRequest
	case types.KindConfigInvalid:
		status = http.StatusUnprocessableEntity
	}

	// The kind travels in its own field, so the message drops the prefix.
	message := err.Error()
	var tagged *types.Error
	if errors.As(err, &tagged) {
		message = tagged.Message
	}

	c.JSON(status, gin.H{"error": errorBody{Kind: string(kind), Message: message}})
}

// profileView is the credential-free profile representation returned by
// GET /config.
type profileView struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Platform     types.Platform      `json:"platform"`
	Versions     []string            `json:"versions,omitempty"`
	InputFields  []types.InputField  `json:"input_fields"`
	Services     []types.ServiceLink `json:"services"`
	HasUninstall bool                `json:"has_uninstall"`
}

// GetConfig returns the launcher metadata: project identity, the loaded
// profiles and the active deployment summary. Credentials are never
// included.
func (h *Handler) GetConfig(c *gin.Context) {
	profiles := h.profiles.All()
	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, profileView{
			ID:           p.ID,
			Name:         p.Name,
			Platform:     p.Platform,
			Versions:     p.Versions,
			InputFields:  p.Inputs,
			Services:     p.Services,
			HasUninstall: p.HasUninstall(),
		})
	}

	deployment := h.machine.State()
	c.JSON(http.StatusOK, gin.H{
		"project_name":      h.cfg.ProjectName,
		"heading":           h.cfg.Heading,
		"launcher_path":     h.cfg.UIPathPrefix,
		"default_profile":   h.cfg.DefaultProfileID,
		"dry_run_override":  h.cfg.DryRunOverride,
		"active_deployment": deployment,
		"profiles":          views,
	})
}

// GetState returns the current deployment state.
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.machine.State())
}

// GetHelp serves the static help content.
func (h *Handler) GetHelp(c *gin.Context) {
	content, err := os.ReadFile(h.cfg.HelpFilePath)
	if err != nil {
		c.String(http.StatusOK, "No help content configured.\n")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", content)
}

// PostDeploy validates and starts a deployment. Dry-run requests get a
// single JSON preview with masked credentials; real runs stream events.
func (h *Handler) PostDeploy(c *gin.Context) {
	var body deployRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{Message: "invalid request body"}})
		return
	}

	req := state.DeployRequest{
		ProfileID:   body.ProfileID,
		Version:     body.Version,
		Credentials: body.Credentials,
		DryRun:      body.DryRun,
		Host:        c.Request.Host,
	}

	if h.machine.IsDryRun(req) {
		result, err := h.machine.DryRun(req)
		if err != nil {
			respondError(c, err)
			return
		}
		h.metrics.DryRunsTotal.Inc()
		c.JSON(http.StatusOK, result)
		return
	}

	run, err := h.machine.StartDeploy(req)
	if err != nil {
		respondError(c, err)
		return
	}

	go h.observeRun(run)
	h.streamRun(c, run)
}

// observeRun records run metrics once the terminal transition lands.
func (h *Handler) observeRun(run *state.Run) {
	started := time.Now()
	<-run.Done()
	outcome := string(h.machine.State().Phase)
	h.metrics.RecordDeploy(run.ProfileID, outcome, time.Since(started).Seconds())
}

// PostUninstall starts the teardown sequence and streams its output.
func (h *Handler) PostUninstall(c *gin.Context) {
	run, err := h.machine.StartUninstall()
	if err != nil {
		respondError(c, err)
		return
	}

	h.metrics.UninstallsTotal.Inc()
	h.streamRun(c, run)
}

// GetStream attaches to the in-progress run, replaying everything emitted
// so far before relaying live events.
func (h *Handler) GetStream(c *gin.Context) {
	run := h.machine.ActiveRun()
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": errorBody{Message: "no run in progress"}})
		return
	}
	h.streamRun(c, run)
}
