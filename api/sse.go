package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"interlude/state"
	"interlude/types"
)

const keepAliveInterval = 15 * time.Second

// setSSEHeaders prepares the response for server-sent events.
func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}

// writeEvent sends one event in SSE framing and flushes it immediately.
func writeEvent(c *gin.Context, event types.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// writeKeepAlive sends an SSE comment so idle connections stay open through
// intermediaries.
func writeKeepAlive(c *gin.Context) error {
	if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// streamRun subscribes to a run and relays its events until the run ends or
// the client disconnects. A disconnecting client never affects the run.
func (h *Handler) streamRun(c *gin.Context, run *state.Run) {
	setSSEHeaders(c)

	events := run.Bus.Subscribe()
	defer run.Bus.Unsubscribe(events)

	h.metrics.SubscriberAttached()
	defer h.metrics.SubscriberDetached()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(c, event); err != nil {
				return
			}
			if event.Type == types.EventStreamEnd {
				return
			}
		case <-keepAlive.C:
			if err := writeKeepAlive(c); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}
