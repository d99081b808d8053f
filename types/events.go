package types

import "time"

// EventType identifies one kind of stream event.
type EventType string

const (
	EventStart     EventType = "start"      // run began
	EventSection   EventType = "section"    // logical step heading
	EventCommand   EventType = "command"    // command about to run (masked)
	EventOutput    EventType = "output"     // one merged stdout/stderr line
	EventInfo      EventType = "info"       // informational note
	EventSuccess   EventType = "success"    // step succeeded
	EventWarning   EventType = "warning"    // non-fatal problem
	EventError     EventType = "error"      // fatal problem
	EventService   EventType = "service"    // one resolved service link
	EventComplete  EventType = "complete"   // terminal summary
	EventStreamEnd EventType = "stream_end" // no more events will follow
)

// StreamEvent is one entry on a run's live event feed. All subscribers of
// the same run observe the same events in the same order.
type StreamEvent struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	Command   string    `json:"command,omitempty"`

	// Service link fields, set on "service" events.
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`

	// Summary fields, set on "complete" events.
	Phase        Phase             `json:"phase,omitempty"`
	ExitInfo     *ExitInfo         `json:"exit_info,omitempty"`
	ServiceLinks map[string]string `json:"service_links,omitempty"`
}
