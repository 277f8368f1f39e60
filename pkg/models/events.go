package models

import "encoding/json"

// EventKind tags a runner log event. The runner reports free-form event
// strings; only the process lifecycle kinds affect run counters, everything
// else is preserved under EventOther so new runner event kinds never
// require a code change here.
type EventKind string

const (
	// EventProcessSubmitted increments the run's submitted counter.
	EventProcessSubmitted EventKind = "process_submitted"
	// EventProcessCompleted increments the run's completed counter.
	EventProcessCompleted EventKind = "process_completed"
	// EventOther covers every unrecognized event kind.
	EventOther EventKind = "other"
)

// RunnerEvent is a parsed runner log event. Raw always holds the original
// payload; Trace is present for process-level events.
type RunnerEvent struct {
	Kind  EventKind
	Trace map[string]any
	Raw   json.RawMessage
}

// rawRunnerEvent is the wire shape reported by the runner.
type rawRunnerEvent struct {
	Event string         `json:"event"`
	Trace map[string]any `json:"trace"`
}

// ParseRunnerEvent decodes a runner log event. A payload that is not a
// structured record is a validation error; an unknown event kind is not.
func ParseRunnerEvent(raw []byte) (*RunnerEvent, error) {
	var wire rawRunnerEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		verrs := ValidationErrors{}
		verrs.Add("event", "payload is not a structured record")
		return nil, verrs
	}
	if wire.Event == "" {
		verrs := ValidationErrors{}
		verrs.Add("event", "is required")
		return nil, verrs
	}

	kind := EventOther
	switch EventKind(wire.Event) {
	case EventProcessSubmitted:
		kind = EventProcessSubmitted
	case EventProcessCompleted:
		kind = EventProcessCompleted
	}

	return &RunnerEvent{
		Kind:  kind,
		Trace: wire.Trace,
		Raw:   json.RawMessage(raw),
	}, nil
}
