// Package hub manages per-run groups of live subscribers and fans progress
// notifications out to them.
package hub

import (
	"log/slog"
	"sync"
)

// Push event names delivered to subscribers.
const (
	// EventNewProgress carries the updated counter pair after a counter
	// mutation.
	EventNewProgress = "new-progress"
	// EventFinishedWorkflow signals the end of a run cycle. Empty payload.
	EventFinishedWorkflow = "finished-workflow"
)

// Subscriber receives fan-out events for the runs it joined. Notify must
// not block; slow or gone subscribers drop messages rather than stall the
// publisher.
type Subscriber interface {
	Notify(event string, payload any)
}

// Hub tracks subscriber groups keyed by run id. Groups exist only while at
// least one member is joined; the last leave frees the group. Join, Leave
// and Publish are safe under concurrent access.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		groups: make(map[string]map[Subscriber]struct{}),
	}
}

// Join adds the subscriber to the run's group, creating the group on first
// join. Joining twice is a no-op.
func (h *Hub) Join(runID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[runID]
	if !ok {
		group = make(map[Subscriber]struct{})
		h.groups[runID] = group
	}
	group[sub] = struct{}{}
	h.logger.Debug("subscriber joined run group", "run_id", runID, "members", len(group))
}

// Leave removes the subscriber from the run's group and frees the group
// when it empties. Leaving a group never joined is a no-op.
func (h *Hub) Leave(runID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(runID, sub)
}

// LeaveAll removes the subscriber from every group it joined. Called on
// connection loss, which is treated as a normal leave.
func (h *Hub) LeaveAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for runID := range h.groups {
		h.leaveLocked(runID, sub)
	}
}

func (h *Hub) leaveLocked(runID string, sub Subscriber) {
	group, ok := h.groups[runID]
	if !ok {
		return
	}
	if _, member := group[sub]; !member {
		return
	}
	delete(group, sub)
	if len(group) == 0 {
		delete(h.groups, runID)
	}
	h.logger.Debug("subscriber left run group", "run_id", runID, "members", len(group))
}

// Publish delivers the payload under the event name to every current
// member of the run's group, best-effort. No delivery confirmation, no
// retry; a publish racing a join may or may not reach the new member.
func (h *Hub) Publish(runID, event string, payload any) {
	h.mu.RLock()
	members := make([]Subscriber, 0, len(h.groups[runID]))
	for sub := range h.groups[runID] {
		members = append(members, sub)
	}
	h.mu.RUnlock()

	for _, sub := range members {
		sub.Notify(event, payload)
	}
}

// GroupSize returns the current member count of a run's group.
func (h *Hub) GroupSize(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[runID])
}
