package hub

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSubscriber) Notify(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSubscriber) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func testHub() *Hub {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestJoinAndPublish(t *testing.T) {
	h := testHub()
	sub := &recordingSubscriber{}

	h.Join("run-1", sub)
	h.Publish("run-1", EventNewProgress, map[string]int{"submitted_processes": 1})

	assert.Equal(t, []string{EventNewProgress}, sub.received())
}

func TestPublishScopedToGroup(t *testing.T) {
	h := testHub()
	member := &recordingSubscriber{}
	outsider := &recordingSubscriber{}

	h.Join("run-1", member)
	h.Join("run-2", outsider)
	h.Publish("run-1", EventFinishedWorkflow, struct{}{})

	assert.Equal(t, []string{EventFinishedWorkflow}, member.received())
	assert.Empty(t, outsider.received(), "other groups must not receive the publish")
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := testHub()
	sub := &recordingSubscriber{}

	h.Join("run-1", sub)
	h.Publish("run-1", EventNewProgress, nil)
	h.Leave("run-1", sub)
	h.Publish("run-1", EventNewProgress, nil)

	assert.Equal(t, []string{EventNewProgress}, sub.received())
	assert.Zero(t, h.GroupSize("run-1"), "last leave frees the group")
}

func TestNeverJoinedReceivesNothing(t *testing.T) {
	h := testHub()
	sub := &recordingSubscriber{}

	h.Publish("run-1", EventNewProgress, nil)
	assert.Empty(t, sub.received())

	// Leaving a group never joined is a no-op.
	h.Leave("run-1", sub)
	assert.Zero(t, h.GroupSize("run-1"))
}

func TestLeaveAll(t *testing.T) {
	h := testHub()
	sub := &recordingSubscriber{}
	other := &recordingSubscriber{}

	h.Join("run-1", sub)
	h.Join("run-2", sub)
	h.Join("run-2", other)
	h.LeaveAll(sub)

	assert.Zero(t, h.GroupSize("run-1"))
	assert.Equal(t, 1, h.GroupSize("run-2"))
}

func TestConcurrentMembershipAndPublish(t *testing.T) {
	h := testHub()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		sub := &recordingSubscriber{}
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Join("run-1", sub)
			h.Leave("run-1", sub)
		}()
		go func() {
			defer wg.Done()
			h.Publish("run-1", EventNewProgress, nil)
		}()
	}
	wg.Wait()

	assert.Zero(t, h.GroupSize("run-1"))
}
