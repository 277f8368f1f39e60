// Package queue hands scheduled runs off to the durable work queue consumed
// by the external worker process.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"pipeline-cloud/backend/pkg/models"
)

// ErrQueueClosed is returned when operations are performed on a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// Message is the serialized handoff for one scheduled run. Arguments carry
// only the resolved values; descriptors stay behind in the run record.
type Message struct {
	WorkflowID      string                     `json:"workflow_id"`
	RunnerReference string                     `json:"runner_reference"`
	Arguments       map[string]json.RawMessage `json:"arguments"`
}

// NewMessage builds the queue message for a run.
func NewMessage(run *models.WorkflowRun) *Message {
	args := make(map[string]json.RawMessage, len(run.Arguments))
	for name, arg := range run.Arguments {
		args[name] = arg.Value
	}
	return &Message{
		WorkflowID:      run.ID,
		RunnerReference: run.RunnerReference,
		Arguments:       args,
	}
}

// Queue defines the interface for work queue implementations.
type Queue interface {
	// Enqueue adds a message to the queue.
	Enqueue(ctx context.Context, msg *Message) error

	// Close closes the queue.
	Close() error
}

// MemoryQueue is an in-memory queue implementation backing tests and local
// development.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []*Message
	closed   bool
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue adds a message to the queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.messages = append(q.messages, msg)
	return nil
}

// Messages returns a snapshot of the queued messages in enqueue order.
func (q *MemoryQueue) Messages() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Message, len(q.messages))
	copy(out, q.messages)
	return out
}

// Len returns the number of queued messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Close closes the queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
