package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeline-cloud/backend/pkg/models"
)

func TestNewMessageResolvesArguments(t *testing.T) {
	run := &models.WorkflowRun{
		ID:              "run-1",
		RunnerReference: "rnaseq",
		Arguments: map[string]models.Argument{
			"genome":  {Type: "text", Label: "Genome", Value: json.RawMessage(`"GRCh38"`)},
			"threads": {Type: "number", Value: json.RawMessage("8")},
		},
	}

	msg := NewMessage(run)
	assert.Equal(t, "run-1", msg.WorkflowID)
	assert.Equal(t, "rnaseq", msg.RunnerReference)
	assert.JSONEq(t, `"GRCh38"`, string(msg.Arguments["genome"]))
	assert.JSONEq(t, "8", string(msg.Arguments["threads"]))
}

func TestMemoryQueueOrdering(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Enqueue(ctx, &Message{WorkflowID: "a"}))
	require.NoError(t, q.Enqueue(ctx, &Message{WorkflowID: "b"}))

	msgs := q.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].WorkflowID)
	assert.Equal(t, "b", msgs[1].WorkflowID)
	assert.Equal(t, 2, q.Len())
}

func TestMemoryQueueClosed(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Close())

	err := q.Enqueue(ctx, &Message{WorkflowID: "a"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestNewRedisQueueValidation(t *testing.T) {
	_, err := NewRedisQueue(RedisOptions{})
	assert.Error(t, err)

	_, err = NewRedisQueue(RedisOptions{Name: "runs"})
	assert.Error(t, err, "client is required")
}
