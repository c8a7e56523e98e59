package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingQueueOrdersResponses(t *testing.T) {
	t.Parallel()
	var q PendingQueue
	q.Push(0)
	q.Push(1)
	q.Push(2)

	require.NoError(t, q.Pop(0))
	require.NoError(t, q.Pop(1))
	require.NoError(t, q.Pop(2))
	assert.Equal(t, 0, q.Len())
}

func TestPendingQueueRejectsOutOfOrder(t *testing.T) {
	t.Parallel()
	var q PendingQueue
	q.Push(0)
	q.Push(1)

	err := q.Pop(1)
	assert.Error(t, err)
	// The front entry (0) must still be pending after the rejected pop.
	assert.Equal(t, 2, q.Len())
}

func TestPendingQueueRejectsResponseWithNothingPending(t *testing.T) {
	t.Parallel()
	var q PendingQueue
	assert.Error(t, q.Pop(0))
}

func TestPendingQueueResetClears(t *testing.T) {
	t.Parallel()
	var q PendingQueue
	q.Push(0)
	q.Push(1)
	q.Reset()
	assert.Equal(t, 0, q.Len())
	assert.Error(t, q.Pop(0))
}

func TestIDGeneratorMonotonic(t *testing.T) {
	t.Parallel()
	var g IDGenerator
	assert.Equal(t, RequestID(0), g.Next())
	assert.Equal(t, RequestID(1), g.Next())
	assert.Equal(t, RequestID(2), g.Next())
}
