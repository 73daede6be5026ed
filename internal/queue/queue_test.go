package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnqueue_ReplacesByUID(t *testing.T) {
	q := New(10)
	q.Enqueue([]*Frame{{UID: "a", Bytes: []byte("1")}})
	q.Enqueue([]*Frame{{UID: "a", Bytes: []byte("2")}})

	assert.Equal(t, 1, q.Depth())
	m := q.Metrics()
	assert.Equal(t, uint64(2), m.Enqueued)
	assert.Equal(t, uint64(1), m.Replaced)

	f, ok := q.Dequeue(0)
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), f.Bytes)
}

func TestEnqueue_DropsOldestOnOverflow(t *testing.T) {
	q := New(2)
	q.Enqueue([]*Frame{{UID: "a"}, {UID: "b"}, {UID: "c"}})

	assert.Equal(t, 2, q.Depth())
	m := q.Metrics()
	assert.Equal(t, uint64(1), m.DroppedFull)

	f, ok := q.Dequeue(0)
	assert.True(t, ok)
	assert.Equal(t, "b", f.UID)
}

func TestDequeue_DiscardsStale(t *testing.T) {
	q := New(10)
	now := time.Now()
	q.now = func() time.Time { return now }

	q.Enqueue([]*Frame{{UID: "a"}})

	q.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := q.Dequeue(time.Minute)
	assert.False(t, ok)

	m := q.Metrics()
	assert.Equal(t, uint64(1), m.DroppedStale)
}

func TestDequeue_EmptyQueue(t *testing.T) {
	q := New(10)
	_, ok := q.Dequeue(0)
	assert.False(t, ok)
}
