package taskqueue

import (
	"sync"
	"time"
)

// chunkSize is the number of tasks per node in the ingress linked list.
const chunkSize = 128

// task is one queued unit of work.
type task struct {
	enqueued time.Time
	fn       func()
	fail     func(error) // if set, completes a task that will never run
}

// ingress is a chunked linked-list FIFO of tasks.
//
// It is NOT thread-safe, the queue mutex guards every call.
type ingress struct {
	head   *chunk
	tail   *chunk
	length int
}

var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunk is a fixed-size node, read at readPos and written at pos.
type chunk struct {
	tasks   [chunkSize]task
	next    *chunk
	readPos int
	pos     int
}

func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk clears retained closures before pooling the chunk.
func returnChunk(c *chunk) {
	for i := 0; i < c.pos; i++ {
		c.tasks[i] = task{}
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	chunkPool.Put(c)
}

func (q *ingress) Push(t task) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}
	if q.tail.pos == len(q.tail.tasks) {
		next := newChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.tasks[q.tail.pos] = t
	q.tail.pos++
	q.length++
}

func (q *ingress) Pop() (task, bool) {
	if q.head == nil || q.length == 0 {
		return task{}, false
	}

	if q.head.readPos >= q.head.pos {
		// only reachable when head is exhausted but a later chunk has work
		old := q.head
		q.head = q.head.next
		returnChunk(old)
	}

	t := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = task{}
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			q.head.pos = 0
			q.head.readPos = 0
		} else {
			old := q.head
			q.head = q.head.next
			returnChunk(old)
		}
	}

	return t, true
}

func (q *ingress) Len() int {
	return q.length
}
