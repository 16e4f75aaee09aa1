package notify

import (
	"sync"
	"time"

	"github.com/solsticehq/centra/internal/schema"
)

// DeadLetter pairs an undeliverable notification with the delivery failure.
type DeadLetter struct {
	Note     schema.Notification `json:"note"`
	Reason   string              `json:"reason"`
	FailedAt time.Time           `json:"failedAt"`
}

// DeadLetterQueue stores notifications that could not be delivered so an
// operator or retry job can inspect and replay them.
type DeadLetterQueue struct {
	mu       sync.Mutex
	capacity int
	letters  []DeadLetter
}

// NewDeadLetterQueue creates a DLQ with the provided capacity. Capacity <=0
// implies unbounded.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	queue := new(DeadLetterQueue)
	queue.capacity = capacity
	queue.letters = make([]DeadLetter, 0)
	return queue
}

// Offer records an undeliverable notification. A full queue drops the oldest
// letter to make space for the new record.
func (q *DeadLetterQueue) Offer(letter DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.letters) >= q.capacity {
		copy(q.letters[0:], q.letters[1:])
		q.letters[len(q.letters)-1] = letter
		return
	}
	q.letters = append(q.letters, letter)
}

// Drain retrieves and clears all queued letters.
func (q *DeadLetterQueue) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := make([]DeadLetter, len(q.letters))
	copy(drained, q.letters)
	q.letters = q.letters[:0]
	return drained
}

// Len returns the number of queued letters.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.letters)
}
