package session

import "github.com/kalkanci/guvenlikkamerasi/internal/room"

// CandidateQueue holds remote candidates that arrived before the remote
// description. It is not safe for concurrent use; the session loop owns it.
type CandidateQueue struct {
	items []room.Candidate
}

// Push appends c.
func (q *CandidateQueue) Push(c room.Candidate) {
	q.items = append(q.items, c)
}

// Len returns the number of queued candidates.
func (q *CandidateQueue) Len() int {
	return len(q.items)
}

// Drain empties the queue and returns its content in arrival order.
func (q *CandidateQueue) Drain() []room.Candidate {
	items := q.items
	q.items = nil
	return items
}
