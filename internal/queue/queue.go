// Package queue holds the host-side list of pending seat requests.
package queue

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kotkoti/voiceroom/internal/domain"
)

// Queue suppresses duplicate requests per requester: within one room at most
// one outstanding request per user may exist. A request leaves the queue only
// through host approve/deny or an authoritative replace.
type Queue struct {
	mu     sync.Mutex
	byUser map[domain.UserID]domain.SeatRequest
}

func New() *Queue {
	return &Queue{byUser: make(map[domain.UserID]domain.SeatRequest)}
}

// Add inserts a request, returning false when the requester already has one
// pending. The newer requested index wins but the original creation time is
// kept, so the requester does not lose their place.
func (q *Queue) Add(req domain.SeatRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if prev, ok := q.byUser[req.UserID]; ok {
		prev.SeatIndex = req.SeatIndex
		q.byUser[req.UserID] = prev
		log.Debug().Str("module", "queue").Str("user", string(req.UserID)).Msg("duplicate seat request suppressed")
		return false
	}
	q.byUser[req.UserID] = req
	return true
}

// ReplaceAll applies an authoritative seat.requests push, deduplicating by
// requester and keeping the earliest creation time per user.
func (q *Queue) ReplaceAll(reqs []domain.SeatRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byUser = make(map[domain.UserID]domain.SeatRequest, len(reqs))
	for _, req := range reqs {
		if prev, ok := q.byUser[req.UserID]; ok && prev.CreatedAt.Before(req.CreatedAt) {
			continue
		}
		q.byUser[req.UserID] = req
	}
}

// Remove drops a request by id, typically after approve or deny.
func (q *Queue) Remove(id string) (domain.SeatRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for uid, req := range q.byUser {
		if req.ID == id {
			delete(q.byUser, uid)
			return req, true
		}
	}
	return domain.SeatRequest{}, false
}

// Pending lists requests ordered by creation time.
func (q *Queue) Pending() []domain.SeatRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.SeatRequest, 0, len(q.byUser))
	for _, req := range q.byUser {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byUser)
}
