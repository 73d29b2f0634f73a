// Package registry holds the client-side projection of room and seat state.
// The server is the source of truth: authoritative pushes replace the
// projection wholesale, local intents only mark a pending flag for the UI.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kotkoti/voiceroom/internal/core"
	"github.com/kotkoti/voiceroom/internal/domain"
)

// Registry is a threadsafe in-memory projection. It exclusively owns the
// cached Room/Seat/Participant copies; nothing else may mutate them.
type Registry struct {
	mu           sync.RWMutex
	self         domain.UserID
	room         *domain.Room
	seats        []domain.Seat
	participants map[domain.UserID]domain.Participant

	// pending is the seat index of an unconfirmed local intent, used only
	// for UI. Cleared by any authoritative update covering that index,
	// regardless of outcome.
	pending    int
	hasPending bool
}

func New(self domain.UserID) *Registry {
	return &Registry{
		self:         self,
		participants: make(map[domain.UserID]domain.Participant),
	}
}

func (r *Registry) Self() domain.UserID { return r.self }

// ApplyRoom replaces the cached room record.
func (r *Registry) ApplyRoom(room domain.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room = &room
}

// ApplyAuthoritative unconditionally replaces the seat array. The server
// always wins over whatever intents were sent in between; applying the same
// payload twice is a no-op.
func (r *Registry) ApplyAuthoritative(seats []domain.Seat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seats = make([]domain.Seat, len(seats))
	copy(r.seats, seats)
	if r.hasPending && r.pending < len(seats) {
		r.hasPending = false
	}
	log.Debug().Str("module", "registry").Int("seats", len(seats)).Msg("applied authoritative seats")
}

func (r *Registry) ApplyParticipants(ps []domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = make(map[domain.UserID]domain.Participant, len(ps))
	for _, p := range ps {
		r.participants[p.UserID] = p
	}
}

func (r *Registry) RemoveParticipant(uid domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, uid)
}

func (r *Registry) SetParticipantMuted(uid domain.UserID, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[uid]; ok {
		p.Muted = muted
		r.participants[uid] = p
	}
}

func (r *Registry) SetChatMode(mode domain.ChatMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.room != nil {
		room := *r.room
		room.ChatMode = mode
		r.room = &room
	}
}

// SetSeatMic updates the cached host permission flag for one seat, used by
// the moderation path between authoritative pushes.
func (r *Registry) SetSeatMic(index int, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.seats {
		if r.seats[i].Index == index {
			r.seats[i].MicAllowed = allowed
			return
		}
	}
}

// MySeat returns a copy of the seat occupied by the local user, or nil.
func (r *Registry) MySeat() *domain.Seat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mySeatLocked()
}

func (r *Registry) mySeatLocked() *domain.Seat {
	for _, s := range r.seats {
		if s.OccupiedBy(r.self) {
			seat := s
			return &seat
		}
	}
	return nil
}

// CanTransmit is true iff the local user holds a seat whose mic permission
// is enabled. An occupant with no seat is audience and can never transmit.
func (r *Registry) CanTransmit() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seat := r.mySeatLocked()
	return seat != nil && seat.MicAllowed
}

// Role derives the session role from seat state and the local mic intent.
func (r *Registry) Role(micIntent bool) domain.SessionRole {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seat := r.mySeatLocked()
	switch {
	case seat == nil:
		return domain.RoleAudience
	case seat.MicAllowed && micIntent:
		return domain.RoleSeatedLive
	default:
		return domain.RoleSeatedMute
	}
}

// ValidateTake checks whether a take/request intent for the given index can
// be sent at all. The final decision still belongs to the server.
func (r *Registry) ValidateTake(index int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.room == nil || index < 0 || index >= r.room.SeatCount {
		return core.ErrInvalidSeat
	}
	for _, s := range r.seats {
		if s.Index != index {
			continue
		}
		if s.Mode == domain.SeatModeLocked {
			return core.ErrSeatUnavailable
		}
		if s.Occupied() {
			return core.ErrSeatUnavailable
		}
		return nil
	}
	return core.ErrInvalidSeat
}

// SeatMode reports the mode of a seat already validated to exist.
func (r *Registry) SeatMode(index int) (domain.SeatMode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.seats {
		if s.Index == index {
			return s.Mode, true
		}
	}
	return "", false
}

func (r *Registry) MarkPending(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = index
	r.hasPending = true
}

func (r *Registry) ClearPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasPending = false
}

func (r *Registry) PendingSeat() (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending, r.hasPending
}

func (r *Registry) Participant(uid domain.UserID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[uid]
	return p, ok
}

// UserForRTCUID resolves a transport identifier back to its participant.
func (r *Registry) UserForRTCUID(rtcUID string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.RTCUID == rtcUID {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// View is a read-only snapshot for UI and debug surfaces.
type View struct {
	Room         *domain.Room         `json:"room"`
	Seats        []domain.Seat        `json:"seats"`
	Participants []domain.Participant `json:"participants"`
	PendingSeat  *int                 `json:"pendingSeat,omitempty"`
}

func (r *Registry) Snapshot() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := View{}
	if r.room != nil {
		room := *r.room
		v.Room = &room
	}
	v.Seats = make([]domain.Seat, len(r.seats))
	copy(v.Seats, r.seats)
	v.Participants = make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		v.Participants = append(v.Participants, p)
	}
	if r.hasPending {
		idx := r.pending
		v.PendingSeat = &idx
	}
	return v
}
