package domain

// SeatMode controls how a seat may be occupied.
type SeatMode string

const (
	// SeatModeFree may be taken instantly by anyone.
	SeatModeFree SeatMode = "free"
	// SeatModeRequest requires host approval before occupancy.
	SeatModeRequest SeatMode = "request"
	// SeatModeLocked cannot be occupied.
	SeatModeLocked SeatMode = "locked"
)

// Seat is one transmit slot. Index is stable for the room lifetime.
// MicAllowed is the host-controlled permission flag, independent of the
// occupant's own mute choice.
type Seat struct {
	Index      int      `json:"index"`
	UserID     *UserID  `json:"userId"`
	Mode       SeatMode `json:"mode"`
	MicAllowed bool     `json:"micOn"`
}

func (s Seat) Occupied() bool { return s.UserID != nil }

func (s Seat) OccupiedBy(uid UserID) bool {
	return s.UserID != nil && *s.UserID == uid
}

// SessionRole is derived from seat occupancy, seat permission and local mic
// intent. It is never persisted.
type SessionRole string

const (
	RoleAudience   SessionRole = "audience"
	RoleSeatedMute SessionRole = "seated_muted"
	RoleSeatedLive SessionRole = "seated_live"
	// RoleKicked is terminal and supersedes all others.
	RoleKicked SessionRole = "kicked"
)
