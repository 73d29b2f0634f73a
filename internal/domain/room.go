package domain

type RoomID string

// ChatMode controls who may post in the room chat.
type ChatMode string

const (
	ChatAll      ChatMode = "all"
	ChatSeatOnly ChatMode = "seat_only"
	ChatLocked   ChatMode = "locked"
)

// Room is the client-side cached copy of the server's room record.
// It is replaced wholesale on every authoritative push, never edited in place.
type Room struct {
	ID        RoomID   `json:"id"`
	Name      string   `json:"name"`
	HostID    UserID   `json:"hostId"`
	SeatCount int      `json:"seatCount"`
	ChatMode  ChatMode `json:"chatMode"`
	HasPin    bool     `json:"hasPin"`
}
