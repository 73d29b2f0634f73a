package core

import (
	"encoding/json"

	"github.com/kotkoti/voiceroom/internal/domain"
)

// EventType names an authoritative server push.
type EventType string

const (
	EventRoomJoin    EventType = "room.join"
	EventRoomLeave   EventType = "room.leave"
	EventParticipant EventType = "participant.update"
	EventSeatUpdate  EventType = "seat.update"
	EventSeatReqList EventType = "seat.requests"
	EventSeatRequest EventType = "seat.request"
	EventSeatInvited EventType = "seat.invited"
	EventSeatMute    EventType = "seat.mute"
	EventMicOn       EventType = "user.micOn"
	EventMicOff      EventType = "user.micOff"
	EventKicked      EventType = "user.kicked"
	EventChatMode    EventType = "chat:modeChanged"

	// Synthetic events emitted by the channel itself, never by the server.
	// EventResync follows every reconnect: the caller must treat it as a
	// full-state resync, not a delta.
	EventResync EventType = "channel.resync"
	// EventDown marks the reconnect ceiling; background retry continues.
	EventDown EventType = "channel.down"
)

// ServerEvent is one decoded envelope from the realtime channel. Payload is
// the raw envelope body; handlers unmarshal the shape they expect.
type ServerEvent struct {
	Type    EventType
	Payload json.RawMessage
}

type SeatUpdatePayload struct {
	Seats []domain.Seat `json:"seats"`
}

type ParticipantsPayload struct {
	Participants []domain.Participant `json:"participants"`
}

type SeatRequestsPayload struct {
	Requests []domain.SeatRequest `json:"requests"`
}

type SeatRequestPayload struct {
	Request domain.SeatRequest `json:"request"`
}

type SeatInvitedPayload struct {
	RoomID    domain.RoomID `json:"roomId"`
	SeatIndex int           `json:"seatIndex"`
}

type SeatMutePayload struct {
	SeatIndex int           `json:"seatIndex"`
	Mute      bool          `json:"mute"`
	UserID    domain.UserID `json:"userId"`
}

type UserPayload struct {
	UserID domain.UserID `json:"userId"`
	// Reason distinguishes a plain kick from a ban on user.kicked.
	Reason string `json:"reason,omitempty"`
}

type ChatModePayload struct {
	Mode domain.ChatMode `json:"mode"`
}

// IntentType names a client-originated message.
type IntentType string

const (
	IntentJoin        IntentType = "room.join"
	IntentLeave       IntentType = "room.leave"
	IntentSeatRequest IntentType = "seat.request"
	IntentSeatInvite  IntentType = "seat.invited"
	IntentMicOn       IntentType = "user.micOn"
	IntentMicOff      IntentType = "user.micOff"
)

// ClientIntent is an outbound envelope. Marshalled flat as {type, ...} like
// every server event.
type ClientIntent struct {
	Type      IntentType    `json:"type"`
	RoomID    domain.RoomID `json:"roomId"`
	UserID    domain.UserID `json:"userId"`
	SeatIndex *int          `json:"seatIndex,omitempty"`
}
