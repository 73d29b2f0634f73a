package domain

// Participant is a user present in the room, seated or not. RTCUID is the
// transport identifier assigned once per media session; it correlates the
// participant to their live audio source and stays stable until the
// transport reconnects.
type Participant struct {
	UserID UserID `json:"userId"`
	IsHost bool   `json:"isHost"`
	Muted  bool   `json:"muted"`
	RTCUID string `json:"rtcUid"`
}
