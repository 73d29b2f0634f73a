package domain

import (
	"time"

	"github.com/google/uuid"
)

// SeatRequest is an audience member's pending ask for a REQUEST-mode seat.
// It is consumed only by host approve/deny, never mutated otherwise.
type SeatRequest struct {
	ID        string    `json:"id"`
	UserID    UserID    `json:"userId"`
	SeatIndex *int      `json:"seatIndex"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewSeatRequest(uid UserID, seatIndex *int) SeatRequest {
	return SeatRequest{
		ID:        uuid.NewString(),
		UserID:    uid,
		SeatIndex: seatIndex,
		CreatedAt: time.Now(),
	}
}
