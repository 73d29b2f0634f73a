package session

import (
	"context"

	"github.com/kotkoti/voiceroom/internal/api"
	"github.com/kotkoti/voiceroom/internal/core"
	"github.com/kotkoti/voiceroom/internal/domain"
)

// Host-side moderation helpers. The server enforces authorization; these
// only proxy the calls and keep the local request queue consistent so the
// host UI does not wait for the next seat.requests broadcast.

// PendingRequests returns the request queue ordered oldest first.
func (c *Coordinator) PendingRequests() []domain.SeatRequest {
	return c.reqs.Pending()
}

// Approve resolves a seat request. The entry leaves the local queue
// immediately on success; the authoritative list follows by broadcast.
func (c *Coordinator) Approve(ctx context.Context, requestID string, accept bool) error {
	if err := c.api.ApproveSeatRequest(ctx, c.roomID, requestID, accept); err != nil {
		return err
	}
	c.reqs.Remove(requestID)
	return nil
}

// MuteSeat sets the mic permission of a seat. The local registry is not
// touched here; the seat.mute broadcast lands on every client including
// this one and the enforcer applies it then.
func (c *Coordinator) MuteSeat(ctx context.Context, seatIndex int, mute bool) error {
	return c.api.MuteSeat(ctx, c.roomID, seatIndex, mute)
}

func (c *Coordinator) KickUser(ctx context.Context, uid domain.UserID) error {
	return c.api.Kick(ctx, c.roomID, uid)
}

func (c *Coordinator) UnkickUser(ctx context.Context, uid domain.UserID) error {
	return c.api.Unkick(ctx, c.roomID, uid)
}

func (c *Coordinator) UnbanUser(ctx context.Context, uid domain.UserID) error {
	return c.api.Unban(ctx, c.roomID, uid)
}

func (c *Coordinator) BanUser(ctx context.Context, uid domain.UserID, reason string) (api.Ban, error) {
	return c.api.Ban(ctx, c.roomID, uid, reason)
}

func (c *Coordinator) KickedUsers(ctx context.Context) ([]api.Kick, error) {
	return c.api.KickList(ctx, c.roomID)
}

// InviteUser relays a host invite over the realtime channel so the target
// client can prompt its user. The server rebroadcasts it as seat.invited.
func (c *Coordinator) InviteUser(uid domain.UserID, seatIndex int) error {
	intent := core.ClientIntent{Type: core.IntentSeatInvite, RoomID: c.roomID, UserID: uid, SeatIndex: &seatIndex}
	return c.ch.Send(intent)
}
