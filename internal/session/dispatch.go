package session

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/kotkoti/voiceroom/internal/core"
	"github.com/kotkoti/voiceroom/internal/transport"
)

// loop drains the channel until it closes or the session terminates. Events
// are applied strictly in arrival order; the registry only ever moves
// forward through the server's sequence of states.
func (c *Coordinator) loop(ctx context.Context) {
	for ev := range c.ch.Events() {
		if c.enf.Terminated() {
			return
		}
		c.dispatch(ctx, ev)
	}
}

func (c *Coordinator) dispatch(ctx context.Context, ev core.ServerEvent) {
	if c.m != nil {
		c.m.EventsReceived.WithLabelValues(string(ev.Type)).Inc()
	}

	switch ev.Type {
	case core.EventSeatUpdate:
		var p core.SeatUpdatePayload
		if !decode(ev, &p) {
			return
		}
		c.reg.ApplyAuthoritative(p.Seats)
		c.reconcile(ctx)

	case core.EventParticipant:
		var p core.ParticipantsPayload
		if !decode(ev, &p) {
			return
		}
		c.reg.ApplyParticipants(p.Participants)

	case core.EventRoomJoin, core.EventRoomLeave:
		var p core.ParticipantsPayload
		if !decode(ev, &p) {
			return
		}
		c.reg.ApplyParticipants(p.Participants)

	case core.EventSeatReqList:
		var p core.SeatRequestsPayload
		if !decode(ev, &p) {
			return
		}
		c.reqs.ReplaceAll(p.Requests)

	case core.EventSeatRequest:
		var p core.SeatRequestPayload
		if !decode(ev, &p) {
			return
		}
		c.reqs.Add(p.Request)

	case core.EventSeatInvited:
		var p core.SeatInvitedPayload
		if !decode(ev, &p) {
			return
		}
		if c.onInvite != nil {
			c.onInvite(p.SeatIndex)
		}

	case core.EventSeatMute:
		var p core.SeatMutePayload
		if !decode(ev, &p) {
			return
		}
		if err := c.enf.OnSeatMute(ctx, p); err != nil {
			c.reportErr(err)
		}
		if p.UserID == c.self && p.Mute {
			c.micIntent.Store(false)
		}

	case core.EventMicOn:
		var p core.UserPayload
		if !decode(ev, &p) {
			return
		}
		c.reg.SetParticipantMuted(p.UserID, false)

	case core.EventMicOff:
		var p core.UserPayload
		if !decode(ev, &p) {
			return
		}
		c.reg.SetParticipantMuted(p.UserID, true)

	case core.EventKicked:
		var p core.UserPayload
		if !decode(ev, &p) {
			return
		}
		c.enf.OnKicked(ctx, p)

	case core.EventChatMode:
		var p core.ChatModePayload
		if !decode(ev, &p) {
			return
		}
		c.reg.SetChatMode(p.Mode)

	case core.EventResync:
		c.resync(ctx)

	case core.EventDown:
		if c.m != nil {
			c.m.ChannelDown.Inc()
		}
		c.reportErr(core.ErrChannelDown)

	default:
		log.Debug().Str("module", "session").Str("type", string(ev.Type)).Msg("unhandled event")
	}
}

func decode(ev core.ServerEvent, out any) bool {
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("type", string(ev.Type)).Msg("malformed payload")
		return false
	}
	return true
}

// reconcile brings the transport in line with the seat array after an
// authoritative update. Losing the seat or its mic permission while
// publishing forces a demotion; gaining either never promotes, that only
// happens on an explicit mic toggle.
func (c *Coordinator) reconcile(ctx context.Context) {
	st := c.tr.State()
	if st != transport.Publisher && st != transport.ToPublisher {
		return
	}
	if c.reg.CanTransmit() {
		return
	}
	c.micIntent.Store(false)
	if c.m != nil {
		c.m.ForcedDemotions.Inc()
	}
	if err := c.gate.Run(ctx, "reconcile-demote", c.tr.Demote); err != nil {
		c.reportErr(err)
		return
	}
	c.sendIntent(core.IntentMicOff)
	log.Info().Str("module", "session").Msg("seat revoked, demoted to audience")
}

// resync runs after every reconnect. Deltas may have been missed, so the
// whole room state is refetched and applied wholesale before the media
// side resubscribes.
func (c *Coordinator) resync(ctx context.Context) {
	detail, err := c.api.RoomDetail(ctx, c.roomID)
	if err != nil {
		c.reportErr(err)
		return
	}
	c.applyDetail(detail)
	c.tr.Resync(ctx)
	c.reconcile(ctx)

	if c.reg.MySeat() == nil {
		c.micIntent.Store(false)
	}
	log.Info().Str("module", "session").Msg("state resynced after reconnect")
}
