// Package session wires the realtime channel, the seat registry and the
// audio transport into one coordinated room session. Authoritative seat
// state and local user intent change independently; this package is the
// only place where they meet.
package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/kotkoti/voiceroom/internal/api"
	"github.com/kotkoti/voiceroom/internal/core"
	"github.com/kotkoti/voiceroom/internal/domain"
	"github.com/kotkoti/voiceroom/internal/metrics"
	"github.com/kotkoti/voiceroom/internal/moderation"
	"github.com/kotkoti/voiceroom/internal/queue"
	"github.com/kotkoti/voiceroom/internal/registry"
	"github.com/kotkoti/voiceroom/internal/serializer"
	"github.com/kotkoti/voiceroom/internal/transport"
)

// RoomAPI is the slice of the HTTP API the coordinator consumes.
// *api.Client satisfies it.
type RoomAPI interface {
	JoinRoom(ctx context.Context, roomID domain.RoomID, pin string) (api.JoinResponse, error)
	RoomDetail(ctx context.Context, roomID domain.RoomID) (api.RoomDetail, error)
	LeaveRoom(ctx context.Context, roomID domain.RoomID) error
	RegisterRTCUID(ctx context.Context, roomID domain.RoomID, rtcUID string) error
	PublisherCredential(ctx context.Context, roomID domain.RoomID) (api.RTCCredential, error)
	TakeSeat(ctx context.Context, roomID domain.RoomID, seatIndex int) error
	RequestSeat(ctx context.Context, roomID domain.RoomID, seatIndex *int) error
	ApproveSeatRequest(ctx context.Context, roomID domain.RoomID, requestID string, accept bool) error
	LeaveSeat(ctx context.Context, roomID domain.RoomID) error
	MuteSeat(ctx context.Context, roomID domain.RoomID, seatIndex int, mute bool) error
	Kick(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Unkick(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Ban(ctx context.Context, roomID domain.RoomID, userID domain.UserID, reason string) (api.Ban, error)
	Unban(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	KickList(ctx context.Context, roomID domain.RoomID) ([]api.Kick, error)
}

// Deps carries the coordinator's collaborators. Media and Channel are
// interfaces so tests can drive the session with fakes.
type Deps struct {
	API     RoomAPI
	Channel core.EventChannel
	Media   core.MediaClient
	Creds   core.CredentialSource
	Metrics *metrics.Metrics

	// OnInvite is called when the host invites the local user onto a seat.
	// The embedder prompts and calls AcceptInvite if the user agrees.
	OnInvite func(seatIndex int)

	SpeakingLevel int
	DecayTicks    int
}

// Coordinator is scoped to the lifetime of one room session: initialized on
// room entry, torn down completely on leave or kick, never reused across
// rooms.
type Coordinator struct {
	roomID domain.RoomID
	self   domain.UserID
	pin    string

	api   RoomAPI
	ch    core.EventChannel
	reg   *registry.Registry
	tr    *transport.Transport
	gate  *serializer.Serializer
	reqs  *queue.Queue
	enf   *moderation.Enforcer
	creds core.CredentialSource
	m     *metrics.Metrics

	micIntent atomic.Bool
	errs      chan error
	done      chan struct{}
	onInvite  func(int)
}

func New(roomID domain.RoomID, self domain.UserID, pin string, d Deps) *Coordinator {
	speaking := d.SpeakingLevel
	if speaking <= 0 {
		speaking = 5
	}
	decay := d.DecayTicks
	if decay <= 0 {
		decay = 2
	}

	reg := registry.New(self)
	var gateOpts []serializer.Option
	if d.Metrics != nil {
		gateOpts = append(gateOpts, serializer.WithWaitObserver(d.Metrics.GateWait))
	}
	gate := serializer.New(gateOpts...)
	meter := transport.NewMeter(speaking, decay)
	tr := transport.New(d.Media, reg.CanTransmit, meter, d.Metrics)

	c := &Coordinator{
		roomID:   roomID,
		self:     self,
		pin:      pin,
		api:      d.API,
		ch:       d.Channel,
		reg:      reg,
		tr:       tr,
		gate:     gate,
		reqs:     queue.New(),
		creds:    d.Creds,
		m:        d.Metrics,
		errs:     make(chan error, 8),
		done:     make(chan struct{}),
		onInvite: d.OnInvite,
	}
	c.enf = moderation.New(reg, tr, gate, d.Channel, d.Metrics, func(cause error) {
		c.reportErr(cause)
		close(c.done)
	})
	return c
}

// Errors surfaces transient failures (publish, renewal, channel degraded)
// and the terminal kick/ban cause. Never blocks the event loop.
func (c *Coordinator) Errors() <-chan error { return c.errs }

// Done closes when a kick or ban terminates the session.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) Registry() registry.View         { return c.reg.Snapshot() }
func (c *Coordinator) TransportState() transport.State { return c.tr.State() }
func (c *Coordinator) Speakers() map[string]int        { return c.tr.Levels() }
func (c *Coordinator) Role() domain.SessionRole {
	if c.enf.Terminated() {
		return domain.RoleKicked
	}
	return c.reg.Role(c.micIntent.Load())
}

func (c *Coordinator) reportErr(err error) {
	select {
	case c.errs <- err:
	default:
		log.Warn().Err(err).Str("module", "session").Msg("error channel full, dropping")
	}
}

// Join performs the full room entry: HTTP join, realtime connect, media
// join as audience, RTC UID registration. PIN failures pass through
// untouched for the PIN-challenge collaborator.
func (c *Coordinator) Join(ctx context.Context) error {
	resp, err := c.api.JoinRoom(ctx, c.roomID, c.pin)
	if err != nil {
		return err
	}
	c.applyDetail(resp.Room)

	token, err := c.creds.BearerToken()
	if err != nil {
		return fmt.Errorf("session token: %w", err)
	}
	if err := c.ch.Connect(ctx, c.roomID, c.self, token); err != nil {
		return fmt.Errorf("%w: %v", core.ErrChannelDown, err)
	}

	err = c.gate.Run(ctx, "transport-join", func(ctx context.Context) error {
		return c.tr.Join(ctx, mediaChannel(c.roomID), resp.Token.Token, resp.Token.UID)
	})
	if err != nil {
		c.ch.Close()
		return err
	}

	if err := c.api.RegisterRTCUID(ctx, c.roomID, resp.Token.UID); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("register rtc uid")
	}

	c.tr.OnRenewalDue(func() {
		go c.renewCredential(context.Background())
	})

	go c.loop(ctx)
	log.Info().Str("module", "session").Str("room", string(c.roomID)).Str("rtc_uid", resp.Token.UID).Msg("joined")
	return nil
}

func mediaChannel(roomID domain.RoomID) string { return "room_" + string(roomID) }

func (c *Coordinator) applyDetail(detail api.RoomDetail) {
	c.reg.ApplyRoom(detail.Room)
	c.reg.ApplyAuthoritative(detail.Seats)
	c.reg.ApplyParticipants(detail.Participants)
}

// ToggleMic applies the local mic intent. Holding a seat is checked before
// anything else: without one the operation is rejected outright and no
// publish is ever attempted. A seat grant alone never enables audio; this
// is the only path that does.
func (c *Coordinator) ToggleMic(ctx context.Context, on bool) error {
	if c.enf.Terminated() {
		return core.ErrKicked
	}
	if !on {
		c.micIntent.Store(false)
		if err := c.gate.Run(ctx, "mic-off", c.tr.Demote); err != nil {
			return err
		}
		c.sendIntent(core.IntentMicOff)
		return nil
	}

	if !c.reg.CanTransmit() {
		return fmt.Errorf("%w: no seat with mic permission", core.ErrSeatUnavailable)
	}
	cred, err := c.api.PublisherCredential(ctx, c.roomID)
	if err != nil {
		return fmt.Errorf("%w: publisher credential: %v", core.ErrPublish, err)
	}
	if err := c.gate.Run(ctx, "mic-on", func(ctx context.Context) error {
		return c.tr.Promote(ctx, cred.Token)
	}); err != nil {
		return err
	}
	c.micIntent.Store(true)
	c.sendIntent(core.IntentMicOn)
	return nil
}

func (c *Coordinator) sendIntent(t core.IntentType) {
	err := c.ch.Send(core.ClientIntent{Type: t, RoomID: c.roomID, UserID: c.self})
	if err != nil {
		// Intent sends are observability for other clients; the transport
		// side effect already happened. Never retried silently.
		log.Warn().Err(err).Str("module", "session").Str("intent", string(t)).Msg("intent send failed")
		return
	}
	if c.m != nil {
		c.m.IntentsSent.WithLabelValues(string(t)).Inc()
	}
}

// TakeSeat claims a FREE seat instantly. The seat array only changes when
// the authoritative push lands; locally the intent is just marked pending.
func (c *Coordinator) TakeSeat(ctx context.Context, seatIndex int) error {
	if c.enf.Terminated() {
		return core.ErrKicked
	}
	if err := c.reg.ValidateTake(seatIndex); err != nil {
		return err
	}
	if mode, ok := c.reg.SeatMode(seatIndex); ok && mode != domain.SeatModeFree {
		return fmt.Errorf("%w: seat %d requires approval", core.ErrSeatUnavailable, seatIndex)
	}
	if err := c.api.TakeSeat(ctx, c.roomID, seatIndex); err != nil {
		return err
	}
	c.reg.MarkPending(seatIndex)
	return nil
}

// RequestSeat asks for a REQUEST-mode seat (or any seat when index is nil).
func (c *Coordinator) RequestSeat(ctx context.Context, seatIndex *int) error {
	if c.enf.Terminated() {
		return core.ErrKicked
	}
	if seatIndex != nil {
		if err := c.reg.ValidateTake(*seatIndex); err != nil {
			return err
		}
	}
	if err := c.api.RequestSeat(ctx, c.roomID, seatIndex); err != nil {
		return err
	}
	intent := core.ClientIntent{Type: core.IntentSeatRequest, RoomID: c.roomID, UserID: c.self, SeatIndex: seatIndex}
	if err := c.ch.Send(intent); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("seat request intent")
	}
	if seatIndex != nil {
		c.reg.MarkPending(*seatIndex)
	}
	return nil
}

// AcceptInvite takes a seat offered by the host. The invite bypasses the
// REQUEST approval step but not LOCKED.
func (c *Coordinator) AcceptInvite(ctx context.Context, seatIndex int) error {
	if c.enf.Terminated() {
		return core.ErrKicked
	}
	if mode, ok := c.reg.SeatMode(seatIndex); !ok {
		return core.ErrInvalidSeat
	} else if mode == domain.SeatModeLocked {
		return core.ErrSeatUnavailable
	}
	if err := c.api.TakeSeat(ctx, c.roomID, seatIndex); err != nil {
		return err
	}
	c.reg.MarkPending(seatIndex)
	return nil
}

// LeaveSeat gives the seat back. The transport is demoted first so the user
// is not audible for even a moment after losing transmit eligibility.
func (c *Coordinator) LeaveSeat(ctx context.Context) error {
	c.micIntent.Store(false)
	if err := c.gate.Run(ctx, "leave-seat", c.tr.Demote); err != nil {
		return err
	}
	return c.api.LeaveSeat(ctx, c.roomID)
}

// Leave exits the room cleanly: seat released, transport torn down, channel
// closed. Safe to call after a kick.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.micIntent.Store(false)
	if !c.enf.Terminated() {
		if err := c.api.LeaveSeat(ctx, c.roomID); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("leave seat")
		}
		if err := c.api.LeaveRoom(ctx, c.roomID); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("leave room")
		}
		c.sendIntent(core.IntentLeave)
	}

	err := c.gate.Run(ctx, "leave", c.tr.Close)
	c.ch.Close()
	return err
}

// renewCredential answers the transport's pre-expiry warning. Renewal never
// drops the channel; a failure degrades the session to audience.
func (c *Coordinator) renewCredential(ctx context.Context) {
	err := c.gate.Run(ctx, "renew", func(ctx context.Context) error {
		var token string
		if c.tr.State() == transport.Publisher {
			cred, err := c.api.PublisherCredential(ctx, c.roomID)
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrTokenRenewal, err)
			}
			token = cred.Token
		} else {
			// Subscriber credentials are issued by the join endpoint.
			resp, err := c.api.JoinRoom(ctx, c.roomID, c.pin)
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrTokenRenewal, err)
			}
			token = resp.Token.Token
		}
		return c.tr.Renew(ctx, token)
	})
	if err != nil {
		c.reportErr(err)
	}
}
