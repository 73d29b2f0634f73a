// Package moderation reacts to host-issued enforcement events. It only
// reads transport state through accessors; every mutation goes through the
// session's operation serializer like any other transport op.
package moderation

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/kotkoti/voiceroom/internal/core"
	"github.com/kotkoti/voiceroom/internal/metrics"
	"github.com/kotkoti/voiceroom/internal/registry"
	"github.com/kotkoti/voiceroom/internal/serializer"
	"github.com/kotkoti/voiceroom/internal/transport"
)

type Enforcer struct {
	reg  *registry.Registry
	tr   *transport.Transport
	gate *serializer.Serializer
	ch   core.EventChannel
	m    *metrics.Metrics

	terminated atomic.Bool
	onTerminal func(error)
}

func New(reg *registry.Registry, tr *transport.Transport, gate *serializer.Serializer, ch core.EventChannel, m *metrics.Metrics, onTerminal func(error)) *Enforcer {
	return &Enforcer{reg: reg, tr: tr, gate: gate, ch: ch, m: m, onTerminal: onTerminal}
}

// Terminated reports whether a kick or ban ended the session.
func (e *Enforcer) Terminated() bool { return e.terminated.Load() }

// OnSeatMute applies a host mute/unmute. When it targets the local user and
// the transport is live, the demotion is forced through the serializer
// regardless of local intent.
func (e *Enforcer) OnSeatMute(ctx context.Context, p core.SeatMutePayload) error {
	e.reg.SetSeatMic(p.SeatIndex, !p.Mute)

	if p.UserID != e.reg.Self() || !p.Mute {
		return nil
	}
	if e.tr.State() != transport.Publisher && e.tr.State() != transport.ToPublisher {
		return nil
	}

	log.Info().Str("module", "moderation").Int("seat", p.SeatIndex).Msg("host mute, forcing demotion")
	if e.m != nil {
		e.m.ForcedDemotions.Inc()
	}
	return e.gate.Run(ctx, "forced-demote", e.tr.Demote)
}

// OnKicked handles a removal push. For the local user this is terminal:
// transport and channel are torn down, reconnection is disabled, and no
// further room event is processed.
func (e *Enforcer) OnKicked(ctx context.Context, p core.UserPayload) {
	if p.UserID != e.reg.Self() {
		e.reg.RemoveParticipant(p.UserID)
		return
	}
	if !e.terminated.CompareAndSwap(false, true) {
		return
	}

	cause := core.ErrKicked
	if p.Reason == "ban" {
		cause = core.ErrBanned
	}
	log.Warn().Str("module", "moderation").Str("reason", p.Reason).Msg("removed from room")

	// Reconnect is disabled before anything else: a kicked user must not
	// slip back in through channel auto-reconnect mid-teardown.
	e.ch.DisableReconnect()
	if err := e.gate.Run(ctx, "teardown", e.tr.Close); err != nil {
		log.Error().Err(err).Str("module", "moderation").Msg("transport teardown")
	}
	e.ch.Close()

	if e.onTerminal != nil {
		e.onTerminal(cause)
	}
}
