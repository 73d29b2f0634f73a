// Package transport owns the live media connection: the single microphone
// capture handle, the publish state, and the set of subscribed remote audio
// sources. All mutation is driven through the session's operation
// serializer; other components only read state through accessors.
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/kotkoti/voiceroom/internal/core"
	"github.com/kotkoti/voiceroom/internal/metrics"
)

// State is the audio transport lifecycle position.
type State int32

const (
	Disconnected State = iota
	Connecting
	Audience
	ToPublisher
	Publisher
	ToAudience
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Audience:
		return "audience"
	case ToPublisher:
		return "transitioning_to_publisher"
	case Publisher:
		return "publisher"
	case ToAudience:
		return "transitioning_to_audience"
	default:
		return "unknown"
	}
}

// StateCheck is the live snapshot accessor re-read immediately before a
// final side effect. Async callbacks must never act on values captured at
// registration time.
type StateCheck func() (canTransmit bool)

// Transport drives a core.MediaClient through the audience/publisher state
// machine.
type Transport struct {
	mc          core.MediaClient
	canTransmit StateCheck
	meter       *Meter
	m           *metrics.Metrics

	state atomic.Int32

	mu              sync.Mutex
	published       bool
	subscriberToken string
	uid             string
}

func New(mc core.MediaClient, canTransmit StateCheck, meter *Meter, m *metrics.Metrics) *Transport {
	return &Transport{mc: mc, canTransmit: canTransmit, meter: meter, m: m}
}

func (t *Transport) State() State { return State(t.state.Load()) }

func (t *Transport) Published() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.published
}

// UID is the local transport identifier, stable for this media session.
func (t *Transport) UID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uid
}

// Levels exposes the speaking-indicator map keyed by transport identifier.
func (t *Transport) Levels() map[string]int { return t.meter.Levels() }

// OnRenewalDue registers the pre-expiry warning handler.
func (t *Transport) OnRenewalDue(fn func()) { t.mc.OnRenewalDue(fn) }

func (t *Transport) setState(s State) {
	prev := State(t.state.Swap(int32(s)))
	if prev == s {
		return
	}
	log.Info().Str("module", "transport").Str("from", prev.String()).Str("to", s.String()).Msg("state")
	if t.m != nil {
		t.m.StateTransitions.WithLabelValues(s.String()).Inc()
	}
}

// Join connects as audience: the capture handle is acquired but stays
// disabled and unpublished. Capture capability never implies permission to
// transmit.
func (t *Transport) Join(ctx context.Context, channel, token, uid string) error {
	if t.State() != Disconnected {
		return fmt.Errorf("%w: join from state %s", core.ErrTransportJoin, t.State())
	}
	t.setState(Connecting)

	if err := t.mc.Join(ctx, channel, token, uid); err != nil {
		t.setState(Disconnected)
		return fmt.Errorf("%w: %v", core.ErrTransportJoin, err)
	}
	if err := t.mc.CreateAudioTrack(ctx); err != nil {
		_ = t.mc.Leave(ctx)
		t.setState(Disconnected)
		return fmt.Errorf("%w: create track: %v", core.ErrTransportJoin, err)
	}
	_ = t.mc.SetTrackEnabled(false)

	t.mc.OnRemoteActive(func(remoteUID string) {
		if err := t.mc.Subscribe(ctx, remoteUID); err != nil {
			log.Warn().Err(err).Str("module", "transport").Str("uid", remoteUID).Msg("subscribe")
			return
		}
		if t.m != nil {
			t.m.RemoteSources.Inc()
		}
	})
	t.mc.OnRemoteInactive(func(remoteUID string) {
		t.meter.Forget(remoteUID)
		if t.m != nil {
			t.m.RemoteSources.Dec()
		}
	})
	t.mc.OnVolume(t.meter.Update)

	t.mu.Lock()
	t.subscriberToken = token
	t.uid = uid
	t.mu.Unlock()

	t.setState(Audience)
	return nil
}

// Promote renews the publisher credential, enables the capture track and
// publishes it. Any failure reverts to Audience; nothing partial survives.
// The authoritative state is re-checked right before the publish so a seat
// lost while the renewal was in flight aborts the transition.
func (t *Transport) Promote(ctx context.Context, publisherToken string) error {
	if t.State() == Publisher {
		return nil
	}
	if t.State() != Audience {
		return fmt.Errorf("%w: promote from state %s", core.ErrPublish, t.State())
	}
	t.setState(ToPublisher)

	if err := t.mc.RenewToken(ctx, publisherToken); err != nil {
		t.setState(Audience)
		t.publishFailed()
		return fmt.Errorf("%w: renew publisher token: %v", core.ErrPublish, err)
	}

	// Re-confirm the seat right before the side effect; the token renewal
	// above may have suspended arbitrarily long.
	if !t.canTransmit() {
		t.revertToAudience(ctx)
		return fmt.Errorf("%w: seat lost during promotion", core.ErrSeatUnavailable)
	}

	if err := t.mc.SetTrackEnabled(true); err != nil {
		t.revertToAudience(ctx)
		t.publishFailed()
		return fmt.Errorf("%w: enable track: %v", core.ErrPublish, err)
	}
	if err := t.mc.Publish(ctx); err != nil {
		_ = t.mc.SetTrackEnabled(false)
		t.revertToAudience(ctx)
		t.publishFailed()
		return fmt.Errorf("%w: %v", core.ErrPublish, err)
	}

	t.mu.Lock()
	t.published = true
	t.mu.Unlock()
	t.setState(Publisher)
	return nil
}

func (t *Transport) publishFailed() {
	if t.m != nil {
		t.m.PublishFailures.Inc()
	}
}

func (t *Transport) revertToAudience(ctx context.Context) {
	_ = t.mc.SetTrackEnabled(false)
	t.renewSubscriber(ctx)
	t.setState(Audience)
}

func (t *Transport) renewSubscriber(ctx context.Context) {
	t.mu.Lock()
	token := t.subscriberToken
	t.mu.Unlock()
	if token == "" {
		return
	}
	if err := t.mc.RenewToken(ctx, token); err != nil {
		log.Warn().Err(err).Str("module", "transport").Msg("renew subscriber token")
	}
}

// Demote unpublishes and disables the capture track. The unpublish may fail
// over the network; that is logged and never blocks the local disable. The
// user must not stay audible against their own or the host's intent.
func (t *Transport) Demote(ctx context.Context) error {
	switch t.State() {
	case Audience, Disconnected:
		return nil
	}
	t.setState(ToAudience)

	t.mu.Lock()
	published := t.published
	t.mu.Unlock()

	if published {
		if err := t.mc.Unpublish(ctx); err != nil {
			log.Warn().Err(err).Str("module", "transport").Msg("unpublish failed, disabling capture anyway")
		}
		t.mu.Lock()
		t.published = false
		t.mu.Unlock()
	}
	if err := t.mc.SetTrackEnabled(false); err != nil {
		log.Error().Err(err).Str("module", "transport").Msg("disable capture")
	}
	t.renewSubscriber(ctx)
	t.setState(Audience)
	return nil
}

// Renew installs a fresh credential without dropping the channel. A failed
// renewal degrades the session to audience; it never terminates it.
func (t *Transport) Renew(ctx context.Context, token string) error {
	if err := t.mc.RenewToken(ctx, token); err != nil {
		if t.m != nil {
			t.m.RenewalFailures.Inc()
		}
		if t.State() == Publisher {
			_ = t.Demote(ctx)
		}
		return fmt.Errorf("%w: %v", core.ErrTokenRenewal, err)
	}
	if t.m != nil {
		t.m.TokenRenewals.Inc()
	}
	return nil
}

// Resync re-enumerates active remote sources and resubscribes to all of
// them. Individual activation events are not replayed across a reconnect.
func (t *Transport) Resync(ctx context.Context) {
	for _, uid := range t.mc.ActiveRemotes() {
		if err := t.mc.Subscribe(ctx, uid); err != nil {
			log.Warn().Err(err).Str("module", "transport").Str("uid", uid).Msg("resubscribe")
		}
	}
}

// Close tears the media session down completely. A transport instance is
// scoped to one room session and never reused across rooms.
func (t *Transport) Close(ctx context.Context) error {
	if t.State() == Disconnected {
		return nil
	}
	t.mu.Lock()
	published := t.published
	t.published = false
	t.mu.Unlock()

	if published {
		if err := t.mc.Unpublish(ctx); err != nil {
			log.Warn().Err(err).Str("module", "transport").Msg("unpublish on close")
		}
	}
	_ = t.mc.SetTrackEnabled(false)
	err := t.mc.Leave(ctx)
	t.setState(Disconnected)
	return err
}
