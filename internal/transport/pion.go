package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// SignalFunc exchanges an SDP offer with the media gateway and returns its
// answer. The current media token authenticates the exchange.
type SignalFunc func(ctx context.Context, channel, token string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

type remoteSource struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	playing  bool
	stop     context.CancelFunc
}

// PionClient implements core.MediaClient over a pion/webrtc peer connection
// to an SFU-style gateway. One instance serves one room session.
type PionClient struct {
	signal SignalFunc
	cfg    webrtc.Configuration

	// tokenTTL drives the pre-expiry renewal warning; gateway tokens have a
	// fixed lifetime, so the client arms a timer instead of parsing the
	// credential.
	tokenTTL      time.Duration
	renewalLead   time.Duration
	meterInterval time.Duration

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	channel  string
	token    string
	uid      string
	track    *webrtc.TrackLocalStaticSample
	sender   *webrtc.RTPSender
	enabled  bool
	remotes  map[string]*remoteSource
	raw      map[string]int
	renewal  *time.Timer
	stopMain context.CancelFunc

	onRemoteActive   func(string)
	onRemoteInactive func(string)
	onVolume         func(map[string]int)
	onRenewalDue     func()
}

type PionOption func(*PionClient)

func WithTokenTTL(ttl, lead time.Duration) PionOption {
	return func(c *PionClient) { c.tokenTTL, c.renewalLead = ttl, lead }
}

func WithMeterInterval(d time.Duration) PionOption {
	return func(c *PionClient) { c.meterInterval = d }
}

func WithWebRTCConfig(cfg webrtc.Configuration) PionOption {
	return func(c *PionClient) { c.cfg = cfg }
}

func NewPionClient(signal SignalFunc, opts ...PionOption) *PionClient {
	c := &PionClient{
		signal:        signal,
		cfg:           DefaultWebRTCConfig(),
		tokenTTL:      10 * time.Minute,
		renewalLead:   time.Minute,
		meterInterval: 500 * time.Millisecond,
		remotes:       make(map[string]*remoteSource),
		raw:           make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PionClient) Join(ctx context.Context, channel, token, uid string) error {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return err
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(c.cfg)
	if err != nil {
		return err
	}

	mainCtx, stop := context.WithCancel(context.Background())

	c.mu.Lock()
	c.pc = pc
	c.channel, c.token, c.uid = channel, token, uid
	c.stopMain = stop
	c.mu.Unlock()

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "transport.pion").Str("uid", uid).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		remoteUID := track.StreamID()
		log.Info().
			Str("module", "transport.pion").
			Str("remote_uid", remoteUID).
			Str("track_id", track.ID()).
			Msg("remote track")

		c.mu.Lock()
		c.remotes[remoteUID] = &remoteSource{track: track, receiver: receiver}
		active := c.onRemoteActive
		c.mu.Unlock()

		if active != nil {
			active(remoteUID)
		}
	})

	// Audio is received on a recvonly transceiver until promotion adds the
	// local track.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return err
	}

	if err := c.negotiate(ctx); err != nil {
		_ = pc.Close()
		return err
	}

	c.armRenewal()
	go c.meterLoop(mainCtx)
	return nil
}

func (c *PionClient) negotiate(ctx context.Context) error {
	c.mu.Lock()
	pc := c.pc
	channel, token := c.channel, c.token
	c.mu.Unlock()
	if pc == nil {
		return errors.New("no peer connection")
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	<-gatherComplete

	answer, err := c.signal(ctx, channel, token, *pc.LocalDescription())
	if err != nil {
		return err
	}
	return pc.SetRemoteDescription(answer)
}

func (c *PionClient) CreateAudioTrack(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track != nil {
		return nil
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		c.uid,
	)
	if err != nil {
		return err
	}
	c.track = track
	c.enabled = false
	return nil
}

func (c *PionClient) SetTrackEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return errors.New("no local track")
	}
	c.enabled = enabled
	return nil
}

// WriteSample feeds one captured audio sample. Samples written while the
// track is disabled are dropped, which is what keeps a muted user silent
// even when capture continues upstream.
func (c *PionClient) WriteSample(s media.Sample) error {
	c.mu.Lock()
	track, enabled := c.track, c.enabled
	c.mu.Unlock()
	if track == nil || !enabled {
		return nil
	}
	return track.WriteSample(s)
}

func (c *PionClient) Publish(ctx context.Context) error {
	c.mu.Lock()
	pc, track := c.pc, c.track
	published := c.sender != nil
	c.mu.Unlock()
	if pc == nil || track == nil {
		return errors.New("not joined")
	}
	if published {
		return nil
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		return err
	}
	if err := c.negotiate(ctx); err != nil {
		_ = pc.RemoveTrack(sender)
		return err
	}

	c.mu.Lock()
	c.sender = sender
	c.mu.Unlock()
	return nil
}

func (c *PionClient) Unpublish(ctx context.Context) error {
	c.mu.Lock()
	pc, sender := c.pc, c.sender
	c.sender = nil
	c.mu.Unlock()
	if pc == nil || sender == nil {
		return nil
	}
	if err := pc.RemoveTrack(sender); err != nil {
		return err
	}
	return c.negotiate(ctx)
}

func (c *PionClient) RenewToken(ctx context.Context, token string) error {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.armRenewal()
	return nil
}

func (c *PionClient) OnRenewalDue(fn func()) {
	c.mu.Lock()
	c.onRenewalDue = fn
	c.mu.Unlock()
}

func (c *PionClient) armRenewal() {
	if c.tokenTTL <= 0 {
		return
	}
	lead := c.renewalLead
	if lead >= c.tokenTTL {
		lead = c.tokenTTL / 2
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.renewal != nil {
		c.renewal.Stop()
	}
	c.renewal = time.AfterFunc(c.tokenTTL-lead, func() {
		c.mu.Lock()
		fn := c.onRenewalDue
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Subscribe starts playback for a remote source whose track has arrived.
func (c *PionClient) Subscribe(ctx context.Context, uid string) error {
	c.mu.Lock()
	src, ok := c.remotes[uid]
	if !ok {
		c.mu.Unlock()
		return errors.New("unknown remote source " + uid)
	}
	if src.playing {
		c.mu.Unlock()
		return nil
	}
	readCtx, stop := context.WithCancel(context.Background())
	src.playing = true
	src.stop = stop
	c.mu.Unlock()

	go c.readRemote(readCtx, uid, src.track, src.receiver)
	return nil
}

func (c *PionClient) ActiveRemotes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.remotes))
	for uid := range c.remotes {
		out = append(out, uid)
	}
	return out
}

func (c *PionClient) OnRemoteActive(fn func(string)) { c.mu.Lock(); c.onRemoteActive = fn; c.mu.Unlock() }
func (c *PionClient) OnRemoteInactive(fn func(string)) { c.mu.Lock(); c.onRemoteInactive = fn; c.mu.Unlock() }
func (c *PionClient) OnVolume(fn func(map[string]int)) { c.mu.Lock(); c.onVolume = fn; c.mu.Unlock() }

// readRemote drains RTP for one remote source, extracting the ssrc-audio-level
// extension to feed the volume meter. A read error means the source went away.
func (c *PionClient) readRemote(ctx context.Context, uid string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	levelExtID := 0
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			levelExtID = ext.ID
			break
		}
	}

	for ctx.Err() == nil {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			break
		}
		if levelExtID == 0 {
			continue
		}
		payload := pkt.GetExtension(uint8(levelExtID))
		if payload == nil {
			continue
		}
		var lvl rtp.AudioLevelExtension
		if err := lvl.Unmarshal(payload); err != nil {
			continue
		}
		// Level is attenuation in dBov, 0 loudest, 127 silence. Map to the
		// 0..100 scale the indicator expects.
		c.mu.Lock()
		c.raw[uid] = int(127-lvl.Level) * 100 / 127
		c.mu.Unlock()
	}

	c.mu.Lock()
	delete(c.remotes, uid)
	delete(c.raw, uid)
	inactive := c.onRemoteInactive
	c.mu.Unlock()
	if inactive != nil {
		inactive(uid)
	}
}

// meterLoop publishes one volume tick per interval and resets the raw
// levels, so a source that stopped sending reads as silent next tick.
func (c *PionClient) meterLoop(ctx context.Context) {
	ticker := time.NewTicker(c.meterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			fn := c.onVolume
			snapshot := make(map[string]int, len(c.raw))
			for uid, level := range c.raw {
				snapshot[uid] = level
				c.raw[uid] = 0
			}
			c.mu.Unlock()
			if fn != nil {
				fn(snapshot)
			}
		}
	}
}

func (c *PionClient) Leave(ctx context.Context) error {
	c.mu.Lock()
	pc := c.pc
	c.pc = nil
	stop := c.stopMain
	timer := c.renewal
	for _, src := range c.remotes {
		if src.stop != nil {
			src.stop()
		}
	}
	c.remotes = make(map[string]*remoteSource)
	c.sender = nil
	c.track = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if stop != nil {
		stop()
	}
	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "transport.pion").Msg("close error")
		return err
	}
	log.Info().Str("module", "transport.pion").Msg("closed")
	return nil
}
