package core

import (
	"context"

	"github.com/kotkoti/voiceroom/internal/domain"
)

// EventChannel is the duplex realtime link to the room server.
// Owned by the coordinator; the coordinator must Close() it.
type EventChannel interface {
	Connect(ctx context.Context, roomID domain.RoomID, userID domain.UserID, token string) error
	// Events delivers server pushes in receipt order. No ordering is
	// guaranteed across a reconnect boundary; an EventResync marks each one.
	Events() <-chan ServerEvent
	// Send never retries silently; the caller decides retry policy.
	Send(ClientIntent) error
	// DisableReconnect makes the next disconnect final. Used on kick/ban so
	// a removed user cannot silently rejoin via auto-reconnect.
	DisableReconnect()
	Close()
}

// MediaClient wraps the media-transport library. The AudioTransport is the
// only caller; no other component may touch these directly.
type MediaClient interface {
	Join(ctx context.Context, channel, token, uid string) error
	Leave(ctx context.Context) error

	// CreateAudioTrack acquires the local capture handle. The track starts
	// disabled and unpublished; capture capability never implies permission
	// to transmit.
	CreateAudioTrack(ctx context.Context) error
	SetTrackEnabled(enabled bool) error
	Publish(ctx context.Context) error
	Unpublish(ctx context.Context) error

	RenewToken(ctx context.Context, token string) error
	// OnRenewalDue fires ahead of credential expiry.
	OnRenewalDue(fn func())

	Subscribe(ctx context.Context, uid string) error
	// ActiveRemotes enumerates currently publishing remote sources, used to
	// resubscribe after a reconnect.
	ActiveRemotes() []string
	OnRemoteActive(fn func(uid string))
	OnRemoteInactive(fn func(uid string))

	// OnVolume reports raw transmit levels per remote source each metering
	// tick, keyed by transport identifier.
	OnVolume(fn func(levels map[string]int))
}

// CredentialSource supplies the session bearer token for the channel
// handshake. Read-only from the coordinator's perspective.
type CredentialSource interface {
	BearerToken() (string, error)
}
