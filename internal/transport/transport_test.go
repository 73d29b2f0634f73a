package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kotkoti/voiceroom/internal/core"
)

// fakeMedia records the call sequence so tests can assert ordering.
type fakeMedia struct {
	mu    sync.Mutex
	calls []string

	joinErr    error
	trackErr   error
	publishErr error
	unpubErr   error
	renewErr   error

	enabled bool
	remotes []string

	onRemoteActive   func(string)
	onRemoteInactive func(string)
	onVolume         func(map[string]int)
	onRenewalDue     func()
}

func (f *fakeMedia) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeMedia) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeMedia) Join(ctx context.Context, channel, token, uid string) error {
	f.record("join")
	return f.joinErr
}
func (f *fakeMedia) Leave(ctx context.Context) error { f.record("leave"); return nil }
func (f *fakeMedia) CreateAudioTrack(ctx context.Context) error {
	f.record("createTrack")
	return f.trackErr
}
func (f *fakeMedia) SetTrackEnabled(enabled bool) error {
	if enabled {
		f.record("enable")
	} else {
		f.record("disable")
	}
	f.mu.Lock()
	f.enabled = enabled
	f.mu.Unlock()
	return nil
}
func (f *fakeMedia) Publish(ctx context.Context) error   { f.record("publish"); return f.publishErr }
func (f *fakeMedia) Unpublish(ctx context.Context) error { f.record("unpublish"); return f.unpubErr }
func (f *fakeMedia) RenewToken(ctx context.Context, token string) error {
	f.record("renew:" + token)
	return f.renewErr
}
func (f *fakeMedia) OnRenewalDue(fn func())              { f.onRenewalDue = fn }
func (f *fakeMedia) Subscribe(ctx context.Context, uid string) error {
	f.record("subscribe:" + uid)
	return nil
}
func (f *fakeMedia) ActiveRemotes() []string             { return f.remotes }
func (f *fakeMedia) OnRemoteActive(fn func(string))      { f.onRemoteActive = fn }
func (f *fakeMedia) OnRemoteInactive(fn func(string))    { f.onRemoteInactive = fn }
func (f *fakeMedia) OnVolume(fn func(map[string]int))    { f.onVolume = fn }

func newTestTransport(f *fakeMedia, canTransmit func() bool) *Transport {
	return New(f, canTransmit, NewMeter(5, 2), nil)
}

func join(t *testing.T, tr *Transport) {
	t.Helper()
	if err := tr.Join(context.Background(), "room_r1", "sub-token", "1001"); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func TestJoinEntersAudienceWithDisabledTrack(t *testing.T) {
	f := &fakeMedia{}
	tr := newTestTransport(f, func() bool { return false })
	join(t, tr)

	if tr.State() != Audience {
		t.Fatalf("expected audience, got %s", tr.State())
	}
	if f.enabled {
		t.Fatal("capture track must start disabled")
	}
	if tr.Published() {
		t.Fatal("must not be published after join")
	}
}

func TestJoinFailure(t *testing.T) {
	f := &fakeMedia{joinErr: errors.New("dial refused")}
	tr := newTestTransport(f, func() bool { return false })
	err := tr.Join(context.Background(), "room_r1", "tok", "1")
	if !errors.Is(err, core.ErrTransportJoin) {
		t.Fatalf("expected ErrTransportJoin, got %v", err)
	}
	if tr.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", tr.State())
	}
}

func TestPromoteHappyPath(t *testing.T) {
	f := &fakeMedia{}
	tr := newTestTransport(f, func() bool { return true })
	join(t, tr)

	if err := tr.Promote(context.Background(), "pub-token"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if tr.State() != Publisher || !tr.Published() {
		t.Fatalf("expected publisher/published, got %s/%v", tr.State(), tr.Published())
	}

	// Credential renewal must precede enabling, which precedes publishing.
	calls := f.Calls()
	idx := func(c string) int {
		for i, got := range calls {
			if got == c {
				return i
			}
		}
		t.Fatalf("call %q missing in %v", c, calls)
		return -1
	}
	if !(idx("renew:pub-token") < idx("enable") && idx("enable") < idx("publish")) {
		t.Fatalf("wrong promote order: %v", calls)
	}
}

func TestPromoteRevertsOnPublishFailure(t *testing.T) {
	f := &fakeMedia{publishErr: errors.New("network")}
	tr := newTestTransport(f, func() bool { return true })
	join(t, tr)

	err := tr.Promote(context.Background(), "pub-token")
	if !errors.Is(err, core.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if tr.State() != Audience {
		t.Fatalf("failed publish must revert to audience, got %s", tr.State())
	}
	if f.enabled {
		t.Fatal("capture must be disabled after a failed publish")
	}
	if tr.Published() {
		t.Fatal("must not be marked published")
	}
}

func TestPromoteRechecksSeatBeforePublish(t *testing.T) {
	// The seat is lost while the token renewal is in flight: the recheck
	// right before the side effect must abort, and no publish may happen.
	canTransmit := true
	f := &fakeMedia{}
	tr := newTestTransport(f, func() bool { return canTransmit })
	join(t, tr)

	canTransmit = false
	err := tr.Promote(context.Background(), "pub-token")
	if !errors.Is(err, core.ErrSeatUnavailable) {
		t.Fatalf("expected ErrSeatUnavailable, got %v", err)
	}
	for _, call := range f.Calls() {
		if call == "publish" {
			t.Fatal("publish must not be attempted after the seat was lost")
		}
	}
	if tr.State() != Audience {
		t.Fatalf("expected audience, got %s", tr.State())
	}
}

func TestDemoteDisablesEvenWhenUnpublishFails(t *testing.T) {
	f := &fakeMedia{unpubErr: errors.New("timeout")}
	tr := newTestTransport(f, func() bool { return true })
	join(t, tr)
	if err := tr.Promote(context.Background(), "pub-token"); err != nil {
		t.Fatal(err)
	}

	if err := tr.Demote(context.Background()); err != nil {
		t.Fatalf("demote must not fail on unpublish error: %v", err)
	}
	if f.enabled {
		t.Fatal("capture must be disabled even though unpublish failed")
	}
	if tr.State() != Audience || tr.Published() {
		t.Fatalf("expected audience/unpublished, got %s/%v", tr.State(), tr.Published())
	}
}

func TestDemoteIdempotent(t *testing.T) {
	f := &fakeMedia{}
	tr := newTestTransport(f, func() bool { return true })
	join(t, tr)
	if err := tr.Demote(context.Background()); err != nil {
		t.Fatalf("demote as audience must be a no-op: %v", err)
	}
	if tr.State() != Audience {
		t.Fatalf("expected audience, got %s", tr.State())
	}
}

func TestRenewFailureDegradesToAudience(t *testing.T) {
	f := &fakeMedia{}
	tr := newTestTransport(f, func() bool { return true })
	join(t, tr)
	if err := tr.Promote(context.Background(), "pub-token"); err != nil {
		t.Fatal(err)
	}

	f.renewErr = errors.New("expired")
	err := tr.Renew(context.Background(), "fresh-token")
	if !errors.Is(err, core.ErrTokenRenewal) {
		t.Fatalf("expected ErrTokenRenewal, got %v", err)
	}
	// Degraded to read-only, but the session survives.
	if tr.State() != Audience {
		t.Fatalf("expected audience after failed renewal, got %s", tr.State())
	}
	if tr.UID() != "1001" {
		t.Fatal("media session must not be torn down by a failed renewal")
	}
}

func TestRemoteActiveSubscribes(t *testing.T) {
	f := &fakeMedia{}
	tr := newTestTransport(f, func() bool { return false })
	join(t, tr)

	f.onRemoteActive("2002")
	found := false
	for _, call := range f.Calls() {
		if call == "subscribe:2002" {
			found = true
		}
	}
	if !found {
		t.Fatal("remote activation must trigger a subscribe")
	}
}

func TestResyncResubscribesAll(t *testing.T) {
	f := &fakeMedia{remotes: []string{"2002", "3003"}}
	tr := newTestTransport(f, func() bool { return false })
	join(t, tr)

	tr.Resync(context.Background())
	want := map[string]bool{"subscribe:2002": false, "subscribe:3003": false}
	for _, call := range f.Calls() {
		if _, ok := want[call]; ok {
			want[call] = true
		}
	}
	for call, seen := range want {
		if !seen {
			t.Errorf("missing %s after resync", call)
		}
	}
}

func TestCloseTearsDown(t *testing.T) {
	f := &fakeMedia{}
	tr := newTestTransport(f, func() bool { return true })
	join(t, tr)
	if err := tr.Promote(context.Background(), "pub-token"); err != nil {
		t.Fatal(err)
	}

	if err := tr.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tr.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", tr.State())
	}
	calls := f.Calls()
	if calls[len(calls)-1] != "leave" {
		t.Fatalf("expected leave last, got %v", calls)
	}
}
