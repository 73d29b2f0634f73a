package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kotkoti/voiceroom/internal/api"
	"github.com/kotkoti/voiceroom/internal/core"
	"github.com/kotkoti/voiceroom/internal/domain"
	"github.com/kotkoti/voiceroom/internal/transport"
)

const (
	testRoom = domain.RoomID("r1")
	testSelf = domain.UserID("u-self")
)

type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	detail      api.RoomDetail
	joinErr     error
	pubCredErr  error
	takeSeatErr error
}

func (f *fakeAPI) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeAPI) JoinRoom(ctx context.Context, roomID domain.RoomID, pin string) (api.JoinResponse, error) {
	f.record("join")
	if f.joinErr != nil {
		return api.JoinResponse{}, f.joinErr
	}
	return api.JoinResponse{
		Room:  f.detail,
		Token: api.RTCCredential{Provider: "pion", Token: "sub-tok", UID: "rtc-self"},
	}, nil
}

func (f *fakeAPI) RoomDetail(ctx context.Context, roomID domain.RoomID) (api.RoomDetail, error) {
	f.record("detail")
	return f.detail, nil
}

func (f *fakeAPI) LeaveRoom(ctx context.Context, roomID domain.RoomID) error {
	f.record("leaveRoom")
	return nil
}

func (f *fakeAPI) RegisterRTCUID(ctx context.Context, roomID domain.RoomID, rtcUID string) error {
	f.record("registerUID:" + rtcUID)
	return nil
}

func (f *fakeAPI) PublisherCredential(ctx context.Context, roomID domain.RoomID) (api.RTCCredential, error) {
	f.record("pubCred")
	if f.pubCredErr != nil {
		return api.RTCCredential{}, f.pubCredErr
	}
	return api.RTCCredential{Provider: "pion", Token: "pub-tok", UID: "rtc-self"}, nil
}

func (f *fakeAPI) TakeSeat(ctx context.Context, roomID domain.RoomID, seatIndex int) error {
	f.record("takeSeat")
	return f.takeSeatErr
}

func (f *fakeAPI) RequestSeat(ctx context.Context, roomID domain.RoomID, seatIndex *int) error {
	f.record("requestSeat")
	return nil
}

func (f *fakeAPI) ApproveSeatRequest(ctx context.Context, roomID domain.RoomID, requestID string, accept bool) error {
	f.record("approve:" + requestID)
	return nil
}

func (f *fakeAPI) LeaveSeat(ctx context.Context, roomID domain.RoomID) error {
	f.record("leaveSeat")
	return nil
}

func (f *fakeAPI) MuteSeat(ctx context.Context, roomID domain.RoomID, seatIndex int, mute bool) error {
	f.record("muteSeat")
	return nil
}

func (f *fakeAPI) Kick(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	f.record("kick")
	return nil
}

func (f *fakeAPI) Unkick(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	f.record("unkick")
	return nil
}

func (f *fakeAPI) Ban(ctx context.Context, roomID domain.RoomID, userID domain.UserID, reason string) (api.Ban, error) {
	f.record("ban")
	return api.Ban{UserID: userID, Reason: reason}, nil
}

func (f *fakeAPI) Unban(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	f.record("unban")
	return nil
}

func (f *fakeAPI) KickList(ctx context.Context, roomID domain.RoomID) ([]api.Kick, error) {
	f.record("kickList")
	return nil, nil
}

type fakeChannel struct {
	mu                sync.Mutex
	events            chan core.ServerEvent
	sent              []core.ClientIntent
	reconnectDisabled bool
	closed            bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan core.ServerEvent, 16)}
}

func (f *fakeChannel) Connect(ctx context.Context, roomID domain.RoomID, userID domain.UserID, token string) error {
	return nil
}
func (f *fakeChannel) Events() <-chan core.ServerEvent { return f.events }
func (f *fakeChannel) Send(in core.ClientIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return nil
}
func (f *fakeChannel) DisableReconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnectDisabled = true
}
func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeChannel) intents() []core.ClientIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.ClientIntent(nil), f.sent...)
}

type fakeMedia struct {
	mu      sync.Mutex
	calls   []string
	remotes []string

	publishErr error
}

func (f *fakeMedia) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeMedia) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeMedia) has(name string) bool {
	for _, c := range f.recorded() {
		if c == name {
			return true
		}
	}
	return false
}

func (f *fakeMedia) Join(ctx context.Context, channel, token, uid string) error {
	f.record("join:" + channel)
	return nil
}
func (f *fakeMedia) Leave(ctx context.Context) error            { f.record("leave"); return nil }
func (f *fakeMedia) CreateAudioTrack(ctx context.Context) error { f.record("createTrack"); return nil }
func (f *fakeMedia) SetTrackEnabled(enabled bool) error {
	if enabled {
		f.record("enable")
	} else {
		f.record("disable")
	}
	return nil
}
func (f *fakeMedia) Publish(ctx context.Context) error {
	f.record("publish")
	return f.publishErr
}
func (f *fakeMedia) Unpublish(ctx context.Context) error { f.record("unpublish"); return nil }
func (f *fakeMedia) RenewToken(ctx context.Context, token string) error {
	f.record("renew:" + token)
	return nil
}
func (f *fakeMedia) OnRenewalDue(fn func()) {}
func (f *fakeMedia) Subscribe(ctx context.Context, uid string) error {
	f.record("subscribe:" + uid)
	return nil
}
func (f *fakeMedia) ActiveRemotes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.remotes...)
}
func (f *fakeMedia) OnRemoteActive(fn func(uid string))      {}
func (f *fakeMedia) OnRemoteInactive(fn func(uid string))    {}
func (f *fakeMedia) OnVolume(fn func(levels map[string]int)) {}

type staticCreds string

func (s staticCreds) BearerToken() (string, error) { return string(s), nil }

func detailWith(seats []domain.Seat) api.RoomDetail {
	return api.RoomDetail{
		Room: domain.Room{ID: testRoom, Name: "test", HostID: "u-host", SeatCount: len(seats), ChatMode: domain.ChatAll},
		Seats: seats,
		Participants: []domain.Participant{
			{UserID: "u-host", IsHost: true, RTCUID: "rtc-host"},
			{UserID: testSelf, RTCUID: "rtc-self"},
		},
	}
}

func newSession(t *testing.T, seats []domain.Seat) (*Coordinator, *fakeAPI, *fakeChannel, *fakeMedia) {
	t.Helper()
	a := &fakeAPI{detail: detailWith(seats)}
	ch := newFakeChannel()
	media := &fakeMedia{}
	c := New(testRoom, testSelf, "", Deps{
		API:     a,
		Channel: ch,
		Media:   media,
		Creds:   staticCreds("bearer"),
	})
	if err := c.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	return c, a, ch, media
}

func event(t *testing.T, typ core.EventType, payload any) core.ServerEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return core.ServerEvent{Type: typ, Payload: raw}
}

func seatsWithSelf(micAllowed bool) []domain.Seat {
	uid := testSelf
	return []domain.Seat{
		{Index: 0, Mode: domain.SeatModeFree},
		{Index: 1, UserID: &uid, Mode: domain.SeatModeFree, MicAllowed: micAllowed},
	}
}

func emptySeats() []domain.Seat {
	return []domain.Seat{
		{Index: 0, Mode: domain.SeatModeFree},
		{Index: 1, Mode: domain.SeatModeRequest},
	}
}

func TestJoinStartsAsAudienceWithDisabledTrack(t *testing.T) {
	c, a, _, media := newSession(t, emptySeats())

	if got := c.TransportState(); got != transport.Audience {
		t.Fatalf("state = %v, want Audience", got)
	}
	if media.has("enable") || media.has("publish") {
		t.Fatalf("audience join must not enable or publish: %v", media.recorded())
	}
	if a.count("registerUID:rtc-self") != 1 {
		t.Fatal("rtc uid should be registered after media join")
	}
	if got := c.Role(); got != domain.RoleAudience {
		t.Fatalf("role = %v, want audience", got)
	}
}

func TestToggleMicWithoutSeatRejected(t *testing.T) {
	c, a, _, media := newSession(t, emptySeats())

	err := c.ToggleMic(context.Background(), true)
	if !errors.Is(err, core.ErrSeatUnavailable) {
		t.Fatalf("err = %v, want ErrSeatUnavailable", err)
	}
	if media.has("publish") {
		t.Fatal("no publish may be attempted without a seat")
	}
	if a.count("pubCred") != 0 {
		t.Fatal("no credential fetch without a seat")
	}
}

func TestSeatGrantDoesNotAutoPublish(t *testing.T) {
	c, _, ch, media := newSession(t, emptySeats())

	c.dispatch(context.Background(), event(t, core.EventSeatUpdate, core.SeatUpdatePayload{Seats: seatsWithSelf(true)}))

	if got := c.TransportState(); got != transport.Audience {
		t.Fatalf("state = %v, a grant alone must not promote", got)
	}
	if media.has("publish") {
		t.Fatal("grant must not publish")
	}
	if got := c.Role(); got != domain.RoleSeatedMute {
		t.Fatalf("role = %v, want seated_muted", got)
	}

	// Only the explicit toggle promotes.
	if err := c.ToggleMic(context.Background(), true); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := c.TransportState(); got != transport.Publisher {
		t.Fatalf("state = %v, want Publisher", got)
	}
	if got := c.Role(); got != domain.RoleSeatedLive {
		t.Fatalf("role = %v, want seated_live", got)
	}

	var sawMicOn bool
	for _, in := range ch.intents() {
		if in.Type == core.IntentMicOn {
			sawMicOn = true
		}
	}
	if !sawMicOn {
		t.Fatal("mic-on intent should be broadcast after promotion")
	}
}

func TestPromoteOrderRenewBeforePublish(t *testing.T) {
	c, _, _, media := newSession(t, seatsWithSelf(true))

	if err := c.ToggleMic(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	var renewIdx, publishIdx int
	for i, call := range media.recorded() {
		switch call {
		case "renew:pub-tok":
			renewIdx = i
		case "publish":
			publishIdx = i
		}
	}
	if renewIdx == 0 || publishIdx == 0 || renewIdx > publishIdx {
		t.Fatalf("want credential renewal before publish, got %v", media.recorded())
	}
}

func TestSeatRevokedWhilePublishingForcesDemotion(t *testing.T) {
	c, _, ch, media := newSession(t, seatsWithSelf(true))
	ctx := context.Background()

	if err := c.ToggleMic(ctx, true); err != nil {
		t.Fatal(err)
	}

	c.dispatch(ctx, event(t, core.EventSeatUpdate, core.SeatUpdatePayload{Seats: emptySeats()}))

	if got := c.TransportState(); got != transport.Audience {
		t.Fatalf("state = %v, want Audience after revocation", got)
	}
	if !media.has("unpublish") {
		t.Fatal("revocation must unpublish")
	}
	var sawMicOff bool
	for _, in := range ch.intents() {
		if in.Type == core.IntentMicOff {
			sawMicOff = true
		}
	}
	if !sawMicOff {
		t.Fatal("forced demotion should broadcast mic-off")
	}
	if got := c.Role(); got != domain.RoleAudience {
		t.Fatalf("role = %v, want audience", got)
	}
}

func TestPublishFailureRevertsToAudience(t *testing.T) {
	c, _, _, media := newSession(t, seatsWithSelf(true))
	media.publishErr = errors.New("ice failed")

	err := c.ToggleMic(context.Background(), true)
	if err == nil {
		t.Fatal("expected publish failure")
	}
	if got := c.TransportState(); got != transport.Audience {
		t.Fatalf("state = %v, want Audience after failed publish", got)
	}
	if got := c.Role(); got != domain.RoleSeatedMute {
		t.Fatalf("role = %v, seat survives a failed publish", got)
	}
}

func TestKickIsTerminal(t *testing.T) {
	c, _, ch, _ := newSession(t, seatsWithSelf(true))
	ctx := context.Background()

	if err := c.ToggleMic(ctx, true); err != nil {
		t.Fatal(err)
	}

	c.dispatch(ctx, event(t, core.EventKicked, core.UserPayload{UserID: testSelf}))

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done should close on kick")
	}
	select {
	case err := <-c.Errors():
		if !errors.Is(err, core.ErrKicked) {
			t.Fatalf("err = %v, want ErrKicked", err)
		}
	default:
		t.Fatal("terminal cause should be reported")
	}

	ch.mu.Lock()
	disabled, closed := ch.reconnectDisabled, ch.closed
	ch.mu.Unlock()
	if !disabled || !closed {
		t.Fatal("kick must disable reconnect and close the channel")
	}
	if got := c.TransportState(); got != transport.Disconnected {
		t.Fatalf("state = %v, want Disconnected", got)
	}
	if got := c.Role(); got != domain.RoleKicked {
		t.Fatalf("role = %v, want kicked", got)
	}

	if err := c.ToggleMic(ctx, true); !errors.Is(err, core.ErrKicked) {
		t.Fatalf("post-kick toggle = %v, want ErrKicked", err)
	}
	if err := c.TakeSeat(ctx, 0); !errors.Is(err, core.ErrKicked) {
		t.Fatalf("post-kick take = %v, want ErrKicked", err)
	}
}

func TestBanReasonSurfacesErrBanned(t *testing.T) {
	c, _, _, _ := newSession(t, emptySeats())

	c.dispatch(context.Background(), event(t, core.EventKicked, core.UserPayload{UserID: testSelf, Reason: "ban"}))

	select {
	case err := <-c.Errors():
		if !errors.Is(err, core.ErrBanned) {
			t.Fatalf("err = %v, want ErrBanned", err)
		}
	default:
		t.Fatal("terminal cause should be reported")
	}
}

func TestDuplicateSeatRequestsCollapse(t *testing.T) {
	c, _, _, _ := newSession(t, emptySeats())
	ctx := context.Background()

	idx1, idx2 := 1, 0
	first := domain.SeatRequest{ID: "req-1", UserID: "u-a", SeatIndex: &idx1, CreatedAt: time.Now().Add(-time.Minute)}
	second := domain.SeatRequest{ID: "req-2", UserID: "u-a", SeatIndex: &idx2, CreatedAt: time.Now()}

	c.dispatch(ctx, event(t, core.EventSeatRequest, core.SeatRequestPayload{Request: first}))
	c.dispatch(ctx, event(t, core.EventSeatRequest, core.SeatRequestPayload{Request: second}))

	pending := c.PendingRequests()
	if len(pending) != 1 {
		t.Fatalf("len = %d, want 1 entry per user", len(pending))
	}
	if got := pending[0].SeatIndex; got == nil || *got != idx2 {
		t.Fatal("newer seat index should win")
	}
	if !pending[0].CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("original queue position must be kept")
	}
}

func TestResyncRefetchesStateAndResubscribes(t *testing.T) {
	c, a, _, media := newSession(t, seatsWithSelf(true))
	ctx := context.Background()

	media.mu.Lock()
	media.remotes = []string{"rtc-host"}
	media.mu.Unlock()

	// Server-side the seat was lost while the channel was down.
	a.mu.Lock()
	a.detail = detailWith(emptySeats())
	a.mu.Unlock()

	if err := c.ToggleMic(ctx, true); err != nil {
		t.Fatal(err)
	}

	c.dispatch(ctx, core.ServerEvent{Type: core.EventResync})

	if a.count("detail") != 1 {
		t.Fatal("resync must refetch the room detail")
	}
	if !media.has("subscribe:rtc-host") {
		t.Fatal("resync must resubscribe active remotes")
	}
	if got := c.TransportState(); got != transport.Audience {
		t.Fatalf("state = %v, seat lost during outage must demote", got)
	}
}

func TestTakeSeatValidatesLocally(t *testing.T) {
	uid := domain.UserID("u-other")
	c, a, _, _ := newSession(t, []domain.Seat{
		{Index: 0, Mode: domain.SeatModeFree},
		{Index: 1, UserID: &uid, Mode: domain.SeatModeFree},
		{Index: 2, Mode: domain.SeatModeLocked},
		{Index: 3, Mode: domain.SeatModeRequest},
	})
	ctx := context.Background()

	if err := c.TakeSeat(ctx, 9); !errors.Is(err, core.ErrInvalidSeat) {
		t.Fatalf("out of range = %v, want ErrInvalidSeat", err)
	}
	if err := c.TakeSeat(ctx, 1); !errors.Is(err, core.ErrSeatUnavailable) {
		t.Fatalf("occupied = %v, want ErrSeatUnavailable", err)
	}
	if err := c.TakeSeat(ctx, 2); !errors.Is(err, core.ErrSeatUnavailable) {
		t.Fatalf("locked = %v, want ErrSeatUnavailable", err)
	}
	if err := c.TakeSeat(ctx, 3); !errors.Is(err, core.ErrSeatUnavailable) {
		t.Fatalf("request mode = %v, want ErrSeatUnavailable for instant take", err)
	}
	if a.count("takeSeat") != 0 {
		t.Fatal("invalid takes must never reach the server")
	}

	if err := c.TakeSeat(ctx, 0); err != nil {
		t.Fatalf("free seat take: %v", err)
	}
	if a.count("takeSeat") != 1 {
		t.Fatal("valid take should reach the server")
	}
}

func TestApproveRemovesFromLocalQueue(t *testing.T) {
	c, a, _, _ := newSession(t, emptySeats())
	ctx := context.Background()

	req := domain.SeatRequest{ID: "req-1", UserID: "u-a", CreatedAt: time.Now()}
	c.dispatch(ctx, event(t, core.EventSeatRequest, core.SeatRequestPayload{Request: req}))

	if err := c.Approve(ctx, "req-1", true); err != nil {
		t.Fatal(err)
	}
	if a.count("approve:req-1") != 1 {
		t.Fatal("approval should reach the server")
	}
	if len(c.PendingRequests()) != 0 {
		t.Fatal("approved request should leave the local queue")
	}
}

func TestChannelDownSurfacesError(t *testing.T) {
	c, _, _, _ := newSession(t, emptySeats())

	c.dispatch(context.Background(), core.ServerEvent{Type: core.EventDown})

	select {
	case err := <-c.Errors():
		if !errors.Is(err, core.ErrChannelDown) {
			t.Fatalf("err = %v, want ErrChannelDown", err)
		}
	default:
		t.Fatal("channel degradation should be reported")
	}
}
