// Package api is the thin client for the room/seat HTTP API. CRUD wrappers
// only; all coordination logic lives in the session package.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kotkoti/voiceroom/internal/core"
	"github.com/kotkoti/voiceroom/internal/domain"
)

// RTCCredential is the media-transport token handed out by the server.
type RTCCredential struct {
	Provider  string    `json:"provider"`
	Token     string    `json:"token"`
	UID       string    `json:"uid"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type RoomDetail struct {
	domain.Room
	Seats        []domain.Seat        `json:"seats"`
	Participants []domain.Participant `json:"participants"`
}

type JoinResponse struct {
	Room  RoomDetail    `json:"room"`
	Token RTCCredential `json:"token"`
}

type Ban struct {
	ID       string        `json:"id"`
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	BannedBy domain.UserID `json:"bannedBy"`
	Reason   string        `json:"reason,omitempty"`
}

type Kick struct {
	UserID   domain.UserID `json:"userId"`
	KickedBy domain.UserID `json:"kickedBy"`
	At       time.Time     `json:"at"`
}

type Client struct {
	base  string
	http  *http.Client
	creds core.CredentialSource
}

func NewClient(base string, creds core.CredentialSource) *Client {
	return &Client{
		base:  base,
		http:  &http.Client{Timeout: 15 * time.Second},
		creds: creds,
	}
}

type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.creds.BearerToken()
	if err != nil {
		return fmt.Errorf("bearer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		switch apiErr.Code {
		case "ROOM_PIN_REQUIRED":
			return core.ErrPinRequired
		case "INVALID_ROOM_PIN":
			return core.ErrInvalidPin
		case "SEAT_UNAVAILABLE":
			return core.ErrSeatUnavailable
		case "INVALID_SEAT":
			return core.ErrInvalidSeat
		}
		if apiErr.Code != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Code)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ---- Rooms ----

func (c *Client) Rooms(ctx context.Context) ([]domain.Room, error) {
	var out []domain.Room
	err := c.do(ctx, http.MethodGet, "/rooms", nil, &out)
	return out, err
}

func (c *Client) CreateRoom(ctx context.Context, name string) (domain.Room, error) {
	var out struct {
		Room domain.Room `json:"room"`
	}
	err := c.do(ctx, http.MethodPost, "/rooms", map[string]string{"name": name}, &out)
	return out.Room, err
}

func (c *Client) RoomDetail(ctx context.Context, roomID domain.RoomID) (RoomDetail, error) {
	var out RoomDetail
	err := c.do(ctx, http.MethodGet, "/rooms/"+string(roomID), nil, &out)
	return out, err
}

func (c *Client) JoinRoom(ctx context.Context, roomID domain.RoomID, pin string) (JoinResponse, error) {
	var out JoinResponse
	body := map[string]string{}
	if pin != "" {
		body["pin"] = pin
	}
	err := c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/join", body, &out)
	return out, err
}

func (c *Client) LeaveRoom(ctx context.Context, roomID domain.RoomID) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/leave", nil, nil)
}

// RegisterRTCUID tells the server which transport identifier this client
// was assigned, so other participants can correlate audio to seats.
func (c *Client) RegisterRTCUID(ctx context.Context, roomID domain.RoomID, rtcUID string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/rtc-uid", map[string]string{"rtcUid": rtcUID}, nil)
}

// PublisherCredential fetches a token scoped to the publisher role.
func (c *Client) PublisherCredential(ctx context.Context, roomID domain.RoomID) (RTCCredential, error) {
	var out RTCCredential
	err := c.do(ctx, http.MethodGet, "/rooms/"+string(roomID)+"/publisher-token", nil, &out)
	return out, err
}

// ---- Seats ----

func (c *Client) TakeSeat(ctx context.Context, roomID domain.RoomID, seatIndex int) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/seat/take", map[string]int{"seatIndex": seatIndex}, nil)
}

func (c *Client) RequestSeat(ctx context.Context, roomID domain.RoomID, seatIndex *int) error {
	body := map[string]any{}
	if seatIndex != nil {
		body["seatIndex"] = *seatIndex
	}
	return c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/seat/request", body, nil)
}

func (c *Client) ApproveSeatRequest(ctx context.Context, roomID domain.RoomID, requestID string, accept bool) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/seat/approve",
		map[string]any{"requestId": requestID, "accept": accept}, nil)
}

func (c *Client) LeaveSeat(ctx context.Context, roomID domain.RoomID) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/seat/leave", nil, nil)
}

func (c *Client) MuteSeat(ctx context.Context, roomID domain.RoomID, seatIndex int, mute bool) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/seat/mute",
		map[string]any{"seatIndex": seatIndex, "mute": mute}, nil)
}

// ---- Moderation ----

func (c *Client) Kick(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/kick", map[string]string{"userId": string(userID)}, nil)
}

func (c *Client) Unkick(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return c.do(ctx, http.MethodDelete, "/rooms/"+string(roomID)+"/kick/"+string(userID), nil, nil)
}

func (c *Client) KickList(ctx context.Context, roomID domain.RoomID) ([]Kick, error) {
	var out []Kick
	err := c.do(ctx, http.MethodGet, "/rooms/"+string(roomID)+"/kicks", nil, &out)
	return out, err
}

func (c *Client) Ban(ctx context.Context, roomID domain.RoomID, userID domain.UserID, reason string) (Ban, error) {
	var out Ban
	body := map[string]string{"userId": string(userID)}
	if reason != "" {
		body["reason"] = reason
	}
	err := c.do(ctx, http.MethodPost, "/rooms/"+string(roomID)+"/ban", body, &out)
	return out, err
}

func (c *Client) Unban(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return c.do(ctx, http.MethodDelete, "/rooms/"+string(roomID)+"/ban/"+string(userID), nil, nil)
}

// ---- Media signaling ----

// ExchangeSDP posts an SDP offer to the media gateway and returns its
// answer. Plain strings on purpose: webrtc types stay out of this package.
func (c *Client) ExchangeSDP(ctx context.Context, channel, token, offer string) (string, error) {
	var out struct {
		Answer string `json:"answer"`
	}
	body := map[string]string{"channel": channel, "token": token, "offer": offer}
	if err := c.do(ctx, http.MethodPost, "/rtc/signal", body, &out); err != nil {
		return "", err
	}
	return out.Answer, nil
}
