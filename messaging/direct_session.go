// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/boardhost/lib/ref"
	"github.com/bureau-foundation/boardhost/lib/secret"
)

// Tokens is a freshly issued access/refresh token pair. An empty
// RefreshToken means the previous refresh token stays valid.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// TokenRefresher obtains a new token pair from a refresh token. It is
// also responsible for persisting the pair.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (Tokens, error)
}

// DirectSession is an authenticated Matrix session. Safe for concurrent
// use. Close releases the token memory.
type DirectSession struct {
	client    *Client
	userID    ref.UserID
	deviceID  string
	refresher TokenRefresher

	mu           sync.Mutex
	accessToken  *secret.Buffer
	refreshToken *secret.Buffer
	// generation increments on every token swap so a request that
	// failed with an old token can tell whether a refresh already
	// happened.
	generation uint64
	closed     bool

	// refreshing serializes refresh attempts.
	refreshing sync.Mutex
}

// UserID returns the session's user.
func (s *DirectSession) UserID() ref.UserID { return s.userID }

// DeviceID returns the session's device.
func (s *DirectSession) DeviceID() string { return s.deviceID }

// HomeserverURL returns the homeserver base URL.
func (s *DirectSession) HomeserverURL() string { return s.client.baseURL }

// AccessToken returns a heap copy of the current access token, or ""
// once the session is closed.
func (s *DirectSession) AccessToken() string {
	token, _, _ := s.currentToken()
	return token
}

// Close releases both tokens. Later requests fail with
// ErrSessionClosed. Idempotent.
func (s *DirectSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	accessErr := s.accessToken.Close()
	refreshErr := s.refreshToken.Close()
	if accessErr != nil {
		return accessErr
	}
	return refreshErr
}

func (s *DirectSession) currentToken() (string, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", s.generation, false
	}
	return s.accessToken.String(), s.generation, true
}

// refresh replaces the token pair unless another caller already did so
// since generation was observed.
func (s *DirectSession) refresh(ctx context.Context, generation uint64) error {
	s.refreshing.Lock()
	defer s.refreshing.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.generation != generation {
		s.mu.Unlock()
		return nil
	}
	if s.refreshToken == nil {
		s.mu.Unlock()
		return ErrNoRefreshToken
	}
	refreshToken := s.refreshToken.String()
	s.mu.Unlock()

	tokens, err := s.refresher.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	accessBuffer, err := secret.FromString(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("messaging: protecting refreshed access token: %w", err)
	}
	var refreshBuffer *secret.Buffer
	if tokens.RefreshToken != "" {
		refreshBuffer, err = secret.FromString(tokens.RefreshToken)
		if err != nil {
			accessBuffer.Close()
			return fmt.Errorf("messaging: protecting refreshed refresh token: %w", err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		accessBuffer.Close()
		refreshBuffer.Close()
		return ErrSessionClosed
	}
	s.accessToken.Close()
	s.accessToken = accessBuffer
	if refreshBuffer != nil {
		s.refreshToken.Close()
		s.refreshToken = refreshBuffer
	}
	s.generation++
	s.mu.Unlock()

	s.client.logger.Info("access token refreshed", "user_id", s.userID)
	return nil
}

// authenticated runs attempt with the current access token, refreshing
// and retrying once if the server reports M_UNKNOWN_TOKEN.
func (s *DirectSession) authenticated(ctx context.Context, attempt func(token string) ([]byte, error)) ([]byte, error) {
	token, generation, ok := s.currentToken()
	if !ok {
		return nil, ErrSessionClosed
	}
	body, err := attempt(token)
	if err == nil || s.refresher == nil || !IsMatrixError(err, ErrCodeUnknownToken) {
		return body, err
	}
	if refreshErr := s.refresh(ctx, generation); refreshErr != nil {
		return nil, fmt.Errorf("%w (token refresh failed: %v)", err, refreshErr)
	}
	token, _, ok = s.currentToken()
	if !ok {
		return nil, ErrSessionClosed
	}
	return attempt(token)
}

func (s *DirectSession) do(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	return s.authenticated(ctx, func(token string) ([]byte, error) {
		return s.client.doRequest(ctx, method, path, token, body, query)
	})
}

// WhoAmI validates the access token.
func (s *DirectSession) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: whoami failed: %w", err)
	}
	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return &response, nil
}

// CreateRoom creates a room.
func (s *DirectSession) CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error) {
	body, err := s.do(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", request, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: create room failed: %w", err)
	}
	var response CreateRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse createRoom response: %w", err)
	}
	s.client.logger.Info("created matrix room", "room_id", response.RoomID, "name", request.Name)
	return &response, nil
}

// JoinRoom joins a room by ID.
func (s *DirectSession) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.do(ctx, http.MethodPost, path, struct{}{}, nil)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}
	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// LeaveRoom leaves a room.
func (s *DirectSession) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/leave"
	if _, err := s.do(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("messaging: leave room %s failed: %w", roomID, err)
	}
	return nil
}

// KickUser removes userID from roomID.
func (s *DirectSession) KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/kick"
	if _, err := s.do(ctx, http.MethodPost, path, KickRequest{UserID: userID, Reason: reason}, nil); err != nil {
		return fmt.Errorf("messaging: kick %s from %s failed: %w", userID, roomID, err)
	}
	return nil
}

// GetRoomMembers returns every membership of a room, including leave
// and ban.
func (s *DirectSession) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/members"
	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room members for %s failed: %w", roomID, err)
	}
	var response RoomMembersResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room members response: %w", err)
	}
	members := make([]RoomMember, len(response.Chunk))
	for index, event := range response.Chunk {
		members[index] = RoomMember{
			UserID:      event.StateKey,
			DisplayName: event.Content.DisplayName,
			Membership:  event.Content.Membership,
			AvatarURL:   event.Content.AvatarURL,
		}
	}
	return members, nil
}

// GetRoomState returns all current state events of a room.
func (s *DirectSession) GetRoomState(ctx context.Context, roomID ref.RoomID) ([]Event, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/state"
	body, err := s.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room state for %s failed: %w", roomID, err)
	}
	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room state response: %w", err)
	}
	for index := range events {
		events[index].RoomID = roomID
	}
	return events, nil
}

func sendPath(roomID ref.RoomID, eventType ref.EventType, transactionID string) string {
	return "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/send/" + url.PathEscape(eventType.String()) +
		"/" + url.PathEscape(transactionID)
}

func statePath(roomID ref.RoomID, eventType ref.EventType, stateKey string) string {
	return "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/state/" + url.PathEscape(eventType.String()) +
		"/" + url.PathEscape(stateKey)
}

// delayQuery is the MSC4140 query parameter for a delayed send.
func delayQuery(delay time.Duration) url.Values {
	return url.Values{"org.matrix.msc4140.delay": {strconv.FormatInt(delay.Milliseconds(), 10)}}
}

// SendEvent sends a room event with an idempotent transaction ID and
// returns its event ID.
func (s *DirectSession) SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error) {
	body, err := s.do(ctx, http.MethodPut, sendPath(roomID, eventType, nextTransactionID()), content, nil)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send %s to %s failed: %w", eventType, roomID, err)
	}
	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// SendStateEvent sets a state event and returns its event ID.
func (s *DirectSession) SendStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, content any) (ref.EventID, error) {
	body, err := s.do(ctx, http.MethodPut, statePath(roomID, eventType, stateKey), content, nil)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send state %s to %s failed: %w", eventType, roomID, err)
	}
	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send state response: %w", err)
	}
	return response.EventID, nil
}

// SendDelayedEvent schedules a room event to be sent after delay and
// returns the server's delay ID.
func (s *DirectSession) SendDelayedEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, delay time.Duration, content any) (string, error) {
	body, err := s.do(ctx, http.MethodPut, sendPath(roomID, eventType, nextTransactionID()), content, delayQuery(delay))
	if err != nil {
		return "", fmt.Errorf("messaging: delayed send %s to %s failed: %w", eventType, roomID, err)
	}
	return parseDelayID(body)
}

// SendDelayedStateEvent schedules a state event.
func (s *DirectSession) SendDelayedStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string, delay time.Duration, content any) (string, error) {
	body, err := s.do(ctx, http.MethodPut, statePath(roomID, eventType, stateKey), content, delayQuery(delay))
	if err != nil {
		return "", fmt.Errorf("messaging: delayed state %s to %s failed: %w", eventType, roomID, err)
	}
	return parseDelayID(body)
}

func parseDelayID(body []byte) (string, error) {
	var response DelayedEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse delayed event response: %w", err)
	}
	if response.DelayID == "" {
		return "", fmt.Errorf("messaging: delayed event response missing delay_id")
	}
	return response.DelayID, nil
}

// UpdateDelayedEvent applies action (DelayedActionSend, Cancel, or
// Restart) to a scheduled event.
func (s *DirectSession) UpdateDelayedEvent(ctx context.Context, delayID, action string) error {
	switch action {
	case DelayedActionSend, DelayedActionCancel, DelayedActionRestart:
	default:
		return fmt.Errorf("messaging: unknown delayed event action %q", action)
	}
	path := "/_matrix/client/unstable/org.matrix.msc4140/delayed_events/" + url.PathEscape(delayID)
	if _, err := s.do(ctx, http.MethodPost, path, map[string]string{"action": action}, nil); err != nil {
		return fmt.Errorf("messaging: %s delayed event %s failed: %w", action, delayID, err)
	}
	return nil
}

// SendToDevice delivers one batch of to-device messages of a single
// event type.
func (s *DirectSession) SendToDevice(ctx context.Context, eventType ref.EventType, messages []ToDeviceMessage) error {
	nested := make(map[string]map[string]any)
	for _, message := range messages {
		user := message.UserID.String()
		if nested[user] == nil {
			nested[user] = make(map[string]any)
		}
		nested[user][message.DeviceID] = message.Content
	}
	path := "/_matrix/client/v3/sendToDevice/" + url.PathEscape(eventType.String()) + "/" + url.PathEscape(nextTransactionID())
	if _, err := s.do(ctx, http.MethodPut, path, map[string]any{"messages": nested}, nil); err != nil {
		return fmt.Errorf("messaging: send to-device %s failed: %w", eventType, err)
	}
	return nil
}

// SearchUserDirectory queries the homeserver's user directory.
func (s *DirectSession) SearchUserDirectory(ctx context.Context, term string, limit int) (*UserDirectoryResponse, error) {
	body, err := s.do(ctx, http.MethodPost, "/_matrix/client/v3/user_directory/search",
		UserDirectoryRequest{SearchTerm: term, Limit: limit}, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: user directory search failed: %w", err)
	}
	var response UserDirectoryResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse user directory response: %w", err)
	}
	return &response, nil
}

// UploadMedia stores data in the media repository and returns its mxc
// URI. The data is held in memory so the upload can be retried after a
// token refresh.
func (s *DirectSession) UploadMedia(ctx context.Context, contentType string, data []byte) (string, error) {
	body, err := s.authenticated(ctx, func(token string) ([]byte, error) {
		return s.client.doRequestRaw(ctx, http.MethodPost, "/_matrix/media/v3/upload", token, contentType, bytes.NewReader(data), nil)
	})
	if err != nil {
		return "", fmt.Errorf("messaging: media upload failed: %w", err)
	}
	var response UploadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("messaging: failed to parse upload response: %w", err)
	}
	return response.ContentURI, nil
}

// TURNCredentials fetches time-limited TURN credentials.
func (s *DirectSession) TURNCredentials(ctx context.Context) (*TURNCredentialsResponse, error) {
	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/voip/turnServer", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get TURN credentials failed: %w", err)
	}
	var response TURNCredentialsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse TURN credentials: %w", err)
	}
	return &response, nil
}

// Sync performs one /sync request.
func (s *DirectSession) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}
	body, err := s.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}
	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// Logout invalidates this session's access token on the server.
func (s *DirectSession) Logout(ctx context.Context) error {
	token, _, ok := s.currentToken()
	if !ok {
		return ErrSessionClosed
	}
	if _, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/logout", token, struct{}{}, nil); err != nil {
		return fmt.Errorf("messaging: logout failed: %w", err)
	}
	return nil
}

func nextTransactionID() string {
	return "boardhost-" + uuid.NewString()
}
