package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrRoomNotFound = errors.New("video room not found")

type Room struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client is the narrow surface the core needs from the conferencing
// collaborator.
type Client interface {
	CreateRoom(ctx context.Context, name string, durationMinutes int) (*Room, error)
	GenerateToken(ctx context.Context, roomName, userID, displayName string, isOwner bool, ttl time.Duration) (string, error)
	ExtendRoomExpiry(ctx context.Context, roomName string, minutes int) (time.Time, error)
}

type HTTPClient struct {
	apiURL string
	apiKey string
	client *http.Client
}

func NewHTTPClient(apiURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type createRoomRequest struct {
	Name       string `json:"name"`
	ExpiryUnix int64  `json:"exp"`
}

type roomResponse struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"exp"`
}

func (c *HTTPClient) CreateRoom(ctx context.Context, name string, durationMinutes int) (*Room, error) {
	body := createRoomRequest{
		Name:       name,
		ExpiryUnix: time.Now().Add(time.Duration(durationMinutes) * time.Minute).Unix(),
	}

	var resp roomResponse
	if err := c.do(ctx, http.MethodPost, "/rooms", body, &resp); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	return &Room{
		Name:      resp.Name,
		URL:       resp.URL,
		ExpiresAt: time.Unix(resp.ExpiresAt, 0),
	}, nil
}

type tokenRequest struct {
	RoomName    string `json:"room_name"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"user_name"`
	IsOwner     bool   `json:"is_owner"`
	ExpiryUnix  int64  `json:"exp"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (c *HTTPClient) GenerateToken(ctx context.Context, roomName, userID, displayName string, isOwner bool, ttl time.Duration) (string, error) {
	body := tokenRequest{
		RoomName:    roomName,
		UserID:      userID,
		DisplayName: displayName,
		IsOwner:     isOwner,
		ExpiryUnix:  time.Now().Add(ttl).Unix(),
	}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/meeting-tokens", body, &resp); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return resp.Token, nil
}

type extendRequest struct {
	ExpiryUnix int64 `json:"exp"`
}

func (c *HTTPClient) ExtendRoomExpiry(ctx context.Context, roomName string, minutes int) (time.Time, error) {
	body := extendRequest{
		ExpiryUnix: time.Now().Add(time.Duration(minutes) * time.Minute).Unix(),
	}

	var resp roomResponse
	if err := c.do(ctx, http.MethodPost, "/rooms/"+roomName, body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("extend room expiry: %w", err)
	}

	return time.Unix(resp.ExpiresAt, 0), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrRoomNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
