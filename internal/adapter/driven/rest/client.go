// Package rest talks to the call server's REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/rs/zerolog/log"
)

const defaultTimeout = 10 * time.Second

// Client implements port.CallClient.
type Client struct {
	BaseURL string
	Channel string
	HTTP    *http.Client
}

func NewClient(baseURL, channel string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Channel: channel,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

type callRequest struct {
	CalleeID []string        `json:"calleeId"`
	CallType domain.CallType `json:"callType"`
	Channel  string          `json:"channel,omitempty"`
}

// SetupOutgoingCall asks the server to start a call to the given addresses.
func (c *Client) SetupOutgoingCall(ctx context.Context, addresses []string, callType domain.CallType) (domain.SessionData, error) {
	var data domain.SessionData
	err := c.postJSON(ctx, "/calls", callRequest{
		CalleeID: addresses,
		CallType: callType,
		Channel:  c.Channel,
	}, &data)
	if err != nil {
		return domain.SessionData{}, fmt.Errorf("setup outgoing call: %w", err)
	}
	return data, nil
}

// CreateRoom creates a room that can be joined through its url.
func (c *Client) CreateRoom(ctx context.Context, req domain.RoomRequest) (domain.RoomInfo, error) {
	var room domain.RoomInfo
	if err := c.postJSON(ctx, "/rooms", req, &room); err != nil {
		return domain.RoomInfo{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, v any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	log.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("Call server request succeeded")
	return nil
}

// decodeError turns a non-2xx answer into a *domain.RESTError. Bodies that are
// not the server's error document keep the status code and text.
func decodeError(resp *http.Response) error {
	restErr := &domain.RESTError{Code: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(body) > 0 {
		if jerr := json.Unmarshal(body, restErr); jerr != nil {
			restErr.Message = strings.TrimSpace(string(body))
		}
	}
	if restErr.Code == 0 {
		restErr.Code = resp.StatusCode
	}
	if restErr.Message == "" {
		restErr.Message = http.StatusText(resp.StatusCode)
	}
	return restErr
}
