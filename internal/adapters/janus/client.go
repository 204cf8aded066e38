// Package janus is a thin client for the Janus videoroom HTTP endpoint.
package janus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultBitrate = 1024000
	firFreq        = 10
)

type Client struct {
	Base   string
	Secret string
	HTTP   *http.Client
}

var _ core.RoomClient = (*Client)(nil)

func New(base, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		Base:   strings.TrimRight(base, "/"),
		Secret: secret,
		HTTP:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) URL() string { return c.Base }

type response struct {
	Videoroom    string          `json:"videoroom"`
	Room         json.RawMessage `json:"room"`
	Description  string          `json:"description"`
	ErrorCode    int             `json:"error_code"`
	Error        string          `json:"error"`
	Participants []struct {
		ID        json.RawMessage `json:"id"`
		Display   string          `json:"display"`
		Publisher bool            `json:"publisher"`
	} `json:"participants"`
}

func (c *Client) CreateRoom(ctx context.Context, id core.RoomID, description string, maxPublishers int) (*core.RoomHandle, error) {
	payload := map[string]any{
		"request":     "create",
		"room":        id,
		"description": description,
		"publishers":  maxPublishers,
		"bitrate":     DefaultBitrate,
		"fir_freq":    firFreq,
		"e2ee":        true,
		"secret":      c.Secret,
	}
	if _, err := c.post(ctx, id, payload); err != nil {
		return nil, err
	}
	log.Info().Str("module", "janus").Str("room", string(id)).Msg("room created")
	return &core.RoomHandle{ID: id, Description: description, MaxPublishers: maxPublishers}, nil
}

func (c *Client) DestroyRoom(ctx context.Context, id core.RoomID) error {
	payload := map[string]any{
		"request": "destroy",
		"room":    id,
		"secret":  c.Secret,
	}
	if _, err := c.post(ctx, id, payload); err != nil {
		return err
	}
	log.Info().Str("module", "janus").Str("room", string(id)).Msg("room destroyed")
	return nil
}

func (c *Client) ListParticipants(ctx context.Context, id core.RoomID) (*core.RoomInfo, error) {
	resp, err := c.post(ctx, id, map[string]any{
		"request": "listparticipants",
		"room":    id,
	})
	if err != nil {
		return nil, err
	}
	info := &core.RoomInfo{ID: id, Participants: make([]core.RoomParticipant, 0, len(resp.Participants))}
	for _, p := range resp.Participants {
		info.Participants = append(info.Participants, core.RoomParticipant{
			ID:        strings.Trim(string(p.ID), `"`),
			Display:   p.Display,
			Publisher: p.Publisher,
		})
	}
	return info, nil
}

func (c *Client) post(ctx context.Context, id core.RoomID, payload map[string]any) (*response, error) {
	logger := log.With().Str("module", "janus").Str("room", string(id)).Str("request", payload["request"].(string)).Logger()

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+"/janus/videoroom", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("janus request failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn().Int("status", resp.StatusCode).Msg("janus non-success response")
		return nil, fmt.Errorf("%w: janus %s: %s", domain.ErrRelayUnavailable, payload["request"], resp.Status)
	}

	var out response
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrRelayUnavailable, err)
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			logger.Warn().Err(err).Msg("janus bad json")
			return nil, fmt.Errorf("%w: decode: %v", domain.ErrRelayUnavailable, err)
		}
	}
	if out.ErrorCode != 0 || (out.Videoroom == "event" && out.Error != "") {
		logger.Warn().Int("code", out.ErrorCode).Str("error", out.Error).Msg("janus error")
		return nil, fmt.Errorf("%w: janus error %d: %s", domain.ErrRelayUnavailable, out.ErrorCode, out.Error)
	}
	return &out, nil
}
