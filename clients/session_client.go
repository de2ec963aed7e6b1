// Package clients talks to the platform services the engine depends on over HTTP.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// SessionClient asks the device session service to open a session for a match.
type SessionClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

type createSessionRequest struct {
	MatchID         string   `json:"match_id"`
	Players         []string `json:"players"`
	DurationSeconds int      `json:"duration_seconds"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func NewSessionClient(baseURL, token string) *SessionClient {
	return &SessionClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateSession returns the new session id. The caller bounds the call with ctx.
func (c *SessionClient) CreateSession(ctx context.Context, matchID string, players []string, durationSeconds int) (string, error) {
	url := fmt.Sprintf("%s/api/v1/sessions", c.BaseURL)
	body, err := json.Marshal(createSessionRequest{
		MatchID:         matchID,
		Players:         players,
		DurationSeconds: durationSeconds,
	})
	if err != nil {
		return "", eris.Wrap(err, "encode session request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "build session request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "call session service for match %s", matchID)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Warn().Int("status", resp.StatusCode).Str("match_id", matchID).Str("body", string(raw)).
			Msg("[SessionClient] session service rejected request")
		return "", eris.Errorf("session service returned %d", resp.StatusCode)
	}

	var out createSessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", eris.Wrap(err, "decode session response")
	}
	if out.SessionID == "" {
		return "", eris.New("session service returned no session id")
	}
	return out.SessionID, nil
}
