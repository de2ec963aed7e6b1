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

// RefundReasonSeasonCancelled is sent with every entry-fee refund.
const RefundReasonSeasonCancelled = "season_cancelled"

// WalletClient requests entry-fee refunds from the wallet service.
type WalletClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

type refundRequest struct {
	TournamentID string `json:"tournament_id"`
	SeasonID     string `json:"season_id"`
	PlayerID     string `json:"player_id"`
	Reason       string `json:"reason"`
	// IdempotencyKey lets the wallet service drop repeated refunds.
	IdempotencyKey string `json:"idempotency_key"`
}

func NewWalletClient(baseURL, token string) *WalletClient {
	return &WalletClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RefundEntryFee refunds one player's entry fee. A refund the wallet already
// processed counts as success.
func (c *WalletClient) RefundEntryFee(ctx context.Context, tournamentID, seasonID, playerID string) error {
	url := fmt.Sprintf("%s/api/v1/refunds/entry-fee", c.BaseURL)
	body, err := json.Marshal(refundRequest{
		TournamentID:   tournamentID,
		SeasonID:       seasonID,
		PlayerID:       playerID,
		Reason:         RefundReasonSeasonCancelled,
		IdempotencyKey: seasonID + ":" + playerID,
	})
	if err != nil {
		return eris.Wrap(err, "encode refund request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "build refund request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "call wallet service for player %s", playerID)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusConflict:
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	log.Warn().Int("status", resp.StatusCode).Str("player_id", playerID).Str("body", string(raw)).
		Msg("[WalletClient] refund rejected")
	return eris.Errorf("wallet service returned %d: %s", resp.StatusCode, string(raw))
}
