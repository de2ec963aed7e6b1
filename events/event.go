// Package events carries lifecycle notifications out of the engine.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies an emitted lifecycle event.
type Type string

const (
	MatchCompleted  Type = "match.completed"
	RoundGenerated  Type = "round.generated"
	SeasonCompleted Type = "season.completed"
	SeasonCancelled Type = "season.cancelled"
)

// Event is the envelope every publisher sends.
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	TournamentID string    `json:"tournament_id"`
	SeasonID     string    `json:"season_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	Payload      any       `json:"payload"`
}

func New(t Type, tournamentID, seasonID string, at time.Time, payload any) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         t,
		TournamentID: tournamentID,
		SeasonID:     seasonID,
		OccurredAt:   at,
		Payload:      payload,
	}
}

// Publisher delivers events. Delivery is best effort: callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type MatchCompletedPayload struct {
	MatchID          string `json:"match_id"`
	Stage            string `json:"stage"`
	RoundNumber      int    `json:"round_number"`
	WinnerID         string `json:"winner_id,omitempty"`
	LoserID          string `json:"loser_id,omitempty"`
	Player1Score     int    `json:"player1_score"`
	Player2Score     int    `json:"player2_score"`
	Draw             bool   `json:"draw"`
	CompletionReason string `json:"completion_reason"`
	Status           string `json:"status"`
}

type RoundGeneratedPayload struct {
	BatchID     string   `json:"batch_id"`
	Stage       string   `json:"stage"`
	RoundNumber int      `json:"round_number"`
	MatchIDs    []string `json:"match_ids"`
	PlayerCount int      `json:"player_count"`
}

type SeasonCompletedPayload struct {
	FirstPlaceID  string `json:"first_place_id,omitempty"`
	SecondPlaceID string `json:"second_place_id,omitempty"`
	ThirdPlaceID  string `json:"third_place_id,omitempty"`
	PlayerCount   int    `json:"player_count"`
	Draw          bool   `json:"draw"`
	FinalizedBy   string `json:"finalized_by"`
}

type SeasonCancelledPayload struct {
	Reason        string   `json:"reason"`
	RefundedIDs   []string `json:"refunded_ids,omitempty"`
	RefundFailure []string `json:"refund_failures,omitempty"`
}
