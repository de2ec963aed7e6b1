// Package store owns durable tournament state: matches, round batches, seasons,
// rosters and verification tokens.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"tournament-orchestrator/models"
)

var (
	ErrNotFound = eris.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert. For round
	// batches it means another worker already generated that round.
	ErrDuplicate = eris.New("record already exists")
)

// Match columns that may be passed to UpdateMatch.
const (
	ColPlayer1ID          = "player1_id"
	ColPlayer2ID          = "player2_id"
	ColHostID             = "host_id"
	ColScheduledAt        = "scheduled_at"
	ColStartedAt          = "started_at"
	ColCompletedAt        = "completed_at"
	ColDurationSeconds    = "duration_seconds"
	ColWinnerID           = "winner_id"
	ColPlayer1Score       = "player1_score"
	ColPlayer2Score       = "player2_score"
	ColDraw               = "draw"
	ColCompletionReason   = "completion_reason"
	ColAdvancesToMatchID  = "advances_to_match_id"
	ColAdvancesToSlot     = "advances_to_slot"
	ColPlayer1Ready       = "player1_ready"
	ColPlayer1ReadyAt     = "player1_ready_at"
	ColPlayer2Ready       = "player2_ready"
	ColPlayer2ReadyAt     = "player2_ready_at"
	ColSessionID          = "session_id"
	ColVerificationMethod = "verification_method"
	ColVerifiedAt         = "verified_at"
	ColStatus             = "status"
	ColMetadata           = "metadata"
)

// ResultColumns are written when a match reaches a terminal state.
var ResultColumns = []string{
	ColWinnerID, ColPlayer1Score, ColPlayer2Score, ColDraw,
	ColCompletionReason, ColCompletedAt, ColStatus, ColMetadata,
}

// MatchFilter narrows ListMatches. Zero fields match everything.
type MatchFilter struct {
	TournamentID  string
	SeasonID      string
	Stage         models.Stage
	RoundNumber   int
	Statuses      []models.MatchStatus
	ScheduledOnly bool
}

// SeasonFilter narrows ListSeasons.
type SeasonFilter struct {
	TournamentID string
	Status       models.SeasonStatus
	StartsBefore *time.Time
}

// Store is the persistence boundary used by the engine. Every conditional write
// reports whether it applied so callers can tell a lost race from an error.
type Store interface {
	// CreateRound inserts the batch row and its matches atomically. It returns
	// ErrDuplicate when the (season, stage, round) batch already exists.
	CreateRound(ctx context.Context, batch *models.RoundBatch, matches []*models.Match) error
	RoundExists(ctx context.Context, seasonID string, stage models.Stage, round int) (bool, error)

	GetMatch(ctx context.Context, id string) (*models.Match, error)
	ListMatches(ctx context.Context, f MatchFilter) ([]*models.Match, error)
	// UpdateMatch writes the named columns of m when the stored status is one of
	// from. A nil from skips the status guard.
	UpdateMatch(ctx context.Context, m *models.Match, from []models.MatchStatus, columns ...string) (bool, error)

	CreateSeason(ctx context.Context, s *models.Season) error
	GetSeason(ctx context.Context, id string) (*models.Season, error)
	ListSeasons(ctx context.Context, f SeasonFilter) ([]*models.Season, error)
	// TransitionSeason persists s when the stored status equals from.
	TransitionSeason(ctx context.Context, s *models.Season, from models.SeasonStatus) (bool, error)
	AddSeasonPlayer(ctx context.Context, p *models.SeasonPlayer) error
	ListSeasonPlayers(ctx context.Context, seasonID string) ([]models.SeasonPlayer, error)

	CreateToken(ctx context.Context, t *models.VerificationToken) error
	ListTokens(ctx context.Context, matchID string, status models.TokenStatus) ([]*models.VerificationToken, error)
	TransitionToken(ctx context.Context, id string, from, to models.TokenStatus, at time.Time) (bool, error)
	// ReplaceIssuedToken revokes every issued token of t's match and stores t, as one
	// step: at most one token per match is ever left issued.
	ReplaceIssuedToken(ctx context.Context, t *models.VerificationToken) (int64, error)
}
