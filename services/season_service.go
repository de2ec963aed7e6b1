package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tournament-orchestrator/events"
	"tournament-orchestrator/models"
	"tournament-orchestrator/store"
)

const ReasonNotEnoughPlayers = "not_enough_players"

type CreateSeasonInput struct {
	TournamentID         string    `json:"tournament_id"`
	Name                 string    `json:"name"`
	Format               string    `json:"format"`
	StartsAt             time.Time `json:"starts_at"`
	JoinCutoff           time.Time `json:"join_cutoff"`
	GroupSize            int       `json:"group_size"`
	QualifiersPerGroup   int       `json:"qualifiers_per_group"`
	MatchDurationSeconds int       `json:"match_duration_seconds"`
}

// SeasonService runs the season lifecycle around the match engine.
type SeasonService struct {
	Store     store.Store
	Generator *Generator
	Events    events.Publisher
	Payments  PaymentClient
	Clock     clockwork.Clock
	Settings  Settings

	log zerolog.Logger
}

func NewSeasonService(st store.Store, gen *Generator, pub events.Publisher, payments PaymentClient, clock clockwork.Clock, settings Settings) *SeasonService {
	if payments == nil {
		payments = noopPayments{}
	}
	return &SeasonService{
		Store:     st,
		Generator: gen,
		Events:    pub,
		Payments:  payments,
		Clock:     clock,
		Settings:  settings,
		log:       log.With().Str("component", "seasons").Logger(),
	}
}

func (s *SeasonService) CreateSeason(ctx context.Context, in CreateSeasonInput) (*models.Season, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.TournamentID == "" || in.Name == "" || in.StartsAt.IsZero() {
		return nil, eris.Wrap(ErrValidation, "tournament_id, name and starts_at are required")
	}
	switch in.Format {
	case "":
		in.Format = models.SeasonFormatKnockout
	case models.SeasonFormatKnockout, models.SeasonFormatGroup:
	default:
		return nil, eris.Wrapf(ErrValidation, "unknown format %q", in.Format)
	}
	if in.JoinCutoff.IsZero() {
		in.JoinCutoff = in.StartsAt
	}
	if in.JoinCutoff.After(in.StartsAt) {
		return nil, eris.Wrap(ErrValidation, "join_cutoff must not be after starts_at")
	}
	if in.GroupSize < 0 || in.QualifiersPerGroup < 0 || in.MatchDurationSeconds < 0 {
		return nil, eris.Wrap(ErrValidation, "overrides must not be negative")
	}

	season := &models.Season{
		ID:                   uuid.NewString(),
		TournamentID:         in.TournamentID,
		Name:                 in.Name,
		Format:               in.Format,
		Status:               models.SeasonStatusUpcoming,
		StartsAt:             in.StartsAt,
		JoinCutoff:           in.JoinCutoff,
		GroupSize:            in.GroupSize,
		QualifiersPerGroup:   in.QualifiersPerGroup,
		MatchDurationSeconds: in.MatchDurationSeconds,
	}
	if err := s.Store.CreateSeason(ctx, season); err != nil {
		return nil, err
	}
	s.log.Info().Str("season_id", season.ID).Str("name", season.Name).Msg("[Seasons] season created")
	return season, nil
}

// JoinSeason adds a player to the roster while registration is open.
func (s *SeasonService) JoinSeason(ctx context.Context, seasonID, playerID string) (*models.SeasonPlayer, error) {
	if playerID == "" || playerID == models.ByePlayerID {
		return nil, eris.Wrap(ErrValidation, "a player id is required")
	}
	season, err := s.Store.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, notFound(err, "season %s", seasonID)
	}
	if season.Status != models.SeasonStatusUpcoming {
		return nil, eris.Wrapf(ErrInvalidState, "season %s is %s", seasonID, season.Status)
	}
	if s.Clock.Now().After(season.JoinCutoff) {
		return nil, eris.Wrapf(ErrInvalidState, "registration for season %s closed at %s", seasonID, season.JoinCutoff.Format(time.RFC3339))
	}
	entry := &models.SeasonPlayer{
		ID:       uuid.NewString(),
		SeasonID: seasonID,
		PlayerID: playerID,
		JoinedAt: s.Clock.Now(),
	}
	if err := s.Store.AddSeasonPlayer(ctx, entry); err != nil {
		if eris.Is(err, store.ErrDuplicate) {
			return nil, eris.Wrapf(ErrInvalidState, "player %s already joined season %s", playerID, seasonID)
		}
		return nil, err
	}
	return entry, nil
}

// StartSeason activates an upcoming season and creates its first round. A season
// with fewer than two players is cancelled and refunded instead.
func (s *SeasonService) StartSeason(ctx context.Context, seasonID string) (*models.Season, []*models.Match, error) {
	season, err := s.Store.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, nil, notFound(err, "season %s", seasonID)
	}
	if season.Status != models.SeasonStatusUpcoming {
		return nil, nil, eris.Wrapf(ErrInvalidState, "season %s is %s", seasonID, season.Status)
	}
	roster, err := s.Store.ListSeasonPlayers(ctx, seasonID)
	if err != nil {
		return nil, nil, err
	}
	players := make([]string, 0, len(roster))
	for _, p := range roster {
		players = append(players, p.PlayerID)
	}
	if len(players) < 2 {
		cancelled, err := s.cancel(ctx, season, ReasonNotEnoughPlayers, players)
		return cancelled, nil, err
	}

	season.Status = models.SeasonStatusActive
	ok, err := s.Store.TransitionSeason(ctx, season, models.SeasonStatusUpcoming)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, eris.Wrapf(ErrInvalidState, "season %s was started concurrently", seasonID)
	}

	settings := s.Settings.ForSeason(season)
	stage := models.Stage("")
	if season.Format == models.SeasonFormatGroup {
		stage = models.StageGroup
	}
	_, matches, err := s.Generator.Generate(ctx, players, StageOptions{
		TournamentID:       season.TournamentID,
		SeasonID:           season.ID,
		Stage:              stage,
		RoundNumber:        1,
		RoundStart:         s.Clock.Now(),
		MatchDuration:      settings.MatchDuration,
		MaxParallelMatches: settings.MaxParallelMatches,
		GroupSize:          settings.GroupSize,
		Shuffle:            true,
	})
	if err != nil {
		// Put the season back so the next start attempt can retry it.
		season.Status = models.SeasonStatusUpcoming
		if _, rerr := s.Store.TransitionSeason(ctx, season, models.SeasonStatusActive); rerr != nil {
			s.log.Error().Err(rerr).Str("season_id", seasonID).Msg("❌ [Seasons] failed to roll back season start")
		}
		return nil, nil, err
	}
	s.log.Info().Str("season_id", seasonID).Int("players", len(players)).Int("matches", len(matches)).
		Msg("🚀 [Seasons] season started")
	return season, matches, nil
}

// CancelSeason cancels a season that has not produced any match yet.
func (s *SeasonService) CancelSeason(ctx context.Context, seasonID, reason string) (*models.Season, error) {
	season, err := s.Store.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, notFound(err, "season %s", seasonID)
	}
	if season.Status != models.SeasonStatusUpcoming {
		return nil, eris.Wrapf(ErrInvalidState, "season %s is %s", seasonID, season.Status)
	}
	roster, err := s.Store.ListSeasonPlayers(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	players := make([]string, 0, len(roster))
	for _, p := range roster {
		players = append(players, p.PlayerID)
	}
	return s.cancel(ctx, season, reason, players)
}

func (s *SeasonService) cancel(ctx context.Context, season *models.Season, reason string, players []string) (*models.Season, error) {
	now := s.Clock.Now()
	season.Status = models.SeasonStatusCancelled
	season.CancelledAt = &now
	season.CancelReason = reason
	ok, err := s.Store.TransitionSeason(ctx, season, models.SeasonStatusUpcoming)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eris.Wrapf(ErrInvalidState, "season %s changed state concurrently", season.ID)
	}

	var refunded, failed []string
	for _, playerID := range players {
		if err := s.Payments.RefundEntryFee(ctx, season.TournamentID, season.ID, playerID); err != nil {
			s.log.Warn().Err(err).Str("season_id", season.ID).Str("player_id", playerID).Msg("[Seasons] refund failed")
			failed = append(failed, playerID)
			continue
		}
		refunded = append(refunded, playerID)
	}
	s.log.Info().Str("season_id", season.ID).Str("reason", reason).Int("refunded", len(refunded)).
		Msg("[Seasons] season cancelled")

	if s.Events != nil {
		e := events.New(events.SeasonCancelled, season.TournamentID, season.ID, now, events.SeasonCancelledPayload{
			Reason:        reason,
			RefundedIDs:   refunded,
			RefundFailure: failed,
		})
		if err := s.Events.Publish(ctx, e); err != nil {
			s.log.Warn().Err(err).Str("season_id", season.ID).Msg("[Seasons] event not delivered")
		}
	}
	return season, nil
}

// StartDueSeasons starts every upcoming season whose start time has passed.
func (s *SeasonService) StartDueSeasons(ctx context.Context) (int, error) {
	now := s.Clock.Now()
	due, err := s.Store.ListSeasons(ctx, store.SeasonFilter{Status: models.SeasonStatusUpcoming, StartsBefore: &now})
	if err != nil {
		return 0, err
	}
	started := 0
	for _, season := range due {
		if _, _, err := s.StartSeason(ctx, season.ID); err != nil {
			s.log.Error().Err(err).Str("season_id", season.ID).Msg("[Seasons] auto start failed")
			continue
		}
		started++
	}
	return started, nil
}

func (s *SeasonService) GetSeason(ctx context.Context, seasonID string) (*models.Season, error) {
	season, err := s.Store.GetSeason(ctx, seasonID)
	if err != nil {
		return nil, notFound(err, "season %s", seasonID)
	}
	return season, nil
}
