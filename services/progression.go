package services

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tournament-orchestrator/events"
	"tournament-orchestrator/models"
	"tournament-orchestrator/store"
)

// MatchResult is a reported outcome. Nil scores keep whatever was recorded live.
type MatchResult struct {
	WinnerID     string         `json:"winner_id"`
	Player1Score *int           `json:"player1_score"`
	Player2Score *int           `json:"player2_score"`
	Draw         bool           `json:"draw"`
	Reason       string         `json:"reason"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Evaluator is notified after every progression step.
type Evaluator interface {
	Evaluate(ctx context.Context, m *models.Match) error
}

// Engine is the single entry point for "a match just ended" and the other
// match commands.
type Engine struct {
	Store     store.Store
	Generator *Generator
	Detector  Evaluator
	Events    events.Publisher
	Clock     clockwork.Clock
	Settings  Settings

	log zerolog.Logger
}

func NewEngine(st store.Store, gen *Generator, detector Evaluator, pub events.Publisher, clock clockwork.Clock, settings Settings) *Engine {
	return &Engine{
		Store:     st,
		Generator: gen,
		Detector:  detector,
		Events:    pub,
		Clock:     clock,
		Settings:  settings,
		log:       log.With().Str("component", "progression").Logger(),
	}
}

// CompleteMatch records a result and drives progression. Completing a match that
// is already terminal returns the stored record unchanged.
func (e *Engine) CompleteMatch(ctx context.Context, matchID string, result MatchResult, p Principal) (*models.Match, error) {
	m, err := e.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	if !p.canAct(m) {
		return nil, eris.Wrapf(ErrAuthorizationDenied, "%s may not report match %s", p.ID, matchID)
	}
	if m.Status.Terminal() {
		return m, nil
	}
	if err := validateResult(m, &result); err != nil {
		return nil, err
	}

	now := e.Clock.Now()
	next := m.Clone()
	next.Status = models.MatchStatusCompleted
	next.WinnerID = result.WinnerID
	next.Draw = result.Draw
	next.CompletionReason = result.Reason
	next.CompletedAt = &now
	if result.Player1Score != nil {
		next.Player1Score = *result.Player1Score
	}
	if result.Player2Score != nil {
		next.Player2Score = *result.Player2Score
	}
	for k, v := range result.Metadata {
		next.SetMeta(k, v)
	}

	applied, err := e.Store.UpdateMatch(ctx, next, models.OpenMatchStatuses, store.ResultColumns...)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Someone else finished it first; their call owns progression.
		return e.reload(ctx, matchID)
	}

	e.log.Info().
		Str("match_id", next.ID).
		Str("winner_id", next.WinnerID).
		Str("reason", next.CompletionReason).
		Bool("draw", next.Draw).
		Msg("✅ [Progression] match completed")
	e.publish(ctx, events.New(events.MatchCompleted, next.TournamentID, next.SeasonID, now, completedPayload(next)))

	e.afterTerminal(ctx, next)
	return next, nil
}

// CancelMatch moves an open match to cancelled. Progression and completion
// detection still run so the round does not stall on it.
func (e *Engine) CancelMatch(ctx context.Context, matchID, reason string, p Principal) (*models.Match, error) {
	m, err := e.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	if !p.Service {
		return nil, eris.Wrapf(ErrAuthorizationDenied, "%s may not cancel match %s", p.ID, matchID)
	}
	switch m.Status {
	case models.MatchStatusCancelled:
		return m, nil
	case models.MatchStatusCompleted:
		return nil, eris.Wrapf(ErrInvalidState, "match %s already completed", matchID)
	}
	if reason == "" {
		reason = "cancelled"
	}

	now := e.Clock.Now()
	next := m.Clone()
	next.Status = models.MatchStatusCancelled
	next.CompletionReason = reason
	next.CompletedAt = &now
	next.SetMeta(models.MetaCancelReason, reason)

	applied, err := e.Store.UpdateMatch(ctx, next, models.OpenMatchStatuses,
		store.ColStatus, store.ColCompletionReason, store.ColCompletedAt, store.ColMetadata)
	if err != nil {
		return nil, err
	}
	if !applied {
		return e.reload(ctx, matchID)
	}
	e.log.Info().Str("match_id", matchID).Str("reason", reason).Msg("[Progression] match cancelled")
	e.publish(ctx, events.New(events.MatchCompleted, next.TournamentID, next.SeasonID, now, completedPayload(next)))

	e.afterTerminal(ctx, next)
	return next, nil
}

// MarkReady flags a player as present. The first ready time is kept.
func (e *Engine) MarkReady(ctx context.Context, matchID, playerID string, p Principal) (*models.Match, error) {
	m, err := e.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	if playerID == "" {
		playerID = p.ID
	}
	if !p.Service && p.ID != playerID {
		return nil, eris.Wrapf(ErrAuthorizationDenied, "%s may not ready up for %s", p.ID, playerID)
	}
	if !m.HasPlayer(playerID) || playerID == models.ByePlayerID {
		return nil, eris.Wrapf(ErrAuthorizationDenied, "%s is not in match %s", playerID, matchID)
	}
	if m.Status.Terminal() {
		return nil, eris.Wrapf(ErrInvalidState, "match %s is %s", matchID, m.Status)
	}

	now := e.Clock.Now()
	next := m.Clone()
	var cols []string
	switch playerID {
	case m.Player1ID:
		if m.Player1Ready {
			return m, nil
		}
		next.Player1Ready, next.Player1ReadyAt = true, &now
		cols = []string{store.ColPlayer1Ready, store.ColPlayer1ReadyAt}
	case m.Player2ID:
		if m.Player2Ready {
			return m, nil
		}
		next.Player2Ready, next.Player2ReadyAt = true, &now
		cols = []string{store.ColPlayer2Ready, store.ColPlayer2ReadyAt}
	}
	applied, err := e.Store.UpdateMatch(ctx, next, models.OpenMatchStatuses, cols...)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, eris.Wrapf(ErrInvalidState, "match %s closed while readying", matchID)
	}

	cur, err := e.reload(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if cur.Player1Ready && cur.Player2Ready && cur.Status == models.MatchStatusScheduled {
		cur.Status = models.MatchStatusReady
		if _, err := e.Store.UpdateMatch(ctx, cur, []models.MatchStatus{models.MatchStatusScheduled}, store.ColStatus); err != nil {
			return nil, err
		}
		return e.reload(ctx, matchID)
	}
	return cur, nil
}

// StartMatch records the actual start of play.
func (e *Engine) StartMatch(ctx context.Context, matchID string, p Principal) (*models.Match, error) {
	m, err := e.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	if !p.canAct(m) {
		return nil, eris.Wrapf(ErrAuthorizationDenied, "%s may not start match %s", p.ID, matchID)
	}
	if m.Status.Terminal() {
		return nil, eris.Wrapf(ErrInvalidState, "match %s is %s", matchID, m.Status)
	}
	if m.Status == models.MatchStatusInProgress {
		return m, nil
	}
	now := e.Clock.Now()
	next := m.Clone()
	next.Status = models.MatchStatusInProgress
	next.StartedAt = &now
	applied, err := e.Store.UpdateMatch(ctx, next,
		[]models.MatchStatus{models.MatchStatusScheduled, models.MatchStatusReady},
		store.ColStatus, store.ColStartedAt)
	if err != nil {
		return nil, err
	}
	if !applied {
		cur, err := e.reload(ctx, matchID)
		if err != nil {
			return nil, err
		}
		if cur.Status == models.MatchStatusInProgress {
			return cur, nil
		}
		return nil, eris.Wrapf(ErrInvalidState, "match %s is %s", matchID, cur.Status)
	}
	e.log.Info().Str("match_id", matchID).Msg("[Progression] match started")
	return next, nil
}

// RecordScores stores live scores while a match is being played.
func (e *Engine) RecordScores(ctx context.Context, matchID string, player1Score, player2Score int, p Principal) (*models.Match, error) {
	m, err := e.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	if !p.canAct(m) {
		return nil, eris.Wrapf(ErrAuthorizationDenied, "%s may not score match %s", p.ID, matchID)
	}
	if m.Status.Terminal() {
		return nil, eris.Wrapf(ErrInvalidState, "match %s is %s", matchID, m.Status)
	}
	if player1Score < 0 || player2Score < 0 {
		return nil, eris.Wrap(ErrValidation, "scores must not be negative")
	}
	next := m.Clone()
	next.Player1Score = player1Score
	next.Player2Score = player2Score
	applied, err := e.Store.UpdateMatch(ctx, next, models.OpenMatchStatuses, store.ColPlayer1Score, store.ColPlayer2Score)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, eris.Wrapf(ErrInvalidState, "match %s closed while scoring", matchID)
	}
	return next, nil
}

// afterTerminal runs progression and completion detection. Failures are logged;
// the match transition already happened and stays.
func (e *Engine) afterTerminal(ctx context.Context, m *models.Match) {
	if err := e.advance(ctx, m); err != nil {
		e.log.Error().Err(err).Str("match_id", m.ID).Msg("[Progression] advancing bracket failed")
	}
	if e.Detector == nil {
		return
	}
	if err := e.Detector.Evaluate(ctx, m); err != nil {
		e.log.Error().Err(err).Str("season_id", m.SeasonID).Msg("[Progression] completion check failed")
	}
}

func (e *Engine) advance(ctx context.Context, m *models.Match) error {
	seasonMatches, err := e.Store.ListMatches(ctx, store.MatchFilter{SeasonID: m.SeasonID})
	if err != nil {
		return err
	}
	settings := e.seasonSettings(ctx, m.SeasonID)
	for _, plan := range PlanNextRounds(m, seasonMatches, settings.QualifiersPerGroup) {
		if err := e.createRound(ctx, m, plan, settings); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) createRound(ctx context.Context, trigger *models.Match, plan RoundPlan, settings Settings) error {
	exists, err := e.Store.RoundExists(ctx, trigger.SeasonID, plan.Stage, plan.RoundNumber)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, created, err := e.Generator.Generate(ctx, plan.Players, StageOptions{
		TournamentID:       trigger.TournamentID,
		SeasonID:           trigger.SeasonID,
		Stage:              plan.Stage,
		RoundNumber:        plan.RoundNumber,
		RoundStart:         e.Clock.Now(),
		MatchDuration:      settings.MatchDuration,
		MaxParallelMatches: settings.MaxParallelMatches,
		GroupSize:          settings.GroupSize,
		VerificationMethod: trigger.VerificationMethod,
	})
	if eris.Is(err, store.ErrDuplicate) {
		e.log.Debug().Str("season_id", trigger.SeasonID).Str("stage", string(plan.Stage)).
			Int("round", plan.RoundNumber).Msg("[Progression] round already exists")
		return nil
	}
	if err != nil {
		return err
	}
	e.wire(ctx, plan.Feeders, created)
	return nil
}

// wire points every feeder at the match its winner now plays in.
func (e *Engine) wire(ctx context.Context, feeders []*models.Match, created []*models.Match) {
	for i, f := range feeders {
		idx, slot := slotFor(i)
		if idx >= len(created) {
			break
		}
		f.AdvancesToMatchID = created[idx].ID
		f.AdvancesToSlot = slot
		if _, err := e.Store.UpdateMatch(ctx, f, nil, store.ColAdvancesToMatchID, store.ColAdvancesToSlot); err != nil {
			e.log.Warn().Err(err).Str("match_id", f.ID).Msg("[Progression] failed to wire advancement")
		}
	}
}

func (e *Engine) seasonSettings(ctx context.Context, seasonID string) Settings {
	season, err := e.Store.GetSeason(ctx, seasonID)
	if err != nil {
		if !eris.Is(err, store.ErrNotFound) {
			e.log.Warn().Err(err).Str("season_id", seasonID).Msg("[Progression] season lookup failed, using defaults")
		}
		return e.Settings
	}
	return e.Settings.ForSeason(season)
}

func (e *Engine) reload(ctx context.Context, matchID string) (*models.Match, error) {
	m, err := e.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	return m, nil
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("[Progression] event not delivered")
	}
}

func validateResult(m *models.Match, r *MatchResult) error {
	if r.Reason == "" {
		r.Reason = models.ReasonNormal
	}
	switch r.Reason {
	case models.ReasonNormal, models.ReasonOpponentNoShow, models.ReasonTimeout, models.ReasonBye:
	default:
		return eris.Wrapf(ErrValidation, "unknown completion reason %q", r.Reason)
	}
	if r.Draw {
		if r.WinnerID != "" {
			return eris.Wrap(ErrValidation, "a drawn match has no winner")
		}
	} else {
		if r.WinnerID == "" {
			return eris.Wrap(ErrValidation, "winner_id is required")
		}
		if r.WinnerID != m.Player1ID && r.WinnerID != m.Player2ID {
			return eris.Wrapf(ErrValidation, "winner %s is not a player of match %s", r.WinnerID, m.ID)
		}
	}
	if r.Reason == models.ReasonNormal && (r.Player1Score == nil || r.Player2Score == nil) {
		return eris.Wrap(ErrValidation, "scores are required for a normal result")
	}
	if (r.Player1Score != nil && *r.Player1Score < 0) || (r.Player2Score != nil && *r.Player2Score < 0) {
		return eris.Wrap(ErrValidation, "scores must not be negative")
	}
	return nil
}

func completedPayload(m *models.Match) events.MatchCompletedPayload {
	return events.MatchCompletedPayload{
		MatchID:          m.ID,
		Stage:            string(m.Stage),
		RoundNumber:      m.RoundNumber,
		WinnerID:         m.WinnerID,
		LoserID:          m.Loser(),
		Player1Score:     m.Player1Score,
		Player2Score:     m.Player2Score,
		Draw:             m.Draw,
		CompletionReason: m.CompletionReason,
		Status:           string(m.Status),
	}
}

// ScoreOf is a small helper for building results.
func ScoreOf(n int) *int { return &n }
