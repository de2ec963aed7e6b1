package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"tournament-orchestrator/events"
	"tournament-orchestrator/models"
	"tournament-orchestrator/store"
)

var epoch = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *clockwork.FakeClock
	store    *store.MemoryStore
	rec      *events.Recorder
	settings Settings
	gen      *Generator
	detector *CompletionDetector
	engine   *Engine
	seasons  *SeasonService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    clockwork.NewFakeClockAt(epoch),
		store:    store.NewMemoryStore(),
		rec:      events.NewRecorder(),
		settings: DefaultSettings(),
	}
	h.gen = NewGenerator(h.store, h.rec, nil, h.clock, h.settings)
	h.detector = NewCompletionDetector(h.ctx, h.store, h.rec, nil, h.clock, h.settings.FinalizeDebounce)
	h.engine = NewEngine(h.store, h.gen, h.detector, h.rec, h.clock, h.settings)
	h.seasons = NewSeasonService(h.store, h.gen, h.rec, nil, h.clock, h.settings)
	return h
}

func players(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%02d", i+1)
	}
	return out
}

// activeSeason stores an active season and generates its first round without shuffling.
func (h *harness) activeSeason(format string, roster []string) (*models.Season, []*models.Match) {
	h.t.Helper()
	season := &models.Season{
		ID:           uuid.NewString(),
		TournamentID: "t-1",
		Name:         "Spring Cup",
		Format:       format,
		Status:       models.SeasonStatusActive,
		StartsAt:     epoch,
		JoinCutoff:   epoch,
	}
	require.NoError(h.t, h.store.CreateSeason(h.ctx, season))
	stage := models.Stage("")
	if format == models.SeasonFormatGroup {
		stage = models.StageGroup
	}
	_, matches, err := h.gen.Generate(h.ctx, roster, StageOptions{
		TournamentID: season.TournamentID,
		SeasonID:     season.ID,
		Stage:        stage,
		RoundNumber:  1,
	})
	require.NoError(h.t, err)
	return season, matches
}

func (h *harness) win(m *models.Match, winner string) *models.Match {
	h.t.Helper()
	s1, s2 := 1, 0
	if winner == m.Player2ID {
		s1, s2 = 0, 1
	}
	got, err := h.engine.CompleteMatch(h.ctx, m.ID, MatchResult{
		WinnerID:     winner,
		Player1Score: ScoreOf(s1),
		Player2Score: ScoreOf(s2),
	}, Principal{ID: winner})
	require.NoError(h.t, err)
	return got
}

func (h *harness) stageMatches(seasonID string, stage models.Stage) []*models.Match {
	h.t.Helper()
	out, err := h.store.ListMatches(h.ctx, store.MatchFilter{SeasonID: seasonID, Stage: stage})
	require.NoError(h.t, err)
	return out
}

func (h *harness) season(id string) *models.Season {
	h.t.Helper()
	s, err := h.store.GetSeason(h.ctx, id)
	require.NoError(h.t, err)
	return s
}

func playable(matches []*models.Match) []*models.Match {
	var out []*models.Match
	for _, m := range matches {
		if !m.Status.Terminal() {
			out = append(out, m)
		}
	}
	return out
}
