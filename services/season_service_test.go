package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-orchestrator/events"
	"tournament-orchestrator/models"
	"tournament-orchestrator/store"
)

type fakePayments struct {
	mu       sync.Mutex
	refunded []string
	fail     map[string]bool
}

func (f *fakePayments) RefundEntryFee(_ context.Context, _, _, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[playerID] {
		return errors.New("wallet unavailable")
	}
	f.refunded = append(f.refunded, playerID)
	return nil
}

func (h *harness) upcoming(in CreateSeasonInput, roster ...string) *models.Season {
	h.t.Helper()
	if in.TournamentID == "" {
		in.TournamentID = "t-1"
	}
	if in.Name == "" {
		in.Name = "Autumn Open"
	}
	if in.StartsAt.IsZero() {
		in.StartsAt = epoch.Add(time.Hour)
	}
	season, err := h.seasons.CreateSeason(h.ctx, in)
	require.NoError(h.t, err)
	for _, p := range roster {
		_, err := h.seasons.JoinSeason(h.ctx, season.ID, p)
		require.NoError(h.t, err)
	}
	return season
}

func TestCreateSeasonValidates(t *testing.T) {
	h := newHarness(t)
	starts := epoch.Add(time.Hour)
	cases := []struct {
		name string
		in   CreateSeasonInput
	}{
		{"no name", CreateSeasonInput{TournamentID: "t-1", Name: "  ", StartsAt: starts}},
		{"no tournament", CreateSeasonInput{Name: "Cup", StartsAt: starts}},
		{"no start", CreateSeasonInput{TournamentID: "t-1", Name: "Cup"}},
		{"bad format", CreateSeasonInput{TournamentID: "t-1", Name: "Cup", StartsAt: starts, Format: "swiss"}},
		{"late cutoff", CreateSeasonInput{TournamentID: "t-1", Name: "Cup", StartsAt: starts, JoinCutoff: starts.Add(time.Minute)}},
		{"negative override", CreateSeasonInput{TournamentID: "t-1", Name: "Cup", StartsAt: starts, GroupSize: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.seasons.CreateSeason(h.ctx, tc.in)
			assert.True(t, eris.Is(err, ErrValidation))
		})
	}

	season := h.upcoming(CreateSeasonInput{})
	assert.Equal(t, models.SeasonStatusUpcoming, season.Status)
	assert.Equal(t, models.SeasonFormatKnockout, season.Format)
	assert.True(t, season.StartsAt.Equal(season.JoinCutoff))
}

func TestJoinSeason(t *testing.T) {
	h := newHarness(t)
	season := h.upcoming(CreateSeasonInput{JoinCutoff: epoch.Add(30 * time.Minute)}, "p01")

	_, err := h.seasons.JoinSeason(h.ctx, season.ID, "p01")
	assert.True(t, eris.Is(err, ErrInvalidState), "already joined")
	_, err = h.seasons.JoinSeason(h.ctx, season.ID, models.ByePlayerID)
	assert.True(t, eris.Is(err, ErrValidation))
	_, err = h.seasons.JoinSeason(h.ctx, "missing", "p02")
	assert.True(t, eris.Is(err, ErrNotFound))

	h.clock.Advance(31 * time.Minute)
	_, err = h.seasons.JoinSeason(h.ctx, season.ID, "p02")
	assert.True(t, eris.Is(err, ErrInvalidState), "registration closed")

	roster, err := h.store.ListSeasonPlayers(h.ctx, season.ID)
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}

func TestStartSeasonGeneratesShuffledFirstRound(t *testing.T) {
	h := newHarness(t)
	season := h.upcoming(CreateSeasonInput{MatchDurationSeconds: 300}, players(5)...)

	started, matches, err := h.seasons.StartSeason(h.ctx, season.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeasonStatusActive, started.Status)
	require.Len(t, matches, 3)

	var seen []string
	for _, m := range matches {
		assert.Equal(t, models.StageQuarterfinal, m.Stage)
		assert.Equal(t, 1, m.RoundNumber)
		if !m.IsBye() {
			assert.Equal(t, 300, m.DurationSeconds)
		}
		for _, p := range []string{m.Player1ID, m.Player2ID} {
			if p != models.ByePlayerID {
				seen = append(seen, p)
			}
		}
	}
	sort.Strings(seen)
	assert.Equal(t, players(5), seen)

	_, _, err = h.seasons.StartSeason(h.ctx, season.ID)
	assert.True(t, eris.Is(err, ErrInvalidState))
	_, err = h.seasons.JoinSeason(h.ctx, season.ID, "late")
	assert.True(t, eris.Is(err, ErrInvalidState))
}

// failingRounds refuses to persist rounds.
type failingRounds struct {
	store.Store
}

func (failingRounds) CreateRound(context.Context, *models.RoundBatch, []*models.Match) error {
	return errors.New("database unavailable")
}

func TestStartSeasonRollsBackWhenRoundCannotBeStored(t *testing.T) {
	h := newHarness(t)
	season := h.upcoming(CreateSeasonInput{}, players(4)...)

	broken := failingRounds{Store: h.store}
	gen := NewGenerator(broken, h.rec, nil, h.clock, h.settings)
	seasons := NewSeasonService(broken, gen, h.rec, nil, h.clock, h.settings)

	_, _, err := seasons.StartSeason(h.ctx, season.ID)
	require.Error(t, err)
	assert.Equal(t, models.SeasonStatusUpcoming, h.season(season.ID).Status)
	assert.Empty(t, h.stageMatches(season.ID, models.StageSemifinal))

	// A healthy retry starts it normally.
	started, matches, err := h.seasons.StartSeason(h.ctx, season.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeasonStatusActive, started.Status)
	assert.Len(t, matches, 2)
}

func TestStartGroupSeason(t *testing.T) {
	h := newHarness(t)
	season := h.upcoming(CreateSeasonInput{Format: models.SeasonFormatGroup, GroupSize: 3}, players(6)...)

	_, matches, err := h.seasons.StartSeason(h.ctx, season.ID)
	require.NoError(t, err)
	require.Len(t, matches, 6)
	for _, m := range matches {
		assert.Equal(t, models.StageGroup, m.Stage)
		assert.NotEmpty(t, m.MetaString(models.MetaGroup))
	}
}

func TestStartSeasonWithoutOpponentCancelsAndRefunds(t *testing.T) {
	h := newHarness(t)
	payments := &fakePayments{}
	h.seasons.Payments = payments
	season := h.upcoming(CreateSeasonInput{}, "p01")

	cancelled, matches, err := h.seasons.StartSeason(h.ctx, season.ID)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, models.SeasonStatusCancelled, cancelled.Status)
	assert.Equal(t, ReasonNotEnoughPlayers, cancelled.CancelReason)
	assert.Equal(t, []string{"p01"}, payments.refunded)

	stored := h.season(season.ID)
	assert.Equal(t, models.SeasonStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)

	evs := h.rec.OfType(events.SeasonCancelled)
	require.Len(t, evs, 1)
	payload := evs[0].Payload.(events.SeasonCancelledPayload)
	assert.Equal(t, ReasonNotEnoughPlayers, payload.Reason)
	assert.Equal(t, []string{"p01"}, payload.RefundedIDs)
}

func TestCancelSeasonReportsFailedRefunds(t *testing.T) {
	h := newHarness(t)
	payments := &fakePayments{fail: map[string]bool{"p02": true}}
	h.seasons.Payments = payments
	season := h.upcoming(CreateSeasonInput{}, "p01", "p02", "p03")

	_, err := h.seasons.CancelSeason(h.ctx, season.ID, "organizer_request")
	require.NoError(t, err)

	payload := h.rec.OfType(events.SeasonCancelled)[0].Payload.(events.SeasonCancelledPayload)
	assert.Equal(t, []string{"p01", "p03"}, payload.RefundedIDs)
	assert.Equal(t, []string{"p02"}, payload.RefundFailure)

	_, err = h.seasons.CancelSeason(h.ctx, season.ID, "again")
	assert.True(t, eris.Is(err, ErrInvalidState))
	_, _, err = h.seasons.StartSeason(h.ctx, season.ID)
	assert.True(t, eris.Is(err, ErrInvalidState))
}

func TestStartDueSeasons(t *testing.T) {
	h := newHarness(t)
	soon := h.upcoming(CreateSeasonInput{StartsAt: epoch.Add(time.Hour)}, "p01", "p02")
	later := h.upcoming(CreateSeasonInput{StartsAt: epoch.Add(3 * time.Hour)}, "p03", "p04")

	n, err := h.seasons.StartDueSeasons(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * time.Hour)
	n, err = h.seasons.StartDueSeasons(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.SeasonStatusActive, h.season(soon.ID).Status)
	assert.Equal(t, models.SeasonStatusUpcoming, h.season(later.ID).Status)
	assert.Len(t, h.stageMatches(soon.ID, models.StageFinal), 1)
}
