package services

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-orchestrator/events"
	"tournament-orchestrator/models"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func (h *harness) seasonCompleted() []events.Event {
	return h.rec.OfType(events.SeasonCompleted)
}

func TestSeasonCompletesAfterDebounce(t *testing.T) {
	h := newHarness(t)
	season, round := h.activeSeason(models.SeasonFormatKnockout, players(2))

	final := h.win(round[0], "p01")
	assert.True(t, h.detector.Timers.Pending(season.ID))

	h.clock.Advance(h.settings.FinalizeDebounce - time.Second)
	assert.Empty(t, h.seasonCompleted())
	assert.Equal(t, models.SeasonStatusActive, h.season(season.ID).Status)

	h.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return len(h.seasonCompleted()) == 1 }, waitFor, tick)

	payload := h.seasonCompleted()[0].Payload.(events.SeasonCompletedPayload)
	assert.Equal(t, "p01", payload.FirstPlaceID)
	assert.Equal(t, "p02", payload.SecondPlaceID)
	assert.Empty(t, payload.ThirdPlaceID)
	assert.Equal(t, 2, payload.PlayerCount)
	assert.Equal(t, final.ID, payload.FinalizedBy)

	require.Eventually(t, func() bool { return !h.detector.Timers.Pending(season.ID) }, waitFor, tick)
	stored := h.season(season.ID)
	assert.Equal(t, models.SeasonStatusCompleted, stored.Status)
	assert.Equal(t, "p01", stored.FirstPlaceID)
	assert.Equal(t, final.ID, stored.FinalizedByMatchID)
	require.NotNil(t, stored.CompletedAt)
}

func TestFullBracketCompletesWithPodium(t *testing.T) {
	h := newHarness(t)
	season, semis := h.activeSeason(models.SeasonFormatKnockout, players(4))
	h.win(semis[0], "p01")
	h.win(semis[1], "p04")

	final := h.stageMatches(season.ID, models.StageFinal)[0]
	third := h.stageMatches(season.ID, models.StageThirdPlace)[0]

	h.win(final, "p04")
	assert.False(t, h.detector.Timers.Pending(season.ID), "third place still open")
	h.win(third, "p03")
	assert.True(t, h.detector.Timers.Pending(season.ID))

	h.clock.Advance(h.settings.FinalizeDebounce + time.Second)
	require.Eventually(t, func() bool { return len(h.seasonCompleted()) == 1 }, waitFor, tick)

	payload := h.seasonCompleted()[0].Payload.(events.SeasonCompletedPayload)
	assert.Equal(t, "p04", payload.FirstPlaceID)
	assert.Equal(t, "p01", payload.SecondPlaceID)
	assert.Equal(t, "p03", payload.ThirdPlaceID)
	assert.Equal(t, 4, payload.PlayerCount)
	assert.False(t, payload.Draw)
}

func TestOpenMatchCancelsPendingFinalize(t *testing.T) {
	h := newHarness(t)
	season, round := h.activeSeason(models.SeasonFormatKnockout, players(2))
	h.win(round[0], "p01")
	require.True(t, h.detector.Timers.Pending(season.ID))

	// A round appearing inside the window keeps the season open.
	_, replay, err := h.gen.Generate(h.ctx, []string{"p01", "p02"}, StageOptions{
		TournamentID: season.TournamentID,
		SeasonID:     season.ID,
		Stage:        models.StageFinal,
		RoundNumber:  2,
	})
	require.NoError(t, err)
	require.NoError(t, h.detector.Evaluate(h.ctx, replay[0]))
	assert.False(t, h.detector.Timers.Pending(season.ID))

	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.seasonCompleted())
	assert.Equal(t, models.SeasonStatusActive, h.season(season.ID).Status)
}

func TestFinalizeDropsOpenThirdPlace(t *testing.T) {
	h := newHarness(t)
	season, semis := h.activeSeason(models.SeasonFormatKnockout, players(4))
	h.win(semis[0], "p01")
	h.win(semis[1], "p04")
	final := h.win(h.stageMatches(season.ID, models.StageFinal)[0], "p01")

	h.detector.Finalize(h.ctx, season.ID, final.ID)

	third := h.stageMatches(season.ID, models.StageThirdPlace)[0]
	assert.Equal(t, models.MatchStatusCancelled, third.Status)
	assert.Equal(t, true, third.Metadata[models.MetaFinalizedWithoutThirdPlace])

	var announced *events.MatchCompletedPayload
	for _, e := range h.rec.OfType(events.MatchCompleted) {
		if p := e.Payload.(events.MatchCompletedPayload); p.MatchID == third.ID {
			announced = &p
		}
	}
	require.NotNil(t, announced, "dropped third place must be announced")
	assert.Equal(t, string(models.MatchStatusCancelled), announced.Status)
	assert.Equal(t, models.MetaFinalizedWithoutThirdPlace, announced.CompletionReason)
	assert.Empty(t, announced.WinnerID)

	require.Len(t, h.seasonCompleted(), 1)
	stored := h.season(season.ID)
	assert.Equal(t, models.SeasonStatusCompleted, stored.Status)
	assert.Equal(t, "p01", stored.FirstPlaceID)
	assert.Equal(t, "p04", stored.SecondPlaceID)
	assert.Empty(t, stored.ThirdPlaceID)
}

func TestFinalizeWaitsForUnfinishedFinal(t *testing.T) {
	h := newHarness(t)
	season, semis := h.activeSeason(models.SeasonFormatKnockout, players(4))
	h.win(semis[0], "p01")

	h.detector.Finalize(h.ctx, season.ID, semis[0].ID)
	assert.Empty(t, h.seasonCompleted())
	assert.Equal(t, models.SeasonStatusActive, h.season(season.ID).Status)
}

func TestFinalizeAnnouncesOnce(t *testing.T) {
	h := newHarness(t)
	season, round := h.activeSeason(models.SeasonFormatKnockout, players(2))
	h.engine.Detector = nil
	final := h.win(round[0], "p02")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.detector.Finalize(h.ctx, season.ID, final.ID)
		}()
	}
	wg.Wait()

	require.Len(t, h.seasonCompleted(), 1)
	assert.Equal(t, "p02", h.season(season.ID).FirstPlaceID)
}

func TestSiblingResultsFinalizeOnce(t *testing.T) {
	h := newHarness(t)
	season, semis := h.activeSeason(models.SeasonFormatKnockout, players(4))
	h.win(semis[0], semis[0].Player1ID)
	h.win(semis[1], semis[1].Player1ID)
	final := h.stageMatches(season.ID, models.StageFinal)[0]
	third := h.stageMatches(season.ID, models.StageThirdPlace)[0]

	var wg sync.WaitGroup
	for _, m := range []*models.Match{final, third} {
		wg.Add(1)
		go func(m *models.Match) {
			defer wg.Done()
			_, err := h.engine.CompleteMatch(h.ctx, m.ID, MatchResult{
				WinnerID:     m.Player1ID,
				Player1Score: ScoreOf(2),
				Player2Score: ScoreOf(1),
			}, Principal{ID: m.Player1ID})
			assert.NoError(t, err)
		}(m)
	}
	wg.Wait()

	h.clock.Advance(h.settings.FinalizeDebounce + time.Second)
	require.Eventually(t, func() bool { return len(h.seasonCompleted()) == 1 }, waitFor, tick)

	h.clock.Advance(h.settings.FinalizeDebounce + time.Second)
	assert.Never(t, func() bool { return len(h.seasonCompleted()) > 1 }, 100*time.Millisecond, tick)

	stored := h.season(season.ID)
	assert.Equal(t, models.SeasonStatusCompleted, stored.Status)
	assert.Equal(t, final.Player1ID, stored.FirstPlaceID)
	assert.Equal(t, final.Player2ID, stored.SecondPlaceID)
	assert.Equal(t, third.Player1ID, stored.ThirdPlaceID)
}

func newRedisRegistry(t *testing.T) (*RedisTimerRegistry, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTimerRegistry(client, ""), client
}

func TestArmedTimerIsPersisted(t *testing.T) {
	h := newHarness(t)
	registry, client := newRedisRegistry(t)
	h.detector = NewCompletionDetector(h.ctx, h.store, h.rec, registry, h.clock, h.settings.FinalizeDebounce)
	h.engine.Detector = h.detector

	season, round := h.activeSeason(models.SeasonFormatKnockout, players(2))
	final := h.win(round[0], "p01")

	pending, err := registry.List(h.ctx)
	require.NoError(t, err)
	require.Contains(t, pending, season.ID)
	assert.Equal(t, final.ID, pending[season.ID].MatchID)
	assert.True(t, epoch.Add(h.settings.FinalizeDebounce).Equal(pending[season.ID].Deadline))

	h.clock.Advance(h.settings.FinalizeDebounce + time.Second)
	require.Eventually(t, func() bool {
		n, err := client.HLen(h.ctx, DefaultTimerRegistryKey).Result()
		return err == nil && n == 0
	}, waitFor, tick)
	assert.Len(t, h.seasonCompleted(), 1)
}

func TestRecoverRearmsPersistedTimers(t *testing.T) {
	h := newHarness(t)
	h.engine.Detector = nil
	registry, _ := newRedisRegistry(t)

	season, round := h.activeSeason(models.SeasonFormatKnockout, players(2))
	final := h.win(round[0], "p01")
	require.NoError(t, registry.Save(h.ctx, season.ID, PendingFinalize{
		MatchID:  final.ID,
		Deadline: epoch.Add(10 * time.Second),
	}))

	rec := events.NewRecorder()
	restarted := NewCompletionDetector(h.ctx, h.store, rec, registry, h.clock, h.settings.FinalizeDebounce)
	n, err := restarted.Recover(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, restarted.Timers.Pending(season.ID))

	h.clock.Advance(11 * time.Second)
	require.Eventually(t, func() bool { return len(rec.OfType(events.SeasonCompleted)) == 1 }, waitFor, tick)
	assert.Equal(t, models.SeasonStatusCompleted, h.season(season.ID).Status)

	require.Eventually(t, func() bool {
		left, err := registry.List(h.ctx)
		return err == nil && len(left) == 0
	}, waitFor, tick)
}

func TestDecidePlacements(t *testing.T) {
	drawnFinal := &models.Match{
		ID: "f", Stage: models.StageFinal, RoundNumber: 3, Player1ID: "a", Player2ID: "b",
		Status: models.MatchStatusCompleted, Draw: true,
	}
	third := &models.Match{
		ID: "t", Stage: models.StageThirdPlace, RoundNumber: 3, Player1ID: "c", Player2ID: "d",
		Status: models.MatchStatusCompleted, WinnerID: "d",
	}
	p := DecidePlacements([]*models.Match{drawnFinal, third}, drawnFinal)
	assert.Equal(t, Placements{FirstPlaceID: "a", SecondPlaceID: "b", ThirdPlaceID: "d", Draw: true}, p)

	group := &models.Match{
		ID: "g", Stage: models.StageGroup, RoundNumber: 1, Player1ID: "a", Player2ID: "b",
		Status: models.MatchStatusCompleted, WinnerID: "b",
	}
	p = DecidePlacements([]*models.Match{group}, group)
	assert.Equal(t, Placements{FirstPlaceID: "b", SecondPlaceID: "a"}, p)

	assert.Equal(t, Placements{}, DecidePlacements(nil, nil))
}
