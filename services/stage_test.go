package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-orchestrator/models"
)

func groupMatch(group, p1, p2, winner string, s1, s2 int) *models.Match {
	m := &models.Match{
		ID:           p1 + "-" + p2,
		Stage:        models.StageGroup,
		RoundNumber:  1,
		Player1ID:    p1,
		Player2ID:    p2,
		WinnerID:     winner,
		Player1Score: s1,
		Player2Score: s2,
		Status:       models.MatchStatusCompleted,
	}
	m.SetMeta(models.MetaGroup, group)
	return m
}

func TestGroupStandingsOrdering(t *testing.T) {
	matches := []*models.Match{
		groupMatch("A", "ann", "bob", "ann", 3, 1),
		groupMatch("A", "ann", "cat", "cat", 0, 2),
		groupMatch("A", "bob", "cat", "bob", 5, 0),
		// dan only appears in a cancelled match: listed, no points.
		{ID: "x", Stage: models.StageGroup, Player1ID: "ann", Player2ID: "dan", Status: models.MatchStatusCancelled,
			Metadata: models.Metadata{models.MetaGroup: "A"}},
	}
	table := GroupStandings(matches)["A"]
	require.Len(t, table, 4)

	// Every played player has one win; differential decides: bob +3, cat -3, ann 0.
	assert.Equal(t, []string{"bob", "ann", "cat", "dan"}, []string{
		table[0].PlayerID, table[1].PlayerID, table[2].PlayerID, table[3].PlayerID,
	})
	assert.Equal(t, 3, table[0].ScoreDiff)
	assert.Equal(t, 0, table[3].Played)
}

func TestGroupStandingsTieBreaksOnPlayerID(t *testing.T) {
	matches := []*models.Match{
		groupMatch("B", "zed", "amy", "zed", 1, 0),
		groupMatch("B", "amy", "kim", "amy", 1, 0),
		groupMatch("B", "kim", "zed", "kim", 1, 0),
	}
	for i := 0; i < 5; i++ {
		table := GroupStandings(matches)["B"]
		assert.Equal(t, "amy", table[0].PlayerID)
		assert.Equal(t, "kim", table[1].PlayerID)
		assert.Equal(t, "zed", table[2].PlayerID)
	}
}

func TestGroupQualifiersAreRankMajor(t *testing.T) {
	standings := map[string][]Standing{
		"B": {{PlayerID: "b1"}, {PlayerID: "b2"}, {PlayerID: "b3"}},
		"A": {{PlayerID: "a1"}, {PlayerID: "a2"}, {PlayerID: "a3"}},
	}
	assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, GroupQualifiers(standings, 2))
}

func knockout(stage models.Stage, round, number int, p1, p2, winner string) *models.Match {
	m := &models.Match{
		ID:          string(stage) + "-" + p1,
		Stage:       stage,
		RoundNumber: round,
		MatchNumber: number,
		Player1ID:   p1,
		Player2ID:   p2,
		Status:      models.MatchStatusScheduled,
	}
	if winner != "" {
		m.Status = models.MatchStatusCompleted
		m.WinnerID = winner
	}
	return m
}

func TestPlanAfterKnockoutWaitsForWholeRound(t *testing.T) {
	round := []*models.Match{
		knockout(models.StageQuarterfinal, 1, 1, "a", "b", "a"),
		knockout(models.StageQuarterfinal, 1, 2, "c", "d", ""),
	}
	assert.Empty(t, PlanNextRounds(round[0], round, 2))

	round[1].Status = models.MatchStatusCompleted
	round[1].WinnerID = "d"
	plans := PlanNextRounds(round[0], round, 2)
	require.Len(t, plans, 1)
	assert.Equal(t, models.StageFinal, plans[0].Stage)
	assert.Equal(t, 2, plans[0].RoundNumber)
	assert.Equal(t, []string{"a", "d"}, plans[0].Players)
	assert.Equal(t, []*models.Match{round[0], round[1]}, plans[0].Feeders)
}

func TestPlanAfterKnockoutSkipsCancelledAndDrawn(t *testing.T) {
	round := []*models.Match{
		knockout(models.RoundOf(16), 1, 1, "a", "b", "a"),
		knockout(models.RoundOf(16), 1, 2, "c", "d", "c"),
		knockout(models.RoundOf(16), 1, 3, "e", "f", ""),
		knockout(models.RoundOf(16), 1, 4, "g", "h", ""),
	}
	round[2].Status = models.MatchStatusCancelled
	round[3].Status = models.MatchStatusCompleted
	round[3].Draw = true
	plans := PlanNextRounds(round[3], round, 2)
	require.Len(t, plans, 1)
	assert.Equal(t, []string{"a", "c"}, plans[0].Players)
}

func TestPlanAfterSemifinalCreatesThirdPlaceAndFinal(t *testing.T) {
	semis := []*models.Match{
		knockout(models.StageSemifinal, 2, 1, "a", "b", "a"),
		knockout(models.StageSemifinal, 2, 2, "c", "d", "d"),
	}
	plans := PlanNextRounds(semis[1], semis, 2)
	require.Len(t, plans, 2)
	assert.Equal(t, models.StageThirdPlace, plans[0].Stage)
	assert.Equal(t, []string{"b", "c"}, plans[0].Players)
	assert.Empty(t, plans[0].Feeders)
	assert.Equal(t, models.StageFinal, plans[1].Stage)
	assert.Equal(t, 3, plans[1].RoundNumber)
	assert.Equal(t, []string{"a", "d"}, plans[1].Players)
}

func TestPlanAfterSemifinalWithByeHasNoThirdPlace(t *testing.T) {
	semis := []*models.Match{
		knockout(models.StageSemifinal, 1, 1, "a", "b", "b"),
		knockout(models.StageSemifinal, 1, 2, "c", models.ByePlayerID, "c"),
	}
	plans := PlanNextRounds(semis[0], semis, 2)
	require.Len(t, plans, 1)
	assert.Equal(t, models.StageFinal, plans[0].Stage)
}

func TestPlanAfterThirdPlaceBuildsMissingFinal(t *testing.T) {
	semis := []*models.Match{
		knockout(models.StageSemifinal, 1, 1, "a", "b", "a"),
		knockout(models.StageSemifinal, 1, 2, "c", "d", "c"),
	}
	third := knockout(models.StageThirdPlace, 2, 1, "b", "d", "d")
	plans := PlanNextRounds(third, append(semis, third), 2)
	require.Len(t, plans, 1)
	assert.Equal(t, models.StageFinal, plans[0].Stage)
	assert.Equal(t, 2, plans[0].RoundNumber)
	assert.Equal(t, []string{"a", "c"}, plans[0].Players)
}

func TestPlanAfterFinalIsEmpty(t *testing.T) {
	final := knockout(models.StageFinal, 3, 1, "a", "c", "a")
	assert.Empty(t, PlanNextRounds(final, []*models.Match{final}, 2))
}

func TestSlotFor(t *testing.T) {
	for i, want := range []struct {
		idx  int
		slot string
	}{{0, models.SlotA}, {0, models.SlotB}, {1, models.SlotA}, {1, models.SlotB}, {2, models.SlotA}} {
		idx, slot := slotFor(i)
		assert.Equal(t, want.idx, idx)
		assert.Equal(t, want.slot, slot)
	}
}

func TestStageKinds(t *testing.T) {
	assert.Equal(t, models.KindKnockout, models.RoundOf(32).Kind())
	assert.Equal(t, models.KindKnockout, models.StageQuarterfinal.Kind())
	assert.Equal(t, models.KindGroup, models.StageGroup.Kind())
	assert.Equal(t, models.KindUnknown, models.Stage("round_of_x").Kind())
	assert.Equal(t, models.KindUnknown, models.Stage("playoff").Kind())
}
