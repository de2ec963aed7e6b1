package services

import (
	"sort"

	"tournament-orchestrator/models"
)

// RoundPlan is a round progression wants to create.
type RoundPlan struct {
	Stage       models.Stage
	RoundNumber int
	Players     []string
	// Feeders[i] produced Players[i]; each is wired to the match that player lands in.
	// Empty when the entrants do not come from a single bracket round.
	Feeders []*models.Match
}

// Standing is one player's line in a group table.
type Standing struct {
	PlayerID  string
	Group     string
	Wins      int
	ScoreDiff int
	Played    int
}

// PlanNextRounds decides what, if anything, follows the round trigger belongs to.
// seasonMatches is every match of the season. It is pure: existence of the
// planned rounds is checked by the caller.
func PlanNextRounds(trigger *models.Match, seasonMatches []*models.Match, qualifiersPerGroup int) []RoundPlan {
	switch trigger.Stage.Kind() {
	case models.KindGroup:
		return planAfterGroups(seasonMatches, qualifiersPerGroup)
	case models.KindKnockout:
		return planAfterKnockout(trigger, seasonMatches)
	case models.KindSemifinal:
		return planAfterSemifinal(trigger, seasonMatches)
	case models.KindThirdPlace:
		return planAfterThirdPlace(trigger, seasonMatches)
	case models.KindFinal:
		return nil
	case models.KindUnknown:
		return nil
	}
	return nil
}

func planAfterGroups(seasonMatches []*models.Match, q int) []RoundPlan {
	groupMatches := filterMatches(seasonMatches, func(m *models.Match) bool { return m.Stage == models.StageGroup })
	if len(groupMatches) == 0 || !allTerminal(groupMatches) {
		return nil
	}
	qualifiers := GroupQualifiers(GroupStandings(groupMatches), q)
	if len(qualifiers) < 2 {
		return nil
	}
	return []RoundPlan{{
		Stage:       models.StageForPlayerCount(len(qualifiers)),
		RoundNumber: maxRound(groupMatches) + 1,
		Players:     qualifiers,
	}}
}

func planAfterKnockout(trigger *models.Match, seasonMatches []*models.Match) []RoundPlan {
	round := roundMatches(seasonMatches, trigger.Stage, trigger.RoundNumber)
	if !allTerminal(round) {
		return nil
	}
	winners, feeders := roundWinners(round)
	if len(winners) < 2 {
		return nil
	}
	return []RoundPlan{{
		Stage:       models.StageForPlayerCount(len(winners)),
		RoundNumber: trigger.RoundNumber + 1,
		Players:     winners,
		Feeders:     feeders,
	}}
}

func planAfterSemifinal(trigger *models.Match, seasonMatches []*models.Match) []RoundPlan {
	semis := roundMatches(seasonMatches, models.StageSemifinal, trigger.RoundNumber)
	if !allTerminal(semis) {
		return nil
	}
	var plans []RoundPlan
	var losers []string
	for _, m := range semis {
		if l := m.Loser(); l != "" && m.Status == models.MatchStatusCompleted {
			losers = append(losers, l)
		}
	}
	if len(losers) >= 2 {
		plans = append(plans, RoundPlan{
			Stage:       models.StageThirdPlace,
			RoundNumber: trigger.RoundNumber + 1,
			Players:     losers,
		})
	}
	if winners, feeders := roundWinners(semis); len(winners) >= 2 {
		plans = append(plans, RoundPlan{
			Stage:       models.StageFinal,
			RoundNumber: trigger.RoundNumber + 1,
			Players:     winners,
			Feeders:     feeders,
		})
	}
	return plans
}

func planAfterThirdPlace(trigger *models.Match, seasonMatches []*models.Match) []RoundPlan {
	if !trigger.Status.Terminal() {
		return nil
	}
	semis := roundMatches(seasonMatches, models.StageSemifinal, trigger.RoundNumber-1)
	if len(semis) == 0 || !allTerminal(semis) {
		return nil
	}
	winners, feeders := roundWinners(semis)
	if len(winners) < 2 {
		return nil
	}
	return []RoundPlan{{
		Stage:       models.StageFinal,
		RoundNumber: trigger.RoundNumber,
		Players:     winners,
		Feeders:     feeders,
	}}
}

// GroupStandings ranks each group: wins desc, score differential desc, player id asc.
// Only completed matches count; cancelled ones leave the table untouched.
func GroupStandings(groupMatches []*models.Match) map[string][]Standing {
	rows := map[string]map[string]*Standing{}
	row := func(group, player string) *Standing {
		if rows[group] == nil {
			rows[group] = map[string]*Standing{}
		}
		if rows[group][player] == nil {
			rows[group][player] = &Standing{PlayerID: player, Group: group}
		}
		return rows[group][player]
	}
	for _, m := range groupMatches {
		group := m.MetaString(models.MetaGroup)
		for _, p := range []string{m.Player1ID, m.Player2ID} {
			if p != "" && p != models.ByePlayerID {
				row(group, p)
			}
		}
		if m.Status != models.MatchStatusCompleted || m.IsBye() {
			continue
		}
		p1, p2 := row(group, m.Player1ID), row(group, m.Player2ID)
		p1.Played++
		p2.Played++
		p1.ScoreDiff += m.Player1Score - m.Player2Score
		p2.ScoreDiff += m.Player2Score - m.Player1Score
		if m.Draw {
			continue
		}
		switch m.WinnerID {
		case m.Player1ID:
			p1.Wins++
		case m.Player2ID:
			p2.Wins++
		}
	}

	out := make(map[string][]Standing, len(rows))
	for group, players := range rows {
		table := make([]Standing, 0, len(players))
		for _, s := range players {
			table = append(table, *s)
		}
		sort.Slice(table, func(i, j int) bool {
			if table[i].Wins != table[j].Wins {
				return table[i].Wins > table[j].Wins
			}
			if table[i].ScoreDiff != table[j].ScoreDiff {
				return table[i].ScoreDiff > table[j].ScoreDiff
			}
			return table[i].PlayerID < table[j].PlayerID
		})
		out[group] = table
	}
	return out
}

// GroupQualifiers takes the top q of every group, ordered by rank and then by
// group label: A1, B1, A2, B2, ...
func GroupQualifiers(standings map[string][]Standing, q int) []string {
	if q <= 0 {
		q = 1
	}
	labels := make([]string, 0, len(standings))
	for label := range standings {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	var out []string
	for rank := 0; rank < q; rank++ {
		for _, label := range labels {
			if rank < len(standings[label]) {
				out = append(out, standings[label][rank].PlayerID)
			}
		}
	}
	return out
}

// roundWinners collects winners in match order, skipping draws and cancelled matches.
func roundWinners(round []*models.Match) ([]string, []*models.Match) {
	var winners []string
	var feeders []*models.Match
	for _, m := range round {
		if m.Status != models.MatchStatusCompleted || m.Draw || m.WinnerID == "" {
			continue
		}
		winners = append(winners, m.WinnerID)
		feeders = append(feeders, m)
	}
	return winners, feeders
}

func roundMatches(all []*models.Match, stage models.Stage, round int) []*models.Match {
	out := filterMatches(all, func(m *models.Match) bool {
		return m.Stage == stage && m.RoundNumber == round
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].MatchNumber < out[j].MatchNumber })
	return out
}

func filterMatches(all []*models.Match, keep func(*models.Match) bool) []*models.Match {
	var out []*models.Match
	for _, m := range all {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func allTerminal(matches []*models.Match) bool {
	for _, m := range matches {
		if !m.Status.Terminal() {
			return false
		}
	}
	return true
}

func maxRound(matches []*models.Match) int {
	n := 0
	for _, m := range matches {
		if m.RoundNumber > n {
			n = m.RoundNumber
		}
	}
	return n
}

// slotFor returns where the i-th entrant of a round lands: match i/2, A for even, B for odd.
func slotFor(i int) (int, string) {
	if i%2 == 0 {
		return i / 2, models.SlotA
	}
	return i / 2, models.SlotB
}
