package services

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tournament-orchestrator/events"
	"tournament-orchestrator/models"
	"tournament-orchestrator/store"
)

// Placements is the podium decided when a season closes.
type Placements struct {
	FirstPlaceID  string
	SecondPlaceID string
	ThirdPlaceID  string
	Draw          bool
}

// CompletionDetector finalizes a season once no match is left open. Finalization
// waits out a debounce window so a round created right after the triggering
// completion can still cancel it.
type CompletionDetector struct {
	Store    store.Store
	Events   events.Publisher
	Timers   *KeyedTimers
	Registry TimerRegistry
	Clock    clockwork.Clock
	Debounce time.Duration

	// base outlives the request that armed a timer.
	base context.Context
	log  zerolog.Logger
}

func NewCompletionDetector(ctx context.Context, st store.Store, pub events.Publisher, registry TimerRegistry, clock clockwork.Clock, debounce time.Duration) *CompletionDetector {
	if registry == nil {
		registry = NoopTimerRegistry{}
	}
	return &CompletionDetector{
		Store:    st,
		Events:   pub,
		Timers:   NewKeyedTimers(clock),
		Registry: registry,
		Clock:    clock,
		Debounce: debounce,
		base:     ctx,
		log:      log.With().Str("component", "season_completion").Logger(),
	}
}

// Evaluate is called after every progression step.
func (d *CompletionDetector) Evaluate(ctx context.Context, m *models.Match) error {
	open, err := d.Store.ListMatches(ctx, store.MatchFilter{SeasonID: m.SeasonID, Statuses: models.OpenMatchStatuses})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		if d.Timers.Cancel(m.SeasonID) {
			d.log.Debug().Str("season_id", m.SeasonID).Int("open", len(open)).Msg("[SeasonCompletion] finalize timer cancelled")
			d.forget(ctx, m.SeasonID)
		}
		return nil
	}
	d.arm(ctx, m.SeasonID, m.ID, d.Debounce)
	return nil
}

func (d *CompletionDetector) arm(ctx context.Context, seasonID, matchID string, delay time.Duration) {
	armed := d.Timers.ScheduleIfAbsent(seasonID, delay, func() {
		d.Finalize(d.base, seasonID, matchID)
	})
	if !armed {
		return
	}
	d.log.Info().Str("season_id", seasonID).Str("match_id", matchID).Dur("debounce", delay).
		Msg("⏳ [SeasonCompletion] finalize timer armed")
	deadline, _ := d.Timers.Deadline(seasonID)
	if err := d.Registry.Save(ctx, seasonID, PendingFinalize{MatchID: matchID, Deadline: deadline}); err != nil {
		d.log.Warn().Err(err).Str("season_id", seasonID).Msg("[SeasonCompletion] failed to persist timer")
	}
}

// Recover re-arms timers persisted before a restart. Overdue ones fire almost at once.
func (d *CompletionDetector) Recover(ctx context.Context) (int, error) {
	pending, err := d.Registry.List(ctx)
	if err != nil {
		return 0, err
	}
	now := d.Clock.Now()
	n := 0
	for seasonID, p := range pending {
		seasonID, matchID := seasonID, p.MatchID
		if d.Timers.ScheduleIfAbsent(seasonID, p.Deadline.Sub(now), func() {
			d.Finalize(d.base, seasonID, matchID)
		}) {
			n++
		}
	}
	if n > 0 {
		d.log.Info().Int("timers", n).Msg("[SeasonCompletion] finalize timers recovered")
	}
	return n, nil
}

// Finalize re-checks the season and, when nothing is left to play, records the
// placements and announces the completion. It runs when the debounce timer fires.
func (d *CompletionDetector) Finalize(ctx context.Context, seasonID, triggerMatchID string) {
	defer d.forget(ctx, seasonID)

	all, err := d.Store.ListMatches(ctx, store.MatchFilter{SeasonID: seasonID})
	if err != nil {
		d.log.Error().Err(err).Str("season_id", seasonID).Msg("[SeasonCompletion] listing matches failed")
		return
	}
	open := filterMatches(all, func(m *models.Match) bool { return !m.Status.Terminal() })
	if len(open) > 0 {
		if !finalDecided(all) || !onlyThirdPlace(open) {
			d.log.Info().Str("season_id", seasonID).Int("open", len(open)).Msg("[SeasonCompletion] matches still open, not finalizing")
			return
		}
		for _, m := range open {
			if err := d.dropThirdPlace(ctx, m); err != nil {
				d.log.Error().Err(err).Str("match_id", m.ID).Msg("[SeasonCompletion] cancelling third place failed")
				return
			}
		}
		if all, err = d.Store.ListMatches(ctx, store.MatchFilter{SeasonID: seasonID}); err != nil {
			d.log.Error().Err(err).Str("season_id", seasonID).Msg("[SeasonCompletion] listing matches failed")
			return
		}
	}

	var trigger *models.Match
	for _, m := range all {
		if m.ID == triggerMatchID {
			trigger = m
		}
	}
	placements := DecidePlacements(all, trigger)

	season, err := d.Store.GetSeason(ctx, seasonID)
	if err != nil {
		d.log.Error().Err(err).Str("season_id", seasonID).Msg("[SeasonCompletion] season lookup failed")
		return
	}
	now := d.Clock.Now()
	season.Status = models.SeasonStatusCompleted
	season.FirstPlaceID = placements.FirstPlaceID
	season.SecondPlaceID = placements.SecondPlaceID
	season.ThirdPlaceID = placements.ThirdPlaceID
	season.Draw = placements.Draw
	season.FinalizedByMatchID = triggerMatchID
	season.CompletedAt = &now

	ok, err := d.Store.TransitionSeason(ctx, season, models.SeasonStatusActive)
	if err != nil {
		d.log.Error().Err(err).Str("season_id", seasonID).Msg("[SeasonCompletion] marking season completed failed")
		return
	}
	if !ok {
		d.log.Info().Str("season_id", seasonID).Msg("[SeasonCompletion] season no longer active, skipping")
		return
	}

	d.log.Info().
		Str("season_id", seasonID).
		Str("first", placements.FirstPlaceID).
		Str("second", placements.SecondPlaceID).
		Str("third", placements.ThirdPlaceID).
		Bool("draw", placements.Draw).
		Msg("🏆 [SeasonCompletion] season completed")

	if d.Events == nil {
		return
	}
	e := events.New(events.SeasonCompleted, season.TournamentID, seasonID, now, events.SeasonCompletedPayload{
		FirstPlaceID:  placements.FirstPlaceID,
		SecondPlaceID: placements.SecondPlaceID,
		ThirdPlaceID:  placements.ThirdPlaceID,
		PlayerCount:   countPlayers(all),
		Draw:          placements.Draw,
		FinalizedBy:   triggerMatchID,
	})
	if err := d.Events.Publish(ctx, e); err != nil {
		d.log.Warn().Err(err).Str("season_id", seasonID).Msg("[SeasonCompletion] event not delivered")
	}
}

func (d *CompletionDetector) dropThirdPlace(ctx context.Context, m *models.Match) error {
	now := d.Clock.Now()
	next := m.Clone()
	next.Status = models.MatchStatusCancelled
	next.CompletedAt = &now
	next.CompletionReason = models.MetaFinalizedWithoutThirdPlace
	next.SetMeta(models.MetaFinalizedWithoutThirdPlace, true)
	next.SetMeta(models.MetaCancelReason, models.MetaFinalizedWithoutThirdPlace)
	ok, err := d.Store.UpdateMatch(ctx, next, models.OpenMatchStatuses,
		store.ColStatus, store.ColCompletedAt, store.ColCompletionReason, store.ColMetadata)
	if err != nil {
		return eris.Wrapf(err, "cancel third place %s", m.ID)
	}
	if !ok {
		return nil
	}
	e := events.New(events.MatchCompleted, next.TournamentID, next.SeasonID, now, completedPayload(next))
	if err := d.Events.Publish(ctx, e); err != nil {
		d.log.Warn().Err(err).Str("match_id", m.ID).Msg("[SeasonCompletion] event not delivered")
	}
	return nil
}

func (d *CompletionDetector) forget(ctx context.Context, seasonID string) {
	if err := d.Registry.Delete(ctx, seasonID); err != nil {
		d.log.Warn().Err(err).Str("season_id", seasonID).Msg("[SeasonCompletion] failed to clear persisted timer")
	}
}

// DecidePlacements reads the podium off the season's matches. Without a final
// the triggering match's winner takes first place.
func DecidePlacements(all []*models.Match, trigger *models.Match) Placements {
	var p Placements
	final := latest(all, models.StageFinal)
	switch {
	case final != nil && final.Status == models.MatchStatusCompleted:
		if final.Draw {
			p.Draw = true
			p.FirstPlaceID, p.SecondPlaceID = final.Player1ID, final.Player2ID
		} else {
			p.FirstPlaceID = final.WinnerID
			p.SecondPlaceID = final.Loser()
		}
	case trigger != nil:
		p.FirstPlaceID = trigger.WinnerID
		p.SecondPlaceID = trigger.Loser()
		p.Draw = trigger.Draw
		if trigger.Draw {
			p.FirstPlaceID, p.SecondPlaceID = trigger.Player1ID, trigger.Player2ID
		}
	}
	if third := latest(all, models.StageThirdPlace); third != nil && third.Status == models.MatchStatusCompleted && !third.Draw {
		p.ThirdPlaceID = third.WinnerID
	}
	return p
}

func latest(all []*models.Match, stage models.Stage) *models.Match {
	var out *models.Match
	for _, m := range all {
		if m.Stage != stage {
			continue
		}
		if out == nil || m.RoundNumber > out.RoundNumber ||
			(m.RoundNumber == out.RoundNumber && m.MatchNumber < out.MatchNumber) {
			out = m
		}
	}
	return out
}

func finalDecided(all []*models.Match) bool {
	for _, m := range all {
		if m.Stage == models.StageFinal && m.Status == models.MatchStatusCompleted {
			return true
		}
	}
	return false
}

func onlyThirdPlace(open []*models.Match) bool {
	for _, m := range open {
		if m.Stage != models.StageThirdPlace {
			return false
		}
	}
	return true
}
