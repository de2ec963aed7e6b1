package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tournament-orchestrator/models"
	"tournament-orchestrator/store"
)

const (
	ResolutionScore          = "score"
	ResolutionConnectionTime = "connection_time"
	ResolutionDefault        = "default"
)

// SweepReport counts what one sweep did.
type SweepReport struct {
	Checked   int
	Cancelled int
	NoShows   int
	TimedOut  int
	// Skipped counts expired matches that were closed by someone else first.
	Skipped int
	Failed  int
}

// TimeoutMonitor forces a result on matches that ran past their allotted time.
// Every non-cancel outcome goes through Engine.CompleteMatch.
type TimeoutMonitor struct {
	Store    store.Store
	Engine   *Engine
	Clock    clockwork.Clock
	Interval time.Duration
	Grace    time.Duration

	scheduler gocron.Scheduler
	log       zerolog.Logger
}

func NewTimeoutMonitor(st store.Store, engine *Engine, clock clockwork.Clock, interval, grace time.Duration) *TimeoutMonitor {
	return &TimeoutMonitor{
		Store:    st,
		Engine:   engine,
		Clock:    clock,
		Interval: interval,
		Grace:    grace,
		log:      log.With().Str("component", "timeout_monitor").Logger(),
	}
}

// Start runs Sweep every Interval until ctx is done or Stop is called.
func (t *TimeoutMonitor) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(t.Clock))
	if err != nil {
		return eris.Wrap(err, "create scheduler")
	}
	_, err = sched.NewJob(
		gocron.DurationJob(t.Interval),
		gocron.NewTask(func() {
			if _, err := t.Sweep(ctx); err != nil {
				t.log.Error().Err(err).Msg("[TimeoutMonitor] sweep failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return eris.Wrap(err, "schedule sweep")
	}
	sched.Start()
	t.scheduler = sched
	t.log.Info().Dur("interval", t.Interval).Msg("⏱️ [TimeoutMonitor] started")
	return nil
}

func (t *TimeoutMonitor) Stop() error {
	if t.scheduler == nil {
		return nil
	}
	return t.scheduler.Shutdown()
}

// Sweep inspects every open scheduled match once.
func (t *TimeoutMonitor) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	matches, err := t.Store.ListMatches(ctx, store.MatchFilter{
		Statuses:      models.OpenMatchStatuses,
		ScheduledOnly: true,
	})
	if err != nil {
		return report, err
	}
	now := t.Clock.Now()
	for _, m := range matches {
		report.Checked++
		if !t.expired(m, now) {
			continue
		}
		// The listing can be stale by the time we act on it.
		cur, err := t.Store.GetMatch(ctx, m.ID)
		if err != nil {
			report.Failed++
			t.log.Error().Err(err).Str("match_id", m.ID).Msg("[TimeoutMonitor] reloading stalled match failed")
			continue
		}
		if cur.Status.Terminal() {
			report.Skipped++
			continue
		}
		if err := t.resolve(ctx, cur, &report); err != nil {
			report.Failed++
			t.log.Error().Err(err).Str("match_id", m.ID).Msg("[TimeoutMonitor] resolving stalled match failed")
		}
	}
	if report.Cancelled+report.NoShows+report.TimedOut > 0 {
		t.log.Info().
			Int("cancelled", report.Cancelled).
			Int("no_shows", report.NoShows).
			Int("timed_out", report.TimedOut).
			Msg("[TimeoutMonitor] sweep resolved stalled matches")
	}
	return report, nil
}

func (t *TimeoutMonitor) expired(m *models.Match, now time.Time) bool {
	end, ok := m.EndTime()
	if !ok {
		return false
	}
	if m.Status == models.MatchStatusScheduled {
		end = end.Add(t.Grace)
	}
	return now.After(end)
}

func (t *TimeoutMonitor) resolve(ctx context.Context, m *models.Match, report *SweepReport) error {
	switch {
	case !m.Player1Ready && !m.Player2Ready:
		got, err := t.Engine.CancelMatch(ctx, m.ID, models.ReasonNoPlayersReady, ServicePrincipal)
		switch {
		case eris.Is(err, ErrInvalidState):
			// Completed between the reload and the cancel.
			report.Skipped++
			return nil
		case err != nil:
			return err
		}
		count(report, got, models.ReasonNoPlayersReady, &report.Cancelled)
		return nil

	case m.Player1Ready != m.Player2Ready:
		winner := m.Player1ID
		if m.Player2Ready {
			winner = m.Player2ID
		}
		got, err := t.Engine.CompleteMatch(ctx, m.ID, MatchResult{
			WinnerID: winner,
			Reason:   models.ReasonOpponentNoShow,
		}, ServicePrincipal)
		if err != nil {
			return err
		}
		count(report, got, models.ReasonOpponentNoShow, &report.NoShows)
		return nil

	default:
		winner, method := ResolveTimeout(m)
		got, err := t.Engine.CompleteMatch(ctx, m.ID, MatchResult{
			WinnerID: winner,
			Reason:   models.ReasonTimeout,
			Metadata: map[string]any{models.MetaResolutionMethod: method},
		}, ServicePrincipal)
		if err != nil {
			return err
		}
		count(report, got, models.ReasonTimeout, &report.TimedOut)
		return nil
	}
}

// count credits the sweep only when the stored result carries its own reason;
// anything else means another caller closed the match first.
func count(report *SweepReport, got *models.Match, reason string, counter *int) {
	if got.CompletionReason == reason {
		*counter++
		return
	}
	report.Skipped++
}

// ResolveTimeout picks the winner of a match both players joined but never
// finished: higher score, then earliest ready time, then player 1.
func ResolveTimeout(m *models.Match) (string, string) {
	switch {
	case m.Player1Score > m.Player2Score:
		return m.Player1ID, ResolutionScore
	case m.Player2Score > m.Player1Score:
		return m.Player2ID, ResolutionScore
	}
	a, b := m.Player1ReadyAt, m.Player2ReadyAt
	switch {
	case a != nil && b != nil && a.Before(*b):
		return m.Player1ID, ResolutionConnectionTime
	case a != nil && b != nil && b.Before(*a):
		return m.Player2ID, ResolutionConnectionTime
	case a != nil && b == nil:
		return m.Player1ID, ResolutionConnectionTime
	case a == nil && b != nil:
		return m.Player2ID, ResolutionConnectionTime
	}
	return m.Player1ID, ResolutionDefault
}
