// workers/season_starter.go
package workers

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DueSeasonStarter starts every upcoming season whose start time has passed.
type DueSeasonStarter interface {
	StartDueSeasons(ctx context.Context) (int, error)
}

// SeasonStartWorker polls for due seasons so a season begins without an
// organizer pressing start.
type SeasonStartWorker struct {
	seasons  DueSeasonStarter
	clock    clockwork.Clock
	interval time.Duration
	log      zerolog.Logger
}

func NewSeasonStartWorker(seasons DueSeasonStarter, clock clockwork.Clock, interval time.Duration) *SeasonStartWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SeasonStartWorker{
		seasons:  seasons,
		clock:    clock,
		interval: interval,
		log:      log.With().Str("component", "season_starter").Logger(),
	}
}

func (w *SeasonStartWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("🔁 [SeasonStarter] starting due-season polling")
	go w.run(ctx)
}

func (w *SeasonStartWorker) run(ctx context.Context) {
	// Catch up on anything that came due while we were down
	w.poll(ctx)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			w.poll(ctx)
		case <-ctx.Done():
			w.log.Info().Msg("⏹️ [SeasonStarter] stopped")
			return
		}
	}
}

func (w *SeasonStartWorker) poll(ctx context.Context) {
	started, err := w.seasons.StartDueSeasons(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("❌ [SeasonStarter] poll failed")
		return
	}
	if started > 0 {
		w.log.Info().Int("started", started).Msg("🚀 [SeasonStarter] seasons started")
	}
}
