package services

import (
	"context"
	"math/rand/v2"
	"sync"
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

// StageOptions describe the round being generated.
type StageOptions struct {
	TournamentID string
	SeasonID     string
	// Stage is the requested stage. Empty means size it from the player count.
	Stage       models.Stage
	RoundNumber int
	RoundStart  time.Time

	MatchDuration      time.Duration
	MaxParallelMatches int
	GroupSize          int
	VerificationMethod string
	// Shuffle randomizes pairings; only used for a season's first round.
	Shuffle bool
}

// Generator turns a player list into a round of matches.
type Generator struct {
	Store    store.Store
	Events   events.Publisher
	Sessions SessionProvisioner
	Clock    clockwork.Clock
	Settings Settings

	log zerolog.Logger
}

func NewGenerator(st store.Store, pub events.Publisher, sessions SessionProvisioner, clock clockwork.Clock, settings Settings) *Generator {
	if sessions == nil {
		sessions = noopProvisioner{}
	}
	return &Generator{
		Store:    st,
		Events:   pub,
		Sessions: sessions,
		Clock:    clock,
		Settings: settings,
		log:      log.With().Str("component", "generator").Logger(),
	}
}

// Build lays out one round without touching storage.
func (g *Generator) Build(players []string, opts StageOptions) ([]*models.Match, error) {
	pool, err := uniquePlayers(players)
	if err != nil {
		return nil, err
	}
	if len(pool) < 2 {
		return nil, eris.Wrapf(ErrValidation, "need at least 2 players, got %d", len(pool))
	}
	opts = g.withDefaults(opts)
	if opts.Shuffle {
		rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	}

	if opts.Stage == models.StageGroup && len(pool) >= opts.GroupSize {
		return g.buildGroups(pool, opts), nil
	}
	if opts.Stage == "" || opts.Stage == models.StageGroup {
		opts.Stage = models.StageForPlayerCount(len(pool))
	}
	if !opts.Stage.Valid() {
		return nil, eris.Wrapf(ErrValidation, "unknown stage %q", opts.Stage)
	}
	return g.buildBracket(pool, opts), nil
}

func (g *Generator) withDefaults(opts StageOptions) StageOptions {
	if opts.RoundNumber <= 0 {
		opts.RoundNumber = 1
	}
	if opts.MatchDuration <= 0 {
		opts.MatchDuration = g.Settings.MatchDuration
	}
	if opts.MaxParallelMatches <= 0 {
		opts.MaxParallelMatches = g.Settings.MaxParallelMatches
	}
	if opts.MaxParallelMatches <= 0 {
		opts.MaxParallelMatches = 1
	}
	if opts.GroupSize <= 1 {
		opts.GroupSize = g.Settings.GroupSize
	}
	if opts.GroupSize <= 1 {
		opts.GroupSize = 2
	}
	if opts.VerificationMethod == "" {
		opts.VerificationMethod = models.VerifyMethodToken
	}
	if opts.RoundStart.IsZero() && g.Clock != nil {
		opts.RoundStart = g.Clock.Now()
	}
	return opts
}

func (g *Generator) buildBracket(pool []string, opts StageOptions) []*models.Match {
	var out []*models.Match
	k := 0
	for i := 0; i+1 < len(pool); i += 2 {
		m := g.newMatch(opts, len(out)+1, pool[i], pool[i+1])
		at := slotTime(opts, k)
		m.ScheduledAt = &at
		out = append(out, m)
		k++
	}
	if len(pool)%2 == 1 {
		out = append(out, g.newBye(opts, len(out)+1, pool[len(pool)-1]))
	}
	return out
}

func (g *Generator) buildGroups(pool []string, opts StageOptions) []*models.Match {
	var out []*models.Match
	k := 0
	for gi, group := range splitGroups(pool, opts.GroupSize) {
		label := groupLabel(gi)
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				m := g.newMatch(opts, len(out)+1, group[i], group[j])
				at := slotTime(opts, k)
				m.ScheduledAt = &at
				m.SetMeta(models.MetaGroup, label)
				out = append(out, m)
				k++
			}
		}
	}
	return out
}

func (g *Generator) newMatch(opts StageOptions, number int, p1, p2 string) *models.Match {
	return &models.Match{
		ID:                 uuid.NewString(),
		TournamentID:       opts.TournamentID,
		SeasonID:           opts.SeasonID,
		Stage:              opts.Stage,
		RoundNumber:        opts.RoundNumber,
		MatchNumber:        number,
		Player1ID:          p1,
		Player2ID:          p2,
		HostID:             p1,
		DurationSeconds:    int(opts.MatchDuration / time.Second),
		VerificationMethod: opts.VerificationMethod,
		Status:             models.MatchStatusScheduled,
	}
}

func (g *Generator) newBye(opts StageOptions, number int, player string) *models.Match {
	m := g.newMatch(opts, number, player, models.ByePlayerID)
	done := opts.RoundStart
	m.Status = models.MatchStatusCompleted
	m.WinnerID = player
	m.CompletionReason = models.ReasonBye
	m.CompletedAt = &done
	m.SetMeta(models.MetaBye, true)
	return m
}

// slotTime spreads matches over time so at most MaxParallelMatches run at once.
func slotTime(opts StageOptions, k int) time.Time {
	return opts.RoundStart.Add(time.Duration(k/opts.MaxParallelMatches) * opts.MatchDuration)
}

// splitGroups chunks players into fixed-size groups. A trailing single player
// joins the previous group so nobody is left without opponents.
func splitGroups(pool []string, size int) [][]string {
	var groups [][]string
	for start := 0; start < len(pool); start += size {
		end := start + size
		if end > len(pool) {
			end = len(pool)
		}
		groups = append(groups, pool[start:end])
	}
	if n := len(groups); n > 1 && len(groups[n-1]) == 1 {
		merged := append(append([]string(nil), groups[n-2]...), groups[n-1]...)
		groups = append(groups[:n-2], merged)
	}
	return groups
}

// groupLabel returns A, B, ... Z, AA, AB, ...
func groupLabel(i int) string {
	label := ""
	for i >= 0 {
		label = string(rune('A'+i%26)) + label
		i = i/26 - 1
	}
	return label
}

func uniquePlayers(players []string) ([]string, error) {
	seen := make(map[string]bool, len(players))
	out := make([]string, 0, len(players))
	for _, p := range players {
		if p == "" || seen[p] {
			continue
		}
		if p == models.ByePlayerID {
			return nil, eris.Wrapf(ErrValidation, "player id %q is reserved", p)
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// Generate builds a round, persists it with its batch row, announces it and
// provisions device sessions. A round that already exists yields store.ErrDuplicate.
func (g *Generator) Generate(ctx context.Context, players []string, opts StageOptions) (*models.RoundBatch, []*models.Match, error) {
	matches, err := g.Build(players, opts)
	if err != nil {
		return nil, nil, err
	}
	first := matches[0]
	batch := &models.RoundBatch{
		ID:           uuid.NewString(),
		TournamentID: first.TournamentID,
		SeasonID:     first.SeasonID,
		Stage:        first.Stage,
		RoundNumber:  first.RoundNumber,
	}
	if err := g.Store.CreateRound(ctx, batch, matches); err != nil {
		return nil, nil, err
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	g.log.Info().
		Str("season_id", batch.SeasonID).
		Str("stage", string(batch.Stage)).
		Int("round", batch.RoundNumber).
		Int("matches", len(matches)).
		Msg("[Generator] round created")

	g.publish(ctx, events.New(events.RoundGenerated, batch.TournamentID, batch.SeasonID, g.now(),
		events.RoundGeneratedPayload{
			BatchID:     batch.ID,
			Stage:       string(batch.Stage),
			RoundNumber: batch.RoundNumber,
			MatchIDs:    ids,
			PlayerCount: countPlayers(matches),
		}))

	g.Provision(ctx, matches)
	return batch, matches, nil
}

// Provision asks the session service for a device session per playable match.
// Failures are logged and never undo match creation.
func (g *Generator) Provision(ctx context.Context, matches []*models.Match) {
	timeout := g.Settings.ProvisionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var wg sync.WaitGroup
	for _, m := range matches {
		if m.IsBye() || m.Status.Terminal() {
			continue
		}
		wg.Add(1)
		go func(m *models.Match) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			sessionID, err := g.Sessions.CreateSession(pctx, m.ID, []string{m.Player1ID, m.Player2ID}, m.DurationSeconds)
			if err != nil {
				g.log.Warn().Err(err).Str("match_id", m.ID).Msg("[Generator] session provisioning failed")
				return
			}
			if sessionID == "" {
				return
			}
			m.SessionID = sessionID
			if _, err := g.Store.UpdateMatch(ctx, m, nil, store.ColSessionID); err != nil {
				g.log.Warn().Err(err).Str("match_id", m.ID).Msg("[Generator] failed to store session id")
			}
		}(m)
	}
	wg.Wait()
}

func (g *Generator) publish(ctx context.Context, e events.Event) {
	if g.Events == nil {
		return
	}
	if err := g.Events.Publish(ctx, e); err != nil {
		g.log.Warn().Err(err).Str("event", string(e.Type)).Msg("[Generator] event not delivered")
	}
}

func (g *Generator) now() time.Time {
	if g.Clock == nil {
		return time.Now()
	}
	return g.Clock.Now()
}

func countPlayers(matches []*models.Match) int {
	seen := map[string]bool{}
	for _, m := range matches {
		for _, p := range []string{m.Player1ID, m.Player2ID} {
			if p != "" && p != models.ByePlayerID {
				seen[p] = true
			}
		}
	}
	return len(seen)
}
