package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"tournament-orchestrator/models"
)

// MemoryStore keeps everything in process. Used for STORE_DRIVER=memory and tests.
// Every read returns a copy so callers never share state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	matches map[string]*models.Match
	batches map[string]*models.RoundBatch
	seasons map[string]*models.Season
	players map[string][]models.SeasonPlayer
	tokens  map[string]*models.VerificationToken
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches: map[string]*models.Match{},
		batches: map[string]*models.RoundBatch{},
		seasons: map[string]*models.Season{},
		players: map[string][]models.SeasonPlayer{},
		tokens:  map[string]*models.VerificationToken{},
		clock:   time.Now,
	}
}

func batchKey(seasonID string, stage models.Stage, round int) string {
	return seasonID + "|" + string(stage) + "|" + strconv.Itoa(round)
}

func (s *MemoryStore) CreateRound(_ context.Context, batch *models.RoundBatch, matches []*models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := batchKey(batch.SeasonID, batch.Stage, batch.RoundNumber)
	if _, ok := s.batches[key]; ok {
		return eris.Wrapf(ErrDuplicate, "round %s/%d for season %s", batch.Stage, batch.RoundNumber, batch.SeasonID)
	}
	for _, m := range matches {
		if _, ok := s.matches[m.ID]; ok {
			return eris.Wrapf(ErrDuplicate, "match %s", m.ID)
		}
	}
	now := s.clock()
	batch.MatchCount = len(matches)
	batch.CreatedAt = now
	stored := *batch
	stored.Matches = nil
	s.batches[key] = &stored
	for _, m := range matches {
		m.BatchID = batch.ID
		m.CreatedAt = now
		m.UpdatedAt = now
		s.matches[m.ID] = m.Clone()
	}
	return nil
}

func (s *MemoryStore) RoundExists(_ context.Context, seasonID string, stage models.Stage, round int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.batches[batchKey(seasonID, stage, round)]
	return ok, nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "match %s", id)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListMatches(_ context.Context, f MatchFilter) ([]*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Match
	for _, m := range s.matches {
		if f.TournamentID != "" && m.TournamentID != f.TournamentID {
			continue
		}
		if f.SeasonID != "" && m.SeasonID != f.SeasonID {
			continue
		}
		if f.Stage != "" && m.Stage != f.Stage {
			continue
		}
		if f.RoundNumber > 0 && m.RoundNumber != f.RoundNumber {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, m.Status) {
			continue
		}
		if f.ScheduledOnly && m.ScheduledAt == nil {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoundNumber != out[j].RoundNumber {
			return out[i].RoundNumber < out[j].RoundNumber
		}
		if out[i].MatchNumber != out[j].MatchNumber {
			return out[i].MatchNumber < out[j].MatchNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateMatch(_ context.Context, m *models.Match, from []models.MatchStatus, columns ...string) (bool, error) {
	if len(columns) == 0 {
		return false, eris.New("update match: no columns")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.matches[m.ID]
	if !ok {
		return false, nil
	}
	if from != nil && !hasStatus(from, cur.Status) {
		return false, nil
	}
	next := cur.Clone()
	for _, col := range columns {
		if err := copyColumn(next, m, col); err != nil {
			return false, err
		}
	}
	next.UpdatedAt = s.clock()
	s.matches[m.ID] = next
	return true, nil
}

func copyColumn(dst, src *models.Match, col string) error {
	switch col {
	case ColPlayer1ID:
		dst.Player1ID = src.Player1ID
	case ColPlayer2ID:
		dst.Player2ID = src.Player2ID
	case ColHostID:
		dst.HostID = src.HostID
	case ColScheduledAt:
		dst.ScheduledAt = src.ScheduledAt
	case ColStartedAt:
		dst.StartedAt = src.StartedAt
	case ColCompletedAt:
		dst.CompletedAt = src.CompletedAt
	case ColDurationSeconds:
		dst.DurationSeconds = src.DurationSeconds
	case ColWinnerID:
		dst.WinnerID = src.WinnerID
	case ColPlayer1Score:
		dst.Player1Score = src.Player1Score
	case ColPlayer2Score:
		dst.Player2Score = src.Player2Score
	case ColDraw:
		dst.Draw = src.Draw
	case ColCompletionReason:
		dst.CompletionReason = src.CompletionReason
	case ColAdvancesToMatchID:
		dst.AdvancesToMatchID = src.AdvancesToMatchID
	case ColAdvancesToSlot:
		dst.AdvancesToSlot = src.AdvancesToSlot
	case ColPlayer1Ready:
		dst.Player1Ready = src.Player1Ready
	case ColPlayer1ReadyAt:
		dst.Player1ReadyAt = src.Player1ReadyAt
	case ColPlayer2Ready:
		dst.Player2Ready = src.Player2Ready
	case ColPlayer2ReadyAt:
		dst.Player2ReadyAt = src.Player2ReadyAt
	case ColSessionID:
		dst.SessionID = src.SessionID
	case ColVerificationMethod:
		dst.VerificationMethod = src.VerificationMethod
	case ColVerifiedAt:
		dst.VerifiedAt = src.VerifiedAt
	case ColStatus:
		dst.Status = src.Status
	case ColMetadata:
		dst.Metadata = src.Clone().Metadata
	default:
		return eris.Errorf("update match: unknown column %q", col)
	}
	return nil
}

func (s *MemoryStore) CreateSeason(_ context.Context, season *models.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seasons[season.ID]; ok {
		return eris.Wrapf(ErrDuplicate, "season %s", season.ID)
	}
	now := s.clock()
	season.CreatedAt = now
	season.UpdatedAt = now
	c := *season
	c.Players = nil
	s.seasons[season.ID] = &c
	return nil
}

func (s *MemoryStore) GetSeason(_ context.Context, id string) (*models.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	season, ok := s.seasons[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "season %s", id)
	}
	c := *season
	return &c, nil
}

func (s *MemoryStore) ListSeasons(_ context.Context, f SeasonFilter) ([]*models.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Season
	for _, season := range s.seasons {
		if f.TournamentID != "" && season.TournamentID != f.TournamentID {
			continue
		}
		if f.Status != "" && season.Status != f.Status {
			continue
		}
		if f.StartsBefore != nil && season.StartsAt.After(*f.StartsBefore) {
			continue
		}
		c := *season
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) TransitionSeason(_ context.Context, season *models.Season, from models.SeasonStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.seasons[season.ID]
	if !ok || cur.Status != from {
		return false, nil
	}
	cur.Status = season.Status
	cur.FirstPlaceID = season.FirstPlaceID
	cur.SecondPlaceID = season.SecondPlaceID
	cur.ThirdPlaceID = season.ThirdPlaceID
	cur.Draw = season.Draw
	cur.FinalizedByMatchID = season.FinalizedByMatchID
	cur.CompletedAt = season.CompletedAt
	cur.CancelledAt = season.CancelledAt
	cur.CancelReason = season.CancelReason
	cur.UpdatedAt = s.clock()
	return true, nil
}

func (s *MemoryStore) AddSeasonPlayer(_ context.Context, p *models.SeasonPlayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.players[p.SeasonID] {
		if existing.PlayerID == p.PlayerID {
			return eris.Wrapf(ErrDuplicate, "player %s in season %s", p.PlayerID, p.SeasonID)
		}
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.clock()
	}
	s.players[p.SeasonID] = append(s.players[p.SeasonID], *p)
	return nil
}

func (s *MemoryStore) ListSeasonPlayers(_ context.Context, seasonID string) ([]models.SeasonPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SeasonPlayer(nil), s.players[seasonID]...), nil
}

func (s *MemoryStore) CreateToken(_ context.Context, t *models.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return eris.Wrapf(ErrDuplicate, "token %s", t.ID)
	}
	now := s.clock()
	t.CreatedAt = now
	t.UpdatedAt = now
	c := *t
	s.tokens[t.ID] = &c
	return nil
}

func (s *MemoryStore) ListTokens(_ context.Context, matchID string, status models.TokenStatus) ([]*models.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.VerificationToken
	for _, t := range s.tokens {
		if t.MatchID != matchID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) TransitionToken(_ context.Context, id string, from, to models.TokenStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if to == models.TokenStatusConsumed {
		consumed := at
		t.ConsumedAt = &consumed
	}
	t.UpdatedAt = s.clock()
	return true, nil
}

func (s *MemoryStore) ReplaceIssuedToken(_ context.Context, t *models.VerificationToken) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return 0, eris.Wrapf(ErrDuplicate, "token %s", t.ID)
	}
	now := s.clock()
	var n int64
	for _, old := range s.tokens {
		if old.MatchID == t.MatchID && old.Status == models.TokenStatusIssued {
			old.Status = models.TokenStatusRevoked
			old.UpdatedAt = now
			n++
		}
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	c := *t
	s.tokens[t.ID] = &c
	return n, nil
}

func hasStatus(set []models.MatchStatus, s models.MatchStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
