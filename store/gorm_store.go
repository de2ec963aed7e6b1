package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tournament-orchestrator/models"
)

// GormStore persists state through gorm. Postgres in production, sqlite in tests.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// AutoMigrate creates or updates every table the engine uses.
func (s *GormStore) AutoMigrate() error {
	return s.DB.AutoMigrate(
		&models.Season{},
		&models.SeasonPlayer{},
		&models.RoundBatch{},
		&models.Match{},
		&models.VerificationToken{},
	)
}

func (s *GormStore) CreateRound(ctx context.Context, batch *models.RoundBatch, matches []*models.Match) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.RoundBatch{}).
			Where("season_id = ? AND stage = ? AND round_number = ?", batch.SeasonID, batch.Stage, batch.RoundNumber).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		batch.MatchCount = len(matches)
		if err := tx.Omit("Matches").Create(batch).Error; err != nil {
			return err
		}
		for _, m := range matches {
			m.BatchID = batch.ID
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicate) || isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicate, "round %s/%d for season %s", batch.Stage, batch.RoundNumber, batch.SeasonID)
	}
	return eris.Wrap(err, "create round")
}

func (s *GormStore) RoundExists(ctx context.Context, seasonID string, stage models.Stage, round int) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.RoundBatch{}).
		Where("season_id = ? AND stage = ? AND round_number = ?", seasonID, stage, round).
		Count(&count).Error
	if err != nil {
		return false, eris.Wrap(err, "count round batches")
	}
	return count > 0, nil
}

func (s *GormStore) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	var m models.Match
	if err := s.DB.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err, "match %s", id)
	}
	return &m, nil
}

func (s *GormStore) ListMatches(ctx context.Context, f MatchFilter) ([]*models.Match, error) {
	q := s.DB.WithContext(ctx).Model(&models.Match{})
	if f.TournamentID != "" {
		q = q.Where("tournament_id = ?", f.TournamentID)
	}
	if f.SeasonID != "" {
		q = q.Where("season_id = ?", f.SeasonID)
	}
	if f.Stage != "" {
		q = q.Where("stage = ?", string(f.Stage))
	}
	if f.RoundNumber > 0 {
		q = q.Where("round_number = ?", f.RoundNumber)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	}
	if f.ScheduledOnly {
		q = q.Where("scheduled_at IS NOT NULL")
	}
	var out []*models.Match
	if err := q.Order("round_number ASC").Order("match_number ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, eris.Wrap(err, "list matches")
	}
	return out, nil
}

func (s *GormStore) UpdateMatch(ctx context.Context, m *models.Match, from []models.MatchStatus, columns ...string) (bool, error) {
	if len(columns) == 0 {
		return false, eris.New("update match: no columns")
	}
	q := s.DB.WithContext(ctx).Model(&models.Match{}).Where("id = ?", m.ID)
	if from != nil {
		q = q.Where("status IN ?", statusStrings(from))
	}
	res := q.Select(columns).Updates(m)
	if res.Error != nil {
		return false, eris.Wrapf(res.Error, "update match %s", m.ID)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) CreateSeason(ctx context.Context, season *models.Season) error {
	if err := s.DB.WithContext(ctx).Omit("Players").Create(season).Error; err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicate, "season %s", season.ID)
		}
		return eris.Wrap(err, "create season")
	}
	return nil
}

func (s *GormStore) GetSeason(ctx context.Context, id string) (*models.Season, error) {
	var season models.Season
	if err := s.DB.WithContext(ctx).First(&season, "id = ?", id).Error; err != nil {
		return nil, translate(err, "season %s", id)
	}
	return &season, nil
}

func (s *GormStore) ListSeasons(ctx context.Context, f SeasonFilter) ([]*models.Season, error) {
	q := s.DB.WithContext(ctx).Model(&models.Season{})
	if f.TournamentID != "" {
		q = q.Where("tournament_id = ?", f.TournamentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.StartsBefore != nil {
		q = q.Where("starts_at <= ?", *f.StartsBefore)
	}
	var out []*models.Season
	if err := q.Order("starts_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, eris.Wrap(err, "list seasons")
	}
	return out, nil
}

func (s *GormStore) TransitionSeason(ctx context.Context, season *models.Season, from models.SeasonStatus) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Season{}).
		Where("id = ? AND status = ?", season.ID, string(from)).
		Select(
			"status", "first_place_id", "second_place_id", "third_place_id", "draw",
			"finalized_by_match_id", "completed_at", "cancelled_at", "cancel_reason",
		).
		Updates(season)
	if res.Error != nil {
		return false, eris.Wrapf(res.Error, "transition season %s", season.ID)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) AddSeasonPlayer(ctx context.Context, p *models.SeasonPlayer) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.SeasonPlayer{}).
			Where("season_id = ? AND player_id = ?", p.SeasonID, p.PlayerID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		return tx.Create(p).Error
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicate) || isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicate, "player %s in season %s", p.PlayerID, p.SeasonID)
	}
	return eris.Wrap(err, "add season player")
}

func (s *GormStore) ListSeasonPlayers(ctx context.Context, seasonID string) ([]models.SeasonPlayer, error) {
	var out []models.SeasonPlayer
	err := s.DB.WithContext(ctx).
		Where("season_id = ?", seasonID).
		Order("joined_at ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, eris.Wrap(err, "list season players")
	}
	return out, nil
}

func (s *GormStore) CreateToken(ctx context.Context, t *models.VerificationToken) error {
	if err := s.DB.WithContext(ctx).Create(t).Error; err != nil {
		return eris.Wrap(err, "create verification token")
	}
	return nil
}

func (s *GormStore) ListTokens(ctx context.Context, matchID string, status models.TokenStatus) ([]*models.VerificationToken, error) {
	q := s.DB.WithContext(ctx).Where("match_id = ?", matchID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var out []*models.VerificationToken
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, eris.Wrap(err, "list verification tokens")
	}
	return out, nil
}

func (s *GormStore) TransitionToken(ctx context.Context, id string, from, to models.TokenStatus, at time.Time) (bool, error) {
	updates := map[string]interface{}{"status": string(to)}
	if to == models.TokenStatusConsumed {
		updates["consumed_at"] = at
	}
	res := s.DB.WithContext(ctx).Model(&models.VerificationToken{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, eris.Wrapf(res.Error, "transition token %s", id)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ReplaceIssuedToken(ctx context.Context, t *models.VerificationToken) (int64, error) {
	var revoked int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Concurrent issues for one match queue up on the match row.
		var ids []string
		if err := tx.Model(&models.Match{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", t.MatchID).
			Pluck("id", &ids).Error; err != nil {
			return eris.Wrapf(err, "lock match %s", t.MatchID)
		}
		res := tx.Model(&models.VerificationToken{}).
			Where("match_id = ? AND status = ?", t.MatchID, string(models.TokenStatusIssued)).
			Update("status", string(models.TokenStatusRevoked))
		if res.Error != nil {
			return eris.Wrapf(res.Error, "revoke tokens for match %s", t.MatchID)
		}
		revoked = res.RowsAffected
		if err := tx.Create(t).Error; err != nil {
			return eris.Wrap(err, "create verification token")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

func translate(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

func statusStrings(in []models.MatchStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
