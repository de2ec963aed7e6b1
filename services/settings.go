package services

import (
	"time"

	"tournament-orchestrator/models"
)

// Settings are the platform defaults the engine falls back to when a season does
// not override them.
type Settings struct {
	MatchDuration      time.Duration
	MaxParallelMatches int
	GroupSize          int
	QualifiersPerGroup int
	FinalizeDebounce   time.Duration
	MonitorInterval    time.Duration
	ScheduledGrace     time.Duration
	TokenTTL           time.Duration
	ProvisionTimeout   time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MatchDuration:      10 * time.Minute,
		MaxParallelMatches: 5,
		GroupSize:          4,
		QualifiersPerGroup: 2,
		FinalizeDebounce:   30 * time.Second,
		MonitorInterval:    15 * time.Second,
		ScheduledGrace:     2 * time.Minute,
		TokenTTL:           90 * time.Second,
		ProvisionTimeout:   5 * time.Second,
	}
}

// ForSeason applies the season's overrides. A nil season keeps the defaults.
func (s Settings) ForSeason(season *models.Season) Settings {
	if season == nil {
		return s
	}
	if season.GroupSize > 1 {
		s.GroupSize = season.GroupSize
	}
	if season.QualifiersPerGroup > 0 {
		s.QualifiersPerGroup = season.QualifiersPerGroup
	}
	if season.MatchDurationSeconds > 0 {
		s.MatchDuration = time.Duration(season.MatchDurationSeconds) * time.Second
	}
	return s
}
