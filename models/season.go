package models

import (
	"time"

	"gorm.io/gorm"
)

type SeasonStatus string

const (
	SeasonStatusUpcoming  SeasonStatus = "upcoming"
	SeasonStatusActive    SeasonStatus = "active"
	SeasonStatusCompleted SeasonStatus = "completed"
	SeasonStatusCancelled SeasonStatus = "cancelled"
)

const (
	SeasonFormatGroup    = "group"
	SeasonFormatKnockout = "knockout"
)

// Season is one run of a tournament from registration to a champion.
type Season struct {
	ID           string       `json:"id" gorm:"primaryKey"`
	TournamentID string       `json:"tournament_id" gorm:"not null;index"`
	Name         string       `json:"name"`
	Format       string       `json:"format" gorm:"type:varchar(16);default:'knockout'"`
	Status       SeasonStatus `json:"status" gorm:"type:varchar(16);default:'upcoming';index"`
	StartsAt     time.Time    `json:"starts_at" gorm:"not null;index"`
	JoinCutoff   time.Time    `json:"join_cutoff"`

	// Zero values fall back to the platform defaults.
	GroupSize            int `json:"group_size,omitempty" gorm:"default:0"`
	QualifiersPerGroup   int `json:"qualifiers_per_group,omitempty" gorm:"default:0"`
	MatchDurationSeconds int `json:"match_duration_seconds,omitempty" gorm:"default:0"`

	FirstPlaceID       string     `json:"first_place_id,omitempty"`
	SecondPlaceID      string     `json:"second_place_id,omitempty"`
	ThirdPlaceID       string     `json:"third_place_id,omitempty"`
	Draw               bool       `json:"draw" gorm:"default:false"`
	FinalizedByMatchID string     `json:"finalized_by_match_id,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelReason       string     `json:"cancel_reason,omitempty"`

	Timestamps

	Players []SeasonPlayer `json:"players,omitempty" gorm:"foreignKey:SeasonID"`
}

// SeasonPlayer is a roster entry; a player joins a season at most once.
type SeasonPlayer struct {
	ID       string    `json:"id" gorm:"primaryKey"`
	SeasonID string    `json:"season_id" gorm:"not null;uniqueIndex:idx_season_player,priority:1"`
	PlayerID string    `json:"player_id" gorm:"not null;uniqueIndex:idx_season_player,priority:2"`
	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
