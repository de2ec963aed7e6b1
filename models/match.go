package models

import (
	"time"
)

// ByePlayerID is the reserved opponent of a player who advances without playing.
const ByePlayerID = "__bye__"

type MatchStatus string

const (
	MatchStatusScheduled  MatchStatus = "scheduled"
	MatchStatusReady      MatchStatus = "ready"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusCompleted  MatchStatus = "completed"
	MatchStatusCancelled  MatchStatus = "cancelled"
)

// OpenMatchStatuses are the statuses a match can still leave.
var OpenMatchStatuses = []MatchStatus{MatchStatusScheduled, MatchStatusReady, MatchStatusInProgress}

func (s MatchStatus) Terminal() bool {
	return s == MatchStatusCompleted || s == MatchStatusCancelled
}

const (
	ReasonNormal         = "normal"
	ReasonOpponentNoShow = "opponent_no_show"
	ReasonTimeout        = "timeout"
	ReasonBye            = "bye"
	ReasonNoPlayersReady = "no_players_ready"
)

const (
	SlotA = "A"
	SlotB = "B"
)

const (
	VerifyMethodToken      = "token"
	VerifyMethodTokenNonce = "token_nonce"
)

// Metadata keys stored in Match.Metadata.
const (
	MetaGroup                      = "group"
	MetaBye                        = "bye"
	MetaCancelReason               = "cancel_reason"
	MetaResolutionMethod           = "resolution_method"
	MetaFinalizedWithoutThirdPlace = "finalized_without_third_place"
)

// Metadata is a free-form bag for stage specific tags.
type Metadata map[string]any

// Match is one head-to-head game inside a season round.
type Match struct {
	ID           string `json:"id" gorm:"primaryKey"`
	TournamentID string `json:"tournament_id" gorm:"not null;index"`
	SeasonID     string `json:"season_id" gorm:"not null;index:idx_match_season_stage_round,priority:1"`
	BatchID      string `json:"batch_id" gorm:"not null;index"`
	Stage        Stage  `json:"stage" gorm:"type:varchar(32);not null;index:idx_match_season_stage_round,priority:2"`
	RoundNumber  int    `json:"round_number" gorm:"not null;index:idx_match_season_stage_round,priority:3"`
	MatchNumber  int    `json:"match_number" gorm:"not null;default:0"`

	Player1ID string `json:"player1_id,omitempty" gorm:"index"`
	Player2ID string `json:"player2_id,omitempty" gorm:"index"`
	HostID    string `json:"host_id,omitempty"`

	ScheduledAt     *time.Time `json:"scheduled_at,omitempty" gorm:"index"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds" gorm:"not null;default:0"`

	WinnerID         string `json:"winner_id,omitempty"`
	Player1Score     int    `json:"player1_score"`
	Player2Score     int    `json:"player2_score"`
	Draw             bool   `json:"draw" gorm:"default:false"`
	CompletionReason string `json:"completion_reason,omitempty" gorm:"type:varchar(32)"`

	AdvancesToMatchID string `json:"advances_to_match_id,omitempty"`
	AdvancesToSlot    string `json:"advances_to_slot,omitempty" gorm:"type:varchar(1)"`

	Player1Ready   bool       `json:"player1_ready" gorm:"default:false"`
	Player1ReadyAt *time.Time `json:"player1_ready_at,omitempty"`
	Player2Ready   bool       `json:"player2_ready" gorm:"default:false"`
	Player2ReadyAt *time.Time `json:"player2_ready_at,omitempty"`

	SessionID          string     `json:"session_id,omitempty"`
	VerificationMethod string     `json:"verification_method,omitempty" gorm:"type:varchar(16);default:'token'"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`

	Status   MatchStatus `json:"status" gorm:"type:varchar(16);not null;default:'scheduled';index"`
	Metadata Metadata    `json:"metadata,omitempty" gorm:"type:text;serializer:json"`

	Timestamps
}

// IsBye reports whether the match was created as an automatic advance.
func (m *Match) IsBye() bool {
	return m.Player1ID == ByePlayerID || m.Player2ID == ByePlayerID
}

// HasPlayer reports whether playerID is one of the two participants.
func (m *Match) HasPlayer(playerID string) bool {
	return playerID != "" && (m.Player1ID == playerID || m.Player2ID == playerID)
}

// Opponent returns the other participant, or "" when playerID is not in the match.
func (m *Match) Opponent(playerID string) string {
	switch playerID {
	case m.Player1ID:
		return m.Player2ID
	case m.Player2ID:
		return m.Player1ID
	}
	return ""
}

// Loser returns the participant that did not win, excluding bye sentinels.
func (m *Match) Loser() string {
	if m.WinnerID == "" || m.Draw {
		return ""
	}
	loser := m.Opponent(m.WinnerID)
	if loser == ByePlayerID {
		return ""
	}
	return loser
}

// EndTime is when the match's allotted time runs out.
func (m *Match) EndTime() (time.Time, bool) {
	start := m.StartedAt
	if start == nil {
		start = m.ScheduledAt
	}
	if start == nil {
		return time.Time{}, false
	}
	return start.Add(time.Duration(m.DurationSeconds) * time.Second), true
}

// Clone returns a copy that shares no mutable state with m.
func (m *Match) Clone() *Match {
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(Metadata, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SetMeta writes a metadata tag, allocating the bag if needed.
func (m *Match) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = Metadata{}
	}
	m.Metadata[key] = value
}

// MetaString reads a string tag.
func (m *Match) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

// RoundBatch records one generated (season, stage, round). The unique index is the
// storage backstop against two workers generating the same next round.
type RoundBatch struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	TournamentID string    `json:"tournament_id" gorm:"not null;index"`
	SeasonID     string    `json:"season_id" gorm:"not null;uniqueIndex:idx_round_batch_unique,priority:1"`
	Stage        Stage     `json:"stage" gorm:"type:varchar(32);not null;uniqueIndex:idx_round_batch_unique,priority:2"`
	RoundNumber  int       `json:"round_number" gorm:"not null;uniqueIndex:idx_round_batch_unique,priority:3"`
	MatchCount   int       `json:"match_count"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`

	Matches []Match `json:"matches,omitempty" gorm:"foreignKey:BatchID"`
}
