package models

import "time"

type TokenStatus string

const (
	TokenStatusIssued   TokenStatus = "issued"
	TokenStatusConsumed TokenStatus = "consumed"
	TokenStatusExpired  TokenStatus = "expired"
	TokenStatusRevoked  TokenStatus = "revoked"
)

// VerificationToken pairs a host device with its opponent for one match.
// The raw token is never stored, only its bcrypt hash.
type VerificationToken struct {
	ID         string      `json:"id" gorm:"primaryKey"`
	MatchID    string      `json:"match_id" gorm:"not null;index:idx_token_match_status,priority:1"`
	HostID     string      `json:"host_id" gorm:"not null"`
	OpponentID string      `json:"opponent_id"`
	TokenHash  string      `json:"-" gorm:"not null"`
	Nonce      string      `json:"-" gorm:"type:varchar(16)"`
	Status     TokenStatus `json:"status" gorm:"type:varchar(16);not null;default:'issued';index:idx_token_match_status,priority:2"`
	ExpiresAt  time.Time   `json:"expires_at" gorm:"not null"`
	ConsumedAt *time.Time  `json:"consumed_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}
