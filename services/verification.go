package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"tournament-orchestrator/models"
	"tournament-orchestrator/store"
)

// IssuedToken is handed to the host device once and never stored in clear. The
// nonce is not serialized: the host only learns it from the opponent's device.
type IssuedToken struct {
	MatchID   string    `json:"match_id"`
	Token     string    `json:"token"`
	Nonce     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingNonce is what the opponent's device shows for the host to enter.
type PendingNonce struct {
	MatchID   string    `json:"match_id"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerificationManager pairs the host device with the opponent's.
type VerificationManager struct {
	Store store.Store
	Clock clockwork.Clock
	TTL   time.Duration
	// Cost is the bcrypt cost; tests lower it.
	Cost int

	log zerolog.Logger
}

func NewVerificationManager(st store.Store, clock clockwork.Clock, ttl time.Duration) *VerificationManager {
	return &VerificationManager{
		Store: st,
		Clock: clock,
		TTL:   ttl,
		Cost:  bcrypt.DefaultCost,
		log:   log.With().Str("component", "verification").Logger(),
	}
}

// Issue revokes earlier tokens for the match and mints a new one.
func (v *VerificationManager) Issue(ctx context.Context, matchID string, requester Principal) (*IssuedToken, error) {
	m, err := v.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	if requester.ID == "" || requester.ID != m.HostID {
		return nil, eris.Wrapf(ErrAuthorizationDenied, "only the host may issue tokens for match %s", matchID)
	}
	if m.Status.Terminal() {
		return nil, eris.Wrapf(ErrInvalidState, "match %s is %s", matchID, m.Status)
	}

	raw, err := randomToken()
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), v.Cost)
	if err != nil {
		return nil, eris.Wrap(err, "hash token")
	}

	expires := v.Clock.Now().Add(v.TTL)
	t := &models.VerificationToken{
		ID:         uuid.NewString(),
		MatchID:    matchID,
		HostID:     m.HostID,
		OpponentID: m.Opponent(m.HostID),
		TokenHash:  string(hash),
		Nonce:      nonce,
		Status:     models.TokenStatusIssued,
		ExpiresAt:  expires,
	}
	revoked, err := v.Store.ReplaceIssuedToken(ctx, t)
	if err != nil {
		return nil, err
	}
	v.log.Info().Str("match_id", matchID).Int64("revoked", revoked).Msg("🔑 [Verification] token issued")
	return &IssuedToken{MatchID: matchID, Token: raw, Nonce: nonce, ExpiresAt: expires}, nil
}

// OpponentNonce returns the nonce of the live token to the host's opponent.
func (v *VerificationManager) OpponentNonce(ctx context.Context, matchID string, requester Principal) (*PendingNonce, error) {
	m, err := v.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	opponent := m.Opponent(m.HostID)
	if requester.ID == "" || opponent == "" || requester.ID != opponent {
		return nil, eris.Wrapf(ErrAuthorizationDenied, "only the opponent may read the nonce for match %s", matchID)
	}
	issued, err := v.Store.ListTokens(ctx, matchID, models.TokenStatusIssued)
	if err != nil {
		return nil, err
	}
	now := v.Clock.Now()
	var live *models.VerificationToken
	for _, t := range issued {
		if t.OpponentID != requester.ID || now.After(t.ExpiresAt) {
			continue
		}
		if live == nil || t.ExpiresAt.After(live.ExpiresAt) {
			live = t
		}
	}
	if live == nil {
		return nil, eris.Wrapf(ErrInvalidToken, "no pending token for match %s", matchID)
	}
	return &PendingNonce{MatchID: matchID, Nonce: live.Nonce, ExpiresAt: live.ExpiresAt}, nil
}

// Verify consumes a token presented by the host. Mismatches leave every token as it was.
func (v *VerificationManager) Verify(ctx context.Context, matchID, token, nonce string, requester Principal) (*models.Match, error) {
	m, err := v.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	if requester.ID == "" || requester.ID != m.HostID {
		return nil, eris.Wrapf(ErrAuthorizationDenied, "only the host may verify match %s", matchID)
	}
	if token == "" {
		return nil, eris.Wrap(ErrInvalidToken, "empty token")
	}

	issued, err := v.Store.ListTokens(ctx, matchID, models.TokenStatusIssued)
	if err != nil {
		return nil, err
	}
	var found *models.VerificationToken
	for _, t := range issued {
		if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(token)) == nil {
			found = t
			break
		}
	}
	if found == nil {
		return nil, eris.Wrapf(ErrInvalidToken, "match %s", matchID)
	}

	now := v.Clock.Now()
	if now.After(found.ExpiresAt) {
		if _, err := v.Store.TransitionToken(ctx, found.ID, models.TokenStatusIssued, models.TokenStatusExpired, now); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrTokenExpired, "token for match %s expired at %s", matchID, found.ExpiresAt.Format(time.RFC3339))
	}
	if found.OpponentID != m.Opponent(m.HostID) {
		return nil, eris.Wrapf(ErrInvalidToken, "opponent changed for match %s", matchID)
	}
	if m.VerificationMethod == models.VerifyMethodTokenNonce && nonce != found.Nonce {
		return nil, eris.Wrapf(ErrInvalidToken, "nonce mismatch for match %s", matchID)
	}

	ok, err := v.Store.TransitionToken(ctx, found.ID, models.TokenStatusIssued, models.TokenStatusConsumed, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eris.Wrapf(ErrInvalidToken, "match %s", matchID)
	}

	m.VerifiedAt = &now
	if _, err := v.Store.UpdateMatch(ctx, m, nil, store.ColVerifiedAt); err != nil {
		return nil, err
	}
	v.log.Info().Str("match_id", matchID).Msg("✅ [Verification] devices paired")
	return m, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", eris.Wrap(err, "generate token")
	}
	return hex.EncodeToString(b), nil
}

func randomNonce() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", eris.Wrap(err, "generate nonce")
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
