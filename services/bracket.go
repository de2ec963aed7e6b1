package services

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"tournament-orchestrator/models"
	"tournament-orchestrator/store"
)

// BracketMatch is a match as shown in a bracket, with where its winner goes next.
type BracketMatch struct {
	*models.Match
	NextMatchID string `json:"next_match_id,omitempty"`
	NextSlot    string `json:"next_slot,omitempty"`
	Group       string `json:"group,omitempty"`
}

type BracketRound struct {
	Stage       models.Stage   `json:"stage"`
	RoundNumber int            `json:"round_number"`
	Matches     []BracketMatch `json:"matches"`
}

type Bracket struct {
	SeasonID string         `json:"season_id"`
	Status   string         `json:"status,omitempty"`
	Rounds   []BracketRound `json:"rounds"`
}

// BracketService answers read queries over matches.
type BracketService struct {
	Store store.Store
}

func NewBracketService(st store.Store) *BracketService {
	return &BracketService{Store: st}
}

func (b *BracketService) Match(ctx context.Context, matchID string) (*models.Match, error) {
	m, err := b.Store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, notFound(err, "match %s", matchID)
	}
	return m, nil
}

// SeasonMatches lists a season's matches, optionally for a single round.
func (b *BracketService) SeasonMatches(ctx context.Context, tournamentID, seasonID string, round int) ([]*models.Match, error) {
	if round < 0 {
		return nil, eris.Wrap(ErrValidation, "round must be positive")
	}
	return b.Store.ListMatches(ctx, store.MatchFilter{
		TournamentID: tournamentID,
		SeasonID:     seasonID,
		RoundNumber:  round,
	})
}

// Bracket groups a season's matches by stage and round in play order.
func (b *BracketService) Bracket(ctx context.Context, seasonID string) (*Bracket, error) {
	matches, err := b.Store.ListMatches(ctx, store.MatchFilter{SeasonID: seasonID})
	if err != nil {
		return nil, err
	}
	out := &Bracket{SeasonID: seasonID, Rounds: []BracketRound{}}
	if season, err := b.Store.GetSeason(ctx, seasonID); err == nil {
		out.Status = string(season.Status)
	} else if !eris.Is(err, store.ErrNotFound) {
		return nil, err
	} else if len(matches) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "season %s", seasonID)
	}

	index := map[string]int{}
	for _, m := range matches {
		key := string(m.Stage) + "#" + strconv.Itoa(m.RoundNumber)
		i, ok := index[key]
		if !ok {
			i = len(out.Rounds)
			index[key] = i
			out.Rounds = append(out.Rounds, BracketRound{Stage: m.Stage, RoundNumber: m.RoundNumber})
		}
		out.Rounds[i].Matches = append(out.Rounds[i].Matches, BracketMatch{
			Match:       m,
			NextMatchID: m.AdvancesToMatchID,
			NextSlot:    m.AdvancesToSlot,
			Group:       m.MetaString(models.MetaGroup),
		})
	}
	return out, nil
}

// SeasonSnapshot renders the bracket for archiving.
func (b *BracketService) SeasonSnapshot(ctx context.Context, seasonID string) (string, any, error) {
	season, err := b.Store.GetSeason(ctx, seasonID)
	if err != nil {
		return "", nil, notFound(err, "season %s", seasonID)
	}
	bracket, err := b.Bracket(ctx, seasonID)
	if err != nil {
		return "", nil, err
	}
	return season.Name, struct {
		Season  *models.Season `json:"season"`
		Bracket *Bracket       `json:"bracket"`
	}{season, bracket}, nil
}
