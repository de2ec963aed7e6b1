package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// ObjectUploader is the slice of the R2 client the archiver needs.
type ObjectUploader interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// SnapshotSource renders the final bracket of a season.
type SnapshotSource interface {
	SeasonSnapshot(ctx context.Context, seasonID string) (name string, doc any, err error)
}

// BracketArchiver listens for season.completed and stores the final bracket as JSON.
type BracketArchiver struct {
	Uploader ObjectUploader
	Source   SnapshotSource
}

func NewBracketArchiver(uploader ObjectUploader, source SnapshotSource) *BracketArchiver {
	return &BracketArchiver{Uploader: uploader, Source: source}
}

// ArchiveKey is the object key for a season's bracket snapshot.
func ArchiveKey(tournamentID, seasonName, seasonID string) string {
	name := slug.Make(seasonName)
	if name == "" {
		name = "season"
	}
	return fmt.Sprintf("brackets/%s/%s-%s.json", tournamentID, name, seasonID)
}

func (a *BracketArchiver) Publish(ctx context.Context, e Event) error {
	if e.Type != SeasonCompleted {
		return nil
	}
	name, doc, err := a.Source.SeasonSnapshot(ctx, e.SeasonID)
	if err != nil {
		return eris.Wrapf(err, "snapshot season %s", e.SeasonID)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "marshal bracket")
	}
	url, err := a.Uploader.PutObject(ctx, ArchiveKey(e.TournamentID, name, e.SeasonID), body, "application/json")
	if err != nil {
		return err
	}
	log.Info().Str("season_id", e.SeasonID).Str("url", url).Msg("📦 [Archiver] bracket archived")
	return nil
}
