package events

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// Fanout publishes every event to each wrapped publisher. One failing sink does
// not stop the others; the first error is returned.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			log.Warn().Err(err).Str("event", string(e.Type)).Msg("[Events] sink failed")
			if first == nil {
				first = eris.Wrapf(err, "fanout %s", e.Type)
			}
		}
	}
	return first
}
