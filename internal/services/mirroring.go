package services

import (
	"context"

	"github.com/rs/zerolog"

	"GOSAFE_BACK-END/internal/logging"
	"GOSAFE_BACK-END/internal/mirror"
)

// Projector applies backend changes to the realtime mirror. *mirror.Syncer implements it.
type Projector interface {
	Apply(ctx context.Context, muts ...mirror.Mutation) error
}

// project applies muts and only logs failures: the backend write that
// produced them has already committed and stays authoritative.
func project(ctx context.Context, p Projector, log zerolog.Logger, muts ...mirror.Mutation) {
	if p == nil || len(muts) == 0 {
		return
	}
	if err := p.Apply(ctx, muts...); err != nil {
		ev := log.Warn().Err(err)
		if len(muts) == 1 {
			ev = ev.Str(logging.PATH, muts[0].Path.String())
		}
		ev.Msg("mirror projection failed")
	}
}
