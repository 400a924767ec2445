package app

import (
	"context"
	"errors"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/application"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/rs/zerolog/log"
)

// SeedNodes registers each name that is not already present and returns how
// many were created. Existing nodes keep their current state.
func SeedNodes(ctx context.Context, nodes *application.NodeService, names []string) (int, error) {
	created := 0
	for _, name := range names {
		_, err := nodes.Register(ctx, name, nil)
		if errors.Is(err, nlerrors.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}
	if len(names) > 0 {
		log.Info().Int("requested", len(names)).Int("created", created).Msg("seeded nodes")
	}
	return created, nil
}
