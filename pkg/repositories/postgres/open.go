package postgres

import (
	"github.com/rs/zerolog"

	"github.com/TFMV/arbor/pkg/errors"
	"github.com/TFMV/arbor/pkg/infrastructure/pool"
	"github.com/TFMV/arbor/pkg/repositories"
)

// Open connects to cfg.DSN and returns the backend named identity. The
// backend owns the connection and releases it on Close.
func Open(identity string, cfg pool.Config, opts Options, logger zerolog.Logger) (repositories.PlantRepository, error) {
	switch identity {
	case repositories.BackendJSON, repositories.BackendEAV:
	default:
		return nil, errors.Newf(errors.CodeInvalidArgument, "unknown backend %q", identity)
	}

	p, err := pool.New(cfg, logger.With().Str("backend", identity).Logger())
	if err != nil {
		return nil, err
	}

	if identity == repositories.BackendJSON {
		return NewDocumentRepository(p, opts, logger), nil
	}
	return NewEAVRepository(p, opts, logger), nil
}
