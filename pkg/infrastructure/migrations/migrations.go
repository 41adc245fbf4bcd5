// Package migrations applies the schema of a storage backend variant.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/arbor/pkg/errors"
)

//go:embed sql
var files embed.FS

// Variants returns the schema variants with embedded migrations.
func Variants() []string {
	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

// Migrator applies the migrations of one variant to one database.
type Migrator struct {
	variant string
	dsn     string
	logger  zerolog.Logger
}

// NewMigrator validates the variant and returns a Migrator. dsn must be a
// postgres:// URL.
func NewMigrator(variant, dsn string, logger zerolog.Logger) (*Migrator, error) {
	if _, err := fs.Stat(files, path.Join("sql", variant)); err != nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeInvalidArgument, "no migrations for variant %q", variant)
	}
	if dsn == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidArgument, "dsn is required")
	}
	return &Migrator{variant: variant, dsn: dsn, logger: logger}, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (m *Migrator) Up() error {
	mig, err := m.open()
	if err != nil {
		return err
	}
	defer mig.Close()

	err = mig.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return pkgerrors.Wrapf(err, pkgerrors.CodeQueryFailed, "migrate %s up", m.variant)
	}
	return nil
}

// Down reverts every applied migration.
func (m *Migrator) Down() error {
	mig, err := m.open()
	if err != nil {
		return err
	}
	defer mig.Close()

	err = mig.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return pkgerrors.Wrapf(err, pkgerrors.CodeQueryFailed, "migrate %s down", m.variant)
	}
	return nil
}

// Version returns the applied schema version.
func (m *Migrator) Version() (uint, bool, error) {
	mig, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer mig.Close()

	v, dirty, err := mig.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, pkgerrors.Wrap(err, pkgerrors.CodeQueryFailed, "read schema version")
	}
	return v, dirty, nil
}

func (m *Migrator) open() (*migrate.Migrate, error) {
	src, err := iofs.New(files, path.Join("sql", m.variant))
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "open embedded migrations")
	}
	mig, err := migrate.NewWithSourceInstance("iofs", src, m.dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, fmt.Sprintf("connect migrator for %s", m.variant))
	}
	mig.Log = &logger{log: m.logger.With().Str("variant", m.variant).Logger()}
	return mig, nil
}

type logger struct {
	log zerolog.Logger
}

func (l *logger) Printf(format string, v ...interface{}) {
	l.log.Info().Msgf(format, v...)
}

func (l *logger) Verbose() bool {
	return l.log.GetLevel() <= zerolog.DebugLevel
}
