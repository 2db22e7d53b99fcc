package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Migrator applies the numbered SQL files under migrations/. Every
// {version}_{name}.up.sql must ship with a matching .down.sql.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger zerolog.Logger
}

// MigrationStatus describes one migration and whether it is applied.
type MigrationStatus struct {
	Version  string
	Filename string
	Applied  bool
}

type migration struct {
	version string
	up      string
	down    string
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: migrationsDir, logger: logger}
}

// Up applies every pending migration, one transaction each.
func (m *Migrator) Up(ctx context.Context) error {
	migrations, applied, err := m.load(ctx)
	if err != nil {
		return err
	}
	for _, mg := range migrations {
		if applied[mg.version] {
			continue
		}
		err := m.exec(ctx, mg.up, `INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`, mg.version, mg.up)
		if err != nil {
			return err
		}
		m.logger.Info().Str("version", mg.version).Str("file", mg.up).Msg("migration applied")
	}
	return nil
}

// Down reverts the most recently applied migration, if any.
func (m *Migrator) Down(ctx context.Context) error {
	migrations, applied, err := m.load(ctx)
	if err != nil {
		return err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		mg := migrations[i]
		if !applied[mg.version] {
			continue
		}
		if err := m.exec(ctx, mg.down, `DELETE FROM public.schema_migrations WHERE version = $1`, mg.version); err != nil {
			return err
		}
		m.logger.Info().Str("version", mg.version).Str("file", mg.down).Msg("migration reverted")
		return nil
	}
	m.logger.Info().Msg("nothing to revert")
	return nil
}

// Status lists every migration on disk with its applied flag.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(migrations))
	for _, mg := range migrations {
		out = append(out, MigrationStatus{Version: mg.version, Filename: mg.up, Applied: applied[mg.version]})
	}
	return out, nil
}

func (m *Migrator) load(ctx context.Context) ([]migration, map[string]bool, error) {
	migrations, err := m.scan()
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", m.dir, err)
	}
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, nil, fmt.Errorf("schema_migrations: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, nil, fmt.Errorf("applied versions: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied[v] = true
	}
	return migrations, applied, rows.Err()
}

// scan pairs up and down files by version, in version order.
func (m *Migrator) scan() ([]migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]*migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		v := migrationVersion(name)
		mg, ok := byVersion[v]
		if !ok {
			mg = &migration{version: v}
			byVersion[v] = mg
		}
		switch {
		case strings.HasSuffix(name, upSuffix):
			mg.up = name
		case strings.HasSuffix(name, downSuffix):
			mg.down = name
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, mg := range byVersion {
		if mg.up == "" || mg.down == "" {
			return nil, fmt.Errorf("migration %s needs both %s and %s files", mg.version, upSuffix, downSuffix)
		}
		out = append(out, *mg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// exec runs one migration file and its bookkeeping statement atomically.
func (m *Migrator) exec(ctx context.Context, file, bookkeeping string, args ...interface{}) (err error) {
	body, err := os.ReadFile(filepath.Join(m.dir, file))
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec %s: %w", file, err)
	}
	if _, err = tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record %s: %w", file, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", file, err)
	}
	return nil
}

// migrationVersion returns the numeric prefix of a migration filename:
// "000001_event_log.up.sql" yields "000001".
func migrationVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
