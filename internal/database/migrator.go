// Package database provides helpers for the PostgreSQL connection and its migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
)

// Execer runs a statement. *sql.DB satisfies it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Migrator applies plain .sql file migrations in lexical order.
// Only .up.sql files are applied and each must be idempotent.
type Migrator struct {
	db  Execer
	log *slog.Logger
}

// NewMigrator constructs a Migrator that logs through the provided logger instance.
func NewMigrator(db Execer, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.Default()
	}
	return &Migrator{
		db:  db,
		log: log,
	}
}

// ApplyFS finds *.up.sql under root in fsys, sorts them, and executes them sequentially.
// Each file is sent as one multi-statement exec, which PostgreSQL runs in an implicit transaction.
func (m *Migrator) ApplyFS(ctx context.Context, fsys fs.FS, root string) error {
	files, err := ListMigrations(fsys, root)
	if err != nil {
		return fmt.Errorf("read migrations dir %q: %w", root, err)
	}

	baseLog := m.log.With(slog.String("dir", root))
	if len(files) == 0 {
		baseLog.Info("no .up.sql migrations found")
		return nil
	}

	for _, name := range files {
		if err := m.applyFile(ctx, baseLog, fsys, path.Join(root, name)); err != nil {
			return err
		}
	}

	baseLog.Info("migrations applied", slog.Int("count", len(files)))
	return nil
}

func (m *Migrator) applyFile(ctx context.Context, baseLog *slog.Logger, fsys fs.FS, name string) error {
	scopedLog := baseLog.With(slog.String("file", path.Base(name)))
	scopedLog.Debug("applying migration")

	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read migration %q: %w", name, err)
	}

	statement := strings.TrimSpace(string(data))
	if len(statement) == 0 {
		scopedLog.Warn("migration is empty, skipping")
		return nil
	}

	if _, err := m.db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("execute migration %q: %w", name, err)
	}

	return nil
}

func isUpMigration(name string) bool {
	return strings.HasSuffix(name, ".up.sql")
}

// ListMigrations returns all .up.sql files in dir in lexical order.
func ListMigrations(dir fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(dir, root)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isUpMigration(e.Name()) {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}
