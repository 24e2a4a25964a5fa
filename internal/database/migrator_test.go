package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/claim-bot/migrations"
)

type recordingExecer struct {
	statements []string
	failOn     int
}

func (r *recordingExecer) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	r.statements = append(r.statements, query)
	if r.failOn > 0 && len(r.statements) == r.failOn {
		return nil, errors.New("syntax error")
	}
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListMigrations_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0002_b.up.sql":   {Data: []byte("B")},
		"sql/0001_a.up.sql":   {Data: []byte("A")},
		"sql/0001_a.down.sql": {Data: []byte("drop")},
		"sql/README.md":       {Data: []byte("docs")},
		"sql/nested/x.up.sql": {Data: []byte("X")},
	}

	names, err := ListMigrations(fsys, "sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, names)
}

func TestMigrator_ApplyFSRunsInOrderAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql": {Data: []byte("CREATE TABLE b ();")},
		"0001_a.up.sql": {Data: []byte("  CREATE TABLE a ();\n")},
		"0003_c.up.sql": {Data: []byte("   \n")},
	}
	db := &recordingExecer{}

	require.NoError(t, NewMigrator(db, testLogger()).ApplyFS(context.Background(), fsys, "."))
	assert.Equal(t, []string{"CREATE TABLE a ();", "CREATE TABLE b ();"}, db.statements)
}

func TestMigrator_ApplyFSStopsOnFailure(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("A")},
		"0002_b.up.sql": {Data: []byte("B")},
		"0003_c.up.sql": {Data: []byte("C")},
	}
	db := &recordingExecer{failOn: 2}

	err := NewMigrator(db, testLogger()).ApplyFS(context.Background(), fsys, ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002_b.up.sql")
	assert.Len(t, db.statements, 2)
}

func TestMigrator_ApplyFSMissingDir(t *testing.T) {
	err := NewMigrator(&recordingExecer{}, testLogger()).ApplyFS(context.Background(), fstest.MapFS{}, "missing")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := ListMigrations(migrations.FS, ".")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_claim_attempts.up.sql", names[0])

	db := &recordingExecer{}
	require.NoError(t, NewMigrator(db, testLogger()).ApplyFS(context.Background(), migrations.FS, "."))
	require.Len(t, db.statements, 1)
	assert.Contains(t, db.statements[0], "CREATE TABLE IF NOT EXISTS claim_attempts")
}
