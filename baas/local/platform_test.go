package local

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformMigrateRecordsAppliedFiles(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()

	migrations := fstest.MapFS{
		"0001_notes_owner.up.sql": {Data: []byte(
			"CREATE INDEX notes_owner_idx ON notes (owner);",
		)},
		"0001_notes_owner.down.sql": {Data: []byte("DROP INDEX notes_owner_idx;")},
		"0002_seed_note.up.sql": {Data: []byte(
			"INSERT INTO notes (id, owner, status, rank) VALUES ('seed', 'ana;ben', 'pending', 0);",
		)},
		"0002_seed_note.down.sql": {Data: []byte("DELETE FROM notes WHERE id = 'seed';")},
	}

	require.NoError(t, p.Migrate(ctx, migrations))
	require.NoError(t, p.Migrate(ctx, migrations), "second run skips applied files")

	var row noteRow
	require.NoError(t, p.Database.From("notes").Select("*").Eq("id", "seed").Single(ctx, &row))
	assert.Equal(t, "ana;ben", row.Owner)

	count, err := p.DB.NewSelect().
		Table("sqlite_master").
		Where("type = 'index' AND name = ?", "notes_owner_idx").
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rows, err := p.DB.NewSelect().Table("notes").Where("id = ?", "seed").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
}
