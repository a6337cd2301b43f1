package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err, "Failed to create test database")
	require.NoError(t, s.Migrate(context.Background()), "Failed to run migrations")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	counts, err := s.TableCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, len(store.Tables))
	for _, c := range counts {
		assert.Zero(t, c.Rows, c.Table)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "harmony.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Close())
	assert.FileExists(t, path)
}

func TestUpsertComposerFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.UpsertComposer(ctx, store.Composer{FullName: "Bach, Johann Sebastian", BirthYear: intPtr(1685), DeathYear: intPtr(1750)}))
	require.NoError(t, s.UpsertComposer(ctx, store.Composer{FullName: "Bach, Johann Sebastian", BirthYear: intPtr(1900)}))

	var row composerRow
	require.NoError(t, s.db.Where("full_name = ?", "Bach, Johann Sebastian").First(&row).Error)
	require.Equal(t, 1685, *row.BirthYear)
	require.Equal(t, 1750, *row.DeathYear)
	require.False(t, row.Processed)

	saved, err := s.IsComposerSaved(ctx, "Bach, Johann Sebastian")
	require.NoError(t, err)
	require.True(t, saved)

	saved, err = s.IsComposerSaved(ctx, "Nobody")
	require.NoError(t, err)
	require.False(t, saved)
}

func TestUpsertDimension(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	id, err := s.UpsertDimension(ctx, store.DimensionKeys, nil)
	require.NoError(t, err)
	require.Nil(t, id)

	first, err := s.UpsertDimension(ctx, store.DimensionKeys, strPtr("C major"))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.UpsertDimension(ctx, store.DimensionKeys, strPtr("C major"))
	require.NoError(t, err)
	require.Equal(t, *first, *second)

	other, err := s.UpsertDimension(ctx, store.DimensionKeys, strPtr("D minor"))
	require.NoError(t, err)
	require.NotEqual(t, *first, *other)

	var n int64
	require.NoError(t, s.db.Table("keys").Where("name = ?", "C major").Count(&n).Error)
	require.EqualValues(t, 1, n)

	_, err = s.UpsertDimension(ctx, store.Dimension("composers; DROP TABLE keys"), strPtr("x"))
	require.Error(t, err)
}

func TestInsertComposition(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.UpsertComposer(ctx, store.Composer{FullName: "Bach"}))
	keyID, err := s.UpsertDimension(ctx, store.DimensionKeys, strPtr("C major"))
	require.NoError(t, err)
	styleID, err := s.UpsertDimension(ctx, store.DimensionStyles, strPtr("Baroque"))
	require.NoError(t, err)

	comp := store.Composition{
		FullName:     "Fugue in C",
		WorkTitle:    "Fugue",
		ComposerName: "Bach",
		KeyID:        keyID,
		StyleID:      styleID,
	}
	inserted, err := s.InsertComposition(ctx, comp)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.InsertComposition(ctx, comp)
	require.NoError(t, err)
	require.False(t, inserted, "duplicate names are ignored")

	saved, err := s.IsCompositionSaved(ctx, "Fugue in C")
	require.NoError(t, err)
	require.True(t, saved)

	rows, err := s.ListCompositions(ctx)
	require.NoError(t, err)
	require.Equal(t, []store.CompositionRow{{
		FullName:  "Fugue in C",
		WorkTitle: "Fugue",
		Composer:  "Bach",
		Key:       "C major",
		Style:     "Baroque",
	}}, rows)
}

func TestInsertCompositionUnknownComposerIsNoop(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	inserted, err := s.InsertComposition(ctx, store.Composition{FullName: "Orphan", ComposerName: "Missing"})
	require.NoError(t, err)
	require.False(t, inserted)

	saved, err := s.IsCompositionSaved(ctx, "Orphan")
	require.NoError(t, err)
	require.False(t, saved)
}

func TestMarkComposerProcessed(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.UpsertComposer(ctx, store.Composer{FullName: "Brahms"}))
	processed, err := s.IsComposerProcessed(ctx, "Brahms")
	require.NoError(t, err)
	require.False(t, processed)

	require.NoError(t, s.MarkComposerProcessed(ctx, "Brahms"))
	require.NoError(t, s.MarkComposerProcessed(ctx, "Brahms"))
	processed, err = s.IsComposerProcessed(ctx, "Brahms")
	require.NoError(t, err)
	require.True(t, processed)

	require.NoError(t, s.MarkComposerProcessed(ctx, "Ghost"), "unknown composers are ignored")
	processed, err = s.IsComposerProcessed(ctx, "Ghost")
	require.NoError(t, err)
	require.False(t, processed)
}

func TestListComposerNamesAndCounts(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	for _, name := range []string{"Schubert", "Bach", "Mozart"} {
		require.NoError(t, s.UpsertComposer(ctx, store.Composer{FullName: name}))
	}
	_, err := s.UpsertDimension(ctx, store.DimensionLanguages, strPtr("German"))
	require.NoError(t, err)

	names, err := s.ListComposerNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Bach", "Mozart", "Schubert"}, names)

	counts, err := s.TableCounts(ctx)
	require.NoError(t, err)
	byTable := map[string]int64{}
	for _, c := range counts {
		byTable[c.Table] = c.Rows
	}
	require.EqualValues(t, 3, byTable["composers"])
	require.EqualValues(t, 1, byTable["languages"])
	require.EqualValues(t, 0, byTable["compositions"])
}
