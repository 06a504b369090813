package profile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/jobfill/internal/sqlitedb"
	"github.com/tbxark/jobfill/types"
)

func TestPointer(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/personal/first_name", Pointer("personal.first_name"))
	assert.Equal(t, "/links/a~1b/c~0d", Pointer("links.a/b.c~d"))
}

func TestApplyWrite(t *testing.T) {
	t.Parallel()
	doc := types.ProfileNode{
		"personal": map[string]any{"first_name": "Ada", "middle_name": ""},
	}

	next, err := ApplyWrite(doc, "application.visa_status", "No")
	require.NoError(t, err)
	flat := types.Flatten(next)
	assert.Equal(t, "No", flat["application.visa_status"])
	assert.Equal(t, "Ada", flat["personal.first_name"])
	_, touched := doc["application"]
	assert.False(t, touched, "input document must not change")

	next, err = ApplyWrite(next, "personal.middle_name", "King")
	require.NoError(t, err)
	assert.Equal(t, "King", types.Flatten(next)["personal.middle_name"])

	next, err = ApplyWrite(nil, "remote", true)
	require.NoError(t, err)
	assert.Equal(t, true, next["remote"])

	_, err = ApplyWrite(types.ProfileNode{"personal": "flat"}, "personal.first_name", "Ada")
	require.Error(t, err)

	_, err = ApplyWrite(doc, " ", "x")
	require.Error(t, err)
}

func newStores(t *testing.T) map[string]interface {
	Store
	Importer
} {
	t.Helper()
	db, err := sqlitedb.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqliteStore, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return map[string]interface {
		Store
		Importer
	}{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "profiles", "db.json")),
		"sqlite": sqliteStore,
	}
}

func TestStores(t *testing.T) {
	t.Parallel()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := WithUserID(context.Background(), "ada")

			_, err := store.Load(ctx)
			require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

			require.NoError(t, store.Put(ctx, "ada", types.ProfileNode{
				"personal": map[string]any{"first_name": "Ada", "age": 36},
			}))
			doc, err := store.Load(ctx)
			require.NoError(t, err)
			v, ok := types.Flatten(doc).Lookup("personal.age")
			require.True(t, ok)
			assert.Equal(t, "36", v)

			require.NoError(t, store.Write(ctx, "application.visa_status", "No"))
			require.NoError(t, store.Write(ctx, "personal.first_name", "Augusta"))
			doc, err = store.Load(ctx)
			require.NoError(t, err)
			flat := types.Flatten(doc)
			assert.Equal(t, "No", flat["application.visa_status"])
			assert.Equal(t, "Augusta", flat["personal.first_name"])

			require.Error(t, store.Write(ctx, "personal.first_name.initial", "A"))
			doc, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "Augusta", types.Flatten(doc)["personal.first_name"], "failed write must leave the profile intact")

			_, err = store.Load(context.Background())
			require.True(t, errors.Is(err, ErrNotFound), "default user has no profile")

			require.NoError(t, store.Write(context.Background(), "contact.email", "x@example.com"))
			doc, err = store.Load(WithUserID(context.Background(), DefaultUserID))
			require.NoError(t, err)
			assert.Equal(t, "x@example.com", types.Flatten(doc)["contact.email"])
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, DefaultUserID, types.ProfileNode{"a": "1"}))
	doc, err := store.Load(ctx)
	require.NoError(t, err)
	doc["a"] = "changed"
	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", again["a"])
}
