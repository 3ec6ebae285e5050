package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/config"
)

const escrowAddr = "0x42f034CD03E06087870cF0D662EA6dB389E3364f"

func entryAt(t time.Time, method, status string) Entry {
	e := NewEntry(method, escrowAddr, method, "0x9a8B2750EF7c1a5f1b83A0a2E3E5E5d0EBb8CC27",
		fmt.Sprintf("0x%064x", uuid.New().ID()))
	e.Status = status
	e.Block = 7
	e.GasUsed = 51234
	e.CreatedAt = t.UTC().Truncate(time.Microsecond)
	if status == StatusReverted {
		e.Reason = "order already completed"
	}
	return e
}

// exerciseStore checks the behavior every backend shares.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	first := entryAt(base, "createOrder", StatusSuccess)
	second := entryAt(base.Add(time.Second), "completeOrder", StatusSuccess)
	third := entryAt(base.Add(2*time.Second), "completeOrder", StatusReverted)
	for _, e := range []Entry{first, second, third} {
		require.NoError(t, store.Save(ctx, e))
	}

	got, err := store.Get(ctx, third.TxHash)
	require.NoError(t, err)
	assert.Equal(t, third.ID, got.ID)
	assert.Equal(t, StatusReverted, got.Status)
	assert.Equal(t, "order already completed", got.Reason)
	assert.Equal(t, uint64(51234), got.GasUsed)
	assert.True(t, third.CreatedAt.Equal(got.CreatedAt))

	_, err = store.Get(ctx, fmt.Sprintf("0x%064x", 0))
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, third.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	require.NoError(t, store.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "tx.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, store)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	list, err := reopened.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.json")
	require.NoError(t, os.WriteFile(path, []byte("[{"), 0o600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestFileStore_SharedPath(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.json")

	// serve opens the journal first, then two command runs write to it
	server, err := NewFileStore(path)
	require.NoError(t, err)
	runA, err := NewFileStore(path)
	require.NoError(t, err)
	runB, err := NewFileStore(path)
	require.NoError(t, err)

	first := entryAt(time.Now().Add(-time.Minute), "createOrder", StatusSuccess)
	second := entryAt(time.Now(), "completeOrder", StatusSuccess)
	require.NoError(t, runA.Save(ctx, first))
	require.NoError(t, runB.Save(ctx, second))

	list, err := server.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	got, err := server.Get(ctx, first.TxHash)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestFileStore_ArrayLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.json")
	old := entryAt(time.Now().Add(-time.Hour), "approve-token", StatusSuccess)
	blob, err := json.MarshalIndent([]Entry{old}, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	fresh := entryAt(time.Now(), "createOrder", StatusSuccess)
	require.NoError(t, store.Save(ctx, fresh))

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, fresh.ID, list[0].ID)
	assert.Equal(t, old.ID, list[1].ID)
}

func TestGet_LatestWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	e := entryAt(time.Now(), "completeOrder", StatusSuccess)
	require.NoError(t, store.Save(ctx, e))
	again := e
	again.ID = uuid.New().String()
	again.Status = StatusReverted
	require.NoError(t, store.Save(ctx, again))

	got, err := store.Get(ctx, e.TxHash)
	require.NoError(t, err)
	assert.Equal(t, again.ID, got.ID)
}

func TestNopStore(t *testing.T) {
	ctx := context.Background()
	var store Store = NopStore{}

	require.NoError(t, store.Save(ctx, entryAt(time.Now(), "createOrder", StatusSuccess)))
	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = store.Get(ctx, "0x00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{}

	for driver, want := range map[string]any{
		"":       NopStore{},
		"none":   NopStore{},
		"memory": &MemoryStore{},
		"file":   &FileStore{},
	} {
		t.Run("driver "+driver, func(t *testing.T) {
			cfg.Journal.Driver = driver
			cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.json")
			store, err := Open(ctx, cfg)
			require.NoError(t, err)
			assert.IsType(t, want, store)
		})
	}

	t.Run("unknown driver", func(t *testing.T) {
		cfg.Journal.Driver = "sqlite"
		_, err := Open(ctx, cfg)
		assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
	})

	t.Run("unreadable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "journal.json")
		require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))
		cfg.Journal.Driver = "file"
		cfg.Journal.Path = path
		_, err := Open(ctx, cfg)
		assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
	})
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set")
	}
	database, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := NewMySQLStore(context.Background(), database)
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	store, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exerciseStore(t, store)
}
