package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicelobby/backend/internal/core"
)

func sampleState() *core.State {
	s := core.NewState()
	s.Players["alice"] = core.PlayerProfile{"theme": "dark"}
	s.MultiplayerSessions["sess-1"] = &core.Session{
		SessionID: "sess-1",
		RoomCode:  "ABCDEF",
		RoomKind:  core.RoomPrivate,
		Participants: map[string]*core.Participant{
			"alice": {PlayerID: "alice", RemainingDice: 15},
		},
	}
	s.GameLogs["log-1"] = &core.GameLogEntry{ID: "log-1", Level: "info", Message: "m", Timestamp: 1}
	return s
}

func roundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	// A fresh store loads an empty versioned state.
	fresh, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.SnapshotVersion, fresh.Version)
	assert.Empty(t, fresh.MultiplayerSessions)

	want := sampleState()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "state.json")
	require.NoError(t, err)
	defer s.Close()

	roundTrip(t, s)

	// The file is a single JSON document on disk.
	_, err = os.Stat(filepath.Join(dir, "state.json"))
	assert.NoError(t, err)
}

func TestFileStoreRejectsCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{not json"), 0o644))
	s, err := NewFileStore(dir, "state.json")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(context.Background())
	assert.Error(t, err)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	roundTrip(t, s)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0)
	defer s.Close()

	roundTrip(t, s)

	// Snapshot lives under the expected key.
	assert.True(t, mr.Exists("dice:state:snapshot"))
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	roundTrip(t, s)
}

func TestSaveQueueCoalescesBursts(t *testing.T) {
	s := NewMemoryStore()
	q := NewSaveQueue(s, 30*time.Millisecond, time.Second)

	first := sampleState()
	second := sampleState()
	second.MultiplayerSessions["sess-2"] = &core.Session{
		SessionID:    "sess-2",
		Participants: map[string]*core.Participant{},
	}
	q.Enqueue(first)
	q.Enqueue(second)

	time.Sleep(120 * time.Millisecond)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got.MultiplayerSessions, "sess-2", "last snapshot in the window wins")

	q.Close()
}

func TestSaveQueueCloseFlushesPending(t *testing.T) {
	s := NewMemoryStore()
	q := NewSaveQueue(s, time.Hour, time.Second) // debounce never fires on its own

	q.Enqueue(sampleState())
	q.Close()

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got.MultiplayerSessions, "sess-1")
}

func TestSaveQueueIgnoresEnqueueAfterClose(t *testing.T) {
	s := NewMemoryStore()
	q := NewSaveQueue(s, time.Millisecond, time.Second)
	q.Close()
	q.Enqueue(sampleState()) // must not panic or write

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.MultiplayerSessions)
}
