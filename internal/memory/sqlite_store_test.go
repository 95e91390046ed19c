package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteLoadMissing(t *testing.T) {
	_, err := openTestStore(t).LoadConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteSaveAppendsOnlyNewTurns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	state, err := s.CreateConversation(ctx, "c1")
	require.NoError(t, err)
	state.AddTurn(Turn{TurnNum: 1, UserInput: "a", SanitizedInput: "a", Response: "r", ExtractedParams: map[string]any{"k": "v1"}})
	require.NoError(t, s.SaveConversation(ctx, state))

	state.AddTurn(Turn{TurnNum: 2, UserInput: "b", SanitizedInput: "b", Response: "r", ExtractedParams: map[string]any{"k": "v2"}})
	state.AwaitingSlotMove = "pain_assessment"
	state.AwaitingSlotName = "onset"
	require.NoError(t, s.SaveConversation(ctx, state))
	require.NoError(t, s.SaveConversation(ctx, state))

	got, err := s.LoadConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "b", got.Turns[1].UserInput)
	assert.Equal(t, "v2", got.Turns[1].ExtractedParams["k"])
	assert.Equal(t, "v2", got.ExtractedContext["k"])
	assert.Equal(t, "onset", got.AwaitingSlotName)
	assert.False(t, got.AwaitingResponse)
}

func TestSQLiteSlots(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveSlot(ctx, "c1", "pain", "location", "chest", "string"))
	require.NoError(t, s.SaveSlot(ctx, "c1", "pain", "severity", 8.0, "range"))
	require.NoError(t, s.SaveSlot(ctx, "c1", "pain", "severity", 7.0, "range"))
	require.NoError(t, s.SaveSlot(ctx, "c2", "pain", "location", "arm", "string"))

	v, ok, err := s.GetSlot(ctx, "c1", "pain", "severity")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7.0, v)

	_, ok, err = s.GetSlot(ctx, "c1", "pain", "onset")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.GetAllSlotsForMove(ctx, "c1", "pain")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"location": "chest", "severity": 7.0}, all)

	require.NoError(t, s.ClearSlotsForMove(ctx, "c1", "pain"))
	all, err = s.GetAllSlotsForMove(ctx, "c1", "pain")
	require.NoError(t, err)
	assert.Empty(t, all)

	all, err = s.GetAllSlotsForMove(ctx, "c2", "pain")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	state, err := s.CreateConversation(ctx, "c1")
	require.NoError(t, err)
	state.AddTurn(Turn{TurnNum: 1, UserInput: "a", SanitizedInput: "a", Response: "r"})
	require.NoError(t, s.SaveConversation(ctx, state))
	require.NoError(t, s.SaveSlot(ctx, "c1", "pain", "location", "chest", "string"))

	require.NoError(t, s.DeleteConversation(ctx, "c1"))
	_, err = s.LoadConversation(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	var turns int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&turns))
	assert.Zero(t, turns)
	all, err := s.GetAllSlotsForMove(ctx, "c1", "pain")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLiteCleanupOld(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	old, err := s.CreateConversation(ctx, "old")
	require.NoError(t, err)
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.SaveConversation(ctx, old))
	_, err = s.CreateConversation(ctx, "new")
	require.NoError(t, err)

	ids, err := s.CleanupOldConversations(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	_, err = s.LoadConversation(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LoadConversation(ctx, "new")
	assert.NoError(t, err)
}
