package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRepository_RequiresURL(t *testing.T) {
	_, err := NewRepository("  ")
	assert.EqualError(t, err, "DATABASE_URL is required")
}

func TestRepository_NilIsNoop(t *testing.T) {
	var r *Repository
	assert.NoError(t, r.SaveGame(t.Context(), &Record{ID: "x"}))
	assert.NoError(t, r.Close())
}

func TestGameArgs(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		ID:        "g1",
		Round:     2,
		White:     "Alpha",
		Black:     "Beta",
		Result:    "1/2-1/2",
		Reason:    "adjudication",
		MovesUCI:  []string{"e2e4", "e7e5"},
		StartedAt: start,
		EndedAt:   start.Add(90 * time.Second),
	}
	args, err := gameArgs(rec)
	require.NoError(t, err)
	require.Len(t, args, 17)
	assert.Equal(t, "g1", args[0])
	assert.Equal(t, `["e2e4","e7e5"]`, args[10])
	assert.Equal(t, `[]`, args[11])
	assert.Equal(t, `[]`, args[12])
	assert.Equal(t, int64(90000), args[16])
}
