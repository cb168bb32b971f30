package board

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
)

func play(t *testing.T, b *Board, moves ...string) {
	t.Helper()
	for _, mv := range moves {
		require.NoError(t, b.MakeMove(mv), mv)
	}
}

func TestNew(t *testing.T) {
	b, err := New("normal", "")
	require.NoError(t, err)
	assert.Equal(t, "standard", b.Variant())
	assert.Equal(t, 8, b.Height())
	assert.Equal(t, StandardFEN, b.FEN())
	assert.Equal(t, engine.White, b.SideToMove())

	_, err = New("atomic", "")
	assert.True(t, errors.Is(err, ErrUnsupportedVariant))

	_, err = New("standard", "not a fen")
	assert.Error(t, err)
}

func TestMakeMove(t *testing.T) {
	b, err := New("", "")
	require.NoError(t, err)

	play(t, b, "e2e4", "c7c5", "g1f3")
	assert.Equal(t, []string{"e2e4", "c7c5", "g1f3"}, b.Moves())
	assert.Equal(t, []string{"e4", "c5", "Nf3"}, b.SANMoves())
	assert.Equal(t, engine.Black, b.SideToMove())

	err = b.MakeMove("e7e4")
	assert.True(t, errors.Is(err, ErrIllegalMove))
	assert.Len(t, b.Moves(), 3)
}

func TestSANConversion(t *testing.T) {
	b, err := New("standard", "")
	require.NoError(t, err)

	san, err := b.ToSAN("g1f3")
	require.NoError(t, err)
	assert.Equal(t, "Nf3", san)

	mv, err := b.FromSAN("e4")
	require.NoError(t, err)
	assert.Equal(t, "e2e4", mv)

	_, err = b.ToSAN("e2e5")
	assert.Error(t, err)
	_, err = b.FromSAN("Qh5")
	assert.Error(t, err)
}

func TestResult_Checkmate(t *testing.T) {
	b, err := New("standard", "")
	require.NoError(t, err)
	play(t, b, "f2f3", "e7e5", "g2g4")

	before := b.FEN()
	after, err := b.ResultAfter("d8h4")
	require.NoError(t, err)
	assert.Equal(t, engine.Black, after.Winner)
	assert.Equal(t, before, b.FEN(), "ResultAfter must not change the board")
	assert.True(t, b.Result().IsNone())

	play(t, b, "d8h4")
	res := b.Result()
	assert.Equal(t, engine.Black, res.Winner)
	assert.Equal(t, "Black mates", res.Description)
	assert.Equal(t, "0-1", res.Token())

	assert.Error(t, b.MakeMove("a2a3"))
}

func TestResult_Stalemate(t *testing.T) {
	b, err := New("standard", "7k/8/6K1/8/8/8/5Q2/8 w - - 0 1")
	require.NoError(t, err)

	res, err := b.ResultAfter("f2f7")
	require.NoError(t, err)
	assert.True(t, res.IsDraw())

	play(t, b, "f2f7")
	assert.Equal(t, "stalemate", b.Result().Description)
}

func TestPGN(t *testing.T) {
	b, err := New("standard", "")
	require.NoError(t, err)
	play(t, b, "f2f3", "e7e5", "g2g4", "d8h4")

	pgn := b.PGN(Headers{
		Date:        time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		Round:       2,
		White:       "Fruit \"2.1\"",
		Black:       "Stockfish 16",
		TimeControl: "40/60",
	}, b.Result())

	assert.Contains(t, pgn, `[Event "Engine match"]`)
	assert.Contains(t, pgn, `[Date "2024.03.09"]`)
	assert.Contains(t, pgn, `[Round "2"]`)
	assert.Contains(t, pgn, `[White "Fruit '2.1'"]`)
	assert.Contains(t, pgn, `[Result "0-1"]`)
	assert.Contains(t, pgn, `[Termination "normal"]`)
	assert.NotContains(t, pgn, "[FEN")
	assert.True(t, strings.HasSuffix(pgn, "1. f3 e5 2. g4 Qh4# {Black mates} 0-1\n"), pgn)
}

func TestPGN_BlackToMoveStart(t *testing.T) {
	fen := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	b, err := New("standard", fen)
	require.NoError(t, err)
	play(t, b, "e7e5", "g1f3")

	pgn := b.PGN(Headers{White: "A", Black: "B"}, engine.GameResult{})
	assert.Contains(t, pgn, `[SetUp "1"]`)
	assert.Contains(t, pgn, `[FEN "`+fen+`"]`)
	assert.Contains(t, pgn, `[Termination "unterminated"]`)
	assert.True(t, strings.HasSuffix(pgn, "1... e5 2. Nf3 *\n"), pgn)
}
