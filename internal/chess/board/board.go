// Package board tracks the position of a game on behalf of engine sessions and match runners.
package board

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
)

// StandardFEN is the standard starting position.
const StandardFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrUnsupportedVariant = errors.New("unsupported variant")
	ErrIllegalMove        = errors.New("illegal move")
)

var _ engine.Board = (*Board)(nil)

// Board is a standard chess position plus the moves that led to it.
// It is not safe for concurrent use; a session only touches it from its own loop.
type Board struct {
	variant  string
	startFEN string
	game     *nchess.Game
	moves    []string
	san      []string
}

// New sets up a board. An empty fen means the standard starting position.
func New(variant, fen string) (*Board, error) {
	v := strings.ToLower(strings.TrimSpace(variant))
	switch v {
	case "", "standard", "normal", "chess":
		v = "standard"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVariant, variant)
	}

	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		fen = StandardFEN
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return &Board{variant: v, startFEN: fen, game: nchess.NewGame(opt)}, nil
}

func (b *Board) Variant() string    { return b.variant }
func (b *Board) Height() int        { return 8 }
func (b *Board) DefaultFEN() string { return StandardFEN }
func (b *Board) StartFEN() string   { return b.startFEN }
func (b *Board) FEN() string        { return b.game.FEN() }

func (b *Board) SideToMove() engine.Side {
	if b.game.Position().Turn() == nchess.White {
		return engine.White
	}
	return engine.Black
}

// Moves returns the coordinate moves played so far.
func (b *Board) Moves() []string { return append([]string(nil), b.moves...) }

// SANMoves returns the moves played so far in standard algebraic notation.
func (b *Board) SANMoves() []string { return append([]string(nil), b.san...) }

// try plays move on a copy of the game so legality is checked without touching b.
func (b *Board) try(move string) (*nchess.Move, *nchess.Game, error) {
	mv, err := nchess.UCINotation{}.Decode(b.game.Position(), strings.ToLower(strings.TrimSpace(move)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrIllegalMove, move)
	}
	clone := b.game.Clone()
	if err := clone.Move(mv, nil); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrIllegalMove, move, err)
	}
	return mv, clone, nil
}

func (b *Board) ToSAN(move string) (string, error) {
	mv, _, err := b.try(move)
	if err != nil {
		return "", err
	}
	return nchess.AlgebraicNotation{}.Encode(b.game.Position(), mv), nil
}

func (b *Board) FromSAN(san string) (string, error) {
	pos := b.game.Position()
	mv, err := nchess.AlgebraicNotation{}.Decode(pos, strings.TrimSpace(san))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrIllegalMove, san)
	}
	return nchess.UCINotation{}.Encode(pos, mv), nil
}

func (b *Board) MakeMove(move string) error {
	if b.game.Outcome() != nchess.NoOutcome {
		return fmt.Errorf("%w: game is over", ErrIllegalMove)
	}
	mv, next, err := b.try(move)
	if err != nil {
		return err
	}
	pos := b.game.Position()
	b.moves = append(b.moves, nchess.UCINotation{}.Encode(pos, mv))
	b.san = append(b.san, nchess.AlgebraicNotation{}.Encode(pos, mv))
	b.game = next
	return nil
}

// Result reports a game ended by the rules: mate, stalemate, insufficient material
// or a repetition/fifty-move draw that either side could claim.
func (b *Board) Result() engine.GameResult {
	return resultOf(b.game)
}

// ResultAfter reports what Result would be after move without changing the board.
func (b *Board) ResultAfter(move string) (engine.GameResult, error) {
	_, next, err := b.try(move)
	if err != nil {
		return engine.GameResult{}, err
	}
	return resultOf(next), nil
}

func resultOf(g *nchess.Game) engine.GameResult {
	switch g.Outcome() {
	case nchess.WhiteWon:
		return engine.DecisiveResult(engine.White, engine.Normal, winDescription(engine.White, g.Method()))
	case nchess.BlackWon:
		return engine.DecisiveResult(engine.Black, engine.Normal, winDescription(engine.Black, g.Method()))
	case nchess.Draw:
		return engine.DrawResult(engine.Normal, drawDescription(g.Method()))
	}
	for _, m := range g.EligibleDraws() {
		switch m {
		case nchess.ThreefoldRepetition, nchess.FiftyMoveRule:
			return engine.DrawResult(engine.Normal, drawDescription(m))
		}
	}
	return engine.GameResult{}
}

func winDescription(winner engine.Side, m nchess.Method) string {
	if m == nchess.Checkmate {
		return strings.ToUpper(winner.String()[:1]) + winner.String()[1:] + " mates"
	}
	return strings.ToLower(m.String())
}

func drawDescription(m nchess.Method) string {
	switch m {
	case nchess.Stalemate:
		return "stalemate"
	case nchess.InsufficientMaterial:
		return "insufficient mating material"
	case nchess.ThreefoldRepetition:
		return "3-fold repetition"
	case nchess.FivefoldRepetition:
		return "5-fold repetition"
	case nchess.FiftyMoveRule:
		return "fifty moves rule"
	case nchess.SeventyFiveMoveRule:
		return "75 moves rule"
	default:
		return strings.ToLower(m.String())
	}
}
