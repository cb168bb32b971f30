package openingbook

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var ErrNoBook = errors.New("polyglot book path required")

// ECO lines are never longer than this.
const classifyPlies = 36

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

type Result struct {
	Move   string
	Weight uint16
}

// Book answers position lookups against a Polyglot opening book.
type Book struct {
	pb *chesslib.PolyglotBook
}

func Open(path string) (*Book, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoBook
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", path, err)
	}
	defer file.Close()

	b, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", path, err)
	}
	return b, nil
}

func Load(r io.Reader) (*Book, error) {
	pb, err := chesslib.LoadFromReader(r)
	if err != nil {
		return nil, err
	}
	return &Book{pb: pb}, nil
}

// Lookup returns the legal book moves for the position reached by playing moves from fen,
// heaviest first.
func (b *Book) Lookup(fen string, moves []string) ([]Result, error) {
	game, err := buildGameFromPosition(fen, moves)
	if err != nil {
		return nil, err
	}
	return b.lookup(game)
}

func (b *Book) lookup(game *chesslib.Game) ([]Result, error) {
	hashStr, err := chesslib.NewZobristHasher().HashPosition(game.FEN())
	if err != nil {
		return nil, fmt.Errorf("compute polyglot hash: %w", err)
	}
	entries := b.pb.FindMoves(chesslib.ZobristHashToUint64(hashStr))

	out := make([]Result, 0, len(entries))
	for _, entry := range entries {
		if entry.Weight == 0 {
			continue
		}
		move := chesslib.DecodeMove(entry.Move).ToMove()
		uciMove := move.String()
		// books carry castling as king-takes-rook; anything the position rejects is skipped
		if err := game.Clone().PushNotationMove(uciMove, chesslib.UCINotation{}, nil); err != nil {
			continue
		}
		out = append(out, Result{Move: uciMove, Weight: entry.Weight})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight == out[j].Weight {
			return out[i].Move < out[j].Move
		}
		return out[i].Weight > out[j].Weight
	})
	return out, nil
}

// RandomLine walks the book from fen for at most maxPly plies, picking each move with
// probability proportional to its weight. The line stops early when the book runs out.
func (b *Book) RandomLine(fen string, maxPly int, rnd *rand.Rand) ([]string, error) {
	game, err := buildGameFromPosition(fen, nil)
	if err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	var line []string
	for len(line) < maxPly {
		candidates, err := b.lookup(game)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			break
		}
		mv := pick(candidates, rnd)
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply move %q: %w", mv, err)
		}
		line = append(line, mv)
	}
	return line, nil
}

func pick(candidates []Result, rnd *rand.Rand) string {
	total := 0
	for _, c := range candidates {
		total += int(c.Weight)
	}
	n := rnd.IntN(total)
	for _, c := range candidates {
		n -= int(c.Weight)
		if n < 0 {
			return c.Move
		}
	}
	return candidates[len(candidates)-1].Move
}

// Classify names the deepest ECO opening that the game played from the standard start
// position passes through. Empty strings mean no prefix of the line is in the table.
func Classify(moves []string) (code, title string) {
	if len(moves) > classifyPlies {
		moves = moves[:classifyPlies]
	}
	if len(moves) == 0 {
		return "", ""
	}
	game, err := buildGameFromPosition("", moves)
	if err != nil {
		return "", ""
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	played := game.Moves()
	for n := len(played); n > 0; n-- {
		if eco := ecoBook.Find(played[:n]); eco != nil {
			return eco.Code(), eco.Title()
		}
	}
	return "", ""
}

func buildGameFromPosition(fen string, moves []string) (*chesslib.Game, error) {
	var game *chesslib.Game
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		game = chesslib.NewGame()
	} else {
		option, err := chesslib.FEN(fen)
		if err != nil {
			return nil, fmt.Errorf("parse fen %q: %w", fen, err)
		}
		game = chesslib.NewGame(option)
	}

	for _, mv := range moves {
		if err := game.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("apply move %q: %w", mv, err)
		}
	}
	return game, nil
}
