package match

import (
	"context"
	"time"

	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
)

// Record is the archived outcome of one game.
type Record struct {
	ID          string     `json:"id"`
	Round       int        `json:"round,omitempty"`
	White       string     `json:"white"`
	Black       string     `json:"black"`
	TimeControl string     `json:"time_control"`
	Variant     string     `json:"variant"`
	StartFEN    string     `json:"start_fen,omitempty"`
	BookPlies   int        `json:"book_plies,omitempty"`
	ECO         string     `json:"eco,omitempty"`
	Opening     string     `json:"opening,omitempty"`
	Result      string     `json:"result"`
	Reason      string     `json:"reason"`
	Termination string     `json:"termination,omitempty"`
	MovesUCI    []string   `json:"moves_uci"`
	MovesSAN    []string   `json:"moves_san"`
	Evals       []MoveEval `json:"evals,omitempty"`
	PGN         string     `json:"pgn"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     time.Time  `json:"ended_at"`
}

func (r *Record) Duration() time.Duration {
	if r == nil || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// MoveEval is the engine's last search report before it played the move at Ply (1-based).
type MoveEval struct {
	Ply   int    `json:"ply"`
	Side  string `json:"side"`
	Move  string `json:"move"`
	Score int    `json:"score"`
	Depth int    `json:"depth"`
	Nodes int64  `json:"nodes,omitempty"`
	MS    int64  `json:"ms"`
	PV    string `json:"pv,omitempty"`
}

func moveEvalFrom(ply int, side engine.Side, move string, ev engine.MoveEvaluation, spent time.Duration) MoveEval {
	return MoveEval{
		Ply:   ply,
		Side:  side.String(),
		Move:  move,
		Score: ev.Score,
		Depth: ev.Depth,
		Nodes: ev.Nodes,
		MS:    spent.Milliseconds(),
		PV:    ev.PV,
	}
}

// GameEvent is what observers of a running game see.
type GameEvent struct {
	GameID string    `json:"game_id"`
	Kind   string    `json:"kind"`
	Side   string    `json:"side,omitempty"`
	Engine string    `json:"engine,omitempty"`
	Move   string    `json:"move,omitempty"`
	SAN    string    `json:"san,omitempty"`
	Score  *int      `json:"score,omitempty"`
	Depth  int       `json:"depth,omitempty"`
	Result string    `json:"result,omitempty"`
	Detail string    `json:"detail,omitempty"`
	FEN    string    `json:"fen,omitempty"`
	At     time.Time `json:"at"`
}

const (
	EventGameStarted = "game_started"
	EventMove        = "move"
	EventEvaluation  = "evaluation"
	EventGameEnded   = "game_ended"
	EventEngineError = "engine_error"
)

// Publisher receives live events of every game.
type Publisher interface {
	Publish(GameEvent)
}

// RecordStore keeps recent games and live evaluations.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *Record) error
	AppendEvaluation(ctx context.Context, gameID string, ev MoveEval) error
}

// Archive stores finished games permanently.
type Archive interface {
	SaveGame(ctx context.Context, rec *Record) error
}

// ResultNotifier announces finished games to an external service.
type ResultNotifier interface {
	PostResult(ctx context.Context, rec *Record) error
}
