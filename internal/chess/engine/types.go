package engine

import (
	"fmt"
	"strings"
	"time"
)

// PlayerState is the lifecycle state of a session.
type PlayerState int

const (
	NotStarted PlayerState = iota
	Starting
	Idle
	Observing
	Thinking
	FinishingGame
	Disconnected
)

func (s PlayerState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Idle:
		return "idle"
	case Observing:
		return "observing"
	case Thinking:
		return "thinking"
	case FinishingGame:
		return "finishing_game"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Side int

const (
	NoSide Side = iota
	White
	Black
)

func (s Side) Opposite() Side {
	switch s {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoSide
	}
}

func (s Side) String() string {
	switch s {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "none"
	}
}

// ResultKind is relative to the session that reports or receives the result.
type ResultKind int

const (
	NoResult ResultKind = iota
	Win
	Loss
	Draw
)

func (k ResultKind) String() string {
	switch k {
	case Win:
		return "win"
	case Loss:
		return "loss"
	case Draw:
		return "draw"
	default:
		return "no_result"
	}
}

type Reason int

const (
	Normal Reason = iota
	Resignation
	Timeout
	IllegalMove
	Adjudication
	StalledConnection
	Agreement
	Disconnection
)

func (r Reason) String() string {
	switch r {
	case Resignation:
		return "resignation"
	case Timeout:
		return "timeout"
	case IllegalMove:
		return "illegal_move"
	case Adjudication:
		return "adjudication"
	case StalledConnection:
		return "stalled_connection"
	case Agreement:
		return "agreement"
	case Disconnection:
		return "disconnection"
	default:
		return "normal"
	}
}

// GameResult describes how a game ended. Winner is absolute; Kind is seen from one player.
type GameResult struct {
	Kind        ResultKind
	Winner      Side
	Reason      Reason
	Description string
}

func (r GameResult) IsNone() bool     { return r.Kind == NoResult && r.Winner == NoSide }
func (r GameResult) IsDraw() bool     { return r.Kind == Draw }
func (r GameResult) IsDecisive() bool { return r.Winner != NoSide }

// For returns the same result seen from side.
func (r GameResult) For(side Side) GameResult {
	switch {
	case r.Winner == NoSide:
	case r.Winner == side:
		r.Kind = Win
	default:
		r.Kind = Loss
	}
	return r
}

// Token renders the PGN style result token.
func (r GameResult) Token() string {
	switch {
	case r.Winner == White:
		return "1-0"
	case r.Winner == Black:
		return "0-1"
	case r.Kind == Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func (r GameResult) String() string {
	if r.Description == "" {
		return r.Token()
	}
	return fmt.Sprintf("%s {%s}", r.Token(), r.Description)
}

func DecisiveResult(winner Side, reason Reason, desc string) GameResult {
	return GameResult{Kind: Win, Winner: winner, Reason: reason, Description: desc}
}

func DrawResult(reason Reason, desc string) GameResult {
	return GameResult{Kind: Draw, Reason: reason, Description: desc}
}

// MoveEvaluation is the most recent search report from an engine.
type MoveEvaluation struct {
	Depth    int
	SelDepth int
	Score    int
	Time     time.Duration
	Nodes    int64
	PV       string
}

func (e MoveEvaluation) IsEmpty() bool {
	return e.Depth == 0 && e.Score == 0 && e.Nodes == 0 && e.PV == ""
}

// MateScore is the magnitude mate scores are renumbered onto; a mate in N plies scores MateScore-N.
const MateScore = 30000

func mateScore(plies int, winning bool) int {
	if winning {
		return MateScore - plies
	}
	return -(MateScore - plies)
}

// IsMateScore reports whether score was produced by mate renumbering.
func IsMateScore(score int) bool {
	if score < 0 {
		score = -score
	}
	return score > MateScore-1000 && score <= MateScore
}

type EventKind int

const (
	EventReady EventKind = iota
	EventMoveMade
	EventEvaluation
	EventForfeit
	EventResultClaim
	EventNameChanged
	EventDebug
	EventDisconnected
	EventStateChanged
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventMoveMade:
		return "move_made"
	case EventEvaluation:
		return "evaluation"
	case EventForfeit:
		return "forfeit"
	case EventResultClaim:
		return "result_claim"
	case EventNameChanged:
		return "name_changed"
	case EventDebug:
		return "debug"
	case EventDisconnected:
		return "disconnected"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// Event is delivered to callbacks on the session's loop goroutine.
type Event struct {
	Kind      EventKind
	SessionID int
	Move      string
	Eval      MoveEvaluation
	Result    GameResult
	Name      string
	Line      string
	State     PlayerState
}

type EventCallback func(Event)

// GameSetup is handed to a session when a game begins. The board is owned by the session
// until the game ends and is advanced by the session after every move.
type GameSetup struct {
	Side         Side
	Board        Board
	TimeControl  TimeControl
	OpponentName string
}

func normalizeVariant(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "", "normal", "chess", "standard":
		return "standard"
	}
	return v
}
