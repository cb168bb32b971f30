package engine

import (
	"strconv"
	"strings"
	"time"

	"github.com/park285/Cheese-EngineHost/internal/chess/option"
)

// uci speaks the Universal Chess Interface. The position is resent with every go,
// so there is no force mode and opponent moves are only recorded.
type uci struct {
	s *Session

	variantOption string
	chess960      bool

	// pondering state: the move being pondered on, whether the opponent played it,
	// and how many bestmove replies to aborted ponder searches are still due.
	ponderMove string
	ponderHit  bool
	staleBest  int
}

func newUCI(s *Session) *uci { return &uci{s: s} }

func (u *uci) StartHandshake() {
	u.ponderMove, u.ponderHit, u.staleBest = "", false, 0
	u.s.write("uci", unbuffered)
}

func (u *uci) HandshakeTimedOut() bool { return false }

func (u *uci) RestartsByDefault() bool { return false }

func (u *uci) BeginGame() {
	s := u.s
	v := normalizeVariant(s.board.Variant())
	if v != "standard" && !s.supportsVariant(v) {
		s.diag("variant not supported by engine: " + v)
	}
	if u.chess960 {
		u.setInternal("UCI_Chess960", v == "fischerandom")
	}
	if u.variantOption != "" && v != "fischerandom" {
		wire := v
		if v == "standard" {
			wire = "chess"
		}
		u.setInternal(u.variantOption, wire)
	}
	if s.hasOption("Ponder") {
		u.setInternal("Ponder", s.pondering)
	}
	u.ponderMove, u.ponderHit = "", false
	s.write("ucinewgame", buffered)
}

// setInternal commits a value on an engine-declared option without the user facing diagnostics.
func (u *uci) setInternal(name string, value any) {
	o, ok := u.s.options.Get(name)
	if !ok || !o.IsValid(value) {
		return
	}
	_ = o.SetValue(value)
	u.SendOption(o)
}

func (u *uci) BeginThinking() {
	s := u.s
	if u.ponderMove != "" && u.ponderHit {
		u.ponderMove, u.ponderHit = "", false
		s.write("ponderhit", buffered)
		return
	}
	u.abortPonder()
	s.write(u.positionCommand(), buffered)
	s.write(u.goCommand(), buffered)
}

// startPonder searches on the opponent's expected reply. Only engines that declare the
// Ponder option get "go ponder", and never once the game is decided.
func (u *uci) startPonder(move string) {
	s := u.s
	if !s.pondering || !s.hasOption("Ponder") || s.state != Observing || !s.board.Result().IsNone() {
		return
	}
	if _, err := s.board.ToSAN(move); err != nil {
		s.diag("illegal ponder move: " + move)
		return
	}
	u.ponderMove, u.ponderHit = move, false
	pos := u.positionCommand()
	if len(s.moves) == 0 {
		pos += " moves"
	}
	s.write(pos+" "+move, buffered)
	s.write(strings.Replace(u.goCommand(), "go", "go ponder", 1), buffered)
}

// abortPonder stops a ponder search that did not hit; its bestmove is discarded.
func (u *uci) abortPonder() {
	if u.ponderMove == "" {
		return
	}
	u.ponderMove, u.ponderHit = "", false
	u.staleBest++
	u.s.write("stop", buffered)
}

func (u *uci) positionCommand() string {
	s := u.s
	var sb strings.Builder
	if s.startFEN == "" || s.startFEN == s.board.DefaultFEN() {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(s.startFEN)
	}
	if len(s.moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(s.moves, " "))
	}
	return sb.String()
}

func (u *uci) goCommand() string {
	s := u.s
	tc := s.tc
	args := []string{"go"}
	switch {
	case tc.Infinite:
		args = append(args, "infinite")
	case tc.TimePerMove > 0:
		args = append(args, "movetime", strconv.FormatInt(tc.TimePerMove.Milliseconds(), 10))
	default:
		wtime, btime := s.ownTime, s.oppTime
		if s.side == Black {
			wtime, btime = btime, wtime
		}
		inc := strconv.FormatInt(tc.Increment.Milliseconds(), 10)
		args = append(args,
			"wtime", strconv.FormatInt(wtime.Milliseconds(), 10),
			"btime", strconv.FormatInt(btime.Milliseconds(), 10))
		if tc.Increment > 0 {
			args = append(args, "winc", inc, "binc", inc)
		}
		if mtg := tc.MovesToGo(s.ownMoves); mtg > 0 {
			args = append(args, "movestogo", strconv.Itoa(mtg))
		}
	}
	if tc.MaxDepth > 0 {
		args = append(args, "depth", strconv.Itoa(tc.MaxDepth))
	}
	if tc.NodeLimit > 0 {
		args = append(args, "nodes", strconv.Itoa(tc.NodeLimit))
	}
	return strings.Join(args, " ")
}

func (u *uci) MakeMove(move string) {
	if u.ponderMove == "" {
		return
	}
	if move == u.ponderMove {
		u.ponderHit = true
		return
	}
	u.abortPonder()
}

func (u *uci) SendStop() { u.s.write("stop", buffered) }

func (u *uci) SendQuit() { u.s.write("quit", unbuffered) }

func (u *uci) SendPing() bool {
	u.s.write("isready", unbuffered)
	return true
}

func (u *uci) SendOption(o option.Option) {
	name := o.Name()
	if o.Alias() != "" {
		name = o.Alias()
	}
	if o.Kind() == option.Button {
		u.s.write("setoption name "+name, buffered)
		return
	}
	v := o.WireValue()
	if o.Kind() == option.Text && v == "" {
		v = "<empty>"
	}
	u.s.write("setoption name "+name+" value "+v, buffered)
}

func (u *uci) EndGame(_ GameResult, wasThinking bool) {
	if wasThinking {
		u.s.write("stop", buffered)
	}
	// a hit whose go never came is still a running search
	u.abortPonder()
}

func (u *uci) ParseLine(line string) {
	s := u.s
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "id":
		if len(fields) > 2 && fields[1] == "name" && s.name == "" {
			s.setName(strings.Join(fields[2:], " "))
		}
	case "option":
		u.onOption(line)
	case "uciok":
		s.handshakeDone()
	case "readyok":
		s.pong()
	case "bestmove":
		if u.staleBest > 0 {
			u.staleBest--
			return
		}
		if s.state != Thinking {
			// reply to a stop after the game ended
			return
		}
		if len(fields) < 2 || fields[1] == "(none)" || fields[1] == "0000" {
			s.forfeit(IllegalMove, "no legal move reported")
			return
		}
		s.emitMove(fields[1])
		if len(fields) >= 4 && fields[2] == "ponder" {
			u.startPonder(fields[3])
		}
	case "info":
		if s.state != Thinking && s.state != Observing {
			return
		}
		if ev, ok := parseUCIInfo(fields[1:]); ok {
			s.emitEvaluation(ev)
		}
	}
}

func (u *uci) onOption(line string) {
	s := u.s
	o, err := option.ParseUCI(line)
	if err != nil {
		s.diag(err.Error())
		return
	}
	switch o.Name() {
	case "UCI_Chess960":
		u.chess960 = true
		s.setVariants(append(s.variants, "fischerandom"))
	case "UCI_Variant":
		if combo, ok := o.(*option.ComboOption); ok {
			u.variantOption = o.Name()
			variants := combo.Choices()
			if u.chess960 {
				variants = append(variants, "fischerandom")
			}
			s.setVariants(variants)
		}
	}
	s.addOption(o)
}

// parseUCIInfo reads the tokens after "info". Lines without a score or pv are skipped.
func parseUCIInfo(tokens []string) (MoveEvaluation, bool) {
	var (
		ev       MoveEvaluation
		hasScore bool
		hasPV    bool
	)
	for i := 0; i < len(tokens); i++ {
		next := func() (int64, bool) {
			if i+1 >= len(tokens) {
				return 0, false
			}
			n, err := strconv.ParseInt(tokens[i+1], 10, 64)
			if err != nil {
				return 0, false
			}
			i++
			return n, true
		}
		switch tokens[i] {
		case "depth":
			if n, ok := next(); ok {
				ev.Depth = int(n)
			}
		case "seldepth":
			if n, ok := next(); ok {
				ev.SelDepth = int(n)
			}
		case "time":
			if n, ok := next(); ok {
				ev.Time = time.Duration(n) * time.Millisecond
			}
		case "nodes":
			if n, ok := next(); ok {
				ev.Nodes = n
			}
		case "score":
			if i+2 >= len(tokens) {
				continue
			}
			kind := tokens[i+1]
			n, err := strconv.Atoi(tokens[i+2])
			i += 2
			if err != nil {
				continue
			}
			switch kind {
			case "cp":
				ev.Score = n
				hasScore = true
			case "mate":
				ev.Score = uciMateScore(n)
				hasScore = true
			}
		case "pv":
			ev.PV = strings.Join(tokens[i+1:], " ")
			hasPV = true
			i = len(tokens)
		case "string":
			i = len(tokens)
		}
	}
	return ev, hasScore || hasPV
}

// uciMateScore converts "mate N" (moves, negative when mated) into a renumbered ply score.
func uciMateScore(n int) int {
	if n > 0 {
		return mateScore(2*n-1, true)
	}
	return mateScore(-2*n, false)
}
