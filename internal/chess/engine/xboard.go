package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-EngineHost/internal/chess/option"
)

// xboard speaks the Xboard/CECP protocol version 2, falling back to version 1 defaults
// when the engine does not negotiate features.
type xboard struct {
	s *Session

	initTimer    *sessionTimer
	featuresSeen bool
	ftPing       bool
	ftSetboard   bool
	ftSAN        bool
	ftUsermove   bool
	ftTime       bool
	ftNPS        bool
	ftReuse      bool

	lastPing       int
	forceMode      bool
	heldMove       string
	drawOnNextMove bool
	gotResult      bool
}

func newXboard(s *Session) *xboard {
	x := &xboard{s: s}
	x.setLegacyDefaults()
	x.initTimer = s.newTimer("xboard_init", xboardInitGrace, x.onInitTimeout)
	return x
}

func (x *xboard) setLegacyDefaults() {
	x.ftPing = false
	x.ftSetboard = false
	x.ftSAN = false
	x.ftUsermove = false
	x.ftTime = true
	x.ftNPS = false
	x.ftReuse = true
}

func (x *xboard) StartHandshake() {
	x.s.write("xboard", unbuffered)
	x.s.write("protover 2", unbuffered)
	x.initTimer.start()
}

func (x *xboard) onInitTimeout() {
	if x.featuresSeen || x.s.state != Starting {
		return
	}
	x.s.log.Info("xboard_legacy_engine")
	x.setLegacyDefaults()
	x.s.handshakeDone()
}

// HandshakeTimedOut finishes with whatever was negotiated so far.
func (x *xboard) HandshakeTimedOut() bool {
	x.initTimer.stop()
	if !x.featuresSeen {
		x.setLegacyDefaults()
	}
	x.s.handshakeDone()
	return true
}

func (x *xboard) RestartsByDefault() bool { return !x.ftReuse }

func (x *xboard) BeginGame() {
	s := x.s
	x.drawOnNextMove = false
	x.gotResult = false
	x.heldMove = ""
	x.forceMode = false

	s.write("new", buffered)
	if v := normalizeVariant(s.board.Variant()); v != "standard" {
		if !s.supportsVariant(v) {
			s.diag("variant not supported by engine: " + v)
		}
		s.write("variant "+v, buffered)
	}
	x.setForceMode(true)

	if fen := s.startFEN; fen != "" && fen != s.board.DefaultFEN() {
		if x.ftSetboard {
			s.write("setboard "+fen, buffered)
		} else {
			x.sendEdit(fen)
		}
	}

	x.sendTimeControl(s.tc)
	s.write("post", buffered)
	if s.pondering {
		s.write("hard", buffered)
	} else {
		s.write("easy", buffered)
	}
}

func (x *xboard) sendTimeControl(tc TimeControl) {
	s := x.s
	switch {
	case tc.NodeLimit > 0 && x.ftNPS:
		s.write("st 1", buffered)
		s.write("nps "+strconv.Itoa(tc.NodeLimit), buffered)
	case tc.Infinite:
		s.write("level 0 525600 0", buffered)
	case tc.TimePerMove > 0:
		secs := int(tc.TimePerMove / time.Second)
		if secs < 1 {
			secs = 1
		}
		s.write("st "+strconv.Itoa(secs), buffered)
	default:
		s.write(fmt.Sprintf("level %d %s %s", tc.MovesPerTC, xboardBase(tc.TimePerTC), formatSeconds(tc.Increment)), buffered)
	}
	if tc.NodeLimit > 0 && !x.ftNPS {
		s.diag("engine does not support node limits")
	}
	if tc.MaxDepth > 0 {
		s.write("sd "+strconv.Itoa(tc.MaxDepth), buffered)
	}
}

// xboardBase renders a base time as minutes or minutes:seconds.
func xboardBase(d time.Duration) string {
	secs := int(d / time.Second)
	if secs%60 == 0 {
		return strconv.Itoa(secs / 60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// sendEdit sets up a position with the legacy edit sub-protocol. Edit mode cannot express
// side to move, castling rights or en passant, so only piece placement is transferred.
func (x *xboard) sendEdit(fen string) {
	s := x.s
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return
	}
	if len(fields) > 1 && fields[1] == "b" {
		s.diag("edit mode cannot set black to move")
	}
	var white, black []string
	ranks := strings.Split(fields[0], "/")
	for i, row := range ranks {
		rank := len(ranks) - i
		file := 0
		for _, c := range row {
			switch {
			case c >= '0' && c <= '9':
				file += int(c - '0')
			default:
				sq := fmt.Sprintf("%c%d", 'a'+rune(file), rank)
				if c >= 'A' && c <= 'Z' {
					white = append(white, string(c)+sq)
				} else {
					black = append(black, strings.ToUpper(string(c))+sq)
				}
				file++
			}
		}
	}
	s.write("edit", buffered)
	s.write("#", buffered)
	for _, p := range white {
		s.write(p, buffered)
	}
	s.write("c", buffered)
	for _, p := range black {
		s.write(p, buffered)
	}
	s.write(".", buffered)
}

func (x *xboard) setForceMode(enable bool) {
	if enable && !x.forceMode {
		x.s.write("force", buffered)
	}
	x.forceMode = enable
}

func (x *xboard) sendTimeLeft() {
	s := x.s
	if !x.ftTime || s.tc.Infinite || s.tc.TimePerMove > 0 {
		return
	}
	s.write("time "+strconv.FormatInt(int64(s.ownTime/(10*time.Millisecond)), 10), buffered)
	s.write("otim "+strconv.FormatInt(int64(s.oppTime/(10*time.Millisecond)), 10), buffered)
}

func (x *xboard) BeginThinking() {
	x.setForceMode(false)
	x.sendTimeLeft()
	if x.heldMove == "" {
		x.s.write("go", buffered)
		return
	}
	x.sendMoveString(x.heldMove)
	x.heldMove = ""
}

func (x *xboard) MakeMove(move string) {
	wire, err := x.moveToWire(move)
	if err != nil {
		x.s.diag(fmt.Sprintf("cannot encode move %s: %v", move, err))
		return
	}
	// outside force mode the move has to wait for the next go
	if !x.forceMode {
		if x.heldMove == "" {
			x.heldMove = wire
			return
		}
		x.setForceMode(true)
		x.sendMoveString(x.heldMove)
		x.heldMove = ""
	}
	x.sendMoveString(wire)
}

func (x *xboard) sendMoveString(wire string) {
	if x.ftUsermove {
		x.s.write("usermove "+wire, buffered)
		return
	}
	x.s.write(wire, buffered)
}

func (x *xboard) moveToWire(move string) (string, error) {
	b := x.s.board
	out := move
	if x.ftSAN {
		san, err := b.ToSAN(move)
		if err != nil {
			return "", err
		}
		out = san
	}
	if b.Height() == 10 {
		out = shiftRanks(out, -1)
	}
	return out, nil
}

func (x *xboard) moveFromWire(wire string) (string, error) {
	b := x.s.board
	if b.Height() == 10 {
		wire = shiftRanks(wire, 1)
	}
	if x.ftSAN {
		return b.FromSAN(wire)
	}
	return wire, nil
}

func (x *xboard) SendStop() { x.s.write("?", buffered) }

func (x *xboard) SendQuit() { x.s.write("quit", unbuffered) }

func (x *xboard) SendPing() bool {
	if !x.ftPing {
		return false
	}
	x.lastPing++
	x.s.write("ping "+strconv.Itoa(x.lastPing), unbuffered)
	return true
}

func (x *xboard) SendOption(o option.Option) {
	s := x.s
	alias := o.Alias()
	switch {
	case alias == "memory":
		s.write("memory "+o.WireValue(), buffered)
	case alias == "cores":
		s.write("cores "+o.WireValue(), buffered)
	case strings.HasPrefix(alias, "egtpath "):
		s.write(alias+" "+o.WireValue(), buffered)
	case o.Kind() == option.Button:
		s.write("option "+o.Name(), buffered)
	case o.Kind() == option.Check:
		v := "0"
		if o.Value() == true {
			v = "1"
		}
		s.write("option "+o.Name()+"="+v, buffered)
	default:
		s.write("option "+o.Name()+"="+o.WireValue(), buffered)
	}
}

func (x *xboard) EndGame(result GameResult, wasThinking bool) {
	s := x.s
	if wasThinking {
		s.write("?", buffered)
	}
	if result.Description != "" {
		s.write(fmt.Sprintf("result %s {%s}", result.Token(), result.Description), buffered)
	} else {
		s.write("result "+result.Token(), buffered)
	}
	x.forceMode = false
	x.setForceMode(true)
	x.heldMove = ""
	x.drawOnNextMove = false
}

func (x *xboard) ParseLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	cmd, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)

	switch {
	case cmd == "feature":
		x.parseFeatures(args)
	case cmd == "pong":
		if n, err := strconv.Atoi(args); err == nil && n == x.lastPing {
			x.s.pong()
		}
	case cmd == "move":
		x.onMove(args)
	case cmd == "My" && strings.HasPrefix(args, "move is:"):
		x.onMove(strings.TrimSpace(strings.TrimPrefix(args, "move is:")))
	case cmd == "resign":
		x.onResign()
	case cmd == "1-0" || cmd == "0-1" || cmd == "1/2-1/2" || cmd == "*":
		x.onResult(cmd, braceText(args))
	case strings.HasPrefix(line, "Illegal move"):
		x.onIllegalMove(line)
	case strings.HasPrefix(line, "Error"):
		x.onError(line)
	case strings.HasPrefix(cmd, "tell") || cmd == "#":
		// engine chatter and comments
	default:
		if ev, ok := parseXboardThinking(line); ok {
			x.onThinking(ev)
		}
	}
}

func braceText(s string) string {
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j <= i {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[i+1 : j])
}

func (x *xboard) onMove(wire string) {
	s := x.s
	if s.state != Thinking {
		if s.state == Observing || s.state == FinishingGame {
			// a move after stop or game end is stale
			return
		}
		s.diag("move in state " + s.state.String())
		return
	}
	move, err := x.moveFromWire(strings.TrimSpace(wire))
	if err != nil {
		s.forfeit(IllegalMove, "illegal move: "+wire)
		return
	}

	var claim GameResult
	deferred := x.drawOnNextMove
	if deferred {
		x.drawOnNextMove = false
		after, err := s.board.ResultAfter(move)
		if err == nil && !after.IsDecisive() {
			claim = DrawResult(Agreement, "draw claimed with move")
		}
	}
	s.emitMove(move)
	if !claim.IsNone() {
		s.claimResult(claim)
	}
}

func (x *xboard) onResign() {
	s := x.s
	if (s.state != Thinking && s.state != Observing) || x.gotResult {
		return
	}
	x.gotResult = true
	s.claimResult(GameResult{Kind: Loss, Winner: s.side.Opposite(), Reason: Resignation, Description: s.side.String() + " resigns"})
}

func (x *xboard) onResult(token, desc string) {
	s := x.s
	if (s.state != Thinking && s.state != Observing) || x.gotResult {
		return
	}

	switch token {
	case "1/2-1/2":
		if s.state == Thinking && s.validate {
			// the draw only stands once the move that comes with it is played
			x.drawOnNextMove = true
			return
		}
		x.gotResult = true
		if s.validate {
			// outside its own move an engine may only claim a draw the board already shows
			actual := s.board.Result()
			if !actual.IsDraw() {
				s.forfeit(Adjudication, "false draw claim: "+desc)
				return
			}
			s.claimResult(actual)
			return
		}
		s.claimResult(DrawResult(Agreement, desc))
	case "*":
		x.gotResult = true
		s.claimResult(GameResult{Kind: NoResult, Description: desc})
	default:
		winner := White
		if token == "0-1" {
			winner = Black
		}
		x.gotResult = true
		if winner != s.side {
			s.claimResult(GameResult{Kind: Loss, Winner: winner, Reason: Resignation, Description: desc})
			return
		}
		if s.validate {
			actual := s.board.Result()
			if actual.Winner != winner {
				s.forfeit(Adjudication, "false win claim: "+desc)
				return
			}
		}
		s.claimResult(GameResult{Kind: Win, Winner: winner, Reason: Normal, Description: desc})
	}
}

func (x *xboard) onIllegalMove(line string) {
	s := x.s
	if s.state != Thinking && s.state != Observing {
		return
	}
	x.gotResult = true
	s.forfeit(IllegalMove, line)
}

func (x *xboard) onError(line string) {
	s := x.s
	if s.state == FinishingGame && strings.Contains(line, "result") {
		// some engines reject the result command; the game is over either way
		return
	}
	s.diag(line)
}

func (x *xboard) onThinking(ev MoveEvaluation) {
	s := x.s
	if s.state != Thinking && s.state != Observing {
		return
	}
	s.emitEvaluation(ev)
}

// parseXboardThinking reads "ply score time nodes pv...". Time is in centiseconds.
func parseXboardThinking(line string) (MoveEvaluation, bool) {
	f := strings.Fields(line)
	if len(f) < 4 {
		return MoveEvaluation{}, false
	}
	depth, err := strconv.Atoi(strings.TrimRight(f[0], ".&"))
	if err != nil || depth < 0 {
		return MoveEvaluation{}, false
	}
	score, err := strconv.Atoi(f[1])
	if err != nil {
		return MoveEvaluation{}, false
	}
	cs, err := strconv.ParseInt(f[2], 10, 64)
	if err != nil {
		return MoveEvaluation{}, false
	}
	nodes, err := strconv.ParseInt(f[3], 10, 64)
	if err != nil {
		return MoveEvaluation{}, false
	}
	return MoveEvaluation{
		Depth: depth,
		Score: renumberXboardScore(score),
		Time:  time.Duration(cs) * 10 * time.Millisecond,
		Nodes: nodes,
		PV:    strings.Join(f[4:], " "),
	}, true
}

// renumberXboardScore maps the two common xboard mate encodings onto MateScore.
func renumberXboardScore(score int) int {
	abs := score
	if abs < 0 {
		abs = -abs
	}
	var plies int
	switch {
	case abs > 9900 && abs <= 10000:
		plies = 10000 - abs
	case abs >= 100000:
		plies = abs - 100000
	default:
		return score
	}
	return mateScore(plies, score > 0)
}

func (x *xboard) parseFeatures(args string) {
	s := x.s
	x.featuresSeen = true
	x.initTimer.stop()
	done := false
	for _, kv := range splitFeatures(args) {
		if kv.key == "done" {
			done = kv.value == "1"
			s.write("accepted done", unbuffered)
			continue
		}
		if x.applyFeature(kv.key, kv.value) {
			s.write("accepted "+kv.key, unbuffered)
		} else {
			s.write("rejected "+kv.key, unbuffered)
		}
	}
	if done {
		s.log.Debug("xboard_features_done", zap.Bool("ping", x.ftPing), zap.Bool("setboard", x.ftSetboard), zap.Bool("san", x.ftSAN))
		s.handshakeDone()
	}
	// done=0 waits for done=1 or the protocol-start timeout
}

func (x *xboard) applyFeature(key, value string) bool {
	s := x.s
	on := value == "1"
	switch key {
	case "ping":
		x.ftPing = on
	case "setboard":
		x.ftSetboard = on
	case "san":
		x.ftSAN = on
	case "usermove":
		x.ftUsermove = on
	case "time":
		x.ftTime = on
	case "nps":
		x.ftNPS = on
	case "reuse":
		x.ftReuse = on
		s.refreshSnapshot()
	case "myname":
		if s.name == "" {
			s.setName(value)
		}
	case "variants":
		s.setVariants(strings.Split(value, ","))
	case "option":
		o, err := option.ParseXboard(value)
		if err != nil {
			s.diag(err.Error())
			return false
		}
		s.addOption(o)
	case "memory":
		if on {
			o := option.NewSpin("Memory", 32, 32, 1, 65536)
			o.SetAlias("memory")
			s.addOption(o)
		}
	case "smp":
		if on {
			o := option.NewSpin("Cores", 1, 1, 1, 1024)
			o.SetAlias("cores")
			s.addOption(o)
		}
	case "egt":
		for _, kind := range strings.Split(value, ",") {
			kind = strings.TrimSpace(kind)
			if kind == "" {
				continue
			}
			o := option.NewText(strings.ToUpper(kind[:1])+kind[1:]+"Path", "", "", option.EditPath)
			o.SetAlias("egtpath " + kind)
			s.addOption(o)
		}
	default:
		return false
	}
	return true
}

type feature struct {
	key   string
	value string
}

// splitFeatures splits `a=1 b="x y" c=2` into key/value pairs.
func splitFeatures(s string) []feature {
	var out []feature
	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		start := i
		for i < len(s) && s[i] != '=' && s[i] != ' ' {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			continue
		}
		key := s[start:i]
		i++
		var value string
		if i < len(s) && s[i] == '"' {
			i++
			end := strings.IndexByte(s[i:], '"')
			if end < 0 {
				value = s[i:]
				i = len(s)
			} else {
				value = s[i : i+end]
				i += end + 1
			}
		} else {
			vs := i
			for i < len(s) && s[i] != ' ' {
				i++
			}
			value = s[vs:i]
		}
		out = append(out, feature{key: key, value: value})
	}
	return out
}

// shiftRanks adds delta to every rank number in a move string.
// Boards with ten ranks are numbered 0-9 on the xboard wire.
func shiftRanks(move string, delta int) string {
	var b strings.Builder
	for i := 0; i < len(move); {
		c := move[i]
		if c < '0' || c > '9' {
			b.WriteByte(c)
			i++
			continue
		}
		j := i
		for j < len(move) && move[j] >= '0' && move[j] <= '9' {
			j++
		}
		n, _ := strconv.Atoi(move[i:j])
		b.WriteString(strconv.Itoa(n + delta))
		i = j
	}
	return b.String()
}
