package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-EngineHost/internal/chess/engineconf"
	"github.com/park285/Cheese-EngineHost/internal/chess/option"
	"github.com/park285/Cheese-EngineHost/internal/obslog"
)

var (
	ErrSessionClosed   = errors.New("engine session closed")
	ErrAlreadyLaunched = errors.New("engine already launched")
)

// Metrics receives session counters. A nil Metrics in Deps disables them.
type Metrics interface {
	SessionStarted()
	SessionEnded()
	Forfeit(reason string)
	Ping(outcome string)
	Line(direction string)
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted() {}
func (nopMetrics) SessionEnded()   {}
func (nopMetrics) Forfeit(string)  {}
func (nopMetrics) Ping(string)     {}
func (nopMetrics) Line(string)     {}

// Deps are the collaborators injected into a session.
type Deps struct {
	Launcher Launcher
	Clock    Clock
	Logger   *zap.Logger
	Counter  *Counter
	Metrics  Metrics
}

type writeMode int

const (
	buffered writeMode = iota
	unbuffered
)

type pendingOption struct {
	name  string
	value any
}

type callbackEntry struct {
	id       int
	callback EventCallback
}

// Session supervises one engine process. Every state change happens on the session's loop
// goroutine; exported methods post work to it and return immediately.
type Session struct {
	id       int
	loop     *loop
	clock    Clock
	launcher Launcher
	log      *zap.Logger
	metrics  Metrics
	proto    Protocol

	ch       Channel
	chGen    int
	launched bool
	quitting bool

	state       PlayerState
	pingState   PlayerState
	pinging     bool
	writeBuffer []string

	options        option.Set
	pendingOptions []pendingOption

	timers        []*sessionTimer
	pingTimer     *sessionTimer
	idleTimer     *sessionTimer
	quitTimer     *sessionTimer
	protocolTimer *sessionTimer

	name         string
	variants     []string
	whiteEvalPov bool
	pondering    bool
	validate     bool
	restartMode  engineconf.RestartMode
	timeoutScale float64

	// per game
	side          Side
	opponent      string
	board         Board
	tc            TimeControl
	startFEN      string
	moves         []string
	ownMoves      int
	ownTime       time.Duration
	oppTime       time.Duration
	forfeited     bool
	lastEval      MoveEvaluation
	idleArmed     bool
	stopRequested bool

	snapMu sync.RWMutex
	snap   snapshot

	cbMu      sync.RWMutex
	callbacks []callbackEntry
	nextCbID  int
}

type snapshot struct {
	name     string
	state    PlayerState
	variants []string
	options  []option.Option
	restarts bool
}

// NewSession creates a session speaking protocol. The session is idle until Launch and Start.
func NewSession(protocol string, deps Deps) (*Session, error) {
	if deps.Launcher == nil {
		deps.Launcher = ExecLauncher{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Counter == nil {
		deps.Counter = &Counter{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}

	id := deps.Counter.Next()
	log := obslog.ForEngine(id, "")
	if deps.Logger != nil {
		log = deps.Logger.With(zap.Int("engine_id", id))
	}

	s := &Session{
		id:           id,
		clock:        deps.Clock,
		launcher:     deps.Launcher,
		metrics:      deps.Metrics,
		variants:     []string{engineconf.DefaultVariant},
		validate:     true,
		timeoutScale: engineconf.DefaultTimeoutScale,
	}
	s.log = log.With(zap.String("protocol", strings.ToLower(protocol)))

	proto, err := NewProtocol(protocol, s)
	if err != nil {
		return nil, err
	}
	s.proto = proto

	s.pingTimer = s.newTimer("ping", DefaultPingTimeout, s.onPingTimeout)
	s.idleTimer = s.newTimer("idle", DefaultIdleTimeout, s.onIdleTimeout)
	s.quitTimer = s.newTimer("quit", DefaultQuitTimeout, s.onQuitTimeout)
	s.protocolTimer = s.newTimer("protocol_start", DefaultProtocolStartTimeout, s.onProtocolStartTimeout)

	s.refreshSnapshot()
	s.loop = newLoop()
	return s, nil
}

// Create builds, configures, launches and starts a session for cfg.
func Create(ctx context.Context, cfg engineconf.Configuration, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s, err := NewSession(cfg.Protocol, deps)
	if err != nil {
		return nil, err
	}
	s.ApplyConfiguration(cfg)
	if err := s.Launch(ctx, SpecFor(cfg)); err != nil {
		s.Close()
		return nil, err
	}
	s.Start()
	return s, nil
}

func (s *Session) ID() int { return s.id }

func (s *Session) Name() string {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap.name
}

func (s *Session) State() PlayerState {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap.state
}

func (s *Session) SupportedVariants() []string {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return append([]string(nil), s.snap.variants...)
}

// Options returns copies of the engine's options.
func (s *Session) Options() []option.Option {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	out := make([]option.Option, len(s.snap.options))
	for i, o := range s.snap.options {
		out[i] = o.Clone()
	}
	return out
}

func (s *Session) RestartsBetweenGames() bool {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap.restarts
}

// OnEvent registers cb and returns an id for RemoveEventCallback. Callbacks run on the
// session loop and must not block; they may call back into the session.
func (s *Session) OnEvent(cb EventCallback) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.nextCbID++
	s.callbacks = append(s.callbacks, callbackEntry{id: s.nextCbID, callback: cb})
	return s.nextCbID
}

func (s *Session) RemoveEventCallback(id int) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	for i, e := range s.callbacks {
		if e.id == id {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			return
		}
	}
}

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} { return s.loop.done }

// Close kills the engine and waits for the loop to exit. It must not be called from an event callback.
func (s *Session) Close() {
	s.loop.post(s.kill)
	s.loop.stop()
	<-s.loop.done
}

func (s *Session) post(f func()) { s.loop.post(f) }

// Launch starts the engine process. Launch failures are returned here and never reported as events.
func (s *Session) Launch(ctx context.Context, spec LaunchSpec) error {
	errc := make(chan error, 1)
	if !s.loop.post(func() { errc <- s.launch(ctx, spec) }) {
		return ErrSessionClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		// queued behind the launch, so a process that still starts is killed
		s.loop.post(func() {
			if s.launched {
				s.kill()
			}
		})
		return ctx.Err()
	}
}

func (s *Session) launch(ctx context.Context, spec LaunchSpec) error {
	if s.launched || s.state != NotStarted {
		return ErrAlreadyLaunched
	}
	s.chGen++
	gen := s.chGen
	ch, err := s.launcher.Launch(ctx, spec, ChannelHandler{
		OnLine:   func(line string) { s.post(func() { s.onLine(gen, line) }) },
		OnClosed: func(err error) { s.post(func() { s.onChannelClosed(gen, err) }) },
	})
	if err != nil {
		s.log.Error("engine_launch_failed", zap.String("command", spec.Command), zap.Error(err))
		return fmt.Errorf("launch %s: %w", spec.Command, err)
	}
	s.ch = ch
	s.launched = true
	s.metrics.SessionStarted()
	s.log.Info("engine_launched", zap.String("command", spec.Command), zap.Strings("args", spec.Args))
	return nil
}

func (s *Session) ApplyConfiguration(cfg engineconf.Configuration) {
	s.post(func() { s.applyConfiguration(cfg) })
}

func (s *Session) Start()                    { s.post(s.start) }
func (s *Session) NewGame(g GameSetup)       { s.post(func() { s.newGame(g) }) }
func (s *Session) Go()                       { s.post(s.startThinking) }
func (s *Session) MakeMove(move string)      { s.post(func() { s.makeMove(move) }) }
func (s *Session) Stop()                     { s.post(func() { s.stopThinking() }) }
func (s *Session) EndGame(result GameResult) { s.post(func() { s.endGame(result) }) }
func (s *Session) Ping()                     { s.post(func() { s.ping() }) }
func (s *Session) Quit()                     { s.post(s.quit) }
func (s *Session) Kill()                     { s.post(s.kill) }

// UpdateClocks sets the time left for the engine and its opponent before the next Go.
func (s *Session) UpdateClocks(own, opp time.Duration) {
	s.post(func() { s.ownTime, s.oppTime = own, opp })
}

func (s *Session) SetOption(name string, value any) {
	s.post(func() { s.setOption(name, value) })
}

func (s *Session) applyConfiguration(cfg engineconf.Configuration) {
	if cfg.Name != "" {
		s.setName(cfg.Name)
	}
	for _, line := range cfg.InitStrings {
		s.write(line, buffered)
	}
	for _, o := range cfg.Options {
		s.setOption(o.Name, o.Value)
	}
	if len(cfg.Variants) > 0 {
		s.setVariants(cfg.SupportedVariants())
	}
	s.whiteEvalPov = cfg.WhiteEvalPov
	s.pondering = cfg.Pondering
	s.validate = cfg.ClaimsValidated()
	s.restartMode = cfg.RestartMode
	s.timeoutScale = cfg.EffectiveTimeoutScale()
	for _, t := range s.timers {
		t.scale(s.timeoutScale)
	}
	s.refreshSnapshot()
}

func (s *Session) start() {
	if s.state != NotStarted {
		return
	}
	if s.ch == nil {
		s.diag("start requested before launch")
		return
	}
	s.pinging = false
	s.setState(Starting)
	s.proto.StartHandshake()
	s.flushWriteBuffer()
	s.protocolTimer.start()
}

// handshakeDone is called by the adapter once negotiation is over.
func (s *Session) handshakeDone() {
	if s.state != Starting {
		return
	}
	s.protocolTimer.stop()
	s.setState(Idle)
	pending := s.pendingOptions
	s.pendingOptions = nil
	for _, p := range pending {
		s.setOption(p.name, p.value)
	}
	s.refreshSnapshot()
	s.log.Info("engine_ready", zap.String("name", s.name))
	if !s.ping() {
		s.emit(Event{Kind: EventReady})
	}
}

func (s *Session) newGame(g GameSetup) {
	if s.state != Idle {
		s.diag(fmt.Sprintf("new game requested in state %s", s.state))
		return
	}
	if g.Board == nil {
		s.diag("new game without a board")
		return
	}
	s.side = g.Side
	s.opponent = g.OpponentName
	s.board = g.Board
	s.tc = g.TimeControl
	s.startFEN = g.Board.FEN()
	s.moves = nil
	s.ownMoves = 0
	s.ownTime = g.TimeControl.TimePerTC
	s.oppTime = g.TimeControl.TimePerTC
	s.forfeited = false
	s.lastEval = MoveEvaluation{}
	s.setState(Observing)
	s.proto.BeginGame()
	if !s.pinging && !s.ping() {
		s.emit(Event{Kind: EventReady})
	}
}

func (s *Session) startThinking() {
	if s.state != Observing {
		s.diag(fmt.Sprintf("go requested in state %s", s.state))
		return
	}
	s.lastEval = MoveEvaluation{}
	s.idleArmed = !s.tc.Infinite
	s.stopRequested = false
	s.setState(Thinking)
	s.proto.BeginThinking()
	s.armIdle()
}

// armIdle (re)starts the idle timer for the current move. The timer only runs while thinking
// and not pinging. A finite time control arms it at go with the move allowance added; an
// infinite search stays unguarded until stop is sent, after which every time control gets
// the bare idle interval.
func (s *Session) armIdle() {
	if s.state != Thinking || s.pinging || !s.idleArmed {
		return
	}
	var allowance time.Duration
	if !s.stopRequested {
		allowance = s.tc.MoveAllowance(s.ownTime)
	}
	s.idleTimer.startWith(s.idleTimer.interval + allowance)
}

func (s *Session) makeMove(move string) {
	if s.state != Observing {
		s.diag(fmt.Sprintf("opponent move %s in state %s", move, s.state))
		return
	}
	if s.board == nil {
		return
	}
	s.proto.MakeMove(move)
	if err := s.board.MakeMove(move); err != nil {
		s.diag(fmt.Sprintf("board rejected opponent move %s: %v", move, err))
		return
	}
	s.moves = append(s.moves, move)
}

// stopThinking asks a thinking engine to move now and reports whether stop was sent.
func (s *Session) stopThinking() bool {
	if s.state != Thinking {
		return false
	}
	if s.pinging {
		s.writeBuffer = nil
		return false
	}
	s.idleArmed = true
	s.stopRequested = true
	s.armIdle()
	s.proto.SendStop()
	return true
}

func (s *Session) endGame(result GameResult) {
	if s.state != Observing && s.state != Thinking {
		return
	}
	wasThinking := s.state == Thinking
	s.setState(FinishingGame)
	s.proto.EndGame(result, wasThinking)
	s.log.Info("engine_game_ended", zap.String("result", result.String()), zap.Int("moves", len(s.moves)))
	if s.restartsBetweenGames() {
		s.quit()
		return
	}
	if s.pinging {
		// the outstanding ping re-pings when it sees the new state
		return
	}
	if !s.ping() {
		s.setState(Idle)
		s.emit(Event{Kind: EventReady})
	}
}

func (s *Session) restartsBetweenGames() bool {
	switch s.restartMode {
	case engineconf.RestartAlways:
		return true
	case engineconf.RestartNever:
		return false
	default:
		return s.proto != nil && s.proto.RestartsByDefault()
	}
}

// ping sends a liveness check and reports whether one went out.
func (s *Session) ping() bool {
	if s.pinging || s.state == NotStarted || s.state == Disconnected {
		return false
	}
	if !s.proto.SendPing() {
		return false
	}
	s.pingState = s.state
	s.pinging = true
	s.idleTimer.stop()
	s.pingTimer.start()
	s.metrics.Ping("sent")
	return true
}

func (s *Session) pong() {
	if !s.pinging {
		return
	}
	s.pingTimer.stop()
	s.pinging = false
	s.metrics.Ping("pong")
	s.flushWriteBuffer()

	finishing := s.state == FinishingGame
	wasFinishing := s.pingState == FinishingGame
	switch {
	case finishing && wasFinishing:
		s.setState(Idle)
	case finishing != wasFinishing:
		// state moved across a game boundary while the ping was out
		s.ping()
		return
	}
	s.armIdle()
	s.emit(Event{Kind: EventReady})
}

func (s *Session) onPingTimeout() {
	if !s.pinging {
		return
	}
	s.metrics.Ping("timeout")
	s.log.Warn("engine_ping_timeout", zap.Duration("timeout", s.pingTimer.interval))
	s.writeBuffer = nil
	s.stall("no response to ping")
}

func (s *Session) onIdleTimeout() {
	if s.state != Thinking || s.pinging {
		return
	}
	s.log.Warn("engine_idle_timeout")
	s.writeBuffer = nil
	s.stall("engine stopped responding")
}

func (s *Session) onProtocolStartTimeout() {
	if s.state != Starting {
		return
	}
	if s.proto.HandshakeTimedOut() {
		s.log.Info("engine_handshake_fallback")
		return
	}
	s.log.Warn("engine_handshake_timeout")
	s.writeBuffer = nil
	s.stall("protocol handshake timed out")
}

func (s *Session) onQuitTimeout() {
	s.log.Warn("engine_quit_timeout")
	s.kill()
}

// stall handles an engine that can no longer be trusted to answer.
func (s *Session) stall(desc string) {
	s.forfeit(StalledConnection, desc)
	s.kill()
}

func (s *Session) forfeit(reason Reason, desc string) {
	if s.forfeited {
		return
	}
	s.forfeited = true
	res := GameResult{Kind: Loss, Winner: s.side.Opposite(), Reason: reason, Description: desc}
	s.metrics.Forfeit(reason.String())
	s.log.Warn("engine_forfeit", zap.String("reason", reason.String()), zap.String("description", desc))
	s.emit(Event{Kind: EventForfeit, Result: res})
}

func (s *Session) claimResult(res GameResult) {
	s.log.Info("engine_result_claim", zap.String("result", res.String()))
	s.emit(Event{Kind: EventResultClaim, Result: res})
}

func (s *Session) quit() {
	if s.state == Disconnected {
		return
	}
	if s.ch == nil {
		s.kill()
		return
	}
	s.quitting = true
	s.pingTimer.stop()
	s.idleTimer.stop()
	s.pinging = false
	s.proto.SendQuit()
	s.quitTimer.start()
}

func (s *Session) kill() {
	if s.state == Disconnected {
		return
	}
	s.pinging = false
	for _, t := range s.timers {
		t.stop()
	}
	s.writeBuffer = nil
	s.pendingOptions = nil
	if s.ch != nil {
		// ignore the close notification this kill is about to cause
		s.chGen++
		if err := s.ch.Kill(); err != nil {
			s.log.Warn("engine_kill_failed", zap.Error(err))
		}
		s.ch = nil
		s.metrics.SessionEnded()
	}
	s.setState(Disconnected)
	s.emit(Event{Kind: EventDisconnected})
	s.loop.stop()
}

func (s *Session) onChannelClosed(gen int, err error) {
	if gen != s.chGen || s.state == Disconnected {
		return
	}
	if s.quitting {
		s.log.Info("engine_exited")
		s.kill()
		return
	}
	s.log.Warn("engine_terminated", zap.Error(err))
	s.writeBuffer = nil
	s.stall("engine terminated unexpectedly")
}

func (s *Session) onLine(gen int, line string) {
	if gen != s.chGen || s.state == Disconnected {
		return
	}
	s.metrics.Line("in")
	s.log.Debug("engine_line_in", zap.String("line", line))
	s.emit(Event{Kind: EventDebug, Line: "<" + line})
	s.armIdle()
	s.proto.ParseLine(line)
}

func (s *Session) write(line string, mode writeMode) {
	if s.state == Disconnected {
		return
	}
	if mode == buffered && (s.state == NotStarted || s.pinging) {
		s.writeBuffer = append(s.writeBuffer, line)
		return
	}
	if s.ch == nil {
		s.diag("write before launch: " + line)
		return
	}
	s.send(line)
}

func (s *Session) send(line string) {
	if err := s.ch.WriteLine(line); err != nil {
		s.log.Warn("engine_write_failed", zap.String("line", line), zap.Error(err))
		return
	}
	s.metrics.Line("out")
	s.log.Debug("engine_line_out", zap.String("line", line))
	s.emit(Event{Kind: EventDebug, Line: ">" + line})
}

func (s *Session) flushWriteBuffer() {
	if s.pinging || s.state == NotStarted || s.ch == nil {
		return
	}
	buf := s.writeBuffer
	s.writeBuffer = nil
	for _, line := range buf {
		s.send(line)
	}
}

func (s *Session) setOption(name string, value any) {
	if s.state == NotStarted || s.state == Starting {
		for i := range s.pendingOptions {
			if strings.EqualFold(s.pendingOptions[i].name, name) {
				s.pendingOptions[i].value = value
				return
			}
		}
		s.pendingOptions = append(s.pendingOptions, pendingOption{name: name, value: value})
		return
	}
	o, err := s.options.Set(name, value)
	if err != nil {
		s.diag(err.Error())
		return
	}
	s.proto.SendOption(o)
	s.refreshSnapshot()
}

func (s *Session) addOption(o option.Option) {
	if !option.WellFormed(o) {
		s.diag(fmt.Sprintf("ignoring malformed option %q", o.Name()))
		return
	}
	s.options.Add(o)
}

func (s *Session) hasOption(name string) bool {
	_, ok := s.options.Get(name)
	return ok
}

// emitMove reports a move the engine made while thinking.
func (s *Session) emitMove(move string) {
	if s.state != Thinking {
		s.diag("unexpected move " + move)
		return
	}
	if err := s.board.MakeMove(move); err != nil {
		s.forfeit(IllegalMove, "illegal move: "+move)
		return
	}
	s.moves = append(s.moves, move)
	s.ownMoves++
	s.idleArmed = false
	s.setState(Observing)
	s.emit(Event{Kind: EventMoveMade, Move: move, Eval: s.lastEval})
}

func (s *Session) emitEvaluation(e MoveEvaluation) {
	if s.whiteEvalPov && s.side == Black {
		e.Score = -e.Score
	}
	s.lastEval = e
	s.emit(Event{Kind: EventEvaluation, Eval: e})
}

func (s *Session) setName(name string) {
	name = strings.TrimSpace(name)
	if name == "" || name == s.name {
		return
	}
	s.name = name
	s.log = s.log.With(zap.String("engine", name))
	s.refreshSnapshot()
	s.emit(Event{Kind: EventNameChanged, Name: name})
}

func (s *Session) setVariants(v []string) {
	out := make([]string, 0, len(v))
	for _, name := range v {
		if name = normalizeVariant(name); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		out = []string{engineconf.DefaultVariant}
	}
	s.variants = out
	s.refreshSnapshot()
}

func (s *Session) supportsVariant(v string) bool {
	v = normalizeVariant(v)
	for _, name := range s.variants {
		if name == v {
			return true
		}
	}
	return false
}

func (s *Session) setState(st PlayerState) {
	if s.state == st {
		return
	}
	prev := s.state
	if prev == Thinking {
		s.idleTimer.stop()
	}
	s.state = st
	s.log.Debug("engine_state", zap.Stringer("from", prev), zap.Stringer("to", st))
	s.refreshSnapshot()
	s.emit(Event{Kind: EventStateChanged, State: st})
}

func (s *Session) diag(msg string) {
	s.log.Warn("engine_diagnostic", zap.String("message", msg))
	s.emit(Event{Kind: EventDebug, Line: "!" + msg})
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	if ev.Kind == EventStateChanged || ev.Kind == EventDisconnected {
		ev.State = s.state
	}
	s.cbMu.RLock()
	cbs := make([]callbackEntry, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.cbMu.RUnlock()
	for _, e := range cbs {
		if e.callback != nil {
			e.callback(ev)
		}
	}
}

func (s *Session) refreshSnapshot() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.snap = snapshot{
		name:     s.name,
		state:    s.state,
		variants: append([]string(nil), s.variants...),
		options:  s.options.Snapshot(),
		restarts: s.restartsBetweenGames(),
	}
}
