package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/Cheese-EngineHost/internal/chess/board"
	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
	"github.com/park285/Cheese-EngineHost/internal/chess/engineconf"
	"github.com/park285/Cheese-EngineHost/internal/chess/openingbook"
	"github.com/park285/Cheese-EngineHost/internal/obslog"
)

const (
	defaultTimeMargin    = 2 * time.Second
	defaultReadyTimeout  = 30 * time.Second
	defaultSettleTimeout = 10 * time.Second
	persistTimeout       = 5 * time.Second
	eventBuffer          = 256
)

var (
	ErrReadyTimeout = errors.New("engines did not become ready")
	errForfeited    = errors.New("engine forfeited the game")
	errNotSettled   = errors.New("engine did not settle after the game")
)

type RunnerConfig struct {
	Pool *Pool

	// optional sinks
	Store     RecordStore
	Archive   Archive
	Notifier  ResultNotifier
	Publisher Publisher

	// TimeMargin is how far past its clock a player may go before losing on time.
	TimeMargin time.Duration

	ReadyTimeout  time.Duration
	SettleTimeout time.Duration
}

// Runner plays games between two engine configurations and records the outcome.
type Runner struct {
	pool      *Pool
	store     RecordStore
	archive   Archive
	notifier  ResultNotifier
	publisher Publisher
	log       *zap.Logger

	margin        time.Duration
	readyTimeout  time.Duration
	settleTimeout time.Duration
}

func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		pool:          cfg.Pool,
		store:         cfg.Store,
		archive:       cfg.Archive,
		notifier:      cfg.Notifier,
		publisher:     cfg.Publisher,
		log:           obslog.L().Named("match"),
		margin:        cfg.TimeMargin,
		readyTimeout:  cfg.ReadyTimeout,
		settleTimeout: cfg.SettleTimeout,
	}
	if r.margin <= 0 {
		r.margin = defaultTimeMargin
	}
	if r.readyTimeout <= 0 {
		r.readyTimeout = defaultReadyTimeout
	}
	if r.settleTimeout <= 0 {
		r.settleTimeout = defaultSettleTimeout
	}
	return r
}

type GameOptions struct {
	Round    int
	Event    string
	Site     string
	Variant  string
	StartFEN string

	// Opening moves are played on the board before the engines take over.
	Opening []string

	// MaxPlies adjudicates a draw once this many half moves were played. Zero means no limit.
	MaxPlies int
}

type player struct {
	side      engine.Side
	cfg       engineconf.Configuration
	s         *engine.Session
	board     *board.Board
	timeLeft  time.Duration
	moves     int
	cbID      int
	forfeited bool
	gone      bool
}

func (p *player) name() string {
	if n := p.s.Name(); n != "" {
		return n
	}
	return p.cfg.Name
}

type sideEvent struct {
	side engine.Side
	ev   engine.Event
}

// game is the state of one Play call.
type game struct {
	r       *Runner
	id      string
	tc      engine.TimeControl
	opts    GameOptions
	referee *board.Board
	players [2]*player
	events  chan sideEvent
	done    chan struct{}
	evals   []MoveEval
	log     *zap.Logger
}

func (g *game) player(side engine.Side) *player {
	if side == engine.Black {
		return g.players[1]
	}
	return g.players[0]
}

// Play runs one game to completion. The returned record is nil only when the game never
// started; an aborted game is still recorded and returned along with the context error.
func (r *Runner) Play(ctx context.Context, white, black engineconf.Configuration, tc engine.TimeControl, opts GameOptions) (*Record, error) {
	if !tc.IsValid() {
		return nil, engine.ErrBadTimeControl
	}
	var boards [3]*board.Board
	for i := range boards {
		b, err := board.New(opts.Variant, opts.StartFEN)
		if err != nil {
			return nil, err
		}
		for _, mv := range opts.Opening {
			if err := b.MakeMove(mv); err != nil {
				return nil, fmt.Errorf("opening move %s: %w", mv, err)
			}
		}
		boards[i] = b
	}

	sessions, err := r.acquire(ctx, white, black)
	if err != nil {
		return nil, err
	}

	g := &game{
		r:       r,
		id:      uuid.NewString(),
		tc:      tc,
		opts:    opts,
		referee: boards[2],
		events:  make(chan sideEvent, eventBuffer),
		done:    make(chan struct{}),
	}
	g.log = r.log.With(zap.String("game_id", g.id))
	for i, cfg := range []engineconf.Configuration{white, black} {
		side := engine.White
		if i == 1 {
			side = engine.Black
		}
		g.players[i] = &player{side: side, cfg: cfg, s: sessions[i], board: boards[i], timeLeft: tc.TimePerTC}
	}
	g.subscribe()

	startedAt := time.Now()
	result, err := g.start(ctx)
	if err != nil {
		g.finish(aborted("game setup failed"))
		return nil, err
	}
	if result.IsNone() {
		result = g.run(ctx)
	}
	g.finish(result)

	rec := g.record(result, startedAt, time.Now())
	g.log.Info("match_game_end",
		zap.String("white", rec.White),
		zap.String("black", rec.Black),
		zap.String("result", result.String()),
		zap.String("reason", rec.Reason),
		zap.Int("plies", len(rec.MovesUCI)),
		zap.Duration("duration", rec.Duration()),
	)
	g.publish(GameEvent{Kind: EventGameEnded, Result: rec.Result, Detail: result.Description})
	r.persist(rec)
	return rec, ctx.Err()
}

// acquire starts or reuses both engines concurrently.
func (r *Runner) acquire(ctx context.Context, white, black engineconf.Configuration) ([2]*engine.Session, error) {
	var out [2]*engine.Session
	eg, egCtx := errgroup.WithContext(ctx)
	for i, cfg := range []engineconf.Configuration{white, black} {
		eg.Go(func() error {
			s, err := r.pool.Acquire(egCtx, cfg)
			if err != nil {
				return fmt.Errorf("acquire %s: %w", cfg.Name, err)
			}
			out[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, s := range out {
			if s != nil {
				r.pool.Release(s, nil)
			}
		}
		return out, err
	}
	return out, nil
}

func (g *game) subscribe() {
	for _, p := range g.players {
		side := p.side
		p.cbID = p.s.OnEvent(func(ev engine.Event) {
			select {
			case g.events <- sideEvent{side: side, ev: ev}:
			case <-g.done:
			}
		})
	}
}

// start begins the game on both engines and waits until both answered.
func (g *game) start(ctx context.Context) (engine.GameResult, error) {
	white, black := g.player(engine.White), g.player(engine.Black)
	for _, p := range g.players {
		opp := white
		if p == white {
			opp = black
		}
		p.s.NewGame(engine.GameSetup{
			Side:         p.side,
			Board:        p.board,
			TimeControl:  g.tc,
			OpponentName: opp.name(),
		})
	}
	g.log.Info("match_game_start",
		zap.String("white", white.name()),
		zap.String("black", black.name()),
		zap.String("time_control", g.tc.String()),
		zap.Int("round", g.opts.Round),
	)
	g.publish(GameEvent{Kind: EventGameStarted, Detail: white.name() + " vs " + black.name(), FEN: g.referee.FEN()})

	pending := map[engine.Side]bool{engine.White: true, engine.Black: true}
	t := time.NewTimer(g.r.readyTimeout)
	defer t.Stop()
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return engine.GameResult{}, ctx.Err()
		case <-t.C:
			return engine.GameResult{}, ErrReadyTimeout
		case se := <-g.events:
			if se.ev.Kind == engine.EventReady {
				delete(pending, se.side)
				continue
			}
			if res, over := g.handle(se); over {
				return res, nil
			}
		}
	}
	return g.referee.Result(), nil
}

// run alternates the engines until the game is decided.
func (g *game) run(ctx context.Context) engine.GameResult {
	for {
		p := g.player(g.referee.SideToMove())
		opp := g.player(p.side.Opposite())
		if res, over := g.playMove(ctx, p, opp); over {
			return res
		}
	}
}

func (g *game) playMove(ctx context.Context, p, opp *player) (engine.GameResult, bool) {
	p.s.UpdateClocks(p.timeLeft, opp.timeLeft)
	p.s.Go()
	started := time.Now()

	var deadline <-chan time.Time
	if limit := g.moveLimit(p); limit > 0 {
		t := time.NewTimer(limit)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return aborted("game aborted"), true
		case <-deadline:
			return timeLoss(p.side), true
		case se := <-g.events:
			if se.side == p.side && se.ev.Kind == engine.EventMoveMade {
				return g.applyMove(p, opp, se.ev, time.Since(started))
			}
			if res, over := g.handle(se); over {
				return res, true
			}
		}
	}
}

// moveLimit is how long p may think before it loses on time. Zero means unlimited.
func (g *game) moveLimit(p *player) time.Duration {
	switch {
	case g.tc.Infinite:
		return 0
	case g.tc.TimePerMove > 0:
		return g.tc.TimePerMove + g.r.margin
	default:
		return p.timeLeft + g.r.margin
	}
}

func (g *game) applyMove(p, opp *player, ev engine.Event, spent time.Duration) (engine.GameResult, bool) {
	if !g.tc.Infinite && g.tc.TimePerMove == 0 {
		p.timeLeft -= spent
		if p.timeLeft < -g.r.margin {
			return timeLoss(p.side), true
		}
		if p.timeLeft < 0 {
			p.timeLeft = 0
		}
		p.timeLeft += g.tc.Increment
	}
	p.moves++
	if g.tc.MovesPerTC > 0 && p.moves%g.tc.MovesPerTC == 0 {
		p.timeLeft += g.tc.TimePerTC
	}

	ply := len(g.referee.Moves()) + 1
	san, err := g.referee.ToSAN(ev.Move)
	if err == nil {
		err = g.referee.MakeMove(ev.Move)
	}
	if err != nil {
		g.log.Warn("match_illegal_move", zap.String("side", p.side.String()), zap.String("move", ev.Move), zap.Error(err))
		p.forfeited = true
		return engine.DecisiveResult(opp.side, engine.IllegalMove,
			fmt.Sprintf("%s makes an illegal move: %s", sideTitle(p.side), ev.Move)), true
	}

	eval := moveEvalFrom(ply, p.side, ev.Move, ev.Eval, spent)
	g.evals = append(g.evals, eval)
	g.r.appendEvaluation(g.id, eval)

	msg := GameEvent{Kind: EventMove, Side: p.side.String(), Engine: p.name(), Move: ev.Move, SAN: san, FEN: g.referee.FEN()}
	if !ev.Eval.IsEmpty() {
		msg.Score = scorePtr(ev.Eval.Score)
		msg.Depth = ev.Eval.Depth
	}
	g.publish(msg)
	g.log.Debug("match_move", zap.Int("ply", ply), zap.String("side", p.side.String()), zap.String("move", ev.Move), zap.String("san", san), zap.Duration("spent", spent))

	opp.s.MakeMove(ev.Move)

	if res := g.referee.Result(); !res.IsNone() {
		return res, true
	}
	if g.opts.MaxPlies > 0 && len(g.referee.Moves()) >= g.opts.MaxPlies {
		return engine.DrawResult(engine.Adjudication, "move limit reached"), true
	}
	return engine.GameResult{}, false
}

// handle reacts to events that are not the expected move. It reports whether they end the game.
func (g *game) handle(se sideEvent) (engine.GameResult, bool) {
	p := g.player(se.side)
	switch se.ev.Kind {
	case engine.EventForfeit:
		p.forfeited = true
		return se.ev.Result, true
	case engine.EventResultClaim:
		return g.judgeClaim(p, se.ev.Result), true
	case engine.EventDisconnected:
		p.gone = true
		return engine.DecisiveResult(se.side.Opposite(), engine.Disconnection, sideTitle(se.side)+" disconnects"), true
	case engine.EventEvaluation:
		if !se.ev.Eval.IsEmpty() {
			g.publish(GameEvent{Kind: EventEvaluation, Side: se.side.String(), Engine: p.name(), Score: scorePtr(se.ev.Eval.Score), Depth: se.ev.Eval.Depth})
		}
	case engine.EventDebug:
		g.log.Debug("match_engine_debug", zap.String("side", se.side.String()), zap.String("line", se.ev.Line))
	}
	return engine.GameResult{}, false
}

// judgeClaim decides a result claimed by p. Conceding is always accepted; any other claim
// from an engine whose claims are validated has to match the referee board.
func (g *game) judgeClaim(p *player, claim engine.GameResult) engine.GameResult {
	opp := p.side.Opposite()
	if claim.Winner == opp {
		return claim
	}
	if !p.cfg.ClaimsValidated() {
		if claim.IsNone() {
			return aborted(sideTitle(p.side) + " abandons the game")
		}
		return claim
	}

	actual := g.referee.Result()
	switch {
	case claim.IsNone():
	case claim.IsDraw() && actual.IsDraw():
		return actual
	case claim.Winner == p.side && actual.Winner == p.side:
		return actual
	}
	g.log.Warn("match_false_claim", zap.String("side", p.side.String()), zap.String("claim", claim.String()), zap.String("board", actual.String()))
	p.forfeited = true
	return engine.DecisiveResult(opp, engine.Adjudication, sideTitle(p.side)+" makes a false result claim")
}

// finish ends the game on both engines, waits for them to settle and hands them back to the pool.
func (g *game) finish(result engine.GameResult) {
	pending := make(map[engine.Side]bool, 2)
	for _, p := range g.players {
		if p.gone {
			continue
		}
		if p.s.State() == engine.Idle {
			continue
		}
		pending[p.side] = true
		p.s.EndGame(result.For(p.side))
	}

	t := time.NewTimer(g.r.settleTimeout)
	defer t.Stop()
wait:
	for len(pending) > 0 {
		select {
		case <-t.C:
			break wait
		case se := <-g.events:
			switch se.ev.Kind {
			case engine.EventReady:
				delete(pending, se.side)
			case engine.EventDisconnected:
				g.player(se.side).gone = true
				delete(pending, se.side)
			}
		}
	}
	close(g.done)

	for _, p := range g.players {
		p.s.RemoveEventCallback(p.cbID)
		var err error
		switch {
		case p.forfeited:
			err = errForfeited
		case pending[p.side]:
			err = errNotSettled
		}
		g.r.pool.Release(p.s, err)
	}
}

func (g *game) record(result engine.GameResult, startedAt, endedAt time.Time) *Record {
	white, black := g.player(engine.White), g.player(engine.Black)
	rec := &Record{
		ID:          g.id,
		Round:       g.opts.Round,
		White:       white.name(),
		Black:       black.name(),
		TimeControl: g.tc.String(),
		Variant:     g.referee.Variant(),
		Result:      result.Token(),
		Reason:      result.Reason.String(),
		Termination: board.Termination(result),
		MovesUCI:    g.referee.Moves(),
		MovesSAN:    g.referee.SANMoves(),
		Evals:       g.evals,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
	}
	if fen := g.referee.StartFEN(); fen != board.StandardFEN {
		rec.StartFEN = fen
	} else {
		rec.ECO, rec.Opening = openingbook.Classify(rec.MovesUCI)
	}
	rec.BookPlies = len(g.opts.Opening)
	rec.PGN = g.referee.PGN(board.Headers{
		Event:       g.opts.Event,
		Site:        g.opts.Site,
		Date:        startedAt,
		Round:       g.opts.Round,
		White:       rec.White,
		Black:       rec.Black,
		TimeControl: rec.TimeControl,
		ECO:         rec.ECO,
		Opening:     rec.Opening,
	}, result)
	return rec
}

func (g *game) publish(ev GameEvent) {
	if g.r.publisher == nil {
		return
	}
	ev.GameID = g.id
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	g.r.publisher.Publish(ev)
}

func (r *Runner) appendEvaluation(gameID string, ev MoveEval) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.AppendEvaluation(ctx, gameID, ev); err != nil {
		r.log.Warn("match_eval_store_error", zap.String("game_id", gameID), zap.Int("ply", ev.Ply), zap.Error(err))
	}
}

// persist writes a finished game to every configured sink. Failures are logged, not returned.
func (r *Runner) persist(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if r.store != nil {
		if err := r.store.SaveRecord(ctx, rec); err != nil {
			r.log.Error("match_record_store_error", zap.String("game_id", rec.ID), zap.Error(err))
		}
	}
	if r.archive != nil {
		if err := r.archive.SaveGame(ctx, rec); err != nil {
			r.log.Error("match_result_persist_error", zap.String("game_id", rec.ID), zap.String("result", rec.Result), zap.Error(err))
		} else {
			r.log.Info("match_result_persist", zap.String("game_id", rec.ID), zap.String("result", rec.Result), zap.String("reason", rec.Reason))
		}
	}
	if r.notifier != nil {
		if err := r.notifier.PostResult(ctx, rec); err != nil {
			r.log.Warn("match_result_notify_error", zap.String("game_id", rec.ID), zap.Error(err))
		}
	}
}

func aborted(desc string) engine.GameResult {
	return engine.GameResult{Kind: engine.NoResult, Winner: engine.NoSide, Reason: engine.Normal, Description: desc}
}

func timeLoss(side engine.Side) engine.GameResult {
	return engine.DecisiveResult(side.Opposite(), engine.Timeout, sideTitle(side)+" loses on time")
}

func sideTitle(side engine.Side) string {
	switch side {
	case engine.White:
		return "White"
	case engine.Black:
		return "Black"
	default:
		return "?"
	}
}

func scorePtr(v int) *int { return &v }
