package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/park285/Cheese-EngineHost/internal/chess/engineconf"
)

func moveTimeControl(d time.Duration) TimeControl { return TimeControl{TimePerMove: d} }

func TestNewSession_UnknownProtocol(t *testing.T) {
	_, err := NewSession("winboard3", Deps{Logger: zap.NewNop()})
	assert.True(t, errors.Is(err, ErrUnknownProtocol))
}

func TestLaunch_FailureIsReturnedSynchronously(t *testing.T) {
	boom := errors.New("no such file")
	s, err := NewSession("uci", Deps{Launcher: &fakeLauncher{err: boom}, Clock: newManualClock(), Logger: zap.NewNop()})
	require.NoError(t, err)
	defer s.Close()

	rec := &recorder{}
	s.OnEvent(rec.record)
	err = s.Launch(context.Background(), LaunchSpec{Command: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Empty(t, rec.of(EventForfeit))
	assert.Equal(t, NotStarted, s.State())
}

// blockingLauncher holds Launch until released and ignores the context.
type blockingLauncher struct {
	ch      *fakeChannel
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLauncher) Launch(_ context.Context, _ LaunchSpec, h ChannelHandler) (Channel, error) {
	close(l.entered)
	<-l.release
	l.ch.h = h
	return l.ch, nil
}

func TestLaunch_CanceledLaunchKillsLateProcess(t *testing.T) {
	l := &blockingLauncher{ch: &fakeChannel{}, entered: make(chan struct{}), release: make(chan struct{})}
	s, err := NewSession("uci", Deps{Launcher: l, Clock: newManualClock(), Logger: zap.NewNop()})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Launch(ctx, LaunchSpec{Command: "slow"}) }()
	<-l.entered
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	close(l.release)
	require.Eventually(t, func() bool {
		return l.ch.kills() == 1 && s.State() == Disconnected
	}, time.Second, time.Millisecond)
}

func TestCounter_AssignsDistinctIDs(t *testing.T) {
	counter := &Counter{}
	a, err := NewSession("uci", Deps{Counter: counter, Logger: zap.NewNop(), Clock: newManualClock()})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSession("xboard", Deps{Counter: counter, Logger: zap.NewNop(), Clock: newManualClock()})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 1, a.ID())
	assert.Equal(t, 2, b.ID())
}

func TestKill_IsIdempotent(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()

	h.s.Kill()
	h.s.Kill()
	h.sync()

	assert.Equal(t, Disconnected, h.s.State())
	assert.Equal(t, 1, h.ch.kills())
	assert.Len(t, h.rec.of(EventDisconnected), 1)
	assert.Empty(t, h.rec.of(EventForfeit))
}

func TestWriteBuffer_HeldUntilStart(t *testing.T) {
	h := newHarness(t, "uci")
	cfg := engineconf.New("Toy", "toy", "uci")
	cfg.InitStrings = []string{"debug on", "setoption name Style value Solid"}
	h.s.ApplyConfiguration(cfg)

	assert.Empty(t, h.written())

	h.s.Start()
	assert.Equal(t, []string{"uci", "debug on", "setoption name Style value Solid"}, h.written())
}

func TestSetOption_PendingUntilHandshake(t *testing.T) {
	h := newHarness(t, "uci")
	h.s.SetOption("Hash", 128)
	h.s.SetOption("Threads", 4)
	h.s.Start()
	h.sync()
	h.reply(
		"id name Toy 1.0",
		"option name Hash type spin default 16 min 1 max 1024",
		"option name Threads type spin default 1 min 1 max 8",
	)
	assert.Equal(t, []string{"uci"}, h.ch.written())

	h.reply("uciok")
	assert.Equal(t, []string{
		"uci",
		"setoption name Hash value 128",
		"setoption name Threads value 4",
		"isready",
	}, h.written())
	assert.Empty(t, h.rec.of(EventReady))

	h.reply("readyok")
	assert.Len(t, h.rec.of(EventReady), 1)
	assert.Equal(t, "Toy 1.0", h.s.Name())
}

func TestSetOption_InvalidValueIsDiagnostic(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI("option name Hash type spin default 16 min 1 max 1024")
	h.ch.reset()

	h.s.SetOption("Hash", 99999)
	h.s.SetOption("NoSuchOption", 1)
	assert.Empty(t, h.written())
	require.Len(t, h.rec.diagnostics(), 2)
	assert.Contains(t, h.rec.diagnostics()[1], "unknown option: NoSuchOption")

	var hash any
	for _, o := range h.s.Options() {
		if o.Name() == "Hash" {
			hash = o.Value()
		}
	}
	assert.Equal(t, 16, hash)
	assert.Equal(t, Idle, h.s.State())
}

func TestApplyConfiguration_Idempotent(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI("option name Hash type spin default 16 min 1 max 1024")

	cfg := engineconf.New("Toy", "toy", "uci")
	cfg.AddOption("Hash", 64)
	cfg.SetTimeoutScale(2)
	h.s.ApplyConfiguration(cfg)
	h.sync()
	first := h.s.Options()[0].Value()
	name := h.s.Name()

	h.s.ApplyConfiguration(cfg)
	h.sync()
	assert.Equal(t, first, h.s.Options()[0].Value())
	assert.Equal(t, name, h.s.Name())
	assert.Equal(t, 64, first)
	assert.Len(t, h.rec.of(EventNameChanged), 1)
}

func TestTimeoutScale_StretchesPingTimeout(t *testing.T) {
	h := newHarness(t, "uci")
	cfg := engineconf.New("Toy", "toy", "uci")
	cfg.SetTimeoutScale(2)
	h.s.ApplyConfiguration(cfg)
	h.startUCI()

	h.s.Ping()
	h.advance(15 * time.Second)
	assert.Equal(t, Idle, h.state())

	h.advance(6 * time.Second)
	assert.Equal(t, Disconnected, h.state())
}

func TestPing_TimeoutForfeitsStalledConnection(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()

	h.s.Ping()
	h.advance(DefaultPingTimeout)

	assert.Equal(t, Disconnected, h.s.State())
	require.Len(t, h.rec.of(EventForfeit), 1)
	assert.Equal(t, StalledConnection, h.rec.of(EventForfeit)[0].Result.Reason)
	assert.Equal(t, 1, h.ch.kills())
}

func TestPing_BuffersWritesUntilPong(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI("option name Hash type spin default 16 min 1 max 1024")
	h.ch.reset()

	h.s.Ping()
	h.s.SetOption("Hash", 32)
	assert.Equal(t, []string{"isready"}, h.written())

	h.reply("readyok")
	assert.Equal(t, []string{"isready", "setoption name Hash value 32"}, h.written())
}

func TestPong_EndGameWhilePingingRepings(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()
	h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("readyok")
	h.s.Go()
	h.s.Ping()
	h.sync()
	h.ch.reset()
	h.rec.reset()

	h.s.EndGame(DecisiveResult(White, Normal, "White mates"))
	assert.Empty(t, h.written(), "game end waits for the outstanding ping")

	h.reply("readyok")
	assert.Equal(t, []string{"stop", "isready"}, h.written())
	assert.Equal(t, FinishingGame, h.s.State())
	assert.Empty(t, h.rec.of(EventReady))

	h.reply("readyok")
	assert.Equal(t, Idle, h.s.State())
	assert.Len(t, h.rec.of(EventReady), 1)
}

func TestPong_StateLeftFinishingGameRepings(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()
	h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("readyok")
	h.ch.reset()
	h.rec.reset()

	h.s.post(func() {
		h.s.setState(FinishingGame)
		h.s.ping()
		h.s.setState(Idle)
	})
	h.reply("readyok")
	assert.Equal(t, []string{"isready", "isready"}, h.written())
	assert.Empty(t, h.rec.of(EventReady))

	h.reply("readyok")
	assert.Len(t, h.rec.of(EventReady), 1)
	assert.Equal(t, Idle, h.s.State())
}

func TestIdleTimeout_ForfeitsOnce(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()
	h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("readyok")
	h.s.Go()
	require.Equal(t, Thinking, h.state())

	h.advance(DefaultIdleTimeout)
	assert.Equal(t, Thinking, h.s.State())

	h.advance(time.Second)
	assert.Equal(t, Disconnected, h.s.State())
	h.advance(time.Minute)

	forfeits := h.rec.of(EventForfeit)
	require.Len(t, forfeits, 1)
	assert.Equal(t, StalledConnection, forfeits[0].Result.Reason)
	assert.Equal(t, Loss, forfeits[0].Result.Kind)
	assert.Equal(t, Black, forfeits[0].Result.Winner)
}

func TestIdleTimeout_RearmedByOutput(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()
	h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("readyok")
	h.s.Go()
	h.sync()

	h.advance(10 * time.Second)
	h.reply("info depth 1 score cp 5 pv e2e4")
	h.advance(10 * time.Second)
	assert.Equal(t, Thinking, h.s.State())

	h.advance(7 * time.Second)
	assert.Equal(t, Disconnected, h.s.State())
}

func TestIdleTimeout_NotArmedForInfiniteSearch(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()
	h.newGame(White, newFakeBoard(), TimeControl{Infinite: true})
	h.reply("readyok")
	h.s.Go()

	h.advance(time.Hour)
	assert.Equal(t, Thinking, h.s.State())

	h.s.Stop()
	assert.Contains(t, h.written(), "stop")
	h.advance(DefaultIdleTimeout)
	assert.Equal(t, Disconnected, h.s.State())
}

func TestStop_WhilePingingDropsBufferedWrites(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()
	h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("readyok")
	h.s.Go()
	h.s.Ping()
	h.sync()
	h.ch.reset()

	h.s.post(func() { h.s.write("debug on", buffered) })
	h.s.Stop()
	h.reply("readyok")
	assert.Empty(t, h.written())
	assert.Equal(t, Thinking, h.s.State())
}

func TestUnexpectedExit_TreatedAsStall(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()

	h.ch.exit(errors.New("signal: segmentation fault"))
	h.sync()

	assert.Equal(t, Disconnected, h.s.State())
	require.Len(t, h.rec.of(EventForfeit), 1)
	assert.Equal(t, StalledConnection, h.rec.of(EventForfeit)[0].Result.Reason)
}

func TestQuit_ExitAfterQuitIsClean(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()
	h.ch.reset()

	h.s.Quit()
	assert.Equal(t, []string{"quit"}, h.written())
	h.ch.exit(nil)
	h.sync()

	assert.Equal(t, Disconnected, h.s.State())
	assert.Empty(t, h.rec.of(EventForfeit))
}

func TestQuit_TimeoutKills(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()

	h.s.Quit()
	h.advance(DefaultQuitTimeout - time.Millisecond)
	assert.Equal(t, Idle, h.s.State())

	h.advance(time.Millisecond)
	assert.Equal(t, Disconnected, h.s.State())
	assert.Equal(t, 1, h.ch.kills())
}

func TestEndGame_RestartPolicyQuits(t *testing.T) {
	h := newHarness(t, "uci")
	cfg := engineconf.New("Toy", "toy", "uci")
	cfg.RestartMode = engineconf.RestartAlways
	h.s.ApplyConfiguration(cfg)
	h.startUCI()
	assert.True(t, h.s.RestartsBetweenGames())

	h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("readyok")
	h.ch.reset()
	h.s.EndGame(DrawResult(Agreement, ""))
	assert.Equal(t, []string{"quit"}, h.written())
}

func TestHandshakeTimeout_UCIIsStall(t *testing.T) {
	h := newHarness(t, "uci")
	h.s.Start()
	h.advance(DefaultProtocolStartTimeout)

	assert.Equal(t, Disconnected, h.s.State())
	require.Len(t, h.rec.of(EventForfeit), 1)
	assert.Equal(t, StalledConnection, h.rec.of(EventForfeit)[0].Result.Reason)
}

func TestEngineMove_IllegalForfeitsWithoutKill(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()
	b := newFakeBoard()
	b.illegal["e2e5"] = true
	h.newGame(White, b, moveTimeControl(time.Second))
	h.reply("readyok")
	h.s.Go()
	h.reply("bestmove e2e5")

	require.Len(t, h.rec.of(EventForfeit), 1)
	assert.Equal(t, IllegalMove, h.rec.of(EventForfeit)[0].Result.Reason)
	assert.Equal(t, 0, h.ch.kills())
}

func TestClose_StopsLoop(t *testing.T) {
	h := newHarness(t, "uci")
	h.startUCI()
	h.s.Close()

	select {
	case <-h.s.Done():
	default:
		t.Fatal("loop still running")
	}
	assert.Equal(t, Disconnected, h.s.State())
}
