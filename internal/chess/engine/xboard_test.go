package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-EngineHost/internal/chess/engineconf"
)

func hasPrefixLine(lines []string, prefix string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

func TestXboard_FeatureNegotiation(t *testing.T) {
	h := newHarness(t, "xboard")
	h.s.Start()
	h.reply(`feature ping=1 setboard=1 san=0 usermove=1 myname="Fruit 2.1" variants="normal,fischerandom" option="Style -combo Solid /// *Normal" memory=1 foo=1 done=1`)

	assert.Equal(t, []string{
		"xboard",
		"protover 2",
		"accepted ping",
		"accepted setboard",
		"accepted san",
		"accepted usermove",
		"accepted myname",
		"accepted variants",
		"accepted option",
		"accepted memory",
		"rejected foo",
		"accepted done",
		"ping 1",
	}, h.written())
	assert.Equal(t, "Fruit 2.1", h.s.Name())
	assert.Equal(t, []string{"standard", "fischerandom"}, h.s.SupportedVariants())

	h.reply("pong 1")
	assert.Len(t, h.rec.of(EventReady), 1)

	h.ch.reset()
	h.s.SetOption("Style", "Solid")
	h.s.SetOption("memory", 256)
	assert.Equal(t, []string{"option Style=Solid", "memory 256"}, h.written())
}

func TestXboard_ConfiguredNameWins(t *testing.T) {
	h := newHarness(t, "xboard")
	h.s.ApplyConfiguration(engineconf.New("Crafty (local)", "crafty", "xboard"))
	h.startXboard(`ping=1 myname="Crafty 25.2"`)
	assert.Equal(t, "Crafty (local)", h.s.Name())
}

func TestXboard_LegacyGraceWithoutFeatures(t *testing.T) {
	h := newHarness(t, "xboard")
	h.s.Start()
	h.advance(time.Second)
	assert.Equal(t, Starting, h.s.State())

	h.advance(time.Second)
	assert.Equal(t, Idle, h.s.State())
	assert.Len(t, h.rec.of(EventReady), 1)
	assert.Equal(t, []string{"xboard", "protover 2"}, h.written())
}

func TestXboard_DoneZeroFallsBackAtProtocolStartTimeout(t *testing.T) {
	h := newHarness(t, "xboard")
	h.s.Start()
	h.reply("feature ping=0 done=0")

	h.advance(xboardInitGrace)
	assert.Equal(t, Starting, h.s.State(), "features were negotiated, so the legacy grace does not apply")

	h.advance(DefaultProtocolStartTimeout)
	assert.Equal(t, Idle, h.s.State())
	assert.Len(t, h.rec.of(EventReady), 1)

	h.newGame(White, newFakeBoard(), moveTimeControl(5*time.Second))
	h.s.Go()
	h.reply("move e2e4")
	h.s.EndGame(DecisiveResult(White, Normal, "White mates"))
	h.sync()

	assert.False(t, hasPrefixLine(h.written(), "ping "), "no ping may be sent to an engine without ping support")
	assert.Equal(t, Idle, h.s.State())
	assert.Len(t, h.rec.of(EventReady), 3)
}

func TestXboard_GameSetup(t *testing.T) {
	h := newHarness(t, "xboard")
	h.startXboard("ping=1 setboard=1")
	h.ch.reset()

	tc, err := ParseTimeControl("40/60+0.5")
	require.NoError(t, err)
	h.newGame(White, newFakeBoard(), tc)
	assert.Equal(t, []string{"new", "force", "level 40 1 0.5", "post", "easy", "ping 2"}, h.written())

	h.reply("pong 2")
	h.s.EndGame(GameResult{})
	h.reply("pong 3")
	h.ch.reset()

	b := newFakeBoard()
	b.fen = "4k3/8/8/8/8/8/8/4K2R w K - 0 1"
	h.newGame(Black, b, TimeControl{TimePerMove: 5 * time.Second, MaxDepth: 12})
	assert.Equal(t, []string{"new", "force", "setboard " + b.fen, "st 5", "sd 12", "post", "easy", "ping 4"}, h.written())
}

func TestXboard_EditModeWithoutSetboard(t *testing.T) {
	h := newHarness(t, "xboard")
	cfg := engineconf.New("Old", "old", "xboard")
	cfg.Pondering = true
	h.s.ApplyConfiguration(cfg)
	h.startXboard("ping=1")
	h.ch.reset()

	b := newFakeBoard()
	b.fen = "4k3/8/8/8/8/8/8/4K2R w K - 0 1"
	h.newGame(White, b, TimeControl{Infinite: true})
	assert.Equal(t, []string{
		"new", "force",
		"edit", "#", "Ke1", "Rh1", "c", "Ke8", ".",
		"level 0 525600 0", "post", "hard", "ping 2",
	}, h.written())
}

func TestXboard_OpponentMoveHeldUntilGo(t *testing.T) {
	h := newHarness(t, "xboard")
	h.startXboard("ping=1")
	h.newGame(White, newFakeBoard(), TimeControl{TimePerTC: time.Minute})
	h.reply("pong 2")
	h.ch.reset()

	h.s.Go()
	assert.Equal(t, []string{"time 6000", "otim 6000", "go"}, h.written())

	h.reply("move e2e4")
	require.Len(t, h.rec.of(EventMoveMade), 1)
	assert.Equal(t, "e2e4", h.rec.of(EventMoveMade)[0].Move)
	assert.Equal(t, Observing, h.s.State())

	h.ch.reset()
	h.s.MakeMove("e7e5")
	assert.Empty(t, h.written())

	h.s.UpdateClocks(50*time.Second, 58*time.Second)
	h.s.Go()
	assert.Equal(t, []string{"time 5000", "otim 5800", "e7e5"}, h.written())

	h.reply("move g1f3")
	h.ch.reset()
	h.s.MakeMove("b8c6")
	h.s.MakeMove("g8f6")
	assert.Equal(t, []string{"force", "b8c6", "g8f6"}, h.written())
}

func TestXboard_UsermovePrefixAndSAN(t *testing.T) {
	h := newHarness(t, "xboard")
	h.startXboard("ping=1 usermove=1 san=1")
	b := newFakeBoard()
	b.side = Black
	b.san["e2e4"] = "e4"
	b.san["e7e5"] = "e5"
	h.newGame(Black, b, moveTimeControl(time.Second))
	h.reply("pong 2")
	h.ch.reset()

	h.s.MakeMove("e2e4")
	h.s.Go()
	assert.Equal(t, []string{"usermove e4", "go"}, h.written())

	h.reply("move e5")
	require.Len(t, h.rec.of(EventMoveMade), 1)
	assert.Equal(t, "e7e5", h.rec.of(EventMoveMade)[0].Move)
}

func TestXboard_DrawClaimDeferredToNextMove(t *testing.T) {
	h := newHarness(t, "xboard")
	h.startXboard("ping=1")
	b := newFakeBoard()
	h.newGame(White, b, moveTimeControl(time.Second))
	h.reply("pong 2")
	h.s.Go()

	h.reply("1/2-1/2 {agreed}")
	assert.Empty(t, h.rec.of(EventResultClaim))

	h.reply("move e2e4")
	claims := h.rec.of(EventResultClaim)
	require.Len(t, claims, 1)
	assert.Equal(t, Draw, claims[0].Result.Kind)
	assert.Equal(t, Agreement, claims[0].Result.Reason)

	var order []EventKind
	for _, ev := range h.rec.events {
		if ev.Kind == EventMoveMade || ev.Kind == EventResultClaim {
			order = append(order, ev.Kind)
		}
	}
	assert.Equal(t, []EventKind{EventMoveMade, EventResultClaim}, order)
}

func TestXboard_DrawClaimDroppedWhenMoveDecides(t *testing.T) {
	h := newHarness(t, "xboard")
	h.startXboard("ping=1")
	b := newFakeBoard()
	b.after["d1h5"] = DecisiveResult(White, Normal, "White mates")
	h.newGame(White, b, moveTimeControl(time.Second))
	h.reply("pong 2")
	h.s.Go()

	h.reply("1/2-1/2 {draw}", "move d1h5")
	assert.Len(t, h.rec.of(EventMoveMade), 1)
	assert.Empty(t, h.rec.of(EventResultClaim))
}

func TestXboard_DrawClaimUnvalidatedIsImmediate(t *testing.T) {
	h := newHarness(t, "xboard")
	cfg := engineconf.New("Toy", "toy", "xboard")
	cfg.SetClaimsValidated(false)
	h.s.ApplyConfiguration(cfg)
	h.startXboard("ping=1")
	h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("pong 2")
	h.s.Go()

	h.reply("1/2-1/2 {repetition}")
	claims := h.rec.of(EventResultClaim)
	require.Len(t, claims, 1)
	assert.Equal(t, "repetition", claims[0].Result.Description)
}

func TestXboard_DrawClaimWhileObserving(t *testing.T) {
	t.Run("unfounded claim is adjudicated", func(t *testing.T) {
		h := newHarness(t, "xboard")
		h.startXboard("ping=1")
		h.newGame(Black, newFakeBoard(), moveTimeControl(time.Second))
		h.reply("pong 2")
		require.Equal(t, Observing, h.state())

		h.reply("1/2-1/2 {I feel like a draw}")
		assert.Empty(t, h.rec.of(EventResultClaim))
		forfeits := h.rec.of(EventForfeit)
		require.Len(t, forfeits, 1)
		assert.Equal(t, Adjudication, forfeits[0].Result.Reason)
		assert.Equal(t, White, forfeits[0].Result.Winner)
		assert.Contains(t, forfeits[0].Result.Description, "false draw claim")
	})

	t.Run("claim backed by the board is forwarded", func(t *testing.T) {
		h := newHarness(t, "xboard")
		h.startXboard("ping=1")
		b := newFakeBoard()
		b.result = DrawResult(Normal, "Draw by stalemate")
		h.newGame(Black, b, moveTimeControl(time.Second))
		h.reply("pong 2")

		h.reply("1/2-1/2 {Stalemate}")
		claims := h.rec.of(EventResultClaim)
		require.Len(t, claims, 1)
		assert.Equal(t, Draw, claims[0].Result.Kind)
		assert.Equal(t, "Draw by stalemate", claims[0].Result.Description)
		assert.Empty(t, h.rec.of(EventForfeit))
	})
}

func TestXboard_WinClaims(t *testing.T) {
	t.Run("false claim is adjudicated", func(t *testing.T) {
		h := newHarness(t, "xboard")
		h.startXboard("ping=1")
		h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
		h.reply("pong 2")

		h.reply("1-0 {White mates}")
		forfeits := h.rec.of(EventForfeit)
		require.Len(t, forfeits, 1)
		assert.Equal(t, Adjudication, forfeits[0].Result.Reason)
		assert.Equal(t, Black, forfeits[0].Result.Winner)
	})

	t.Run("true claim is forwarded", func(t *testing.T) {
		h := newHarness(t, "xboard")
		h.startXboard("ping=1")
		b := newFakeBoard()
		b.result = DecisiveResult(White, Normal, "White mates")
		h.newGame(White, b, moveTimeControl(time.Second))
		h.reply("pong 2")

		h.reply("1-0 {White mates}")
		claims := h.rec.of(EventResultClaim)
		require.Len(t, claims, 1)
		assert.Equal(t, Win, claims[0].Result.Kind)
		assert.Empty(t, h.rec.of(EventForfeit))
	})

	t.Run("resign", func(t *testing.T) {
		h := newHarness(t, "xboard")
		h.startXboard("ping=1")
		h.newGame(Black, newFakeBoard(), moveTimeControl(time.Second))
		h.reply("pong 2")

		h.reply("resign")
		claims := h.rec.of(EventResultClaim)
		require.Len(t, claims, 1)
		assert.Equal(t, Resignation, claims[0].Result.Reason)
		assert.Equal(t, White, claims[0].Result.Winner)
		assert.Equal(t, "1-0", claims[0].Result.Token())
	})
}

func TestXboard_IllegalMoveReplyForfeits(t *testing.T) {
	h := newHarness(t, "xboard")
	h.startXboard("ping=1")
	h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("pong 2")

	h.reply("Illegal move: e7e5")
	forfeits := h.rec.of(EventForfeit)
	require.Len(t, forfeits, 1)
	assert.Equal(t, IllegalMove, forfeits[0].Result.Reason)
	assert.Equal(t, 0, h.ch.kills())

	h.reply("Illegal move (no game): e7e6")
	assert.Len(t, h.rec.of(EventForfeit), 1, "forfeit is reported once per game")
}

func TestXboard_EndGameWhileThinking(t *testing.T) {
	h := newHarness(t, "xboard")
	h.startXboard("ping=1")
	h.newGame(White, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("pong 2")
	h.s.Go()
	h.sync()
	h.ch.reset()

	h.s.EndGame(DecisiveResult(White, Adjudication, "White wins on time"))
	assert.Equal(t, []string{"?", "result 1-0 {White wins on time}", "force", "ping 3"}, h.written())
	assert.Equal(t, FinishingGame, h.s.State())

	h.reply("move e2e4", "Error (unknown command): result")
	assert.Empty(t, h.rec.of(EventMoveMade))
	assert.Empty(t, h.rec.diagnostics())

	h.reply("pong 3")
	assert.Equal(t, Idle, h.s.State())
}

func TestXboard_TenRankBoardShiftsRanks(t *testing.T) {
	assert.Equal(t, "e1e3", shiftRanks("e2e4", -1))
	assert.Equal(t, "e2e4", shiftRanks("e1e3", 1))
	assert.Equal(t, "a9a10", shiftRanks("a8a9", 1))
	assert.Equal(t, "Nf3", shiftRanks("Nf4", -1))

	h := newHarness(t, "xboard")
	h.startXboard("ping=1")
	b := newFakeBoard()
	b.height = 10
	h.newGame(Black, b, moveTimeControl(5*time.Second))
	h.reply("pong 2")
	h.ch.reset()

	h.s.MakeMove("e2e4")
	h.s.Go()
	assert.Equal(t, []string{"e1e3", "go"}, h.written())

	h.reply("move e1e3")
	require.Len(t, h.rec.of(EventMoveMade), 1)
	assert.Equal(t, "e2e4", h.rec.of(EventMoveMade)[0].Move)
}

func TestXboard_ThinkingOutput(t *testing.T) {
	ev, ok := parseXboardThinking("9 156 1084 48000 Nf3 Nc6 Bb5")
	require.True(t, ok)
	assert.Equal(t, 9, ev.Depth)
	assert.Equal(t, 156, ev.Score)
	assert.Equal(t, 10840*time.Millisecond, ev.Time)
	assert.Equal(t, int64(48000), ev.Nodes)
	assert.Equal(t, "Nf3 Nc6 Bb5", ev.PV)

	_, ok = parseXboardThinking("Hint: e2e4")
	assert.False(t, ok)

	for in, want := range map[int]int{
		9997:    29997,
		-9998:   -29998,
		100005:  29995,
		-100004: -29996,
		500:     500,
		9900:    9900,
	} {
		assert.Equal(t, want, renumberXboardScore(in), "score %d", in)
	}
}

func TestXboard_WhitePovScoresFlippedForBlack(t *testing.T) {
	h := newHarness(t, "xboard")
	cfg := engineconf.New("Pov", "pov", "xboard")
	cfg.WhiteEvalPov = true
	h.s.ApplyConfiguration(cfg)
	h.startXboard("ping=1")
	h.newGame(Black, newFakeBoard(), moveTimeControl(time.Second))
	h.reply("pong 2")
	h.s.Go()

	h.reply("5 -120 100 5000 e7e5")
	evals := h.rec.of(EventEvaluation)
	require.Len(t, evals, 1)
	assert.Equal(t, 120, evals[0].Eval.Score)
}

func TestXboard_ReuseFeatureControlsRestart(t *testing.T) {
	h := newHarness(t, "xboard")
	h.startXboard("ping=1 reuse=0")
	assert.True(t, h.s.RestartsBetweenGames())
}

func TestSplitFeatures(t *testing.T) {
	got := splitFeatures(`ping=1 myname="Deep Thought 2" option="Hash -spin 64 1 1024" done=1`)
	assert.Equal(t, []feature{
		{key: "ping", value: "1"},
		{key: "myname", value: "Deep Thought 2"},
		{key: "option", value: "Hash -spin 64 1 1024"},
		{key: "done", value: "1"},
	}, got)

	assert.Equal(t, []feature{{key: "san", value: "0"}}, splitFeatures(`garbage san=0`))
}
