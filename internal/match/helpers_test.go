package match

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
)

// scriptedEngine plays a fixed list of moves, one per search. It answers whichever protocol
// the session opens with. UCI entries are bare moves; xboard entries are the reply lines,
// separated by "|", such as "move e2e4" or "1/2-1/2 {draw}|move e2e4".
type scriptedEngine struct {
	mu     sync.Mutex
	name   string
	h      engine.ChannelHandler
	moves  []string
	next   int
	lines  []string
	kills  int
	xboard bool
	force  bool
}

func (e *scriptedEngine) WriteLine(line string) error {
	e.mu.Lock()
	e.lines = append(e.lines, line)
	var out []string
	closed := false
	switch {
	case line == "quit":
		closed = true
	case line == "xboard":
		e.xboard = true
	case e.xboard:
		out = e.xboardReply(line)
	case line == "uci":
		out = []string{"id name " + e.name, "uciok"}
	case line == "isready":
		out = []string{"readyok"}
	case strings.HasPrefix(line, "go"):
		if e.next < len(e.moves) {
			mv := e.moves[e.next]
			e.next++
			out = []string{
				fmt.Sprintf("info depth %d score cp %d nodes 1000 time 5 pv %s", 4+e.next, 10*e.next, mv),
				"bestmove " + mv,
			}
		}
	}
	h := e.h
	e.mu.Unlock()

	for _, l := range out {
		h.OnLine(l)
	}
	if closed {
		h.OnClosed(nil)
	}
	return nil
}

func (e *scriptedEngine) xboardReply(line string) []string {
	cmd, _, _ := strings.Cut(line, " ")
	switch cmd {
	case "protover":
		return []string{`feature ping=1 setboard=1 usermove=1 reuse=1 myname="` + e.name + `" done=1`}
	case "ping":
		return []string{"pong " + strings.TrimPrefix(line, "ping ")}
	case "new", "force":
		e.force = true
	case "go":
		e.force = false
		return e.think()
	case "usermove":
		if !e.force {
			return e.think()
		}
	}
	return nil
}

func (e *scriptedEngine) think() []string {
	if e.next >= len(e.moves) {
		return nil
	}
	step := e.moves[e.next]
	e.next++
	out := strings.Split(step, "|")
	if mv, ok := strings.CutPrefix(step, "move "); ok && !strings.Contains(mv, "|") {
		out = append([]string{fmt.Sprintf("%d 12 5 1000 %s", 4+e.next, mv)}, out...)
	}
	return out
}

func (e *scriptedEngine) Kill() error {
	e.mu.Lock()
	e.kills++
	e.mu.Unlock()
	return nil
}

func (e *scriptedEngine) written() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.lines...)
}

// scriptLauncher starts a scriptedEngine per launch, picking the script by command.
type scriptLauncher struct {
	mu       sync.Mutex
	scripts  map[string][]string
	launched map[string]int
	engines  []*scriptedEngine
}

func newScriptLauncher(scripts map[string][]string) *scriptLauncher {
	return &scriptLauncher{scripts: scripts, launched: make(map[string]int)}
}

func (l *scriptLauncher) Launch(_ context.Context, spec engine.LaunchSpec, h engine.ChannelHandler) (engine.Channel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched[spec.Command]++
	e := &scriptedEngine{name: spec.Command, h: h, moves: l.scripts[spec.Command]}
	l.engines = append(l.engines, e)
	return e, nil
}

func (l *scriptLauncher) launches(command string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched[command]
}

func (l *scriptLauncher) engine(command string) *scriptedEngine {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.engines {
		if e.name == command {
			return e
		}
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []GameEvent
}

func (p *recordingPublisher) Publish(ev GameEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (s *recordingSink) SaveGame(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) PostResult(_ context.Context, rec *Record) error {
	return s.SaveGame(context.Background(), rec)
}

func (s *recordingSink) saved() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Record(nil), s.records...)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestPool(l engine.Launcher) *Pool {
	return NewPool(PoolConfig{Deps: engine.Deps{Launcher: l}})
}
