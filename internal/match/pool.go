package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
	"github.com/park285/Cheese-EngineHost/internal/chess/engineconf"
	"github.com/park285/Cheese-EngineHost/internal/obslog"
)

const (
	defaultPerEngineCapacity = 2
	defaultQuitGrace         = 5 * time.Second
)

var (
	ErrEngineDied = errors.New("engine terminated before it was ready")
	ErrPoolClosed = errors.New("engine pool closed")
	errAtCapacity = errors.New("engine bucket at capacity")
)

type PoolConfig struct {
	// Deps are handed to every session the pool creates.
	Deps engine.Deps

	PerEngineCapacity int

	// TimeoutScale overrides the per-engine scale when positive.
	TimeoutScale float64
}

// Pool keeps started engine sessions per configuration name so consecutive games
// can reuse a running process.
type Pool struct {
	deps         engine.Deps
	capacity     int
	timeoutScale float64
	log          *zap.Logger

	mu       sync.Mutex
	closed   bool
	buckets  map[string]*sessionBucket
	sessions map[*engine.Session]*sessionBucket
}

func NewPool(cfg PoolConfig) *Pool {
	capacity := cfg.PerEngineCapacity
	if capacity <= 0 {
		capacity = defaultPerEngineCapacity
	}
	if cfg.Deps.Counter == nil {
		cfg.Deps.Counter = &engine.Counter{}
	}
	return &Pool{
		deps:         cfg.Deps,
		capacity:     capacity,
		timeoutScale: cfg.TimeoutScale,
		log:          obslog.L().Named("pool"),
		buckets:      make(map[string]*sessionBucket),
		sessions:     make(map[*engine.Session]*sessionBucket),
	}
}

// Acquire returns an idle session for cfg, launching one and waiting for its handshake
// when none is available.
func (p *Pool) Acquire(ctx context.Context, cfg engineconf.Configuration) (*engine.Session, error) {
	bucket, err := p.getBucket(cfg)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case s := <-bucket.idle:
			if !usable(s) {
				p.discardUntracked(bucket, s)
				continue
			}
			p.track(s, bucket)
			return s, nil
		default:
		}

		s, err := bucket.create(ctx, p.launch)
		if err == nil {
			p.track(s, bucket)
			return s, nil
		}
		if !errors.Is(err, errAtCapacity) {
			return nil, err
		}

		select {
		case s := <-bucket.idle:
			if !usable(s) {
				p.discardUntracked(bucket, s)
				continue
			}
			p.track(s, bucket)
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release hands a session back after a game. Sessions that failed, restart between
// games or are no longer idle are shut down instead of being kept.
func (p *Pool) Release(s *engine.Session, err error) {
	if s == nil {
		return
	}

	p.mu.Lock()
	bucket, ok := p.sessions[s]
	if ok {
		delete(p.sessions, s)
	}
	closed := p.closed
	p.mu.Unlock()

	if !ok {
		shutdown(s)
		return
	}
	if err != nil || closed || !usable(s) {
		p.log.Info("engine_discarded", zap.String("engine", s.Name()), zap.String("state", s.State().String()), zap.Error(err))
		bucket.discard(s)
		return
	}
	if !bucket.put(s) {
		bucket.discard(s)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	buckets := make([]*sessionBucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	for _, bucket := range buckets {
		for {
			select {
			case s := <-bucket.idle:
				bucket.discard(s)
				continue
			default:
			}
			break
		}
	}
	return nil
}

func usable(s *engine.Session) bool {
	return s != nil && s.State() == engine.Idle && !s.RestartsBetweenGames()
}

func (p *Pool) track(s *engine.Session, bucket *sessionBucket) {
	p.mu.Lock()
	p.sessions[s] = bucket
	p.mu.Unlock()
}

func (p *Pool) discardUntracked(bucket *sessionBucket, s *engine.Session) {
	if s == nil {
		bucket.decrement()
		return
	}
	bucket.discard(s)
}

func (p *Pool) getBucket(cfg engineconf.Configuration) (*sessionBucket, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Name))
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	bucket, ok := p.buckets[key]
	if !ok {
		bucket = newSessionBucket(cfg, p.capacity)
		p.buckets[key] = bucket
	}
	return bucket, nil
}

// launch starts a session for cfg and blocks until its handshake is complete.
func (p *Pool) launch(ctx context.Context, cfg engineconf.Configuration) (*engine.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p.timeoutScale > 0 {
		cfg.SetTimeoutScale(p.timeoutScale)
	}
	s, err := engine.NewSession(cfg.Protocol, p.deps)
	if err != nil {
		return nil, err
	}

	ready := make(chan error, 1)
	id := s.OnEvent(func(ev engine.Event) {
		var res error
		switch ev.Kind {
		case engine.EventReady:
		case engine.EventDisconnected:
			res = ErrEngineDied
		default:
			return
		}
		select {
		case ready <- res:
		default:
		}
	})
	defer s.RemoveEventCallback(id)

	s.ApplyConfiguration(cfg)
	if err := s.Launch(ctx, engine.SpecFor(cfg)); err != nil {
		s.Close()
		return nil, err
	}
	s.Start()

	select {
	case err := <-ready:
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: %w", cfg.Name, err)
		}
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
	p.log.Info("engine_started", zap.String("config", cfg.Name), zap.String("engine", s.Name()), zap.Int("engine_id", s.ID()))
	return s, nil
}

// shutdown asks the engine to quit and kills it if it has not exited within the grace period.
func shutdown(s *engine.Session) {
	s.Quit()
	t := time.NewTimer(defaultQuitGrace)
	defer t.Stop()
	select {
	case <-s.Done():
	case <-t.C:
	}
	s.Close()
}

type sessionBucket struct {
	cfg      engineconf.Configuration
	capacity int

	mu    sync.Mutex
	total int
	idle  chan *engine.Session
}

func newSessionBucket(cfg engineconf.Configuration, capacity int) *sessionBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &sessionBucket{
		cfg:      cfg,
		capacity: capacity,
		idle:     make(chan *engine.Session, capacity),
	}
}

func (b *sessionBucket) create(ctx context.Context, launch func(context.Context, engineconf.Configuration) (*engine.Session, error)) (*engine.Session, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errAtCapacity
	}
	b.total++
	b.mu.Unlock()

	s, err := launch(ctx, b.cfg)
	if err != nil {
		b.decrement()
		return nil, err
	}
	return s, nil
}

func (b *sessionBucket) put(s *engine.Session) bool {
	select {
	case b.idle <- s:
		return true
	default:
		return false
	}
}

func (b *sessionBucket) discard(s *engine.Session) {
	if s != nil {
		shutdown(s)
	}
	b.decrement()
}

func (b *sessionBucket) decrement() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()
}
