package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-EngineHost/internal/chess/engine"
	"github.com/park285/Cheese-EngineHost/internal/chess/engineconf"
)

func TestPool_ReusesReleasedSession(t *testing.T) {
	launcher := newScriptLauncher(nil)
	pool := NewPool(PoolConfig{Deps: engine.Deps{Launcher: launcher}, PerEngineCapacity: 1})
	defer pool.Close()
	cfg := engineconf.New("Alpha", "alpha", "uci")
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.Idle, s1.State())
	assert.Equal(t, "Alpha", s1.Name())

	// capacity reached: the second caller waits
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(waitCtx, cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(s1, nil)
	s2, err := pool.Acquire(ctx, cfg)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, launcher.launches("alpha"))
	pool.Release(s2, nil)
}

func TestPool_DiscardsSessionsThatRestart(t *testing.T) {
	launcher := newScriptLauncher(nil)
	pool := newTestPool(launcher)
	defer pool.Close()
	cfg := engineconf.New("Alpha", "alpha", "uci")
	cfg.RestartMode = engineconf.RestartAlways

	s, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	pool.Release(s, nil)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session was not shut down")
	}
	assert.Contains(t, launcher.engine("alpha").written(), "quit")
}

func TestPool_DiscardsOnError(t *testing.T) {
	launcher := newScriptLauncher(nil)
	pool := newTestPool(launcher)
	defer pool.Close()
	cfg := engineconf.New("Alpha", "alpha", "uci")

	s, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	pool.Release(s, errForfeited)
	<-s.Done()

	s2, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotSame(t, s, s2)
	assert.Equal(t, 2, launcher.launches("alpha"))
	pool.Release(s2, nil)
}

func TestPool_ValidatesConfiguration(t *testing.T) {
	pool := newTestPool(newScriptLauncher(nil))
	defer pool.Close()

	_, err := pool.Acquire(context.Background(), engineconf.Configuration{Name: "broken", Protocol: "uci"})
	assert.ErrorIs(t, err, engineconf.ErrMissingCommand)
}

func TestPool_ClosedRejectsAcquire(t *testing.T) {
	pool := newTestPool(newScriptLauncher(nil))
	require.NoError(t, pool.Close())

	_, err := pool.Acquire(context.Background(), engineconf.New("Alpha", "alpha", "uci"))
	assert.ErrorIs(t, err, ErrPoolClosed)
}
