package gate

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireRelease(t *testing.T) {
	g := New()
	assert.False(t, g.Held())

	require.True(t, g.TryAcquire())
	assert.True(t, g.Held())
	assert.False(t, g.TryAcquire(), "second acquire must fail while held")

	g.Release()
	assert.False(t, g.Held())
	assert.True(t, g.TryAcquire(), "gate must be reusable after release")
	g.Release()
}

func TestReleaseOnFreeGateIsNoop(t *testing.T) {
	if strict {
		t.Skip("larpa_debug builds panic on misuse")
	}
	g := New()
	assert.NotPanics(t, g.Release)
	assert.False(t, g.Held())
	assert.True(t, g.TryAcquire())
}

func TestDo(t *testing.T) {
	t.Run("runs and releases on success", func(t *testing.T) {
		g := New()
		ran := false
		err := g.Do(func() error {
			ran = true
			assert.True(t, g.Held())
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.False(t, g.Held())
	})

	t.Run("releases on error", func(t *testing.T) {
		g := New()
		boom := errors.New("boom")
		err := g.Do(func() error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.False(t, g.Held())
	})

	t.Run("releases on panic", func(t *testing.T) {
		g := New()
		assert.Panics(t, func() {
			g.Do(func() error { panic("kaboom") })
		})
		assert.False(t, g.Held())
	})

	t.Run("busy does not run fn", func(t *testing.T) {
		g := New()
		require.True(t, g.TryAcquire())
		ran := false
		err := g.Do(func() error {
			ran = true
			return nil
		})
		assert.ErrorIs(t, err, ErrBusy)
		assert.False(t, ran)
		assert.True(t, g.Held(), "busy outcome must not release someone else's hold")
		g.Release()
	})
}

func TestNeverHeldTwice(t *testing.T) {
	g := New()
	var inside, maxInside, entered atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				g.Do(func() error {
					n := inside.Add(1)
					for {
						m := maxInside.Load()
						if n <= m || maxInside.CompareAndSwap(m, n) {
							break
						}
					}
					entered.Add(1)
					inside.Add(-1)
					return nil
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Positive(t, entered.Load())
	assert.False(t, g.Held())
}
