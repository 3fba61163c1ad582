package resources

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectSamplesOwnProcess(t *testing.T) {
	s := NewSampler(time.Second, func() map[string]int {
		return map[string]int{"self": os.Getpid()}
	})
	s.Collect()

	got := s.Get("self")
	require.Contains(t, got, "cpu_pct")
	require.Contains(t, got, "ram_mb")
	assert.Greater(t, got["ram_mb"], 0.0)

	u, ok := s.Usage("self")
	require.True(t, ok)
	assert.Equal(t, int32(os.Getpid()), u.PID)
}

func TestCollectDropsVanishedTargets(t *testing.T) {
	targets := map[string]int{"self": os.Getpid(), "ghost": 0}
	s := NewSampler(time.Second, func() map[string]int { return targets })
	s.Collect()
	assert.NotEmpty(t, s.Get("self"))
	assert.Empty(t, s.Get("ghost"))

	targets = map[string]int{}
	s.Collect()
	assert.Empty(t, s.Get("self"))
}

func TestGetUnknownIsEmptyMap(t *testing.T) {
	s := NewSampler(0, nil)
	s.Collect()
	got := s.Get("nope")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestServeStopsOnCancel(t *testing.T) {
	calls := make(chan struct{}, 10)
	s := NewSampler(10*time.Millisecond, func() map[string]int {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("sampler did not collect on start")
	}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
