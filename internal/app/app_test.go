package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eppraise/eppraise/internal/config"
	"github.com/eppraise/eppraise/internal/reconcile"
	"github.com/eppraise/eppraise/internal/tracker"
)

func memoryConfig(t *testing.T, ebayPath string) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:    "development",
		LogLevel:       "debug",
		Port:           "0",
		StoreConfig:    `{"db_type":"memory","extra_details":{}}`,
		EbayConfigPath: ebayPath,
		UpdateInterval: time.Hour,
		RPSLimit:       10,
		RPSBurst:       20,
		MaxRetries:     3,
	}
}

func TestNewApp_WithoutEbayConfig(t *testing.T) {
	a, err := NewApp(memoryConfig(t, filepath.Join(t.TempDir(), "missing.yaml")), zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	ctx := context.Background()
	view, err := a.Service().SaveWatch(ctx, "foo bar", nil)
	require.NoError(t, err)
	require.True(t, view.Enabled)

	_, err = a.Service().Update(ctx)
	require.ErrorIs(t, err, tracker.ErrSearchDisabled)
}

func TestNewApp_WithEbayConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ebay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ebay:\n  id: test-app\n"), 0o600))

	a, err := NewApp(memoryConfig(t, path), zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	report, err := a.Service().Update(context.Background())
	require.NoError(t, err, "an empty store needs no search calls")
	require.Zero(t, report.Watches)
}

func TestNewApp_BadStoreConfig(t *testing.T) {
	cfg := memoryConfig(t, "")
	cfg.StoreConfig = `{"db_type":"oracle"}`
	_, err := NewApp(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	a, err := NewApp(memoryConfig(t, filepath.Join(t.TempDir(), "missing.yaml")), zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestSchedule_RunsPassesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	update := func(context.Context) (reconcile.Report, error) {
		if calls.Add(1) == 3 {
			cancel()
		}
		return reconcile.Report{}, nil
	}

	done := make(chan struct{})
	go func() {
		schedule(ctx, 5*time.Millisecond, update, zap.NewNop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Equal(t, int32(3), calls.Load())
}

func TestSchedule_PassesNeverOverlap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var running, calls atomic.Int32
	update := func(context.Context) (reconcile.Report, error) {
		require.Equal(t, int32(1), running.Add(1), "a pass started while another was running")
		defer running.Add(-1)
		time.Sleep(20 * time.Millisecond)
		if calls.Add(1) == 3 {
			cancel()
		}
		return reconcile.Report{}, errors.New("search down")
	}

	done := make(chan struct{})
	go func() {
		schedule(ctx, time.Millisecond, update, zap.NewNop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Equal(t, int32(3), calls.Load())
}

func TestSchedule_NoPassAfterCancelDuringSlowPass(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		var calls atomic.Int32
		update := func(context.Context) (reconcile.Report, error) {
			calls.Add(1)
			cancel()
			// Outlast several ticks so a tick is pending alongside the cancellation.
			time.Sleep(10 * time.Millisecond)
			return reconcile.Report{}, nil
		}

		done := make(chan struct{})
		go func() {
			schedule(ctx, time.Millisecond, update, zap.NewNop())
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not stop")
		}
		require.Equal(t, int32(1), calls.Load(), "run %d", i)
	}
}
