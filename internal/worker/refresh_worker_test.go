package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"fincal/internal/amqp"
	"fincal/internal/clock"
	"fincal/internal/core"
	"fincal/internal/services"
	"fincal/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu        sync.Mutex
	refreshed []string
	failFor   map[string]error
	projected int
}

func (l *fakeLedger) RefreshUser(_ context.Context, userID string) services.Result[core.Grid] {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.failFor[userID]; ok {
		return services.Result[core.Grid]{Message: err.Error(), Err: err}
	}
	l.refreshed = append(l.refreshed, userID)
	return services.Result[core.Grid]{Success: true}
}

func (l *fakeLedger) ReprojectAll(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.projected++
	return 1, nil
}

func (l *fakeLedger) projections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.projected
}

type staticUsers []string

func (u staticUsers) ListUserIDs(context.Context) ([]string, error) { return u, nil }

func TestHandleRefreshMessage(t *testing.T) {
	ledger := &fakeLedger{failFor: map[string]error{"gone": fmt.Errorf("user gone: %w", core.ErrNotFound)}}
	w := NewRefreshWorker(ledger, staticUsers(nil))

	require.NoError(t, w.HandleRefreshMessage(context.Background(), amqp.NewLedgerRefreshMessage("u1", "expense_added")))
	assert.Equal(t, []string{"u1"}, ledger.refreshed)

	err := w.HandleRefreshMessage(context.Background(), amqp.NewLedgerRefreshMessage("gone", "expense_added"))
	assert.True(t, errors.Is(err, core.ErrNotFound), "not-found must survive wrapping so the message is dropped")
}

func TestStartupRefreshContinuesOnError(t *testing.T) {
	ledger := &fakeLedger{failFor: map[string]error{"u2": errors.New("boom")}}
	w := NewRefreshWorker(ledger, staticUsers{"u1", "u2", "u3"})

	require.NoError(t, w.StartupRefresh(context.Background()))
	assert.Equal(t, []string{"u1", "u3"}, ledger.refreshed)
}

func TestRunPeriodicProjectionStopsOnCancel(t *testing.T) {
	ledger := &fakeLedger{}
	w := NewRefreshWorker(ledger, staticUsers(nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.RunPeriodicProjection(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool { return ledger.projections() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunPeriodicProjectionLogsOncePerTick(t *testing.T) {
	var out syncBuffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&out, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := memory.New()
	require.NoError(t, store.CreateUser(context.Background(), core.User{ID: "u1", UserName: "alice", TimeZone: "UTC"}))
	svc := services.NewAccountService(store, services.WithClock(clock.At(2024, 2, 14, 12)))
	w := NewRefreshWorker(svc, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.RunPeriodicProjection(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Periodic projection complete")
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if strings.Contains(line, "Periodic projection complete") {
			assert.Contains(t, line, "next_check=")
			assert.Contains(t, line, "users=1")
		}
	}
}
