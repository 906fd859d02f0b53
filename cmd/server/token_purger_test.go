package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type manualTicker struct {
	ch      chan time.Time
	stopped bool
	mu      sync.Mutex
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (t *manualTicker) C() <-chan time.Time {
	return t.ch
}

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *manualTicker) wasStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type recordingPurger struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (p *recordingPurger) PurgeExpired(now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, now)
	return p.err
}

func (p *recordingPurger) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *recordingPurger) lastCall() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return time.Time{}
	}
	return p.calls[len(p.calls)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokenPurgeWorkerPurgesOnTick(t *testing.T) {
	ticker := newManualTicker()
	purger := &recordingPurger{}
	stop := startTokenPurgeWorkerWithTicker(context.Background(), discardLogger(), purger, time.Hour, func(time.Duration) purgeTicker {
		return ticker
	})

	tick := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	ticker.ch <- tick
	ticker.ch <- tick.Add(time.Hour)

	stop()

	if got := purger.callCount(); got != 2 {
		t.Fatalf("expected 2 purge calls, got %d", got)
	}
	if got := purger.lastCall(); !got.Equal(tick.Add(time.Hour)) {
		t.Fatalf("expected purge with tick time, got %v", got)
	}
	if !ticker.wasStopped() {
		t.Fatal("expected ticker to be stopped")
	}
}

func TestTokenPurgeWorkerSurvivesErrors(t *testing.T) {
	ticker := newManualTicker()
	purger := &recordingPurger{err: errors.New("store unavailable")}
	stop := startTokenPurgeWorkerWithTicker(context.Background(), discardLogger(), purger, time.Hour, func(time.Duration) purgeTicker {
		return ticker
	})

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	stop()

	if got := purger.callCount(); got != 2 {
		t.Fatalf("worker must keep running after an error, got %d calls", got)
	}
}

func TestTokenPurgeWorkerStopIsIdempotent(t *testing.T) {
	ticker := newManualTicker()
	stop := startTokenPurgeWorkerWithTicker(context.Background(), discardLogger(), &recordingPurger{}, time.Hour, func(time.Duration) purgeTicker {
		return ticker
	})
	stop()
	stop()
	if !ticker.wasStopped() {
		t.Fatal("expected ticker to be stopped")
	}
}

func TestTokenPurgeWorkerDisabled(t *testing.T) {
	// Nil purger and non-positive interval both disable the worker.
	stop := startTokenPurgeWorker(context.Background(), discardLogger(), nil, time.Hour)
	stop()
	stop = startTokenPurgeWorker(context.Background(), discardLogger(), &recordingPurger{}, 0)
	stop()
}

func TestTokenPurgeWorkerStopsOnContextCancel(t *testing.T) {
	ticker := newManualTicker()
	ctx, cancel := context.WithCancel(context.Background())
	stop := startTokenPurgeWorkerWithTicker(ctx, discardLogger(), &recordingPurger{}, time.Hour, func(time.Duration) purgeTicker {
		return ticker
	})
	cancel()
	// stop must return promptly once the context has already ended the worker.
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return after context cancellation")
	}
}
