// Package scheduler runs recurring tasks. A task is never started again before
// its previous run has returned.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/camuig/autotrader/internal/logger"
)

type Task func(ctx context.Context)

type Handle interface {
	Cancel()
	Active() bool
}

type Scheduler interface {
	Schedule(name string, interval time.Duration, task Task) Handle
	// Stop cancels every scheduled task and waits for running ones to return.
	Stop()
}

// Ticker schedules each task on its own goroutine driven by a time.Ticker.
type Ticker struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logger.Logger
}

func NewTicker(ctx context.Context, log *logger.Logger) *Ticker {
	ctx, cancel := context.WithCancel(ctx)
	return &Ticker{ctx: ctx, cancel: cancel, logger: log}
}

type job struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *job) Cancel() { j.cancel() }

func (j *job) Active() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

func (t *Ticker) Schedule(name string, interval time.Duration, task Task) Handle {
	ctx, cancel := context.WithCancel(t.ctx)
	j := &job{name: name, cancel: cancel, done: make(chan struct{})}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(j.done)
		t.loop(ctx, j, interval, task)
	}()
	return j
}

func (t *Ticker) loop(ctx context.Context, j *job, interval time.Duration, task Task) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Info("task scheduled", "task", j.name, "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("task stopped", "task", j.name)
			return
		case <-ticker.C:
			t.run(ctx, j.name, task)
		}
	}
}

func (t *Ticker) run(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in scheduled task", "task", name, "panic", fmt.Sprint(r))
		}
	}()
	task(ctx)
}

func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
}

// WithinTradingHours reports whether now falls in the MOEX main session,
// 10:00 to 18:50 Moscow time on weekdays.
func WithinTradingHours(now time.Time, loc *time.Location) bool {
	now = now.In(loc)

	weekday := now.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return false
	}

	totalMinutes := now.Hour()*60 + now.Minute()
	return totalMinutes >= 600 && totalMinutes <= 1130
}
