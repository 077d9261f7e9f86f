// ABOUTME: Heartbeat scheduler running periodic checks on a fixed interval.
// ABOUTME: Gates ticks on target resolution and active hours, delivers alerts.

package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AlertFunc delivers a heartbeat result that warrants the user's attention
// to the given chat.
type AlertFunc func(ctx context.Context, chatID int64, res Result) error

// ChatResolver names the chat a heartbeat tick runs in and delivers to.
// ok=false means no target can be resolved right now and the tick is skipped
// without invoking the agent.
type ChatResolver func() (chatID int64, ok bool)

// Scheduler runs heartbeat checks on the configured interval. The first
// check fires immediately on start. One Scheduler owns one loop goroutine.
type Scheduler struct {
	cfg      Config
	exec     *Executor
	resolver ChatResolver
	onAlert  AlertFunc
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewScheduler(cfg Config, exec *Executor, resolver ChatResolver, onAlert AlertFunc) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		exec:     exec,
		resolver: resolver,
		onAlert:  onAlert,
		logger:   slog.Default().With("component", "heartbeat"),
	}
}

// Start launches the scheduler loop. No-op when the heartbeat is disabled or
// the loop is already running.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("heartbeat disabled, scheduler not started")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("heartbeat scheduler already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(loopCtx)
	s.logger.Info("heartbeat scheduler started", "interval", s.cfg.Interval().String())
}

// Stop cancels the loop and waits for it to exit. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("heartbeat scheduler stopped")
}

// Trigger runs one heartbeat check synchronously, bypassing the interval,
// the resolver gate, and the active-hours window. Used by the manual
// heartbeat subcommand and the admin endpoint. Without a resolvable target
// the check runs in the reserved conversation and nothing is delivered.
func (s *Scheduler) Trigger(ctx context.Context) Result {
	target, ok := s.resolveTarget()
	if !ok {
		return s.exec.Run(ctx, ReservedChatID)
	}
	res := s.exec.Run(ctx, target)
	s.deliver(ctx, target, res)
	return res
}

// resolveTarget returns the alert delivery chat. Without a resolver the
// reserved conversation stands in, which keeps deliver a no-op path for
// callers that only inspect the returned Result.
func (s *Scheduler) resolveTarget() (int64, bool) {
	if s.resolver == nil {
		return ReservedChatID, true
	}
	return s.resolver()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	interval := s.cfg.Interval()
	timer := time.NewTimer(0) // first tick fires immediately
	defer timer.Stop()

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		iteration++
		s.tick(ctx, iteration)
		timer.Reset(interval)
	}
}

// tick runs one gated heartbeat check. It never lets a failure or panic
// escape into the loop.
func (s *Scheduler) tick(ctx context.Context, iteration int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("heartbeat tick panicked", "iteration", iteration, "panic", r)
		}
	}()

	logger := s.logger.With("iteration", iteration)

	target, ok := s.resolveTarget()
	if !ok {
		logger.Info("heartbeat skipped: no target chat resolved")
		return
	}

	if s.cfg.ActiveHours != "" {
		within, err := WithinActiveHours(s.cfg.ActiveHours, s.cfg.Timezone, time.Time{})
		if err != nil {
			logger.Error("active hours check failed", "error", err)
			return
		}
		if !within {
			logger.Info("heartbeat skipped: outside active hours",
				"window", s.cfg.ActiveHours, "timezone", s.cfg.Timezone)
			return
		}
	}

	// The check runs in the resolved chat's conversation so the agent keeps
	// that chat's context when self-checking.
	res := s.exec.Run(ctx, target)
	if !res.Success {
		logger.Error("heartbeat execution failed", "error", res.Error)
		return
	}
	s.deliver(ctx, target, res)
}

func (s *Scheduler) deliver(ctx context.Context, chatID int64, res Result) {
	if !res.ShouldDeliver || s.onAlert == nil {
		return
	}
	if err := s.onAlert(ctx, chatID, res); err != nil {
		s.logger.Error("heartbeat alert delivery failed", "error", err)
	}
}
