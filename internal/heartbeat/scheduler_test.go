// ABOUTME: Tests for the heartbeat scheduler loop, gating, and alert delivery.

package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/herald-gateway/internal/executor"
)

// countingRunner records executions and signals each one on a channel.
type countingRunner struct {
	mu     sync.Mutex
	calls  int
	chats  []int64
	result executor.Result
	ran    chan struct{}
}

func newCountingRunner(output string) *countingRunner {
	return &countingRunner{
		result: executor.Result{Success: true, Output: output},
		ran:    make(chan struct{}, 16),
	}
}

func (r *countingRunner) Execute(ctx context.Context, prompt string, chatID int64, onPartial executor.PartialFunc) executor.Result {
	r.mu.Lock()
	r.calls++
	r.chats = append(r.chats, chatID)
	r.mu.Unlock()
	r.ran <- struct{}{}
	return r.result
}

func (r *countingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func waitFor(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat execution")
	}
}

func enabledConfig() Config {
	cfg := Config{Enabled: true, Every: "1h"}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

type alertRecorder struct {
	mu      sync.Mutex
	chats   []int64
	results []Result
}

func (a *alertRecorder) deliver(ctx context.Context, chatID int64, res Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chats = append(a.chats, chatID)
	a.results = append(a.results, res)
	return nil
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

func TestSchedulerDisabledDoesNotStart(t *testing.T) {
	r := newCountingRunner("HEARTBEAT_OK")
	cfg := Config{Enabled: false}
	require.NoError(t, cfg.Validate())

	s := NewScheduler(cfg, NewExecutor(cfg, r), nil, nil)
	s.Start(context.Background())

	select {
	case <-r.ran:
		t.Fatal("disabled scheduler executed a heartbeat")
	case <-time.After(50 * time.Millisecond):
	}
	s.Stop() // no-op, must not block
}

func TestSchedulerRunsImmediatelyOnStart(t *testing.T) {
	r := newCountingRunner("HEARTBEAT_OK")
	cfg := enabledConfig()
	s := NewScheduler(cfg, NewExecutor(cfg, r), nil, nil)

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, r.ran)
	assert.Equal(t, 1, r.callCount())
}

func TestSchedulerStartTwiceRunsOneLoop(t *testing.T) {
	r := newCountingRunner("HEARTBEAT_OK")
	cfg := enabledConfig()
	s := NewScheduler(cfg, NewExecutor(cfg, r), nil, nil)

	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, r.ran)
	select {
	case <-r.ran:
		t.Fatal("second loop executed a heartbeat")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	r := newCountingRunner("HEARTBEAT_OK")
	cfg := enabledConfig()
	s := NewScheduler(cfg, NewExecutor(cfg, r), nil, nil)

	s.Start(context.Background())
	waitFor(t, r.ran)
	s.Stop()
	s.Stop()
}

func TestSchedulerResolverGate(t *testing.T) {
	r := newCountingRunner("HEARTBEAT_OK")
	cfg := enabledConfig()

	resolver := func() (int64, bool) { return 0, false }
	s := NewScheduler(cfg, NewExecutor(cfg, r), resolver, nil)
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-r.ran:
		t.Fatal("heartbeat ran despite unresolved target")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerRunsCheckInResolvedChat(t *testing.T) {
	r := newCountingRunner("queue backlog is growing fast")
	cfg := enabledConfig()
	rec := &alertRecorder{}

	resolver := func() (int64, bool) { return 777, true }
	s := NewScheduler(cfg, NewExecutor(cfg, r), resolver, rec.deliver)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, r.ran)
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The check runs in the resolved chat's conversation and the alert goes
	// to the same chat.
	r.mu.Lock()
	assert.Equal(t, []int64{777}, r.chats)
	r.mu.Unlock()

	rec.mu.Lock()
	assert.Equal(t, []int64{777}, rec.chats)
	rec.mu.Unlock()
}

func TestSchedulerActiveHoursGate(t *testing.T) {
	r := newCountingRunner("HEARTBEAT_OK")
	cfg := enabledConfig()
	// A window that is never active: end == start one minute apart around an
	// impossible sliver is hard to construct, so pick the window farthest
	// from now in UTC instead.
	now := time.Now().UTC()
	farHour := (now.Hour() + 12) % 24
	cfg.ActiveHours = formatWindow(farHour, (farHour+1)%24)

	s := NewScheduler(cfg, NewExecutor(cfg, r), nil, nil)
	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-r.ran:
		t.Fatal("heartbeat ran outside active hours")
	case <-time.After(100 * time.Millisecond):
	}
}

func formatWindow(start, end int) string {
	return time.Date(0, 1, 1, start, 0, 0, 0, time.UTC).Format("15:04") +
		"-" + time.Date(0, 1, 1, end, 0, 0, 0, time.UTC).Format("15:04")
}

func TestSchedulerDeliversAlerts(t *testing.T) {
	r := newCountingRunner("the deploy job has been failing since 03:00")
	cfg := enabledConfig()
	rec := &alertRecorder{}

	s := NewScheduler(cfg, NewExecutor(cfg, r), nil, rec.deliver)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, r.ran)
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "the deploy job has been failing since 03:00", rec.results[0].Content)
	assert.False(t, rec.results[0].OK)
}

func TestSchedulerSuppressesAck(t *testing.T) {
	r := newCountingRunner("HEARTBEAT_OK")
	cfg := enabledConfig()
	rec := &alertRecorder{}

	s := NewScheduler(cfg, NewExecutor(cfg, r), nil, rec.deliver)
	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, r.ran)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestSchedulerSurvivesAlertPanic(t *testing.T) {
	r := newCountingRunner("something is on fire")
	cfg := Config{Enabled: true, Every: "1s"}
	require.NoError(t, cfg.Validate())

	s := NewScheduler(cfg, NewExecutor(cfg, r), nil, func(ctx context.Context, chatID int64, res Result) error {
		panic("delivery exploded")
	})
	s.Start(context.Background())
	defer s.Stop()

	// Two executions prove the loop outlived the first tick's panic.
	waitFor(t, r.ran)
	waitFor(t, r.ran)
	assert.GreaterOrEqual(t, r.callCount(), 2)
}

func TestTriggerBypassesGating(t *testing.T) {
	r := newCountingRunner("HEARTBEAT_OK")
	cfg := Config{Enabled: false, ActiveHours: "0-0"}
	require.NoError(t, cfg.Validate())
	rec := &alertRecorder{}

	// Never started, disabled, and outside any sane window: Trigger still runs.
	resolver := func() (int64, bool) { return 0, false }
	s := NewScheduler(cfg, NewExecutor(cfg, r), resolver, rec.deliver)

	res := s.Trigger(context.Background())
	require.True(t, res.Success)
	assert.True(t, res.OK)
	assert.Equal(t, 1, r.callCount())
	r.mu.Lock()
	assert.Equal(t, []int64{ReservedChatID}, r.chats)
	r.mu.Unlock()
}

func TestTriggerDeliversAlert(t *testing.T) {
	r := newCountingRunner("queue backlog growing")
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	rec := &alertRecorder{}

	s := NewScheduler(cfg, NewExecutor(cfg, r), nil, rec.deliver)
	res := s.Trigger(context.Background())

	require.True(t, res.Success)
	assert.True(t, res.ShouldDeliver)
	assert.Equal(t, 1, rec.count())
}
