package cron

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dwsnet/roost/pkg/cronexpr"
	"github.com/dwsnet/roost/pkg/events"
	"github.com/dwsnet/roost/pkg/log"
	"github.com/dwsnet/roost/pkg/metrics"
	"github.com/dwsnet/roost/pkg/storage"
	"github.com/dwsnet/roost/pkg/types"
)

const (
	// defaultHistoryCap bounds the recent-execution FIFO per schedule.
	defaultHistoryCap = 100

	// autoDisableWindow is how many trailing executions must all be
	// non-success before a schedule is disabled.
	autoDisableWindow = 5
)

// Invoker is the externally supplied capability that actually runs the
// target function. The scheduler never talks to workers directly.
type Invoker func(ctx context.Context, functionID string, event []byte) (types.InvokeResult, error)

// Config holds scheduler configuration.
type Config struct {
	TickInterval time.Duration // heartbeat, default one minute
	HistoryCap   int           // recent executions kept per schedule
}

// ScheduleParams is the caller-facing shape of createSchedule.
type ScheduleParams struct {
	FunctionID string
	Name       string
	Expression string
	Timezone   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	OwnerID    string
}

// Scheduler fires cron schedules against the invoker on a minute-granular
// heartbeat.
type Scheduler struct {
	mu sync.Mutex

	cfg     Config
	invoker Invoker
	journal storage.Store
	broker  *events.Broker
	clock   clockwork.Clock
	logger  zerolog.Logger

	schedules  map[string]*types.CronSchedule
	exprs      map[string]cronexpr.Expression
	executions map[string]*types.CronExecution
	history    map[string][]string // schedule id -> recent execution ids, oldest first

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. The journal and broker may be nil.
func NewScheduler(cfg Config, invoker Invoker, journal storage.Store, broker *events.Broker, clock clockwork.Clock) *Scheduler {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.HistoryCap == 0 {
		cfg.HistoryCap = defaultHistoryCap
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		cfg:        cfg,
		invoker:    invoker,
		journal:    journal,
		broker:     broker,
		clock:      clock,
		logger:     log.WithComponent("cron"),
		schedules:  make(map[string]*types.CronSchedule),
		exprs:      make(map[string]cronexpr.Expression),
		executions: make(map[string]*types.CronExecution),
		history:    make(map[string][]string),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the heartbeat loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the heartbeat and waits for in-flight executions.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

// tick fires every active schedule that is due. Firings are submitted
// without awaiting; overlapping firings of the same schedule are permitted.
func (s *Scheduler) tick() {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*types.CronSchedule
	for _, sched := range s.schedules {
		if sched.Status == types.ScheduleStatusActive && !sched.NextRunAt.After(now) {
			due = append(due, sched)
			// Advance immediately so the next tick does not double-fire
			// while this firing is still running.
			s.advanceLocked(sched, now)
		}
	}
	s.mu.Unlock()

	for _, sched := range due {
		s.wg.Add(1)
		go func(sched *types.CronSchedule) {
			defer s.wg.Done()
			s.executeSchedule(sched.ID, now)
		}(sched)
	}
}

// executeSchedule runs one firing with retries. Attempts are sequential and
// iterative; each races the invoker against the schedule timeout.
func (s *Scheduler) executeSchedule(scheduleID string, scheduledAt time.Time) *types.CronExecution {
	s.mu.Lock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	exec := &types.CronExecution{
		ID:          uuid.New().String(),
		ScheduleID:  sched.ID,
		FunctionID:  sched.FunctionID,
		Status:      types.ExecutionStatusPending,
		ScheduledAt: scheduledAt,
		MaxAttempts: sched.MaxRetries + 1,
	}
	s.executions[exec.ID] = exec
	s.appendHistoryLocked(sched.ID, exec.ID)
	timeout := sched.Timeout
	retryDelay := sched.RetryDelay
	maxAttempts := sched.MaxRetries + 1
	functionID := sched.FunctionID
	s.mu.Unlock()

	logger := s.logger.With().Str("schedule_id", scheduleID).Str("execution_id", exec.ID).Logger()
	start := s.clock.Now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.mu.Lock()
		exec.Attempt = attempt
		exec.Status = types.ExecutionStatusRunning
		exec.StartedAt = s.clock.Now()
		s.mu.Unlock()

		result, status := s.attempt(functionID, timeout)

		s.mu.Lock()
		exec.Status = status
		exec.EndedAt = s.clock.Now()
		if status == types.ExecutionStatusSuccess {
			exec.Output = result.Output
			exec.ExitCode = result.ExitCode
		}
		s.mu.Unlock()

		if status == types.ExecutionStatusSuccess {
			break
		}
		logger.Warn().Str("status", string(status)).Int("attempt", attempt).Msg("execution attempt failed")
		if attempt < maxAttempts && retryDelay > 0 {
			select {
			case <-s.clock.After(retryDelay):
			case <-s.stopCh:
				s.mu.Lock()
				exec.Status = types.ExecutionStatusCancelled
				s.mu.Unlock()
				return exec
			}
		}
	}

	success := exec.Status == types.ExecutionStatusSuccess

	s.mu.Lock()
	sched, ok = s.schedules[scheduleID]
	if ok {
		sched.TotalRuns++
		sched.LastRunAt = scheduledAt
		if success {
			sched.SuccessfulRuns++
		} else {
			sched.FailedRuns++
		}
		// Auto-disable after a full window of consecutive non-successes.
		if !success && s.recentAllFailedLocked(scheduleID) {
			sched.Status = types.ScheduleStatusError
			sched.UpdatedAt = s.clock.Now()
			logger.Error().Msg("schedule disabled after repeated failures")
			if s.broker != nil {
				s.broker.Emit(events.EventScheduleDisabled, sched.Name, map[string]string{"schedule_id": sched.ID})
			}
		}
		s.persistLocked(sched)
	}
	s.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = string(exec.Status)
	}
	metrics.CronExecutionsTotal.WithLabelValues(outcome).Inc()
	metrics.CronExecutionDuration.Observe(s.clock.Since(start).Seconds())
	if s.broker != nil {
		s.broker.Emit(events.EventScheduleFired, scheduleID, map[string]string{
			"schedule_id":  scheduleID,
			"execution_id": exec.ID,
			"outcome":      outcome,
		})
	}
	return exec
}

// attempt races one invoker call against the schedule timeout.
func (s *Scheduler) attempt(functionID string, timeout time.Duration) (types.InvokeResult, types.ExecutionStatus) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		result types.InvokeResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := s.invoker(ctx, functionID, []byte("{}"))
		ch <- outcome{result, err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		timer = s.clock.After(timeout)
	}
	select {
	case out := <-ch:
		if out.err != nil {
			return types.InvokeResult{}, types.ExecutionStatusFailed
		}
		return out.result, types.ExecutionStatusSuccess
	case <-timer:
		cancel()
		return types.InvokeResult{}, types.ExecutionStatusTimeout
	case <-s.stopCh:
		cancel()
		return types.InvokeResult{}, types.ExecutionStatusCancelled
	}
}

// CreateSchedule validates the expression and registers an active schedule.
func (s *Scheduler) CreateSchedule(params ScheduleParams) (*types.CronSchedule, error) {
	expr, err := cronexpr.Parse(params.Expression)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	loc, err := loadLocation(params.Timezone)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if params.FunctionID == "" {
		return nil, trace.BadParameter("schedule needs a target function")
	}
	if params.MaxRetries < 0 {
		return nil, trace.BadParameter("max retries must not be negative")
	}

	now := s.clock.Now()
	next, err := expr.Next(now, loc)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sched := &types.CronSchedule{
		ID:         uuid.New().String(),
		FunctionID: params.FunctionID,
		Name:       params.Name,
		Expression: expr.String(),
		Timezone:   loc.String(),
		Status:     types.ScheduleStatusActive,
		Timeout:    params.Timeout,
		MaxRetries: params.MaxRetries,
		RetryDelay: params.RetryDelay,
		OwnerID:    params.OwnerID,
		CreatedAt:  now,
		UpdatedAt:  now,
		NextRunAt:  next,
	}

	s.mu.Lock()
	s.schedules[sched.ID] = sched
	s.exprs[sched.ID] = expr
	s.persistLocked(sched)
	s.mu.Unlock()

	metrics.SchedulesTotal.WithLabelValues(string(types.ScheduleStatusActive)).Inc()
	if s.broker != nil {
		s.broker.Emit(events.EventScheduleCreated, sched.Name, map[string]string{"schedule_id": sched.ID})
	}
	s.logger.Info().
		Str("schedule_id", sched.ID).
		Str("expression", sched.Expression).
		Time("next_run_at", next).
		Msg("schedule created")
	cp := *sched
	return &cp, nil
}

// Pause suspends ticker inclusion for the schedule.
func (s *Scheduler) Pause(scheduleID, ownerID string) error {
	return s.setStatus(scheduleID, ownerID, types.ScheduleStatusPaused, false)
}

// Resume reactivates a paused or error'd schedule and recomputes its next
// firing.
func (s *Scheduler) Resume(scheduleID, ownerID string) error {
	return s.setStatus(scheduleID, ownerID, types.ScheduleStatusActive, true)
}

func (s *Scheduler) setStatus(scheduleID, ownerID string, status types.ScheduleStatus, recompute bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, err := s.authorizedLocked(scheduleID, ownerID)
	if err != nil {
		return trace.Wrap(err)
	}
	sched.Status = status
	sched.UpdatedAt = s.clock.Now()
	if recompute {
		s.advanceLocked(sched, s.clock.Now())
	}
	s.persistLocked(sched)
	return nil
}

// Delete removes the schedule and its execution history.
func (s *Scheduler) Delete(scheduleID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.authorizedLocked(scheduleID, ownerID); err != nil {
		return trace.Wrap(err)
	}
	for _, execID := range s.history[scheduleID] {
		delete(s.executions, execID)
	}
	delete(s.history, scheduleID)
	delete(s.schedules, scheduleID)
	delete(s.exprs, scheduleID)
	if s.journal != nil {
		if err := s.journal.DeleteSchedule(scheduleID); err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", scheduleID).Msg("journal delete failed")
		}
	}
	return nil
}

// TriggerManually fires the schedule immediately, bypassing NextRunAt.
func (s *Scheduler) TriggerManually(scheduleID, ownerID string) (*types.CronExecution, error) {
	s.mu.Lock()
	_, err := s.authorizedLocked(scheduleID, ownerID)
	s.mu.Unlock()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	exec := s.executeSchedule(scheduleID, s.clock.Now())
	if exec == nil {
		return nil, trace.NotFound("schedule %q not found", scheduleID)
	}
	s.mu.Lock()
	cp := *exec
	s.mu.Unlock()
	return &cp, nil
}

// GetSchedule returns the schedule record.
func (s *Scheduler) GetSchedule(scheduleID string) (*types.CronSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return nil, trace.NotFound("schedule %q not found", scheduleID)
	}
	cp := *sched
	return &cp, nil
}

// ListSchedules returns all schedules.
func (s *Scheduler) ListSchedules() []*types.CronSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.CronSchedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		cp := *sched
		out = append(out, &cp)
	}
	return out
}

// History returns the schedule's recent executions, oldest first.
func (s *Scheduler) History(scheduleID string) ([]*types.CronExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[scheduleID]; !ok {
		return nil, trace.NotFound("schedule %q not found", scheduleID)
	}
	ids := s.history[scheduleID]
	out := make([]*types.CronExecution, 0, len(ids))
	for _, id := range ids {
		if exec, ok := s.executions[id]; ok {
			cp := *exec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Scheduler) authorizedLocked(scheduleID, ownerID string) (*types.CronSchedule, error) {
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return nil, trace.NotFound("schedule %q not found", scheduleID)
	}
	if sched.OwnerID != ownerID {
		return nil, trace.AccessDenied("schedule %q does not belong to %q", scheduleID, ownerID)
	}
	return sched, nil
}

// advanceLocked recomputes NextRunAt from the expression. Lock held.
func (s *Scheduler) advanceLocked(sched *types.CronSchedule, after time.Time) {
	expr, ok := s.exprs[sched.ID]
	if !ok {
		return
	}
	loc, err := loadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}
	next, err := expr.Next(after, loc)
	if err != nil {
		// Unreachable expression (e.g. Feb 31): park the schedule.
		sched.Status = types.ScheduleStatusError
		s.logger.Error().Err(err).Str("schedule_id", sched.ID).Msg("no next firing, schedule parked")
		return
	}
	sched.NextRunAt = next
}

// appendHistoryLocked records an execution id, evicting beyond the cap.
// Lock held.
func (s *Scheduler) appendHistoryLocked(scheduleID, execID string) {
	hist := append(s.history[scheduleID], execID)
	if len(hist) > s.cfg.HistoryCap {
		evicted := hist[:len(hist)-s.cfg.HistoryCap]
		for _, id := range evicted {
			delete(s.executions, id)
		}
		hist = hist[len(hist)-s.cfg.HistoryCap:]
	}
	s.history[scheduleID] = hist
}

// recentAllFailedLocked reports whether the trailing window of executions
// has no success in it. Lock held.
func (s *Scheduler) recentAllFailedLocked(scheduleID string) bool {
	hist := s.history[scheduleID]
	if len(hist) < autoDisableWindow {
		return false
	}
	for _, id := range hist[len(hist)-autoDisableWindow:] {
		exec, ok := s.executions[id]
		if !ok {
			continue
		}
		if exec.Status == types.ExecutionStatusSuccess {
			return false
		}
	}
	return true
}

func (s *Scheduler) persistLocked(sched *types.CronSchedule) {
	if s.journal == nil {
		return
	}
	cp := *sched
	if err := s.journal.PutSchedule(&cp); err != nil {
		s.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("journal write failed")
	}
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, trace.BadParameter("invalid timezone %q", name)
	}
	return loc, nil
}
