package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/copseworks/forage"
)

const (
	defaultSchedulePollInterval = 5 * time.Second
	defaultScheduleBatchLimit   = 100
)

// Schedules use the classic five-field cron form. Expressions run in
// UTC only; robfig's optional seconds field and timezone prefixes are
// rejected so a schedule means the same thing on every host.
var scheduleCronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

func parseScheduleCron(expr string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, errors.New("cron expression is required")
	}
	if upper := strings.ToUpper(trimmed); strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, errors.New("schedules run in UTC, remove the timezone prefix from the cron expression")
	}
	spec, err := scheduleCronParser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", trimmed, err)
	}
	return spec, nil
}

// nextScheduleRun returns the first activation strictly after the given
// instant.
func nextScheduleRun(expr string, after time.Time) (time.Time, error) {
	spec, err := parseScheduleCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(after.UTC()), nil
}

// FetchSchedulerConfig configures the background fetch schedule runner.
type FetchSchedulerConfig struct {
	Runner       *Server
	Store        ScheduleStore
	PollInterval time.Duration
	BatchLimit   int
	Now          func() time.Time
	Logger       *slog.Logger
}

// FetchScheduler periodically executes due fetch schedules.
type FetchScheduler struct {
	runner       *Server
	store        ScheduleStore
	pollInterval time.Duration
	batchLimit   int
	now          func() time.Time
	logger       *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFetchScheduler creates a fetch scheduler instance.
func NewFetchScheduler(cfg FetchSchedulerConfig) (*FetchScheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("fetch scheduler runner is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("fetch scheduler store is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulePollInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultScheduleBatchLimit
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &FetchScheduler{
		runner:       cfg.Runner,
		store:        cfg.Store,
		pollInterval: cfg.PollInterval,
		batchLimit:   cfg.BatchLimit,
		now:          cfg.Now,
		logger:       cfg.Logger,
		active:       map[string]struct{}{},
	}, nil
}

// Start starts background polling.
func (s *FetchScheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("fetch scheduler is nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = s.RunOnce(loopCtx)
			}
		}
	}()

	_ = ctx
	return nil
}

// Stop stops background polling.
func (s *FetchScheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single scheduler pass.
func (s *FetchScheduler) RunOnce(ctx context.Context) error {
	if s == nil || s.store == nil || s.runner == nil {
		return errors.New("fetch scheduler is not configured")
	}

	now := s.now().UTC()
	dueSchedules, err := s.store.ListDue(ctx, now, s.batchLimit)
	if err != nil {
		return err
	}

	for _, schedule := range dueSchedules {
		s.processDueSchedule(ctx, schedule, now)
	}
	return nil
}

func (s *FetchScheduler) processDueSchedule(ctx context.Context, schedule FetchSchedule, now time.Time) {
	if !schedule.Enabled {
		return
	}

	if s.isScheduleActive(schedule.ID) {
		s.markSkippedOverlap(ctx, schedule, now)
		return
	}

	nextRunAt, err := nextScheduleRun(schedule.Cron, now)
	if err != nil {
		s.markScheduleFailure(ctx, schedule, now, err)
		return
	}

	schedule.NextRunAt = nextRunAt
	schedule.LastStatus = ScheduleRunStatusRunning
	schedule.LastError = ""
	schedule.UpdatedAt = now
	if err := s.store.Update(ctx, schedule); err != nil {
		s.logger.Error("update schedule before run", "schedule_id", schedule.ID, "provider", schedule.Provider, "error", err)
		return
	}

	s.markScheduleActive(schedule.ID)
	go s.runSchedule(schedule)
}

func (s *FetchScheduler) runSchedule(schedule FetchSchedule) {
	defer s.unmarkScheduleActive(schedule.ID)

	runID, runErr := s.runner.executeScheduledFetch(context.Background(), schedule)

	finish := s.now().UTC()
	latest, found, err := s.store.Get(context.Background(), schedule.ID)
	if err != nil {
		s.logger.Error("load schedule after run", "schedule_id", schedule.ID, "provider", schedule.Provider, "error", err)
		return
	}
	if !found {
		return
	}

	latest.UpdatedAt = finish
	latest.LastRunAt = &finish
	if runErr != nil {
		latest.LastStatus = ScheduleRunStatusFailed
		latest.LastError = runErr.Error()
		latest.LastRunID = runID
	} else {
		latest.LastStatus = ScheduleRunStatusCompleted
		latest.LastError = ""
		latest.LastRunID = runID
	}

	if err := s.store.Update(context.Background(), latest); err != nil {
		s.logger.Error("persist schedule run result", "schedule_id", schedule.ID, "provider", schedule.Provider, "error", err)
	}
}

func (s *FetchScheduler) markSkippedOverlap(ctx context.Context, schedule FetchSchedule, now time.Time) {
	nextRunAt, err := nextScheduleRun(schedule.Cron, now)
	if err != nil {
		s.markScheduleFailure(ctx, schedule, now, err)
		return
	}

	schedule.NextRunAt = nextRunAt
	schedule.LastStatus = ScheduleRunStatusSkippedOverlap
	schedule.LastError = "skipped because prior scheduled run is still active"
	schedule.UpdatedAt = now
	if err := s.store.Update(ctx, schedule); err != nil {
		s.logger.Error("persist overlap skip", "schedule_id", schedule.ID, "provider", schedule.Provider, "error", err)
	}
}

func (s *FetchScheduler) markScheduleFailure(ctx context.Context, schedule FetchSchedule, now time.Time, runErr error) {
	nextRunAt, nextErr := nextScheduleRun(schedule.Cron, now)
	if nextErr == nil {
		schedule.NextRunAt = nextRunAt
	}
	schedule.LastStatus = ScheduleRunStatusFailed
	schedule.LastError = runErr.Error()
	schedule.UpdatedAt = now
	if err := s.store.Update(ctx, schedule); err != nil {
		s.logger.Error("persist schedule failure", "schedule_id", schedule.ID, "provider", schedule.Provider, "error", err)
	}
}

func (s *FetchScheduler) isScheduleActive(scheduleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[scheduleID]
	return ok
}

func (s *FetchScheduler) markScheduleActive(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[scheduleID] = struct{}{}
}

func (s *FetchScheduler) unmarkScheduleActive(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, scheduleID)
}

// executeScheduledFetch builds an IntegrationDef from a stored schedule
// and runs it through the same path as POST /execute.
func (s *Server) executeScheduledFetch(ctx context.Context, schedule FetchSchedule) (string, error) {
	if s.invoker == nil {
		return "", errors.New("invoker not configured")
	}
	contract, ok := s.registry.Lookup(schedule.Provider)
	if !ok {
		return "", fmt.Errorf("%w: %q", forage.ErrUnknownProvider, schedule.Provider)
	}

	def := forage.IntegrationDef{
		Provider: schedule.Provider,
		Method:   schedule.Method,
	}
	if len(schedule.Arguments) > 0 {
		args := contract.NewArguments()
		if err := json.Unmarshal(schedule.Arguments, args); err != nil {
			return "", fmt.Errorf("decoding schedule arguments: %w", err)
		}
		def.Arguments = args
	}

	setup, err := s.resolveSetup(ctx, contract, nil, schedule.CredentialID)
	if err != nil {
		return "", err
	}
	def.Setup = setup

	runID, _, err := s.executeDef(ctx, def, schedule.ID)
	return runID, err
}
