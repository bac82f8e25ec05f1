package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/copseworks/forage"
)

func waitForScheduleStatus(t *testing.T, store ScheduleStore, id, want string) FetchSchedule {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		schedule, ok, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if ok && schedule.LastStatus == want {
			return schedule
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("schedule %q never reached status %q", id, want)
	return FetchSchedule{}
}

func TestFetchScheduler_RunOnce(t *testing.T) {
	t.Setenv("FORAGE_PROVIDER_SPIDER_API_KEY", "sk-env")

	var dispatched forage.IntegrationDef
	inv := &fakeInvoker{
		fetch: func(ctx context.Context, def forage.IntegrationDef) (forage.FetchOutput, error) {
			dispatched = def
			return forage.FetchOutput{Documents: []forage.Document{{Content: "doc"}}}, nil
		},
	}

	store := NewMemoryScheduleStore()
	runs := NewMemoryRunStore()
	srv := NewServer(ServerConfig{Invoker: inv, Runs: runs, Schedules: store})

	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	schedule := FetchSchedule{
		ID:        "sched-1",
		Provider:  forage.ProviderSpider,
		Arguments: json.RawMessage(`{"url":"https://example.com"}`),
		Cron:      "*/5 * * * *",
		Enabled:   true,
		NextRunAt: now.Add(-time.Minute),
	}
	if err := store.Create(context.Background(), schedule); err != nil {
		t.Fatal(err)
	}

	scheduler, err := NewFetchScheduler(FetchSchedulerConfig{
		Runner: srv,
		Store:  store,
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := scheduler.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	final := waitForScheduleStatus(t, store, "sched-1", ScheduleRunStatusCompleted)
	if final.LastRunID == "" {
		t.Error("last_run_id was not recorded")
	}
	if final.LastError != "" {
		t.Errorf("last_error = %q, want empty", final.LastError)
	}
	if !final.NextRunAt.After(now) {
		t.Errorf("next_run_at = %v, want after %v", final.NextRunAt, now)
	}

	if dispatched.Provider != forage.ProviderSpider {
		t.Errorf("dispatched provider = %q, want spider", dispatched.Provider)
	}
	setup, ok := dispatched.Setup.(*forage.SpiderSetup)
	if !ok || setup.APIKey != "sk-env" {
		t.Errorf("dispatched setup = %#v, want env-resolved key", dispatched.Setup)
	}

	records, err := runs.List(context.Background(), RunListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(records))
	}
	if records[0].ScheduleID != "sched-1" {
		t.Errorf("run schedule_id = %q, want sched-1", records[0].ScheduleID)
	}
}

func TestFetchScheduler_SkipsDisabled(t *testing.T) {
	inv := &fakeInvoker{
		fetch: func(ctx context.Context, def forage.IntegrationDef) (forage.FetchOutput, error) {
			t.Error("disabled schedule was dispatched")
			return forage.FetchOutput{}, nil
		},
	}
	store := NewMemoryScheduleStore()
	srv := NewServer(ServerConfig{Invoker: inv, Schedules: store})

	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	if err := store.Create(context.Background(), FetchSchedule{
		ID:        "sched-off",
		Provider:  forage.ProviderSpider,
		Cron:      "*/5 * * * *",
		Enabled:   false,
		NextRunAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	scheduler, err := NewFetchScheduler(FetchSchedulerConfig{
		Runner: srv,
		Store:  store,
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := scheduler.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestFetchScheduler_RecordsFailure(t *testing.T) {
	t.Setenv("FORAGE_PROVIDER_SPIDER_API_KEY", "sk-env")

	inv := &fakeInvoker{
		fetch: func(ctx context.Context, def forage.IntegrationDef) (forage.FetchOutput, error) {
			return forage.FetchOutput{}, context.DeadlineExceeded
		},
	}
	store := NewMemoryScheduleStore()
	srv := NewServer(ServerConfig{Invoker: inv, Schedules: store})

	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	if err := store.Create(context.Background(), FetchSchedule{
		ID:        "sched-fail",
		Provider:  forage.ProviderSpider,
		Arguments: json.RawMessage(`{"url":"https://example.com"}`),
		Cron:      "0 * * * *",
		Enabled:   true,
		NextRunAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	scheduler, err := NewFetchScheduler(FetchSchedulerConfig{
		Runner: srv,
		Store:  store,
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := scheduler.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	final := waitForScheduleStatus(t, store, "sched-fail", ScheduleRunStatusFailed)
	if final.LastError == "" {
		t.Error("last_error was not recorded")
	}
}

func TestNextScheduleRun(t *testing.T) {
	now := time.Date(2026, 8, 27, 12, 3, 0, 0, time.UTC)

	next, err := nextScheduleRun("*/5 * * * *", now)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 8, 27, 12, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestParseScheduleCron_Rejects(t *testing.T) {
	cases := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"timezone prefix", "CRON_TZ=America/New_York 0 * * * *"},
		{"tz prefix", "TZ=UTC 0 * * * *"},
		{"garbage", "every five minutes"},
		{"six fields", "0 0 * * * *"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseScheduleCron(tc.expr); err == nil {
				t.Errorf("parseScheduleCron(%q) succeeded, want error", tc.expr)
			}
		})
	}
}

func TestFetchScheduler_StartStop(t *testing.T) {
	store := NewMemoryScheduleStore()
	srv := NewServer(ServerConfig{Invoker: &fakeInvoker{}, Schedules: store})

	scheduler, err := NewFetchScheduler(FetchSchedulerConfig{
		Runner:       srv,
		Store:        store,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Starting twice is a no-op.
	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := scheduler.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	// Stopping twice is a no-op.
	if err := scheduler.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}
