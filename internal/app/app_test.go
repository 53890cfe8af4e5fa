package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nelculobot/internal/bot"
	"nelculobot/internal/broadcast"
	"nelculobot/internal/caption"
	"nelculobot/internal/config"
	"nelculobot/internal/content"
	"nelculobot/internal/eventbus"
	"nelculobot/internal/observability/metrics"
	"nelculobot/internal/observability/status"
	"nelculobot/internal/scheduler"
	"nelculobot/internal/storage"
	kit "nelculobot/internal/transport"
	"nelculobot/internal/transport/telegram/router"
	"nelculobot/pkg/logx"
)

func normalized(mut func(*config.Config)) *config.Config {
	cfg := &config.Config{}
	cfg.Telegram.Token = "t"
	if mut != nil {
		mut(cfg)
	}
	cfg.Normalize()
	return cfg
}

func TestMapStoragePathPerDriver(t *testing.T) {
	t.Parallel()

	file := mapStorage(normalized(nil))
	assert.Equal(t, "file", file.Driver)
	assert.Equal(t, "subscribers.json", file.Path)

	sqlite := mapStorage(normalized(func(c *config.Config) {
		c.Storage.Driver = "sqlite"
		c.Storage.BusyTimeout = "3s"
	}))
	assert.Equal(t, "nelculobot.db", sqlite.Path)
	assert.Equal(t, 3*time.Second, sqlite.BusyTimeout)

	redis := mapStorage(normalized(func(c *config.Config) { c.Storage.Driver = "redis" }))
	assert.Empty(t, redis.Path)
	assert.Equal(t, "127.0.0.1:6379", redis.Redis.Addr)
	assert.Equal(t, "nelculobot:subscribers", redis.Redis.Key)
}

func TestMapPipelineConfig(t *testing.T) {
	t.Parallel()

	off := false
	cfg := normalized(func(c *config.Config) {
		c.Poster.SearchEnabled = &off
		c.Content.Denylist = []string{"Sequel"}
		c.Render.FontSize = 80
	})

	assert.False(t, mapPoster(cfg).Enabled)
	assert.True(t, mapPoster(normalized(nil)).Enabled)

	r := mapRules(cfg)
	assert.Equal(t, []string{"Sequel"}, r.Denylist)
	assert.InDelta(t, 0.7, r.RecencySkip, 1e-9)
	assert.Equal(t, 1990, r.RecentSinceYear)

	rc := mapRender(cfg)
	assert.InDelta(t, 80.0, rc.FontSize, 1e-9)
	assert.Equal(t, 95, rc.Quality)
	assert.Equal(t, 15*time.Second, rc.DownloadTimeout)

	assert.Equal(t, 30*time.Second, mapBroadcast(cfg).SendTimeout)
	assert.Equal(t, scheduler.DefaultInitialDelay, mapScheduler(cfg).InitialDelay)
	assert.Equal(t, 30, mapScheduler(cfg).DefaultMinutes)
}

// liveApp builds the hot-reloadable part of App without a Telegram adapter.
func liveApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	logs, log := logx.New(mapLogging(cfg), nil)
	t.Cleanup(func() { _ = logs.Close() })

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "subs.json")}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	state, err := storage.OpenState(filepath.Join(t.TempDir(), "state.json"), log)
	require.NoError(t, err)

	m := metrics.New()
	a := &App{
		log:       log,
		logs:      logs,
		bus:       eventbus.New(),
		store:     store,
		state:     state,
		metrics:   m,
		rules:     content.NewRuleSet(mapRules(cfg)),
		caption:   caption.NewSwitch(cfg.Caption.Strategy),
		dispatch:  broadcast.New(store, nopSender{}, mapBroadcast(cfg), log, m),
		cmdm:      router.NewCommandManager(log, nil, cfg.Telegram.AdminChatID),
		runner:    bot.NewRunner(bot.RunnerDeps{Store: store, Metrics: m, Log: log}),
		startedAt: time.Now().Add(-time.Minute),
	}
	a.sched = scheduler.New(mapScheduler(cfg), state, a.runner.Job, log)
	a.status = status.New(mapStatus(cfg), a.snapshot, m.Registry(), log)
	return a
}

type nopSender struct{}

func (nopSender) SendText(context.Context, string, string, *kit.SendOptions) error { return nil }
func (nopSender) SendPhoto(context.Context, string, kit.Photo) error              { return nil }

func TestApplyConfigLive(t *testing.T) {
	t.Parallel()

	prev := normalized(func(c *config.Config) { c.Telegram.AdminChatID = "1" })
	a := liveApp(t, prev)
	events, unsub := a.bus.Subscribe(4)
	defer unsub()

	next := normalized(func(c *config.Config) {
		c.Telegram.AdminChatID = "2"
		c.Caption.Strategy = "insert"
		c.Content.Denylist = []string{"vietato"}
	})
	a.applyConfig(context.Background(), prev, next)

	assert.Equal(t, caption.StrategyInsert, a.caption.Name())
	assert.True(t, a.rules.Denied("Film Vietato"))
	assert.True(t, a.cmdm.IsAdmin(&kit.Message{FromID: "2"}))
	assert.False(t, a.cmdm.IsAdmin(&kit.Message{FromID: "1"}))

	e := <-events
	assert.Equal(t, eventbus.ConfigReloaded, e.Type)
	assert.ElementsMatch(t, []string{"telegram", "content", "caption"}, e.Data)
}

func TestApplyConfigNoChanges(t *testing.T) {
	t.Parallel()

	cfg := normalized(nil)
	a := liveApp(t, cfg)
	events, unsub := a.bus.Subscribe(1)
	defer unsub()

	a.applyConfig(context.Background(), cfg, normalized(nil))
	assert.Empty(t, events)
}

func TestSnapshotBeforeStart(t *testing.T) {
	t.Parallel()

	a := liveApp(t, normalized(nil))
	_, err := a.store.Import(context.Background(), []string{"10", "20"})
	require.NoError(t, err)

	snap := a.snapshot(context.Background())
	assert.Equal(t, 2, snap.Subscribers)
	assert.Equal(t, "file", snap.StoreDriver)
	assert.Equal(t, scheduler.Idle.String(), snap.Scheduler)
	assert.Nil(t, snap.NextFire)
	assert.Nil(t, snap.LastCycle)
	assert.False(t, snap.CycleRunning)
}

func TestAnnouncingSchedulePublishes(t *testing.T) {
	t.Parallel()

	a := liveApp(t, normalized(nil))
	require.NoError(t, a.sched.Start(context.Background()))
	t.Cleanup(func() { _ = a.sched.Stop(context.Background()) })

	events, unsub := a.bus.Subscribe(4)
	defer unsub()
	s := &announcingSchedule{Scheduler: a.sched, bus: a.bus}

	require.ErrorIs(t, s.SetInterval(context.Background(), 0), scheduler.ErrInvalidInterval)
	require.NoError(t, s.SetInterval(context.Background(), 15))

	e := <-events
	assert.Equal(t, eventbus.IntervalChanged, e.Type)
	assert.Equal(t, 15, e.Data)
	assert.Equal(t, 15*time.Minute, a.sched.Interval())
	assert.Equal(t, 15, a.state.Load(context.Background()).IntervalMinutes)
}

func TestCycleSnapshot(t *testing.T) {
	t.Parallel()

	res := bot.CycleResult{
		ID:      "c1",
		Trigger: "force",
		Outcome: bot.OutcomeSent,
		Item:    content.Item{Title: "Shrek"},
		Caption: "Shrek nel c*lo",
		Took:    1500 * time.Millisecond,
		Report:  broadcast.Report{Total: 3, Delivered: 2, Failed: 1},
	}
	c := cycleSnapshot(res)
	assert.Equal(t, "sent", c.Outcome)
	assert.Equal(t, "Shrek", c.Title)
	assert.Equal(t, "1.5s", c.Took)
	assert.Equal(t, 2, c.Delivered)
	assert.Empty(t, c.Error)
}
