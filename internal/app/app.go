// Package app wires the bot: configuration, logging, storage, the content
// pipeline, the scheduler, the Telegram transport and the status surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"nelculobot/internal/bot"
	"nelculobot/internal/broadcast"
	"nelculobot/internal/caption"
	"nelculobot/internal/config"
	"nelculobot/internal/content"
	"nelculobot/internal/eventbus"
	"nelculobot/internal/observability/metrics"
	"nelculobot/internal/observability/status"
	"nelculobot/internal/poster"
	"nelculobot/internal/render"
	"nelculobot/internal/runtime/lifecycle"
	"nelculobot/internal/runtime/supervisor"
	"nelculobot/internal/scheduler"
	"nelculobot/internal/storage"
	kit "nelculobot/internal/transport"
	"nelculobot/internal/transport/telegram"
	"nelculobot/internal/transport/telegram/router"
	"nelculobot/pkg/logx"
)

// Version is stamped at build time with -ldflags "-X nelculobot/internal/app.Version=...".
var Version = "dev"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	sd   lifecycle.Notifier
	bus  *eventbus.Bus

	store   storage.Store
	state   *storage.StateStore
	adapter *telegram.Adapter
	metrics *metrics.Metrics

	rules    *content.RuleSet
	caption  *caption.Switch
	dispatch *broadcast.Dispatcher
	runner   *bot.Runner
	sched    *scheduler.Scheduler
	cmdm     *router.CommandManager
	commands []router.Command
	status   *status.Service

	startedAt time.Time
	updates   chan kit.Update

	reasonMu sync.Mutex
	reason   lifecycle.StopReason
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Dur(cfg.Telegram.PollTimeout, 10*time.Second),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off, set the target, then apply the
	// final config so Apply doesn't warn about a missing target.
	logCfg := mapLogging(cfg)
	final := logCfg
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	logSvc.SetTelegramTarget(cfg.Telegram.AdminChatID)
	logSvc.Apply(final)
	appLog := log.With(logx.String("comp", "app"))

	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	store, err := storage.Open(mapStorage(cfg), log)
	if err != nil {
		return fail(err)
	}
	state, err := storage.OpenState(cfg.Storage.StatePath, log)
	if err != nil {
		_ = store.Close()
		return fail(err)
	}

	m := metrics.New()
	bus := eventbus.New()

	rules := content.NewRuleSet(mapRules(cfg))
	httpClient := &http.Client{}
	tmdb := content.NewTMDB(mapTMDB(cfg), rules, mapBreaker(cfg),
		content.WithHTTPClient(httpClient),
		content.WithLogger(log.With(logx.String("comp", "content"))),
	)
	chain := content.NewChain(log, cfg.Content.DefaultTitle,
		tmdb,
		content.NewLocalList(cfg.Content.LocalFiles, rules, content.DefaultRand(), log),
	)

	pcfg := mapPoster(cfg)
	resolver := poster.NewResolver(pcfg, log,
		poster.NewSearchers(cfg.Poster.Providers, mapEndpoints(cfg), pcfg.UserAgent, httpClient)...)

	capt := caption.NewSwitch(cfg.Caption.Strategy)
	renderer := render.New(mapRender(cfg), log, render.WithHTTPClient(httpClient))
	dispatch := broadcast.New(store, ad, mapBroadcast(cfg), log, m)

	a := &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		sd:       lifecycle.NewNotifier(appLog),
		bus:      bus,
		store:    store,
		state:    state,
		adapter:  ad,
		metrics:  m,
		rules:    rules,
		caption:  capt,
		dispatch: dispatch,
		updates:  make(chan kit.Update, 256),
	}

	a.runner = bot.NewRunner(bot.RunnerDeps{
		Content:  chain,
		Poster:   resolver,
		Caption:  capt,
		Render:   renderer,
		Dispatch: dispatch,
		Store:    store,
		Metrics:  m,
		Log:      log,
		Timeout:  config.Dur(cfg.Schedule.CycleTimeout, 10*time.Minute),
		OnFinished: func(res bot.CycleResult) {
			bus.Publish(eventbus.Event{Type: eventbus.CycleFinished, Data: res})
		},
	})
	a.sched = scheduler.New(mapScheduler(cfg), state, a.runner.Job, log)

	a.cmdm = router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.AdminChatID)
	cmds := bot.NewCommands(bot.CommandDeps{
		Store:    store,
		Schedule: &announcingSchedule{Scheduler: a.sched, bus: bus},
		Runner:   a.runner,
		Dispatch: dispatch,
		Log:      log,
		Restart:  func() { a.requestStop(lifecycle.StopRestart) },
		Command:  m.Command,
	})
	a.commands = cmds.Registry()

	a.status = status.New(mapStatus(cfg), a.snapshot, m.Registry(), log)
	return a, nil
}

// Done is closed when the app context is cancelled: a fatal error, /restart
// or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// StopReason reports a stop requested from inside the app (/restart), or
// fatal_error when the supervisor failed. It is StopUnknown otherwise.
func (a *App) StopReason() lifecycle.StopReason {
	a.reasonMu.Lock()
	r := a.reason
	a.reasonMu.Unlock()
	if r != "" {
		return r
	}
	if a.Err() != nil {
		return lifecycle.StopFatalError
	}
	return lifecycle.StopUnknown
}

func (a *App) requestStop(r lifecycle.StopReason) {
	a.reasonMu.Lock()
	if a.reason == "" {
		a.reason = r
	}
	a.reasonMu.Unlock()
	if a.sup != nil {
		// Give the acknowledgement reply a moment to leave.
		time.AfterFunc(time.Second, a.sup.Cancel)
	}
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Status.Enabled && cfg.Status.Token == "" && !status.IsLoopbackAddr(cfg.Status.Addr) {
			return fmt.Errorf("status.addr %q: %w", cfg.Status.Addr, status.ErrInsecureBind)
		}
		return nil
	})

	cfg := a.cfgm.Get()
	if admin := strings.TrimSpace(cfg.Telegram.AdminChatID); admin != "" {
		if added, err := a.store.Add(ctx, admin); err != nil {
			a.log.Warn("admin subscribe failed", logx.Err(err))
		} else if added {
			a.log.Info("admin subscribed", logx.String("chat", admin))
		}
	} else {
		a.log.Warn("admin_chat_id not set; admin commands are disabled")
	}
	a.metrics.Subscribers(a.store.Load(ctx).Len())

	a.cmdm.SetRegistry(a.sup.Context(), a.commands)
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.status.Start(a.sup.Context()); err != nil {
		// Optional surface; the bot runs without it.
		a.log.Error("status server not started", logx.Err(err))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("events", a.eventLoop)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("every %s", a.sched.Interval()))
	a.log.Info("app started",
		logx.String("version", Version),
		logx.String("store", a.store.Driver()),
		logx.Duration("interval", a.sched.Interval()),
		logx.Time("next", a.sched.Next()),
	)
	return nil
}

// eventLoop keeps the subscriber gauge and the service status in step with
// what the bot does.
func (a *App) eventLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			switch e.Type {
			case eventbus.CycleFinished:
				if res, ok := e.Data.(bot.CycleResult); ok {
					a.sd.Status(fmt.Sprintf("last cycle %s: %s", res.Outcome, res.Item.Title))
				}
				a.metrics.Subscribers(a.store.Load(ctx).Len())
			case eventbus.IntervalChanged:
				a.sd.Status(fmt.Sprintf("every %s", a.sched.Interval()))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason lifecycle.StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	// The scheduler waits for an in-flight cycle; bound it so a stuck
	// broadcast cannot hold the process.
	step("scheduler", 5*time.Second, a.sched.Stop)
	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Int("exit_code", reason.ExitCode()))
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// announcingSchedule publishes interval changes made from chat.
type announcingSchedule struct {
	*scheduler.Scheduler
	bus *eventbus.Bus
}

func (s *announcingSchedule) SetInterval(ctx context.Context, minutes int) error {
	err := s.Scheduler.SetInterval(ctx, minutes)
	// A persistence failure still applies the interval.
	if s.Interval() == time.Duration(minutes)*time.Minute {
		s.bus.Publish(eventbus.Event{Type: eventbus.IntervalChanged, Data: minutes})
	}
	return err
}
