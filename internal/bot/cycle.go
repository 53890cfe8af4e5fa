// Package bot glues the pipeline together: the cycle runner (select,
// resolve, caption, render, dispatch) and the chat command handlers.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nelculobot/internal/broadcast"
	"nelculobot/internal/content"
	"nelculobot/internal/observability/metrics"
	"nelculobot/internal/storage"
	"nelculobot/pkg/logx"
)

var ErrBusy = errors.New("a cycle is already running")

type Selector interface {
	Select(ctx context.Context) content.Item
}

type PosterResolver interface {
	Resolve(ctx context.Context, it content.Item) string
}

type Captioner interface {
	Ruin(title string) string
}

type Renderer interface {
	Render(ctx context.Context, text, bgURL string) ([]byte, error)
}

type Dispatcher interface {
	Broadcast(ctx context.Context, a broadcast.Artifact) broadcast.Report
	BroadcastText(ctx context.Context, id, text string) broadcast.Report
}

type Outcome string

const (
	OutcomeSent          Outcome = "sent"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeNoSubscribers Outcome = "empty"
	OutcomeFailed        Outcome = "failed"
)

// CycleResult describes one finished (or refused) cycle.
type CycleResult struct {
	ID        string
	Trigger   string
	Item      content.Item
	PosterURL string
	Caption   string
	Outcome   Outcome
	Report    broadcast.Report
	Err       error
	At        time.Time
	Took      time.Duration
}

type RunnerDeps struct {
	Content    Selector
	Poster     PosterResolver
	Caption    Captioner
	Render     Renderer
	Dispatch   Dispatcher
	Store      storage.Store
	Metrics    *metrics.Metrics
	Log        logx.Logger
	Timeout    time.Duration
	OnFinished func(CycleResult)
}

// Runner executes cycles one at a time. A trigger that arrives while a
// cycle runs is refused with ErrBusy.
type Runner struct {
	d RunnerDeps

	running atomic.Bool
	last    atomic.Pointer[CycleResult]
}

func NewRunner(d RunnerDeps) *Runner {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	d.Log = d.Log.With(logx.String("comp", "cycle"))
	return &Runner{d: d}
}

// Run selects a title from the content chain and broadcasts it.
func (r *Runner) Run(ctx context.Context, trigger string) (CycleResult, error) {
	return r.run(ctx, trigger, func(ctx context.Context) content.Item {
		return r.d.Content.Select(ctx)
	}, "")
}

// Post broadcasts a caller supplied title. credit, when set, is appended to
// the photo caption.
func (r *Runner) Post(ctx context.Context, title, credit string) (CycleResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return CycleResult{}, errors.New("empty title")
	}
	return r.run(ctx, "post", func(context.Context) content.Item {
		return content.Item{Title: title, Source: content.SourceDefault}
	}, strings.TrimSpace(credit))
}

// Job adapts Run to the scheduler.
func (r *Runner) Job(ctx context.Context) {
	res, err := r.Run(ctx, "schedule")
	if errors.Is(err, ErrBusy) {
		return
	}
	if err != nil {
		r.d.Log.Error("scheduled cycle failed", logx.String("cycle", res.ID), logx.Err(err))
	}
}

// Last returns the most recent finished cycle.
func (r *Runner) Last() (CycleResult, bool) {
	if p := r.last.Load(); p != nil {
		return *p, true
	}
	return CycleResult{}, false
}

func (r *Runner) Running() bool { return r.running.Load() }

func (r *Runner) run(ctx context.Context, trigger string, pick func(context.Context) content.Item, credit string) (res CycleResult, err error) {
	res = CycleResult{ID: uuid.NewString(), Trigger: trigger, At: time.Now()}
	log := r.d.Log.With(logx.String("cycle", res.ID), logx.String("trigger", trigger))

	if !r.running.CompareAndSwap(false, true) {
		log.Warn("cycle skipped: previous one still running")
		r.d.Metrics.Cycle(string(OutcomeSkipped), 0)
		res.Outcome = OutcomeSkipped
		return res, ErrBusy
	}
	defer r.running.Store(false)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cycle panic: %v", p)
			res.Outcome, res.Err = OutcomeFailed, err
			log.Error("cycle panic", logx.Any("panic", p))
		}
		res.Took = time.Since(res.At)
		r.d.Metrics.Cycle(string(res.Outcome), res.Took)
		r.last.Store(&res)
		if r.d.OnFinished != nil {
			r.d.OnFinished(res)
		}
	}()

	if r.d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.d.Timeout)
		defer cancel()
	}

	if n := r.d.Store.Load(ctx).Len(); n == 0 {
		log.Info("no subscribers; cycle skipped")
		res.Outcome = OutcomeNoSubscribers
		return res, nil
	}

	res.Item = pick(ctx)
	r.d.Metrics.Selection(string(res.Item.Source), res.Item.PosterURL != "")
	if r.d.Poster != nil {
		res.PosterURL = r.d.Poster.Resolve(ctx, res.Item)
	}
	res.Caption = r.d.Caption.Ruin(res.Item.Title)
	log.Info("cycle content",
		logx.String("title", res.Item.Title),
		logx.String("source", string(res.Item.Source)),
		logx.Bool("poster", res.PosterURL != ""),
	)

	img, err := r.d.Render.Render(ctx, res.Caption, res.PosterURL)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("render: %w", err)
		return res, res.Err
	}

	photoCaption := res.Caption
	if credit != "" {
		photoCaption += "\n\n" + credit
	}
	res.Report = r.d.Dispatch.Broadcast(ctx, broadcast.Artifact{ID: res.ID, Image: img, Caption: photoCaption})
	if res.Report.Err != nil {
		res.Outcome, res.Err = OutcomeFailed, res.Report.Err
		return res, res.Err
	}
	res.Outcome = OutcomeSent
	return res, nil
}
