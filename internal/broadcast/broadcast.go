// Package broadcast fans one rendered artifact out to every subscriber.
//
// Each recipient is independent: a failed send is recorded and the loop moves
// on. The loop is detached from the caller's cancellation and bounded only by
// the per-send timeout.
package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"nelculobot/internal/observability/metrics"
	"nelculobot/internal/storage"
	"nelculobot/internal/transport"
	"nelculobot/pkg/logx"
)

var ErrNoArtifact = errors.New("broadcast: artifact has no image")

// Artifact is one rendered image shared read-only by every send of a cycle.
type Artifact struct {
	ID      string
	Image   []byte
	Caption string
}

type Failure struct {
	ID  string
	Err error
}

type Report struct {
	CycleID   string
	Total     int
	Delivered int
	Failed    int
	Failures  []Failure
	Pruned    []string
	StartedAt time.Time
	Duration  time.Duration
	// Err is set when nothing was attempted (missing artifact).
	Err error
}

// Sender is the outbound half of transport.Adapter.
type Sender interface {
	SendText(ctx context.Context, to string, text string, opt *transport.SendOptions) error
	SendPhoto(ctx context.Context, to string, p transport.Photo) error
}

type Config struct {
	RatePerSec       int
	SendTimeout      time.Duration
	PruneUnreachable bool
}

type Dispatcher struct {
	store   storage.Store
	sender  Sender
	log     logx.Logger
	metrics *metrics.Metrics

	cfg     atomic.Pointer[Config]
	limiter *rate.Limiter
}

func New(store storage.Store, sender Sender, cfg Config, log logx.Logger, m *metrics.Metrics) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		store:   store,
		sender:  sender,
		log:     log.With(logx.String("comp", "broadcast")),
		metrics: m,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	d.Apply(cfg)
	return d
}

// Apply swaps rate and timeout settings; a running dispatch picks up the new
// rate on its next send.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	d.cfg.Store(&cfg)
	d.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	d.limiter.SetBurst(1)
}

func (d *Dispatcher) config() Config { return *d.cfg.Load() }

// Broadcast sends the artifact as a photo to a snapshot of the subscriber set.
func (d *Dispatcher) Broadcast(ctx context.Context, a Artifact) Report {
	if len(a.Image) == 0 {
		return Report{CycleID: a.ID, StartedAt: time.Now(), Err: ErrNoArtifact}
	}
	photo := transport.Photo{Data: a.Image, Caption: a.Caption}
	return d.run(ctx, a.ID, "photo", func(sctx context.Context, to string) error {
		return d.sender.SendPhoto(sctx, to, photo)
	})
}

// BroadcastText sends a plain text message to every subscriber.
func (d *Dispatcher) BroadcastText(ctx context.Context, id, text string) Report {
	return d.run(ctx, id, "text", func(sctx context.Context, to string) error {
		return d.sender.SendText(sctx, to, text, &transport.SendOptions{DisablePreview: true})
	})
}

func (d *Dispatcher) run(ctx context.Context, id, kind string, send func(context.Context, string) error) Report {
	cfg := d.config()
	rep := Report{CycleID: id, StartedAt: time.Now()}
	base := context.WithoutCancel(ctx)
	ids := d.store.Load(base).Sorted()
	rep.Total = len(ids)
	d.metrics.Subscribers(rep.Total)

	log := d.log.With(logx.String("cycle", id), logx.String("kind", kind))
	if rep.Total == 0 {
		log.Info("no subscribers; nothing to send")
		rep.Duration = time.Since(rep.StartedAt)
		return rep
	}

	var gone []string
	for _, to := range ids {
		if err := d.limiter.Wait(base); err != nil {
			// Only reachable if the limiter is misconfigured.
			log.Warn("rate limiter wait failed", logx.Err(err))
		}
		sctx, cancel := context.WithTimeout(base, cfg.SendTimeout)
		err := send(sctx, to)
		cancel()

		d.metrics.Delivery(kind, err == nil)
		if err == nil {
			rep.Delivered++
			continue
		}
		rep.Failed++
		rep.Failures = append(rep.Failures, Failure{ID: to, Err: err})
		log.Warn("delivery failed", logx.String("to", to), logx.Err(err))
		if errors.Is(err, transport.ErrRecipientGone) {
			gone = append(gone, to)
		}
	}

	if cfg.PruneUnreachable && len(gone) > 0 {
		rep.Pruned = d.prune(base, gone, log)
	}
	rep.Duration = time.Since(rep.StartedAt)
	log.Info("broadcast done",
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Int("pruned", len(rep.Pruned)),
		logx.Duration("took", rep.Duration),
	)
	return rep
}

func (d *Dispatcher) prune(ctx context.Context, ids []string, log logx.Logger) []string {
	var out []string
	for _, id := range ids {
		removed, err := d.store.Remove(ctx, id)
		if err != nil {
			log.Warn("prune failed", logx.String("id", id), logx.Err(err))
			continue
		}
		if removed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	d.metrics.Pruned(len(out))
	if len(out) > 0 {
		log.Info("pruned unreachable subscribers", logx.Strings("ids", out))
	}
	return out
}
