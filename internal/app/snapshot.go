package app

import (
	"context"
	"time"

	"nelculobot/internal/bot"
	"nelculobot/internal/observability/status"
)

func (a *App) snapshot(ctx context.Context) status.Snapshot {
	snap := status.Snapshot{
		Version:         Version,
		StartedAt:       a.startedAt,
		Uptime:          time.Since(a.startedAt).Truncate(time.Second).String(),
		IntervalMinutes: int(a.sched.Interval() / time.Minute),
		Scheduler:       a.sched.State().String(),
		Subscribers:     a.store.Load(ctx).Len(),
		StoreDriver:     a.store.Driver(),
		CycleRunning:    a.runner.Running(),
	}
	if next := a.sched.Next(); !next.IsZero() {
		snap.NextFire = &next
	}
	if last, ok := a.runner.Last(); ok {
		snap.LastCycle = cycleSnapshot(last)
	}
	return snap
}

func cycleSnapshot(res bot.CycleResult) *status.Cycle {
	c := &status.Cycle{
		ID:        res.ID,
		Trigger:   res.Trigger,
		Outcome:   string(res.Outcome),
		Title:     res.Item.Title,
		Caption:   res.Caption,
		At:        res.At,
		Took:      res.Took.Truncate(time.Millisecond).String(),
		Total:     res.Report.Total,
		Delivered: res.Report.Delivered,
		Failed:    res.Report.Failed,
	}
	if res.Err != nil {
		c.Error = res.Err.Error()
	}
	return c
}
