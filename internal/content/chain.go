package content

import (
	"context"
	"strings"

	"nelculobot/pkg/logx"
)

const DefaultTitle = "Titolo di esempio"

// Chain tries its sources in order and falls back to a fixed title.
type Chain struct {
	sources  []Source
	fallback string
	log      logx.Logger
}

func NewChain(log logx.Logger, fallback string, sources ...Source) *Chain {
	if strings.TrimSpace(fallback) == "" {
		fallback = DefaultTitle
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{sources: sources, fallback: fallback, log: log.With(logx.String("comp", "content"))}
}

// Select never fails.
func (c *Chain) Select(ctx context.Context) Item {
	for _, src := range c.sources {
		if src == nil {
			continue
		}
		if e, ok := src.(interface{ Enabled() bool }); ok && !e.Enabled() {
			continue
		}
		res := c.fetch(ctx, src)
		if res.OK() {
			c.log.Debug("content selected",
				logx.String("source", src.Name()),
				logx.String("title", res.Item.Title),
				logx.Bool("poster", res.Item.PosterURL != ""),
			)
			return res.Item
		}
		fields := []logx.Field{logx.String("source", src.Name()), logx.String("kind", res.Kind.String())}
		if res.Err != nil {
			fields = append(fields, logx.Err(res.Err))
		}
		if res.Kind == KindEmpty || res.Kind == KindRejected {
			c.log.Debug("content source yielded nothing", fields...)
		} else {
			c.log.Warn("content source failed", fields...)
		}
	}
	return Item{Title: c.fallback, Source: SourceDefault}
}

func (c *Chain) fetch(ctx context.Context, src Source) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("content source panic", logx.String("source", src.Name()), logx.Any("panic", r))
			res = failed(KindUnavailable, nil)
		}
	}()
	return src.Fetch(ctx)
}
