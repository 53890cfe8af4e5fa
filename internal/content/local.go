package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"nelculobot/pkg/logx"
)

// LocalList picks from JSON arrays of titles on disk. Files are re-read on
// every Fetch so edits apply without a restart.
type LocalList struct {
	paths []string
	rules *RuleSet
	rnd   Rand
	log   logx.Logger
}

func NewLocalList(paths []string, rules *RuleSet, rnd Rand, log logx.Logger) *LocalList {
	if rnd == nil {
		rnd = DefaultRand()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LocalList{paths: paths, rules: rules, rnd: rnd, log: log.With(logx.String("source", "local"))}
}

func (l *LocalList) Name() string { return "local" }

func (l *LocalList) Fetch(ctx context.Context) Result {
	titles := l.Titles()
	if len(titles) == 0 {
		return failed(KindEmpty, fmt.Errorf("local list empty (%d files)", len(l.paths)))
	}
	return found(Item{Title: titles[l.rnd.IntN(len(titles))], Source: SourceLocal})
}

// Titles returns every acceptable title across all files.
func (l *LocalList) Titles() []string {
	var out []string
	for _, p := range l.paths {
		for _, t := range l.read(p) {
			t = strings.TrimSpace(t)
			if t == "" || l.rules.Denied(t) {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

func (l *LocalList) read(path string) []string {
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.log.Warn("local list unreadable", logx.String("path", path), logx.Err(err))
		}
		return nil
	}
	var titles []string
	if err := json.Unmarshal(b, &titles); err != nil {
		l.log.Warn("local list malformed; ignoring", logx.String("path", path), logx.Err(err))
		return nil
	}
	return titles
}

// Fixed always yields the same title.
type Fixed struct{ Title string }

func (Fixed) Name() string { return "default" }

func (f Fixed) Fetch(context.Context) Result {
	return found(Item{Title: f.Title, Source: SourceDefault})
}
