package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"nelculobot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig turns log lines at or above MinLevel into alerts for the
// bot administrator. Repeats of the same alert within a minute are folded.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Field mutates a zerolog event. Later fields win on duplicate keys.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Strings(k string, v []string) Field {
	return func(e *zerolog.Event) { e.Strs(k, v) }
}
func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger is a structured logger. Loggers from a Service follow its Apply
// calls; the zero value discards everything.
type Logger struct {
	svc     *Service
	base    zerolog.Logger
	hasBase bool

	fields []Field
}

// Nop returns a logger that never writes anything.
func Nop() Logger {
	return Logger{base: zerolog.Nop(), hasBase: true}
}

// NewConsole is a standalone console logger for use before New.
func NewConsole(level string) Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	zl := zerolog.New(newConsoleWriter(os.Stdout)).Level(parseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}
}

// NewWriter logs JSON lines to w.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level, zerolog.DebugLevel)).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}
}

func (l Logger) IsZero() bool { return l.svc == nil && !l.hasBase && len(l.fields) == 0 }

func (l Logger) root() zerolog.Logger {
	if l.svc != nil {
		return l.svc.current()
	}
	if l.hasBase {
		return l.base
	}
	return zerolog.Nop()
}

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	cp := l
	cp.fields = append(append([]Field(nil), l.fields...), fields...)
	return cp
}

func (l Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields...) }
func (l Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields...) }
func (l Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields...) }
func (l Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields...) }

func (l Logger) log(level zerolog.Level, msg string, fields ...Field) {
	zl := l.root()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}

	if caller := shortCaller(3); caller != "" {
		e.Str(zerolog.CallerFieldName, caller)
	}
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

func shortCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok || file == "" {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Sender is the subset of the transport adapter the alert sink needs.
type Sender interface {
	SendText(ctx context.Context, to string, text string, opt *transport.SendOptions) error
}

// alertRepeatWindow folds identical alerts so a failing broadcast does not
// page the admin once per recipient.
const alertRepeatWindow = time.Minute

type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // zerolog.Logger
	file *os.File

	sender   Sender
	alerts   chan string
	tgOnce   sync.Once
	tgCancel context.CancelFunc
	tgWG     sync.WaitGroup
	now      func() time.Time

	// guarded by mu
	admin    string
	limiter  *rate.Limiter
	minLevel zerolog.Level
	recent   map[string]time.Time
	folded   map[string]int
}

// New applies cfg and returns the service plus a root Logger. sender may be
// nil, which disables alerts.
func New(cfg Config, sender Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{
		cfg:    cfg,
		sender: sender,
		alerts: make(chan string, 256),
		now:    time.Now,
		recent: map[string]time.Time{},
		folded: map[string]int{},
	}
	s.root.Store(zerolog.New(newConsoleWriter(os.Stdout)).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

// SetTelegramTarget sets the admin chat that receives alerts. Empty
// disables them without touching the config.
func (s *Service) SetTelegramTarget(admin string) {
	s.mu.Lock()
	s.admin = strings.TrimSpace(admin)
	s.mu.Unlock()
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	cancel := s.tgCancel
	s.tgCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.tgWG.Wait()
	}
	if f != nil {
		_ = f.Close()
	}
	return nil
}

// Apply swaps outputs and levels at runtime.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.minLevel = parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Telegram.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./nelculobot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled {
		s.tgOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			s.tgCancel = cancel
			s.tgWG.Add(1)
			go func() {
				defer s.tgWG.Done()
				s.alertWorker(ctx)
			}()
		})
		writers = append(writers, alertWriter{svc: s})
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}

	lvl := parseLevel(cfg.Level, zerolog.InfoLevel)
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	s.root.Store(zl)
}

func newConsoleWriter(w io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	cw.FormatCaller = func(i interface{}) string {
		s, _ := i.(string)
		return s
	}
	return cw
}

func (s *Service) alertWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.alerts:
			s.mu.Lock()
			to := s.admin
			s.mu.Unlock()
			if to == "" {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = s.sender.SendText(sctx, to, msg, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
			cancel()
		}
	}
}

// admit decides whether an alert with key goes out now. It returns how many
// identical alerts were folded since the last one sent.
func (s *Service) admit(level zerolog.Level, key string) (repeats int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admin == "" || s.sender == nil || level < s.minLevel {
		return 0, false
	}
	now := s.now()
	if last, seen := s.recent[key]; seen && now.Sub(last) < alertRepeatWindow {
		s.folded[key]++
		return 0, false
	}
	if !s.limiter.AllowN(now, 1) {
		return 0, false
	}
	for k, t := range s.recent {
		if now.Sub(t) >= alertRepeatWindow {
			delete(s.recent, k)
		}
	}
	s.recent[key] = now
	repeats = s.folded[key]
	delete(s.folded, key)
	return repeats, true
}

type alertWriter struct{ svc *Service }

func (w alertWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w alertWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a, ok := parseAlert(p)
	if !ok {
		return len(p), nil
	}
	repeats, ok := w.svc.admit(level, a.key())
	if !ok {
		return len(p), nil
	}
	// Never block core logging.
	select {
	case w.svc.alerts <- a.html(repeats):
	default:
	}
	return len(p), nil
}

type alert struct {
	level  string
	comp   string
	msg    string
	fields map[string]any
}

func parseAlert(p []byte) (alert, bool) {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return alert{}, false
	}
	a := alert{fields: map[string]any{}}
	a.level, _ = m["level"].(string)
	a.comp, _ = m["comp"].(string)
	a.msg, _ = m["message"].(string)
	for k, v := range m {
		switch k {
		case "time", "level", "message", "comp", "stack":
			continue
		}
		a.fields[k] = v
	}
	return a, a.msg != ""
}

func (a alert) key() string { return a.level + "|" + a.comp + "|" + a.msg }

// html renders the alert for Telegram's HTML parse mode.
func (a alert) html(repeats int) string {
	var b strings.Builder
	b.WriteString(alertEmoji(a.level))
	b.WriteString(" <b>")
	b.WriteString(html.EscapeString(strings.ToUpper(a.level)))
	b.WriteString("</b>")
	if a.comp != "" {
		b.WriteString(" <code>")
		b.WriteString(html.EscapeString(a.comp))
		b.WriteString("</code>")
	}
	b.WriteString("\n")
	b.WriteString(html.EscapeString(truncate(a.msg, 500)))

	keys := make([]string, 0, len(a.fields))
	for k := range a.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(k))
		b.WriteString(": ")
		b.WriteString(html.EscapeString(truncate(fmt.Sprint(a.fields[k]), 300)))
	}
	if repeats > 0 {
		fmt.Fprintf(&b, "\n<i>(+%d simili nell'ultimo minuto)</i>", repeats)
	}
	return b.String()
}

func alertEmoji(level string) string {
	switch level {
	case "error", "fatal", "panic":
		return "🚨"
	default:
		return "⚠️"
	}
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	cut := maxN - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
