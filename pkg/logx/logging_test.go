package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"nelculobot/internal/transport"
)

func TestWriterLoggerEmitsFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["n"] != float64(3) {
		t.Fatalf("unexpected record: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error should not be emitted: %v", m)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("ignored")
}

type captureSender struct {
	mu   sync.Mutex
	to   []string
	text []string
}

func (c *captureSender) SendText(_ context.Context, to, text string, _ *transport.SendOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, to)
	c.text = append(c.text, text)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.text)
}

func TestTelegramSinkForwardsWarnings(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}}, sender)
	defer svc.Close()
	svc.SetTelegramTarget("42")

	log.Info("not forwarded")
	log.Warn("forwarded", String("k", "v"))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Fatalf("expected 1 forwarded line, got %d", sender.count())
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.to[0] != "42" {
		t.Fatalf("target = %q", sender.to[0])
	}
	if !strings.HasPrefix(sender.text[0], "⚠️ <b>WARN</b>\nforwarded") || !strings.Contains(sender.text[0], "\nk: v") {
		t.Fatalf("unexpected text: %q", sender.text[0])
	}
}

func TestAlertsFoldRepeats(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, RatePerSec: 100}}, sender)
	defer svc.Close()
	svc.SetTelegramTarget("42")

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.mu.Lock()
	svc.now = func() time.Time { return now }
	svc.mu.Unlock()

	bl := log.With(String("comp", "broadcast"))
	for i := 0; i < 4; i++ {
		bl.Warn("delivery failed", String("id", "<1>"))
	}
	waitFor(t, sender, 1)

	svc.mu.Lock()
	now = now.Add(alertRepeatWindow)
	svc.mu.Unlock()
	bl.Warn("delivery failed", String("id", "<2>"))
	waitFor(t, sender, 2)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if !strings.HasPrefix(sender.text[0], "⚠️ <b>WARN</b> <code>broadcast</code>") {
		t.Fatalf("unexpected header: %q", sender.text[0])
	}
	if !strings.Contains(sender.text[0], "id: &lt;1&gt;") {
		t.Fatalf("fields not escaped: %q", sender.text[0])
	}
	if !strings.Contains(sender.text[1], "+3 simili") {
		t.Fatalf("folded count missing: %q", sender.text[1])
	}
}

func TestAlertsNeedAdmin(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, RatePerSec: 100}}, sender)
	defer svc.Close()

	log.Error("nobody to tell")
	time.Sleep(50 * time.Millisecond)
	if sender.count() != 0 {
		t.Fatalf("alert sent without admin target")
	}
}

func waitFor(t *testing.T, c *captureSender, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.count() < n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := c.count(); got != n {
		t.Fatalf("expected %d alerts, got %d", n, got)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	t.Parallel()
	got := truncate(strings.Repeat("è", 10), 8)
	if !strings.HasSuffix(got, "...") || !utf8.ValidString(got) {
		t.Fatalf("truncate = %q", got)
	}
}
