package telegram

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "nelculobot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	short := splitTelegramText("ciao", 10, "")
	if len(short) != 1 || short[0] != "ciao" {
		t.Fatalf("short text split: %q", short)
	}

	long := strings.Repeat("a", 25)
	parts := splitTelegramText(long, 10, "")
	if len(parts) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %q", len(parts), parts)
	}
	if strings.Join(parts, "") != long {
		t.Fatalf("chunks lost content: %q", parts)
	}

	lines := "aaaaaa\nbbbbbb\ncccccc"
	parts = splitTelegramText(lines, 10, "")
	for _, p := range parts {
		if strings.HasPrefix(p, "\n") || strings.HasSuffix(p, "\n") {
			t.Fatalf("chunk keeps newline at boundary: %q", p)
		}
	}
}

func TestSplitTelegramTextAvoidsOpenTag(t *testing.T) {
	t.Parallel()

	s := "abcdef<b>bold</b>"
	parts := splitTelegramText(s, 8, "HTML")
	if parts[0] != "abcdef" {
		t.Fatalf("first chunk splits inside a tag: %q", parts)
	}
}

func TestClassifyMarksPermanentFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		gone bool
	}{
		{"blocked", tele.ErrBlockedByUser, true},
		{"deactivated", tele.ErrUserIsDeactivated, true},
		{"chat not found", fmt.Errorf("telebot: %w", tele.ErrChatNotFound), true},
		{"kicked", tele.ErrKickedFromGroup, true},
		{"transient", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := errors.Is(classify(tc.err), kit.ErrRecipientGone); got != tc.gone {
				t.Fatalf("classify(%v) gone=%v, want %v", tc.err, got, tc.gone)
			}
		})
	}
}

func TestToMessage(t *testing.T) {
	t.Parallel()

	m := toMessage(&tele.Message{
		ID:     7,
		Text:   "/start",
		Chat:   &tele.Chat{ID: -100123, Type: tele.ChatSuperGroup},
		Sender: &tele.User{ID: 42, Username: "mario"},
	})
	if m.ChatID != "-100123" || m.FromID != "42" || m.FromUsername != "mario" || !m.IsGroup {
		t.Fatalf("unexpected message: %+v", m)
	}

	post := toMessage(&tele.Message{ID: 1, Chat: &tele.Chat{ID: 5, Type: tele.ChatChannel}})
	if post.FromID != "" || post.IsGroup {
		t.Fatalf("channel post: %+v", post)
	}
}

func TestRecipientIsRawChatID(t *testing.T) {
	t.Parallel()

	if got := recipient("@nelculo").Recipient(); got != "@nelculo" {
		t.Fatalf("recipient = %q", got)
	}
}

func TestTelePhoto(t *testing.T) {
	t.Parallel()

	if _, err := telePhoto(kit.Photo{}); err == nil {
		t.Fatal("empty photo accepted")
	}

	p, err := telePhoto(kit.Photo{Data: []byte{0xff, 0xd8}, Caption: strings.Repeat("è", 2000)})
	if err != nil {
		t.Fatalf("telePhoto: %v", err)
	}
	if p.File.FileReader == nil {
		t.Fatal("photo has no reader")
	}
	if n := len([]rune(p.Caption)); n > telegramCaptionLimit {
		t.Fatalf("caption not capped: %d runes", n)
	}
}
