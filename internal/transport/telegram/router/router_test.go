package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "nelculobot/internal/transport"
	"nelculobot/pkg/logx"
)

type sent struct {
	to, text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	msgs []sent
	menu []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{to: to, text: text})
	return nil
}

func (f *fakeAdapter) SendPhoto(context.Context, string, kit.Photo) error { return nil }

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

func msg(chat, from, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: from, Text: text}}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		word    string
		args    []string
		payload string
		ok      bool
	}{
		{"/start", "start", nil, "", true},
		{"/Force@NelCuloBot", "force", nil, "", true},
		{"/setinterval 15", "setinterval", []string{"15"}, "15", true},
		{"/broadcast ciao\na tutti", "broadcast", []string{"ciao", "a", "tutti"}, "ciao\na tutti", true},
		{"/import 1, 2\n-100", "import", []string{"1", "2", "-100"}, "1, 2\n-100", true},
		{"/post Il Padrino | Coppola", "post", []string{"Il", "Padrino", "|", "Coppola"}, "Il Padrino | Coppola", true},
		{"ciao", "", nil, "", false},
		{"/", "", nil, "", false},
	}
	for _, tc := range cases {
		word, args, payload, ok := parseCommand(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.word, word, tc.in)
		assert.Equal(t, tc.args, args, tc.in)
		assert.Equal(t, tc.payload, payload, tc.in)
	}
}

func TestIsAdminMatchesSenderOrChat(t *testing.T) {
	t.Parallel()

	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, "42")
	assert.True(t, m.IsAdmin(&kit.Message{ChatID: "1", FromID: "42"}))
	assert.True(t, m.IsAdmin(&kit.Message{ChatID: "42", FromID: ""}))
	assert.False(t, m.IsAdmin(&kit.Message{ChatID: "1", FromID: "2"}))

	m.SetAdmin("")
	assert.False(t, m.IsAdmin(&kit.Message{ChatID: "", FromID: ""}))
}

func TestDispatchRoutesAndGuardsAdminCommands(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, "42")

	var mu sync.Mutex
	var called []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			mu.Lock()
			called = append(called, name+":"+req.Payload)
			mu.Unlock()
			return req.Reply(ctx, "ok "+name)
		}
	}
	m.SetRegistry(context.Background(), []Command{
		{Name: "start", Handle: record("start")},
		{Name: "force", Access: AccessAdminOnly, Handle: record("force")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()

	updates <- msg("100", "100", "/start")
	updates <- msg("100", "100", "/force")
	updates <- msg("42", "42", "/force now")
	updates <- msg("100", "100", "/boh")

	require.Eventually(t, func() bool { return len(ad.snapshot()) == 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	assert.ElementsMatch(t, []string{"start:", "force:now"}, called)
	mu.Unlock()

	var texts []string
	for _, s := range ad.snapshot() {
		texts = append(texts, s.to+"="+s.text)
	}
	assert.Contains(t, texts, "100="+msgUnauthorized)
	assert.Contains(t, texts, "100="+msgUnknown)
	assert.Contains(t, texts, "42=ok force")
}

func TestPanickingCommandRepliesAndSurvives(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, "42")
	m.SetRegistry(context.Background(), []Command{
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("nil map") }},
		{Name: "start", Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "ciao") }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()

	updates <- msg("100", "100", "/boom")
	updates <- msg("100", "100", "/start")

	require.Eventually(t, func() bool { return len(ad.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	var texts []string
	for _, s := range ad.snapshot() {
		texts = append(texts, s.text)
	}
	assert.ElementsMatch(t, []string{msgInternal, "ciao"}, texts)
}

func TestHelpHidesAdminCommands(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, "42")
	noop := func(context.Context, *Request) error { return nil }
	m.SetRegistry(context.Background(), []Command{
		{Name: "start", Description: "iscriviti", Handle: noop},
		{Name: "users", Description: "lista iscritti", Access: AccessAdminOnly, Handle: noop},
	})

	public := m.helpText(nil, false)
	assert.Contains(t, public, "/start")
	assert.NotContains(t, public, "/users")

	admin := m.helpText(nil, true)
	assert.Contains(t, admin, "/users")
	assert.True(t, strings.Index(admin, "/start") < strings.Index(admin, "/users"))

	assert.Contains(t, m.helpText([]string{"users"}, false), "Comando sconosciuto")
	assert.Contains(t, m.helpText([]string{"/users"}, true), "Solo admin")
}

func TestBuildMenuCommandsSkipsAdmin(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *Request) error { return nil }
	menu := buildMenuCommands([]Command{
		{Name: "stop", Description: "disiscriviti", Handle: noop},
		{Name: "start", Handle: noop},
		{Name: "restart", Access: AccessAdminOnly, Handle: noop},
	})
	require.Len(t, menu, 2)
	assert.Equal(t, "start", menu[0].Command)
	assert.Equal(t, "start", menu[0].Description)
	assert.Equal(t, "stop", menu[1].Command)
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "set_interval", sanitizeTelegramCommand("Set-Interval"))
	assert.Equal(t, "", sanitizeTelegramCommand("???"))
	assert.Len(t, sanitizeTelegramCommand(strings.Repeat("a", 40)), 32)
}
