package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nelculobot/internal/broadcast"
	"nelculobot/internal/caption"
	"nelculobot/internal/content"
	"nelculobot/internal/scheduler"
	"nelculobot/internal/storage"
	kit "nelculobot/internal/transport"
	"nelculobot/internal/transport/telegram/router"
	"nelculobot/pkg/logx"
)

type sentMsg struct {
	to, text string
	photo    bool
}

type fakeAdapter struct {
	mu   sync.Mutex
	msgs []sentMsg
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{to: to, text: text})
	return nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to string, p kit.Photo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{to: to, text: p.Caption, photo: true})
	return nil
}

func (f *fakeAdapter) sent() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.msgs...)
}

func (f *fakeAdapter) photosTo() []string {
	var out []string
	for _, m := range f.sent() {
		if m.photo {
			out = append(out, m.to)
		}
	}
	return out
}

func (f *fakeAdapter) lastText() string {
	msgs := f.sent()
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].photo {
			return msgs[i].text
		}
	}
	return ""
}

type failingSource struct{}

func (failingSource) Name() string { return "remote" }
func (failingSource) Fetch(context.Context) content.Result {
	return content.Result{Kind: content.KindUnavailable, Err: errors.New("down")}
}

type recordingResolver struct {
	mu    sync.Mutex
	items []content.Item
}

func (r *recordingResolver) Resolve(_ context.Context, it content.Item) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, it)
	return ""
}

type stubRenderer struct {
	gate  chan struct{}
	calls atomic.Int32
	texts chan string
}

func (s *stubRenderer) Render(_ context.Context, text, _ string) ([]byte, error) {
	s.calls.Add(1)
	if s.texts != nil {
		s.texts <- text
	}
	if s.gate != nil {
		<-s.gate
	}
	return []byte{0xff, 0xd8}, nil
}

type fixture struct {
	store    storage.Store
	adapter  *fakeAdapter
	resolver *recordingResolver
	render   *stubRenderer
	dispatch *broadcast.Dispatcher
	runner   *Runner
}

func newFixture(t *testing.T, subs ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "subs.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	if len(subs) > 0 {
		_, err = st.Import(context.Background(), subs)
		require.NoError(t, err)
	}

	list := filepath.Join(dir, "movies.json")
	require.NoError(t, os.WriteFile(list, []byte(`["A","B"]`), 0o600))

	f := &fixture{store: st, adapter: &fakeAdapter{}, resolver: &recordingResolver{}, render: &stubRenderer{}}
	f.dispatch = broadcast.New(st, f.adapter, broadcast.Config{RatePerSec: 1000}, logx.Nop(), nil)
	chain := content.NewChain(logx.Nop(), "", failingSource{}, content.NewLocalList([]string{list}, nil, nil, logx.Nop()))
	f.runner = NewRunner(RunnerDeps{
		Content:  chain,
		Poster:   f.resolver,
		Caption:  caption.NewSwitch("suffix"),
		Render:   f.render,
		Dispatch: f.dispatch,
		Store:    st,
	})
	return f
}

func TestCycleFallsBackToLocalList(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1", "2")
	res, err := f.runner.Run(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Contains(t, []string{"A", "B"}, res.Item.Title)
	assert.Equal(t, content.SourceLocal, res.Item.Source)
	assert.Equal(t, res.Item.Title+" nel c*lo", res.Caption)
	require.Len(t, f.resolver.items, 1, "web search attempted for the poster-less item")
	assert.Equal(t, res.Item.Title, f.resolver.items[0].Title)
	assert.ElementsMatch(t, []string{"1", "2"}, f.adapter.photosTo())
	assert.Equal(t, 2, res.Report.Delivered)

	last, ok := f.runner.Last()
	require.True(t, ok)
	assert.Equal(t, res.ID, last.ID)
}

func TestCycleSkipsWithoutSubscribers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.runner.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSubscribers, res.Outcome)
	assert.Zero(t, f.render.calls.Load())
	assert.Empty(t, f.adapter.sent())
}

func TestCycleSkipIfRunning(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1")
	f.render.gate = make(chan struct{})
	f.render.texts = make(chan string, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.runner.Run(context.Background(), "schedule")
		done <- err
	}()
	<-f.render.texts
	assert.True(t, f.runner.Running())

	res, err := f.runner.Run(context.Background(), "force")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, OutcomeSkipped, res.Outcome)

	close(f.render.gate)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), f.render.calls.Load())
	assert.False(t, f.runner.Running())
}

func TestPostAddsCredit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1")
	res, err := f.runner.Post(context.Background(), "  Il Padrino ", " via @mario ")
	require.NoError(t, err)
	assert.Equal(t, "Il Padrino nel c*lo", res.Caption)
	msgs := f.adapter.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Il Padrino nel c*lo\n\nvia @mario", msgs[0].text)

	_, err = f.runner.Post(context.Background(), " ", "")
	assert.Error(t, err)
}

type fakeSchedule struct {
	mu       sync.Mutex
	interval time.Duration
	err      error
}

func (s *fakeSchedule) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
func (s *fakeSchedule) Next() time.Time        { return time.Now().Add(10 * time.Second) }
func (s *fakeSchedule) State() scheduler.State { return scheduler.Armed }
func (s *fakeSchedule) SetInterval(_ context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = time.Duration(n) * time.Minute
	return s.err
}

func newCommands(t *testing.T, f *fixture) (*Commands, *fakeSchedule, *atomic.Bool) {
	t.Helper()
	sched := &fakeSchedule{interval: 30 * time.Minute}
	var restarted atomic.Bool
	c := NewCommands(CommandDeps{
		Store:    f.store,
		Schedule: sched,
		Runner:   f.runner,
		Dispatch: f.dispatch,
		Restart:  func() { restarted.Store(true) },
	})
	return c, sched, &restarted
}

func call(t *testing.T, c *Commands, f *fixture, name, chat string, admin bool, payload string) error {
	t.Helper()
	var cmd router.Command
	for _, rc := range c.Registry() {
		if rc.Name == name {
			cmd = rc
		}
	}
	require.NotNil(t, cmd.Handle, name)
	req := &router.Request{
		ChatID:  chat,
		FromID:  chat,
		Command: name,
		Args:    strings.Fields(payload),
		Payload: payload,
		IsAdmin: admin,
		ReqID:   "rid",
		Adapter: f.adapter,
	}
	return cmd.Handle(context.Background(), req)
}

func TestStartStopCommands(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c, _, _ := newCommands(t, f)
	ctx := context.Background()

	require.NoError(t, call(t, c, f, "start", "100", false, ""))
	assert.True(t, f.store.Load(ctx).Has("100"))
	welcome := f.adapter.lastText()
	assert.Contains(t, welcome, "ogni 30 minuti")
	assert.NotContains(t, welcome, "Comandi Admin")

	require.NoError(t, call(t, c, f, "start", "1", true, ""))
	assert.Contains(t, f.adapter.lastText(), "👑 Comandi Admin")

	require.NoError(t, call(t, c, f, "stop", "100", false, ""))
	assert.False(t, f.store.Load(ctx).Has("100"))
	assert.Equal(t, msgStopped, f.adapter.lastText())
	require.NoError(t, call(t, c, f, "stop", "100", false, ""))
	assert.Equal(t, msgNotSubbed, f.adapter.lastText())
}

func TestForceReportsCounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "1", "2", "3")
	c, _, _ := newCommands(t, f)
	require.NoError(t, call(t, c, f, "force", "1", true, ""))
	assert.Contains(t, f.adapter.lastText(), "Inviato a 3/3 iscritti")
}

func TestSetIntervalCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c, sched, _ := newCommands(t, f)

	for _, bad := range []string{"", "abc", "0", "99999", "5 6"} {
		require.NoError(t, call(t, c, f, "setinterval", "1", true, bad))
		assert.True(t, strings.HasPrefix(f.adapter.lastText(), "Uso: /setinterval"), bad)
	}
	assert.Equal(t, 30*time.Minute, sched.Interval())

	require.NoError(t, call(t, c, f, "setinterval", "1", true, "15"))
	assert.Equal(t, 15*time.Minute, sched.Interval())
	assert.Contains(t, f.adapter.lastText(), "15 minuti")

	sched.err = errors.New("disk full")
	assert.Error(t, call(t, c, f, "setinterval", "1", true, "20"))
	assert.Contains(t, f.adapter.lastText(), "non salvata")
}

func TestImportCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c, _, _ := newCommands(t, f)

	require.NoError(t, call(t, c, f, "import", "1", true, `["1","2","2","3"]`))
	assert.Equal(t, "📥 Importati 3 nuovi iscritti (totale: 3)", f.adapter.lastText())

	require.NoError(t, call(t, c, f, "import", "1", true, "3, 4\n5;@canale"))
	assert.Equal(t, "📥 Importati 3 nuovi iscritti (totale: 6)", f.adapter.lastText())

	require.NoError(t, call(t, c, f, "import", "1", true, "[1, {}]"))
	assert.True(t, strings.HasPrefix(f.adapter.lastText(), "Uso: /import"))
}

func TestUsersBroadcastStatusRestart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "10", "20")
	c, _, restarted := newCommands(t, f)

	require.NoError(t, call(t, c, f, "users", "1", true, ""))
	assert.Equal(t, "👥 Utenti iscritti: 2\n\n- <code>10</code>\n- <code>20</code>", f.adapter.lastText())

	require.NoError(t, call(t, c, f, "broadcast", "1", true, "ciao a tutti"))
	assert.Equal(t, "📣 Messaggio inviato a 2/2 iscritti", f.adapter.lastText())

	require.NoError(t, call(t, c, f, "status", "1", true, ""))
	st := f.adapter.lastText()
	assert.Contains(t, st, "Intervallo: 30 minuti")
	assert.Contains(t, st, "Iscritti: 2 (file)")
	assert.Contains(t, st, "Ultimo ciclo: nessuno")

	require.NoError(t, call(t, c, f, "restart", "1", true, ""))
	assert.Equal(t, msgRestarting, f.adapter.lastText())
	assert.True(t, restarted.Load())
}

func TestParseIDs(t *testing.T) {
	t.Parallel()

	got, err := parseIDs(`[123, "-100456", "@c"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"123", "-100456", "@c"}, got)

	got, err = parseIDs(" 1 ,2\n\n3 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, got)

	_, err = parseIDs("[oops")
	assert.Error(t, err)
}
