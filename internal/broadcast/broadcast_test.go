package broadcast

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nelculobot/internal/observability/metrics"
	"nelculobot/internal/storage"
	"nelculobot/internal/transport"
	"nelculobot/pkg/logx"
)

type fakeSender struct {
	mu     sync.Mutex
	photos map[string]transport.Photo
	texts  map[string]string
	fail   map[string]error
	block  map[string]bool
	// onPhoto runs before each photo send, outside mu.
	onPhoto func(to string)
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		photos: map[string]transport.Photo{},
		texts:  map[string]string{},
		fail:   map[string]error{},
		block:  map[string]bool{},
	}
}

func (f *fakeSender) SendPhoto(ctx context.Context, to string, p transport.Photo) error {
	if f.onPhoto != nil {
		f.onPhoto(to)
	}
	if f.block[to] {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to]; err != nil {
		return err
	}
	f.photos[to] = p
	return nil
}

func (f *fakeSender) SendText(_ context.Context, to, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to]; err != nil {
		return err
	}
	f.texts[to] = text
	return nil
}

func newStore(t *testing.T, ids ...string) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "subs.json")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.Import(context.Background(), ids)
	require.NoError(t, err)
	return st
}

var artifact = Artifact{ID: "c1", Image: []byte{0xff, 0xd8, 0xff}, Caption: "A nel c*lo"}

func TestBroadcastIsolatesFailures(t *testing.T) {
	t.Parallel()

	st := newStore(t, "1", "2", "3", "4")
	s := newFakeSender()
	s.fail["2"] = errors.New("network")
	d := New(st, s, Config{RatePerSec: 1000}, logx.Nop(), metrics.New())

	rep := d.Broadcast(context.Background(), artifact)
	assert.Equal(t, 4, rep.Total)
	assert.Equal(t, 3, rep.Delivered)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "2", rep.Failures[0].ID)
	assert.Len(t, s.photos, 3)
	for _, id := range []string{"1", "3", "4"} {
		assert.Equal(t, artifact.Image, s.photos[id].Data, id)
		assert.Equal(t, "A nel c*lo", s.photos[id].Caption)
	}
	assert.Empty(t, rep.Pruned, "pruning is off by default")
	assert.Equal(t, 4, st.Load(context.Background()).Len())
}

func TestBroadcastUsesSnapshotOfSubscribers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t, "1", "2", "3")
	s := newFakeSender()
	var once sync.Once
	s.onPhoto = func(string) {
		once.Do(func() {
			_, err := st.Add(ctx, "new")
			assert.NoError(t, err)
		})
	}
	d := New(st, s, Config{RatePerSec: 1000}, logx.Nop(), metrics.New())

	rep := d.Broadcast(ctx, artifact)
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 3, rep.Delivered)
	assert.NotContains(t, s.photos, "new")
	assert.True(t, st.Load(ctx).Has("new"), "joins after the snapshot still persist")
}

func TestBroadcastEmptySetIsNoop(t *testing.T) {
	t.Parallel()

	s := newFakeSender()
	d := New(newStore(t), s, Config{}, logx.Nop(), nil)
	rep := d.Broadcast(context.Background(), artifact)
	assert.Zero(t, rep.Total)
	assert.NoError(t, rep.Err)
	assert.Empty(t, s.photos)
}

func TestBroadcastRequiresImage(t *testing.T) {
	t.Parallel()

	d := New(newStore(t, "1"), newFakeSender(), Config{}, logx.Nop(), nil)
	rep := d.Broadcast(context.Background(), Artifact{ID: "x"})
	assert.ErrorIs(t, rep.Err, ErrNoArtifact)
	assert.Zero(t, rep.Total)
}

func TestBroadcastPrunesGoneRecipients(t *testing.T) {
	t.Parallel()

	st := newStore(t, "1", "2", "3")
	s := newFakeSender()
	s.fail["3"] = fmt.Errorf("%w: blocked", transport.ErrRecipientGone)
	s.fail["2"] = errors.New("flaky")
	d := New(st, s, Config{RatePerSec: 1000, PruneUnreachable: true}, logx.Nop(), nil)

	rep := d.Broadcast(context.Background(), artifact)
	assert.Equal(t, []string{"3"}, rep.Pruned)
	assert.Equal(t, []string{"1", "2"}, st.Load(context.Background()).Sorted(), "transient failures are kept")
}

func TestBroadcastSurvivesCallerCancel(t *testing.T) {
	t.Parallel()

	st := newStore(t, "1", "2")
	s := newFakeSender()
	s.block["1"] = true
	d := New(st, s, Config{RatePerSec: 1000, SendTimeout: 50 * time.Millisecond}, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := d.Broadcast(ctx, artifact)
	assert.Equal(t, 1, rep.Delivered, "cancelled trigger does not stop the loop")
	assert.Equal(t, 1, rep.Failed, "stuck send is bounded by the send timeout")
	assert.ErrorIs(t, rep.Failures[0].Err, context.DeadlineExceeded)
}

func TestBroadcastText(t *testing.T) {
	t.Parallel()

	s := newFakeSender()
	d := New(newStore(t, "1", "@canale"), s, Config{RatePerSec: 1000}, logx.Nop(), nil)
	rep := d.BroadcastText(context.Background(), "t1", "ciao")
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, map[string]string{"1": "ciao", "@canale": "ciao"}, s.texts)
}
