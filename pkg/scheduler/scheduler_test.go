package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/barekit/vitrine/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_RejectsBadJobs(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add("0 2 * * *", Job{Run: noop}))
	assert.Error(t, s.Add("not a spec", Job{Name: "x", Run: noop}))
	require.NoError(t, s.Add("0 2 * * *", Job{Name: "x", Run: noop}))
	assert.Error(t, s.Add("0 3 * * *", Job{Name: "x", Run: noop}), "duplicate name")
}

func TestRunNow(t *testing.T) {
	s := New()
	var runs atomic.Int32
	boom := errors.New("boom")
	require.NoError(t, s.Add("30 2 * * *", Job{Name: "sync", Run: func(context.Context) error {
		if runs.Add(1) == 2 {
			return boom
		}
		return nil
	}}))

	require.NoError(t, s.RunNow(context.Background(), "sync"))
	assert.ErrorIs(t, s.RunNow(context.Background(), "sync"), boom)
	assert.Error(t, s.RunNow(context.Background(), "missing"))

	status := s.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "sync", status[0].Name)
	assert.Equal(t, "30 2 * * *", status[0].Spec)
	assert.Equal(t, "boom", status[0].LastError)
	assert.False(t, status[0].LastRun.IsZero())
}

func TestRunNow_NoOverlap(t *testing.T) {
	s := New()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Add("0 2 * * *", Job{Name: "slow", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.RunNow(context.Background(), "slow"))
	}()
	<-started

	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), ErrJobRunning)
	close(release)
	wg.Wait()
}

func TestRunNow_RecoversPanics(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("0 2 * * *", Job{Name: "bad", Run: func(context.Context) error {
		panic("nil map")
	}}))

	err := s.RunNow(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestStartStop(t *testing.T) {
	s := New(WithLocation(time.UTC))
	require.NoError(t, s.Add("0 2 * * *", Job{Name: "nightly", Run: func(context.Context) error { return nil }}))

	s.Start()
	s.Start()
	next := s.Status()[0].NextRun
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

type fakeIndexer struct {
	calls []string
	fail  map[string]error
}

func (f *fakeIndexer) step(name string, limit int) (profile.Report, error) {
	f.calls = append(f.calls, name)
	return profile.Report{Index: name, Products: limit}, f.fail[name]
}

func (f *fakeIndexer) SyncContent(_ context.Context, limit int) (profile.Report, error) {
	return f.step("content", limit)
}

func (f *fakeIndexer) BuildAesthetic(_ context.Context, limit int) (profile.Report, error) {
	return f.step("aesthetic", limit)
}

func (f *fakeIndexer) BuildVisual(_ context.Context, limit int) (profile.Report, error) {
	return f.step("visual", limit)
}

func TestNightlyJob(t *testing.T) {
	t.Run("all steps then after sync", func(t *testing.T) {
		ix := &fakeIndexer{}
		cleared := false
		job := NightlyJob(ix, NightlyConfig{AfterSync: func(context.Context) error {
			cleared = true
			return nil
		}})

		assert.Equal(t, NightlyJobName, job.Name)
		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, []string{"content", "aesthetic", "visual"}, ix.calls)
		assert.True(t, cleared)
	})

	t.Run("negative limit skips a step", func(t *testing.T) {
		ix := &fakeIndexer{}
		job := NightlyJob(ix, NightlyConfig{VisualLimit: -1})
		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, []string{"content", "aesthetic"}, ix.calls)
	})

	t.Run("failure does not stop later steps", func(t *testing.T) {
		down := errors.New("catalog down")
		ix := &fakeIndexer{fail: map[string]error{"content": down}}
		cleared := false
		job := NightlyJob(ix, NightlyConfig{AfterSync: func(context.Context) error {
			cleared = true
			return nil
		}})

		err := job.Run(context.Background())
		assert.ErrorIs(t, err, down)
		assert.Contains(t, err.Error(), "content")
		assert.Equal(t, []string{"content", "aesthetic", "visual"}, ix.calls)
		assert.False(t, cleared)
	})

	t.Run("canceled", func(t *testing.T) {
		ix := &fakeIndexer{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, NightlyJob(ix, NightlyConfig{}).Run(ctx), context.Canceled)
		assert.Empty(t, ix.calls)
	})
}
