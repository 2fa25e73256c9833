package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_BurstSettlesOnce(t *testing.T) {
	t.Parallel()
	debouncer := NewDebouncer(time.Second)

	// A burst of writes to the same path must collapse to one settlement.
	base := time.Now().Add(-time.Second * 10)
	for i := 0; i < 25; i++ {
		debouncer.Observe("/watch/big-copy.mp4", base.Add(time.Duration(i)*time.Millisecond))
	}

	assert.Equal(t, 1, debouncer.PendingCount())

	settled := debouncer.drainSettled(time.Now())
	assert.Equal(t, []string{"/watch/big-copy.mp4"}, settled)
	assert.Zero(t, debouncer.PendingCount())
}

func TestDebouncer_WindowMeasuredFromLastEvent(t *testing.T) {
	t.Parallel()
	debouncer := NewDebouncer(time.Second * 5)

	now := time.Now()
	debouncer.Observe("/watch/file.mp4", now.Add(-time.Second*10))
	debouncer.Observe("/watch/file.mp4", now.Add(-time.Second*2))

	// The second observation restarted the quiet window, so the path must
	// not settle yet.
	assert.Empty(t, debouncer.drainSettled(now))
	assert.Equal(t, 1, debouncer.PendingCount())

	assert.Equal(t, []string{"/watch/file.mp4"}, debouncer.drainSettled(now.Add(time.Second*4)))
}

func TestDebouncer_IndependentPaths(t *testing.T) {
	t.Parallel()
	debouncer := NewDebouncer(time.Second * 5)

	now := time.Now()
	debouncer.Observe("/watch/old.mp4", now.Add(-time.Second*6))
	debouncer.Observe("/watch/fresh.mp4", now.Add(-time.Second*1))

	settled := debouncer.drainSettled(now)
	assert.Equal(t, []string{"/watch/old.mp4"}, settled)
	assert.Equal(t, 1, debouncer.PendingCount())
}

func TestDebouncer_RunDeliversSettledPaths(t *testing.T) {
	t.Parallel()
	debouncer := NewDebouncer(time.Millisecond * 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settled := make(chan string, 1)
	go debouncer.Run(ctx, settled)

	debouncer.Observe("/watch/file.mp4", time.Now())

	select {
	case path := <-settled:
		assert.Equal(t, "/watch/file.mp4", path)
	case <-time.After(time.Second * 5):
		t.Fatal("path never settled")
	}
}

func TestExcludedNames(t *testing.T) {
	t.Parallel()
	excluded := []string{
		"/watch/.hidden.mp4",
		"/watch/.DS_Store",
		"/watch/download.tmp",
		"/watch/movie.mp4.PART",
	}
	for _, path := range excluded {
		assert.True(t, isExcludedName(path), "expected %s to be excluded", path)
	}

	allowed := []string{
		"/watch/movie.mp4",
		"/watch/.dotdir/movie.mp4",
		"/watch/part.of.name.mkv",
	}
	for _, path := range allowed {
		assert.False(t, isExcludedName(path), "expected %s to be allowed", path)
	}
}
