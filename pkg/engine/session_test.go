package engine

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/pdm/pkg/frame"
	"github.com/unijord/pdm/pkg/objstore"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := New(context.Background(), Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSession(t *testing.T) {
	s := newTestSession(t)
	assert.Len(t, s.RunID(), 36)
	assert.NotNil(t, s.Allocator())
	assert.NotNil(t, s.Logger())

	other := newTestSession(t)
	assert.NotEqual(t, s.RunID(), other.RunID())
}

func TestNewSessionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPersist(t *testing.T) {
	s := newTestSession(t)
	f := frame.MustNew(frame.Named{Name: "label", Col: frame.Int64s{0, 1, 0}})

	got, err := s.Persist("balanced", f)
	require.NoError(t, err)
	assert.Same(t, f, got)

	cached, ok := s.Persisted("balanced")
	require.True(t, ok)
	assert.Same(t, f, cached)

	other := frame.MustNew(frame.Named{Name: "label", Col: frame.Int64s{1}})
	_, err = s.Persist("balanced", other)
	require.NoError(t, err)
	cached, ok = s.Persisted("balanced")
	require.True(t, ok)
	assert.Same(t, other, cached, "persisting again replaces the frame")

	_, ok = s.Persisted("missing")
	assert.False(t, ok)
}

func TestCloseReleasesAndIsIdempotent(t *testing.T) {
	s := newTestSession(t)
	f := frame.MustNew(frame.Named{Name: "label", Col: frame.Int64s{1}})
	_, err := s.Persist("balanced", f)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, ok := s.Persisted("balanced")
	assert.False(t, ok)

	_, err = s.Persist("again", f)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Store(objstore.MustParseLocation("out"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStoreResolvesLocal(t *testing.T) {
	s := newTestSession(t)
	st, err := s.Store(objstore.MustParseLocation("file:///tmp/x"))
	require.NoError(t, err)
	assert.IsType(t, &objstore.FS{}, st)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerHonoursEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	var buf strings.Builder
	logger := NewLogger(&buf)
	logger.Info("hidden")
	logger.Error("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
