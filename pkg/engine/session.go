// Package engine provides the process-wide handle shared by every stage of
// the training job.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"github.com/unijord/pdm/pkg/frame"
	"github.com/unijord/pdm/pkg/objstore"
)

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("session closed")

// Options configures a session.
type Options struct {
	// AppName is attached to every log line of the session.
	AppName   string
	Allocator memory.Allocator
	S3        objstore.S3Config
	Logger    *slog.Logger
}

// Session owns the allocator, the store resolver and the frames persisted
// during a run. Create one per process and Close it on every exit path.
type Session struct {
	runID    uuid.UUID
	mem      memory.Allocator
	resolver *objstore.Resolver
	logger   *slog.Logger
	started  time.Time

	mu        sync.Mutex
	persisted map[string]*frame.Frame
	closed    bool
}

// New creates a session.
func New(ctx context.Context, opts Options) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.AppName == "" {
		opts.AppName = "pdm"
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.NewGoAllocator()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	s := &Session{
		runID:     id,
		mem:       opts.Allocator,
		resolver:  objstore.NewResolver(opts.S3),
		logger:    opts.Logger.With("app", opts.AppName, "run_id", id.String()),
		started:   time.Now(),
		persisted: make(map[string]*frame.Frame),
	}
	s.logger.Info("[engine] session started")
	return s, nil
}

// RunID identifies this run. It is used in output file names.
func (s *Session) RunID() string { return s.runID.String() }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Allocator returns the Arrow allocator used for all buffers of the run.
func (s *Session) Allocator() memory.Allocator { return s.mem }

// Store returns the store holding loc.
func (s *Session) Store(loc objstore.Location) (objstore.Store, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.resolver.Resolve(loc)
}

// Persist registers f under name so later stages read the same
// materialised rows. A frame already registered under name is replaced.
func (s *Session) Persist(name string, f *frame.Frame) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.persisted[name] = f
	s.logger.Debug("[engine] frame persisted",
		slog.String("name", name),
		slog.Int("rows", f.NumRows()),
		slog.String("fingerprint", fmt.Sprintf("%016x", f.Fingerprint())))
	return f, nil
}

// Persisted returns the frame registered under name.
func (s *Session) Persisted(name string) (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.persisted[name]
	return f, ok
}

// Close releases every persisted frame. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	names := make([]string, 0, len(s.persisted))
	for name := range s.persisted {
		names = append(names, name)
	}
	sort.Strings(names)
	clear(s.persisted)

	s.logger.Info("[engine] session closed",
		slog.Any("released", names),
		slog.Duration("uptime", time.Since(s.started)))
	return nil
}
