// Package store implements convomem's durable storage backend: a single
// SQLite-backed store holding sessions and messages, a full-text index
// over session title/summary/keywords, and an in-memory map of session
// vectors for cosine similarity search.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/convomem/convomem/internal/memlog"
)

// Error taxonomy. Structural failures (storage, initialization) are
// surfaced to callers as these sentinels, wrapped with the failing
// operation's name.
var (
	ErrNotInitialized = errors.New("store: not initialized")
	ErrNotFound       = errors.New("store: not found")
	ErrStorageFailure = errors.New("store: storage failure")
	ErrFtsQuery       = errors.New("store: malformed full-text query")
)

func wrapError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

// Config parameterizes a Store.
type Config struct {
	// Path is the SQLite database file path.
	Path string
	// VectorDim is D, the fixed session-vector dimension.
	VectorDim int
	Logger    memlog.Logger
}

// Stats summarizes store contents and capability flags.
type Stats struct {
	SessionCount   int
	MessageCount   int
	IndexedVectors int
	VecAvailable   bool
}

// Store is convomem's storage backend (§4.A of the retrieval design: one
// durable store exposing session/message CRUD and hybrid search
// primitives).
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	config Config
	logger memlog.Logger

	closed      bool
	initialized bool

	// vectors is the associative session_id -> D-float vector map
	// required by the storage realization requirements. It is the
	// store's vector index; there is no ANN structure because
	// conversation history does not operate at a scale that needs one.
	vectors      map[string][]float32
	vecAvailable bool
}

// New constructs a Store. Init must be called before use.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, wrapError("new", errors.New("store: path is required"))
	}
	if cfg.VectorDim <= 0 {
		cfg.VectorDim = 384
	}
	if cfg.Logger == nil {
		cfg.Logger = memlog.Nop()
	}
	return &Store{
		config:       cfg,
		logger:       cfg.Logger,
		vectors:      make(map[string][]float32),
		vecAvailable: true,
	}, nil
}

// Init opens the database, applies pragmas, and migrates the schema.
// Init is idempotent: calling it again after a successful Init, or after
// Close, reopens the store.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized && !s.closed {
		return nil
	}

	// foreign_keys is a per-connection setting; _pragma applies it to
	// every pooled connection so ON DELETE CASCADE always holds.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-2000&_pragma=foreign_keys(1)", s.config.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("%w: open database: %v", ErrStorageFailure, err))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return wrapError("init", fmt.Errorf("%w: enable foreign keys: %v", ErrStorageFailure, err))
	}

	s.db = db
	if err := s.createSchema(ctx); err != nil {
		return wrapError("init", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	if err := s.loadVectors(ctx); err != nil {
		s.logger.Warn("vector index unavailable, degrading", "error", err)
		s.vecAvailable = false
	}

	s.closed = false
	s.initialized = true
	s.logger.Info("store initialized", "path", s.config.Path, "dim", s.config.VectorDim)
	return nil
}

// Close releases the database handle. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		s.closed = true
		return nil
	}
	err := s.db.Close()
	s.closed = true
	s.db = nil
	return err
}

func (s *Store) requireOpen() error {
	if s.db == nil || s.closed {
		return ErrNotInitialized
	}
	return nil
}

// Stats reports totals and capability flags.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return Stats{}, wrapError("get_stats", err)
	}

	var stats Stats
	stats.VecAvailable = s.vecAvailable

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&stats.SessionCount); err != nil {
		return Stats{}, wrapError("get_stats", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&stats.MessageCount); err != nil {
		return Stats{}, wrapError("get_stats", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	if stats.VecAvailable {
		stats.IndexedVectors = len(s.vectors)
	}
	return stats, nil
}

// Vacuum is a compaction hook over the underlying engine.
func (s *Store) Vacuum(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireOpen(); err != nil {
		return wrapError("vacuum", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return wrapError("vacuum", fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	return nil
}
