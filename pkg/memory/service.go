// Package memory implements the Memory service (§4.E): a facade over
// storage, embedding, indexing, and recall that exposes a small
// lifecycle plus passthrough CRUD and recall operations, with
// background indexing so that add_message's critical path is never
// delayed by embedding or keyword extraction.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/convomem/convomem/internal/config"
	"github.com/convomem/convomem/internal/memlog"
	"github.com/convomem/convomem/internal/tokencount"
	"github.com/convomem/convomem/pkg/embedding"
	"github.com/convomem/convomem/pkg/indexer"
	"github.com/convomem/convomem/pkg/recall"
	"github.com/convomem/convomem/pkg/store"
)

// state is the service's lifecycle state (§4.E).
type state int8

const (
	stateUninitialized state = iota
	stateReady
	stateClosed
)

// ErrNotReady is returned by any operation attempted before
// initialize() succeeds, or after close().
var ErrNotReady = errors.New("memory: service not ready")

// indexQueueDepth bounds the background worker's pending-request
// channel; a session id already queued is not re-queued (dedup queue,
// newest request wins once it is drained).
const indexQueueDepth = 256

// Service is the Memory service facade (§4.E). It owns a Store, an
// embedding Provider, an Indexer, and a recall Engine, and serializes
// lifecycle transitions behind a mutex.
type Service struct {
	mu    sync.RWMutex
	state state

	cfg    *config.Config
	logger memlog.Logger

	store    *store.Store
	embedder embedding.Provider
	indexer  *indexer.Indexer
	engine   *recall.Engine
	tokens   *tokencount.Counter

	indexRequests chan string
	inFlight      map[string]struct{}
	inFlightMu    sync.Mutex
	group         *errgroup.Group
	cancelWorker  context.CancelFunc
}

// New constructs a Service in the Uninitialized state. cfg must not be
// nil; pass config.Default() for defaults.
func New(cfg *config.Config, logger memlog.Logger) *Service {
	if logger == nil {
		logger = memlog.Nop()
	}
	return &Service{
		cfg:    cfg,
		logger: logger,
		state:  stateUninitialized,
	}
}

// Initialize transitions Uninitialized -> Ready (or Closed -> Ready),
// opening the storage backend, constructing the embedding provider,
// indexer, and recall engine, and starting the background indexing
// worker. On failure the service remains in its prior state.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateReady {
		return nil
	}

	st, err := store.New(store.Config{
		Path:      config.ExpandPath(s.cfg.Storage.DBPath),
		VectorDim: s.cfg.Embedding.Dimensions,
		Logger:    s.logger,
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	provider := embedding.New(s.cfg.Embedding.Provider, s.cfg.Embedding.Dimensions, s.logger)
	idx := indexer.New(st, provider, s.logger)
	eng := recall.New(st, provider)

	s.store = st
	s.embedder = provider
	s.indexer = idx
	s.engine = eng
	s.tokens = tokencount.New()
	s.indexRequests = make(chan string, indexQueueDepth)
	s.inFlight = make(map[string]struct{})

	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancelWorker = cancel
	g, gctx := errgroup.WithContext(workerCtx)
	s.group = g
	g.Go(func() error {
		s.runIndexWorker(gctx)
		return nil
	})

	s.state = stateReady
	return nil
}

// Close transitions Ready -> Closed, draining in-flight background
// indexing work before closing storage. Close on an already-Closed or
// Uninitialized service is a no-op.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateReady {
		return nil
	}

	// Close the channel so the worker's range over indexRequests drains
	// whatever is still buffered, then exits on its own; only cancel the
	// worker context afterward, as a backstop against a worker stuck
	// inside Index itself rather than as a way to skip queued work.
	close(s.indexRequests)
	_ = s.group.Wait()
	s.cancelWorker()

	err := s.store.Close()
	s.state = stateClosed
	return err
}

// requireReady must be called with s.mu held (read or write).
func (s *Service) requireReady() error {
	if s.state != stateReady {
		return ErrNotReady
	}
	return nil
}

// CreateSession persists a new session.
func (s *Service) CreateSession(ctx context.Context, sess *store.Session) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.store.CreateSession(ctx, sess)
}

// GetSession retrieves a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, id)
}

// UpdateSession persists changes to a session, refreshing updated_at.
func (s *Service) UpdateSession(ctx context.Context, sess *store.Session) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.store.UpdateSession(ctx, sess)
}

// ArchiveSession flips a session's archived flag.
func (s *Service) ArchiveSession(ctx context.Context, id string, archived bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.store.ArchiveSession(ctx, id, archived)
}

// ListSessions lists sessions ordered by most-recently-updated.
func (s *Service) ListSessions(ctx context.Context, limit, offset int, archived *bool) ([]*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	return s.store.ListSessions(ctx, limit, offset, archived)
}

// DeleteSession removes a session and its messages and vector.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.store.DeleteSession(ctx, id)
}

// GetMessages lists a session's messages in chronological order.
func (s *Service) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	return s.store.GetMessages(ctx, sessionID, limit, offset)
}

// AddMessage unconditionally persists msg, then schedules background
// indexing if should_index(session_id) holds. The scheduling failure
// (queue full) is logged and otherwise non-fatal; add_message itself
// never blocks on indexing. msg.TokenCount is computed here if the
// caller left it zero, so that it is fixed once at write time (messages
// are append-only) and the session's token_count can later be derived
// as a pure sum over stored messages (invariant 3).
func (s *Service) AddMessage(ctx context.Context, msg *store.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return err
	}

	if msg.TokenCount == 0 && msg.Content != "" {
		msg.TokenCount = s.tokens.Count(msg.Content)
	}

	if err := s.store.AddMessage(ctx, msg); err != nil {
		return err
	}

	should, err := s.indexer.ShouldIndex(ctx, msg.SessionID)
	if err != nil {
		s.logger.Warn("should_index check failed", "session_id", msg.SessionID, "error", err)
		return nil
	}
	if should {
		s.scheduleIndex(msg.SessionID)
	}
	return nil
}

// scheduleIndex enqueues a session id for background indexing, unless
// it is already queued or in flight.
func (s *Service) scheduleIndex(sessionID string) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()

	if _, queued := s.inFlight[sessionID]; queued {
		return
	}
	select {
	case s.indexRequests <- sessionID:
		s.inFlight[sessionID] = struct{}{}
	default:
		s.logger.Warn("index queue full, dropping request", "session_id", sessionID)
	}
}

// runIndexWorker drains indexRequests on a single goroutine until the
// channel is closed or ctx is cancelled.
func (s *Service) runIndexWorker(ctx context.Context) {
	requestID := uuid.NewString()
	s.logger.Debug("index worker started", "worker_id", requestID)
	for {
		select {
		case sessionID, ok := <-s.indexRequests:
			if !ok {
				return
			}
			s.runIndex(ctx, sessionID)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) runIndex(ctx context.Context, sessionID string) {
	defer func() {
		s.inFlightMu.Lock()
		delete(s.inFlight, sessionID)
		s.inFlightMu.Unlock()
	}()

	if err := s.indexer.Index(ctx, sessionID, false); err != nil {
		s.logger.Error("background indexing failed", "session_id", sessionID, "error", err)
	}
}

// IndexSession indexes a single session synchronously, bypassing the
// background worker (used by the CLI's explicit `index` command).
func (s *Service) IndexSession(ctx context.Context, sessionID string, force bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.indexer.Index(ctx, sessionID, force)
}

// BatchIndex indexes every non-archived session for which
// should_index holds (or every non-archived session if force is true), returning
// the count successfully indexed. Per-session failures are logged and
// do not stop the batch.
func (s *Service) BatchIndex(ctx context.Context, force bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return 0, err
	}

	archived := false
	sessions, err := s.store.ListSessions(ctx, 0, 0, &archived)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, sess := range sessions {
		if !force {
			should, err := s.indexer.ShouldIndex(ctx, sess.ID)
			if err != nil || !should {
				continue
			}
		}
		if err := s.indexer.Index(ctx, sess.ID, force); err != nil {
			s.logger.Error("batch index failed", "session_id", sess.ID, "error", err)
			continue
		}
		indexed++
	}
	return indexed, nil
}

// GetStats reports storage-level counters (§4.A Stats).
func (s *Service) GetStats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return store.Stats{}, err
	}
	return s.store.Stats(ctx)
}

// RecallOptions configures a Recall call; zero values pick the
// service's configured recall defaults.
type RecallOptions struct {
	CurrentSessionID string
	TopK             int
	ActiveHistory    []string
}

// Recall classifies query, applies the resulting fusion weights, runs
// the recall engine, and filters out any result already present in
// the caller's active history (dedup against live context, §4.D).
func (s *Service) Recall(ctx context.Context, query string, opts RecallOptions) ([]recall.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	class := recall.Classify(query)
	weights := recall.WeightsFor(class)

	topK := opts.TopK
	if topK <= 0 {
		topK = s.cfg.Recall.MaxResults
	}

	results, err := s.engine.Recall(ctx, recall.Query{
		Text:             query,
		CurrentSessionID: opts.CurrentSessionID,
		TopK:             topK,
		MinScore:         s.cfg.Recall.MinSimilarity,
		VectorWeight:     weights.Vector,
		KeywordWeight:    weights.Keyword,
		TimeDecayFactor:  s.cfg.Recall.TimeDecayFactor,
	})
	if err != nil {
		return nil, err
	}

	return recall.DedupAgainstLiveContext(results, opts.ActiveHistory), nil
}

// GetRecallContext runs Recall and renders the results into a
// prompt-injectable string bounded by budgetChars.
func (s *Service) GetRecallContext(ctx context.Context, query string, opts RecallOptions, budgetChars int) (string, error) {
	results, err := s.Recall(ctx, query, opts)
	if err != nil {
		return "", err
	}
	return recall.BuildPromptContext(results, budgetChars), nil
}
