package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"bioinsight-be/internal/dto"
	"bioinsight-be/internal/entity"
	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/internal/repository/contract"
	"bioinsight-be/internal/repository/memory"
	"bioinsight-be/internal/repository/specification"
	"bioinsight-be/pkg/chart"
	"bioinsight-be/pkg/events"
	"bioinsight-be/pkg/hitl"
	mem "bioinsight-be/pkg/memory"
	"bioinsight-be/pkg/storage"
	"bioinsight-be/pkg/workflow"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrTurnInProgress     = errors.New("a turn is already running for this session")
	ErrTranscriptDisabled = errors.New("transcripts need a configured database")
	ErrEmptyUpload        = errors.New("uploaded file is empty")
)

// TurnRunner runs one turn of a session. *workflow.Engine satisfies it.
type TurnRunner interface {
	Run(ctx context.Context, sess *workflow.Session, query string) (workflow.Outcome, error)
}

// TelemetryPublisher ships turn summaries. *nats.Publisher satisfies it.
type TelemetryPublisher interface {
	Publish(ctx context.Context, event events.Published) error
}

type ITurnService interface {
	CreateSession(ctx context.Context) (*dto.CreateSessionResponse, error)
	RunTurn(ctx context.Context, sessionID string, req *dto.SendTurnRequest) (*dto.TurnResponse, error)
	Respond(ctx context.Context, sessionID, requestID string, req *dto.InteractionRequest) error
	Upload(ctx context.Context, sessionID, name, mime string, data []byte) (*dto.UploadResponse, error)
	EndSession(ctx context.Context, sessionID string, purge bool) error
	Transcript(ctx context.Context, sessionID string) ([]*dto.TranscriptTurnResponse, error)
}

type TurnServiceConfig struct {
	TurnTimeout time.Duration
	Budgets     workflow.MemoryBudgets
}

type turnService struct {
	cfg       TurnServiceConfig
	runner    TurnRunner
	sessions  *memory.SessionRepository
	tok       mem.Tokenizer
	stream    IStreamService
	uploads   storage.BlobStore
	turns     contract.TurnRepository
	telemetry TelemetryPublisher
	logger    logger.ILogger

	busy sync.Map
	now  func() time.Time
}

// NewTurnService wires the turn runner to the session store. turns and
// telemetry may be nil.
func NewTurnService(
	cfg TurnServiceConfig,
	runner TurnRunner,
	sessions *memory.SessionRepository,
	tok mem.Tokenizer,
	stream IStreamService,
	uploads storage.BlobStore,
	turns contract.TurnRepository,
	telemetry TelemetryPublisher,
	log logger.ILogger,
) ITurnService {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 400 * time.Second
	}
	return &turnService{
		cfg:       cfg,
		runner:    runner,
		sessions:  sessions,
		tok:       tok,
		stream:    stream,
		uploads:   uploads,
		turns:     turns,
		telemetry: telemetry,
		logger:    log,
		now:       time.Now,
	}
}

func (s *turnService) CreateSession(ctx context.Context) (*dto.CreateSessionResponse, error) {
	id := uuid.NewString()
	broker := hitl.NewBroker(hitl.TransportFunc(func(ctx context.Context, req hitl.InteractionRequest) error {
		return s.stream.Interaction(ctx, id, req)
	}))
	s.sessions.Save(workflow.NewSession(id, s.cfg.Budgets, s.tok, broker))

	s.logger.Info("SESSION", "Session created", map[string]interface{}{"session_id": id})
	return &dto.CreateSessionResponse{Id: id, CreatedAt: s.now()}, nil
}

// RunTurn answers one query. Workflow failures never surface as errors: the
// caller gets the generic failure message instead.
func (s *turnService) RunTurn(ctx context.Context, sessionID string, req *dto.SendTurnRequest) (*dto.TurnResponse, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if _, running := s.busy.LoadOrStore(sessionID, struct{}{}); running {
		return nil, ErrTurnInProgress
	}
	defer s.busy.Delete(sessionID)

	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	started := s.now()
	out, err := s.runner.Run(turnCtx, sess, req.Query)
	elapsed := s.now().Sub(started)

	result := out.Result
	failed := err != nil
	if failed {
		s.logger.Error("SESSION", "Turn failed", map[string]interface{}{
			"session_id": sessionID,
			"path":       out.Path,
			"error":      err.Error(),
		})
		result = events.TurnResult{Response: workflow.FailureMessage}
	}

	res := &dto.TurnResponse{
		Response:  result.Response,
		Graph:     result.Graph,
		Elements:  result.Elements,
		Path:      kindNames(out.Path),
		Retries:   out.Retries,
		Failed:    failed,
		ElapsedMs: elapsed.Milliseconds(),
	}

	// The request context may already be gone; bookkeeping still runs.
	bg, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	if err := s.stream.Result(bg, sessionID, res); err != nil {
		s.logger.Warn("SESSION", "Failed to stream result", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
	}
	s.persist(bg, sessionID, req.Query, res, result.Graph)
	if s.telemetry != nil {
		ev := events.TurnCompleted(sessionID, out.Path, elapsed, failed, s.now())
		if err := s.telemetry.Publish(bg, ev); err != nil {
			s.logger.Warn("SESSION", "Failed to publish telemetry", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		}
	}

	return res, nil
}

func (s *turnService) persist(ctx context.Context, sessionID, query string, res *dto.TurnResponse, graph *chart.Artifact) {
	if s.turns == nil {
		return
	}
	turn := &entity.Turn{
		Id:        uuid.New(),
		SessionId: sessionID,
		Query:     query,
		Response:  res.Response,
		Path:      res.Path,
		Retries:   res.Retries,
		Failed:    res.Failed,
		ElapsedMs: res.ElapsedMs,
		CreatedAt: s.now(),
	}
	if graph != nil {
		if b, err := json.Marshal(graph); err == nil {
			turn.Graph = b
		}
	}
	if err := s.turns.Create(ctx, turn); err != nil {
		s.logger.Error("SESSION", "Failed to persist turn", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
	}
}

func (s *turnService) Respond(ctx context.Context, sessionID, requestID string, req *dto.InteractionRequest) error {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return sess.Broker.Respond(hitl.HumanResponse{
		RequestID: requestID,
		Output:    req.Output,
		File:      req.FileRef,
	})
}

func (s *turnService) Upload(ctx context.Context, sessionID, name, mime string, data []byte) (*dto.UploadResponse, error) {
	if _, ok := s.sessions.Get(sessionID); !ok {
		return nil, ErrSessionNotFound
	}
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	key := fmt.Sprintf("uploads/%s/%s_%s", sessionID, uuid.NewString(), name)

	put, err := s.uploads.Put(ctx, data, key, mime)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	return &dto.UploadResponse{
		FileRef: hitl.FileRef{Name: name, Path: key, Mime: mime, Size: int64(len(data))},
		URL:     put.URL,
	}, nil
}

// EndSession drops the session and its memories. purge also deletes the
// persisted transcript.
func (s *turnService) EndSession(ctx context.Context, sessionID string, purge bool) error {
	if _, ok := s.sessions.Get(sessionID); !ok {
		return ErrSessionNotFound
	}
	s.sessions.Delete(sessionID)
	if purge && s.turns != nil {
		if err := s.turns.DeleteBySessionId(ctx, sessionID); err != nil {
			return fmt.Errorf("purge transcript: %w", err)
		}
	}
	s.logger.Info("SESSION", "Session ended", map[string]interface{}{"session_id": sessionID})
	return nil
}

func (s *turnService) Transcript(ctx context.Context, sessionID string) ([]*dto.TranscriptTurnResponse, error) {
	if s.turns == nil {
		return nil, ErrTranscriptDisabled
	}
	turns, err := s.turns.FindAll(ctx,
		specification.BySessionID{SessionID: sessionID},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.TranscriptTurnResponse, 0, len(turns))
	for _, t := range turns {
		item := &dto.TranscriptTurnResponse{
			Id:        t.Id,
			Query:     t.Query,
			Response:  t.Response,
			Path:      t.Path,
			Retries:   t.Retries,
			Failed:    t.Failed,
			ElapsedMs: t.ElapsedMs,
			CreatedAt: t.CreatedAt,
		}
		if len(t.Graph) > 0 {
			var g chart.Artifact
			if err := json.Unmarshal(t.Graph, &g); err == nil {
				item.Graph = &g
			}
		}
		res = append(res, item)
	}
	return res, nil
}

func kindNames(path []events.Kind) []string {
	out := make([]string, len(path))
	for i, k := range path {
		out[i] = string(k)
	}
	return out
}
