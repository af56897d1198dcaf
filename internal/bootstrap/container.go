package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"

	"bioinsight-be/internal/config"
	"bioinsight-be/internal/controller"
	"bioinsight-be/internal/dto"
	"bioinsight-be/internal/handler"
	"bioinsight-be/internal/model"
	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/internal/repository/contract"
	"bioinsight-be/internal/repository/implementation"
	"bioinsight-be/internal/repository/memory"
	"bioinsight-be/internal/service"
	"bioinsight-be/internal/websocket"
	"bioinsight-be/pkg/database"
	"bioinsight-be/pkg/evaluate"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/llm/factory"
	"bioinsight-be/pkg/llm/structured"
	mem "bioinsight-be/pkg/memory"
	pktNats "bioinsight-be/pkg/nats"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/source/apiclient"
	"bioinsight-be/pkg/source/bdi"
	"bioinsight-be/pkg/source/crdc"
	"bioinsight-be/pkg/source/mwb"
	"bioinsight-be/pkg/source/px"
	"bioinsight-be/pkg/storage"
	"bioinsight-be/pkg/storage/afsstore"
	"bioinsight-be/pkg/storage/s3store"
	"bioinsight-be/pkg/synth"
	"bioinsight-be/pkg/viz"
	"bioinsight-be/pkg/viz/heatmap"
	"bioinsight-be/pkg/viz/sandbox"
	"bioinsight-be/pkg/workflow"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

const (
	streamTopic      = "bioinsight.stream"
	telemetryDurable = "bioinsight-telemetry"
	guardThreshold   = 0.8
)

type Container struct {
	SessionController controller.ISessionController
	BlobController    *controller.BlobController
	StreamHandler     *handler.StreamHandler

	// Background workers, started by main
	WebSocketHub  *websocket.Hub
	StreamService service.IStreamService
	Telemetry     *service.TelemetryService

	natsSub *pktNats.Subscriber
	closers []func()
}

// NewContainer wires the application. Optional infrastructure (postgres,
// redis, NATS) is skipped with a warning when unconfigured or unreachable.
func NewContainer(ctx context.Context, cfg *config.Config, sysLogger logger.ILogger) (*Container, error) {
	c := &Container{}

	// 1. LLM
	llmProvider, err := factory.NewLLMProvider(ctx, factory.ProviderConfig{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  cfg.Ai.BaseURL,
		APIKey:   cfg.Ai.APIKey,
		Region:   cfg.Ai.Region,
		Timeout:  cfg.Ai.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	sysLogger.Info("BOOTSTRAP", "Using LLM provider", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})
	caller := structured.NewCaller(llmProvider, cfg.Workflow.StructuredRetries, sysLogger)
	tok := mem.NewTokenizer(cfg.Memory.TokenizerModel)
	guard := mem.NewLimitGuard(tok, cfg.Ai.ContextWindow, guardThreshold)

	// 2. Blob storage
	files := afsstore.New(cfg.Storage.AfsBaseURL, cfg.Storage.PublicBaseURL)
	var exports storage.BlobStore = files
	if cfg.Storage.Driver == "s3" {
		s3, err := s3store.New(ctx, cfg.Storage.Region, cfg.Storage.Bucket, cfg.Storage.Prefix, cfg.Storage.PresignExpiry)
		if err != nil {
			return nil, fmt.Errorf("init s3 store: %w", err)
		}
		exports = s3
	}

	// 3. Source handlers
	timeout := cfg.Workflow.HandlerTimeout
	registry := source.Registry{
		intent.FamilyCRDC: crdc.NewHandler(caller, crdc.Clients{
			PDC: apiclient.New(cfg.Sources.PDCURL, timeout),
			GDC: apiclient.New(cfg.Sources.GDCURL, timeout),
			IDC: apiclient.New(cfg.Sources.IDCURL, timeout),
		}, guard, sysLogger),
		intent.FamilyPX:  px.NewHandler(caller, apiclient.New(cfg.Sources.PXURL, timeout), guard, sysLogger),
		intent.FamilyMWB: mwb.NewHandler(caller, apiclient.New(cfg.Sources.MWBURL, timeout), guard, cfg.Workflow.MaxHops, sysLogger),
	}
	harmonizer := bdi.NewHandler(caller, files, exports, sysLogger)

	// 4. Workflow
	var evaluator workflow.Evaluator
	if cfg.Workflow.EvaluateAnswers {
		evaluator = evaluate.NewEvaluator(llmProvider, sysLogger)
	}
	renderer := viz.NewRenderer(llmProvider, llmProvider, sandbox.NewRunner(cfg.Workflow.SandboxTimeout), heatmap.NewBuilder(exports), sysLogger)

	// 5. Event bus and websocket stream
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NewStdLogger(false, false))
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	var rdb *redis.Client
	if cfg.Messaging.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Messaging.RedisURL)
		if err != nil {
			sysLogger.Warn("BOOTSTRAP", "Failed to parse Redis URL, using it as address", map[string]interface{}{"error": err.Error()})
			opt = &redis.Options{Addr: cfg.Messaging.RedisURL}
		}
		rdb = redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			sysLogger.Warn("BOOTSTRAP", "Redis unreachable, websocket fan-out stays local", map[string]interface{}{"error": err.Error()})
			_ = rdb.Close()
			rdb = nil
		} else {
			c.closers = append(c.closers, func() { _ = rdb.Close() })
		}
	}

	wsLogger := logger.NewIsolatedLogger("logs/stream.log")
	c.WebSocketHub = websocket.NewHub(rdb, wsLogger)
	c.StreamService = service.NewStreamService(pubSub, streamTopic, c.WebSocketHub, wsLogger)

	engine := workflow.New(workflow.Config{
		MaxRetries:     cfg.Workflow.MaxRetries,
		HandlerTimeout: cfg.Workflow.HandlerTimeout,
	}, workflow.Deps{
		Classifier:  intent.NewClassifier(caller, nil, sysLogger),
		Sources:     registry,
		Harmonizer:  harmonizer,
		Synthesizer: synth.NewSynthesizer(llmProvider, sysLogger),
		Evaluator:   evaluator,
		Renderer:    renderer,
		Observer:    workflow.ObserverFunc(c.StreamService.Observe),
		Logger:      sysLogger,
	})

	// 6. Persistence
	var turns contract.TurnRepository
	if cfg.Database.Connection != "" {
		db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.App.Environment != "production")
		if err != nil {
			sysLogger.Warn("BOOTSTRAP", "Database unreachable, transcripts disabled", map[string]interface{}{"error": err.Error()})
		} else if err := database.Migrate(db, &model.Turn{}); err != nil {
			sysLogger.Warn("BOOTSTRAP", "Migration failed, transcripts disabled", map[string]interface{}{"error": err.Error()})
		} else {
			turns = implementation.NewTurnRepository(db)
		}
	}

	// 7. Telemetry
	sessions := memory.NewSessionRepository(cfg.App.SessionTTL)
	c.Telemetry = service.NewTelemetryService(sessions, sysLogger)
	var telemetry service.TelemetryPublisher = c.Telemetry
	if cfg.Messaging.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.Messaging.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("BOOTSTRAP", "Failed to connect to NATS publisher, telemetry stays in process", map[string]interface{}{"error": err.Error()})
		} else {
			natsSub, err := pktNats.NewSubscriber(cfg.Messaging.NatsURL, sysLogger)
			if err != nil {
				sysLogger.Warn("BOOTSTRAP", "Failed to connect to NATS subscriber, telemetry stays in process", map[string]interface{}{"error": err.Error()})
				natsPub.Close()
			} else {
				telemetry = natsPub
				c.natsSub = natsSub
				c.closers = append(c.closers, natsPub.Close, natsSub.Close)
			}
		}
	}

	// 8. Services and controllers
	turnService := service.NewTurnService(
		service.TurnServiceConfig{
			TurnTimeout: cfg.Workflow.TurnTimeout,
			Budgets: workflow.MemoryBudgets{
				Intent: cfg.Memory.IntentBudget,
				Source: cfg.Memory.SourceBudget,
			},
		},
		engine,
		sessions,
		tok,
		c.StreamService,
		files,
		turns,
		telemetry,
		sysLogger,
	)

	c.WebSocketHub.OnInbound(func(sessionID string, data []byte) {
		var msg struct {
			RequestID string `json:"request_id"`
			dto.InteractionRequest
		}
		if err := json.Unmarshal(data, &msg); err != nil || msg.RequestID == "" {
			wsLogger.Warn("STREAM", "Ignoring malformed client message", map[string]interface{}{"session_id": sessionID})
			return
		}
		if err := turnService.Respond(context.Background(), sessionID, msg.RequestID, &msg.InteractionRequest); err != nil {
			wsLogger.Warn("STREAM", "Client response rejected", map[string]interface{}{
				"session_id": sessionID,
				"request_id": msg.RequestID,
				"error":      err.Error(),
			})
		}
	})

	c.SessionController = controller.NewSessionController(turnService, c.Telemetry)
	c.BlobController = controller.NewBlobController(files)
	c.StreamHandler = handler.NewStreamHandler(c.WebSocketHub, func(id string) bool {
		_, ok := sessions.Get(id)
		return ok
	}, cfg.Auth.JWTSecret, wsLogger)

	return c, nil
}

// Start launches the background workers. They stop when ctx is cancelled.
func (c *Container) Start(ctx context.Context) error {
	go c.WebSocketHub.Run(ctx)
	if err := c.StreamService.Consume(ctx); err != nil {
		return fmt.Errorf("start stream consumer: %w", err)
	}
	if c.natsSub != nil {
		if err := c.natsSub.Subscribe(ctx, "turn.completed", telemetryDurable, c.Telemetry.Handle); err != nil {
			return fmt.Errorf("start telemetry consumer: %w", err)
		}
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
