package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	httpadapter "github.com/emad-noorizadeh/eval-rag/internal/adapters/http"
	"github.com/emad-noorizadeh/eval-rag/internal/config"
	"github.com/emad-noorizadeh/eval-rag/internal/core/ports"
	"github.com/emad-noorizadeh/eval-rag/internal/core/usecase"
	"github.com/emad-noorizadeh/eval-rag/internal/infrastructure/llm/ollama"
	natsbus "github.com/emad-noorizadeh/eval-rag/internal/infrastructure/queue/nats"
	"github.com/emad-noorizadeh/eval-rag/internal/infrastructure/repository/postgres"
	"github.com/emad-noorizadeh/eval-rag/internal/infrastructure/resilience"
	memsession "github.com/emad-noorizadeh/eval-rag/internal/infrastructure/session/memory"
	redissession "github.com/emad-noorizadeh/eval-rag/internal/infrastructure/session/redis"
	"github.com/emad-noorizadeh/eval-rag/internal/infrastructure/vector/qdrant"
	"github.com/emad-noorizadeh/eval-rag/internal/observability/metrics"
)

// App is the one process-wide dependency graph; nothing in the core reaches
// for ambient singletons.
type App struct {
	Config   config.Config
	CfgStore *config.Store
	Handler  http.Handler
	Log      *slog.Logger

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	cfgStore := config.NewStore(cfg.Chat)
	serverMetrics := metrics.NewServerMetrics("api")
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	docs := postgres.NewDocumentRepository(db)
	if err := docs.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	qdrantClient := qdrant.NewClient(cfg.QdrantURL, cfg.QdrantCollection, cfg.StorageTimeout)
	index := qdrant.NewAdapter(qdrantClient, docs)

	var bus ports.InvalidationBus
	if cfg.NATSURL != "" {
		bus, err = natsbus.New(cfg.NATSURL, cfg.NATSSubject, log)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init invalidation bus: %w", err)
		}
		if err := bus.SubscribeIndexUpdated(ctx, index.Invalidate); err != nil {
			bus.Close()
			_ = db.Close()
			return nil, fmt.Errorf("subscribe index updates: %w", err)
		}
	}

	llm := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, cfg.LLMTimeout, executor, serverMetrics)

	retriever := usecase.NewHybridRetriever(index, llm, retrieverConfig(cfgStore), log)
	generator := usecase.NewAnswerGenerator(llm, log)
	router := usecase.NewRouter(retriever, generator, llm, routerPolicy(cfgStore), log)

	var sessions ports.SessionStore
	var closeSessions func()
	switch cfg.SessionBackend {
	case "redis":
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		sessions = redissession.NewStore(redisClient, cfg.SessionTimeout)
		closeSessions = func() { _ = redisClient.Close() }
	default:
		memStore := memsession.NewStore(cfg.SessionTimeout, cfg.SweepInterval, log)
		sessions = memStore
		closeSessions = memStore.Close
	}

	ask := usecase.NewAskService(sessions, router, routerPolicy(cfgStore), cfg.RequestDeadline, log)

	httpRouter := httpadapter.NewRouter(ask, sessions, index, cfgStore, serverMetrics, log, cfg.ChatRatePerSecond, cfg.ChatRateBurst)

	return &App{
		Config:   cfg,
		CfgStore: cfgStore,
		Handler:  httpRouter.Handler(),
		Log:      log,
		closeFn: func() {
			if bus != nil {
				bus.Close()
			}
			closeSessions()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// retrieverConfig and routerPolicy read the live config snapshot on every
// request so /chat-config updates take effect without restart.
func retrieverConfig(store *config.Store) func() usecase.RetrieverConfig {
	return func() usecase.RetrieverConfig {
		chat := store.Chat()
		return usecase.RetrieverConfig{
			Method:        string(chat.RetrievalMethod),
			TopK:          chat.RetrievalTopK,
			KEmbed:        chat.Hybrid.KEmbed,
			KBM25Chunk:    chat.Hybrid.KBM25Chunk,
			KBM25MetaDocs: chat.Hybrid.KBM25MetaDocs,
			KRRF:          chat.Hybrid.KRRF,
			KFinal:        chat.Hybrid.KFinal,
			MetaChunks:    chat.Hybrid.MetaChunks,
			RRFC:          chat.Hybrid.RRFC,
			Weights: usecase.HeuristicWeights{
				Authority:         chat.Weights.Authority,
				Currency:          chat.Weights.Currency,
				Numbers:           chat.Weights.Numbers,
				Freshness:         chat.Weights.Freshness,
				FreshnessHalfLife: chat.Weights.FreshnessHalfLife,
			},
		}
	}
}

func routerPolicy(store *config.Store) func() usecase.RouterPolicy {
	return func() usecase.RouterPolicy {
		chat := store.Chat()
		return usecase.RouterPolicy{
			Strategy:            string(chat.RoutingStrategy),
			SimilarityThreshold: chat.SimilarityThreshold,
			ReclarifyThreshold:  chat.ReclarifyThreshold,
			MaxClarify:          chat.MaxClarify,
			WindowK:             chat.WindowK,
		}
	}
}
