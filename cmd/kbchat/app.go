package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/bedrock"
	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/db"
	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/handler"
	"github.com/xxxsen/kbchat/internal/pkg/awsutil"
	"github.com/xxxsen/kbchat/internal/repo"
	"github.com/xxxsen/kbchat/internal/secret"
	"github.com/xxxsen/kbchat/internal/service"
)

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *db.Session
	rag     *service.RAGService
	audit   *service.AuditService
	router  *handler.Router
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	session := db.NewSession(openDatabase(cfg))

	backend, err := ai.NewBackend(ctx, "bedrock", &bedrock.Config{Region: cfg.Region})
	if err != nil {
		return nil, fmt.Errorf("init ai backend: %w", err)
	}
	registry := ai.NewRegistry(cfg.Region, cfg.Models)
	rag := service.NewRAGService(backend, registry, logger)
	audit := service.NewAuditService(
		repo.NewQueryLogRepo(session),
		repo.NewRetrievedDocumentRepo(session),
		logger,
	)
	cache := service.NewDataSourceCache(
		cfg.DataSourceCache.Size,
		time.Duration(cfg.DataSourceCache.TTLSeconds)*time.Second,
	)

	router := handler.NewRouter(handler.RouterDeps{
		RAG:                    rag,
		Registry:               registry,
		Audit:                  audit,
		Documents:              documentFactory(cfg, cache, logger),
		Session:                session,
		DefaultKnowledgeBaseID: cfg.KnowledgeBaseID,
		DefaultModel:           cfg.DefaultModel,
		Logger:                 logger,
	})
	return &app{
		cfg:     cfg,
		logger:  logger,
		session: session,
		rag:     rag,
		audit:   audit,
		router:  router,
	}, nil
}

func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		a.logger.Warn("close audit session failed", zap.Error(err))
	}
}

// openDatabase resolves the connection target on every open so rotated
// secrets are picked up after a session is closed.
func openDatabase(cfg *config.Config) db.OpenFunc {
	var (
		mu       sync.Mutex
		resolver secret.Resolver
	)
	return func(ctx context.Context) (*sql.DB, string, error) {
		mu.Lock()
		if resolver == nil && cfg.Database.SecretName != "" && cfg.Database.DSN == "" {
			r, err := secret.NewManagerResolver(ctx, cfg.Region)
			if err != nil {
				mu.Unlock()
				return nil, "", err
			}
			resolver = r
		}
		current := resolver
		mu.Unlock()

		target, err := db.ResolveTarget(ctx, cfg.Database, current)
		if err != nil {
			return nil, "", err
		}
		conn, err := db.Open(ctx, target)
		if err != nil {
			return nil, "", err
		}
		return conn, target.Driver, nil
	}
}

// documentFactory builds document services per credential set. The ambient
// service is built once; explicit credentials get a fresh store and agent.
func documentFactory(cfg *config.Config, cache *service.DataSourceCache, logger *zap.Logger) handler.DocumentManagerFactory {
	var (
		mu      sync.Mutex
		ambient handler.DocumentManager
	)
	return func(ctx context.Context, creds awsutil.Credentials) (handler.DocumentManager, error) {
		if creds.Explicit() {
			return newDocumentService(ctx, cfg, creds, cache, logger)
		}
		mu.Lock()
		defer mu.Unlock()
		if ambient != nil {
			return ambient, nil
		}
		svc, err := newDocumentService(ctx, cfg, creds, cache, logger)
		if err != nil {
			return nil, err
		}
		ambient = svc
		return ambient, nil
	}
}

func newDocumentService(ctx context.Context, cfg *config.Config, creds awsutil.Credentials, cache *service.DataSourceCache, logger *zap.Logger) (*service.DocumentService, error) {
	var storeArgs interface{}
	switch cfg.FileStore.Type {
	case "local":
		storeArgs = map[string]string{"dir": cfg.FileStore.Dir}
	default:
		storeArgs = &filestore.S3Config{Region: cfg.Region, Credentials: creds}
	}
	store, err := filestore.New(ctx, cfg.FileStore.Type, storeArgs)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}
	agent, err := bedrock.NewAgent(ctx, cfg.Region, creds)
	if err != nil {
		return nil, fmt.Errorf("init knowledge base agent: %w", err)
	}
	return service.NewDocumentService(store, agent, cache, logger), nil
}
