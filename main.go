package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/semantic-query-engine/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/semantic-query-engine/pkg/adapters/datasource/mssql"    // register mssql adapter
	_ "github.com/ekaya-inc/semantic-query-engine/pkg/adapters/datasource/postgres" // register postgres adapter
	"github.com/ekaya-inc/semantic-query-engine/pkg/analytics"
	"github.com/ekaya-inc/semantic-query-engine/pkg/config"
	"github.com/ekaya-inc/semantic-query-engine/pkg/connregistry"
	"github.com/ekaya-inc/semantic-query-engine/pkg/crypto"
	"github.com/ekaya-inc/semantic-query-engine/pkg/database"
	"github.com/ekaya-inc/semantic-query-engine/pkg/executor"
	"github.com/ekaya-inc/semantic-query-engine/pkg/intent"
	"github.com/ekaya-inc/semantic-query-engine/pkg/llm"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/orchestrator"
	"github.com/ekaya-inc/semantic-query-engine/pkg/planvalidator"
	"github.com/ekaya-inc/semantic-query-engine/pkg/plancache"
	"github.com/ekaya-inc/semantic-query-engine/pkg/resultcache"
	"github.com/ekaya-inc/semantic-query-engine/pkg/rlsengine"
	"github.com/ekaya-inc/semantic-query-engine/pkg/rlsstore"
	"github.com/ekaya-inc/semantic-query-engine/pkg/semantic"
	"github.com/ekaya-inc/semantic-query-engine/pkg/sqlsynth"
	"github.com/ekaya-inc/semantic-query-engine/pkg/sqlvalidator"
	"github.com/ekaya-inc/semantic-query-engine/pkg/vectorstore"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations, vector store)
)

// Version is set at build time via ldflags.
var Version = "dev"

// This entrypoint wires C1 through C12 into one process and runs them
// against stdin-delivered requests on a single worker goroutine. There is
// no HTTP surface here: token issuance, session middleware, and the
// request transport are external collaborators this system does not
// redesign (see DESIGN.md section 5). What main does own is what the
// teacher's main.go owns for its own subsystems: config load, migrations,
// connection pooling, and constructing every component with its real
// dependencies, not stubs.
func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
	)

	if cfg.ProjectCredentialsKey == "" {
		logger.Fatal("project_credentials_key is required. Generate with: openssl rand -base64 32")
	}
	encryptor, err := crypto.NewCredentialEncryptor(cfg.ProjectCredentialsKey)
	if err != nil {
		logger.Fatal("failed to initialize credential encryptor", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	databaseURL := fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, url.QueryEscape(cfg.Database.Password), cfg.Database.Host, cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode)

	if err := runMigrations(databaseURL, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            databaseURL,
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// A plain database/sql handle over the same driver backs the vector
	// store (C2), which embeds pgvector-go's Vector type through
	// database/sql scan semantics rather than pgx's native type codec.
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		logger.Fatal("failed to open vector store connection", zap.Error(err))
	}
	defer sqlDB.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}

	llmClient, embeddingModel := mustBuildLLMClient(cfg, logger)

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:            cfg.Datasource.ConnectionTTLMinutes,
		MaxConnectionsPerUser: cfg.Datasource.MaxConnectionsPerUser,
		PoolMaxConns:          cfg.Datasource.PoolMaxConns,
		PoolMinConns:          cfg.Datasource.PoolMinConns,
	}, logger)
	defer connMgr.Close()
	adapterFactory := datasource.NewDatasourceAdapterFactory(connMgr)

	connStore := connregistry.NewConnectionRepository(encryptor)
	registry := connregistry.NewRegistry(connStore, connMgr, connregistry.Config{
		SnapshotTTL:    15 * time.Minute,
		AdapterVersion: 1,
	}, logger)

	vecStore := vectorstore.New(sqlDB, func(ctx context.Context, text string) ([]float32, error) {
		return llmClient.CreateEmbedding(ctx, text, embeddingModel)
	})

	fieldRepo := semantic.NewFieldRepository()
	semanticSvc := semantic.NewService(fieldRepo, registry, vecStore, logger)

	planCache := plancache.New(cfg.Pipeline.PlanCacheSize, time.Duration(cfg.Pipeline.PlanCacheTTLSeconds)*time.Second, redisClient, logger)
	resultCache := resultcache.New(cfg.Pipeline.ResultCacheSize, time.Duration(cfg.Pipeline.ResultCacheTTLSeconds)*time.Second, redisClient, logger)

	extractor := intent.NewExtractor(llmClient, vecStore, planCache, logger)
	planVal := planvalidator.NewValidator(cfg.Pipeline.MaxRowLimit)
	synthesizer := sqlsynth.NewSynthesizer()
	sqlVal := sqlvalidator.NewValidator()
	rlsEngine := rlsengine.NewEngine()
	rlsStore := rlsstore.NewStore()

	semanticVersionOf := func(connectionID uuid.UUID) int {
		semCtx, err := semanticSvc.Resolve(ctx, connectionID, 0)
		if err != nil {
			logger.Warn("failed to resolve semantic version for cache key", zap.Error(err), zap.String("connection_id", connectionID.String()))
			return 0
		}
		return semCtx.Version
	}

	exec := executor.NewExecutor(registry, adapterFactory, resultCache, executor.Config{
		MaxRowLimit:             cfg.Pipeline.MaxRowLimit,
		StatementTimeoutSeconds: cfg.Pipeline.StatementTimeoutSeconds,
		ResultCacheTTLSeconds:   cfg.Pipeline.ResultCacheTTLSeconds,
	}, semanticVersionOf, logger)

	analyticsProc := analytics.NewProcessor()

	orch := orchestrator.New(orchestrator.Deps{
		Semantic:    semanticSvc,
		Schema:      registry,
		Extractor:   extractor,
		PlanVal:     planVal,
		Synthesizer: synthesizer,
		SQLVal:      sqlVal,
		RLSEngine:   rlsEngine,
		RLSStore:    rlsStore,
		Executor:    exec,
		Analytics:   analyticsProc,
		Synonyms:    vecStore,
		Usage:       fieldRepo,
	}, orchestrator.Config{
		RequestDeadline:     time.Duration(cfg.Pipeline.RequestDeadlineSeconds) * time.Second,
		AdmissionQueueDepth: cfg.Pipeline.AdmissionQueueDepth,
	}, logger)

	logger.Info("query orchestration pipeline ready", zap.Int("admission_queue_depth", cfg.Pipeline.AdmissionQueueDepth))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// There is no HTTP surface in this process (token issuance, routing,
	// and session middleware are external collaborators — see DESIGN.md
	// section 5), so the pipeline is driven directly: one JSON envelope
	// per line on stdin, one JSON QueryResponse per line on stdout. The
	// envelope carries what an HTTP layer would otherwise derive from a
	// verified bearer token (project_id, user_id) plus the QueryRequest
	// body itself.
	requests := make(chan runEnvelope)
	go readEnvelopes(os.Stdin, requests, logger)

	for {
		select {
		case <-stop:
			logger.Info("shutting down")
			return
		case env, ok := <-requests:
			if !ok {
				logger.Info("stdin closed, shutting down")
				return
			}
			handleEnvelope(ctx, db, orch, env, logger)
		}
	}
}

// runEnvelope is one line of stdin input: the tenant and caller identity
// an HTTP layer would otherwise establish from a verified request, plus
// the query itself.
type runEnvelope struct {
	ProjectID    uuid.UUID           `json:"project_id"`
	UserID       string              `json:"user_id"`
	RequestID    string              `json:"request_id"`
	QueryRequest models.QueryRequest `json:"query"`
}

func readEnvelopes(r io.Reader, out chan<- runEnvelope, logger *zap.Logger) {
	defer close(out)
	dec := json.NewDecoder(r)
	for dec.More() {
		var env runEnvelope
		if err := dec.Decode(&env); err != nil {
			logger.Error("failed to decode request envelope", zap.Error(err))
			return
		}
		out <- env
	}
}

func handleEnvelope(ctx context.Context, db *database.DB, orch *orchestrator.Orchestrator, env runEnvelope, logger *zap.Logger) {
	scope, err := db.WithTenant(ctx, env.ProjectID)
	if err != nil {
		logger.Error("failed to establish tenant scope", zap.Error(err), zap.String("project_id", env.ProjectID.String()))
		return
	}
	defer scope.Close()

	reqCtx := database.SetTenantScope(ctx, scope)
	resp := orch.Handle(reqCtx, &env.QueryRequest, env.UserID, env.RequestID)

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(resp); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

func mustBuildLLMClient(cfg *config.Config, logger *zap.Logger) (*llm.Client, string) {
	var llmCfg llm.Config
	var embeddingModel string

	switch {
	case cfg.EmbeddedAI.IsAvailable():
		llmCfg = llm.Config{Endpoint: cfg.EmbeddedAI.LLMBaseURL, Model: cfg.EmbeddedAI.LLMModel}
		embeddingModel = cfg.EmbeddedAI.EmbeddingModel
	case cfg.CommunityAI.IsAvailable():
		llmCfg = llm.Config{Endpoint: cfg.CommunityAI.LLMBaseURL, Model: cfg.CommunityAI.LLMModel}
		embeddingModel = cfg.CommunityAI.EmbeddingModel
	default:
		logger.Fatal("no LLM backend configured: set either embedded_ai or community_ai")
	}

	client, err := llm.NewClient(&llmCfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize LLM client", zap.Error(err))
	}
	return client, embeddingModel
}

const migrationTimeout = 30 * time.Second

func runMigrations(databaseURL string, logger *zap.Logger) error {
	timeoutMS := int(migrationTimeout.Milliseconds())
	separator := "&"
	if !strings.Contains(databaseURL, "?") {
		separator = "?"
	}
	migrationURL := fmt.Sprintf("%s%sstatement_timeout=%d", databaseURL, separator, timeoutMS)

	db, err := sql.Open("pgx", migrationURL)
	if err != nil {
		return formatMigrationError(fmt.Errorf("failed to open migration connection: %w", err))
	}
	defer db.Close()

	if err := db.PingContext(context.Background()); err != nil {
		return formatMigrationError(fmt.Errorf("failed to connect for migrations: %w", err))
	}

	if err := database.RunMigrations(db, "migrations"); err != nil {
		return formatMigrationError(err)
	}
	return nil
}

func formatMigrationError(err error) error {
	errStr := err.Error()

	if strings.Contains(errStr, "permission denied") {
		return fmt.Errorf(`failed to run migrations: %w

This error typically occurs when the database user lacks CREATE privileges on the public schema.

To fix, run as a PostgreSQL superuser:
    \c <your_database>
    GRANT ALL ON SCHEMA public TO <your_user>;`, err)
	}

	if strings.Contains(errStr, "statement timeout") || strings.Contains(errStr, "canceling statement") {
		return fmt.Errorf(`failed to run migrations (timed out after %v): %w

Migration timed out, which often indicates insufficient database permissions.`, migrationTimeout, err)
	}

	return fmt.Errorf("failed to run migrations: %w", err)
}
