// Package executor implements C10, the query executor: the only component
// in the pipeline allowed to open a connection to a tenant warehouse and
// run SQL. It wraps the per-dialect pkg/adapters/datasource.QueryExecutor
// behind a statement timeout, a hard row cap, a result cache, and a
// transient-error retry policy, and folds the raw driver rows into a
// models.ResultSet the analytics and pagination stages consume.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/semantic-query-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/retry"
	"github.com/ekaya-inc/semantic-query-engine/pkg/stageerr"
)

// ConnectionResolver answers the one question the executor needs of C3:
// which dialect and driver configuration does connectionID name. It is
// satisfied by pkg/connregistry.Registry's Resolve method without this
// package importing connregistry directly, avoiding an import cycle
// between the two.
type ConnectionResolver interface {
	Resolve(ctx context.Context, connectionID uuid.UUID) (dialect models.Dialect, config map[string]any, projectID uuid.UUID, err error)
}

// ResultCache is the L1/L2 result cache (pkg/resultcache) keyed by the
// digest Key computes. A miss is reported by ok == false, never an error;
// a cache outage must never fail a query.
type ResultCache interface {
	Get(ctx context.Context, key string) (*models.ResultSet, bool)
	Put(ctx context.Context, key string, result models.ResultSet, ttl time.Duration)
}

// Config controls the executor's row cap, statement timeout, and result
// cache TTL. Zero values are replaced with the same defaults
// pkg/config.PipelineConfig ships.
type Config struct {
	MaxRowLimit             int
	StatementTimeoutSeconds int
	ResultCacheTTLSeconds   int
	RetryConfig             *retry.Config
}

func (c Config) withDefaults() Config {
	if c.MaxRowLimit <= 0 {
		c.MaxRowLimit = datasource.MaxQueryLimit
	}
	if c.StatementTimeoutSeconds <= 0 {
		c.StatementTimeoutSeconds = 30
	}
	if c.ResultCacheTTLSeconds <= 0 {
		c.ResultCacheTTLSeconds = 300
	}
	if c.RetryConfig == nil {
		c.RetryConfig = retry.DefaultConfig()
	}
	return c
}

// Executor runs validated, RLS-constrained SQL against a tenant warehouse
// and returns a ResultSet, consulting the result cache first and
// categorizing any driver error into a stable stageerr.Kind.
type Executor struct {
	resolver    ConnectionResolver
	factory     datasource.DatasourceAdapterFactory
	cache       ResultCache
	cfg         Config
	semanticVer func(connectionID uuid.UUID) int
	logger      *zap.Logger
}

// NewExecutor builds an Executor. semanticVersion returns the current
// semantic context version for a connection, so the result cache key
// invalidates automatically whenever a field is added, renamed, or
// retired. cache may be nil, which disables caching entirely.
func NewExecutor(resolver ConnectionResolver, factory datasource.DatasourceAdapterFactory, cache ResultCache, cfg Config, semanticVersion func(connectionID uuid.UUID) int, logger *zap.Logger) *Executor {
	return &Executor{
		resolver:    resolver,
		factory:     factory,
		cache:       cache,
		cfg:         cfg.withDefaults(),
		semanticVer: semanticVersion,
		logger:      logger.Named("executor"),
	}
}

// Key builds the result cache key for (connection, dialect, sql, params,
// user context, semantic version): the user context digest ensures two
// users with different RLS scopes never share a cached row set even when
// their synthesized SQL happens to be byte-identical, and the semantic
// version ensures a cached result from before a field rename or retirement
// is never served after it.
func Key(connectionID uuid.UUID, canonical *models.CanonicalSQL, userCtx *models.UserContext, semanticVersion int) string {
	digest := models.UserContextDigestInput{}
	if userCtx != nil {
		digest = models.UserContextDigestInput{
			Roles:            userCtx.Roles,
			RLSFilters:       userCtx.RLSFilters,
			TablePermissions: userCtx.TablePermissions,
		}
	}
	digestJSON, _ := json.Marshal(digest)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%v|%d|", connectionID, canonical.Dialect, canonical.SQL, canonical.Params, semanticVersion)
	h.Write(digestJSON)
	return hex.EncodeToString(h.Sum(nil))
}

// Execute runs canonical.SQL with canonical.Params against connectionID,
// enforcing the statement timeout and row cap, retrying transient driver
// errors, and consulting/populating the result cache. requestedLimit caps
// the row count actually fetched; it is clamped to cfg.MaxRowLimit.
func (e *Executor) Execute(ctx context.Context, connectionID uuid.UUID, canonical *models.CanonicalSQL, userCtx *models.UserContext, requestedLimit int) (*models.ResultSet, error) {
	limit := requestedLimit
	truncatedByCap := false
	if limit <= 0 || limit > e.cfg.MaxRowLimit {
		if limit > e.cfg.MaxRowLimit {
			truncatedByCap = true
		}
		limit = e.cfg.MaxRowLimit
	}

	semVer := 0
	if e.semanticVer != nil {
		semVer = e.semanticVer(connectionID)
	}
	cacheKey := Key(connectionID, canonical, userCtx, semVer)

	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, cacheKey); ok {
			hit := *cached
			hit.CachedResult = true
			return &hit, nil
		}
	}

	dialect, config, projectID, err := e.resolver.Resolve(ctx, connectionID)
	if err != nil {
		return nil, stageerr.Wrap(stageerr.KindExecution, stageerr.StageQueryExecution, "could not resolve connection for execution", err, map[string]any{"connection_id": connectionID})
	}

	qe, err := e.factory.NewQueryExecutor(ctx, string(dialect), config, projectID, connectionID, userIDOf(userCtx))
	if err != nil {
		return nil, stageerr.Wrap(stageerr.KindExecution, stageerr.StageQueryExecution, "could not open query executor", err, map[string]any{"connection_id": connectionID, "dialect": dialect})
	}
	defer qe.Close()

	timeout := time.Duration(e.cfg.StatementTimeoutSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var raw *datasource.QueryExecutionResult
	err = retry.DoIfRetryable(runCtx, e.cfg.RetryConfig, func() error {
		var callErr error
		raw, callErr = qe.ExecuteQueryWithParams(runCtx, canonical.SQL, canonical.Params, limit)
		return callErr
	})
	duration := time.Since(start)

	if err != nil {
		return nil, e.categorize(runCtx, err)
	}

	result := toResultSet(raw, duration)
	result.Truncated = result.Truncated || truncatedByCap

	if e.cache != nil {
		e.cache.Put(ctx, cacheKey, *result, time.Duration(e.cfg.ResultCacheTTLSeconds)*time.Second)
	}

	return result, nil
}

func userIDOf(userCtx *models.UserContext) string {
	if userCtx == nil {
		return "system"
	}
	return userCtx.UserID
}

// toResultSet folds the driver's raw QueryExecutionResult into a
// models.ResultSet. It leaves Truncated false; Execute sets it when the
// requested limit exceeded the row cap.
func toResultSet(raw *datasource.QueryExecutionResult, duration time.Duration) *models.ResultSet {
	columns := make([]models.ColumnDescriptor, 0, len(raw.Columns))
	for _, c := range raw.Columns {
		columns = append(columns, models.ColumnDescriptor{
			Name:       c.Name,
			ScalarType: scalarTypeOf(c.Type),
		})
	}
	return &models.ResultSet{
		Columns:      columns,
		Rows:         raw.Rows,
		RowCountFull: raw.RowCount,
		ExecutedAt:   time.Now(),
		DurationMs:   duration.Milliseconds(),
	}
}

// scalarTypeOf maps a dialect-native column type name to the coarse
// scalar category the analytics stage (C11) branches on.
func scalarTypeOf(dialectType string) string {
	t := strings.ToLower(dialectType)
	switch {
	case strings.Contains(t, "int") || strings.Contains(t, "numeric") || strings.Contains(t, "decimal") ||
		strings.Contains(t, "float") || strings.Contains(t, "double") || strings.Contains(t, "real"):
		return "number"
	case strings.Contains(t, "date") || strings.Contains(t, "time"):
		return "date"
	case strings.Contains(t, "bool"):
		return "boolean"
	default:
		return "string"
	}
}

// categorize maps a driver or context error to a stable stageerr.Kind.
// SYNTAX_ERROR should be unreachable here: the SQL validator (C8) runs
// both before and after RLS injection specifically to catch a malformed
// query before it ever reaches a driver, so a syntax error surfacing at
// this stage is logged as a bug rather than a routine execution failure.
func (e *Executor) categorize(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return stageerr.Wrap(stageerr.KindExecution, stageerr.StageQueryExecution, "TIMEOUT", err, nil)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return stageerr.Wrap(stageerr.KindExecution, stageerr.StageQueryExecution, "TIMEOUT", err, nil)
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "access denied") || strings.Contains(msg, "not authorized"):
		return stageerr.Wrap(stageerr.KindExecution, stageerr.StageQueryExecution, "PERMISSION_DENIED", err, nil)
	case strings.Contains(msg, "syntax error") || strings.Contains(msg, "syntax error at or near"):
		e.logger.Error("post-validation SQL failed to parse at the driver; this should be unreachable",
			zap.Error(err))
		return stageerr.Wrap(stageerr.KindExecution, stageerr.StageQueryExecution, "SYNTAX_ERROR", err, nil)
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "unavailable") || strings.Contains(msg, "network is unreachable"):
		return stageerr.Wrap(stageerr.KindExecution, stageerr.StageQueryExecution, "UNAVAILABLE", err, nil)
	default:
		return stageerr.Wrap(stageerr.KindExecution, stageerr.StageQueryExecution, "execution failed", err, nil)
	}
}
