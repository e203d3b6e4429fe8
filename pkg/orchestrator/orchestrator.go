// Package orchestrator implements C12: it wires C1 through C11 into the
// ten named stages spec.md §4.12 describes, turning a QueryRequest into a
// QueryResponse. Each stage is timed independently, and a stage failure
// short-circuits the run into a typed StageError rather than a panic or a
// generic 500.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/semantic-query-engine/pkg/analytics"
	"github.com/ekaya-inc/semantic-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/semantic-query-engine/pkg/executor"
	"github.com/ekaya-inc/semantic-query-engine/pkg/intent"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/planvalidator"
	"github.com/ekaya-inc/semantic-query-engine/pkg/rlsengine"
	"github.com/ekaya-inc/semantic-query-engine/pkg/rlsstore"
	"github.com/ekaya-inc/semantic-query-engine/pkg/semantic"
	"github.com/ekaya-inc/semantic-query-engine/pkg/sqlsynth"
	"github.com/ekaya-inc/semantic-query-engine/pkg/sqlvalidator"
	"github.com/ekaya-inc/semantic-query-engine/pkg/stageerr"
)

const defaultPageSize = 100

// SchemaProvider is the subset of the connection registry (C3) the
// orchestrator needs directly, beyond what it hands to C1: the schema
// snapshot SQL synthesis (C7) and SQL validation (C8) both join against.
type SchemaProvider interface {
	Snapshot(ctx context.Context, connectionID uuid.UUID) (*models.SchemaSnapshot, error)
}

// SynonymRecorder is the subset of pkg/vectorstore.Store the learning hook
// writes to when a resolved metric differs textually from the user's own
// wording.
type SynonymRecorder interface {
	RecordSynonym(ctx context.Context, connectionID uuid.UUID, userTerm, canonicalName string, confidence float64) error
}

// UsageBumper is the subset of pkg/semantic.FieldRepository the learning
// hook uses to bump a resolved field's usage frequency.
type UsageBumper interface {
	BumpUsage(ctx context.Context, fieldID uuid.UUID, when time.Time) error
}

// Config bounds the per-request budget and admission policy spec.md §5
// assigns the orchestrator. The executor (C10) owns its own statement
// timeout independently, since it is the only stage that blocks on a
// tenant warehouse rather than an in-process computation.
type Config struct {
	RequestDeadline     time.Duration
	AdmissionQueueDepth int
	DefaultValidation   sqlvalidator.Level
}

func (c Config) withDefaults() Config {
	if c.RequestDeadline <= 0 {
		c.RequestDeadline = 60 * time.Second
	}
	if c.AdmissionQueueDepth <= 0 {
		c.AdmissionQueueDepth = 64
	}
	if c.DefaultValidation == "" {
		c.DefaultValidation = sqlvalidator.LevelModerate
	}
	return c
}

// Orchestrator is C12. It holds no per-request state; every dependency
// is either stateless or safe for concurrent use across requests, which
// is what lets one worker own a request's entire pipeline without
// locking against any other in-flight request (spec.md §5).
type Orchestrator struct {
	semanticSvc *semantic.Service
	schema      SchemaProvider
	extractor   *intent.Extractor
	planVal     *planvalidator.Validator
	synthesizer *sqlsynth.Synthesizer
	sqlVal      *sqlvalidator.Validator
	rlsEngine   *rlsengine.Engine
	rlsStore    rlsstore.Store
	exec        *executor.Executor
	analytics   *analytics.Processor
	synonyms    SynonymRecorder
	usage       UsageBumper

	cfg Config

	admission chan struct{}
	logger    *zap.Logger
}

// Deps bundles every collaborator the orchestrator wires together. All
// fields are required except Synonyms/Usage, which disable the learning
// hook when nil (useful for a read-only deployment or for tests).
type Deps struct {
	Semantic    *semantic.Service
	Schema      SchemaProvider
	Extractor   *intent.Extractor
	PlanVal     *planvalidator.Validator
	Synthesizer *sqlsynth.Synthesizer
	SQLVal      *sqlvalidator.Validator
	RLSEngine   *rlsengine.Engine
	RLSStore    rlsstore.Store
	Executor    *executor.Executor
	Analytics   *analytics.Processor
	Synonyms    SynonymRecorder
	Usage       UsageBumper
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		semanticSvc: deps.Semantic,
		schema:      deps.Schema,
		extractor:   deps.Extractor,
		planVal:     deps.PlanVal,
		synthesizer: deps.Synthesizer,
		sqlVal:      deps.SQLVal,
		rlsEngine:   deps.RLSEngine,
		rlsStore:    deps.RLSStore,
		exec:        deps.Executor,
		analytics:   deps.Analytics,
		synonyms:    deps.Synonyms,
		usage:       deps.Usage,
		cfg:         cfg,
		admission:   make(chan struct{}, cfg.AdmissionQueueDepth),
		logger:      logger.Named("orchestrator"),
	}
}

// run carries the per-request state threaded through every stage. It is
// never shared across requests.
type run struct {
	requestID    string
	connectionID uuid.UUID
	userID       string
	question     string
	timings      map[string]int64
	planCached   bool
	resultCached bool
}

// Handle runs the full ten-stage pipeline for one request. userID is the
// caller's authenticated identity, used to load row-level-security scope
// and to stamp the audit trail; it is never taken from the request body.
func (o *Orchestrator) Handle(ctx context.Context, req *models.QueryRequest, userID, requestID string) *models.QueryResponse {
	select {
	case o.admission <- struct{}{}:
		defer func() { <-o.admission }()
	default:
		return errorResponse(requestID, stageerr.New(stageerr.KindOverloaded, "", apperrors.ErrOverloaded.Error(), nil))
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestDeadline)
	defer cancel()

	start := time.Now()
	r := &run{requestID: requestID, userID: userID, question: req.Question, timings: map[string]int64{}}

	connectionID, err := uuid.Parse(req.ConnectionID)
	if err != nil {
		return errorResponse(requestID, stageerr.Wrap(stageerr.KindValidation, stageerr.StageSemanticContext, "invalid connection_id", err, nil))
	}
	r.connectionID = connectionID

	resp, stageErr := o.run(ctx, r, req)
	resp.RequestID = requestID
	resp.Performance.TotalMs = time.Since(start).Milliseconds()
	resp.Performance.StageTimingsMs = r.timings
	resp.Performance.PlanCached = r.planCached
	resp.Performance.ResultCached = r.resultCached

	if stageErr != nil {
		resp.Success = false
		resp.Error = toErrorInfo(stageErr)
		o.logger.Warn("pipeline run failed",
			zap.String("request_id", requestID),
			zap.String("stage", stageErr.Stage),
			zap.String("kind", string(stageErr.Kind)),
			zap.String("question", r.question),
			zap.Error(stageErr))
	} else {
		resp.Success = true
	}

	return resp
}

func (o *Orchestrator) run(ctx context.Context, r *run, req *models.QueryRequest) (*models.QueryResponse, *stageerr.StageError) {
	resp := &models.QueryResponse{}

	// Stage 1: semantic_context. Also resolves the user's RLS scope, since
	// both are needed before intent extraction can run (synonym priming
	// wants the caller's role, and a clarification-free plan should never
	// reference a field the user's table permissions will later deny).
	sem, userCtx, err := o.stageSemanticContext(ctx, r)
	if err != nil {
		return resp, err
	}

	snapshot, snapErr := o.schema.Snapshot(ctx, r.connectionID)
	if snapErr != nil {
		return resp, stageerr.Wrap(stageerr.KindUnknown, stageerr.StageSemanticContext, "could not load schema snapshot", snapErr, nil)
	}

	// Stage 2: query_planning.
	plan, extractResult, err := o.stageQueryPlanning(ctx, r, req, sem)
	if err != nil {
		return resp, err
	}
	resp.QueryPlan = plan
	if plan.NeedsClarification {
		resp.QueryPlan = plan
		return resp, stageerr.New(stageerr.KindPlan, stageerr.StagePlanValidation, plan.ClarificationQuestion, map[string]any{"plan": plan})
	}

	// stage 2.5: plan-level authorization (C9.AuthorizePlan). This must
	// run before sql_generation can see a forbidden column, so it is
	// folded into the planning/validation boundary rather than waiting
	// for the rls_injection stage, which only covers the WHERE-predicate
	// half of row-level security (see DESIGN.md's Open Question Decisions
	// for why AuthorizePlan and InjectFilters are split across two points
	// in the pipeline instead of one).
	if req.WantsRLS() {
		authorized, authErr := o.rlsEngine.AuthorizePlan(plan, sem, userCtx)
		if authErr != nil {
			return resp, toStageError(authErr, stageerr.KindAuth, stageerr.StagePlanValidation)
		}
		plan = authorized
		resp.QueryPlan = plan
	}

	// Stage 3: plan_validation.
	if err := o.stagePlanValidation(ctx, r, plan, sem); err != nil {
		return resp, err
	}

	// Stage 4: sql_generation.
	canonical, err := o.stageSQLGeneration(r, plan, sem, snapshot)
	if err != nil {
		return resp, err
	}

	level := validationLevel(req.ValidationLevel, o.cfg.DefaultValidation)
	limits := sqlvalidator.DefaultLimits(level, o.planMaxRowLimit(plan))

	// Stage 5: sql_validation (pre-RLS).
	if err := o.stageSQLValidation(r, stageerr.StageSQLValidation, canonical, snapshot, level, limits); err != nil {
		return resp, err
	}

	// Stage 6: rls_injection.
	if req.WantsRLS() {
		injected, injErr := o.stageRLSInjection(r, canonical, userCtx)
		if injErr != nil {
			return resp, injErr
		}
		canonical = injected
	}
	resp.SQL = canonical.SQL

	// Stage 7: sql_validation_post.
	if err := o.stageSQLValidation(r, stageerr.StageSQLValidationPost, canonical, snapshot, level, limits); err != nil {
		return resp, err
	}

	// Stage 8: query_execution.
	result, err := o.stageQueryExecution(ctx, r, canonical, userCtx, o.planMaxRowLimit(plan))
	if err != nil {
		return resp, err
	}

	// Stage 9: analytics, over the full result set.
	if req.WantsAnalytics() {
		resp.Analytics = o.stageAnalytics(r, result)
	}

	// Stage 10: pagination.
	page, pageResult := o.stagePagination(r, req, result)
	resp.Pagination = page
	resp.Results = pageResult

	o.learn(ctx, r, extractResult, sem)

	return resp, nil
}

func (o *Orchestrator) stageSemanticContext(ctx context.Context, r *run) (*models.SemanticContext, *models.UserContext, *stageerr.StageError) {
	defer o.time(r, stageerr.StageSemanticContext)()

	sem, err := o.semanticSvc.Resolve(ctx, r.connectionID, 0)
	if err != nil {
		return nil, nil, stageerr.Wrap(stageerr.KindUnknown, stageerr.StageSemanticContext, "could not resolve semantic context", err, nil)
	}

	userCtx, err := o.rlsStore.LoadUserContext(ctx, r.userID, r.connectionID)
	if err != nil {
		return nil, nil, stageerr.Wrap(stageerr.KindAuth, stageerr.StageSemanticContext, "could not load user RLS scope", err, nil)
	}

	return sem, userCtx, nil
}

func (o *Orchestrator) stageQueryPlanning(ctx context.Context, r *run, req *models.QueryRequest, sem *models.SemanticContext) (*models.QueryPlan, *models.ExtractResult, *stageerr.StageError) {
	defer o.time(r, stageerr.StageQueryPlanning)()

	result, err := o.extractor.Extract(ctx, intent.Input{
		Question:     req.Question,
		ConnectionID: r.connectionID,
		UserScope:    r.userID,
		Semantic:     sem,
		Conversation: req.Conversation,
	})
	if err != nil {
		return nil, nil, toStageError(err, stageerr.KindLLM, stageerr.StageQueryPlanning)
	}

	r.planCached = result.PlanCached
	plan := result.Plan
	return &plan, result, nil
}

func (o *Orchestrator) stagePlanValidation(ctx context.Context, r *run, plan *models.QueryPlan, sem *models.SemanticContext) *stageerr.StageError {
	defer o.time(r, stageerr.StagePlanValidation)()

	if err := o.planVal.Validate(ctx, plan, sem, time.Now()); err != nil {
		return toStageError(err, stageerr.KindPlan, stageerr.StagePlanValidation)
	}
	return nil
}

func (o *Orchestrator) stageSQLGeneration(r *run, plan *models.QueryPlan, sem *models.SemanticContext, snapshot *models.SchemaSnapshot) (*models.CanonicalSQL, *stageerr.StageError) {
	defer o.time(r, stageerr.StageSQLGeneration)()

	dialect := models.DialectPostgres
	if snapshot != nil && snapshot.Dialect != "" {
		dialect = snapshot.Dialect
	}

	canonical, err := o.synthesizer.Synthesize(plan, sem, snapshot, dialect)
	if err != nil {
		return nil, stageerr.Wrap(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, "could not synthesize SQL for plan", err, map[string]any{"plan": plan})
	}
	return canonical, nil
}

func (o *Orchestrator) stageSQLValidation(r *run, stage string, canonical *models.CanonicalSQL, snapshot *models.SchemaSnapshot, level sqlvalidator.Level, limits sqlvalidator.Limits) *stageerr.StageError {
	defer o.time(r, stage)()

	result := o.sqlVal.Validate(canonical.SQL, canonical.Params, snapshot, level, limits)
	if !result.OK {
		return stageerr.New(stageerr.KindValidation, stage, "synthesized SQL failed validation", map[string]any{"errors": result.Errors, "sql": canonical.SQL})
	}
	return nil
}

func (o *Orchestrator) stageRLSInjection(r *run, canonical *models.CanonicalSQL, userCtx *models.UserContext) (*models.CanonicalSQL, *stageerr.StageError) {
	defer o.time(r, stageerr.StageRLSInjection)()

	injected, err := o.rlsEngine.InjectFilters(canonical, userCtx)
	if err != nil {
		return nil, toStageError(err, stageerr.KindAuth, stageerr.StageRLSInjection)
	}
	return injected, nil
}

func (o *Orchestrator) stageQueryExecution(ctx context.Context, r *run, canonical *models.CanonicalSQL, userCtx *models.UserContext, requestedLimit int) (*models.ResultSet, *stageerr.StageError) {
	defer o.time(r, stageerr.StageQueryExecution)()

	result, err := o.exec.Execute(ctx, r.connectionID, canonical, userCtx, requestedLimit)
	if err != nil {
		return nil, toStageError(err, stageerr.KindExecution, stageerr.StageQueryExecution)
	}
	r.resultCached = result.CachedResult
	return result, nil
}

func (o *Orchestrator) stageAnalytics(r *run, result *models.ResultSet) *models.AnalyticsResult {
	defer o.time(r, stageerr.StageAnalytics)()
	return o.analytics.Process(result)
}

func (o *Orchestrator) stagePagination(r *run, req *models.QueryRequest, result *models.ResultSet) (*models.Pagination, []map[string]any) {
	defer o.time(r, stageerr.StagePagination)()

	page, pageSize := 1, defaultPageSize
	if req.Pagination != nil {
		if req.Pagination.Page > 0 {
			page = req.Pagination.Page
		}
		if req.Pagination.PageSize > 0 {
			pageSize = req.Pagination.PageSize
		}
	}

	total := len(result.Rows)
	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}
	end := offset + pageSize
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}

	rows := result.Rows[offset:end]

	return &models.Pagination{
		Page:      page,
		PageSize:  pageSize,
		TotalRows: total,
		HasMore:   end < total,
	}, rows
}

// learn implements spec.md §4.12's success-path learning hook: if the
// metric the pipeline actually resolved differs textually from the
// user's own wording, record the mapping as a learned synonym and bump
// that field's usage. Best-effort: a failure here never fails the
// request that already succeeded.
func (o *Orchestrator) learn(ctx context.Context, r *run, extracted *models.ExtractResult, sem *models.SemanticContext) {
	if o.synonyms == nil || extracted == nil {
		return
	}
	metric := extracted.Plan.Metric
	if metric == "" {
		return
	}

	for _, token := range extracted.EntitiesFound {
		if strings.EqualFold(token, metric) {
			continue
		}
		if err := o.synonyms.RecordSynonym(ctx, r.connectionID, token, metric, extracted.Confidence); err != nil {
			o.logger.Warn("failed to record learned synonym", zap.Error(err), zap.String("request_id", r.requestID))
		}
	}

	if o.usage == nil || sem == nil {
		return
	}
	if field, ok := sem.Field(models.FieldKindMetric, metric); ok {
		if err := o.usage.BumpUsage(ctx, field.ID, time.Now()); err != nil {
			o.logger.Warn("failed to bump field usage", zap.Error(err), zap.String("request_id", r.requestID))
		}
	}
}

// planMaxRowLimit extracts a plan's resolved row limit. A nil plan or an
// unset Limit (only possible before plan_validation has run) defers to
// the executor's own configured row cap.
func (o *Orchestrator) planMaxRowLimit(plan *models.QueryPlan) int {
	if plan != nil && plan.Limit != nil {
		return *plan.Limit
	}
	return 0
}

func (o *Orchestrator) time(r *run, stage string) func() {
	start := time.Now()
	return func() {
		r.timings[stage] = time.Since(start).Milliseconds()
	}
}

func validationLevel(requested models.ValidationLevel, fallback sqlvalidator.Level) sqlvalidator.Level {
	switch requested {
	case models.ValidationStrict:
		return sqlvalidator.LevelStrict
	case models.ValidationModerate:
		return sqlvalidator.LevelModerate
	case models.ValidationPermissive:
		return sqlvalidator.LevelPermissive
	default:
		return fallback
	}
}

// toStageError normalizes an error returned by a collaborator package
// into a StageError: if it already is one (every C1-C11 package wraps
// its own failures in stageerr), it is returned unchanged so its
// original Kind/Stage survive; otherwise it is wrapped with the
// fallback Kind/stage this call site represents.
func toStageError(err error, fallbackKind stageerr.Kind, stage string) *stageerr.StageError {
	if se, ok := err.(*stageerr.StageError); ok {
		return se
	}
	return stageerr.Wrap(fallbackKind, stage, err.Error(), err, nil)
}

func toErrorInfo(err *stageerr.StageError) *models.ErrorInfo {
	return &models.ErrorInfo{
		Kind:      string(err.Kind),
		Stage:     err.Stage,
		Message:   err.Message,
		DebugInfo: err.DebugInfo,
	}
}

func errorResponse(requestID string, err *stageerr.StageError) *models.QueryResponse {
	return &models.QueryResponse{
		Success:   false,
		RequestID: requestID,
		Error:     toErrorInfo(err),
	}
}

