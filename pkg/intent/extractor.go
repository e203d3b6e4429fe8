// Package intent implements C5, the intent extractor: turning a natural
// language question plus the resolved semantic and RLS context into a
// structured QueryPlan, per spec.md §4.5's eight-step algorithm.
package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/semantic-query-engine/pkg/llm"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/stageerr"
	"github.com/ekaya-inc/semantic-query-engine/pkg/vectorstore"
)

// semanticSearchThreshold is the minimum cosine similarity C2's fuzzy
// search must clear for a field match to resolve an otherwise-unmatched
// metric token, per spec.md §4.5 step 7.
const semanticSearchThreshold = 0.6

// maxConversationTurns bounds how much recent conversation is folded into
// the prompt, per spec.md §4.5's input contract ("recent conversation
// (≤3 turns)").
const maxConversationTurns = 3

// PlanCache is the subset of the plan cache (pkg/plancache, C12's
// substrate) the extractor needs: look up a previously resolved plan by
// its deterministic key, and store a freshly resolved one.
type PlanCache interface {
	Get(ctx context.Context, key string) (*models.QueryPlan, bool)
	Put(ctx context.Context, key string, plan models.QueryPlan)
}

// SynonymSource is the subset of pkg/vectorstore.Store the extractor needs
// for synonym priming and fuzzy metric resolution.
type SynonymSource interface {
	GetSynonyms(ctx context.Context, connectionID uuid.UUID) ([]models.LearnedSynonym, error)
	SearchFields(ctx context.Context, queryText string, connectionID *uuid.UUID, kind *models.FieldKind, topK int) ([]vectorstore.FieldMatch, error)
}

// Extractor is C5. It is stateless across calls; all per-run state (cache,
// synonym source, LLM client) is injected.
type Extractor struct {
	llmClient LLMClient
	synonyms  SynonymSource
	cache     PlanCache
	logger    *zap.Logger
}

// LLMClient is the subset of pkg/llm.LLMClient the extractor needs.
type LLMClient interface {
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*llm.GenerateResponseResult, error)
}

func NewExtractor(llmClient LLMClient, synonyms SynonymSource, cache PlanCache, logger *zap.Logger) *Extractor {
	return &Extractor{llmClient: llmClient, synonyms: synonyms, cache: cache, logger: logger}
}

// Input bundles everything the extractor needs beyond the question text
// itself: the resolved semantic context, learned synonyms, and the
// conversation the question continues.
type Input struct {
	Question     string
	ConnectionID uuid.UUID
	UserScope    string // user_id, or a role-scope digest for cache-key purposes
	Semantic     *models.SemanticContext
	Conversation []string
}

// Extract runs the eight-step algorithm spec.md §4.5 describes.
func (e *Extractor) Extract(ctx context.Context, in Input) (*models.ExtractResult, error) {
	normalized := normalizeQuestion(in.Question)
	key := CacheKey(in.ConnectionID, normalized, in.UserScope, in.Semantic.Version)

	if cached, ok := e.cache.Get(ctx, key); ok {
		return &models.ExtractResult{Plan: *cached, Confidence: 1.0, PlanCached: true}, nil
	}

	synonyms, err := e.synonyms.GetSynonyms(ctx, in.ConnectionID)
	if err != nil {
		return nil, stageerr.Wrap(stageerr.KindLLM, stageerr.StageQueryPlanning, "failed to load learned synonyms", err, nil)
	}

	prompt := e.buildPrompt(in, synonyms)

	plan, confidence, entities, err := e.invokeAndParse(ctx, prompt)
	if err != nil {
		return nil, err
	}

	e.applyOrdinalRule(plan)
	e.applyByDisambiguation(plan, in.Semantic, synonyms)
	e.applySmartDefault(plan, in.Semantic, entities)

	if plan.Metric == "" && !plan.NeedsClarification {
		resolved, err := e.fuzzyResolveMetric(ctx, in, plan)
		if err != nil {
			return nil, err
		}
		if resolved != "" {
			plan.Metric = resolved
		} else {
			plan.NeedsClarification = true
			plan.ClarificationQuestion = "Which metric should I use? I couldn't match your question to a known metric."
		}
	}

	result := &models.ExtractResult{Plan: *plan, Confidence: confidence, EntitiesFound: entities}

	if !plan.NeedsClarification {
		e.cache.Put(ctx, key, *plan)
	}

	return result, nil
}

func (e *Extractor) invokeAndParse(ctx context.Context, prompt string) (*models.QueryPlan, float64, []string, error) {
	plan, confidence, entities, err := e.callAndParseOnce(ctx, prompt, e.systemPrompt())
	if err == nil {
		return plan, confidence, entities, nil
	}

	e.logger.Warn("intent extraction parse failed, retrying with repair prompt", zap.Error(err))

	repairPrompt := fmt.Sprintf("Your previous response could not be parsed as valid JSON matching the required schema. Error: %s\n\nRespond again with ONLY the corrected JSON object, no other text.\n\nOriginal request:\n%s", err.Error(), prompt)
	plan, confidence, entities, err = e.callAndParseOnce(ctx, repairPrompt, e.systemPrompt())
	if err != nil {
		return nil, 0, nil, stageerr.Wrap(stageerr.KindLLM, stageerr.StageQueryPlanning, "LLM response could not be parsed after repair attempt", err, nil)
	}
	return plan, confidence, entities, nil
}

type llmPlanResponse struct {
	Metric                string                      `json:"metric"`
	Dimensions            []string                    `json:"dimensions"`
	TimeRangeNamed        string                      `json:"time_range_named"`
	TimeGrain             string                      `json:"time_grain"`
	Filters               []models.PlanFilter         `json:"filters"`
	OrderBy               map[string]models.SortDirection `json:"order_by"`
	Limit                 *int                        `json:"limit"`
	Offset                *int                        `json:"offset"`
	Intent                string                      `json:"intent"`
	EntitiesFound         []string                    `json:"entities_found"`
	Confidence            float64                     `json:"confidence"`
	NeedsClarification    bool                        `json:"needs_clarification"`
	ClarificationQuestion string                      `json:"clarification_question"`
}

func (e *Extractor) callAndParseOnce(ctx context.Context, prompt, systemMessage string) (*models.QueryPlan, float64, []string, error) {
	result, err := e.llmClient.GenerateResponse(ctx, prompt, systemMessage, 0.0, false)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("llm call failed: %w", err)
	}

	parsed, err := llm.ParseJSONResponse[llmPlanResponse](result.Content)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("parse plan JSON: %w", err)
	}

	raw := result.Content
	plan := &models.QueryPlan{
		Metric:                parsed.Metric,
		Dimensions:            parsed.Dimensions,
		TimeGrain:             models.TimeGrain(parsed.TimeGrain),
		Filters:               parsed.Filters,
		OrderBy:               parsed.OrderBy,
		Limit:                 parsed.Limit,
		Offset:                parsed.Offset,
		Intent:                parsed.Intent,
		NeedsClarification:    parsed.NeedsClarification,
		ClarificationQuestion: parsed.ClarificationQuestion,
		RawLLMResponse:        &raw,
	}
	if parsed.TimeRangeNamed != "" {
		plan.TimeRange = &models.TimeRange{Named: parsed.TimeRangeNamed}
	}

	return plan, parsed.Confidence, parsed.EntitiesFound, nil
}

// applyOrdinalRule implements step 4: "Nth highest/lowest X" must become
// limit=1, offset=N-1, never limit=N. The LLM is instructed to already do
// this in the prompt; this is the deterministic backstop in case it
// doesn't, keyed off the same ordinal phrasing the prompt asks it to
// detect.
func (e *Extractor) applyOrdinalRule(plan *models.QueryPlan) {
	n, ok := ordinalFromIntent(plan.Intent)
	if !ok {
		return
	}
	one := 1
	offset := n - 1
	plan.Limit = &one
	plan.Offset = &offset
}

// applyByDisambiguation implements step 5: for an unresolved "X by Y"
// phrasing the LLM surfaced in Dimensions as two bare candidate tokens,
// decide which is the metric and which the dimension based on which one
// resolves against a known metric name or synonym.
func (e *Extractor) applyByDisambiguation(plan *models.QueryPlan, sem *models.SemanticContext, synonyms []models.LearnedSynonym) {
	if plan.Metric != "" || len(plan.Dimensions) != 2 {
		return
	}
	x, y := plan.Dimensions[0], plan.Dimensions[1]
	if resolvesToMetric(y, sem, synonyms) {
		plan.Metric = y
		plan.Dimensions = []string{x}
		return
	}
	if resolvesToMetric(x, sem, synonyms) {
		plan.Metric = x
		plan.Dimensions = []string{y}
		return
	}
	// Neither token resolves against a known metric or synonym: fall back
	// to the "X by Y" reading order itself (X is metric, Y dimension)
	// rather than leaving plan.Metric empty and forcing an unwarranted
	// clarification request.
	plan.Metric = x
	plan.Dimensions = []string{y}
}

func resolvesToMetric(token string, sem *models.SemanticContext, synonyms []models.LearnedSynonym) bool {
	if _, ok := sem.Field(models.FieldKindMetric, token); ok {
		return true
	}
	for _, syn := range synonyms {
		if strings.EqualFold(syn.UserTerm, token) {
			if _, ok := sem.Field(models.FieldKindMetric, syn.CanonicalName); ok {
				return true
			}
		}
	}
	return false
}

// applySmartDefault implements step 6: when a single concrete entity was
// named with no explicit metric, pick the first core metric (highest
// usage) rather than asking for clarification, recording the choice as an
// assumption.
func (e *Extractor) applySmartDefault(plan *models.QueryPlan, sem *models.SemanticContext, entities []string) {
	if plan.Metric != "" || len(entities) != 1 || plan.NeedsClarification {
		return
	}
	top := sem.TopFieldsByUsage(models.FieldKindMetric, 1)
	if len(top) == 0 {
		return
	}
	plan.Metric = top[0].Name
	plan.Assumptions = append(plan.Assumptions, fmt.Sprintf("assumed metric %q for entity %q", top[0].Name, entities[0]))
}

// fuzzyResolveMetric implements step 7: a last-resort semantic search over
// field descriptions for the unresolved metric token.
func (e *Extractor) fuzzyResolveMetric(ctx context.Context, in Input, plan *models.QueryPlan) (string, error) {
	kind := models.FieldKindMetric
	matches, err := e.synonyms.SearchFields(ctx, in.Question, &in.ConnectionID, &kind, 1)
	if err != nil {
		return "", stageerr.Wrap(stageerr.KindLLM, stageerr.StageQueryPlanning, "fuzzy metric search failed", err, nil)
	}
	if len(matches) == 0 || matches[0].Similarity < semanticSearchThreshold {
		return "", nil
	}
	return matches[0].Name, nil
}

func (e *Extractor) systemPrompt() string {
	return "You translate analytics questions into a strict JSON query plan. " +
		"Only use metric and dimension names from the provided list; never invent a name. " +
		"For an \"Nth highest/lowest\" question set limit to 1 and offset to N-1, never limit to N. " +
		"Respond with a single JSON object and no other text."
}

func (e *Extractor) buildPrompt(in Input, synonyms []models.LearnedSynonym) string {
	var b strings.Builder
	b.WriteString("Metrics (name: usage_count):\n")
	for _, f := range in.Semantic.TopFieldsByUsage(models.FieldKindMetric, 50) {
		fmt.Fprintf(&b, "- %s: %d\n", f.Name, f.UsageCount)
	}
	b.WriteString("\nDimensions (name: usage_count):\n")
	for _, f := range in.Semantic.TopFieldsByUsage(models.FieldKindDimension, 50) {
		fmt.Fprintf(&b, "- %s: %d\n", f.Name, f.UsageCount)
	}

	if len(synonyms) > 0 {
		b.WriteString("\nKnown synonyms (user term -> canonical field):\n")
		for _, s := range synonyms {
			fmt.Fprintf(&b, "- %q -> %s\n", s.UserTerm, s.CanonicalName)
		}
	}

	if len(in.Conversation) > 0 {
		turns := in.Conversation
		if len(turns) > maxConversationTurns {
			turns = turns[len(turns)-maxConversationTurns:]
		}
		b.WriteString("\nRecent conversation:\n")
		for _, turn := range turns {
			fmt.Fprintf(&b, "- %s\n", turn)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", in.Question)
	b.WriteString(`
Respond with JSON matching this schema:
{
  "metric": "string, canonical metric name or empty",
  "dimensions": ["string", ...],
  "time_range_named": "string, e.g. last_quarter, last_90_days, or empty",
  "time_grain": "string: day|week|month|quarter|year or empty",
  "filters": [{"field": "string", "operator": "string", "value": "any"}],
  "order_by": {"field_name": "asc|desc"},
  "limit": null,
  "offset": null,
  "intent": "string, a short restatement of the question's intent",
  "entities_found": ["string", ...],
  "confidence": 0.0,
  "needs_clarification": false,
  "clarification_question": "string or empty"
}`)
	return b.String()
}

// CacheKey builds the plan cache key spec.md §4.5 step 1 describes:
// deterministic over (connection_id, normalized_question, user_scope,
// semantic_version). A sha256 digest keeps the key a fixed, short length
// regardless of question text; this is plain content hashing with the
// standard library, as pkg/executor.Key does for result cache keys.
func CacheKey(connectionID uuid.UUID, normalizedQuestion, userScope string, semanticVersion int) string {
	h := sha256.New()
	h.Write([]byte(connectionID.String()))
	h.Write([]byte{0})
	h.Write([]byte(normalizedQuestion))
	h.Write([]byte{0})
	h.Write([]byte(userScope))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(semanticVersion)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(q))), " ")
}

// ordinalFromIntent looks for "Nth highest/lowest" phrasing in the
// restated intent text and returns N. This is a narrow backstop: the
// prompt instructs the model to already emit limit=1/offset=N-1 directly,
// so this only fires if the model's own handling slipped.
func ordinalFromIntent(intent string) (int, bool) {
	lower := strings.ToLower(intent)
	ordinals := map[string]int{
		"first": 1, "1st": 1, "second": 2, "2nd": 2, "third": 3, "3rd": 3,
		"fourth": 4, "4th": 4, "fifth": 5, "5th": 5,
	}
	words := strings.FieldsFunc(lower, func(r rune) bool { return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') })
	for _, w := range words {
		if n, ok := ordinals[w]; ok {
			if strings.Contains(lower, "highest") || strings.Contains(lower, "lowest") || strings.Contains(lower, "top") || strings.Contains(lower, "bottom") {
				return n, true
			}
		}
	}
	return 0, false
}
