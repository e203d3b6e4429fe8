// Package semantic implements C1, the semantic store: CRUD over the
// governed set of metrics and dimensions a connection exposes, and the
// resolve operation the rest of the pipeline uses to load them.
package semantic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/semantic-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/semantic/formula"
)

// SchemaProvider is the subset of the connection registry (C3) the
// semantic store needs: the current schema snapshot used to validate
// column mappings and calculated-metric formulas.
type SchemaProvider interface {
	Snapshot(ctx context.Context, connectionID uuid.UUID) (*models.SchemaSnapshot, error)
}

// FieldEmbedder is the subset of the vector store (C2) the semantic store
// needs: recomputing a field's embedding whenever its descriptive text
// changes, per spec.md §4.2's upsert_field contract.
type FieldEmbedder interface {
	UpsertField(ctx context.Context, connectionID uuid.UUID, kind models.FieldKind, name, descriptiveText string) error
}

// Service exposes CRUD for SemanticField and the resolve operation
// (spec.md §4.1) that materializes a connection's active fields into a
// SemanticContext for the rest of the pipeline.
type Service struct {
	repo     FieldRepository
	schema   SchemaProvider
	embedder FieldEmbedder
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]*cachedContext
}

type cachedContext struct {
	version int
	ctx     *models.SemanticContext
}

// NewService creates a new semantic Service. embedder may be nil, in
// which case field writes skip the vector store update (used by tests
// that don't exercise C5's fuzzy-search path).
func NewService(repo FieldRepository, schema SchemaProvider, embedder FieldEmbedder, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		schema:   schema,
		embedder: embedder,
		logger:   logger,
		cache:    make(map[uuid.UUID]*cachedContext),
	}
}

// CreateField validates and persists a new SemanticField. Exactly one of
// (table, column) or formula must be set, matching the write contract of
// spec.md §6.
func (s *Service) CreateField(ctx context.Context, field *models.SemanticField) error {
	if err := s.validateField(ctx, field); err != nil {
		return err
	}
	if field.Version == 0 {
		field.Active = true
	}
	if err := s.repo.Create(ctx, field); err != nil {
		return err
	}
	s.invalidate(field.ConnectionID)
	s.reembed(ctx, field)
	return nil
}

// UpdateField re-validates and persists changes to an existing field.
func (s *Service) UpdateField(ctx context.Context, field *models.SemanticField) error {
	if err := s.validateField(ctx, field); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, field); err != nil {
		return err
	}
	s.invalidate(field.ConnectionID)
	s.reembed(ctx, field)
	return nil
}

// reembed recomputes field's vs_fields embedding after any field-text
// change (spec.md §4.2), so C5's fuzzy-search fallback can find metrics
// and dimensions added after the initial seed data. A failure here is
// logged, not returned: the field write already committed, and the next
// search falls back to exact/synonym matching until the embedding catches
// up on the field's next write.
func (s *Service) reembed(ctx context.Context, field *models.SemanticField) {
	if s.embedder == nil {
		return
	}
	if err := s.embedder.UpsertField(ctx, field.ConnectionID, field.Kind, field.Name, fieldDescriptiveText(field)); err != nil {
		s.logger.Warn("failed to update field embedding",
			zap.String("field_id", field.ID.String()),
			zap.String("field_name", field.Name),
			zap.Error(err),
		)
	}
}

// fieldDescriptiveText joins the text a fuzzy search should match against:
// the field's name, display name, description, and any synonyms.
func fieldDescriptiveText(field *models.SemanticField) string {
	parts := []string{field.Name, field.DisplayName}
	if field.Description != "" {
		parts = append(parts, field.Description)
	}
	parts = append(parts, field.Synonyms...)
	return strings.Join(parts, " ")
}

// DeactivateField removes a field from the active set without deleting
// its row, preserving history for already-cached plans and past queries.
func (s *Service) DeactivateField(ctx context.Context, fieldID uuid.UUID) error {
	f, err := s.repo.GetByID(ctx, fieldID)
	if err != nil {
		return err
	}
	if f == nil {
		return apperrors.ErrNotFound
	}
	if err := s.repo.Deactivate(ctx, fieldID); err != nil {
		return err
	}
	s.invalidate(f.ConnectionID)
	return nil
}

// validateField enforces the table/column-or-formula invariant (spec.md
// §3) and, for calculated metrics, parses the formula and checks every
// column it references exists in the connection's current schema snapshot.
func (s *Service) validateField(ctx context.Context, field *models.SemanticField) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if !field.IsCalculated() {
		return nil
	}

	snapshot, err := s.schema.Snapshot(ctx, field.ConnectionID)
	if err != nil {
		return fmt.Errorf("failed to load schema snapshot for formula validation: %w", err)
	}

	return checkFormula(field, snapshot)
}

// checkFormula parses a calculated field's formula and confirms every
// column it references exists in snapshot. Shared by validateField (at
// write time) and Resolve (at read time, to catch schema drift after the
// field was created).
func checkFormula(field *models.SemanticField, snapshot *models.SchemaSnapshot) error {
	parsed, err := formula.Parse(field.Formula)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStaleFormula, err)
	}

	for _, col := range parsed.Columns() {
		table := snapshot.TableByTableName(col.Table)
		if table == nil {
			return fmt.Errorf("%w: table %q referenced by formula does not exist", apperrors.ErrStaleFormula, col.Table)
		}
		found := false
		for _, c := range table.Columns {
			if c.ColumnName == col.Column {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: column %q.%q referenced by formula does not exist", apperrors.ErrStaleFormula, col.Table, col.Column)
		}
	}

	return nil
}

// Resolve loads the active fields for a connection into a SemanticContext,
// per spec.md §4.1. versionCursor lets a caller that already holds a
// context at a given version skip the reload when nothing has changed;
// pass 0 to always force a fresh resolve.
func (s *Service) Resolve(ctx context.Context, connectionID uuid.UUID, versionCursor int) (*models.SemanticContext, error) {
	if versionCursor > 0 {
		s.mu.RLock()
		cached, ok := s.cache[connectionID]
		s.mu.RUnlock()
		if ok && cached.version == versionCursor {
			return cached.ctx, nil
		}
	}

	fields, err := s.repo.GetByConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load semantic fields: %w", err)
	}

	snapshot, err := s.schema.Snapshot(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema snapshot: %w", err)
	}

	byKey := make(map[string]*models.SemanticField, len(fields))
	version := 0
	for _, f := range fields {
		if f.IsCalculated() {
			if err := checkFormula(f, snapshot); err != nil {
				s.logger.Warn("calculated metric failed re-validation against current schema snapshot, marking stale",
					zap.String("field_id", f.ID.String()),
					zap.String("field_name", f.Name),
					zap.Error(err),
				)
				if markErr := s.repo.MarkStale(ctx, f.ID); markErr != nil {
					s.logger.Error("failed to mark stale calculated metric inactive",
						zap.String("field_id", f.ID.String()),
						zap.Error(markErr),
					)
				}
				continue
			}
		}
		byKey[models.FieldKey(f.Kind, f.Name)] = f
		if f.Version > version {
			version = f.Version
		}
	}

	semCtx := &models.SemanticContext{
		ConnectionID: connectionID,
		Version:      version,
		Fields:       byKey,
		ForeignKeys:  snapshot.ForeignKeys,
		ResolvedAt:   time.Now(),
	}

	s.mu.Lock()
	s.cache[connectionID] = &cachedContext{version: version, ctx: semCtx}
	s.mu.Unlock()

	return semCtx, nil
}

func (s *Service) invalidate(connectionID uuid.UUID) {
	s.mu.Lock()
	delete(s.cache, connectionID)
	s.mu.Unlock()
}
