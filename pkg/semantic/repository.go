package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/semantic-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/semantic-query-engine/pkg/database"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// FieldRepository provides tenant-scoped persistence for SemanticField rows
// (table semantic_fields, unique on (connection_id, kind, name) per spec.md §6).
type FieldRepository interface {
	Create(ctx context.Context, field *models.SemanticField) error
	Update(ctx context.Context, field *models.SemanticField) error
	Deactivate(ctx context.Context, fieldID uuid.UUID) error
	GetByConnection(ctx context.Context, connectionID uuid.UUID) ([]*models.SemanticField, error)
	GetByName(ctx context.Context, connectionID uuid.UUID, kind models.FieldKind, name string) (*models.SemanticField, error)
	GetByID(ctx context.Context, fieldID uuid.UUID) (*models.SemanticField, error)
	BumpUsage(ctx context.Context, fieldID uuid.UUID, when time.Time) error
	MarkStale(ctx context.Context, fieldID uuid.UUID) error
}

type fieldRepository struct{}

// NewFieldRepository creates a new FieldRepository.
func NewFieldRepository() FieldRepository {
	return &fieldRepository{}
}

var _ FieldRepository = (*fieldRepository)(nil)

func (r *fieldRepository) Create(ctx context.Context, field *models.SemanticField) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()

	query := `
		INSERT INTO semantic_fields (
			connection_id, kind, name, display_name, description, data_type,
			table_name, column_name, aggregation, format, formula,
			synonyms, default_filters, active, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		field.ConnectionID,
		string(field.Kind),
		field.Name,
		field.DisplayName,
		nullString(field.Description),
		nullString(field.DataType),
		nullString(field.Table),
		nullString(field.Column),
		string(field.Aggregation),
		nullString(string(field.Format)),
		nullString(field.Formula),
		jsonbMarshal(field.Synonyms),
		jsonbMarshal(field.DefaultFilters),
		field.Active,
		1,
		now,
		now,
	).Scan(&field.ID, &field.CreatedAt, &field.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create semantic field: %w", err)
	}
	field.Version = 1
	return nil
}

func (r *fieldRepository) Update(ctx context.Context, field *models.SemanticField) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE semantic_fields
		SET display_name = $2, description = $3, data_type = $4, table_name = $5,
		    column_name = $6, aggregation = $7, format = $8, formula = $9,
		    synonyms = $10, default_filters = $11, active = $12, version = version + 1
		WHERE id = $1
		RETURNING version, updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		field.ID,
		field.DisplayName,
		nullString(field.Description),
		nullString(field.DataType),
		nullString(field.Table),
		nullString(field.Column),
		string(field.Aggregation),
		nullString(string(field.Format)),
		nullString(field.Formula),
		jsonbMarshal(field.Synonyms),
		jsonbMarshal(field.DefaultFilters),
		field.Active,
	).Scan(&field.Version, &field.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update semantic field: %w", err)
	}

	return nil
}

// Deactivate flips active=false rather than deleting: historical plan-cache
// entries and query history keep referring to the field by name.
func (r *fieldRepository) Deactivate(ctx context.Context, fieldID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `UPDATE semantic_fields SET active = false, version = version + 1 WHERE id = $1`, fieldID)
	if err != nil {
		return fmt.Errorf("failed to deactivate semantic field: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// MarkStale deactivates a calculated metric whose formula no longer
// resolves against the current schema snapshot (spec.md §4.1 STALE_FORMULA).
func (r *fieldRepository) MarkStale(ctx context.Context, fieldID uuid.UUID) error {
	return r.Deactivate(ctx, fieldID)
}

func (r *fieldRepository) GetByConnection(ctx context.Context, connectionID uuid.UUID) ([]*models.SemanticField, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + fieldColumns + `
		FROM semantic_fields
		WHERE connection_id = $1 AND active = true
		ORDER BY kind, name`

	rows, err := scope.Conn.Query(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query semantic fields: %w", err)
	}
	defer rows.Close()

	var fields []*models.SemanticField
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating semantic fields: %w", err)
	}
	return fields, nil
}

func (r *fieldRepository) GetByName(ctx context.Context, connectionID uuid.UUID, kind models.FieldKind, name string) (*models.SemanticField, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + fieldColumns + `
		FROM semantic_fields
		WHERE connection_id = $1 AND kind = $2 AND name = $3`

	row := scope.Conn.QueryRow(ctx, query, connectionID, string(kind), name)
	f, err := scanField(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func (r *fieldRepository) GetByID(ctx context.Context, fieldID uuid.UUID) (*models.SemanticField, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + fieldColumns + ` FROM semantic_fields WHERE id = $1`

	row := scope.Conn.QueryRow(ctx, query, fieldID)
	f, err := scanField(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func (r *fieldRepository) BumpUsage(ctx context.Context, fieldID uuid.UUID, when time.Time) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	_, err := scope.Conn.Exec(ctx, `UPDATE semantic_fields SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`, fieldID, when)
	if err != nil {
		return fmt.Errorf("failed to bump semantic field usage: %w", err)
	}
	return nil
}

const fieldColumns = `
	id, connection_id, kind, name, display_name, description, data_type,
	table_name, column_name, aggregation, format, formula,
	synonyms, default_filters, active, usage_count, last_used_at,
	version, created_at, updated_at`

func scanField(row pgx.Row) (*models.SemanticField, error) {
	var f models.SemanticField
	var kind, aggregation string
	var description, dataType, table, column, format, formula *string
	var synonyms, defaultFilters []byte
	var lastUsedAt *time.Time

	err := row.Scan(
		&f.ID, &f.ConnectionID, &kind, &f.Name, &f.DisplayName, &description, &dataType,
		&table, &column, &aggregation, &format, &formula,
		&synonyms, &defaultFilters, &f.Active, &f.UsageCount, &lastUsedAt,
		&f.Version, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan semantic field: %w", err)
	}

	f.Kind = models.FieldKind(kind)
	f.Aggregation = models.Aggregation(aggregation)
	if description != nil {
		f.Description = *description
	}
	if dataType != nil {
		f.DataType = *dataType
	}
	if table != nil {
		f.Table = *table
	}
	if column != nil {
		f.Column = *column
	}
	if format != nil {
		f.Format = models.Format(*format)
	}
	if formula != nil {
		f.Formula = *formula
	}
	f.LastUsedAt = lastUsedAt

	if len(synonyms) > 0 && string(synonyms) != "null" {
		if err := json.Unmarshal(synonyms, &f.Synonyms); err != nil {
			return nil, fmt.Errorf("failed to unmarshal synonyms: %w", err)
		}
	}
	if len(defaultFilters) > 0 && string(defaultFilters) != "null" {
		if err := json.Unmarshal(defaultFilters, &f.DefaultFilters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal default_filters: %w", err)
		}
	}

	return &f, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonbMarshal(v any) any {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil
		}
	case []models.PlanFilter:
		if len(val) == 0 {
			return nil
		}
	}
	return v
}
