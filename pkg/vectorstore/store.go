// Package vectorstore implements C2: semantic search over field
// descriptions and learned synonyms, backed by the pgvector Postgres
// extension. It holds three logical collections — fields, synonyms, and
// past queries — each a table with a `vector` embedding column, searched
// with pgvector's cosine-distance operator (`<=>`).
//
// Embedding generation is an external collaborator's concern: Store takes
// an Embedder function value rather than calling out to any specific
// model provider, the same way pkg/llm.LLMClient keeps the model backend
// pluggable behind an interface.
package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// Embedder turns free text into an embedding vector. Implementations wrap
// whichever model backend the deployment configures (the LLM provider's
// embedding endpoint, or a dedicated embedding service).
type Embedder func(ctx context.Context, text string) ([]float32, error)

// FieldMatch is one hit from SearchFields: the field identity plus how
// close its embedding is to the query text.
type FieldMatch struct {
	ConnectionID uuid.UUID
	Kind         models.FieldKind
	Name         string
	Similarity   float64
}

// Store is the C2 vector store. It owns a *sql.DB rather than a pgx pool
// because pgvector-go's database/sql driver integration (pgvector.Vector
// implementing driver.Valuer/sql.Scanner) is what the pack's reference
// wiring (mazori-ai-modelgate's semantic cache repository) uses; pgx's own
// typed-array registration would work too but this keeps the vector
// columns usable from any database/sql-based tool without a pgx-specific
// type registration step.
type Store struct {
	db      *sql.DB
	embed   Embedder
	emaRate float64
}

// New constructs a Store. emaRate is the exponential-moving-average
// weight applied to a repeated synonym observation's confidence (spec.md
// §4.2's "confidence EMA on repeat matches"); 0.3 gives recent
// observations meaningfully more weight than the accumulated history
// without letting one noisy match swing confidence on its own.
func New(db *sql.DB, embed Embedder) *Store {
	return &Store{db: db, embed: embed, emaRate: 0.3}
}

// UpsertField recomputes a field's embedding from its descriptive text
// (name, description, synonyms joined) and stores it, keyed by
// (connection_id, kind, name) — the same identity spec.md §3 assigns a
// SemanticField.
func (s *Store) UpsertField(ctx context.Context, connectionID uuid.UUID, kind models.FieldKind, name, descriptiveText string) error {
	vec, err := s.embed(ctx, descriptiveText)
	if err != nil {
		return fmt.Errorf("embed field text: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vs_fields (connection_id, kind, name, descriptive_text, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (connection_id, kind, name) DO UPDATE SET
			descriptive_text = EXCLUDED.descriptive_text,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
	`, connectionID, string(kind), name, descriptiveText, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("upsert field embedding: %w", err)
	}
	return nil
}

// SearchFields returns up to topK fields whose embedding is closest to
// queryText, optionally narrowed to one connection and/or field kind.
// Results are ordered by cosine similarity descending (pgvector's `<=>`
// operator is a distance, so similarity is reported as 1 - distance).
func (s *Store) SearchFields(ctx context.Context, queryText string, connectionID *uuid.UUID, kind *models.FieldKind, topK int) ([]FieldMatch, error) {
	vec, err := s.embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query text: %w", err)
	}
	embedding := pgvector.NewVector(vec)

	query := `
		SELECT connection_id, kind, name, 1 - (embedding <=> $1) AS similarity
		FROM vs_fields
		WHERE ($2::uuid IS NULL OR connection_id = $2)
		  AND ($3::text IS NULL OR kind = $3)
		ORDER BY embedding <=> $1
		LIMIT $4
	`
	var kindArg any
	if kind != nil {
		kindArg = string(*kind)
	}

	rows, err := s.db.QueryContext(ctx, query, embedding, connectionID, kindArg, topK)
	if err != nil {
		return nil, fmt.Errorf("search fields: %w", err)
	}
	defer rows.Close()

	var matches []FieldMatch
	for rows.Next() {
		var m FieldMatch
		var kindStr string
		if err := rows.Scan(&m.ConnectionID, &kindStr, &m.Name, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan field match: %w", err)
		}
		m.Kind = models.FieldKind(kindStr)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// RecordSynonym upserts a user-term-to-canonical-field association. On a
// repeat observation, confidence is reinforced via exponential moving
// average rather than overwritten, so one stray low-confidence match
// doesn't erase a term's established standing.
func (s *Store) RecordSynonym(ctx context.Context, connectionID uuid.UUID, userTerm, canonicalName string, confidence float64) error {
	vec, err := s.embed(ctx, userTerm)
	if err != nil {
		return fmt.Errorf("embed synonym term: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vs_synonyms (connection_id, user_term, canonical_name, confidence, embedding, last_seen)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (connection_id, user_term, canonical_name) DO UPDATE SET
			confidence = vs_synonyms.confidence * (1 - $6::float8) + EXCLUDED.confidence * $6::float8,
			last_seen = NOW()
	`, connectionID, userTerm, canonicalName, confidence, pgvector.NewVector(vec), s.emaRate)
	if err != nil {
		return fmt.Errorf("upsert synonym: %w", err)
	}
	return nil
}

// GetSynonyms bulk-loads every learned synonym for a connection, for
// intent extraction priming (spec.md §4.2).
func (s *Store) GetSynonyms(ctx context.Context, connectionID uuid.UUID) ([]models.LearnedSynonym, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, user_term, canonical_name, confidence, last_seen, created_at
		FROM vs_synonyms
		WHERE connection_id = $1
		ORDER BY confidence DESC
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load synonyms: %w", err)
	}
	defer rows.Close()

	var out []models.LearnedSynonym
	for rows.Next() {
		var syn models.LearnedSynonym
		if err := rows.Scan(&syn.ID, &syn.ConnectionID, &syn.UserTerm, &syn.CanonicalName, &syn.Confidence, &syn.LastSeen, &syn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan synonym: %w", err)
		}
		out = append(out, syn)
	}
	return out, rows.Err()
}

// RecordQuery stores a past resolved query's embedding in vs_queries, the
// third collection, used to prime intent extraction with similar prior
// resolutions rather than starting from zero context each time.
func (s *Store) RecordQuery(ctx context.Context, connectionID uuid.UUID, questionText string, planJSON []byte) error {
	vec, err := s.embed(ctx, questionText)
	if err != nil {
		return fmt.Errorf("embed question text: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vs_queries (connection_id, question_text, plan_json, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, connectionID, questionText, planJSON, pgvector.NewVector(vec), time.Now())
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	return nil
}
