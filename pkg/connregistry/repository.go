package connregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/semantic-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/semantic-query-engine/pkg/crypto"
	"github.com/ekaya-inc/semantic-query-engine/pkg/database"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// connectionRepository is the concrete ConnectionStore: the connections
// table plus the cached snapshot columns a prior introspection wrote.
// Grounded on pkg/semantic.fieldRepository and pkg/rlsstore.store's
// tenant-scoped query shape; connection provisioning itself (creating a
// row, rotating its credential) is an external collaborator's concern,
// so unlike those two repositories this one never writes the config
// column, only the snapshot it owns.
type connectionRepository struct {
	encryptor *crypto.CredentialEncryptor
}

// NewConnectionRepository builds the ConnectionStore C3 depends on.
// encryptor decrypts the config column at read time, using the same key
// the connection was encrypted under when it was provisioned out of band.
func NewConnectionRepository(encryptor *crypto.CredentialEncryptor) ConnectionStore {
	return &connectionRepository{encryptor: encryptor}
}

var _ ConnectionStore = (*connectionRepository)(nil)

func (r *connectionRepository) Get(ctx context.Context, connectionID uuid.UUID) (*models.Connection, map[string]any, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, nil, fmt.Errorf("no tenant scope in context")
	}

	var (
		conn            models.Connection
		encryptedCfg    string
		snapshotJSON    []byte
		snapshotTakenAt *time.Time
	)

	row := scope.Conn.QueryRow(ctx, `
		SELECT id, project_id, name, dialect, read_only, config,
		       dialect_adapter_version, snapshot, snapshot_taken_at,
		       created_at, updated_at
		FROM connections
		WHERE id = $1`, connectionID)

	err := row.Scan(
		&conn.ID, &conn.ProjectID, &conn.Name, &conn.Dialect, &conn.ReadOnly,
		&encryptedCfg, &conn.DialectAdapterVersion, &snapshotJSON, &snapshotTakenAt,
		&conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to load connection: %w", err)
	}

	config, err := r.decryptConfig(encryptedCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt connection config: %w", err)
	}

	if len(snapshotJSON) > 0 {
		var snap models.SchemaSnapshot
		if err := json.Unmarshal(snapshotJSON, &snap); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal cached snapshot: %w", err)
		}
		snap.ConnectionID = conn.ID
		if snapshotTakenAt != nil {
			snap.TakenAt = *snapshotTakenAt
		}
		conn.Snapshot = &snap
	}

	return &conn, config, nil
}

func (r *connectionRepository) UpdateSnapshot(ctx context.Context, connectionID uuid.UUID, snapshot *models.SchemaSnapshot, adapterVersion int) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = scope.Conn.Exec(ctx, `
		UPDATE connections
		SET snapshot = $2, snapshot_taken_at = $3, dialect_adapter_version = $4, updated_at = NOW()
		WHERE id = $1`,
		connectionID, snapshotJSON, snapshot.TakenAt, adapterVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// decryptConfig returns an empty, non-nil config for a connection stored
// with no credential material at all (the literal '{}'), the shape test
// fixtures use for connections that need no config beyond the DSN.
func (r *connectionRepository) decryptConfig(encrypted string) (map[string]any, error) {
	if encrypted == "" || encrypted == "{}" {
		return map[string]any{}, nil
	}

	plaintext, err := r.encryptor.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}

	var config map[string]any
	if err := json.Unmarshal([]byte(plaintext), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted config: %w", err)
	}
	return config, nil
}
