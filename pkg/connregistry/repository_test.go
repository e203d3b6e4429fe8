//go:build integration

package connregistry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/semantic-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/semantic-query-engine/pkg/crypto"
	"github.com/ekaya-inc/semantic-query-engine/pkg/database"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/testhelpers"
)

// connRepoTestContext holds test dependencies, grounded on
// pkg/rlsstore/repository_test.go's setup/cleanup shape.
type connRepoTestContext struct {
	t            *testing.T
	engineDB     *testhelpers.EngineDB
	store        ConnectionStore
	projectID    uuid.UUID
	connectionID uuid.UUID
}

func setupConnRepoTest(t *testing.T) *connRepoTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	encryptor, err := crypto.NewCredentialEncryptor("test-passphrase-not-for-production")
	require.NoError(t, err)

	tc := &connRepoTestContext{
		t:            t,
		engineDB:     engineDB,
		store:        NewConnectionRepository(encryptor),
		projectID:    uuid.New(),
		connectionID: uuid.New(),
	}
	tc.ensureTestConnection()
	t.Cleanup(tc.cleanup)
	return tc
}

func (tc *connRepoTestContext) ensureTestConnection() {
	tc.t.Helper()
	ctx := context.Background()
	scope, err := tc.engineDB.DB.WithoutTenant(ctx)
	require.NoError(tc.t, err)
	defer scope.Close()

	_, err = scope.Conn.Exec(ctx, `
		INSERT INTO connections (id, project_id, name, dialect, config)
		VALUES ($1, $2, 'connregistry test connection', 'postgres', '{}'::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, tc.connectionID, tc.projectID)
	require.NoError(tc.t, err)
}

func (tc *connRepoTestContext) cleanup() {
	ctx := context.Background()
	scope, err := tc.engineDB.DB.WithoutTenant(ctx)
	if err != nil {
		return
	}
	defer scope.Close()
	_, _ = scope.Conn.Exec(ctx, "DELETE FROM connections WHERE id = $1", tc.connectionID)
}

func (tc *connRepoTestContext) ctxWithScope() (context.Context, func()) {
	tc.t.Helper()
	scope, err := tc.engineDB.DB.WithoutTenant(context.Background())
	require.NoError(tc.t, err)
	ctx := database.SetTenantScope(context.Background(), scope)
	return ctx, func() { scope.Close() }
}

func TestConnectionRepository_Get_ReturnsEmptyConfigForBlankCredential(t *testing.T) {
	tc := setupConnRepoTest(t)
	ctx, done := tc.ctxWithScope()
	defer done()

	conn, config, err := tc.store.Get(ctx, tc.connectionID)
	require.NoError(t, err)
	assert.Equal(t, tc.connectionID, conn.ID)
	assert.Equal(t, models.DialectPostgres, conn.Dialect)
	assert.Empty(t, config)
	assert.Nil(t, conn.Snapshot)
}

func TestConnectionRepository_Get_UnknownConnectionReturnsNotFound(t *testing.T) {
	tc := setupConnRepoTest(t)
	ctx, done := tc.ctxWithScope()
	defer done()

	_, _, err := tc.store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConnectionRepository_UpdateSnapshot_RoundTripsThroughGet(t *testing.T) {
	tc := setupConnRepoTest(t)
	ctx, done := tc.ctxWithScope()
	defer done()

	tableID := uuid.New()
	snapshot := &models.SchemaSnapshot{
		ConnectionID: tc.connectionID,
		Dialect:      models.DialectPostgres,
		Tables: []models.SchemaTable{
			{ID: tableID, SchemaName: "public", TableName: "orders"},
		},
		TakenAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, tc.store.UpdateSnapshot(ctx, tc.connectionID, snapshot, 3))

	conn, _, err := tc.store.Get(ctx, tc.connectionID)
	require.NoError(t, err)
	require.NotNil(t, conn.Snapshot)
	require.Len(t, conn.Snapshot.Tables, 1)
	assert.Equal(t, "orders", conn.Snapshot.Tables[0].TableName)
	assert.Equal(t, 3, conn.DialectAdapterVersion)
	assert.WithinDuration(t, snapshot.TakenAt, conn.Snapshot.TakenAt, time.Second)
}
