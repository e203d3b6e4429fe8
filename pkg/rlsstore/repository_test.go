//go:build integration

package rlsstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/semantic-query-engine/pkg/database"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/testhelpers"
)

// rlsTestContext holds test dependencies for rlsstore tests, grounded on
// pkg/repositories/audit_repository_test.go's setup/cleanup shape.
type rlsTestContext struct {
	t            *testing.T
	engineDB     *testhelpers.EngineDB
	store        Store
	projectID    uuid.UUID
	connectionID uuid.UUID
}

func setupRLSTest(t *testing.T) *rlsTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	tc := &rlsTestContext{
		t:            t,
		engineDB:     engineDB,
		store:        NewStore(),
		projectID:    uuid.New(),
		connectionID: uuid.New(),
	}
	tc.ensureTestConnection()
	t.Cleanup(tc.cleanup)
	return tc
}

func (tc *rlsTestContext) ensureTestConnection() {
	tc.t.Helper()
	ctx := context.Background()
	scope, err := tc.engineDB.DB.WithoutTenant(ctx)
	require.NoError(tc.t, err)
	defer scope.Close()

	_, err = scope.Conn.Exec(ctx, `
		INSERT INTO connections (id, project_id, name, dialect, config)
		VALUES ($1, $2, 'rlsstore test connection', 'postgres', '{}'::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, tc.connectionID, tc.projectID)
	require.NoError(tc.t, err)
}

func (tc *rlsTestContext) cleanup() {
	ctx := context.Background()
	scope, err := tc.engineDB.DB.WithoutTenant(ctx)
	if err != nil {
		return
	}
	defer scope.Close()
	_, _ = scope.Conn.Exec(ctx, "DELETE FROM connections WHERE id = $1", tc.connectionID)
}

func (tc *rlsTestContext) ctxWithScope() (context.Context, func()) {
	tc.t.Helper()
	scope, err := tc.engineDB.DB.WithoutTenant(context.Background())
	require.NoError(tc.t, err)
	ctx := database.SetTenantScope(context.Background(), scope)
	return ctx, func() { scope.Close() }
}

func TestStore_UpsertRLSFilter_AndLoadUserContext(t *testing.T) {
	tc := setupRLSTest(t)
	ctx, done := tc.ctxWithScope()
	defer done()

	filter := &models.RLSFilter{
		UserID:       "bhanu",
		ConnectionID: tc.connectionID,
		Table:        "companies",
		Column:       "region",
		Operator:     models.OpEq,
		Value:        "Region 1",
	}
	require.NoError(t, tc.store.UpsertRLSFilter(ctx, "admin", filter))
	assert.NotEqual(t, uuid.Nil, filter.ID)

	uc, err := tc.store.LoadUserContext(ctx, "bhanu", tc.connectionID)
	require.NoError(t, err)
	require.Len(t, uc.RLSFilters, 1)
	assert.Equal(t, "Region 1", uc.RLSFilters[0].Value)
	assert.False(t, uc.IsAdmin)
}

func TestStore_DeactivateRLSFilter_RemovesFromUserContext(t *testing.T) {
	tc := setupRLSTest(t)
	ctx, done := tc.ctxWithScope()
	defer done()

	filter := &models.RLSFilter{
		UserID:       "dinesh",
		ConnectionID: tc.connectionID,
		Table:        "orders",
		Column:       "owner_id",
		Operator:     models.OpEq,
		Value:        "dinesh",
	}
	require.NoError(t, tc.store.UpsertRLSFilter(ctx, "admin", filter))
	require.NoError(t, tc.store.DeactivateRLSFilter(ctx, "admin", filter.ID))

	uc, err := tc.store.LoadUserContext(ctx, "dinesh", tc.connectionID)
	require.NoError(t, err)
	assert.Empty(t, uc.RLSFilters)
}

func TestStore_AssignRole_MarksAdmin(t *testing.T) {
	tc := setupRLSTest(t)
	ctx, done := tc.ctxWithScope()
	defer done()

	require.NoError(t, tc.store.AssignRole(ctx, "admin", "gilfoyle", tc.connectionID, "owner", true))

	uc, err := tc.store.LoadUserContext(ctx, "gilfoyle", tc.connectionID)
	require.NoError(t, err)
	assert.True(t, uc.IsAdmin)
	assert.Equal(t, []string{"owner"}, uc.Roles)
}

func TestStore_UpsertTablePermission(t *testing.T) {
	tc := setupRLSTest(t)
	ctx, done := tc.ctxWithScope()
	defer done()

	perm := &models.TablePermission{
		UserID:         "richard",
		ConnectionID:   tc.connectionID,
		Table:          "salaries",
		CanRead:        true,
		DeniedColumns:  []string{"ssn"},
	}
	require.NoError(t, tc.store.UpsertTablePermission(ctx, "admin", perm))

	uc, err := tc.store.LoadUserContext(ctx, "richard", tc.connectionID)
	require.NoError(t, err)
	require.Len(t, uc.TablePermissions, 1)
	assert.Equal(t, []string{"ssn"}, uc.TablePermissions[0].DeniedColumns)
}
