package connregistry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/semantic-query-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

const testDialect = "connregistry-test-dialect"

// fakeDiscoverer returns a fixed one-table schema. Tests observe cache
// hits and misses through fakeStore.snapshotWrites.
type fakeDiscoverer struct{}

func (fakeDiscoverer) DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	return []datasource.TableMetadata{{SchemaName: "public", TableName: "orders"}}, nil
}

func (fakeDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	return []datasource.ColumnMetadata{{ColumnName: "id", DataType: "uuid", IsPrimaryKey: true}}, nil
}

func (fakeDiscoverer) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	return nil, nil
}

func (fakeDiscoverer) SupportsForeignKeys() bool { return false }

func (fakeDiscoverer) AnalyzeColumnStats(ctx context.Context, schemaName, tableName string, columnNames []string) ([]datasource.ColumnStats, error) {
	return nil, nil
}

func (fakeDiscoverer) CheckValueOverlap(ctx context.Context, sourceSchema, sourceTable, sourceColumn, targetSchema, targetTable, targetColumn string, sampleLimit int) (*datasource.ValueOverlapResult, error) {
	return nil, nil
}

func (fakeDiscoverer) AnalyzeJoin(ctx context.Context, sourceSchema, sourceTable, sourceColumn, targetSchema, targetTable, targetColumn string) (*datasource.JoinAnalysis, error) {
	return nil, nil
}

func (fakeDiscoverer) GetDistinctValues(ctx context.Context, schemaName, tableName, columnName string, limit int) ([]string, error) {
	return nil, nil
}

func (fakeDiscoverer) Close() error { return nil }

// fakeStore is an in-memory ConnectionStore backing a single connection.
type fakeStore struct {
	conn           *models.Connection
	config         map[string]any
	snapshotWrites int
}

func (s *fakeStore) Get(ctx context.Context, connectionID uuid.UUID) (*models.Connection, map[string]any, error) {
	return s.conn, s.config, nil
}

func (s *fakeStore) UpdateSnapshot(ctx context.Context, connectionID uuid.UUID, snapshot *models.SchemaSnapshot, adapterVersion int) error {
	s.snapshotWrites++
	s.conn.Snapshot = snapshot
	s.conn.DialectAdapterVersion = adapterVersion
	return nil
}

func init() {
	discovererCalls := 0
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{Type: testDialect, DisplayName: "Test Dialect"},
		SchemaDiscovererFactory: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, projectID, datasourceID uuid.UUID, userID string) (datasource.SchemaDiscoverer, error) {
			discovererCalls++
			return fakeDiscoverer{}, nil
		},
	})
}

func newTestRegistry(store *fakeStore) *Registry {
	return NewRegistry(store, nil, Config{SnapshotTTL: time.Hour}, zaptest.NewLogger(nil))
}

func TestRegistry_Snapshot_IntrospectsOnFirstCall(t *testing.T) {
	store := &fakeStore{conn: &models.Connection{ID: uuid.New(), Dialect: models.Dialect(testDialect)}}
	reg := newTestRegistry(store)

	snap, err := reg.Snapshot(context.Background(), store.conn.ID)
	require.NoError(t, err)
	require.Len(t, snap.Tables, 1)
	assert.Equal(t, "orders", snap.Tables[0].TableName)
	assert.Equal(t, 1, store.snapshotWrites)
}

func TestRegistry_Snapshot_CachesWithinTTL(t *testing.T) {
	store := &fakeStore{conn: &models.Connection{ID: uuid.New(), Dialect: models.Dialect(testDialect)}}
	reg := newTestRegistry(store)

	first, err := reg.Snapshot(context.Background(), store.conn.ID)
	require.NoError(t, err)

	second, err := reg.Snapshot(context.Background(), store.conn.ID)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, store.snapshotWrites, "second call should be served from cache")
}

func TestRegistry_Snapshot_ReintrospectsAfterInvalidate(t *testing.T) {
	store := &fakeStore{conn: &models.Connection{ID: uuid.New(), Dialect: models.Dialect(testDialect)}}
	reg := newTestRegistry(store)

	_, err := reg.Snapshot(context.Background(), store.conn.ID)
	require.NoError(t, err)

	reg.Invalidate(store.conn.ID)

	_, err = reg.Snapshot(context.Background(), store.conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, store.snapshotWrites)
}

func TestRegistry_Snapshot_UnknownDialect(t *testing.T) {
	store := &fakeStore{conn: &models.Connection{ID: uuid.New(), Dialect: "does-not-exist"}}
	reg := newTestRegistry(store)

	_, err := reg.Snapshot(context.Background(), store.conn.ID)
	assert.Error(t, err)
}
