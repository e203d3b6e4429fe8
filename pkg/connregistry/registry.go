// Package connregistry implements C3, the connection registry: the
// governed set of warehouse connections a tenant can query, their
// read-only credentials, and the schema snapshot each one introspects to.
//
// It is a thin layer over pkg/adapters/datasource's per-dialect adapter
// registry. Where that package answers "how do I talk to a postgres (or
// mssql, ...) warehouse", this package answers "which connection does
// connection_id name, and what does its schema look like right now" —
// the two questions every other component (semantic store, plan
// validator, SQL synthesizer, executor) needs answered before it can do
// its own job.
package connregistry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/semantic-query-engine/pkg/adapters/datasource"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// ConnectionStore persists Connection records and their encrypted
// configuration. Grounded on the teacher's datasource repository shape;
// Config is returned decrypted, the same contract
// pkg/models.Datasource.Config already documents.
type ConnectionStore interface {
	Get(ctx context.Context, connectionID uuid.UUID) (*models.Connection, map[string]any, error)
	UpdateSnapshot(ctx context.Context, connectionID uuid.UUID, snapshot *models.SchemaSnapshot, adapterVersion int) error
}

// Registry resolves a connection_id to a live schema snapshot, caching
// introspection results so the hot path (plan validation, synthesis) never
// waits on a warehouse round trip. It is the SchemaProvider the semantic
// store (C1) depends on.
type Registry struct {
	store    ConnectionStore
	connMgr  *datasource.ConnectionManager
	cache    *SchemaCache
	logger   *zap.Logger
	adapterV int
}

// Config controls snapshot freshness and the adapter version stamp
// written alongside each refreshed snapshot.
type Config struct {
	// SnapshotTTL bounds how long a cached snapshot is served without
	// re-introspecting. Zero or negative selects the 15-minute default.
	SnapshotTTL time.Duration
	// AdapterVersion is bumped whenever a dialect adapter's introspection
	// query changes shape, forcing every cached snapshot to be treated as
	// stale regardless of its age.
	AdapterVersion int
}

func NewRegistry(store ConnectionStore, connMgr *datasource.ConnectionManager, cfg Config, logger *zap.Logger) *Registry {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 15 * time.Minute
	}
	cache := NewSchemaCache()
	cache.ttl = cfg.SnapshotTTL
	return &Registry{
		store:    store,
		connMgr:  connMgr,
		cache:    cache,
		logger:   logger,
		adapterV: cfg.AdapterVersion,
	}
}

// Snapshot implements pkg/semantic.SchemaProvider: it returns the
// connection's schema, introspecting the warehouse only if no cached
// snapshot exists, the cached one has exceeded its TTL, or it was taken
// by an older adapter version.
func (r *Registry) Snapshot(ctx context.Context, connectionID uuid.UUID) (*models.SchemaSnapshot, error) {
	conn, config, err := r.store.Get(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection %s: %w", connectionID, err)
	}

	if cached, ok := r.cache.Get(connectionID); ok && !r.stale(conn, cached) {
		return cached, nil
	}

	snapshot, err := r.introspect(ctx, conn, config)
	if err != nil {
		// Fall back to a stale cached snapshot rather than failing the
		// whole pipeline if the warehouse is transiently unreachable.
		if cached, ok := r.cache.Get(connectionID); ok {
			r.logger.Warn("introspection failed, serving stale snapshot",
				zap.String("connection_id", connectionID.String()),
				zap.Error(err),
			)
			return cached, nil
		}
		return nil, err
	}

	r.cache.Put(connectionID, snapshot)
	if err := r.store.UpdateSnapshot(ctx, connectionID, snapshot, r.adapterV); err != nil {
		r.logger.Warn("failed to persist refreshed snapshot",
			zap.String("connection_id", connectionID.String()),
			zap.Error(err),
		)
	}
	return snapshot, nil
}

// Resolve implements pkg/executor.ConnectionResolver: it answers which
// dialect and driver configuration connectionID names, without the
// executor needing its own copy of connection lookup or importing this
// package directly (the interface is satisfied structurally, the same
// way Registry itself satisfies pkg/semantic.SchemaProvider).
func (r *Registry) Resolve(ctx context.Context, connectionID uuid.UUID) (models.Dialect, map[string]any, uuid.UUID, error) {
	conn, config, err := r.store.Get(ctx, connectionID)
	if err != nil {
		return "", nil, uuid.Nil, fmt.Errorf("load connection %s: %w", connectionID, err)
	}
	return conn.Dialect, config, conn.ProjectID, nil
}

func (r *Registry) stale(conn *models.Connection, cached *models.SchemaSnapshot) bool {
	if conn.DialectAdapterVersion != r.adapterV {
		return true
	}
	return time.Since(cached.TakenAt) > r.cache.ttl
}

// Invalidate drops a connection's cached snapshot, forcing the next
// Snapshot call to re-introspect. Called after a connection's credentials
// or configuration change.
func (r *Registry) Invalidate(connectionID uuid.UUID) {
	r.cache.Delete(connectionID)
}

func (r *Registry) introspect(ctx context.Context, conn *models.Connection, config map[string]any) (*models.SchemaSnapshot, error) {
	factory := datasource.GetSchemaDiscovererFactory(string(conn.Dialect))
	if factory == nil {
		return nil, fmt.Errorf("no schema discoverer registered for dialect %q", conn.Dialect)
	}

	discoverer, err := factory(ctx, config, r.connMgr, conn.ProjectID, conn.ID, "system")
	if err != nil {
		return nil, fmt.Errorf("create schema discoverer: %w", err)
	}
	defer discoverer.Close()

	tables, err := discoverer.DiscoverTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover tables: %w", err)
	}

	snapshot := &models.SchemaSnapshot{
		ConnectionID: conn.ID,
		Dialect:      conn.Dialect,
		TakenAt:      time.Now(),
	}

	tableIndex := make(map[string]uuid.UUID, len(tables))
	columnIndex := make(map[string]uuid.UUID)

	for _, t := range tables {
		tableID := uuid.New()
		tableIndex[t.SchemaName+"."+t.TableName] = tableID

		columns, err := discoverer.DiscoverColumns(ctx, t.SchemaName, t.TableName)
		if err != nil {
			return nil, fmt.Errorf("discover columns for %s.%s: %w", t.SchemaName, t.TableName, err)
		}

		schemaTable := models.SchemaTable{
			ID:         tableID,
			SchemaName: t.SchemaName,
			TableName:  t.TableName,
		}
		if t.RowCount > 0 {
			rc := t.RowCount
			schemaTable.RowCount = &rc
		}

		for _, c := range columns {
			colID := uuid.New()
			columnIndex[t.SchemaName+"."+t.TableName+"."+c.ColumnName] = colID
			schemaTable.Columns = append(schemaTable.Columns, models.SchemaColumn{
				ID:              colID,
				SchemaTableID:   tableID,
				ColumnName:      c.ColumnName,
				DataType:        c.DataType,
				IsNullable:      c.IsNullable,
				IsPrimaryKey:    c.IsPrimaryKey,
				OrdinalPosition: c.OrdinalPosition,
			})
		}

		snapshot.Tables = append(snapshot.Tables, schemaTable)
	}

	if !discoverer.SupportsForeignKeys() {
		return snapshot, nil
	}

	fks, err := discoverer.DiscoverForeignKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover foreign keys: %w", err)
	}
	for _, fk := range fks {
		sourceTableID, ok := tableIndex[fk.SourceSchema+"."+fk.SourceTable]
		if !ok {
			continue
		}
		targetTableID, ok := tableIndex[fk.TargetSchema+"."+fk.TargetTable]
		if !ok {
			continue
		}
		sourceColID := columnIndex[fk.SourceSchema+"."+fk.SourceTable+"."+fk.SourceColumn]
		targetColID := columnIndex[fk.TargetSchema+"."+fk.TargetTable+"."+fk.TargetColumn]

		snapshot.ForeignKeys = append(snapshot.ForeignKeys, models.SchemaForeignKey{
			ID:             uuid.New(),
			SourceTableID:  sourceTableID,
			SourceColumnID: sourceColID,
			TargetTableID:  targetTableID,
			TargetColumnID: targetColID,
			Cardinality:    models.CardinalityUnknown,
			ConstraintName: fk.ConstraintName,
		})
	}

	return snapshot, nil
}
