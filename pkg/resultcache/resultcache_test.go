package resultcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

func TestCache_PutThenGetMarksCachedResult(t *testing.T) {
	c := New(100, time.Minute, nil, zap.NewNop())
	result := models.ResultSet{RowCountFull: 3, Rows: []map[string]any{{"a": 1}}}

	c.Put(context.Background(), "k1", result, time.Minute)
	got, ok := c.Get(context.Background(), "k1")
	require.True(t, ok)
	assert.Equal(t, 3, got.RowCountFull)
	assert.True(t, got.CachedResult)
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := New(100, time.Minute, nil, zap.NewNop())
	_, ok := c.Get(context.Background(), "nope")
	assert.False(t, ok)
}
