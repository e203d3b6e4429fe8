package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SimpleSelect(t *testing.T) {
	stmt, err := Parse(`SELECT "orders"."amount" AS "revenue" FROM "orders" LIMIT 100`)
	require.NoError(t, err)
	require.NotNil(t, stmt.Query)
	assert.Len(t, stmt.Query.From, 1)
	assert.Equal(t, "orders", stmt.Query.From[0].Table)
	assert.True(t, stmt.Query.HasLimit)
	assert.Equal(t, 100, stmt.Query.Limit)
}

func TestParse_OffsetFetchFirstIsReadAsLimit(t *testing.T) {
	stmt, err := Parse(`SELECT "orders"."id" FROM "orders" ORDER BY "orders"."id" OFFSET 20 ROWS FETCH NEXT 50 ROWS ONLY`)
	require.NoError(t, err)
	require.NotNil(t, stmt.Query)
	assert.True(t, stmt.Query.HasLimit)
	assert.Equal(t, 50, stmt.Query.Limit)
	assert.Equal(t, 20, stmt.Query.Offset)
}

func TestParse_OffsetFetchFirstWithZeroOffset(t *testing.T) {
	stmt, err := Parse(`SELECT "id" FROM "orders" OFFSET 0 ROWS FETCH FIRST 100 ROWS ONLY`)
	require.NoError(t, err)
	assert.True(t, stmt.Query.HasLimit)
	assert.Equal(t, 100, stmt.Query.Limit)
	assert.Equal(t, 0, stmt.Query.Offset)
}

func TestParse_JoinCountsAndTableNames(t *testing.T) {
	stmt, err := Parse(`SELECT o.id FROM orders o JOIN customers c ON o.customer_id = c.id LEFT JOIN regions r ON c.region_id = r.id LIMIT 10`)
	require.NoError(t, err)
	assert.Equal(t, 2, stmt.Query.JoinCount())
	assert.ElementsMatch(t, []string{"orders", "customers", "regions"}, stmt.Query.AllTableNames())
}

func TestParse_CTE(t *testing.T) {
	stmt, err := Parse(`WITH recent AS (SELECT id FROM orders) SELECT id FROM recent LIMIT 5`)
	require.NoError(t, err)
	require.Len(t, stmt.CTEs, 1)
	assert.Equal(t, "recent", stmt.CTEs[0].Name)
}

func TestParse_SubqueryIncreasesDepth(t *testing.T) {
	stmt, err := Parse(`SELECT id FROM (SELECT id FROM orders) sub LIMIT 5`)
	require.NoError(t, err)
	assert.Equal(t, 2, stmt.Query.MaxDepth())
}

func TestParse_RejectsNonSelectStatement(t *testing.T) {
	_, err := Parse(`DROP TABLE orders`)
	require.Error(t, err)
}

func TestParse_RejectsTrailingContent(t *testing.T) {
	_, err := Parse(`SELECT id FROM orders LIMIT 5; DROP TABLE orders`)
	require.Error(t, err)
}

func TestParse_SelectStarDetected(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM orders`)
	require.NoError(t, err)
	assert.True(t, stmt.Query.SelectStars)
}

func TestParse_WhereTokensCapturedForScanning(t *testing.T) {
	stmt, err := Parse(`SELECT id FROM orders WHERE status = 'active' LIMIT 5`)
	require.NoError(t, err)
	assert.NotEmpty(t, stmt.Query.WhereTokens)
}
