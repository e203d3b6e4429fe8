package analytics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

func TestProcess_ComputesBasicStats(t *testing.T) {
	p := NewProcessor()
	result := &models.ResultSet{
		Columns: []models.ColumnDescriptor{{Name: "amount", ScalarType: "number"}},
		Rows: []map[string]any{
			{"amount": 10.0},
			{"amount": 20.0},
			{"amount": 30.0},
		},
	}
	out := p.Process(result)
	stats, ok := out.Columns["amount"]
	require.True(t, ok)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 30.0, stats.Max)
	assert.Equal(t, 20.0, stats.Mean)
	assert.Equal(t, 20.0, stats.Median)
	assert.True(t, out.Metadata.ComputedOnFullDataset)
	assert.Equal(t, 3, out.Metadata.TotalRows)
}

func TestProcess_EvenCountMedianAveragesMiddleTwo(t *testing.T) {
	p := NewProcessor()
	result := &models.ResultSet{
		Columns: []models.ColumnDescriptor{{Name: "amount", ScalarType: "number"}},
		Rows: []map[string]any{
			{"amount": 1.0}, {"amount": 2.0}, {"amount": 3.0}, {"amount": 4.0},
		},
	}
	out := p.Process(result)
	assert.Equal(t, 2.5, out.Columns["amount"].Median)
}

func TestProcess_FlagsZScoreOutlier(t *testing.T) {
	p := NewProcessor()
	rows := []map[string]any{}
	for i := 0; i < 20; i++ {
		rows = append(rows, map[string]any{"amount": 100.0})
	}
	rows = append(rows, map[string]any{"amount": 10000.0})
	result := &models.ResultSet{
		Columns: []models.ColumnDescriptor{{Name: "amount", ScalarType: "number"}},
		Rows:    rows,
	}
	out := p.Process(result)
	require.NotEmpty(t, out.Anomalies)
	found := false
	for _, a := range out.Anomalies {
		if a.RowIndex == 20 && a.Method == "z_score" {
			found = true
		}
	}
	assert.True(t, found, "the extreme outlier row should be flagged by z-score")
}

func TestProcess_IgnoresNonNumericColumns(t *testing.T) {
	p := NewProcessor()
	result := &models.ResultSet{
		Columns: []models.ColumnDescriptor{{Name: "status", ScalarType: "string"}},
		Rows: []map[string]any{
			{"status": "open"},
			{"status": "closed"},
		},
	}
	out := p.Process(result)
	assert.Empty(t, out.Columns)
	assert.Empty(t, out.Anomalies)
}

func TestProcess_ComputesTimeSeriesDeltasAndMovingAverages(t *testing.T) {
	p := NewProcessor()
	rows := make([]map[string]any, 0, 10)
	for i := 1; i <= 10; i++ {
		rows = append(rows, map[string]any{"day": fmt.Sprintf("2026-01-%02d", i), "revenue": float64(i * 10)})
	}
	result := &models.ResultSet{
		Columns: []models.ColumnDescriptor{
			{Name: "day", ScalarType: "date"},
			{Name: "revenue", ScalarType: "number"},
		},
		Rows: rows,
	}
	out := p.Process(result)
	require.Len(t, out.TimeSeries, 10)

	assert.Nil(t, out.TimeSeries[0].Deltas)
	require.NotNil(t, out.TimeSeries[1].Deltas)
	assert.Equal(t, 10.0, out.TimeSeries[1].Deltas["revenue"])

	assert.Nil(t, out.TimeSeries[1].MovingAverages3)
	require.NotNil(t, out.TimeSeries[2].MovingAverages3)
	assert.InDelta(t, 20.0, out.TimeSeries[2].MovingAverages3["revenue"], 0.001)

	require.NotNil(t, out.TimeSeries[6].MovingAverages7)
	assert.InDelta(t, 40.0, out.TimeSeries[6].MovingAverages7["revenue"], 0.001)
}

func TestProcess_NoTimeSeriesWithoutSingleDateDimension(t *testing.T) {
	p := NewProcessor()
	result := &models.ResultSet{
		Columns: []models.ColumnDescriptor{
			{Name: "amount", ScalarType: "number"},
		},
		Rows: []map[string]any{{"amount": 1.0}, {"amount": 2.0}},
	}
	out := p.Process(result)
	assert.Nil(t, out.TimeSeries)
}
