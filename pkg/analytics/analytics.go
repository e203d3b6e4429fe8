// Package analytics implements C11, the post-processor that runs
// descriptive statistics, anomaly detection, and time-series deltas over
// the full result set returned by C10, before pagination ever slices it
// into a page. It is pure arithmetic: no machine learning, no external
// statistics library, every number deterministic from the rows in hand.
package analytics

import (
	"math"
	"sort"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// movingAverageWindows are the fixed windows spec.md names for
// time-series smoothing; neither is configurable.
var movingAverageWindows = []int{3, 7}

// zScoreThreshold flags a value as an anomaly when its absolute z-score
// exceeds this many standard deviations from the column mean.
const zScoreThreshold = 3.0

// Processor computes AnalyticsResult from a ResultSet. It holds no state
// between calls; every call processes exactly the rows it is given.
type Processor struct{}

// NewProcessor constructs a Processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process computes per-numeric-column statistics, flags anomalies, and
// (when the shape fits) a time series over result. It always runs on the
// complete row set, never a paginated slice, and always stamps
// Metadata.ComputedOnFullDataset true.
func (p *Processor) Process(result *models.ResultSet) *models.AnalyticsResult {
	out := &models.AnalyticsResult{
		Columns: map[string]models.ColumnStats{},
		Metadata: models.AnalyticsMetadata{
			ComputedOnFullDataset: true,
			TotalRows:             len(result.Rows),
		},
	}

	numericColumns := columnsByScalarType(result.Columns, "number")
	for _, col := range numericColumns {
		values := extractNumeric(result.Rows, col)
		if len(values) == 0 {
			continue
		}
		stats := computeStats(values)
		out.Columns[col] = stats
		out.Anomalies = append(out.Anomalies, detectAnomalies(col, result.Rows, values, stats)...)
	}

	if dateCol, ok := singleDateDimension(result.Columns); ok && len(numericColumns) > 0 {
		out.TimeSeries = computeTimeSeries(result.Rows, dateCol, numericColumns)
	}

	return out
}

func columnsByScalarType(columns []models.ColumnDescriptor, scalarType string) []string {
	var names []string
	for _, c := range columns {
		if c.ScalarType == scalarType {
			names = append(names, c.Name)
		}
	}
	return names
}

// singleDateDimension reports whether result has exactly one date-typed
// column, the shape spec.md requires before time-series analysis runs.
func singleDateDimension(columns []models.ColumnDescriptor) (string, bool) {
	var dateCols []string
	for _, c := range columns {
		if c.ScalarType == "date" {
			dateCols = append(dateCols, c.Name)
		}
	}
	if len(dateCols) != 1 {
		return "", false
	}
	return dateCols[0], true
}

func extractNumeric(rows []map[string]any, column string) []float64 {
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		f, ok := toFloat(row[column])
		if !ok {
			continue
		}
		values = append(values, f)
	}
	return values
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// computeStats returns count/min/max/mean/median/stddev for values.
// stddev is the population standard deviation (divides by N, not N-1):
// this set of numbers is the complete warehouse result, not a sample
// drawn from a larger population.
func computeStats(values []float64) models.ColumnStats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / n

	var sumSquaredDiff float64
	for _, v := range sorted {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	stddev := math.Sqrt(sumSquaredDiff / n)

	return models.ColumnStats{
		Count:  len(sorted),
		Mean:   mean,
		Median: median(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		StdDev: stddev,
	}
}

// median expects sorted to already be sorted ascending.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// detectAnomalies flags rows whose value for column is either more than
// zScoreThreshold standard deviations from the mean or falls outside the
// classic 1.5*IQR fence, whichever method the value trips; a value
// flagged by both methods is reported once, tagged z_score (the more
// informative of the two since it carries a magnitude).
func detectAnomalies(column string, rows []map[string]any, values []float64, stats models.ColumnStats) []models.Anomaly {
	q1, q3 := quartiles(values)
	iqr := q3 - q1
	lowerFence := q1 - 1.5*iqr
	upperFence := q3 + 1.5*iqr

	var anomalies []models.Anomaly
	for rowIdx, row := range rows {
		f, ok := toFloat(row[column])
		if !ok {
			continue
		}

		if stats.StdDev > 0 {
			z := (f - stats.Mean) / stats.StdDev
			if math.Abs(z) > zScoreThreshold {
				anomalies = append(anomalies, models.Anomaly{
					RowIndex: rowIdx,
					Column:   column,
					Value:    f,
					ZScore:   z,
					Method:   "z_score",
				})
				continue
			}
		}

		if iqr > 0 && (f < lowerFence || f > upperFence) {
			anomalies = append(anomalies, models.Anomaly{
				RowIndex: rowIdx,
				Column:   column,
				Value:    f,
				Method:   "iqr",
			})
		}
	}
	return anomalies
}

// quartiles returns the first and third quartile of values using linear
// interpolation between closest ranks, the same method most spreadsheet
// QUARTILE functions default to.
func quartiles(values []float64) (q1, q3 float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentile(sorted, 0.25), percentile(sorted, 0.75)
}

func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeTimeSeries assumes rows are already ordered by the date
// dimension (the query's ORDER BY, preserved by the executor) and
// computes, per numeric measure, the delta from the previous row and
// the trailing moving average over each window in movingAverageWindows.
func computeTimeSeries(rows []map[string]any, dateColumn string, measureColumns []string) []models.TimeSeriesPoint {
	series := make([]models.TimeSeriesPoint, len(rows))
	measureValues := make(map[string][]float64, len(measureColumns))
	for _, m := range measureColumns {
		measureValues[m] = extractNumericOrNaN(rows, m)
	}

	for i := range rows {
		point := models.TimeSeriesPoint{RowIndex: i}

		for _, m := range measureColumns {
			values := measureValues[m]
			if math.IsNaN(values[i]) {
				continue
			}
			if i > 0 && !math.IsNaN(values[i-1]) {
				if point.Deltas == nil {
					point.Deltas = map[string]float64{}
				}
				point.Deltas[m] = values[i] - values[i-1]
			}
			for _, window := range movingAverageWindows {
				if avg, ok := trailingAverage(values, i, window); ok {
					target := movingAverageMap(&point, window)
					if target != nil {
						(*target)[m] = avg
					}
				}
			}
		}
		series[i] = point
	}
	return series
}

func movingAverageMap(point *models.TimeSeriesPoint, window int) *map[string]float64 {
	switch window {
	case 3:
		if point.MovingAverages3 == nil {
			point.MovingAverages3 = map[string]float64{}
		}
		return &point.MovingAverages3
	case 7:
		if point.MovingAverages7 == nil {
			point.MovingAverages7 = map[string]float64{}
		}
		return &point.MovingAverages7
	default:
		return nil
	}
}

func extractNumericOrNaN(rows []map[string]any, column string) []float64 {
	values := make([]float64, len(rows))
	for i, row := range rows {
		f, ok := toFloat(row[column])
		if !ok {
			values[i] = math.NaN()
			continue
		}
		values[i] = f
	}
	return values
}

// trailingAverage averages values[idx-window+1 : idx+1], reporting ok ==
// false until at least window points are available so an early partial
// window is never silently reported as a full one.
func trailingAverage(values []float64, idx, window int) (float64, bool) {
	if idx-window+1 < 0 {
		return 0, false
	}
	var sum float64
	for i := idx - window + 1; i <= idx; i++ {
		if math.IsNaN(values[i]) {
			return 0, false
		}
		sum += values[i]
	}
	return sum / float64(window), true
}
