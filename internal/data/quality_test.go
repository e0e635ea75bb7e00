package data_test

import (
	"testing"

	"github.com/atlas-desktop/simulation-engine/internal/data"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validator() *data.DataQualityValidator {
	v := data.NewDataQualityValidator(zap.NewNop())
	v.MinimumBars = 5
	return v
}

func issueTypes(report *data.QualityReport) map[string]int {
	out := map[string]int{}
	for _, issue := range report.Issues {
		out[issue.Type]++
	}
	return out
}

func TestValidateCleanSeries(t *testing.T) {
	report := validator().Validate(points("SPY", 100, 101, 102, 101, 103, 104), "SPY")

	assert.Empty(t, report.Issues)
	assert.Equal(t, 100, report.QualityScore)
	assert.True(t, report.IsUsable)
	assert.Equal(t, 6, report.TotalBars)
	assert.Equal(t, []string{"Data quality is acceptable for backtesting"}, report.Recommendations)
}

func TestValidateEmptySeries(t *testing.T) {
	report := validator().Validate(nil, "SPY")

	require.Len(t, report.Issues, 1)
	assert.Equal(t, data.IssueNoData, report.Issues[0].Type)
	assert.False(t, report.IsUsable)
}

func TestValidateFlagsProblems(t *testing.T) {
	series := points("SPY", 100, 101, 150, 0, 104, 105)
	series[5].Date = series[4].Date
	series[1].Volume = decimal.Zero

	report := validator().Validate(series, "SPY")
	kinds := issueTypes(report)

	assert.Equal(t, 1, kinds[data.IssueGapMove], "101 to 150")
	assert.Equal(t, 1, kinds[data.IssueZeroPrice])
	assert.Equal(t, 1, kinds[data.IssueDuplicate])
	assert.Equal(t, 1, kinds[data.IssueZeroVolume])
	assert.False(t, report.IsUsable)
	assert.Equal(t, 2, report.PriceAnomalyCount)
	assert.Equal(t, 1, report.VolumeAnomalyCount)
}

func TestValidateOrderAndGaps(t *testing.T) {
	series := points("SPY", 100, 101, 102, 103, 104, 105)
	series[5].Date = series[4].Date.AddDate(0, 1, 0)

	kinds := issueTypes(validator().Validate(series, "SPY"))
	assert.Equal(t, 1, kinds[data.IssueGap])

	series = points("SPY", 100, 101, 102, 103, 104, 105)
	series[2], series[3] = series[3], series[2]
	report := validator().Validate(series, "SPY")
	assert.Equal(t, 1, issueTypes(report)[data.IssueOutOfOrder])
	assert.False(t, report.IsUsable)
	assert.Contains(t, report.Recommendations, "Sort data by date before use")
}

func TestValidateShortSeries(t *testing.T) {
	report := validator().Validate(points("SPY", 100, 101, 102), "SPY")

	assert.Equal(t, 1, issueTypes(report)[data.IssueInsufficientData])
	assert.Equal(t, 1, report.MissingDataCount)
}

func TestCleanSortsAndDrops(t *testing.T) {
	series := points("SPY", 100, 0, 102, 103)
	series = append(series, series[2])
	series[0], series[3] = series[3], series[0]
	original := append(series[:0:0], series...)

	cleaned := validator().Clean(series)

	require.Len(t, cleaned, 3)
	assert.True(t, cleaned[0].Close.Equal(decimal.NewFromInt(100)))
	assert.True(t, cleaned[1].Close.Equal(decimal.NewFromInt(102)))
	assert.True(t, cleaned[2].Close.Equal(decimal.NewFromInt(103)))
	assert.Equal(t, original, series, "input untouched")
}
