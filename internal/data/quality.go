package data

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Issue severities
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Issue types
const (
	IssueNoData           = "NO_DATA"
	IssueInsufficientData = "INSUFFICIENT_DATA"
	IssueGap              = "GAP_DETECTED"
	IssueZeroPrice        = "ZERO_PRICE"
	IssueNegativePrice    = "NEGATIVE_PRICE"
	IssueGapMove          = "GAP_MOVE"
	IssueZeroVolume       = "ZERO_VOLUME"
	IssueVolumeSpike      = "VOLUME_SPIKE"
	IssueDuplicate        = "DUPLICATE_TIMESTAMP"
	IssueOutOfOrder       = "OUT_OF_ORDER"
)

// minUsableScore is the lowest quality score a usable series may have
const minUsableScore = 70

// DataQualityValidator checks historical data integrity
type DataQualityValidator struct {
	logger *zap.Logger

	MinimumBars       int     // Bars needed for one year of daily data
	MaxGapMove        float64 // Max close-to-close move (e.g., 0.20 for 20%)
	MaxVolumeMultiple float64 // Max multiple of average volume for spike detection
}

// DataIssue represents a data quality problem
type DataIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	Value     string    `json:"value,omitempty"`
	BarIndex  int       `json:"barIndex,omitempty"`
}

// QualityReport summarizes data quality assessment
type QualityReport struct {
	Symbol       string      `json:"symbol"`
	TotalBars    int         `json:"totalBars"`
	Issues       []DataIssue `json:"issues"`
	QualityScore int         `json:"qualityScore"` // 0-100
	IsUsable     bool        `json:"isUsable"`

	MissingDataCount   int `json:"missingDataCount"`
	PriceAnomalyCount  int `json:"priceAnomalyCount"`
	VolumeAnomalyCount int `json:"volumeAnomalyCount"`

	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`

	Recommendations []string `json:"recommendations"`
}

// NewDataQualityValidator creates a validator with daily equity defaults
func NewDataQualityValidator(logger *zap.Logger) *DataQualityValidator {
	return &DataQualityValidator{
		logger:            logger,
		MinimumBars:       252,
		MaxGapMove:        0.20,
		MaxVolumeMultiple: 10.0,
	}
}

// Validate runs all quality checks on a daily close series
func (dqv *DataQualityValidator) Validate(points []types.MarketDataPoint, symbol string) *QualityReport {
	if len(points) == 0 {
		return &QualityReport{
			Symbol:       symbol,
			Issues:       []DataIssue{{Type: IssueNoData, Severity: SeverityCritical, Symbol: symbol, Message: "No data provided"}},
			QualityScore: 0,
			IsUsable:     false,
		}
	}

	issues := make([]DataIssue, 0)
	issues = append(issues, dqv.checkLength(points, symbol)...)
	issues = append(issues, dqv.checkMissingData(points, symbol)...)
	issues = append(issues, dqv.checkPriceAnomalies(points, symbol)...)
	issues = append(issues, dqv.checkVolumeAnomalies(points, symbol)...)
	issues = append(issues, dqv.checkDuplicates(points, symbol)...)
	issues = append(issues, dqv.checkChronologicalOrder(points, symbol)...)

	score := dqv.calculateQualityScore(len(points), issues)

	return &QualityReport{
		Symbol:             symbol,
		TotalBars:          len(points),
		Issues:             issues,
		QualityScore:       score,
		IsUsable:           score >= minUsableScore && !hasCriticalIssues(issues),
		MissingDataCount:   countIssuesByType(issues, IssueGap, IssueInsufficientData),
		PriceAnomalyCount:  countIssuesByType(issues, IssueZeroPrice, IssueNegativePrice, IssueGapMove),
		VolumeAnomalyCount: countIssuesByType(issues, IssueZeroVolume, IssueVolumeSpike),
		StartDate:          points[0].Date,
		EndDate:            points[len(points)-1].Date,
		Recommendations:    dqv.generateRecommendations(issues, len(points)),
	}
}

func (dqv *DataQualityValidator) checkLength(points []types.MarketDataPoint, symbol string) []DataIssue {
	if len(points) >= dqv.MinimumBars {
		return nil
	}
	return []DataIssue{{
		Type:      IssueInsufficientData,
		Severity:  SeverityMedium,
		Timestamp: points[0].Date,
		Symbol:    symbol,
		Message:   "Series has " + strconv.Itoa(len(points)) + " bars, fewer than " + strconv.Itoa(dqv.MinimumBars),
		Value:     strconv.Itoa(len(points)),
	}}
}

// checkMissingData finds gaps far wider than the typical bar spacing
func (dqv *DataQualityValidator) checkMissingData(points []types.MarketDataPoint, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)
	if len(points) < 2 {
		return issues
	}

	// Expected interval is the median of the first 10 intervals
	intervals := make([]time.Duration, 0, 10)
	for i := 1; i < len(points) && i <= 10; i++ {
		intervals = append(intervals, points[i].Date.Sub(points[i-1].Date))
	}
	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i] < intervals[j]
	})
	expected := intervals[len(intervals)/2]
	if expected <= 0 {
		return issues
	}

	// Weekends and holidays stay under three times the padded interval
	maxInterval := expected + expected/2
	for i := 1; i < len(points); i++ {
		actual := points[i].Date.Sub(points[i-1].Date)
		if actual <= maxInterval*3 {
			continue
		}

		severity := SeverityHigh
		if actual > maxInterval*10 {
			severity = SeverityCritical
		}
		issues = append(issues, DataIssue{
			Type:      IssueGap,
			Severity:  severity,
			Timestamp: points[i-1].Date,
			Symbol:    symbol,
			Message:   "Data gap detected: " + actual.String() + " (expected ~" + expected.String() + ")",
			Value:     actual.String(),
			BarIndex:  i - 1,
		})
	}

	return issues
}

// checkPriceAnomalies finds non-positive closes and extreme close-to-close moves
func (dqv *DataQualityValidator) checkPriceAnomalies(points []types.MarketDataPoint, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)

	for i, p := range points {
		if p.Close.IsZero() {
			issues = append(issues, DataIssue{
				Type:      IssueZeroPrice,
				Severity:  SeverityCritical,
				Timestamp: p.Date,
				Symbol:    symbol,
				Message:   "Zero close detected",
				BarIndex:  i,
			})
			continue
		}
		if p.Close.IsNegative() {
			issues = append(issues, DataIssue{
				Type:      IssueNegativePrice,
				Severity:  SeverityCritical,
				Timestamp: p.Date,
				Symbol:    symbol,
				Message:   "Negative close detected",
				Value:     p.Close.String(),
				BarIndex:  i,
			})
			continue
		}

		if i == 0 || !points[i-1].Close.IsPositive() {
			continue
		}
		prev := points[i-1].Close
		move := p.Close.Sub(prev).Div(prev).Abs()
		if move.InexactFloat64() > dqv.MaxGapMove {
			issues = append(issues, DataIssue{
				Type:      IssueGapMove,
				Severity:  SeverityMedium,
				Timestamp: p.Date,
				Symbol:    symbol,
				Message:   "Large price move: " + move.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
				Value:     move.StringFixed(4),
				BarIndex:  i,
			})
		}
	}

	return issues
}

// checkVolumeAnomalies flags zero volume and spikes. Series without any
// volume are not checked.
func (dqv *DataQualityValidator) checkVolumeAnomalies(points []types.MarketDataPoint, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)

	total := decimal.Zero
	nonZero := 0
	for _, p := range points {
		if p.Volume.IsPositive() {
			total = total.Add(p.Volume)
			nonZero++
		}
	}
	if nonZero == 0 {
		return issues
	}
	avg := total.Div(decimal.NewFromInt(int64(nonZero))).InexactFloat64()

	for i, p := range points {
		if p.Volume.IsZero() {
			issues = append(issues, DataIssue{
				Type:      IssueZeroVolume,
				Severity:  SeverityLow,
				Timestamp: p.Date,
				Symbol:    symbol,
				Message:   "Zero volume bar",
				BarIndex:  i,
			})
			continue
		}

		vol := p.Volume.InexactFloat64()
		if avg > 0 && vol > avg*dqv.MaxVolumeMultiple {
			issues = append(issues, DataIssue{
				Type:      IssueVolumeSpike,
				Severity:  SeverityLow,
				Timestamp: p.Date,
				Symbol:    symbol,
				Message:   "Volume spike: " + p.Volume.String() + " (" + decimal.NewFromFloat(vol/avg).StringFixed(1) + "x average)",
				Value:     p.Volume.String(),
				BarIndex:  i,
			})
		}
	}

	return issues
}

// checkDuplicates finds duplicate dates
func (dqv *DataQualityValidator) checkDuplicates(points []types.MarketDataPoint, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)
	seen := make(map[int64]int)

	for i, p := range points {
		ts := p.Date.UnixNano()
		if first, ok := seen[ts]; ok {
			issues = append(issues, DataIssue{
				Type:      IssueDuplicate,
				Severity:  SeverityHigh,
				Timestamp: p.Date,
				Symbol:    symbol,
				Message:   "Duplicate date (also at index " + strconv.Itoa(first) + ")",
				BarIndex:  i,
			})
			continue
		}
		seen[ts] = i
	}

	return issues
}

// checkChronologicalOrder ensures data is in ascending date order
func (dqv *DataQualityValidator) checkChronologicalOrder(points []types.MarketDataPoint, symbol string) []DataIssue {
	issues := make([]DataIssue, 0)

	for i := 1; i < len(points); i++ {
		if points[i].Date.Before(points[i-1].Date) {
			issues = append(issues, DataIssue{
				Type:      IssueOutOfOrder,
				Severity:  SeverityCritical,
				Timestamp: points[i].Date,
				Symbol:    symbol,
				Message:   "Bar is out of chronological order",
				BarIndex:  i,
			})
		}
	}

	return issues
}

// calculateQualityScore returns a 0-100 score
func (dqv *DataQualityValidator) calculateQualityScore(totalBars int, issues []DataIssue) int {
	if totalBars == 0 {
		return 0
	}

	penalty := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			penalty += 10.0
		case SeverityHigh:
			penalty += 5.0
		case SeverityMedium:
			penalty += 2.0
		case SeverityLow:
			penalty += 0.5
		}
	}

	// More data = more tolerance for small issues
	normalized := penalty / math.Max(1, float64(totalBars)/100) * 10
	score := 100.0 - math.Min(normalized, 100)

	return int(math.Max(0, math.Min(100, score)))
}

func (dqv *DataQualityValidator) generateRecommendations(issues []DataIssue, totalBars int) []string {
	recs := make([]string, 0)
	byType := make(map[string]int)
	for _, issue := range issues {
		byType[issue.Type]++
	}

	if byType[IssueInsufficientData] > 0 {
		recs = append(recs, "Less than one year of data - simulated trials will rest on a small return sample")
	}
	if byType[IssueGap] > 0 {
		recs = append(recs, "Consider filling data gaps or removing affected periods")
	}
	if byType[IssueZeroPrice]+byType[IssueNegativePrice] > 0 {
		recs = append(recs, "Non-positive closes detected - verify data source integrity")
	}
	if byType[IssueGapMove] > totalBars/100 {
		recs = append(recs, "Many extreme price moves detected - check for unadjusted splits")
	}
	if byType[IssueZeroVolume] > totalBars/10 {
		recs = append(recs, "High proportion of zero volume bars - consider a more liquid asset")
	}
	if byType[IssueDuplicate] > 0 {
		recs = append(recs, "Remove duplicate dates before backtesting")
	}
	if byType[IssueOutOfOrder] > 0 {
		recs = append(recs, "Sort data by date before use")
	}

	if len(recs) == 0 {
		recs = append(recs, "Data quality is acceptable for backtesting")
	}
	return recs
}

// Clean returns a sorted copy of points without duplicate dates or
// non-positive closes. The input is left untouched.
func (dqv *DataQualityValidator) Clean(points []types.MarketDataPoint) []types.MarketDataPoint {
	if len(points) == 0 {
		return points
	}

	sorted := make([]types.MarketDataPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	cleaned := make([]types.MarketDataPoint, 0, len(sorted))
	seen := make(map[int64]bool, len(sorted))
	for _, p := range sorted {
		ts := p.Date.UnixNano()
		if seen[ts] || !p.Close.IsPositive() {
			continue
		}
		seen[ts] = true
		cleaned = append(cleaned, p)
	}

	if removed := len(points) - len(cleaned); removed > 0 {
		dqv.logger.Info("Data cleaning complete",
			zap.Int("original_bars", len(points)),
			zap.Int("cleaned_bars", len(cleaned)),
			zap.Int("removed", removed),
		)
	}

	return cleaned
}

func hasCriticalIssues(issues []DataIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func countIssuesByType(issues []DataIssue, kinds ...string) int {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}

	count := 0
	for _, issue := range issues {
		if set[issue.Type] {
			count++
		}
	}
	return count
}
