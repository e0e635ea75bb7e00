// Package types provides shared type definitions for the simulation engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PositionSide represents long or short position
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// ScenarioType selects the return-generating process of a Monte Carlo trial
type ScenarioType string

const (
	ScenarioNormalReturns        ScenarioType = "normal_returns"
	ScenarioFatTailReturns       ScenarioType = "fat_tail_returns"
	ScenarioRegimeSwitching      ScenarioType = "regime_switching"
	ScenarioVolatilityClustering ScenarioType = "volatility_clustering"
	ScenarioMarketCrash          ScenarioType = "market_crash"
	ScenarioBullMarket           ScenarioType = "bull_market"
	ScenarioBearMarket           ScenarioType = "bear_market"
)

// AllScenarioTypes lists every supported scenario in a stable order
func AllScenarioTypes() []ScenarioType {
	return []ScenarioType{
		ScenarioNormalReturns,
		ScenarioFatTailReturns,
		ScenarioRegimeSwitching,
		ScenarioVolatilityClustering,
		ScenarioMarketCrash,
		ScenarioBullMarket,
		ScenarioBearMarket,
	}
}

// BootstrapType selects the resampling scheme of a bootstrap trial
type BootstrapType string

const (
	BootstrapBlock      BootstrapType = "block"
	BootstrapStationary BootstrapType = "stationary"
	BootstrapCircular   BootstrapType = "circular"
)

// MarketDataPoint is one daily observation for a symbol
type MarketDataPoint struct {
	Date   time.Time       `json:"date"`
	Symbol string          `json:"symbol"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Trade represents a simulated round-trip leg
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
	PnL        decimal.Decimal `json:"pnl"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// Position represents a position held at the end of a trial
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	OpenedAt      time.Time       `json:"openedAt"`
}

// ReturnPoint is one point of a return time series
type ReturnPoint struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

// PerformanceMetrics represents the performance of one return series
type PerformanceMetrics struct {
	TotalReturn         float64 `json:"totalReturn"`
	AnnualizedReturn    float64 `json:"annualizedReturn"`
	Volatility          float64 `json:"volatility"`
	SharpeRatio         float64 `json:"sharpeRatio"`
	SortinoRatio        float64 `json:"sortinoRatio"`
	CalmarRatio         float64 `json:"calmarRatio"`
	MaxDrawdown         float64 `json:"maxDrawdown"`
	MaxDrawdownDuration int     `json:"maxDrawdownDuration"`
	WinRate             float64 `json:"winRate"`
	ProfitFactor        float64 `json:"profitFactor"`
	AverageWin          float64 `json:"averageWin"`
	AverageLoss         float64 `json:"averageLoss"`
	LargestWin          float64 `json:"largestWin"`
	LargestLoss         float64 `json:"largestLoss"`
	Expectancy          float64 `json:"expectancy"`
	TotalTrades         int     `json:"totalTrades"`
	WinningTrades       int     `json:"winningTrades"`
	LosingTrades        int     `json:"losingTrades"`
	AverageReturn       float64 `json:"averageReturn"`
	DownsideDeviation   float64 `json:"downsideDeviation"`
}

// RiskMetrics represents tail and volatility risk of one return series
type RiskMetrics struct {
	VaR95            float64 `json:"var95"`
	VaR99            float64 `json:"var99"`
	CVaR95           float64 `json:"cvar95"`
	CVaR99           float64 `json:"cvar99"`
	DailyVolatility  float64 `json:"dailyVolatility"`
	AnnualVolatility float64 `json:"annualVolatility"`
	WorstDay         float64 `json:"worstDay"`
	BestDay          float64 `json:"bestDay"`
}

// TrialResult is the output of one simulated or resampled trial.
// It is created once and never mutated afterwards.
type TrialResult struct {
	Index        int                `json:"index"`
	Scenario     ScenarioType       `json:"scenario,omitempty"`
	SampleIndex  int                `json:"sampleIndex"`
	Performance  PerformanceMetrics `json:"performance"`
	Risk         RiskMetrics        `json:"risk"`
	Returns      []float64          `json:"returns"`
	Trades       []Trade            `json:"trades,omitempty"`
	Positions    []Position         `json:"positions,omitempty"`
	FinalCapital decimal.Decimal    `json:"finalCapital"`
	MaxDrawdown  float64            `json:"maxDrawdown"`
	WorstDay     float64            `json:"worstDay"`
	BestDay      float64            `json:"bestDay"`
	Volatility   float64            `json:"volatility"`
	CrashEvents  int                `json:"crashEvents,omitempty"`
	Simulated    bool               `json:"simulated"`
}

// ConfidenceInterval is a symmetric percentile interval at one confidence level
type ConfidenceInterval struct {
	Level  float64 `json:"level"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Median float64 `json:"median"`
}

// Distribution represents a statistical distribution
type Distribution struct {
	Count       int                `json:"count"`
	Mean        float64            `json:"mean"`
	Median      float64            `json:"median"`
	StdDev      float64            `json:"stdDev"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Skewness    float64            `json:"skewness"`
	Kurtosis    float64            `json:"kurtosis"`
	Percentiles map[string]float64 `json:"percentiles"`
}

// NormalityTest is a Jarque-Bera test result
type NormalityTest struct {
	Statistic     float64 `json:"statistic"`
	CriticalValue float64 `json:"criticalValue"`
	IsNormal      bool    `json:"isNormal"`
}

// GroupSummary summarizes the trials of one scenario or sample pool
type GroupSummary struct {
	Trials         int     `json:"trials"`
	AverageReturn  float64 `json:"averageReturn"`
	AverageSharpe  float64 `json:"averageSharpe"`
	AverageMaxDD   float64 `json:"averageMaxDrawdown"`
	SuccessRate    float64 `json:"successRate"`
	WorstReturn    float64 `json:"worstReturn"`
	BestReturn     float64 `json:"bestReturn"`
	AverageCrashes float64 `json:"averageCrashes,omitempty"`
}

// Robustness holds trial-consistency scores in [0,1]
type Robustness struct {
	Consistency float64 `json:"consistency"`
	Stability   float64 `json:"stability"`
	Reliability float64 `json:"reliability"`
	Score       float64 `json:"score"`
}

// StressResult is the bad-case view of one stress scenario
type StressResult struct {
	Scenario          ScenarioType `json:"scenario"`
	Trials            int          `json:"trials"`
	AverageReturn     float64      `json:"averageReturn"`
	AverageMaxDD      float64      `json:"averageMaxDrawdown"`
	WorstDayLoss      float64      `json:"worstDayLoss"`
	WorstReturn       float64      `json:"worstReturn"`
	ProbabilityOfLoss float64      `json:"probabilityOfLoss"`
}

// Diagnostics are distributional diagnostics of trial total returns
type Diagnostics struct {
	Returns   Distribution  `json:"returns"`
	Normality NormalityTest `json:"normality"`
}

// MonteCarloReport is the Monte Carlo engine-specific part of a result
type MonteCarloReport struct {
	Simulations         int                             `json:"simulations"`
	SuccessfulTrials    int                             `json:"successfulTrials"`
	FailedTrials        int                             `json:"failedTrials"`
	Cancelled           bool                            `json:"cancelled"`
	Seed                int64                           `json:"seed"`
	ConfidenceIntervals map[string][]ConfidenceInterval `json:"confidenceIntervals"`
	Scenarios           map[ScenarioType]GroupSummary   `json:"scenarios"`
	Robustness          Robustness                      `json:"robustness"`
	Diagnostics         Diagnostics                     `json:"diagnostics"`
	StressTests         []StressResult                  `json:"stressTests"`
	ScenarioDiagnostics map[ScenarioType]Diagnostics    `json:"scenarioDiagnostics"`
}

// BootstrapReport is the bootstrap engine-specific part of a result
type BootstrapReport struct {
	Samples             int                             `json:"samples"`
	SuccessfulSamples   int                             `json:"successfulSamples"`
	FailedSamples       int                             `json:"failedSamples"`
	Cancelled           bool                            `json:"cancelled"`
	Seed                int64                           `json:"seed"`
	BootstrapType       BootstrapType                   `json:"bootstrapType"`
	BlockSize           int                             `json:"blockSize"`
	Original            PerformanceMetrics              `json:"original"`
	Bias                float64                         `json:"bias"`
	StandardError       float64                         `json:"standardError"`
	ConfidenceIntervals map[string][]ConfidenceInterval `json:"confidenceIntervals"`
	Pool                GroupSummary                    `json:"pool"`
	Robustness          Robustness                      `json:"robustness"`
	Diagnostics         Diagnostics                     `json:"diagnostics"`
}

// EngineResult is the unified output of both engines
type EngineResult struct {
	ID          string             `json:"id"`
	Engine      string             `json:"engine"`
	Simulated   bool               `json:"simulated"`
	Returns     []ReturnPoint      `json:"returns"`
	Trades      []Trade            `json:"trades"`
	Positions   []Position         `json:"positions"`
	Performance PerformanceMetrics `json:"performance"`
	Risk        RiskMetrics        `json:"risk"`
	MonteCarlo  *MonteCarloReport  `json:"monteCarlo,omitempty"`
	Bootstrap   *BootstrapReport   `json:"bootstrap,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt time.Time          `json:"completedAt"`
	Duration    time.Duration      `json:"duration"`
}

// Progress reports trial completion of a running engine
type Progress struct {
	ID        string       `json:"id"`
	Engine    string       `json:"engine"`
	Scenario  ScenarioType `json:"scenario,omitempty"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Total     int          `json:"total"`
	Percent   float64      `json:"percent"`
}
