package pnl

import (
	"math"
	"sort"
	"time"

	"trendbot/internal/domain"
)

// PerformanceMetrics summarizes a series of closed positions
type PerformanceMetrics struct {
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	TotalFees          float64
	GrossProfit        float64
	GrossLoss          float64 // positive
	MaxDrawdown        float64 // fraction of the peak balance
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64 // negative
	FinalBalance       float64
	ReturnOnInvestment float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	RecoveryFactor       float64
	Expectancy           float64
	MonthlyReturns       map[string]float64
	CloseReasons         map[domain.CloseReason]int
	EquityCurve          []EquityPoint
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// AnalyzePerformance computes metrics over closed positions in close order.
// Abandoned entries that never filled are skipped.
func AnalyzePerformance(positions []*domain.Position, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		MonthlyReturns: make(map[string]float64),
		CloseReasons:   make(map[domain.CloseReason]int),
	}

	closed := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		if p.Status == domain.StatusClosed && p.ClosedAt != nil && p.CloseReason != domain.CloseReasonEntryUnfilled {
			closed = append(closed, p)
		}
	}
	if len(closed) == 0 {
		return metrics
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].ClosedAt.Before(*closed[j].ClosedAt) })

	balance, peak := initialBalance, initialBalance
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration

	for _, p := range closed {
		pnl := p.RealizedPNL.InexactFloat64()
		metrics.TotalTrades++
		metrics.TotalFees += p.FeesPaid.InexactFloat64()
		metrics.CloseReasons[p.CloseReason]++
		if pnl > 0 {
			metrics.WinningTrades++
			metrics.GrossProfit += pnl
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			metrics.GrossLoss -= pnl
			consecutiveLosses++
			consecutiveWins = 0
		}
		if consecutiveWins > metrics.MaxConsecutiveWins {
			metrics.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > metrics.MaxConsecutiveLosses {
			metrics.MaxConsecutiveLosses = consecutiveLosses
		}

		balance += pnl
		metrics.TotalProfit += pnl
		metrics.MonthlyReturns[p.ClosedAt.UTC().Format("2006-01")] += pnl
		totalDuration += p.ClosedAt.Sub(p.OpenedAt)

		if balance > peak {
			peak = balance
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - balance) / peak
		}
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{Time: *p.ClosedAt, Value: balance, Drawdown: drawdown})
	}

	metrics.FinalBalance = balance
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = -metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	if metrics.GrossLoss > 0 {
		metrics.ProfitFactor = metrics.GrossProfit / metrics.GrossLoss
	}
	if initialBalance != 0 {
		metrics.ReturnOnInvestment = (balance - initialBalance) / initialBalance
	}
	if metrics.MaxDrawdown > 0 && initialBalance > 0 {
		metrics.RecoveryFactor = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown)
	}
	metrics.AverageTradeDuration = totalDuration / time.Duration(metrics.TotalTrades)
	metrics.Expectancy = metrics.WinRate*metrics.AverageWin + (1-metrics.WinRate)*metrics.AverageLoss
	return metrics
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{Month: date, Return: profit})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}
