package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"trendbot/internal/domain"
	"trendbot/internal/pnl"
)

func printReport(out io.Writer, m *pnl.PerformanceMetrics, initial float64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Initial balance:\t%.2f\n", initial)
	fmt.Fprintf(w, "Final balance:\t%.2f\n", m.FinalBalance)
	fmt.Fprintf(w, "Return:\t%.2f%%\n", m.ReturnOnInvestment*100)
	fmt.Fprintf(w, "Trades:\t%d (won %d, lost %d)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Fprintf(w, "Win rate:\t%.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "Net profit:\t%.2f\n", m.TotalProfit)
	fmt.Fprintf(w, "Fees:\t%.2f\n", m.TotalFees)
	fmt.Fprintf(w, "Profit factor:\t%.2f\n", m.ProfitFactor)
	fmt.Fprintf(w, "Average win / loss:\t%.2f / %.2f\n", m.AverageWin, m.AverageLoss)
	fmt.Fprintf(w, "Expectancy:\t%.2f\n", m.Expectancy)
	fmt.Fprintf(w, "Max drawdown:\t%.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "Recovery factor:\t%.2f\n", m.RecoveryFactor)
	fmt.Fprintf(w, "Max consecutive wins / losses:\t%d / %d\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)
	fmt.Fprintf(w, "Average trade duration:\t%s\n", m.AverageTradeDuration)

	if len(m.CloseReasons) > 0 {
		reasons := make([]string, 0, len(m.CloseReasons))
		for r := range m.CloseReasons {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		fmt.Fprintln(w, "\nClose reasons:")
		for _, r := range reasons {
			fmt.Fprintf(w, "  %s\t%d\n", r, m.CloseReasons[domain.CloseReason(r)])
		}
	}
	if monthly := m.GetMonthlyReturns(); len(monthly) > 0 {
		fmt.Fprintln(w, "\nMonthly profit:")
		for _, mr := range monthly {
			fmt.Fprintf(w, "  %s\t%.2f\n", mr.Month.Format("2006-01"), mr.Return)
		}
	}
	w.Flush()
}

func printDailyPnL(out io.Writer, days []*domain.DailyPnL) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Day\tRealized\tUnrealized\tEquity")
	for _, d := range days {
		equity := "-"
		if d.Equity.Valid {
			equity = d.Equity.Decimal.StringFixed(2)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Day, d.RealizedPNL.StringFixed(2), d.UnrealizedPNL.StringFixed(2), equity)
	}
	w.Flush()
}
