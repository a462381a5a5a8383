package domain

import "strings"

// NormalizeSymbol converts venue or charting symbols ("BINANCE:BTCUSDTPERP",
// "btc/usdt") to the plain form used across the ledger ("BTCUSDT").
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ".P")
	s = strings.TrimSuffix(s, "PERP")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}
