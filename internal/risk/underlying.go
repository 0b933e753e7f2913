package risk

// UnderlyingOf extracts the underlying symbol from a trading symbol: the
// longest leading run of non-digit characters, e.g. "NIFTY24FEB22000CE"
// -> "NIFTY".
func UnderlyingOf(tradingSymbol string) string {
	for i, r := range tradingSymbol {
		if r >= '0' && r <= '9' {
			return tradingSymbol[:i]
		}
	}
	return tradingSymbol
}
