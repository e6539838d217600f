package symbols

import "strings"

// multiplierAliases maps exchange contract names that quote a multiplied
// base asset onto the plain ticker used across the engine.
var multiplierAliases = map[string]string{
	"1000SHIBUSDT": "SHIBUSDT",
	"SHIB1000USDT": "SHIBUSDT",
	"1000BONKUSDT": "BONKUSDT",
	"1000PEPEUSDT": "PEPEUSDT",
}

// Normalize converts a raw ticker to the canonical upper case, separator free
// form (BTCUSDT). Coin margined contract names such as BTCUSD_PERP keep their
// base and quote only.
func Normalize(raw string) string {
	sym := strings.ToUpper(strings.TrimSpace(raw))
	if sym == "" {
		return sym
	}
	if i := strings.Index(sym, "_"); i > 0 && strings.HasSuffix(sym, "_PERP") {
		sym = sym[:i]
	}
	sym = strings.NewReplacer("-", "", "/", "").Replace(sym)
	if alias, ok := multiplierAliases[sym]; ok {
		return alias
	}
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	return sym
}
