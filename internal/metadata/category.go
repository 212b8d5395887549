package metadata

import (
	"strings"

	"tokenscope/internal/model"
)

var stableSymbols = map[string]struct{}{
	"usdt": {}, "usdc": {}, "dai": {}, "busd": {}, "tusd": {},
	"usdp": {}, "frax": {}, "lusd": {}, "usdd": {}, "gusd": {},
}

var exchangeSymbols = map[string]struct{}{
	"bnb": {}, "cake": {}, "uni": {}, "sushi": {}, "okb": {},
	"cro": {}, "kcs": {}, "ftt": {}, "gt": {},
}

var memeKeywords = []string{
	"doge", "shib", "pepe", "inu", "moon", "elon", "floki",
	"baby", "safemoon", "rocket", "wojak", "chad",
}

// Categorize assigns a category from token name and symbol. Rules are
// evaluated in fixed priority order; the first match wins. It never fails:
// any panic inside a rule yields CategoryOther.
func Categorize(name, symbol string) (category model.Category) {
	category = model.CategoryCurrency
	defer func() {
		if recover() != nil {
			category = model.CategoryOther
		}
	}()

	loweredName := strings.ToLower(name)
	loweredSymbol := strings.ToLower(symbol)
	combined := loweredName + " " + loweredSymbol

	switch {
	case isStable(loweredSymbol, combined):
		return model.CategoryStablecoin
	case containsAny(combined, "governance", "voting", "gov", "vote"):
		return model.CategoryGovernance
	case containsAny(combined, memeKeywords...):
		return model.CategoryMeme
	case containsAny(combined, "defi", "finance", "protocol"):
		return model.CategoryDefi
	case containsAny(combined, "game", "play"):
		return model.CategoryGaming
	case isExchange(loweredSymbol, loweredName):
		return model.CategoryExchange
	case containsAny(combined, "yield", "farm"):
		return model.CategoryYield
	default:
		return model.CategoryCurrency
	}
}

func isStable(symbol, combined string) bool {
	if _, ok := stableSymbols[symbol]; ok {
		return true
	}
	return containsAny(combined, "usd", "stablecoin")
}

func isExchange(symbol, name string) bool {
	if _, ok := exchangeSymbols[symbol]; ok {
		return true
	}
	return containsAny(name, "exchange", "swap")
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
