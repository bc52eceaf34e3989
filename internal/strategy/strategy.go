package strategy

// Strategy is the tagged variant of caching behaviors the router executes.
type Strategy string

const (
	CacheFirst           Strategy = "cache-first"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	NetworkOnly          Strategy = "network-only"
	CacheOnly            Strategy = "cache-only"
)

// defaultStrategies maps each class to its strategy. Overridable per class
// through RouterOptions so the remaining variants stay reachable.
var defaultStrategies = map[Class]Strategy{
	ClassToolPage:    CacheFirst,
	ClassStaticAsset: CacheFirst,
	ClassAPI:         NetworkFirst,
	ClassGeneral:     NetworkFirst,
}

func StrategyFor(class Class, overrides map[Class]Strategy) Strategy {
	if overrides != nil {
		if strat, ok := overrides[class]; ok {
			return strat
		}
	}
	if strat, ok := defaultStrategies[class]; ok {
		return strat
	}
	return NetworkFirst
}
