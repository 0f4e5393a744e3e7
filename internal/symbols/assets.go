package symbols

// Asset pins a well-known ticker to its provider identifiers. Pins win over
// refreshed catalogs, where many unrelated tokens reuse popular tickers.
type Asset struct {
	Symbol string

	CoinGeckoID string

	// BinanceBase is the base asset of the pair; empty when Binance has no
	// fiat-like market for the asset.
	BinanceBase string
}

var Pinned = []Asset{
	{Symbol: "btc", CoinGeckoID: "bitcoin", BinanceBase: "BTC"},
	{Symbol: "eth", CoinGeckoID: "ethereum", BinanceBase: "ETH"},
	{Symbol: "bnb", CoinGeckoID: "binancecoin", BinanceBase: "BNB"},
	{Symbol: "sol", CoinGeckoID: "solana", BinanceBase: "SOL"},
	{Symbol: "xrp", CoinGeckoID: "ripple", BinanceBase: "XRP"},
	{Symbol: "ada", CoinGeckoID: "cardano", BinanceBase: "ADA"},
	{Symbol: "doge", CoinGeckoID: "dogecoin", BinanceBase: "DOGE"},
	{Symbol: "ton", CoinGeckoID: "the-open-network", BinanceBase: "TON"},
	{Symbol: "trx", CoinGeckoID: "tron", BinanceBase: "TRX"},
	{Symbol: "dot", CoinGeckoID: "polkadot", BinanceBase: "DOT"},
	{Symbol: "ltc", CoinGeckoID: "litecoin", BinanceBase: "LTC"},
	{Symbol: "bch", CoinGeckoID: "bitcoin-cash", BinanceBase: "BCH"},
	{Symbol: "etc", CoinGeckoID: "ethereum-classic", BinanceBase: "ETC"},
	{Symbol: "link", CoinGeckoID: "chainlink", BinanceBase: "LINK"},
	{Symbol: "avax", CoinGeckoID: "avalanche-2", BinanceBase: "AVAX"},
	{Symbol: "shib", CoinGeckoID: "shiba-inu", BinanceBase: "SHIB"},
	{Symbol: "pepe", CoinGeckoID: "pepe", BinanceBase: "PEPE"},
	{Symbol: "xlm", CoinGeckoID: "stellar", BinanceBase: "XLM"},
	{Symbol: "atom", CoinGeckoID: "cosmos", BinanceBase: "ATOM"},
	{Symbol: "uni", CoinGeckoID: "uniswap", BinanceBase: "UNI"},
	{Symbol: "near", CoinGeckoID: "near", BinanceBase: "NEAR"},
	{Symbol: "apt", CoinGeckoID: "aptos", BinanceBase: "APT"},
	{Symbol: "arb", CoinGeckoID: "arbitrum", BinanceBase: "ARB"},
	{Symbol: "op", CoinGeckoID: "optimism", BinanceBase: "OP"},
	{Symbol: "pol", CoinGeckoID: "polygon-ecosystem-token", BinanceBase: "POL"},
	{Symbol: "usdc", CoinGeckoID: "usd-coin", BinanceBase: "USDC"},
	{Symbol: "usdt", CoinGeckoID: "tether"},
	{Symbol: "xmr", CoinGeckoID: "monero"},
}

var bySymbol map[string]Asset

func init() {
	bySymbol = make(map[string]Asset, len(Pinned))
	for _, a := range Pinned {
		bySymbol[a.Symbol] = a
	}
}

// BySymbol looks up a pinned asset by lower-case ticker.
func BySymbol(symbol string) (Asset, bool) {
	a, ok := bySymbol[symbol]
	return a, ok
}
