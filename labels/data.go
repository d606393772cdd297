package labels

// Built-in label data. Addresses are lowercased hex; keys are
// "NETWORK:address". Updating these tables is a deployment event.

var builtinEntities = map[string]Entity{
	// Exchanges.
	"ETH:0x28c6c06298d514db089934071355e5743bf21d60": {Type: TypeCEX, Name: "Binance 14"},
	"ETH:0x21a31ee1afc51d94c2efccaa2092ad1028285549": {Type: TypeCEX, Name: "Binance 15"},
	"ETH:0xdfd5293d8e347dfe59e90efd55b2956a1343963d": {Type: TypeCEX, Name: "Binance 16"},
	"ETH:0x71660c4005ba85c37ccec55d0c4493e66fe775d3": {Type: TypeCEX, Name: "Coinbase 1"},
	"ETH:0x503828976d22510aad0201ac7ec88293211d23da": {Type: TypeCEX, Name: "Coinbase 2"},
	"ETH:0x2910543af39aba0cd09dbb2d50200b3e800a63d2": {Type: TypeCEX, Name: "Kraken"},
	"ETH:0x6cc5f688a315f3dc28a7781717a9a798a59fda7b": {Type: TypeCEX, Name: "OKX"},

	// Routers.
	"ETH:0x7a250d5630b4cf539739df2c5dacb4c659f2488d": {Type: TypeDEX, Name: "Uniswap V2 Router"},
	"ETH:0xe592427a0aece92de3edee1f18e0157c05861564": {Type: TypeDEX, Name: "Uniswap V3 Router"},
	"ETH:0x3fc91a3afd70395cd496c647d5a6cc9d4b2b7fad": {Type: TypeDEX, Name: "Uniswap Universal Router"},
	"ETH:0x1111111254eeb25477b68fb85ed929f73a960582": {Type: TypeDEX, Name: "1inch v5"},
}

var builtinBridges = map[string]Bridge{
	// L1 sides.
	"ETH:0x8315177ab297ba92a06054ce80a67ed4dbd7ed3a": {Name: "Arbitrum One Bridge", ToChain: "ARB"},
	"ETH:0xa3a7b6f88361f48403514059f1f16c8e78d60eec": {Name: "Arbitrum ERC20 Gateway", ToChain: "ARB"},
	"ETH:0x99c9fc46f92e8a1c0dec1b1747d010903e884be1": {Name: "Optimism Gateway", ToChain: "OP"},
	"ETH:0x3154cf16ccdb4c6d922629664174b904d80f2c35": {Name: "Base Bridge", ToChain: "BASE"},
	"ETH:0xa0c68c638235ee32657e8f720a23cec1bfc77c77": {Name: "Polygon PoS Bridge", ToChain: "POLY"},
	"ETH:0x32400084c286cf3e17e7b677ea9583e60a000324": {Name: "zkSync Era Bridge", ToChain: "ZKSYNC"},
	"ETH:0x6774bcbd5cecef1336b5300fb5186a12ddd8b367": {Name: "Scroll Gateway", ToChain: "SCROLL"},
	"ETH:0xd19d4b5d358258f05d7b411e21a1460d11b0876f": {Name: "Linea Bridge", ToChain: "LINEA"},
	"ETH:0x8eb8a3b98659cce290402893d0123abb75e3ab28": {Name: "Avalanche Bridge", ToChain: "AVAX"},

	// L2 sides.
	"OP:0x4200000000000000000000000000000000000010":   {Name: "Optimism L2 Bridge", ToChain: "ETH"},
	"BASE:0x4200000000000000000000000000000000000010": {Name: "Base L2 Bridge", ToChain: "ETH"},
	"ARB:0x5288c571fd7ad117bea99bf60fe0846c4e84f933":  {Name: "Arbitrum L2 Gateway", ToChain: "ETH"},

	// Omni-directional routers.
	"ETH:0x8731d54e9d02c286767d56ac03e8037c07e01e98": {Name: "Stargate Router", ToChain: "*"},
	"ETH:0x3ee18b2214aff97000d974cf647e7c347e8fa585": {Name: "Wormhole Token Bridge", ToChain: "*"},
}

var builtinTokens = map[string]Token{
	"ETH:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": {Symbol: "USDC", Decimals: 6, Stable: true},
	"ETH:0xdac17f958d2ee523a2206206994597c13d831ec7": {Symbol: "USDT", Decimals: 6, Stable: true},
	"ETH:0x6b175474e89094c44da98b954eedeac495271d0f": {Symbol: "DAI", Decimals: 18, Stable: true},
	"ETH:0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": {Symbol: "WETH", Decimals: 18},
	"ETH:0x2260fac5e5542a773aa44fbcfedf7c193bc2c599": {Symbol: "WBTC", Decimals: 8},

	"ARB:0xaf88d065e77c8cc2239327c5edb3a432268e5831": {Symbol: "USDC", Decimals: 6, Stable: true},
	"ARB:0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9": {Symbol: "USDT", Decimals: 6, Stable: true},
	"ARB:0x82af49447d8a07e3bd95bd0d56f35241523fbab1": {Symbol: "WETH", Decimals: 18},
	"ARB:0x912ce59144191c1204e64559fe8253a0e49e6548": {Symbol: "ARB", Decimals: 18},

	"OP:0x0b2c639c533813f4aa9d7837caf62653d097ff85": {Symbol: "USDC", Decimals: 6, Stable: true},
	"OP:0x4200000000000000000000000000000000000006": {Symbol: "WETH", Decimals: 18},
	"OP:0x4200000000000000000000000000000000000042": {Symbol: "OP", Decimals: 18},

	"BASE:0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": {Symbol: "USDC", Decimals: 6, Stable: true},
	"BASE:0x4200000000000000000000000000000000000006": {Symbol: "WETH", Decimals: 18},

	"POLY:0x2791bca1f2de4661ed88a30c99a7a9449aa84174": {Symbol: "USDC.e", Decimals: 6, Stable: true},
	"POLY:0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270": {Symbol: "WMATIC", Decimals: 18},

	"BNB:0x55d398326f99059ff775485246999027b3197955": {Symbol: "USDT", Decimals: 18, Stable: true},
	"BNB:0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c": {Symbol: "WBNB", Decimals: 18},

	"AVAX:0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e": {Symbol: "USDC", Decimals: 6, Stable: true},
	"AVAX:0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7": {Symbol: "WAVAX", Decimals: 18},
}
