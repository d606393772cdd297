// Package params holds the closed network registry and the tuning
// constants the ingestion pipeline derives its defaults from.
package params

// Network describes one supported EVM network. The set is closed at
// build time; activating a subset of it is a configuration concern.
type Network struct {
	Tag     string // canonical uppercase tag, used as the chain key everywhere
	Name    string
	ChainID uint64

	// WindowSize is the default block span of one getLogs window,
	// sized from the expected log density of the chain.
	WindowSize uint64
}

// Window planning constants.
const (
	// HeadBuffer is subtracted from the observed head before planning
	// a window, keeping the pipeline clear of shallow reorgs.
	HeadBuffer = 5

	// MinWindow is the smallest span adaptive sizing may shrink a
	// window to.
	MinWindow = 10

	// DefaultWindow applies to chains without a per-chain override.
	DefaultWindow = 1000
)

// Registry of supported networks.
var networks = []Network{
	{Tag: "ETH", Name: "Ethereum", ChainID: 1, WindowSize: 500},
	{Tag: "ARB", Name: "Arbitrum One", ChainID: 42161, WindowSize: 2000},
	{Tag: "OP", Name: "Optimism", ChainID: 10, WindowSize: 2000},
	{Tag: "BASE", Name: "Base", ChainID: 8453, WindowSize: 2000},
	{Tag: "POLY", Name: "Polygon", ChainID: 137, WindowSize: 1000},
	{Tag: "BNB", Name: "BNB Smart Chain", ChainID: 56, WindowSize: 1000},
	{Tag: "AVAX", Name: "Avalanche C-Chain", ChainID: 43114, WindowSize: 1000},
	{Tag: "ZKSYNC", Name: "zkSync Era", ChainID: 324, WindowSize: 500},
	{Tag: "SCROLL", Name: "Scroll", ChainID: 534352, WindowSize: 500},
	{Tag: "LINEA", Name: "Linea", ChainID: 59144, WindowSize: 500},
}

var byTag = func() map[string]Network {
	m := make(map[string]Network, len(networks))
	for _, n := range networks {
		m[n.Tag] = n
	}
	return m
}()

// AllNetworks returns the registry in declaration order. The returned
// slice is a copy.
func AllNetworks() []Network {
	out := make([]Network, len(networks))
	copy(out, networks)
	return out
}

// NetworkByTag looks up a network by its canonical tag.
func NetworkByTag(tag string) (Network, bool) {
	n, ok := byTag[tag]
	return n, ok
}

// IsKnownNetwork reports whether tag names a supported network.
func IsKnownNetwork(tag string) bool {
	_, ok := byTag[tag]
	return ok
}

// WindowSize returns the default window span for tag, or
// DefaultWindow for unknown tags.
func WindowSize(tag string) uint64 {
	if n, ok := byTag[tag]; ok {
		return n.WindowSize
	}
	return DefaultWindow
}

// ChainID returns the numeric chain id for tag, or 0 when unknown.
func ChainID(tag string) uint64 {
	if n, ok := byTag[tag]; ok {
		return n.ChainID
	}
	return 0
}
