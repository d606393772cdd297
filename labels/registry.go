// Package labels carries the static label artifacts: well-known
// entities, canonical bridge contracts and the token registry. The
// maps are versioned deployment artifacts, so consumers receive a
// Registry value instead of reaching into package globals.
package labels

import "strings"

// Entity classifications.
const (
	TypeCEX      = "CEX"
	TypeDEX      = "DEX"
	TypeBridge   = "BRIDGE"
	TypeProtocol = "PROTOCOL"
)

// Entity labels a well-known address.
type Entity struct {
	Type string
	Name string
}

// Bridge labels a canonical bridge contract and the chain it bridges
// to. ToChain is a network tag, or "*" for omni-directional routers.
type Bridge struct {
	Name    string
	ToChain string
}

// Token describes a registered ERC-20.
type Token struct {
	Symbol   string
	Decimals uint8
	Stable   bool
}

// Registry bundles the label maps for injection into the aggregation
// layers. Lookups are case-insensitive on the address and network.
type Registry struct {
	entities map[string]Entity // "NETWORK:0xaddr" -> entity
	bridges  map[string]Bridge
	tokens   map[string]Token
}

func key(network, address string) string {
	return strings.ToUpper(network) + ":" + strings.ToLower(address)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]Entity),
		bridges:  make(map[string]Bridge),
		tokens:   make(map[string]Token),
	}
}

// Default returns the built-in registry shipped with the release.
func Default() *Registry {
	r := NewRegistry()
	for k, v := range builtinEntities {
		r.entities[k] = v
	}
	for k, v := range builtinBridges {
		r.bridges[k] = v
	}
	for k, v := range builtinTokens {
		r.tokens[k] = v
	}
	return r
}

// AddEntity registers or replaces an entity label.
func (r *Registry) AddEntity(network, address string, e Entity) {
	r.entities[key(network, address)] = e
}

// AddBridge registers or replaces a bridge label.
func (r *Registry) AddBridge(network, address string, b Bridge) {
	r.bridges[key(network, address)] = b
}

// AddToken registers or replaces a token record.
func (r *Registry) AddToken(network, address string, t Token) {
	r.tokens[key(network, address)] = t
}

// Entity looks up the label of an address.
func (r *Registry) Entity(network, address string) (Entity, bool) {
	e, ok := r.entities[key(network, address)]
	return e, ok
}

// Bridge looks up the bridge record of an address.
func (r *Registry) Bridge(network, address string) (Bridge, bool) {
	b, ok := r.bridges[key(network, address)]
	return b, ok
}

// IsBridge reports whether the address is a known bridge contract.
func (r *Registry) IsBridge(network, address string) bool {
	_, ok := r.bridges[key(network, address)]
	return ok
}

// Token looks up the token record of an address.
func (r *Registry) Token(network, address string) (Token, bool) {
	t, ok := r.tokens[key(network, address)]
	return t, ok
}

// Decimals returns the registered decimals of a token, defaulting to
// 18 for unknown tokens.
func (r *Registry) Decimals(network, address string) uint8 {
	if t, ok := r.tokens[key(network, address)]; ok {
		return t.Decimals
	}
	return 18
}

// IsStable reports whether the token is a registered stablecoin.
func (r *Registry) IsStable(network, address string) bool {
	t, ok := r.tokens[key(network, address)]
	return ok && t.Stable
}
