package adapter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arguslabs/argus/types"
)

// Event signatures the ingestion loop understands. Transfer is always
// on; the rest are enabled per stage.
var (
	TransferTopic    = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	SwapTopic        = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	MintTopic        = crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256)"))
	BurnTopic        = crypto.Keccak256Hash([]byte("Burn(address,uint256,uint256,address)"))
	PairCreatedTopic = crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))
)

// topicEvents maps a topic0 to the unified event family it produces.
var topicEvents = map[common.Hash]types.EventType{
	TransferTopic:    types.EventTransfer,
	SwapTopic:        types.EventSwap,
	MintTopic:        types.EventDeposit,
	BurnTopic:        types.EventWithdrawal,
	PairCreatedTopic: types.EventPoolCreated,
}

// TopicFilter selects which optional log families a fetch includes.
// The zero value fetches transfers only.
type TopicFilter struct {
	Pools     bool
	Swaps     bool
	Liquidity bool
}

// Topics expands the filter into the topic0 list for eth_getLogs.
func (f TopicFilter) Topics() []common.Hash {
	topics := []common.Hash{TransferTopic}
	if f.Swaps {
		topics = append(topics, SwapTopic)
	}
	if f.Liquidity {
		topics = append(topics, MintTopic, BurnTopic)
	}
	if f.Pools {
		topics = append(topics, PairCreatedTopic)
	}
	return topics
}

// addressTopic left-pads an address into topic position form.
func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}
