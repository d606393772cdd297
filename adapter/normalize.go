package adapter

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/arguslabs/argus/types"
)

// wordSize is one ABI word in the log data.
const wordSize = 32

// normalize flattens a raw log into the unified event shape. The
// second return is false for logs that do not carry enough indexed
// fields for their family, which get dropped without noise.
func normalize(network string, chainID uint64, lg ethtypes.Log, ts int64, source types.IngestionSource) (types.UnifiedEvent, bool) {
	if len(lg.Topics) == 0 {
		return types.UnifiedEvent{}, false
	}
	eventType, ok := topicEvents[lg.Topics[0]]
	if !ok {
		return types.UnifiedEvent{}, false
	}

	ev := types.UnifiedEvent{
		Network:     network,
		ChainID:     chainID,
		TxHash:      strings.ToLower(lg.TxHash.Hex()),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		Timestamp:   ts,
		EventType:   eventType,
		Source:      source,
	}

	switch eventType {
	case types.EventTransfer:
		// ERC-20 Transfer with unindexed parameters (some NFT and
		// deflationary token variants) cannot name both parties.
		if len(lg.Topics) < 3 {
			return types.UnifiedEvent{}, false
		}
		ev.From = topicAddress(lg.Topics[1])
		ev.To = topicAddress(lg.Topics[2])
		ev.TokenAddress = lowerAddr(lg.Address)
		ev.Amount = dataWord(lg.Data, 0).Dec()

	case types.EventSwap:
		if len(lg.Topics) < 3 || len(lg.Data) < 4*wordSize {
			return types.UnifiedEvent{}, false
		}
		ev.From = topicAddress(lg.Topics[1])
		ev.To = topicAddress(lg.Topics[2])
		ev.TokenAddress = lowerAddr(lg.Address)
		in := new(uint256.Int).Add(dataWord(lg.Data, 0), dataWord(lg.Data, 1))
		if in.IsZero() {
			in = new(uint256.Int).Add(dataWord(lg.Data, 2), dataWord(lg.Data, 3))
		}
		ev.Amount = in.Dec()

	case types.EventDeposit:
		if len(lg.Topics) < 2 || len(lg.Data) < 2*wordSize {
			return types.UnifiedEvent{}, false
		}
		ev.From = topicAddress(lg.Topics[1])
		ev.To = lowerAddr(lg.Address)
		ev.TokenAddress = lowerAddr(lg.Address)
		ev.Amount = dataWord(lg.Data, 0).Dec()

	case types.EventWithdrawal:
		if len(lg.Topics) < 3 || len(lg.Data) < 2*wordSize {
			return types.UnifiedEvent{}, false
		}
		ev.From = lowerAddr(lg.Address)
		ev.To = topicAddress(lg.Topics[2])
		ev.TokenAddress = lowerAddr(lg.Address)
		ev.Amount = dataWord(lg.Data, 0).Dec()

	case types.EventPoolCreated:
		if len(lg.Topics) < 3 || len(lg.Data) < wordSize {
			return types.UnifiedEvent{}, false
		}
		ev.From = topicAddress(lg.Topics[1])
		ev.To = topicAddress(lg.Topics[2])
		ev.TokenAddress = topicAddress(common.BytesToHash(lg.Data[:wordSize]))
		ev.Amount = "0"
	}

	ev.ID = types.EventID(network, ev.TxHash, ev.LogIndex)
	return ev, true
}

// amountToUnits converts a raw integer amount into token units using
// the token's decimal scale.
func amountToUnits(amount *uint256.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(amount.ToBig())
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	units, _ := new(big.Float).Quo(f, scale).Float64()
	return units
}

func dataWord(data []byte, i int) *uint256.Int {
	word := new(uint256.Int)
	start := i * wordSize
	if start+wordSize > len(data) {
		return word
	}
	return word.SetBytes(data[start : start+wordSize])
}

func topicAddress(topic common.Hash) string {
	return lowerAddr(common.BytesToAddress(topic.Bytes()))
}

func lowerAddr(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
