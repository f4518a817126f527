package mock

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"zkevm-bus-mapping/tracer"
)

// =============================================================================
// MOCK ACCOUNTS
// =============================================================================

var (
	Sender    = common.HexToAddress("0x000000000000000000000000000000000cafe111")
	Contract  = common.HexToAddress("0x000000000000000000000000000000000cafe222")
	Contract2 = common.HexToAddress("0x000000000000000000000000000000000cafe333")
	Contract3 = common.HexToAddress("0x000000000000000000000000000000000cafe444")
	Coinbase  = common.HexToAddress("0x00000000000000000000000000000000c014ba5e")
)

const (
	ChainID     = 1338
	BlockNumber = 0xcafe
	Timestamp   = 0x5eb7a6c2
	GasLimit    = 10_000_000
	BaseFee     = 7
	GasPrice    = 10
	TxGas       = 1_000_000
)

// SenderBalance funds the mock sender well past any test transaction's fee.
var SenderBalance = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

func hexBig(v *big.Int) *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).Set(v))
}

func hexInt(v int64) *hexutil.Big {
	return hexBig(big.NewInt(v))
}

// BlockConstants are the constants of the mock block.
func BlockConstants() tracer.BlockConstants {
	return tracer.BlockConstants{
		Coinbase:   Coinbase,
		Timestamp:  hexInt(Timestamp),
		Number:     hexInt(BlockNumber),
		Difficulty: hexInt(0),
		GasLimit:   hexInt(GasLimit),
		BaseFee:    hexInt(BaseFee),
	}
}

// HistoryHashes returns n fake hashes of the blocks before the mock block.
func HistoryHashes(n int) []common.Hash {
	hashes := make([]common.Hash, n)
	for i := range hashes {
		hashes[i] = crypto.Keccak256Hash(big.NewInt(int64(BlockNumber - n + i)).Bytes())
	}
	return hashes
}

// EncodeCallData returns the 4 byte selector of a function signature such as
// "transfer(address,uint256)" followed by the given 32 byte words.
func EncodeCallData(signature string, words ...common.Hash) []byte {
	data := crypto.Keccak256([]byte(signature))[:4]
	for _, w := range words {
		data = append(data, w.Bytes()...)
	}
	return data
}
