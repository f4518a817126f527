package tracer

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// TraceConfig is everything needed to execute a block from a known pre-state.
type TraceConfig struct {
	ChainID       *hexutil.Big               `json:"chain_id"`
	HistoryHashes []common.Hash              `json:"history_hashes"`
	Block         BlockConstants             `json:"block_constants"`
	Accounts      map[common.Address]Account `json:"accounts"`
	Transactions  []Transaction              `json:"transactions"`
	LoggerConfig  *LoggerConfig              `json:"logger_config,omitempty"`
}

type BlockConstants struct {
	Coinbase   common.Address `json:"coinbase"`
	Timestamp  *hexutil.Big   `json:"timestamp"`
	Number     *hexutil.Big   `json:"number"`
	Difficulty *hexutil.Big   `json:"difficulty"`
	GasLimit   *hexutil.Big   `json:"gas_limit"`
	BaseFee    *hexutil.Big   `json:"base_fee"`
}

type Account struct {
	Address common.Address              `json:"address"`
	Nonce   hexutil.Uint64              `json:"nonce"`
	Balance *hexutil.Big                `json:"balance"`
	Code    hexutil.Bytes               `json:"code"`
	Storage map[common.Hash]common.Hash `json:"storage"`
}

type Transaction struct {
	From       common.Address   `json:"from"`
	To         *common.Address  `json:"to"`
	Nonce      hexutil.Uint64   `json:"nonce"`
	Value      *hexutil.Big     `json:"value"`
	GasLimit   hexutil.Uint64   `json:"gas_limit"`
	GasPrice   *hexutil.Big     `json:"gas_price"`
	GasFeeCap  *hexutil.Big     `json:"gas_fee_cap"`
	GasTipCap  *hexutil.Big     `json:"gas_tip_cap"`
	CallData   hexutil.Bytes    `json:"call_data"`
	AccessList types.AccessList `json:"access_list"`
}

// LoggerConfig selects what the collector copies per step.
type LoggerConfig struct {
	DisableMemory    bool `json:"disable_memory"`
	DisableStack     bool `json:"disable_stack"`
	EnableReturnData bool `json:"enable_return_data"`
}

// DefaultLoggerConfig keeps everything the bus mapping needs.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{EnableReturnData: true}
}

// LoadTraceConfig reads a JSON trace config from disk.
func LoadTraceConfig(path string) (*TraceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace config: %w", err)
	}
	var cfg TraceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse trace config: %w", err)
	}
	return &cfg, nil
}

// BigOrZero unwraps an optional hex big integer.
func BigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.ToInt())
}

// U256OrZero unwraps an optional hex big integer into a 256-bit word.
func U256OrZero(v *hexutil.Big) *uint256.Int {
	u, _ := uint256.FromBig(BigOrZero(v))
	return u
}

// EffectiveGasPrice is the price per gas the sender pays for tx under baseFee.
func (tx *Transaction) EffectiveGasPrice(baseFee *big.Int) *big.Int {
	if tx.GasFeeCap == nil {
		return BigOrZero(tx.GasPrice)
	}
	price := new(big.Int).Add(baseFee, BigOrZero(tx.GasTipCap))
	if feeCap := tx.GasFeeCap.ToInt(); price.Cmp(feeCap) > 0 {
		price.Set(feeCap)
	}
	return price
}
