package tracer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

var ErrNoTransactions = errors.New("tracer: config has no transactions")

// =============================================================================
// VM construction
// =============================================================================

// SimpleTracer executes the transactions of a TraceConfig on go-ethereum and returns one
// trace per transaction.
type SimpleTracer struct {
	cfg     *TraceConfig
	state   *state.StateDB
	tracer  *StateTracer
	evm     *vm.EVM
	gasPool *core.GasPool
}

func NewSimpleTracer(cfg *TraceConfig) (*SimpleTracer, error) {
	statedb, err := state.New(types.EmptyRootHash, state.NewDatabaseForTesting())
	if err != nil {
		return nil, fmt.Errorf("failed to create state: %w", err)
	}
	for addr, acc := range cfg.Accounts {
		statedb.SetNonce(addr, uint64(acc.Nonce), tracing.NonceChangeUnspecified)
		statedb.SetBalance(addr, U256OrZero(acc.Balance), tracing.BalanceChangeUnspecified)
		if len(acc.Code) > 0 {
			statedb.SetCode(addr, acc.Code, tracing.CodeChangeUnspecified)
		}
		for k, v := range acc.Storage {
			statedb.SetState(addr, k, v)
		}
	}
	statedb.Finalise(true)

	loggerCfg := DefaultLoggerConfig()
	if cfg.LoggerConfig != nil {
		loggerCfg = *cfg.LoggerConfig
	}
	tracer := NewStateTracer(loggerCfg, statedb)

	chainCfg := ChainConfig(BigOrZero(cfg.ChainID))
	blockCtx := blockContext(cfg)
	evm := vm.NewEVM(blockCtx, statedb, chainCfg, vm.Config{Tracer: tracer.Hooks()})

	return &SimpleTracer{
		cfg:     cfg,
		state:   statedb,
		tracer:  tracer,
		evm:     evm,
		gasPool: new(core.GasPool).AddGas(blockCtx.GasLimit),
	}, nil
}

// ChainConfig is a post merge configuration running Cancun rules from genesis.
func ChainConfig(chainID *big.Int) *params.ChainConfig {
	cfg := *params.MergedTestChainConfig
	cfg.ChainID = chainID
	cfg.PragueTime = nil
	cfg.OsakaTime = nil
	return &cfg
}

func blockContext(cfg *TraceConfig) vm.BlockContext {
	number := BigOrZero(cfg.Block.Number)
	random := common.BigToHash(BigOrZero(cfg.Block.Difficulty))
	gasLimit := BigOrZero(cfg.Block.GasLimit).Uint64()
	return vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     historyHashes(number.Uint64(), cfg.HistoryHashes),
		Coinbase:    cfg.Block.Coinbase,
		GasLimit:    gasLimit,
		BlockNumber: number,
		Time:        BigOrZero(cfg.Block.Timestamp).Uint64(),
		Difficulty:  BigOrZero(cfg.Block.Difficulty),
		BaseFee:     BigOrZero(cfg.Block.BaseFee),
		BlobBaseFee: big.NewInt(1),
		Random:      &random,
	}
}

// historyHashes serves the hashes of the blocks right before number; the last entry is the
// parent hash.
func historyHashes(number uint64, hashes []common.Hash) vm.GetHashFunc {
	return func(n uint64) common.Hash {
		if n >= number || number-n > uint64(len(hashes)) {
			return common.Hash{}
		}
		return hashes[uint64(len(hashes))-(number-n)]
	}
}

// Trace executes every transaction in order and returns their traces.
func (tr *SimpleTracer) Trace() ([]*GethExecTrace, error) {
	if len(tr.cfg.Transactions) == 0 {
		return nil, ErrNoTransactions
	}
	traces := make([]*GethExecTrace, 0, len(tr.cfg.Transactions))
	for i := range tr.cfg.Transactions {
		trace, err := tr.ExecuteTransaction(i)
		if err != nil {
			return nil, err
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

// ExecuteTransaction runs the i-th transaction of the config against the current state.
func (tr *SimpleTracer) ExecuteTransaction(i int) (*GethExecTrace, error) {
	tx := &tr.cfg.Transactions[i]
	msg := toMessage(tx, tr.evm.Context.BaseFee)

	tr.tracer.Reset()
	tr.state.SetTxContext(common.BigToHash(big.NewInt(int64(i))), i)
	tr.evm.SetTxContext(core.NewEVMTxContext(msg))

	result, err := core.ApplyMessage(tr.evm, msg, tr.gasPool)
	if err != nil {
		return nil, fmt.Errorf("failed to apply transaction %d: %w", i, err)
	}
	if result.Err != nil {
		log.Debug("Transaction execution failed", "index", i, "err", result.Err)
	}
	tr.state.Finalise(true)

	return &GethExecTrace{
		Gas:         result.UsedGas,
		Failed:      result.Failed(),
		ReturnValue: result.ReturnData,
		StructLogs:  tr.tracer.Steps(),
	}, nil
}

func toMessage(tx *Transaction, baseFee *big.Int) *core.Message {
	msg := &core.Message{
		From:       tx.From,
		To:         tx.To,
		Nonce:      uint64(tx.Nonce),
		Value:      BigOrZero(tx.Value),
		GasLimit:   uint64(tx.GasLimit),
		Data:       tx.CallData,
		AccessList: tx.AccessList,
	}
	if tx.GasFeeCap == nil {
		msg.GasPrice = BigOrZero(tx.GasPrice)
		msg.GasFeeCap = msg.GasPrice
		msg.GasTipCap = msg.GasPrice
	} else {
		msg.GasFeeCap = BigOrZero(tx.GasFeeCap)
		msg.GasTipCap = BigOrZero(tx.GasTipCap)
		msg.GasPrice = tx.EffectiveGasPrice(baseFee)
	}
	return msg
}

func (tr *SimpleTracer) GetStorageAt(addr common.Address, key common.Hash) common.Hash {
	return tr.state.GetState(addr, key)
}

func (tr *SimpleTracer) GetBalance(addr common.Address) *uint256.Int {
	return tr.state.GetBalance(addr)
}

// Trace executes cfg from scratch.
func Trace(cfg *TraceConfig) ([]*GethExecTrace, error) {
	tr, err := NewSimpleTracer(cfg)
	if err != nil {
		return nil, err
	}
	return tr.Trace()
}
