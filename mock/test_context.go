package mock

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"zkevm-bus-mapping/tracer"
)

// TestContext assembles a TraceConfig around a program deployed at Contract and called by
// Sender. Further contracts and transactions can be added before tracing.
type TestContext struct {
	cfg tracer.TraceConfig
}

func NewTestContext(program []byte) *TestContext {
	return NewEmptyTestContext().
		DeployContract(Contract, program).
		AddCall(Contract, nil)
}

// NewEmptyTestContext has a funded sender and no transactions.
func NewEmptyTestContext() *TestContext {
	ctx := &TestContext{
		cfg: tracer.TraceConfig{
			ChainID:       hexInt(ChainID),
			HistoryHashes: HistoryHashes(8),
			Block:         BlockConstants(),
			Accounts:      make(map[common.Address]tracer.Account),
		},
	}
	ctx.cfg.Accounts[Sender] = tracer.Account{Address: Sender, Balance: hexBig(SenderBalance)}
	return ctx
}

// DeployContract places code at addr, keeping any balance or storage already set.
func (t *TestContext) DeployContract(addr common.Address, code []byte) *TestContext {
	acc := t.cfg.Accounts[addr]
	acc.Address = addr
	acc.Code = code
	t.cfg.Accounts[addr] = acc
	return t
}

func (t *TestContext) SetBalance(addr common.Address, balance *big.Int) *TestContext {
	acc := t.cfg.Accounts[addr]
	acc.Address = addr
	acc.Balance = hexBig(balance)
	t.cfg.Accounts[addr] = acc
	return t
}

func (t *TestContext) SetStorage(addr common.Address, key, value common.Hash) *TestContext {
	acc := t.cfg.Accounts[addr]
	acc.Address = addr
	if acc.Storage == nil {
		acc.Storage = make(map[common.Hash]common.Hash)
	}
	acc.Storage[key] = value
	t.cfg.Accounts[addr] = acc
	return t
}

// AddCall appends a legacy transaction from Sender to to. The nonce follows the previous
// transactions of the context.
func (t *TestContext) AddCall(to common.Address, callData []byte) *TestContext {
	return t.AddTransaction(&to, callData, big.NewInt(0))
}

// AddCreate appends a contract creation running initCode.
func (t *TestContext) AddCreate(initCode []byte) *TestContext {
	return t.AddTransaction(nil, initCode, big.NewInt(0))
}

func (t *TestContext) AddTransaction(to *common.Address, data []byte, value *big.Int) *TestContext {
	t.cfg.Transactions = append(t.cfg.Transactions, tracer.Transaction{
		From:     Sender,
		To:       to,
		Nonce:    hexutil.Uint64(len(t.cfg.Transactions)),
		Value:    hexBig(value),
		GasLimit: TxGas,
		GasPrice: hexInt(GasPrice),
		CallData: data,
	})
	return t
}

// WithCallData replaces the calldata of the last transaction.
func (t *TestContext) WithCallData(data []byte) *TestContext {
	t.lastTx().CallData = data
	return t
}

// WithValue replaces the value of the last transaction.
func (t *TestContext) WithValue(value *big.Int) *TestContext {
	t.lastTx().Value = hexBig(value)
	return t
}

// WithGas replaces the gas limit of the last transaction.
func (t *TestContext) WithGas(gas uint64) *TestContext {
	t.lastTx().GasLimit = hexutil.Uint64(gas)
	return t
}

func (t *TestContext) lastTx() *tracer.Transaction {
	return &t.cfg.Transactions[len(t.cfg.Transactions)-1]
}

// Config returns the assembled configuration.
func (t *TestContext) Config() *tracer.TraceConfig {
	return &t.cfg
}

// Trace runs the configuration on go-ethereum.
func (t *TestContext) Trace() ([]*tracer.GethExecTrace, error) {
	return tracer.Trace(&t.cfg)
}
