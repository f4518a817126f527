package builder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"zkevm-bus-mapping/operation"
	"zkevm-bus-mapping/statedb"
	"zkevm-bus-mapping/tracer"
)

// Config bounds the circuits the block is built for. Zero means unbounded.
type Config struct {
	MaxRws      int
	MaxCopyRows int
}

func DefaultConfig() Config {
	return Config{}
}

// BlockContext holds the constants of the block being built.
type BlockContext struct {
	ChainID       uint256.Int
	Coinbase      common.Address
	GasLimit      uint64
	Number        uint256.Int
	Timestamp     uint256.Int
	Difficulty    uint256.Int
	BaseFee       uint256.Int
	HistoryHashes []common.Hash
}

// Transaction is a transaction of the block with the steps and calls it produced.
type Transaction struct {
	ID       int
	From     common.Address
	To       *common.Address
	Nonce    uint64
	Gas      uint64
	GasPrice uint256.Int
	Value    uint256.Int
	Input    []byte

	Steps       []ExecStep
	Calls       []*Call
	Failed      bool
	GasUsed     uint64
	ReturnValue []byte
}

// IsCreate reports whether the transaction deploys a contract.
func (tx *Transaction) IsCreate() bool {
	return tx.To == nil
}

// CallByID returns the call with the given id or nil.
func (tx *Transaction) CallByID(id int) *Call {
	for _, call := range tx.Calls {
		if call.CallID == id {
			return call
		}
	}
	return nil
}

// Block is the output of the builder: every transaction with its steps, every operation of
// the block, the copy events and the exponentiation events.
type Block struct {
	Context           BlockContext
	Txs               []*Transaction
	Container         *operation.OperationContainer
	Rwc               operation.RWCounter
	CopyEvents        []*CopyEvent
	ExpEvents         []*ExpEvent
	Sha3Inputs        [][]byte
	Code              statedb.CodeDB
	CumulativeGasUsed uint64
	Config            Config

	codeMasks *lru.Cache[common.Hash, []bool]
}

const codeMaskCacheSize = 256

func NewBlock(ctx BlockContext, code statedb.CodeDB, cfg Config) *Block {
	masks, _ := lru.New[common.Hash, []bool](codeMaskCacheSize)
	return &Block{
		Context:   ctx,
		Container: operation.NewOperationContainer(),
		Rwc:       1,
		Code:      code,
		Config:    cfg,
		codeMasks: masks,
	}
}

// codeMask returns the opcode mask of the code stored under hash.
func (b *Block) codeMask(hash common.Hash, code []byte) []bool {
	if mask, ok := b.codeMasks.Get(hash); ok {
		return mask
	}
	mask := codeBytesMask(code)
	b.codeMasks.Add(hash, mask)
	return mask
}

// CopyEventsSortedByKey returns the copy events ordered by endpoint ids.
func (b *Block) CopyEventsSortedByKey() []*CopyEvent {
	return CopyEventsSortedByKey(b.CopyEvents)
}

// CopyRows is the number of copy circuit rows the block needs.
func (b *Block) CopyRows() int {
	n := 0
	for _, event := range b.CopyEvents {
		n += len(event.Steps)
	}
	return n
}

// =============================================================================
// CIRCUIT INPUT BUILDER
// =============================================================================

// CircuitInputBuilder folds transaction traces into a Block. It is strictly sequential.
type CircuitInputBuilder struct {
	sdb   *statedb.StateDB
	code  statedb.CodeDB
	block *Block
}

func NewCircuitInputBuilder(sdb *statedb.StateDB, code statedb.CodeDB, block *Block) *CircuitInputBuilder {
	return &CircuitInputBuilder{
		sdb:   sdb,
		code:  code,
		block: block,
	}
}

func (b *CircuitInputBuilder) Block() *Block {
	return b.block
}

func (b *CircuitInputBuilder) StateDB() *statedb.StateDB {
	return b.sdb
}

func (b *CircuitInputBuilder) stateRef(tx *Transaction, txCtx *TxContext) *CircuitInputStateRef {
	return &CircuitInputStateRef{
		sdb:       b.sdb,
		code:      b.code,
		block:     b.block,
		container: b.block.Container,
		rwc:       &b.block.Rwc,
		tx:        tx,
		txCtx:     txCtx,
	}
}

// HandleTx builds the steps of one transaction: BeginTx, one step per trace step, EndTx.
func (b *CircuitInputBuilder) HandleTx(tx *Transaction, trace *tracer.GethExecTrace, isLastTx bool) error {
	txCtx := NewTxContext(tx.ID, isLastTx)
	s := b.stateRef(tx, txCtx)
	b.sdb.BeginTx()

	tx.Failed = trace.Failed
	tx.GasUsed = trace.Gas
	tx.ReturnValue = trace.ReturnValue

	begin, err := s.genBeginTxOps(trace)
	if err != nil {
		return NewBusMappingError(fmt.Sprintf("failed to begin tx %d", tx.ID), err)
	}
	tx.Steps = append(tx.Steps, begin)

	for i := range trace.StructLogs {
		steps := trace.StructLogs[i:]
		execSteps, err := s.genAssociatedOps(steps)
		if err != nil {
			return NewBusMappingError(fmt.Sprintf("failed to handle tx %d step %d (%s at pc %d)", tx.ID, i, steps[0].Op, steps[0].Pc), err)
		}
		tx.Steps = append(tx.Steps, execSteps...)
	}
	if txCtx.Depth() != 0 {
		return NewBusMappingError(fmt.Sprintf("tx %d ended with %d open calls", tx.ID, txCtx.Depth()), ErrMalformedTrace)
	}

	end, err := s.genEndTxOps(trace)
	if err != nil {
		return NewBusMappingError(fmt.Sprintf("failed to end tx %d", tx.ID), err)
	}
	tx.Steps = append(tx.Steps, end)

	if err := s.fixupEndOfReversion(); err != nil {
		return err
	}
	b.block.Txs = append(b.block.Txs, tx)

	log.Debug("Handled transaction", "id", tx.ID, "steps", len(tx.Steps), "calls", len(tx.Calls), "failed", tx.Failed, "rwc", b.block.Rwc)
	return nil
}

// =============================================================================
// BEGIN / END TX
// =============================================================================

func (s *CircuitInputStateRef) genBeginTxOps(trace *tracer.GethExecTrace) (ExecStep, error) {
	tx := s.tx
	step := ExecStep{
		ExecState: ExecStateBeginTx,
		GasLeft:   tx.Gas,
		Rwc:       *s.rwc,
		LogID:     s.txCtx.LogID,
	}

	callee, codeHash := s.rootCallee()
	call := &Call{
		CallID:        int(*s.rwc),
		Index:         0,
		Kind:          CallKindCall,
		IsRoot:        true,
		IsCreate:      tx.IsCreate(),
		IsSuccess:     !trace.Failed,
		IsPersistent:  !trace.Failed,
		CallerAddress: tx.From,
		Address:       callee,
		CodeAddress:   callee,
		CodeHash:      codeHash,
		Depth:         1,
		Value:         tx.Value,
	}
	callData := tx.Input
	if call.IsCreate {
		call.Kind = CallKindCreate
		callData = nil
	} else {
		call.CallDataLength = uint64(len(tx.Input))
	}
	if err := s.pushCall(call, callData); err != nil {
		return step, err
	}

	s.CallContextRead(&step, call.CallID, operation.TxId, intWord(tx.ID))
	s.CallContextRead(&step, call.CallID, operation.RwCounterEndOfReversion, u64Word(0))
	s.CallContextRead(&step, call.CallID, operation.IsPersistent, boolWord(call.IsPersistent))
	s.CallContextRead(&step, call.CallID, operation.IsSuccess, boolWord(call.IsSuccess))

	nonce := s.sdb.GetNonce(tx.From)
	if nonce != tx.Nonce {
		log.Warn("Transaction nonce differs from state", "tx", tx.ID, "nonce", tx.Nonce, "state", nonce)
	}
	if err := s.AccountWrite(&step, tx.From, operation.AccountNonce, u64Word(nonce+1), u64Word(nonce)); err != nil {
		return step, err
	}

	for _, addr := range vm.PrecompiledAddressesCancun {
		s.TxAccessListWrite(&step, addr)
	}
	s.TxAccessListWrite(&step, tx.From)
	s.TxAccessListWrite(&step, callee)
	s.TxAccessListWrite(&step, s.block.Context.Coinbase)

	fee := new(uint256.Int).Mul(u64Word(tx.Gas), &tx.GasPrice)
	balance := s.sdb.GetBalance(tx.From)
	if balance.Lt(fee) {
		return step, NewBusMappingError(fmt.Sprintf("sender %s can not pay the fee", tx.From), ErrMalformedTrace)
	}
	if err := s.AccountWrite(&step, tx.From, operation.AccountBalance, new(uint256.Int).Sub(&balance, fee), &balance); err != nil {
		return step, err
	}

	if call.IsCreate {
		if _, err := s.PushOpReversible(&step, operation.AccountOp{
			Address:   callee,
			Field:     operation.AccountNonce,
			Value:     *u64Word(1),
			ValuePrev: *u64Word(s.sdb.GetNonce(callee)),
		}); err != nil {
			return step, err
		}
	}
	if !tx.Value.IsZero() {
		if err := s.transfer(&step, tx.From, callee, &tx.Value); err != nil {
			return step, err
		}
	}
	if !call.IsCreate {
		s.AccountRead(&step, callee, operation.AccountCodeHash, hashWord(s.sdb.GetCodeHash(callee)))
	}

	for _, f := range []struct {
		field operation.CallContextField
		value *uint256.Int
	}{
		{operation.Depth, intWord(call.Depth)},
		{operation.CallerAddress, addressWord(call.CallerAddress)},
		{operation.CalleeAddress, addressWord(call.Address)},
		{operation.CallDataOffset, u64Word(call.CallDataOffset)},
		{operation.CallDataLength, u64Word(call.CallDataLength)},
		{operation.Value, &call.Value},
		{operation.IsStatic, boolWord(call.IsStatic)},
		{operation.LastCalleeId, u64Word(0)},
		{operation.LastCalleeReturnDataOffset, u64Word(0)},
		{operation.LastCalleeReturnDataLength, u64Word(0)},
		{operation.IsRoot, boolWord(true)},
		{operation.IsCreate, boolWord(call.IsCreate)},
		{operation.CodeHash, hashWord(call.CodeHash)},
	} {
		s.CallContextRead(&step, call.CallID, f.field, f.value)
	}

	// A call to an account without code or to a precompile has no steps to return from.
	if len(trace.StructLogs) == 0 {
		if err := s.handleReturn(&step); err != nil {
			return step, err
		}
	}
	return step, nil
}

// rootCallee is the address the transaction executes at and the hash of the code it runs.
func (s *CircuitInputStateRef) rootCallee() (common.Address, common.Hash) {
	tx := s.tx
	if tx.IsCreate() {
		return crypto.CreateAddress(tx.From, tx.Nonce), s.code.Insert(tx.Input)
	}
	hash := s.sdb.GetCodeHash(*tx.To)
	if hash == (common.Hash{}) {
		hash = types.EmptyCodeHash
	}
	return *tx.To, hash
}

func (s *CircuitInputStateRef) genEndTxOps(trace *tracer.GethExecTrace) (ExecStep, error) {
	tx := s.tx
	root := tx.Calls[0]
	step := ExecStep{
		ExecState: ExecStateEndTx,
		GasLeft:   tx.Gas - trace.Gas,
		GasRefund: s.sdb.Refund(),
		Rwc:       *s.rwc,
		LogID:     s.txCtx.LogID,
	}

	s.CallContextRead(&step, root.CallID, operation.TxId, intWord(tx.ID))
	s.CallContextRead(&step, root.CallID, operation.IsPersistent, boolWord(root.IsPersistent))

	refund := s.sdb.Refund()
	s.PushOp(&step, operation.READ, operation.TxRefundOp{TxID: tx.ID, Value: refund, ValuePrev: refund})

	gasLeft := new(uint256.Int).Mul(u64Word(tx.Gas-trace.Gas), &tx.GasPrice)
	balance := s.sdb.GetBalance(tx.From)
	if err := s.AccountWrite(&step, tx.From, operation.AccountBalance, new(uint256.Int).Add(&balance, gasLeft), &balance); err != nil {
		return step, err
	}

	tip := new(uint256.Int)
	if tx.GasPrice.Gt(&s.block.Context.BaseFee) {
		tip.Sub(&tx.GasPrice, &s.block.Context.BaseFee)
	}
	reward := new(uint256.Int).Mul(u64Word(trace.Gas), tip)
	coinbase := s.block.Context.Coinbase
	coinbaseBalance := s.sdb.GetBalance(coinbase)
	if err := s.AccountWrite(&step, coinbase, operation.AccountBalance, new(uint256.Int).Add(&coinbaseBalance, reward), &coinbaseBalance); err != nil {
		return step, err
	}

	s.block.CumulativeGasUsed += trace.Gas
	s.TxReceiptWrite(&step, operation.ReceiptPostStateOrStatus, boolToUint64(!trace.Failed))
	s.TxReceiptWrite(&step, operation.ReceiptCumulativeGasUsed, s.block.CumulativeGasUsed)
	s.TxReceiptWrite(&step, operation.ReceiptLogLength, uint64(s.txCtx.LogID))
	return step, nil
}

func boolToUint64(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// =============================================================================
// BLOCK CONSTRUCTION
// =============================================================================

// NewStateFromConfig loads the pre-state accounts of cfg into a state model and code db.
func NewStateFromConfig(cfg *tracer.TraceConfig) (*statedb.StateDB, statedb.CodeDB) {
	sdb := statedb.NewStateDB()
	code := statedb.NewCodeDB()
	for addr, acc := range cfg.Accounts {
		codeHash := code.Insert(acc.Code)
		storage := make(map[common.Hash]uint256.Int, len(acc.Storage))
		for k, v := range acc.Storage {
			storage[k] = *hashWord(v)
		}
		sdb.SetAccount(addr, uint64(acc.Nonce), tracer.U256OrZero(acc.Balance), codeHash, storage)
	}
	return sdb, code
}

// NewBlockContext reads the block constants of cfg.
func NewBlockContext(cfg *tracer.TraceConfig) BlockContext {
	return BlockContext{
		ChainID:       *tracer.U256OrZero(cfg.ChainID),
		Coinbase:      cfg.Block.Coinbase,
		GasLimit:      tracer.BigOrZero(cfg.Block.GasLimit).Uint64(),
		Number:        *tracer.U256OrZero(cfg.Block.Number),
		Timestamp:     *tracer.U256OrZero(cfg.Block.Timestamp),
		Difficulty:    *tracer.U256OrZero(cfg.Block.Difficulty),
		BaseFee:       *tracer.U256OrZero(cfg.Block.BaseFee),
		HistoryHashes: cfg.HistoryHashes,
	}
}

// NewTransactions converts the transactions of cfg, numbering them from 1.
func NewTransactions(cfg *tracer.TraceConfig) []*Transaction {
	baseFee := tracer.BigOrZero(cfg.Block.BaseFee)
	txs := make([]*Transaction, len(cfg.Transactions))
	for i := range cfg.Transactions {
		src := &cfg.Transactions[i]
		price, _ := uint256.FromBig(src.EffectiveGasPrice(baseFee))
		txs[i] = &Transaction{
			ID:       i + 1,
			From:     src.From,
			To:       src.To,
			Nonce:    uint64(src.Nonce),
			Gas:      uint64(src.GasLimit),
			GasPrice: *price,
			Value:    *tracer.U256OrZero(src.Value),
			Input:    src.CallData,
		}
	}
	return txs
}

// BuildBlock folds the traces of every transaction of cfg into a Block.
func BuildBlock(cfg *tracer.TraceConfig, traces []*tracer.GethExecTrace, bcfg Config) (*Block, error) {
	if len(traces) != len(cfg.Transactions) {
		return nil, NewBusMappingError(fmt.Sprintf("%d traces for %d transactions", len(traces), len(cfg.Transactions)), ErrMalformedTrace)
	}
	sdb, code := NewStateFromConfig(cfg)
	block := NewBlock(NewBlockContext(cfg), code, bcfg)
	b := NewCircuitInputBuilder(sdb, code, block)

	txs := NewTransactions(cfg)
	for i, tx := range txs {
		if err := b.HandleTx(tx, traces[i], i == len(txs)-1); err != nil {
			return nil, err
		}
	}
	// the rw table needs one row per counter plus the Start row
	if bcfg.MaxRws > 0 && int(block.Rwc) > bcfg.MaxRws {
		return nil, NewBusMappingError(fmt.Sprintf("rw rows %d exceed %d", int(block.Rwc), bcfg.MaxRws), ErrMalformedTrace)
	}
	if bcfg.MaxCopyRows > 0 && block.CopyRows() > bcfg.MaxCopyRows {
		return nil, NewBusMappingError(fmt.Sprintf("copy rows %d exceed %d", block.CopyRows(), bcfg.MaxCopyRows), ErrMalformedTrace)
	}
	return block, nil
}

// TraceAndBuild runs the tracer on cfg and builds the block from its traces.
func TraceAndBuild(cfg *tracer.TraceConfig, bcfg Config) (*Block, error) {
	traces, err := tracer.Trace(cfg)
	if err != nil {
		return nil, err
	}
	return BuildBlock(cfg, traces, bcfg)
}
