package statedb

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type Account struct {
	Nonce    uint64
	Balance  uint256.Int
	CodeHash common.Hash
	Storage  map[common.Hash]uint256.Int
}

func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && (a.CodeHash == types.EmptyCodeHash || a.CodeHash == common.Hash{})
}

// StateDB is the state model replayed next to a trace. It only sees what the opcode
// handlers write into it, so every value_prev of a write comes from here.
type StateDB struct {
	accounts map[common.Address]*Account

	// per transaction
	committed      map[common.Address]map[common.Hash]uint256.Int
	accessAccounts mapset.Set[common.Address]
	accessSlots    map[common.Address]mapset.Set[common.Hash]
	refund         uint64
}

func NewStateDB() *StateDB {
	return &StateDB{
		accounts:       make(map[common.Address]*Account),
		committed:      make(map[common.Address]map[common.Hash]uint256.Int),
		accessAccounts: mapset.NewThreadUnsafeSet[common.Address](),
		accessSlots:    make(map[common.Address]mapset.Set[common.Hash]),
	}
}

// SetAccount installs a pre-state account. Storage is copied.
func (s *StateDB) SetAccount(addr common.Address, nonce uint64, balance *uint256.Int, codeHash common.Hash, storage map[common.Hash]uint256.Int) {
	acc := &Account{
		Nonce:    nonce,
		CodeHash: codeHash,
		Storage:  make(map[common.Hash]uint256.Int, len(storage)),
	}
	if balance != nil {
		acc.Balance = *balance
	}
	for k, v := range storage {
		acc.Storage[k] = v
	}
	s.accounts[addr] = acc
}

// GetAccount returns the account and whether it exists. Missing accounts read as empty.
func (s *StateDB) GetAccount(addr common.Address) (bool, *Account) {
	if acc, ok := s.accounts[addr]; ok {
		return true, acc
	}
	return false, &Account{CodeHash: common.Hash{}}
}

func (s *StateDB) getOrCreate(addr common.Address) *Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = &Account{CodeHash: types.EmptyCodeHash, Storage: make(map[common.Hash]uint256.Int)}
		s.accounts[addr] = acc
	}
	return acc
}

func (s *StateDB) GetBalance(addr common.Address) uint256.Int {
	_, acc := s.GetAccount(addr)
	return acc.Balance
}

func (s *StateDB) SetBalance(addr common.Address, balance *uint256.Int) {
	s.getOrCreate(addr).Balance = *balance
}

func (s *StateDB) GetNonce(addr common.Address) uint64 {
	_, acc := s.GetAccount(addr)
	return acc.Nonce
}

func (s *StateDB) SetNonce(addr common.Address, nonce uint64) {
	s.getOrCreate(addr).Nonce = nonce
}

// GetCodeHash returns the empty code hash for existing accounts without code and the zero
// hash for accounts that do not exist.
func (s *StateDB) GetCodeHash(addr common.Address) common.Hash {
	_, acc := s.GetAccount(addr)
	return acc.CodeHash
}

func (s *StateDB) SetCodeHash(addr common.Address, hash common.Hash) {
	s.getOrCreate(addr).CodeHash = hash
}

func (s *StateDB) GetStorage(addr common.Address, key common.Hash) uint256.Int {
	_, acc := s.GetAccount(addr)
	return acc.Storage[key]
}

// GetCommittedStorage returns the value the slot had when the current transaction began.
func (s *StateDB) GetCommittedStorage(addr common.Address, key common.Hash) uint256.Int {
	if slots, ok := s.committed[addr]; ok {
		if v, ok := slots[key]; ok {
			return v
		}
	}
	return s.GetStorage(addr, key)
}

func (s *StateDB) SetStorage(addr common.Address, key common.Hash, value *uint256.Int) {
	if _, ok := s.committed[addr]; !ok {
		s.committed[addr] = make(map[common.Hash]uint256.Int)
	}
	if _, ok := s.committed[addr][key]; !ok {
		s.committed[addr][key] = s.GetStorage(addr, key)
	}
	acc := s.getOrCreate(addr)
	if acc.Storage == nil {
		acc.Storage = make(map[common.Hash]uint256.Int)
	}
	acc.Storage[key] = *value
}

// =============================================================================
// TRANSACTION SCOPED STATE
// =============================================================================

// BeginTx clears the access list, the refund counter and the committed storage snapshot.
func (s *StateDB) BeginTx() {
	s.committed = make(map[common.Address]map[common.Hash]uint256.Int)
	s.accessAccounts = mapset.NewThreadUnsafeSet[common.Address]()
	s.accessSlots = make(map[common.Address]mapset.Set[common.Hash])
	s.refund = 0
}

func (s *StateDB) CheckAccountInAccessList(addr common.Address) bool {
	return s.accessAccounts.Contains(addr)
}

// SetAccountWarm updates the access list and returns whether the account was already warm.
func (s *StateDB) SetAccountWarm(addr common.Address, warm bool) bool {
	prev := s.CheckAccountInAccessList(addr)
	if warm {
		s.accessAccounts.Add(addr)
	} else {
		s.accessAccounts.Remove(addr)
	}
	return prev
}

func (s *StateDB) CheckStorageInAccessList(addr common.Address, key common.Hash) bool {
	if slots, ok := s.accessSlots[addr]; ok {
		return slots.Contains(key)
	}
	return false
}

// SetStorageWarm updates the access list and returns whether the slot was already warm.
func (s *StateDB) SetStorageWarm(addr common.Address, key common.Hash, warm bool) bool {
	prev := s.CheckStorageInAccessList(addr, key)
	if warm {
		if _, ok := s.accessSlots[addr]; !ok {
			s.accessSlots[addr] = mapset.NewThreadUnsafeSet[common.Hash]()
		}
		s.accessSlots[addr].Add(key)
	} else if slots, ok := s.accessSlots[addr]; ok {
		slots.Remove(key)
	}
	return prev
}

func (s *StateDB) Refund() uint64 {
	return s.refund
}

func (s *StateDB) SetRefund(refund uint64) {
	s.refund = refund
}

// =============================================================================
// CODE DB
// =============================================================================

// CodeDB maps code hashes to bytecode.
type CodeDB map[common.Hash][]byte

func NewCodeDB() CodeDB {
	return CodeDB{types.EmptyCodeHash: nil}
}

// Insert stores code and returns its keccak hash.
func (db CodeDB) Insert(code []byte) common.Hash {
	hash := crypto.Keccak256Hash(code)
	db[hash] = code
	return hash
}

func (db CodeDB) Get(hash common.Hash) ([]byte, bool) {
	code, ok := db[hash]
	return code, ok
}
