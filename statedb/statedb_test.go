package statedb

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	addrB = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	slot  = common.HexToHash("0x01")
)

func TestMissingAccountReadsEmpty(t *testing.T) {
	sdb := NewStateDB()
	found, acc := sdb.GetAccount(addrA)
	assert.False(t, found)
	assert.True(t, acc.IsEmpty())
	assert.Equal(t, common.Hash{}, sdb.GetCodeHash(addrA))
	balance := sdb.GetBalance(addrA)
	assert.True(t, balance.IsZero())

	sdb.SetNonce(addrA, 1)
	found, _ = sdb.GetAccount(addrA)
	assert.True(t, found)
	assert.Equal(t, types.EmptyCodeHash, sdb.GetCodeHash(addrA))
}

func TestSetAccountCopiesStorage(t *testing.T) {
	storage := map[common.Hash]uint256.Int{slot: *uint256.NewInt(3)}
	sdb := NewStateDB()
	sdb.SetAccount(addrA, 2, uint256.NewInt(50), types.EmptyCodeHash, storage)
	storage[slot] = *uint256.NewInt(4)

	v := sdb.GetStorage(addrA, slot)
	assert.Equal(t, uint64(3), v.Uint64())
	assert.Equal(t, uint64(2), sdb.GetNonce(addrA))
	b := sdb.GetBalance(addrA)
	assert.Equal(t, uint64(50), b.Uint64())
}

func TestCommittedStorage(t *testing.T) {
	sdb := NewStateDB()
	sdb.SetAccount(addrA, 0, nil, types.EmptyCodeHash, map[common.Hash]uint256.Int{slot: *uint256.NewInt(3)})
	sdb.BeginTx()

	sdb.SetStorage(addrA, slot, uint256.NewInt(7))
	sdb.SetStorage(addrA, slot, uint256.NewInt(8))
	committed := sdb.GetCommittedStorage(addrA, slot)
	current := sdb.GetStorage(addrA, slot)
	assert.Equal(t, uint64(3), committed.Uint64())
	assert.Equal(t, uint64(8), current.Uint64())

	sdb.BeginTx()
	committed = sdb.GetCommittedStorage(addrA, slot)
	assert.Equal(t, uint64(8), committed.Uint64())
}

func TestAccessListIsPerTransaction(t *testing.T) {
	sdb := NewStateDB()
	sdb.BeginTx()

	assert.False(t, sdb.SetAccountWarm(addrA, true))
	assert.True(t, sdb.SetAccountWarm(addrA, true))
	assert.False(t, sdb.CheckAccountInAccessList(addrB))

	assert.False(t, sdb.SetStorageWarm(addrA, slot, true))
	assert.True(t, sdb.CheckStorageInAccessList(addrA, slot))
	assert.True(t, sdb.SetStorageWarm(addrA, slot, false))
	assert.False(t, sdb.CheckStorageInAccessList(addrA, slot))

	sdb.SetRefund(4800)
	sdb.BeginTx()
	assert.False(t, sdb.CheckAccountInAccessList(addrA))
	assert.Zero(t, sdb.Refund())
}

func TestCodeDB(t *testing.T) {
	db := NewCodeDB()
	code, ok := db.Get(types.EmptyCodeHash)
	require.True(t, ok)
	assert.Empty(t, code)

	program := []byte{0x60, 0x01, 0x00}
	hash := db.Insert(program)
	assert.Equal(t, crypto.Keccak256Hash(program), hash)
	code, ok = db.Get(hash)
	require.True(t, ok)
	assert.Equal(t, program, code)

	_, ok = db.Get(common.HexToHash("0xdead"))
	assert.False(t, ok)
}
