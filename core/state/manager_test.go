package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"xficredit/crypto"
	"xficredit/storage"
)

type sampleRecord struct {
	ID     uint64
	Owner  crypto.Address
	Token  string
	Amount *big.Int
	Done   bool
}

func TestManagerKVRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	owner := crypto.BytesToAddress([]byte{0xAB})
	rec := sampleRecord{ID: 9, Owner: owner, Token: "XFI", Amount: big.NewInt(1234), Done: true}
	require.NoError(t, m.KVPut(YieldPositionKey(9), rec))

	var out sampleRecord
	ok, err := m.KVGet(YieldPositionKey(9), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Owner, out.Owner)
	require.Equal(t, 0, rec.Amount.Cmp(out.Amount))
	require.True(t, out.Done)

	ok, err = m.KVGet(YieldPositionKey(10), &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.KVDelete(YieldPositionKey(9)))
	ok, err = m.KVGet(YieldPositionKey(9), nil)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = m.KVGet(nil, &out)
	require.Error(t, err)
}

func TestBatchCommitAndIterate(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	owner := crypto.BytesToAddress([]byte{0x01})
	batch := m.NewBatch()
	for id := uint64(1); id <= 3; id++ {
		batch.Put(YieldPositionKey(id), sampleRecord{ID: id, Owner: owner, Token: "XFI", Amount: big.NewInt(int64(id))})
		batch.Put(YieldOwnerIndexKey(owner, id), []byte{})
	}
	batch.Put(LoanKey(1), sampleRecord{ID: 1, Amount: big.NewInt(5)})
	require.Equal(t, 7, batch.Len())
	require.NoError(t, batch.Commit())

	var ids []uint64
	require.NoError(t, m.KVIterate(YieldPositionPrefix, func(key []byte, decode func(interface{}) error) error {
		var rec sampleRecord
		if err := decode(&rec); err != nil {
			return err
		}
		id, ok := TrailingID(key)
		require.True(t, ok)
		require.Equal(t, rec.ID, id)
		ids = append(ids, id)
		return nil
	}))
	require.Equal(t, []uint64{1, 2, 3}, ids)

	var indexed int
	require.NoError(t, m.KVIterate(YieldOwnerIndexPrefix(owner), func(key []byte, _ func(interface{}) error) error {
		indexed++
		return nil
	}))
	require.Equal(t, 3, indexed)
}

func TestBatchReportsEncodingFailure(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	batch := m.NewBatch()
	// RLP cannot encode signed integers.
	batch.Put([]byte("bad"), int64(-1))
	batch.Put([]byte("good"), uint64(1))
	require.Error(t, batch.Commit())

	ok, err := m.KVGet([]byte("good"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKeyHelpers(t *testing.T) {
	owner := crypto.BytesToAddress([]byte{0x02})
	key := YieldPendingKey(owner, "USDC")
	suffix := Suffix(key, YieldPendingPrefix)
	require.Equal(t, owner[:], suffix[:crypto.AddressLength])
	require.Equal(t, "USDC", string(suffix[crypto.AddressLength:]))

	id, ok := TrailingID(LoanUserIndexKey(owner, 42))
	require.True(t, ok)
	require.Equal(t, uint64(42), id)

	_, ok = TrailingID([]byte("x"))
	require.False(t, ok)
}
