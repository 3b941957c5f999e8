package state

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"spotchain/crypto"
	"spotchain/native/lending"
	"spotchain/native/pool"
	"spotchain/native/stream"
	"spotchain/storage"
)

func addr(b byte) crypto.Address {
	return crypto.BytesToAddress([]byte{b})
}

func TestSnapshotRevertRestoresOverlay(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	asset, holder := addr(1), addr(2)

	require.NoError(t, mgr.PutTokenBalance(asset, holder, big.NewInt(10)))
	snap := mgr.Snapshot()
	require.NoError(t, mgr.PutTokenBalance(asset, holder, big.NewInt(25)))
	require.NoError(t, mgr.PutTokenBalance(asset, addr(3), big.NewInt(5)))

	mgr.RevertToSnapshot(snap)

	bal, err := mgr.TokenBalance(asset, holder)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal.Int64())
	other, err := mgr.TokenBalance(asset, addr(3))
	require.NoError(t, err)
	require.Zero(t, other.Sign())
}

func TestNestedSnapshots(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := []byte("counter")

	require.NoError(t, mgr.KVPut(key, uint64(1)))
	outer := mgr.Snapshot()
	require.NoError(t, mgr.KVPut(key, uint64(2)))
	inner := mgr.Snapshot()
	require.NoError(t, mgr.KVPut(key, uint64(3)))

	mgr.RevertToSnapshot(inner)
	var got uint64
	ok, err := mgr.KVGet(key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), got)

	mgr.RevertToSnapshot(outer)
	_, err = mgr.KVGet(key, &got)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got)

	require.NoError(t, mgr.KVDelete(key))
	ok, err = mgr.KVGet(key, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommitPersistsThroughLevelDB(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	mgr := NewManager(db)
	key := [32]byte{7}
	line := &lending.CreditLine{
		Lender:          addr(1),
		Borrower:        addr(2),
		Asset:           addr(3),
		TotalBorrowed:   big.NewInt(400),
		Outstanding:     big.NewInt(300),
		Allowable:       big.NewInt(1_000),
		InterestRate:    100,
		LastAccrual:     1_700_000_000,
		InterestAccrued: big.NewInt(12),
	}
	require.NoError(t, mgr.PutCreditLine(key, line))
	require.NoError(t, mgr.AppendLenderLine(line.Lender, key))
	require.NoError(t, mgr.AppendLenderLine(line.Lender, key))
	require.Equal(t, 2, mgr.Pending())
	require.NoError(t, mgr.Commit())
	require.Zero(t, mgr.Pending())
	require.NoError(t, db.Close())

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	reopened := NewManager(db)

	loaded, ok, err := reopened.CreditLine(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, line, loaded)

	keys, err := reopened.LenderLines(line.Lender)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{key}, keys)
}

func TestStreamAndPoolRecordsRoundTripThroughBolt(t *testing.T) {
	db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()
	mgr := NewManager(db)

	s := &stream.Stream{
		Streamer:      addr(1),
		Recipient:     addr(2),
		Asset:         addr(3),
		TotalStreamed: big.NewInt(0),
		Outstanding:   big.NewInt(900),
		Allowable:     big.NewInt(1_000),
		Window:        3_600,
		Timestamp:     42,
		Once:          true,
	}
	key := [32]byte{1}
	require.NoError(t, mgr.PutStream(key, s))

	p := &pool.Pool{
		ID:                           [32]byte{9},
		Asset:                        addr(3),
		Borrower:                     addr(4),
		Custody:                      pool.CustodyAddress([32]byte{9}),
		Goal:                         big.NewInt(5_000),
		InterestRateBps:              1_200,
		Mode:                         pool.ModeSeparate,
		AssetDecimals:                6,
		CreatedAt:                    10,
		TotalFunded:                  big.NewInt(5_000),
		TotalDrawnDown:               big.NewInt(4_000),
		LifetimeDrawn:                big.NewInt(4_000),
		RepaymentsOfPrincipal:        big.NewInt(100),
		InterestRepaymentsCumulative: big.NewInt(17),
		AccruedInterest:              big.NewInt(3),
		TotalRedeemedPrincipal:       big.NewInt(0),
		TotalSupply:                  new(big.Int).Mul(big.NewInt(5_000), big.NewInt(1_000_000_000_000)),
		LastAccrual:                  99,
	}
	require.NoError(t, mgr.PutPool(p))
	require.NoError(t, mgr.Commit())

	gotStream, ok, err := mgr.Stream(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, s, gotStream)

	gotPool, ok, err := mgr.Pool(p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p, gotPool)
}

func TestRegisterHolderIsIdempotent(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	id := [32]byte{5}

	added, err := mgr.RegisterHolder(id, addr(1))
	require.NoError(t, err)
	require.True(t, added)
	added, err = mgr.RegisterHolder(id, addr(1))
	require.NoError(t, err)
	require.False(t, added)
	_, err = mgr.RegisterHolder(id, addr(2))
	require.NoError(t, err)

	holders, err := mgr.PoolHolders(id)
	require.NoError(t, err)
	require.Equal(t, []crypto.Address{addr(1), addr(2)}, holders)

	pools, err := mgr.HolderPools(addr(1))
	require.NoError(t, err)
	require.Equal(t, [][32]byte{id}, pools)
}

func TestZeroBalanceDeletesKey(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	require.NoError(t, mgr.PutTokenBalance(addr(1), addr(2), big.NewInt(3)))
	require.NoError(t, mgr.Commit())
	require.Equal(t, 1, db.Len())

	require.NoError(t, mgr.PutTokenBalance(addr(1), addr(2), big.NewInt(0)))
	require.NoError(t, mgr.Commit())
	require.Zero(t, db.Len())
	require.Error(t, mgr.PutTokenBalance(addr(1), addr(2), big.NewInt(-1)))
}
