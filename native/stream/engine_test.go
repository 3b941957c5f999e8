package stream_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"spotchain/core/events"
	"spotchain/core/state"
	"spotchain/crypto"
	"spotchain/native/fees"
	"spotchain/native/stream"
	"spotchain/native/token"
	"spotchain/storage"
)

type harness struct {
	engine   *stream.Engine
	ledger   *token.Ledger
	recorder *events.Recorder
	clock    int64
	module   crypto.Address
	asset    crypto.Address
	sink     crypto.Address
	admin    crypto.Address
}

func addr(b byte) crypto.Address {
	return crypto.BytesToAddress([]byte{0x51, b})
}

func newHarness(t *testing.T, feeBps uint64) *harness {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	h := &harness{
		ledger:   token.NewLedger(mgr),
		recorder: &events.Recorder{},
		clock:    1_700_000_000,
		module:   addr(0xEE),
		asset:    addr(0x01),
		sink:     addr(0x0F),
		admin:    addr(0x0A),
	}
	require.NoError(t, h.ledger.RegisterToken(h.asset, "Spot Dollar", "SUSD", 6))
	schedule, err := fees.NewSchedule(feeBps, h.sink, h.admin)
	require.NoError(t, err)

	h.engine = stream.NewEngine(h.module)
	h.engine.SetState(mgr)
	h.engine.SetTokens(h.ledger)
	h.engine.SetMetadata(h.ledger)
	h.engine.SetFeeSchedule(schedule)
	h.engine.SetEmitter(h.recorder)
	h.engine.SetNowFunc(func() int64 { return h.clock })
	return h
}

func (h *harness) fund(t *testing.T, who crypto.Address, balance, allowance int64) {
	t.Helper()
	require.NoError(t, h.ledger.Mint(h.asset, who, big.NewInt(balance)))
	require.NoError(t, h.ledger.Approve(h.asset, who, h.module, big.NewInt(allowance)))
}

func (h *harness) balance(t *testing.T, who crypto.Address) int64 {
	t.Helper()
	bal, err := h.ledger.BalanceOf(h.asset, who)
	require.NoError(t, err)
	return bal.Int64()
}

func TestSplitAndSingleReleaseStreamTheSameTotal(t *testing.T) {
	streamer, recipient := addr(1), addr(2)

	split := newHarness(t, 0)
	split.fund(t, streamer, 1_000, 1_000)
	key, err := split.engine.Allow(streamer, split.asset, recipient, big.NewInt(1_000), 3_600, false)
	require.NoError(t, err)

	split.clock += 1_800
	preview, err := split.engine.PreviewAvailable(split.asset, streamer, recipient)
	require.NoError(t, err)
	require.EqualValues(t, 500, preview.Int64())
	for i := 0; i < 2; i++ {
		release, err := split.engine.Release(split.asset, streamer, recipient)
		require.NoError(t, err)
		require.EqualValues(t, 500, release.Amount.Int64())
		split.clock += 1_800
	}

	single := newHarness(t, 0)
	single.fund(t, streamer, 1_000, 1_000)
	_, err = single.engine.Allow(streamer, single.asset, recipient, big.NewInt(1_000), 3_600, false)
	require.NoError(t, err)
	single.clock += 3_600
	release, err := single.engine.Release(single.asset, streamer, recipient)
	require.NoError(t, err)
	require.EqualValues(t, 1_000, release.Amount.Int64())

	a, err := split.engine.Get(key)
	require.NoError(t, err)
	b, err := single.engine.Get(key)
	require.NoError(t, err)
	require.Zero(t, a.TotalStreamed.Cmp(b.TotalStreamed))
	require.EqualValues(t, 1_000, a.TotalStreamed.Int64())
	require.EqualValues(t, 1_000, split.balance(t, recipient))
	require.EqualValues(t, 1_000, single.balance(t, recipient))
}

func TestOnceStreamCapsAtOutstanding(t *testing.T) {
	h := newHarness(t, 0)
	streamer, recipient := addr(1), addr(2)
	h.fund(t, streamer, 5_000, 5_000)
	_, err := h.engine.Allow(streamer, h.asset, recipient, big.NewInt(1_000), 100, true)
	require.NoError(t, err)

	h.clock += 40
	release, err := h.engine.Release(h.asset, streamer, recipient)
	require.NoError(t, err)
	require.EqualValues(t, 400, release.Amount.Int64())

	h.clock += 1_000
	release, err = h.engine.Release(h.asset, streamer, recipient)
	require.NoError(t, err)
	require.EqualValues(t, 600, release.Amount.Int64())

	h.clock += 1_000
	_, err = h.engine.Release(h.asset, streamer, recipient)
	require.ErrorIs(t, err, stream.ErrNothingToRelease)
	require.EqualValues(t, 1_000, h.balance(t, recipient))
}

func TestRecurringStreamCapsAtAllowablePerRelease(t *testing.T) {
	h := newHarness(t, 0)
	streamer, recipient := addr(1), addr(2)
	h.fund(t, streamer, 5_000, 5_000)
	_, err := h.engine.Allow(streamer, h.asset, recipient, big.NewInt(1_000), 100, false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.clock += 250
		release, err := h.engine.Release(h.asset, streamer, recipient)
		require.NoError(t, err)
		require.EqualValues(t, 1_000, release.Amount.Int64())
	}
	require.EqualValues(t, 3_000, h.balance(t, recipient))
}

func TestReleaseChargesFeeOnTop(t *testing.T) {
	h := newHarness(t, 100)
	streamer, recipient := addr(1), addr(2)
	h.fund(t, streamer, 1_000, 1_000)
	_, err := h.engine.Allow(streamer, h.asset, recipient, big.NewInt(1_000), 100, false)
	require.NoError(t, err)

	h.clock += 50
	check, err := h.engine.Streamable(h.asset, streamer, recipient)
	require.NoError(t, err)
	require.EqualValues(t, 500, check.Available.Int64())
	require.EqualValues(t, 5, check.Fee.Int64())
	require.Equal(t, stream.SkipNone, check.Reason)

	release, err := h.engine.Release(h.asset, streamer, recipient)
	require.NoError(t, err)
	require.EqualValues(t, 5, release.Fee.Int64())
	require.EqualValues(t, 500, h.balance(t, recipient))
	require.EqualValues(t, 5, h.balance(t, h.sink))
	require.EqualValues(t, 495, h.balance(t, streamer))
}

func TestReleaseAvailableBatchSkipsUnderfundedEntry(t *testing.T) {
	h := newHarness(t, 0)
	a, b, c, recipient := addr(1), addr(2), addr(3), addr(9)
	h.fund(t, a, 1_000, 1_000)
	h.fund(t, b, 1_000, 10)
	h.fund(t, c, 1_000, 1_000)
	for _, streamer := range []crypto.Address{a, b, c} {
		_, err := h.engine.Allow(streamer, h.asset, recipient, big.NewInt(300), 60, false)
		require.NoError(t, err)
	}

	h.clock += 60
	assets := []crypto.Address{h.asset, h.asset, h.asset}
	out, err := h.engine.ReleaseAvailableBatch(assets, []crypto.Address{a, b, c}, []crypto.Address{recipient, recipient, recipient})
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.False(t, out[0].Skipped)
	require.EqualValues(t, 300, out[0].Amount.Int64())
	require.True(t, out[1].Skipped)
	require.Equal(t, stream.SkipInsufficientAllowance, out[1].Reason)
	require.Zero(t, out[1].Amount.Sign())
	require.False(t, out[2].Skipped)

	require.EqualValues(t, 600, h.balance(t, recipient))
	require.EqualValues(t, 1_000, h.balance(t, b))

	skipped := h.recorder.OfType(stream.EventTypeReleaseSkipped)
	require.Len(t, skipped, 1)
	require.Equal(t, string(stream.SkipInsufficientAllowance), skipped[0].Attributes["reason"])
	require.Len(t, h.recorder.OfType(stream.EventTypeReleased), 2)
}

func TestReleaseAvailableBatchRevertsFailedTransferOnly(t *testing.T) {
	h := newHarness(t, 0)
	a, b, frozen, recipient := addr(1), addr(2), addr(3), addr(9)
	h.fund(t, a, 1_000, 1_000)
	h.fund(t, b, 1_000, 1_000)
	_, err := h.engine.Allow(a, h.asset, recipient, big.NewInt(100), 10, false)
	require.NoError(t, err)
	keyB, err := h.engine.Allow(b, h.asset, frozen, big.NewInt(100), 10, false)
	require.NoError(t, err)

	h.ledger.SetTransferHook(func(_, _, to crypto.Address, _ *big.Int) error {
		if to == frozen {
			return errors.New("recipient frozen")
		}
		return nil
	})
	h.clock += 10
	out, err := h.engine.ReleaseAvailableBatch(
		[]crypto.Address{h.asset, h.asset},
		[]crypto.Address{a, b},
		[]crypto.Address{recipient, frozen},
	)
	require.NoError(t, err)
	require.False(t, out[0].Skipped)
	require.True(t, out[1].Skipped)
	require.Equal(t, stream.SkipTransferFailed, out[1].Reason)

	s, err := h.engine.Get(keyB)
	require.NoError(t, err)
	require.Zero(t, s.TotalStreamed.Sign())
	require.EqualValues(t, 1_000, h.balance(t, b))
	require.EqualValues(t, 100, h.balance(t, recipient))
}

func TestBatchReleaseIsAllOrNothing(t *testing.T) {
	h := newHarness(t, 0)
	a, missing, recipient := addr(1), addr(2), addr(9)
	h.fund(t, a, 1_000, 1_000)
	key, err := h.engine.Allow(a, h.asset, recipient, big.NewInt(100), 10, false)
	require.NoError(t, err)

	h.clock += 10
	_, err = h.engine.BatchRelease(
		[]crypto.Address{h.asset, h.asset},
		[]crypto.Address{a, missing},
		[]crypto.Address{recipient, recipient},
	)
	require.ErrorIs(t, err, stream.ErrStreamNotFound)

	s, err := h.engine.Get(key)
	require.NoError(t, err)
	require.Zero(t, s.TotalStreamed.Sign())
	require.Zero(t, h.balance(t, recipient))
	require.Empty(t, h.recorder.OfType(stream.EventTypeReleased))
}

func TestBatchAllowValidatesEveryEntry(t *testing.T) {
	h := newHarness(t, 0)
	streamer := addr(1)
	_, err := h.engine.BatchAllow(streamer, []crypto.Address{h.asset}, nil, nil, nil, nil)
	require.ErrorIs(t, err, stream.ErrLengthMismatch)

	_, err = h.engine.BatchAllow(streamer,
		[]crypto.Address{h.asset, h.asset},
		[]crypto.Address{addr(2), addr(3)},
		[]*big.Int{big.NewInt(10), big.NewInt(10)},
		[]uint64{60, 0},
		[]bool{false, true},
	)
	require.ErrorIs(t, err, stream.ErrInvalidWindow)

	keys, err := h.engine.BatchAllow(streamer,
		[]crypto.Address{h.asset, h.asset},
		[]crypto.Address{addr(2), addr(3)},
		[]*big.Int{big.NewInt(10), big.NewInt(0)},
		[]uint64{60, 60},
		[]bool{false, true},
	)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	listed, err := h.engine.StreamsByStreamer(streamer)
	require.NoError(t, err)
	require.Equal(t, keys, listed)
}

func TestReallowResetsAccrualAndCancelStops(t *testing.T) {
	h := newHarness(t, 0)
	streamer, recipient := addr(1), addr(2)
	h.fund(t, streamer, 1_000, 1_000)
	key, err := h.engine.Allow(streamer, h.asset, recipient, big.NewInt(100), 10, false)
	require.NoError(t, err)

	h.clock += 5
	_, err = h.engine.Allow(streamer, h.asset, recipient, big.NewInt(200), 10, false)
	require.NoError(t, err)
	preview, err := h.engine.PreviewAvailable(h.asset, streamer, recipient)
	require.NoError(t, err)
	require.Zero(t, preview.Sign())

	h.clock += 5
	require.NoError(t, h.engine.Cancel(streamer, h.asset, recipient))
	h.clock += 100
	_, err = h.engine.Release(h.asset, streamer, recipient)
	require.ErrorIs(t, err, stream.ErrNothingToRelease)

	details, err := h.engine.Details(key)
	require.NoError(t, err)
	require.Zero(t, details.Available.Sign())
	require.Equal(t, "SUSD", details.Asset.Symbol)
	require.Len(t, h.recorder.OfType(stream.EventTypeCancelled), 1)
}

func TestPreviewOfMissingStreamIsZero(t *testing.T) {
	h := newHarness(t, 0)
	preview, err := h.engine.PreviewAvailable(h.asset, addr(1), addr(2))
	require.NoError(t, err)
	require.Zero(t, preview.Sign())

	check, err := h.engine.Streamable(h.asset, addr(1), addr(2))
	require.NoError(t, err)
	require.Equal(t, stream.SkipNotFound, check.Reason)

	_, err = h.engine.Allow(addr(1), h.asset, addr(1), big.NewInt(1), 1, false)
	require.ErrorIs(t, err, stream.ErrSelfStream)
}
