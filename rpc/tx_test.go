package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spotchain/core/events"
	"spotchain/core/state"
	"spotchain/crypto"
	"spotchain/indexer"
	"spotchain/native/lending"
	"spotchain/native/pool"
	"spotchain/native/stream"
	"spotchain/native/token"
)

const testToken = "s3cret"

func writeConfig() Config {
	return Config{AuthToken: testToken, AllowFaucet: true}
}

func (f *fixture) mint(t *testing.T, to crypto.Address, amount string) {
	t.Helper()
	path := "/v1/tokens/" + f.asset.String() + "/mint"
	require.Equal(t, http.StatusOK, f.post(t, path, testToken, mintRequest{To: to.String(), Amount: amount}, nil))
}

func (f *fixture) approve(t *testing.T, owner, spender crypto.Address, amount string) {
	t.Helper()
	path := "/v1/tokens/" + f.asset.String() + "/approve"
	body := approveRequest{Owner: owner.String(), Spender: spender.String(), Amount: amount}
	require.Equal(t, http.StatusOK, f.post(t, path, testToken, body, nil))
}

func (f *fixture) balance(t *testing.T, who crypto.Address) string {
	t.Helper()
	var out amountResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/tokens/"+f.asset.String()+"/balances/"+who.String(), &out))
	return out.Amount
}

func (f *fixture) modules(t *testing.T) map[string]crypto.Address {
	t.Helper()
	var out struct {
		Modules map[string]crypto.Address `json:"modules"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/modules", &out))
	return out.Modules
}

// reopen reads committed state only.
func (f *fixture) reopen() *token.Ledger {
	return token.NewLedger(state.NewManager(f.db))
}

func TestWriteRoutesRequireToken(t *testing.T) {
	body := allowLineRequest{
		Lender:   addr(0x02).String(),
		Asset:    addr(0x01).String(),
		Borrower: addr(0x03).String(),
		Ceiling:  "10",
	}
	var apiErr errorResponse

	f := newFixture(t, Config{})
	require.Equal(t, http.StatusUnauthorized, f.post(t, "/v1/lending/lines", testToken, body, &apiErr))
	require.Contains(t, apiErr.Error, "not configured")

	f = newFixture(t, writeConfig())
	require.Equal(t, http.StatusUnauthorized, f.post(t, "/v1/lending/lines", "", body, &apiErr))
	require.Equal(t, http.StatusUnauthorized, f.post(t, "/v1/lending/lines", "wrong", body, &apiErr))
	require.Equal(t, http.StatusOK, f.post(t, "/v1/lending/lines", testToken, body, nil))
}

func TestFaucetRoutesNeedFlag(t *testing.T) {
	f := newFixture(t, Config{AuthToken: testToken})
	path := "/v1/tokens/" + f.asset.String() + "/mint"
	code := f.post(t, path, testToken, mintRequest{To: f.lender.String(), Amount: "1"}, nil)
	require.Equal(t, http.StatusNotFound, code)

	f = newFixture(t, writeConfig())
	wide := addr(0x30)
	var view assetView
	body := registerTokenRequest{Asset: wide.String(), Name: " Wide ", Symbol: "WIDE", Decimals: 6}
	require.Equal(t, http.StatusOK, f.post(t, "/v1/tokens", testToken, body, &view))
	require.Equal(t, "Wide", view.Name)
	var apiErr errorResponse
	require.Equal(t, http.StatusConflict, f.post(t, "/v1/tokens", testToken, body, &apiErr))

	decimals, err := f.reopen().Decimals(wide)
	require.NoError(t, err)
	require.EqualValues(t, 6, decimals)
}

func TestLendingWritesCommitAndReadBack(t *testing.T) {
	f := newFixture(t, writeConfig())
	module := f.modules(t)[lending.ModuleName]
	require.Equal(t, f.lending.ModuleAddress(), module)
	f.mint(t, f.lender, "1000")
	f.approve(t, f.lender, module, "1000")

	var created keyResponse
	body := allowLineRequest{
		Lender:       f.lender.String(),
		Asset:        f.asset.String(),
		Borrower:     f.borrower.String(),
		Ceiling:      "1000",
		RatePerMille: 100,
	}
	require.Equal(t, http.StatusOK, f.post(t, "/v1/lending/lines", testToken, body, &created))
	require.Equal(t, events.FormatKey(lending.Key(f.lender, f.asset, f.borrower)), created.Key)
	require.Zero(t, f.mgr.Pending())

	linePath := "/v1/lending/lines/" + created.Key
	borrow := amountRequest{Caller: f.borrower.String(), Amount: "400"}
	require.Equal(t, http.StatusOK, f.post(t, linePath+"/borrow", testToken, borrow, nil))

	var line lineView
	require.Equal(t, http.StatusOK, f.get(t, linePath, &line))
	require.Equal(t, "400", line.Outstanding)
	require.Equal(t, "400", f.balance(t, f.borrower))
	committed, err := f.reopen().BalanceOf(f.asset, f.borrower)
	require.NoError(t, err)
	require.EqualValues(t, 400, committed.Int64())

	var apiErr errorResponse
	wrongCaller := amountRequest{Caller: f.lender.String(), Amount: "1"}
	require.Equal(t, http.StatusForbidden, f.post(t, linePath+"/borrow", testToken, wrongCaller, &apiErr))
	tooMuch := amountRequest{Caller: f.borrower.String(), Amount: "601"}
	require.Equal(t, http.StatusUnprocessableEntity, f.post(t, linePath+"/borrow", testToken, tooMuch, &apiErr))
	require.Equal(t, http.StatusBadRequest, f.post(t, linePath+"/borrow", testToken, amountRequest{Caller: f.borrower.String(), Amount: "x"}, &apiErr))
	missing := "/v1/lending/lines/" + events.FormatKey([32]byte{1}) + "/borrow"
	require.Equal(t, http.StatusNotFound, f.post(t, missing, testToken, borrow, &apiErr))

	f.approve(t, f.borrower, module, "400")
	var repaid repayView
	repay := amountRequest{Caller: f.borrower.String(), Amount: "400"}
	require.Equal(t, http.StatusOK, f.post(t, linePath+"/repay", testToken, repay, &repaid))
	require.Equal(t, repayView{Fee: "0", Interest: "0", Principal: "400", Refund: "0"}, repaid)

	require.Equal(t, http.StatusOK, f.get(t, linePath, &line))
	require.Equal(t, "0", line.Outstanding)
	require.Equal(t, "1000", f.balance(t, f.lender))

	var out struct {
		Events []indexer.Entry `json:"events"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/events?module=lending", &out))
	types := make([]string, 0, len(out.Events))
	for _, evt := range out.Events {
		types = append(types, evt.Type)
	}
	require.Equal(t, []string{lending.EventTypeLineAllowed, lending.EventTypeBorrowed, lending.EventTypeRepaid}, types)
}

func TestStreamWritesReleaseAndSkip(t *testing.T) {
	f := newFixture(t, writeConfig())
	streamer, recipient, stranger := addr(0x10), addr(0x11), addr(0x12)
	f.mint(t, streamer, "1000")
	f.approve(t, streamer, f.modules(t)[stream.ModuleName], "1000")

	var created keyResponse
	allow := allowStreamRequest{
		Streamer:  streamer.String(),
		Asset:     f.asset.String(),
		Recipient: recipient.String(),
		Amount:    "1000",
		Window:    100,
	}
	require.Equal(t, http.StatusOK, f.post(t, "/v1/streams", testToken, allow, &created))
	require.Equal(t, events.FormatKey(stream.Key(streamer, f.asset, recipient)), created.Key)

	target := streamTarget{Asset: f.asset.String(), Streamer: streamer.String(), Recipient: recipient.String()}
	f.clock += 50
	var released releaseView
	require.Equal(t, http.StatusOK, f.post(t, "/v1/streams/release", testToken, target, &released))
	require.Equal(t, "500", released.Amount)
	require.Equal(t, "0", released.Fee)
	require.Equal(t, "500", f.balance(t, recipient))

	var apiErr errorResponse
	batch := batchReleaseRequest{Entries: []streamTarget{target}}
	require.Equal(t, http.StatusUnprocessableEntity, f.post(t, "/v1/streams/release-batch", testToken, batch, &apiErr))
	require.Equal(t, http.StatusBadRequest, f.post(t, "/v1/streams/release-batch", testToken, batchReleaseRequest{}, &apiErr))

	f.clock += 50
	missing := streamTarget{Asset: f.asset.String(), Streamer: streamer.String(), Recipient: stranger.String()}
	var out releasesResponse
	available := batchReleaseRequest{Entries: []streamTarget{target, missing}}
	require.Equal(t, http.StatusOK, f.post(t, "/v1/streams/release-available", testToken, available, &out))
	require.Len(t, out.Releases, 2)
	require.Equal(t, "500", out.Releases[0].Amount)
	require.False(t, out.Releases[0].Skipped)
	require.True(t, out.Releases[1].Skipped)
	require.Equal(t, string(stream.SkipNotFound), out.Releases[1].Reason)

	require.Equal(t, http.StatusOK, f.post(t, "/v1/streams/cancel", testToken, target, nil))
	var view streamView
	require.Equal(t, http.StatusOK, f.get(t, "/v1/streams/"+created.Key, &view))
	require.Equal(t, "0", view.Allowable)

	committed, err := f.reopen().BalanceOf(f.asset, recipient)
	require.NoError(t, err)
	require.EqualValues(t, 1000, committed.Int64())
	require.Zero(t, f.mgr.Pending())
}

func TestPoolWritesSeparateModeLifecycle(t *testing.T) {
	f := newFixture(t, writeConfig())
	module := f.modules(t)[pool.ModuleName]
	holder := addr(0x20)
	f.mint(t, holder, "1000")
	f.approve(t, holder, module, "1000")

	var apiErr errorResponse
	bad := createPoolRequest{Borrower: f.borrower.String(), Asset: f.asset.String(), Goal: "1000", Mode: "bullet"}
	require.Equal(t, http.StatusBadRequest, f.post(t, "/v1/pools", testToken, bad, &apiErr))

	var created keyResponse
	create := createPoolRequest{
		Borrower:        f.borrower.String(),
		Asset:           f.asset.String(),
		Goal:            "1000",
		InterestRateBps: 1000,
		Mode:            "separate",
	}
	require.Equal(t, http.StatusOK, f.post(t, "/v1/pools", testToken, create, &created))
	require.Equal(t, events.FormatKey(pool.PoolID(f.borrower, f.asset, 0)), created.Key)
	poolPath := "/v1/pools/" + created.Key

	var moved amountResponse
	fund := amountRequest{Caller: holder.String(), Amount: "1000"}
	require.Equal(t, http.StatusOK, f.post(t, poolPath+"/fund", testToken, fund, &moved))
	require.Equal(t, "1000", moved.Amount)

	require.Equal(t, http.StatusForbidden, f.post(t, poolPath+"/draw", testToken, callerRequest{Caller: holder.String()}, &apiErr))
	require.Equal(t, http.StatusOK, f.post(t, poolPath+"/draw", testToken, callerRequest{Caller: f.borrower.String()}, &moved))
	require.Equal(t, "1000", moved.Amount)

	f.approve(t, f.borrower, module, "1000")
	var repaid repayView
	repay := amountRequest{Caller: f.borrower.String(), Amount: "600"}
	require.Equal(t, http.StatusOK, f.post(t, poolPath+"/repay", testToken, repay, &repaid))
	require.Equal(t, "600", repaid.Principal)

	f.clock += 15_768_000
	var view poolView
	require.Equal(t, http.StatusOK, f.get(t, poolPath, &view))
	require.Equal(t, "20", view.AccruedInterest)
	require.Equal(t, "420", view.TotalOwed)

	repay.Amount = "20"
	require.Equal(t, http.StatusOK, f.post(t, poolPath+"/repay", testToken, repay, &repaid))
	require.Equal(t, "20", repaid.Interest)

	require.Equal(t, http.StatusOK, f.post(t, poolPath+"/claim", testToken, callerRequest{Caller: holder.String()}, &moved))
	require.Equal(t, "20", moved.Amount)
	redeem := amountRequest{Caller: holder.String(), Amount: "1000"}
	require.Equal(t, http.StatusOK, f.post(t, poolPath+"/redeem", testToken, redeem, &moved))
	require.Equal(t, "600", moved.Amount)

	require.Equal(t, "620", f.balance(t, holder))
	committed, err := f.reopen().BalanceOf(f.asset, holder)
	require.NoError(t, err)
	require.EqualValues(t, 620, committed.Int64())
}

func TestConcurrentWritesAreSerialised(t *testing.T) {
	f := newFixture(t, writeConfig())
	const borrowers = 20
	module := f.lending.ModuleAddress()
	f.mint(t, f.lender, fmt.Sprint(borrowers*100))
	f.approve(t, f.lender, module, fmt.Sprint(borrowers*100))

	paths := make([]string, borrowers)
	for i := range paths {
		borrower := addr(byte(0x40 + i))
		body := allowLineRequest{Lender: f.lender.String(), Asset: f.asset.String(), Borrower: borrower.String(), Ceiling: "100"}
		var created keyResponse
		require.Equal(t, http.StatusOK, f.post(t, "/v1/lending/lines", testToken, body, &created))
		paths[i] = "/v1/lending/lines/" + created.Key + "/borrow"
	}
	f.ledger.SetTransferHook(func(_, _, _ crypto.Address, _ *big.Int) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})

	bodies := make([][]byte, borrowers)
	for i := range bodies {
		raw, err := json.Marshal(amountRequest{Caller: addr(byte(0x40 + i)).String(), Amount: "100"})
		require.NoError(t, err)
		bodies[i] = raw
	}

	var wg sync.WaitGroup
	codes := make([]int, borrowers)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, newPostRequest(paths[i], testToken, bodies[i]))
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		require.Equal(t, http.StatusOK, code, "borrower %d", i)
	}
	require.Equal(t, "0", f.balance(t, f.lender))
	require.Zero(t, f.mgr.Pending())
}
