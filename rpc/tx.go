package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"spotchain/core/events"
	"spotchain/crypto"
	"spotchain/native/lending"
	"spotchain/native/pool"
	"spotchain/native/stream"
)

// tokenModule is the pause name direct ledger writes run under.
const tokenModule = "token"

const maxBodyBytes = 1 << 20

type keyResponse struct {
	Key string `json:"key"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type amountRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type allowLineRequest struct {
	Lender       string `json:"lender"`
	Asset        string `json:"asset"`
	Borrower     string `json:"borrower"`
	Ceiling      string `json:"ceiling"`
	RatePerMille uint64 `json:"interestRatePerMille"`
}

type allowStreamRequest struct {
	Streamer  string `json:"streamer"`
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Window    uint64 `json:"window"`
	Once      bool   `json:"once"`
}

type streamTarget struct {
	Asset     string `json:"asset"`
	Streamer  string `json:"streamer"`
	Recipient string `json:"recipient"`
}

type batchReleaseRequest struct {
	Entries []streamTarget `json:"entries"`
}

type createPoolRequest struct {
	Borrower        string `json:"borrower"`
	Asset           string `json:"asset"`
	Goal            string `json:"goal"`
	InterestRateBps uint64 `json:"interestRateBps"`
	Mode            string `json:"mode"`
}

type transferClaimsRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type registerTokenRequest struct {
	Asset    string `json:"asset"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type mintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type approveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type tokenTransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// params parses request fields and keeps the first error.
type params struct {
	err error
}

func (p *params) address(raw, name string) crypto.Address {
	if p.err != nil {
		return crypto.Address{}
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		p.err = fmt.Errorf("%s required", name)
		return crypto.Address{}
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", name, err)
	}
	return addr
}

// amount parses a base-10 integer. An empty value is zero when optional.
func (p *params) amount(raw, name string, optional bool) *big.Int {
	if p.err != nil {
		return nil
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if optional {
			return big.NewInt(0)
		}
		p.err = fmt.Errorf("%s required", name)
		return nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		p.err = fmt.Errorf("invalid %s", name)
		return nil
	}
	if value.Sign() < 0 {
		p.err = fmt.Errorf("%s must not be negative", name)
		return nil
	}
	return value
}

func (p *params) ok(w http.ResponseWriter) bool {
	if p.err != nil {
		writeError(w, http.StatusBadRequest, p.err.Error())
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// commit flushes an accepted transaction to storage and writes result.
// Rejected transactions were already reverted by the executor.
func (s *Server) commit(w http.ResponseWriter, op string, result interface{}, err error) {
	if err != nil {
		s.logger.Info("transaction rejected", "op", op, "error", err)
		writeEngineError(w, err)
		return
	}
	if err := s.backends.Executor.Commit(s.backends.State); err != nil {
		s.logger.Error("commit transaction", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "commit failed")
		return
	}
	s.logger.Debug("transaction committed", "op", op)
	writeJSON(w, http.StatusOK, result)
}

// tokenTx applies fn to the ledger as one transaction.
func (s *Server) tokenTx(fn func() error) error {
	return s.backends.Executor.Execute(nil, tokenModule, s.backends.State, fn)
}

func newRepayView(fee, interest, principal, refund *big.Int) repayView {
	return repayView{
		Fee:       events.FormatAmount(fee),
		Interest:  events.FormatAmount(interest),
		Principal: events.FormatAmount(principal),
		Refund:    events.FormatAmount(refund),
	}
}

func (s *Server) mountLendingWrites(r chi.Router, wr LendingWriter) {
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/lines", func(w http.ResponseWriter, r *http.Request) {
			var req allowLineRequest
			if !decodeBody(w, r, &req) {
				return
			}
			var p params
			lender := p.address(req.Lender, "lender")
			asset := p.address(req.Asset, "asset")
			borrower := p.address(req.Borrower, "borrower")
			ceiling := p.amount(req.Ceiling, "ceiling", false)
			if !p.ok(w) {
				return
			}
			key, err := wr.Allow(lender, asset, borrower, ceiling, req.RatePerMille)
			s.commit(w, "lending.allow", keyResponse{Key: events.FormatKey(key)}, err)
		})
		r.Post("/lines/{key}/borrow", func(w http.ResponseWriter, r *http.Request) {
			key, caller, amount, ok := amountCall(w, r, false)
			if !ok {
				return
			}
			err := wr.Borrow(caller, key, amount)
			s.commit(w, "lending.borrow", keyResponse{Key: events.FormatKey(key)}, err)
		})
		r.Post("/lines/{key}/repay", func(w http.ResponseWriter, r *http.Request) {
			key, caller, amount, ok := amountCall(w, r, false)
			if !ok {
				return
			}
			result, err := wr.Repay(caller, key, amount)
			var view repayView
			if err == nil {
				view = newRepayView(result.Fee, result.Interest, result.Principal, result.Refund)
			}
			s.commit(w, "lending.repay", view, err)
		})
	})
}

// amountCall reads the {key} or {id} path parameter and an amountRequest body.
func amountCall(w http.ResponseWriter, r *http.Request, optional bool) ([32]byte, crypto.Address, *big.Int, bool) {
	name := "key"
	if chi.URLParam(r, "key") == "" {
		name = "id"
	}
	key, ok := keyParam(w, r, name)
	if !ok {
		return key, crypto.Address{}, nil, false
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return key, crypto.Address{}, nil, false
	}
	var p params
	caller := p.address(req.Caller, "caller")
	amount := p.amount(req.Amount, "amount", optional)
	return key, caller, amount, p.ok(w)
}

func (s *Server) mountStreamWrites(r chi.Router, wr StreamWriter) {
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req allowStreamRequest
			if !decodeBody(w, r, &req) {
				return
			}
			var p params
			streamer := p.address(req.Streamer, "streamer")
			asset := p.address(req.Asset, "asset")
			recipient := p.address(req.Recipient, "recipient")
			amount := p.amount(req.Amount, "amount", false)
			if !p.ok(w) {
				return
			}
			key, err := wr.Allow(streamer, asset, recipient, amount, req.Window, req.Once)
			s.commit(w, "stream.allow", keyResponse{Key: events.FormatKey(key)}, err)
		})
		r.Post("/cancel", func(w http.ResponseWriter, r *http.Request) {
			var req streamTarget
			if !decodeBody(w, r, &req) {
				return
			}
			asset, streamer, recipient, ok := parseTarget(w, req)
			if !ok {
				return
			}
			err := wr.Cancel(streamer, asset, recipient)
			s.commit(w, "stream.cancel", keyResponse{Key: events.FormatKey(stream.Key(streamer, asset, recipient))}, err)
		})
		r.Post("/release", func(w http.ResponseWriter, r *http.Request) {
			var req streamTarget
			if !decodeBody(w, r, &req) {
				return
			}
			asset, streamer, recipient, ok := parseTarget(w, req)
			if !ok {
				return
			}
			release, err := wr.Release(asset, streamer, recipient)
			var view releaseView
			if err == nil {
				view = newReleaseView(release)
			}
			s.commit(w, "stream.release", view, err)
		})
		r.Post("/release-batch", func(w http.ResponseWriter, r *http.Request) {
			s.releaseBatch(w, r, "stream.batch_release", wr.BatchRelease)
		})
		r.Post("/release-available", func(w http.ResponseWriter, r *http.Request) {
			s.releaseBatch(w, r, "stream.release_available", wr.ReleaseAvailableBatch)
		})
	})
}

func parseTarget(w http.ResponseWriter, req streamTarget) (asset, streamer, recipient crypto.Address, ok bool) {
	var p params
	asset = p.address(req.Asset, "asset")
	streamer = p.address(req.Streamer, "streamer")
	recipient = p.address(req.Recipient, "recipient")
	return asset, streamer, recipient, p.ok(w)
}

func (s *Server) releaseBatch(w http.ResponseWriter, r *http.Request, op string, release func(assets, streamers, recipients []crypto.Address) ([]stream.Release, error)) {
	var req batchReleaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "entries required")
		return
	}
	var p params
	assets := make([]crypto.Address, len(req.Entries))
	streamers := make([]crypto.Address, len(req.Entries))
	recipients := make([]crypto.Address, len(req.Entries))
	for i, entry := range req.Entries {
		assets[i] = p.address(entry.Asset, fmt.Sprintf("entries[%d].asset", i))
		streamers[i] = p.address(entry.Streamer, fmt.Sprintf("entries[%d].streamer", i))
		recipients[i] = p.address(entry.Recipient, fmt.Sprintf("entries[%d].recipient", i))
	}
	if !p.ok(w) {
		return
	}
	releases, err := release(assets, streamers, recipients)
	out := make([]releaseView, 0, len(releases))
	for i := range releases {
		out = append(out, newReleaseView(&releases[i]))
	}
	s.commit(w, op, releasesResponse{Releases: out}, err)
}

func (s *Server) mountPoolWrites(r chi.Router, wr PoolWriter) {
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req createPoolRequest
			if !decodeBody(w, r, &req) {
				return
			}
			var p params
			borrower := p.address(req.Borrower, "borrower")
			asset := p.address(req.Asset, "asset")
			goal := p.amount(req.Goal, "goal", false)
			if !p.ok(w) {
				return
			}
			mode, err := pool.ParseMode(req.Mode)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			created, err := wr.CreatePool(pool.Params{
				Asset:           asset,
				Borrower:        borrower,
				Goal:            goal,
				InterestRateBps: req.InterestRateBps,
				Mode:            mode,
			})
			var resp keyResponse
			if err == nil {
				resp.Key = events.FormatKey(created.ID)
			}
			s.commit(w, "pool.create", resp, err)
		})
		r.Post("/{id}/fund", s.poolAmountCall("pool.fund", false, wr.Fund))
		r.Post("/{id}/draw", s.poolAmountCall("pool.draw_down", true, wr.DrawDown))
		r.Post("/{id}/redeem", s.poolAmountCall("pool.redeem", false, wr.Redeem))
		r.Post("/{id}/unfund", s.poolAmountCall("pool.unfund", false, wr.Unfund))
		r.Post("/{id}/repay", func(w http.ResponseWriter, r *http.Request) {
			id, caller, amount, ok := amountCall(w, r, false)
			if !ok {
				return
			}
			result, err := wr.Repay(caller, id, amount)
			var view repayView
			if err == nil {
				view = newRepayView(result.Fee, result.Interest, result.Principal, result.Refund)
			}
			s.commit(w, "pool.repay", view, err)
		})
		r.Post("/{id}/claim", func(w http.ResponseWriter, r *http.Request) {
			id, ok := keyParam(w, r, "id")
			if !ok {
				return
			}
			var req callerRequest
			if !decodeBody(w, r, &req) {
				return
			}
			var p params
			holder := p.address(req.Caller, "caller")
			if !p.ok(w) {
				return
			}
			claimed, err := wr.ClaimInterest(holder, id)
			s.commit(w, "pool.claim_interest", amountResponse{Amount: events.FormatAmount(claimed)}, err)
		})
		r.Post("/{id}/transfer-claims", func(w http.ResponseWriter, r *http.Request) {
			id, ok := keyParam(w, r, "id")
			if !ok {
				return
			}
			var req transferClaimsRequest
			if !decodeBody(w, r, &req) {
				return
			}
			var p params
			from := p.address(req.From, "from")
			to := p.address(req.To, "to")
			amount := p.amount(req.Amount, "amount", false)
			if !p.ok(w) {
				return
			}
			err := wr.TransferClaimTokens(from, to, id, amount)
			s.commit(w, "pool.transfer_claims", keyResponse{Key: events.FormatKey(id)}, err)
		})
	})
}

func (s *Server) poolAmountCall(op string, optional bool, call func(crypto.Address, [32]byte, *big.Int) (*big.Int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, caller, amount, ok := amountCall(w, r, optional)
		if !ok {
			return
		}
		moved, err := call(caller, id, amount)
		s.commit(w, op, amountResponse{Amount: events.FormatAmount(moved)}, err)
	}
}

func (s *Server) mountTokens(r chi.Router) {
	r.Get("/{asset}/balances/{addr}", func(w http.ResponseWriter, r *http.Request) {
		var p params
		asset := p.address(chi.URLParam(r, "asset"), "asset")
		holder := p.address(chi.URLParam(r, "addr"), "holder")
		if !p.ok(w) {
			return
		}
		balance, err := s.backends.Tokens.BalanceOf(asset, holder)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, amountResponse{Amount: events.FormatAmount(balance)})
	})
	r.Get("/{asset}/allowances/{owner}/{spender}", func(w http.ResponseWriter, r *http.Request) {
		var p params
		asset := p.address(chi.URLParam(r, "asset"), "asset")
		owner := p.address(chi.URLParam(r, "owner"), "owner")
		spender := p.address(chi.URLParam(r, "spender"), "spender")
		if !p.ok(w) {
			return
		}
		allowance, err := s.backends.Tokens.Allowance(asset, owner, spender)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, amountResponse{Amount: events.FormatAmount(allowance)})
	})
	if !s.writable() {
		return
	}
	ledger := s.backends.Tokens
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/{asset}/approve", func(w http.ResponseWriter, r *http.Request) {
			var req approveRequest
			if !decodeBody(w, r, &req) {
				return
			}
			var p params
			asset := p.address(chi.URLParam(r, "asset"), "asset")
			owner := p.address(req.Owner, "owner")
			spender := p.address(req.Spender, "spender")
			amount := p.amount(req.Amount, "amount", false)
			if !p.ok(w) {
				return
			}
			err := s.tokenTx(func() error { return ledger.Approve(asset, owner, spender, amount) })
			s.commit(w, "token.approve", amountResponse{Amount: events.FormatAmount(amount)}, err)
		})
		r.Post("/{asset}/transfer", func(w http.ResponseWriter, r *http.Request) {
			var req tokenTransferRequest
			if !decodeBody(w, r, &req) {
				return
			}
			var p params
			asset := p.address(chi.URLParam(r, "asset"), "asset")
			from := p.address(req.From, "from")
			to := p.address(req.To, "to")
			amount := p.amount(req.Amount, "amount", false)
			if !p.ok(w) {
				return
			}
			err := s.tokenTx(func() error { return ledger.Transfer(asset, from, to, amount) })
			s.commit(w, "token.transfer", amountResponse{Amount: events.FormatAmount(amount)}, err)
		})
		if !s.cfg.AllowFaucet {
			return
		}
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req registerTokenRequest
			if !decodeBody(w, r, &req) {
				return
			}
			var p params
			asset := p.address(req.Asset, "asset")
			if !p.ok(w) {
				return
			}
			view := assetView{
				Address:  asset,
				Name:     strings.TrimSpace(req.Name),
				Symbol:   strings.TrimSpace(req.Symbol),
				Decimals: req.Decimals,
			}
			err := s.tokenTx(func() error {
				return ledger.RegisterToken(asset, view.Name, view.Symbol, view.Decimals)
			})
			s.commit(w, "token.register", view, err)
		})
		r.Post("/{asset}/mint", func(w http.ResponseWriter, r *http.Request) {
			var req mintRequest
			if !decodeBody(w, r, &req) {
				return
			}
			var p params
			asset := p.address(chi.URLParam(r, "asset"), "asset")
			to := p.address(req.To, "to")
			amount := p.amount(req.Amount, "amount", false)
			if !p.ok(w) {
				return
			}
			err := s.tokenTx(func() error { return ledger.Mint(asset, to, amount) })
			s.commit(w, "token.mint", amountResponse{Amount: events.FormatAmount(amount)}, err)
		})
	})
}

// listModules serves the custody addresses clients approve as spenders.
func (s *Server) listModules(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]crypto.Address)
	if wr, ok := s.backends.Lending.(LendingWriter); ok {
		out[lending.ModuleName] = wr.ModuleAddress()
	}
	if wr, ok := s.backends.Streams.(StreamWriter); ok {
		out[stream.ModuleName] = wr.ModuleAddress()
	}
	if wr, ok := s.backends.Pools.(PoolWriter); ok {
		out[pool.ModuleName] = wr.ModuleAddress()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"modules": out})
}
