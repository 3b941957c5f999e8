package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"spotchain/core/events"
	"spotchain/crypto"
	"spotchain/indexer"
	"spotchain/native/accrual"
	nativecommon "spotchain/native/common"
	"spotchain/native/fees"
	"spotchain/native/lending"
	"spotchain/native/pool"
	"spotchain/native/stream"
	"spotchain/native/token"
)

type errorResponse struct {
	Error string `json:"error"`
}

type keysResponse struct {
	Keys []string `json:"keys"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorStatuses maps engine and ledger rejections to HTTP statuses. Errors
// not listed are internal failures.
var errorStatuses = []struct {
	status int
	errs   []error
}{
	{http.StatusNotFound, []error{
		lending.ErrLineNotFound, stream.ErrStreamNotFound, pool.ErrPoolNotFound,
		token.ErrUnknownToken,
	}},
	{http.StatusBadRequest, []error{
		lending.ErrZeroAddress, lending.ErrInvalidAmount, lending.ErrSelfLine,
		stream.ErrZeroAddress, stream.ErrInvalidAmount, stream.ErrInvalidWindow,
		stream.ErrLengthMismatch, stream.ErrSelfStream,
		pool.ErrZeroAddress, pool.ErrInvalidAmount, pool.ErrInvalidMode, pool.ErrUnsupportedDecimals,
		token.ErrZeroAddress, token.ErrInvalidAmount,
		fees.ErrFeeRateTooHigh, fees.ErrZeroFeeSink, accrual.ErrAmountOverflow,
	}},
	{http.StatusForbidden, []error{
		lending.ErrNotBorrower, pool.ErrNotBorrower, fees.ErrNotFeeAdmin,
	}},
	{http.StatusConflict, []error{
		token.ErrTokenExists, nativecommon.ErrReentrantCall,
	}},
	{http.StatusServiceUnavailable, []error{
		nativecommon.ErrModulePaused,
	}},
	{http.StatusUnprocessableEntity, []error{
		lending.ErrInsufficientAllowance, lending.ErrCeilingBelowOutstanding, lending.ErrNoDebtToRepay,
		stream.ErrNothingToRelease,
		pool.ErrPoolFullyFunded, pool.ErrNothingToDraw, pool.ErrNoDebtToRepay, pool.ErrInsufficientClaims,
		pool.ErrInsufficientUndrawn, pool.ErrNoPrincipalAvailable, pool.ErrRedemptionTooSmall,
		token.ErrInsufficientBalance, token.ErrInsufficientAllowance,
	}},
}

func errorStatus(err error) int {
	for _, group := range errorStatuses {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.status
			}
		}
	}
	return http.StatusInternalServerError
}

// writeEngineError maps engine errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

func parseKey(raw string) ([32]byte, error) {
	var key [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return key, fmt.Errorf("invalid key: %w", err)
	}
	if len(decoded) != len(key) {
		return key, fmt.Errorf("invalid key: expected %d bytes, got %d", len(key), len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}

func keyParam(w http.ResponseWriter, r *http.Request, name string) ([32]byte, bool) {
	key, err := parseKey(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return key, false
	}
	return key, true
}

func addressParam(w http.ResponseWriter, raw, name string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %v", name, err))
		return addr, false
	}
	return addr, true
}

func writeKeys(w http.ResponseWriter, keys [][32]byte, err error) {
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := keysResponse{Keys: make([]string, 0, len(keys))}
	for _, key := range keys {
		out.Keys = append(out.Keys, events.FormatKey(key))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) mountLending(r chi.Router) {
	r.Get("/lines/{key}", s.getLine)
	r.Get("/lenders/{addr}", func(w http.ResponseWriter, r *http.Request) {
		if addr, ok := addressParam(w, chi.URLParam(r, "addr"), "lender"); ok {
			keys, err := s.backends.Lending.LinesByLender(addr)
			writeKeys(w, keys, err)
		}
	})
	r.Get("/borrowers/{addr}", func(w http.ResponseWriter, r *http.Request) {
		if addr, ok := addressParam(w, chi.URLParam(r, "addr"), "borrower"); ok {
			keys, err := s.backends.Lending.LinesByBorrower(addr)
			writeKeys(w, keys, err)
		}
	})
	if wr, ok := s.backends.Lending.(LendingWriter); ok && s.writable() {
		s.mountLendingWrites(r, wr)
	}
}

func (s *Server) getLine(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r, "key")
	if !ok {
		return
	}
	details, err := s.backends.Lending.Details(key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLineView(details))
}

func (s *Server) mountStreams(r chi.Router) {
	r.Get("/{key}", s.getStream)
	r.Get("/streamers/{addr}", func(w http.ResponseWriter, r *http.Request) {
		if addr, ok := addressParam(w, chi.URLParam(r, "addr"), "streamer"); ok {
			keys, err := s.backends.Streams.StreamsByStreamer(addr)
			writeKeys(w, keys, err)
		}
	})
	r.Get("/recipients/{addr}", func(w http.ResponseWriter, r *http.Request) {
		if addr, ok := addressParam(w, chi.URLParam(r, "addr"), "recipient"); ok {
			keys, err := s.backends.Streams.StreamsByRecipient(addr)
			writeKeys(w, keys, err)
		}
	})
	if wr, ok := s.backends.Streams.(StreamWriter); ok && s.writable() {
		s.mountStreamWrites(r, wr)
	}
}

func (s *Server) getStream(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r, "key")
	if !ok {
		return
	}
	details, err := s.backends.Streams.Details(key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	view := newStreamView(details)
	check, err := s.backends.Streams.Streamable(details.Stream.Asset, details.Stream.Streamer, details.Stream.Recipient)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	view.Fee = events.FormatAmount(check.Fee)
	view.Releasable = check.Reason == stream.SkipNone
	view.SkipReason = string(check.Reason)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) mountPools(r chi.Router) {
	r.Get("/{id}", s.getPool)
	r.Get("/{id}/holders", s.getPoolHolders)
	r.Get("/{id}/holders/{addr}", s.getPoolHolder)
	r.Get("/borrowers/{addr}", func(w http.ResponseWriter, r *http.Request) {
		if addr, ok := addressParam(w, chi.URLParam(r, "addr"), "borrower"); ok {
			keys, err := s.backends.Pools.PoolsByBorrower(addr)
			writeKeys(w, keys, err)
		}
	})
	if wr, ok := s.backends.Pools.(PoolWriter); ok && s.writable() {
		s.mountPoolWrites(r, wr)
	}
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	id, ok := keyParam(w, r, "id")
	if !ok {
		return
	}
	details, err := s.backends.Pools.Details(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(details))
}

func (s *Server) holderView(id [32]byte, addr crypto.Address) (*holderView, error) {
	h, err := s.backends.Pools.Holder(id, addr)
	if err != nil {
		return nil, err
	}
	claimable, err := s.backends.Pools.ClaimableInterest(id, addr)
	if err != nil {
		return nil, err
	}
	return &holderView{
		Address:   addr,
		Balance:   events.FormatAmount(h.Balance),
		Claimable: events.FormatAmount(claimable),
	}, nil
}

func (s *Server) getPoolHolders(w http.ResponseWriter, r *http.Request) {
	id, ok := keyParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.backends.Pools.Details(id); err != nil {
		writeEngineError(w, err)
		return
	}
	holders, err := s.backends.Pools.Holders(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]*holderView, 0, len(holders))
	for _, addr := range holders {
		view, err := s.holderView(id, addr)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"holders": out})
}

func (s *Server) getPoolHolder(w http.ResponseWriter, r *http.Request) {
	id, ok := keyParam(w, r, "id")
	if !ok {
		return
	}
	addr, ok := addressParam(w, chi.URLParam(r, "addr"), "holder")
	if !ok {
		return
	}
	view, err := s.holderView(id, addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// listEvents serves GET /v1/events?type=&module=&attr=key:value&after=&limit=.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := indexer.Filter{
		Type:   q.Get("type"),
		Module: q.Get("module"),
	}
	if attr := q.Get("attr"); attr != "" {
		key, value, found := strings.Cut(attr, ":")
		if !found || key == "" {
			writeError(w, http.StatusBadRequest, "attr must be key:value")
			return
		}
		filter.AttrKey, filter.AttrValue = key, value
	}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be an unsigned integer")
			return
		}
		filter.AfterSeq = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	entries, err := s.backends.Events.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("query events", "error", err)
		writeError(w, http.StatusInternalServerError, "query events failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}
