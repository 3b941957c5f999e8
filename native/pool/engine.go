package pool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"spotchain/core/events"
	"spotchain/crypto"
	"spotchain/native/accrual"
	nativecommon "spotchain/native/common"
	"spotchain/native/fees"
	"spotchain/native/token"
	"spotchain/observability/metrics"
)

var (
	ErrNilState             = errors.New("pool engine: state not configured")
	ErrNilTokens            = errors.New("pool engine: token ledger not configured")
	ErrZeroAddress          = errors.New("pool engine: zero address")
	ErrInvalidAmount        = errors.New("pool engine: amount must be positive")
	ErrInvalidMode          = errors.New("pool engine: unknown accounting mode")
	ErrUnsupportedDecimals  = errors.New("pool engine: asset decimals exceed claim token decimals")
	ErrPoolNotFound         = errors.New("pool engine: pool not found")
	ErrNotBorrower          = errors.New("pool engine: caller is not the pool borrower")
	ErrPoolFullyFunded      = errors.New("pool engine: funding goal reached")
	ErrNothingToDraw        = errors.New("pool engine: no undrawn principal")
	ErrNoDebtToRepay        = errors.New("pool engine: nothing owed")
	ErrInsufficientClaims   = errors.New("pool engine: insufficient claim tokens")
	ErrInsufficientUndrawn  = errors.New("pool engine: not enough undrawn principal")
	ErrNoPrincipalAvailable = errors.New("pool engine: no repaid principal available")
	ErrRedemptionTooSmall   = errors.New("pool engine: redemption rounds to zero")
)

// ModuleName keys the pause switch, metrics and persisted fee schedule.
const ModuleName = "pool"

type engineState interface {
	nativecommon.Snapshotter
	Pool(id [32]byte) (*Pool, bool, error)
	PutPool(p *Pool) error
	PoolNonce(borrower crypto.Address) (uint64, error)
	PutPoolNonce(borrower crypto.Address, nonce uint64) error
	PoolHolder(id [32]byte, holder crypto.Address) (*Holder, bool, error)
	PutPoolHolder(id [32]byte, holder crypto.Address, h *Holder) error
	BorrowerPools(borrower crypto.Address) ([][32]byte, error)
	AppendBorrowerPool(borrower crypto.Address, id [32]byte) error
}

// HolderRegistry records which addresses hold claims in a pool. Register
// must be idempotent.
type HolderRegistry interface {
	RegisterHolder(id [32]byte, holder crypto.Address) (bool, error)
	PoolHolders(id [32]byte) ([]crypto.Address, error)
}

// Engine runs pooled loans. Each pool keeps its funds at a custody address
// derived from its ID; funders and payers approve the module address as
// spender.
type Engine struct {
	state         engineState
	registry      HolderRegistry
	tokens        token.Transferer
	metadata      token.MetadataSource
	moduleAddress crypto.Address
	fees          *fees.Schedule
	pauses        nativecommon.PauseView
	emitter       events.Emitter
	telemetry     *metrics.EngineMetrics
	logger        *slog.Logger
	exec          *nativecommon.Executor
	nowFn         func() int64
}

// NewEngine returns a pool engine acting as moduleAddr.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		exec:          nativecommon.NewExecutor(),
		emitter:       events.NoopEmitter{},
		telemetry:     metrics.Engine(),
		logger:        slog.Default(),
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetExecutor replaces the transaction executor. Engines sharing a state
// must share one executor.
func (e *Engine) SetExecutor(x *nativecommon.Executor) {
	if x == nil {
		x = nativecommon.NewExecutor()
	}
	e.exec = x
}

// SetRegistry configures the holder registry.
func (e *Engine) SetRegistry(registry HolderRegistry) { e.registry = registry }

// SetTokens configures the asset transfer collaborator.
func (e *Engine) SetTokens(tokens token.Transferer) { e.tokens = tokens }

// SetMetadata configures the metadata source used by detail views.
func (e *Engine) SetMetadata(src token.MetadataSource) { e.metadata = src }

// SetFeeSchedule configures the platform fee. A nil schedule charges nothing.
func (e *Engine) SetFeeSchedule(schedule *fees.Schedule) { e.fees = schedule }

// SetPauses configures the pause switches consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// ModuleAddress returns the spender address funders and the borrower approve.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// SetEmitter configures the event emitter. Passing nil discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures the logger for rejected operations. Passing nil
// restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the clock. Intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// PoolID derives the identifier of the nonce-th pool opened by borrower in
// asset.
func PoolID(borrower, asset crypto.Address, nonce uint64) [32]byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return ethcrypto.Keccak256Hash(borrower[:], asset[:], n[:])
}

// CustodyAddress returns the address holding a pool's funds.
func CustodyAddress(id [32]byte) crypto.Address {
	return crypto.BytesToAddress(ethcrypto.Keccak256([]byte("pool"), id[:]))
}

func (e *Engine) run(op string, fn func(now int64) ([]events.Event, error)) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.tokens == nil {
		return ErrNilTokens
	}
	var pending []events.Event
	err := e.exec.ExecuteOrdered(e.pauses, ModuleName, e.state, func() error {
		var err error
		pending, err = fn(e.now())
		return err
	}, func() {
		for _, evt := range pending {
			e.emitter.Emit(evt)
		}
	})
	e.telemetry.ObserveOperation(ModuleName, op, err)
	if err != nil {
		e.logger.Debug("pool operation rejected", "op", op, "error", err)
		return err
	}
	return nil
}

// accrue materialises interest on the mode's outstanding principal.
func accrue(p *Pool, now int64) {
	outstanding := accountingFor(p.Mode).Outstanding(p)
	if outstanding.Sign() == 0 || p.LastAccrual == 0 {
		if now > p.LastAccrual {
			p.LastAccrual = now
		}
		return
	}
	elapsed := accrual.Elapsed(p.LastAccrual, now)
	if elapsed == 0 {
		return
	}
	interest := accrual.Interest(outstanding, p.InterestRateBps, elapsed, accrual.SecondsPerYear, accrual.BasisPoints)
	p.AccruedInterest.Add(p.AccruedInterest, interest)
	p.LastAccrual = now
}

func (e *Engine) loadPool(id [32]byte) (*Pool, error) {
	p, ok, err := e.state.Pool(id)
	if err != nil {
		return nil, err
	}
	if !ok || p == nil {
		return nil, ErrPoolNotFound
	}
	p.normalize()
	return p, nil
}

func (e *Engine) loadHolder(id [32]byte, addr crypto.Address) (*Holder, error) {
	h, ok, err := e.state.PoolHolder(id, addr)
	if err != nil {
		return nil, err
	}
	if !ok || h == nil {
		h = &Holder{}
	}
	h.normalize()
	return h, nil
}

// pendingInterest is (cumulative - lastIndex) * balance / supply.
func pendingInterest(p *Pool, h *Holder) *big.Int {
	if p.TotalSupply.Sign() == 0 || h.Balance.Sign() == 0 {
		return big.NewInt(0)
	}
	delta := new(big.Int).Sub(p.InterestRepaymentsCumulative, h.LastInterestIndex)
	if delta.Sign() <= 0 {
		return big.NewInt(0)
	}
	delta.Mul(delta, h.Balance)
	return delta.Quo(delta, p.TotalSupply)
}

// checkpoint pays out the holder's pending interest and advances the
// holder's index to the pool's cumulative index, even when nothing is owed.
// It must run before any change to the holder's balance.
func (e *Engine) checkpoint(p *Pool, addr crypto.Address, h *Holder) (*big.Int, error) {
	owed := pendingInterest(p, h)
	h.LastInterestIndex = new(big.Int).Set(p.InterestRepaymentsCumulative)
	if err := e.state.PutPoolHolder(p.ID, addr, h); err != nil {
		return nil, err
	}
	if owed.Sign() > 0 {
		if err := e.tokens.Transfer(p.Asset, p.Custody, addr, owed); err != nil {
			return nil, fmt.Errorf("pool engine: pay interest: %w", err)
		}
	}
	return owed, nil
}

// CreatePool opens a new pool. Asset decimals come from the metadata
// source and default to 18 when unavailable.
func (e *Engine) CreatePool(params Params) (*Pool, error) {
	if params.Asset.IsZero() || params.Borrower.IsZero() {
		return nil, ErrZeroAddress
	}
	if params.Goal == nil || params.Goal.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := accrual.CheckWidth(params.Goal); err != nil {
		return nil, err
	}
	if !params.Mode.Valid() {
		return nil, ErrInvalidMode
	}
	decimals := token.SafeDecimals(e.metadata, params.Asset)
	if decimals > ClaimDecimals {
		return nil, ErrUnsupportedDecimals
	}
	var created *Pool
	err := e.run("create", func(now int64) ([]events.Event, error) {
		nonce, err := e.state.PoolNonce(params.Borrower)
		if err != nil {
			return nil, err
		}
		id := PoolID(params.Borrower, params.Asset, nonce)
		if err := e.state.PutPoolNonce(params.Borrower, nonce+1); err != nil {
			return nil, err
		}
		p := &Pool{
			ID:              id,
			Asset:           params.Asset,
			Borrower:        params.Borrower,
			Custody:         CustodyAddress(id),
			Goal:            new(big.Int).Set(params.Goal),
			InterestRateBps: params.InterestRateBps,
			Mode:            params.Mode,
			AssetDecimals:   decimals,
			CreatedAt:       now,
			LastAccrual:     now,
		}
		p.normalize()
		if err := e.state.PutPool(p); err != nil {
			return nil, err
		}
		if err := e.state.AppendBorrowerPool(params.Borrower, id); err != nil {
			return nil, err
		}
		created = p.Clone()
		return []events.Event{newCreatedEvent(p, now)}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Fund deposits up to amount of principal from holder, capped at the
// remaining goal, and mints claim tokens normalised to 18 decimals. It
// returns the principal actually accepted.
func (e *Engine) Fund(holder crypto.Address, id [32]byte, amount *big.Int) (*big.Int, error) {
	if holder.IsZero() {
		return nil, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var accepted *big.Int
	err := e.run("fund", func(now int64) ([]events.Event, error) {
		p, err := e.loadPool(id)
		if err != nil {
			return nil, err
		}
		room := new(big.Int).Sub(p.Goal, p.TotalFunded)
		if room.Sign() <= 0 {
			return nil, ErrPoolFullyFunded
		}
		accepted = accrual.Min(amount, room)
		minted := principalToTokens(accepted, p.AssetDecimals)

		h, err := e.loadHolder(id, holder)
		if err != nil {
			return nil, err
		}
		if _, err := e.checkpoint(p, holder, h); err != nil {
			return nil, err
		}
		h.Balance.Add(h.Balance, minted)
		p.TotalFunded.Add(p.TotalFunded, accepted)
		p.TotalSupply.Add(p.TotalSupply, minted)
		if err := accrual.CheckWidth(p.TotalSupply); err != nil {
			return nil, err
		}
		if err := e.state.PutPoolHolder(id, holder, h); err != nil {
			return nil, err
		}
		if err := e.state.PutPool(p); err != nil {
			return nil, err
		}
		if e.registry != nil {
			if _, err := e.registry.RegisterHolder(id, holder); err != nil {
				return nil, fmt.Errorf("pool engine: register holder: %w", err)
			}
		}
		if err := e.tokens.TransferFrom(p.Asset, e.moduleAddress, holder, p.Custody, accepted); err != nil {
			return nil, fmt.Errorf("pool engine: collect funding: %w", err)
		}
		e.telemetry.AddVolume(ModuleName, "fund", accepted)
		return []events.Event{newFundedEvent(p, holder, accepted, minted, now)}, nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// DrawDown moves up to amount of undrawn principal to the borrower. A zero
// amount draws everything available. It returns the amount drawn.
func (e *Engine) DrawDown(caller crypto.Address, id [32]byte, amount *big.Int) (*big.Int, error) {
	if caller.IsZero() {
		return nil, ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	var drawn *big.Int
	err := e.run("draw_down", func(now int64) ([]events.Event, error) {
		p, err := e.loadPool(id)
		if err != nil {
			return nil, err
		}
		if caller != p.Borrower {
			return nil, ErrNotBorrower
		}
		available := undrawn(p)
		if available.Sign() == 0 {
			return nil, ErrNothingToDraw
		}
		drawn = available
		if amount.Sign() > 0 {
			drawn = accrual.Min(amount, available)
		}
		accrue(p, now)
		p.TotalDrawnDown.Add(p.TotalDrawnDown, drawn)
		p.LifetimeDrawn.Add(p.LifetimeDrawn, drawn)
		if err := e.state.PutPool(p); err != nil {
			return nil, err
		}
		if err := e.tokens.Transfer(p.Asset, p.Custody, p.Borrower, drawn); err != nil {
			return nil, fmt.Errorf("pool engine: draw down: %w", err)
		}
		e.telemetry.AddVolume(ModuleName, "draw_down", drawn)
		return []events.Event{newDrawnEvent(p, drawn, now)}, nil
	})
	if err != nil {
		return nil, err
	}
	return drawn, nil
}

// Repay applies amount from payer: the platform fee on the gross amount,
// then accrued interest (raising the distribution index), then principal
// as the pool's mode dictates. The excess is refunded in the same call.
func (e *Engine) Repay(payer crypto.Address, id [32]byte, amount *big.Int) (*RepayResult, error) {
	if payer.IsZero() {
		return nil, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := accrual.CheckWidth(amount); err != nil {
		return nil, err
	}
	var result *RepayResult
	err := e.run("repay", func(now int64) ([]events.Event, error) {
		p, err := e.loadPool(id)
		if err != nil {
			return nil, err
		}
		accrue(p, now)
		mode := accountingFor(p.Mode)
		principalOwed := mode.Outstanding(p)
		if principalOwed.Sign() == 0 && p.AccruedInterest.Sign() == 0 {
			return nil, ErrNoDebtToRepay
		}
		schedule := e.fees.Current()
		split := fees.Allocate(amount, schedule.RateBps, p.AccruedInterest, principalOwed)

		p.AccruedInterest.Sub(p.AccruedInterest, split.Interest)
		p.InterestRepaymentsCumulative.Add(p.InterestRepaymentsCumulative, split.Interest)
		mode.ApplyPrincipal(p, split.Principal)
		if err := e.state.PutPool(p); err != nil {
			return nil, err
		}

		if err := e.tokens.TransferFrom(p.Asset, e.moduleAddress, payer, p.Custody, amount); err != nil {
			return nil, fmt.Errorf("pool engine: collect payment: %w", err)
		}
		if split.Fee.Sign() > 0 {
			if err := e.tokens.Transfer(p.Asset, p.Custody, schedule.Sink, split.Fee); err != nil {
				return nil, fmt.Errorf("pool engine: pay fee: %w", err)
			}
		}
		if split.Refund.Sign() > 0 {
			if err := e.tokens.Transfer(p.Asset, p.Custody, payer, split.Refund); err != nil {
				return nil, fmt.Errorf("pool engine: refund payer: %w", err)
			}
		}
		result = &RepayResult{
			Fee:       split.Fee,
			Interest:  split.Interest,
			Principal: split.Principal,
			Refund:    split.Refund,
		}
		e.telemetry.AddVolume(ModuleName, "repay", split.Applied())
		e.telemetry.AddFees(ModuleName, split.Fee)
		return []events.Event{newRepaidEvent(p, payer, result, now)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClaimInterest pays holder's share of interest repaid since the holder's
// last checkpoint and advances the checkpoint.
func (e *Engine) ClaimInterest(holder crypto.Address, id [32]byte) (*big.Int, error) {
	if holder.IsZero() {
		return nil, ErrZeroAddress
	}
	var claimed *big.Int
	err := e.run("claim_interest", func(now int64) ([]events.Event, error) {
		p, err := e.loadPool(id)
		if err != nil {
			return nil, err
		}
		h, err := e.loadHolder(id, holder)
		if err != nil {
			return nil, err
		}
		if claimed, err = e.checkpoint(p, holder, h); err != nil {
			return nil, err
		}
		e.telemetry.AddVolume(ModuleName, "claim_interest", claimed)
		return []events.Event{newClaimedEvent(p, holder, claimed, now)}, nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// TransferClaimTokens moves claim tokens between holders. Both sides are
// checkpointed first so interest earned before the move stays with the
// sender.
func (e *Engine) TransferClaimTokens(from, to crypto.Address, id [32]byte, amount *big.Int) error {
	if from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.run("transfer_claims", func(now int64) ([]events.Event, error) {
		p, err := e.loadPool(id)
		if err != nil {
			return nil, err
		}
		sender, err := e.loadHolder(id, from)
		if err != nil {
			return nil, err
		}
		if sender.Balance.Cmp(amount) < 0 {
			return nil, ErrInsufficientClaims
		}
		if _, err := e.checkpoint(p, from, sender); err != nil {
			return nil, err
		}
		if from == to {
			return nil, nil
		}
		receiver, err := e.loadHolder(id, to)
		if err != nil {
			return nil, err
		}
		if _, err := e.checkpoint(p, to, receiver); err != nil {
			return nil, err
		}
		sender.Balance.Sub(sender.Balance, amount)
		receiver.Balance.Add(receiver.Balance, amount)
		if err := e.state.PutPoolHolder(id, from, sender); err != nil {
			return nil, err
		}
		if err := e.state.PutPoolHolder(id, to, receiver); err != nil {
			return nil, err
		}
		if e.registry != nil {
			if _, err := e.registry.RegisterHolder(id, to); err != nil {
				return nil, fmt.Errorf("pool engine: register holder: %w", err)
			}
		}
		return []events.Event{newClaimsTransferredEvent(p, from, to, amount, now)}, nil
	})
}

// Redeem burns amount claim tokens of holder for principal. Flexible pools
// return undrawn principal through Unfund; separate-repayment pools pay the
// pro-rata share of repaid principal. It returns the principal paid.
func (e *Engine) Redeem(holder crypto.Address, id [32]byte, amount *big.Int) (*big.Int, error) {
	return e.redeem("redeem", holder, id, amount, nil)
}

// Unfund burns amount claim tokens of holder and returns the matching
// undrawn principal, rescaled to asset decimals and rounded down.
func (e *Engine) Unfund(holder crypto.Address, id [32]byte, amount *big.Int) (*big.Int, error) {
	return e.redeem("unfund", holder, id, amount, flexibleAccounting{})
}

func (e *Engine) redeem(op string, holder crypto.Address, id [32]byte, amount *big.Int, override accounting) (*big.Int, error) {
	if holder.IsZero() {
		return nil, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	var principal *big.Int
	err := e.run(op, func(now int64) ([]events.Event, error) {
		p, err := e.loadPool(id)
		if err != nil {
			return nil, err
		}
		h, err := e.loadHolder(id, holder)
		if err != nil {
			return nil, err
		}
		if h.Balance.Cmp(amount) < 0 {
			return nil, ErrInsufficientClaims
		}
		mode := override
		if mode == nil {
			mode = accountingFor(p.Mode)
		}
		if principal, err = mode.Redeem(p, amount); err != nil {
			return nil, err
		}
		if _, err := e.checkpoint(p, holder, h); err != nil {
			return nil, err
		}
		h.Balance.Sub(h.Balance, amount)
		p.TotalSupply.Sub(p.TotalSupply, amount)
		if err := e.state.PutPoolHolder(id, holder, h); err != nil {
			return nil, err
		}
		if err := e.state.PutPool(p); err != nil {
			return nil, err
		}
		if err := e.tokens.Transfer(p.Asset, p.Custody, holder, principal); err != nil {
			return nil, fmt.Errorf("pool engine: return principal: %w", err)
		}
		e.telemetry.AddVolume(ModuleName, op, principal)
		return []events.Event{newRedeemedEvent(p, holder, amount, principal, now)}, nil
	})
	if err != nil {
		return nil, err
	}
	return principal, nil
}

// SetFeeRate changes the platform fee rate. Only the fee admin may call it.
func (e *Engine) SetFeeRate(caller crypto.Address, rateBps uint64) error {
	return e.updateFees("set_fee_rate", func(s *fees.Schedule) error { return s.SetRate(caller, rateBps) })
}

// SetFeeSink changes the fee recipient. Only the fee admin may call it.
func (e *Engine) SetFeeSink(caller, sink crypto.Address) error {
	return e.updateFees("set_fee_sink", func(s *fees.Schedule) error { return s.SetSink(caller, sink) })
}

// TransferFeeAdmin hands the fee admin capability to next.
func (e *Engine) TransferFeeAdmin(caller, next crypto.Address) error {
	return e.updateFees("transfer_fee_admin", func(s *fees.Schedule) error { return s.TransferAdmin(caller, next) })
}

// updateFees applies a fee admin change to a copy of the schedule, persists
// it when the state supports it and swaps it in. Pauses do not block it.
func (e *Engine) updateFees(op string, apply func(*fees.Schedule) error) error {
	if e == nil {
		return ErrNilState
	}
	err := e.exec.Execute(nil, ModuleName, e.state, func() error {
		next := e.fees.Clone()
		if err := apply(next); err != nil {
			return err
		}
		if store, ok := e.state.(fees.Store); ok {
			if err := next.Persist(store, ModuleName); err != nil {
				return err
			}
		}
		e.fees.Reset(next.Current())
		return nil
	})
	e.telemetry.ObserveOperation(ModuleName, op, err)
	if err != nil {
		return err
	}
	e.emitter.Emit(newFeeScheduleEvent(e.fees.Current(), e.now()))
	return nil
}
