package lending

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"spotchain/core/events"
	"spotchain/crypto"
	"spotchain/native/accrual"
	nativecommon "spotchain/native/common"
	"spotchain/native/fees"
	"spotchain/native/token"
	"spotchain/observability/metrics"
)

var (
	ErrNilState                = errors.New("lending engine: state not configured")
	ErrZeroAddress             = errors.New("lending engine: zero address")
	ErrInvalidAmount           = errors.New("lending engine: amount must be positive")
	ErrLineNotFound            = errors.New("lending engine: credit line not found")
	ErrNotBorrower             = errors.New("lending engine: caller is not the designated borrower")
	ErrInsufficientAllowance   = errors.New("lending engine: borrow exceeds allowable")
	ErrCeilingBelowOutstanding = errors.New("lending engine: ceiling below outstanding principal")
	ErrNoDebtToRepay           = errors.New("lending engine: no outstanding debt to repay")
	ErrSelfLine                = errors.New("lending engine: lender and borrower must differ")
)

// ModuleName keys the pause switch, metrics and persisted fee schedule.
const ModuleName = "lending"

type engineState interface {
	nativecommon.Snapshotter
	CreditLine(key [32]byte) (*CreditLine, bool, error)
	PutCreditLine(key [32]byte, line *CreditLine) error
	AppendLenderLine(lender crypto.Address, key [32]byte) error
	AppendBorrowerLine(borrower crypto.Address, key [32]byte) error
	LenderLines(lender crypto.Address) ([][32]byte, error)
	BorrowerLines(borrower crypto.Address) ([][32]byte, error)
}

// Engine runs single-lender credit lines. Lenders approve the module address
// as spender for the principal they are willing to advance, payers approve it
// for the gross repayment.
type Engine struct {
	state         engineState
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

// NewEngine returns an engine that settles through the module address.
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

// SetTokens configures the asset transfer collaborator.
func (e *Engine) SetTokens(tokens token.Transferer) { e.tokens = tokens }

// SetMetadata configures the metadata source used by detail views.
func (e *Engine) SetMetadata(src token.MetadataSource) { e.metadata = src }

// SetFeeSchedule configures the platform fee. A nil schedule charges nothing.
func (e *Engine) SetFeeSchedule(schedule *fees.Schedule) { e.fees = schedule }

// SetPauses configures the pause switches consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

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

// ModuleAddress returns the spender address lenders and payers approve.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// Key returns the identifier of the line lender extends to borrower in asset.
func Key(lender, asset, borrower crypto.Address) [32]byte {
	return nativecommon.RelationshipKey(lender, asset, borrower)
}

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) run(op string, fn func(now int64) ([]events.Event, error)) error {
	if e == nil || e.state == nil {
		return ErrNilState
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
		e.logger.Debug("lending operation rejected", "op", op, "error", err)
		return err
	}
	return nil
}

// accrue materialises interest up to now. Lines without principal only move
// their timestamp forward.
func accrue(line *CreditLine, now int64) {
	if line.Outstanding.Sign() == 0 || line.LastAccrual == 0 {
		if now > line.LastAccrual {
			line.LastAccrual = now
		}
		return
	}
	elapsed := accrual.Elapsed(line.LastAccrual, now)
	if elapsed == 0 {
		return
	}
	interest := accrual.Interest(line.Outstanding, line.InterestRate, elapsed, accrual.SecondsPerYear, accrual.PerMille)
	line.InterestAccrued.Add(line.InterestAccrued, interest)
	line.LastAccrual = now
}

func (e *Engine) loadLine(key [32]byte) (*CreditLine, error) {
	line, ok, err := e.state.CreditLine(key)
	if err != nil {
		return nil, err
	}
	if !ok || line == nil {
		return nil, ErrLineNotFound
	}
	line.normalize()
	return line, nil
}

// Allow creates the line from lender to borrower in asset or reconfigures it.
// Reconfiguring first materialises interest at the previous rate.
func (e *Engine) Allow(lender, asset, borrower crypto.Address, ceiling *big.Int, ratePerMille uint64) ([32]byte, error) {
	key := Key(lender, asset, borrower)
	if lender.IsZero() || asset.IsZero() || borrower.IsZero() {
		return key, ErrZeroAddress
	}
	if lender == borrower {
		return key, ErrSelfLine
	}
	if ceiling == nil || ceiling.Sign() < 0 {
		return key, ErrInvalidAmount
	}
	if err := accrual.CheckWidth(ceiling); err != nil {
		return key, err
	}
	err := e.run("allow", func(now int64) ([]events.Event, error) {
		line, ok, err := e.state.CreditLine(key)
		if err != nil {
			return nil, err
		}
		created := !ok || line == nil
		if created {
			line = &CreditLine{
				Lender:      lender,
				Borrower:    borrower,
				Asset:       asset,
				LastAccrual: now,
			}
			line.normalize()
		} else {
			line.normalize()
			accrue(line, now)
			if ceiling.Cmp(line.Outstanding) < 0 {
				return nil, ErrCeilingBelowOutstanding
			}
		}
		line.Allowable = new(big.Int).Set(ceiling)
		line.InterestRate = ratePerMille
		if err := e.state.PutCreditLine(key, line); err != nil {
			return nil, err
		}
		if created {
			if err := e.state.AppendLenderLine(lender, key); err != nil {
				return nil, err
			}
			if err := e.state.AppendBorrowerLine(borrower, key); err != nil {
				return nil, err
			}
		}
		return []events.Event{newAllowedEvent(key, line, created, now)}, nil
	})
	return key, err
}

// Borrow draws amount of principal on the line identified by key. Only the
// line's borrower may draw.
func (e *Engine) Borrow(caller crypto.Address, key [32]byte, amount *big.Int) error {
	if caller.IsZero() {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e != nil && e.tokens == nil {
		return fmt.Errorf("lending engine: token ledger not configured")
	}
	return e.run("borrow", func(now int64) ([]events.Event, error) {
		line, err := e.loadLine(key)
		if err != nil {
			return nil, err
		}
		if caller != line.Borrower {
			return nil, ErrNotBorrower
		}
		accrue(line, now)
		next := new(big.Int).Add(line.Outstanding, amount)
		if next.Cmp(line.Allowable) > 0 {
			return nil, ErrInsufficientAllowance
		}
		totalBorrowed := new(big.Int).Add(line.TotalBorrowed, amount)
		if err := accrual.CheckWidth(next, totalBorrowed); err != nil {
			return nil, err
		}
		line.Outstanding = next
		line.TotalBorrowed = totalBorrowed
		if err := e.state.PutCreditLine(key, line); err != nil {
			return nil, err
		}
		if err := e.tokens.TransferFrom(line.Asset, e.moduleAddress, line.Lender, line.Borrower, amount); err != nil {
			return nil, fmt.Errorf("lending engine: advance principal: %w", err)
		}
		e.telemetry.AddVolume(ModuleName, "borrow", amount)
		return []events.Event{newBorrowedEvent(key, line, amount, now)}, nil
	})
}

// Repay settles up to amount against the line identified by key on behalf of
// payer. The platform fee is taken from the gross amount, then interest, then
// principal; any excess is refunded to payer in the same call.
func (e *Engine) Repay(payer crypto.Address, key [32]byte, amount *big.Int) (*RepayResult, error) {
	if payer.IsZero() {
		return nil, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := accrual.CheckWidth(amount); err != nil {
		return nil, err
	}
	if e != nil && e.tokens == nil {
		return nil, fmt.Errorf("lending engine: token ledger not configured")
	}
	var result *RepayResult
	err := e.run("repay", func(now int64) ([]events.Event, error) {
		line, err := e.loadLine(key)
		if err != nil {
			return nil, err
		}
		accrue(line, now)
		if line.Owed().Sign() == 0 {
			return nil, ErrNoDebtToRepay
		}
		schedule := e.fees.Current()
		split := fees.Allocate(amount, schedule.RateBps, line.InterestAccrued, line.Outstanding)

		line.InterestAccrued.Sub(line.InterestAccrued, split.Interest)
		line.Outstanding.Sub(line.Outstanding, split.Principal)
		if line.Owed().Sign() == 0 {
			line.LastAccrual = 0
		}
		if err := e.state.PutCreditLine(key, line); err != nil {
			return nil, err
		}

		if err := e.tokens.TransferFrom(line.Asset, e.moduleAddress, payer, e.moduleAddress, amount); err != nil {
			return nil, fmt.Errorf("lending engine: collect payment: %w", err)
		}
		if split.Fee.Sign() > 0 {
			if err := e.tokens.Transfer(line.Asset, e.moduleAddress, schedule.Sink, split.Fee); err != nil {
				return nil, fmt.Errorf("lending engine: pay fee: %w", err)
			}
		}
		if net := split.Net(); net.Sign() > 0 {
			if err := e.tokens.Transfer(line.Asset, e.moduleAddress, line.Lender, net); err != nil {
				return nil, fmt.Errorf("lending engine: pay lender: %w", err)
			}
		}
		if split.Refund.Sign() > 0 {
			if err := e.tokens.Transfer(line.Asset, e.moduleAddress, payer, split.Refund); err != nil {
				return nil, fmt.Errorf("lending engine: refund payer: %w", err)
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
		return []events.Event{newRepaidEvent(key, line, payer, result, now)}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
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
	current := e.fees.Current()
	e.emitter.Emit(newFeeScheduleEvent(current, e.now()))
	return nil
}
