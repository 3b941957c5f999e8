package stream

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
	ErrNilState         = errors.New("stream engine: state not configured")
	ErrNilTokens        = errors.New("stream engine: token ledger not configured")
	ErrZeroAddress      = errors.New("stream engine: zero address")
	ErrInvalidAmount    = errors.New("stream engine: amount must not be negative")
	ErrInvalidWindow    = errors.New("stream engine: window must be positive")
	ErrStreamNotFound   = errors.New("stream engine: stream not found")
	ErrNothingToRelease = errors.New("stream engine: nothing to release")
	ErrLengthMismatch   = errors.New("stream engine: batch arrays differ in length")
	ErrSelfStream       = errors.New("stream engine: streamer and recipient must differ")
)

// ModuleName keys the pause switch, metrics and persisted fee schedule.
const ModuleName = "stream"

type engineState interface {
	nativecommon.Snapshotter
	Stream(key [32]byte) (*Stream, bool, error)
	PutStream(key [32]byte, s *Stream) error
	AppendStreamerStream(streamer crypto.Address, key [32]byte) error
	AppendRecipientStream(recipient crypto.Address, key [32]byte) error
	StreamerStreams(streamer crypto.Address) ([][32]byte, error)
	RecipientStreams(recipient crypto.Address) ([][32]byte, error)
}

// Engine releases linearly unlocking allowances from streamers to
// recipients. Streamers approve the module address as spender for the
// released amounts plus fees.
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

// NewEngine returns a stream engine that pulls funds as moduleAddr.
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

// ModuleAddress returns the spender address streamers approve.
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

// Key returns the identifier of the stream from streamer to recipient in
// asset.
func Key(streamer, asset, recipient crypto.Address) [32]byte {
	return nativecommon.RelationshipKey(streamer, asset, recipient)
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
		e.logger.Debug("stream operation rejected", "op", op, "error", err)
		return err
	}
	return nil
}

// unlocked returns min(allowable*elapsed/window, cap) where cap is the
// remaining outstanding amount for single-release streams and the allowable
// otherwise.
func unlocked(s *Stream, now int64) *big.Int {
	if s == nil || s.Window == 0 {
		return big.NewInt(0)
	}
	amount := accrual.Unlocked(s.Allowable, accrual.Elapsed(s.Timestamp, now), s.Window)
	limit := s.Allowable
	if s.Once {
		limit = s.Outstanding
	}
	return accrual.Min(amount, limit)
}

func (e *Engine) loadStream(key [32]byte) (*Stream, error) {
	s, ok, err := e.state.Stream(key)
	if err != nil {
		return nil, err
	}
	if !ok || s == nil {
		return nil, ErrStreamNotFound
	}
	s.normalize()
	return s, nil
}

func validateAllow(streamer, asset, recipient crypto.Address, amount *big.Int, window uint64) error {
	if streamer.IsZero() || asset.IsZero() || recipient.IsZero() {
		return ErrZeroAddress
	}
	if streamer == recipient {
		return ErrSelfStream
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if window == 0 {
		return ErrInvalidWindow
	}
	return accrual.CheckWidth(amount)
}

// allowEntry creates or fully overwrites a stream. Resetting the timestamp
// forfeits anything unlocked under the previous configuration.
func (e *Engine) allowEntry(now int64, streamer, asset, recipient crypto.Address, amount *big.Int, window uint64, once bool) (events.Event, error) {
	key := Key(streamer, asset, recipient)
	s, ok, err := e.state.Stream(key)
	if err != nil {
		return nil, err
	}
	created := !ok || s == nil
	if created {
		s = &Stream{Streamer: streamer, Recipient: recipient, Asset: asset}
	}
	s.normalize()
	s.Allowable = new(big.Int).Set(amount)
	s.Outstanding = new(big.Int).Set(amount)
	s.Window = window
	s.Once = once
	s.Timestamp = now
	if err := e.state.PutStream(key, s); err != nil {
		return nil, err
	}
	if created {
		if err := e.state.AppendStreamerStream(streamer, key); err != nil {
			return nil, err
		}
		if err := e.state.AppendRecipientStream(recipient, key); err != nil {
			return nil, err
		}
	}
	return newAllowedEvent(key, s, created, now), nil
}

// Allow configures the stream from streamer to recipient: amount unlocks
// linearly over window seconds, once selects single-release semantics.
func (e *Engine) Allow(streamer, asset, recipient crypto.Address, amount *big.Int, window uint64, once bool) ([32]byte, error) {
	key := Key(streamer, asset, recipient)
	if err := validateAllow(streamer, asset, recipient, amount, window); err != nil {
		return key, err
	}
	err := e.run("allow", func(now int64) ([]events.Event, error) {
		evt, err := e.allowEntry(now, streamer, asset, recipient, amount, window, once)
		if err != nil {
			return nil, err
		}
		return []events.Event{evt}, nil
	})
	return key, err
}

// Cancel zeroes the allowance of an existing stream. Only the streamer can
// cancel since the key is derived from the caller.
func (e *Engine) Cancel(streamer, asset, recipient crypto.Address) error {
	if streamer.IsZero() || asset.IsZero() || recipient.IsZero() {
		return ErrZeroAddress
	}
	key := Key(streamer, asset, recipient)
	return e.run("cancel", func(now int64) ([]events.Event, error) {
		s, err := e.loadStream(key)
		if err != nil {
			return nil, err
		}
		s.Allowable = big.NewInt(0)
		s.Outstanding = big.NewInt(0)
		s.Timestamp = now
		if err := e.state.PutStream(key, s); err != nil {
			return nil, err
		}
		return []events.Event{newCancelledEvent(key, s, now)}, nil
	})
}

// releaseEntry moves the unlocked amount of one stream. Bookkeeping is
// written before the transfers.
func (e *Engine) releaseEntry(now int64, asset, streamer, recipient crypto.Address) (*Release, events.Event, error) {
	key := Key(streamer, asset, recipient)
	s, err := e.loadStream(key)
	if err != nil {
		return nil, nil, err
	}
	amount := unlocked(s, now)
	if amount.Sign() == 0 {
		return nil, nil, ErrNothingToRelease
	}
	schedule := e.fees.Current()
	fee := fees.FeeOn(amount, schedule.RateBps)

	if s.Once {
		s.Outstanding.Sub(s.Outstanding, amount)
	}
	s.TotalStreamed.Add(s.TotalStreamed, amount)
	if err := accrual.CheckWidth(s.TotalStreamed); err != nil {
		return nil, nil, err
	}
	s.Timestamp = now
	if err := e.state.PutStream(key, s); err != nil {
		return nil, nil, err
	}

	if err := e.tokens.TransferFrom(asset, e.moduleAddress, streamer, recipient, amount); err != nil {
		return nil, nil, fmt.Errorf("stream engine: release to recipient: %w", err)
	}
	if fee.Sign() > 0 {
		if err := e.tokens.TransferFrom(asset, e.moduleAddress, streamer, schedule.Sink, fee); err != nil {
			return nil, nil, fmt.Errorf("stream engine: pay fee: %w", err)
		}
	}
	e.telemetry.AddVolume(ModuleName, "release", amount)
	e.telemetry.AddFees(ModuleName, fee)
	release := &Release{
		Key:       key,
		Streamer:  streamer,
		Recipient: recipient,
		Asset:     asset,
		Amount:    amount,
		Fee:       fee,
	}
	return release, newReleasedEvent(s, release, now), nil
}

// Release transfers everything unlocked on the stream since its last release.
// The fee is charged to the streamer on top of the released amount.
func (e *Engine) Release(asset, streamer, recipient crypto.Address) (*Release, error) {
	if asset.IsZero() || streamer.IsZero() || recipient.IsZero() {
		return nil, ErrZeroAddress
	}
	if e != nil && e.tokens == nil {
		return nil, ErrNilTokens
	}
	var out *Release
	err := e.run("release", func(now int64) ([]events.Event, error) {
		release, evt, err := e.releaseEntry(now, asset, streamer, recipient)
		if err != nil {
			return nil, err
		}
		out = release
		return []events.Event{evt}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BatchAllow applies Allow across parallel arrays for one streamer. Any
// invalid entry rejects the whole batch.
func (e *Engine) BatchAllow(streamer crypto.Address, assets, recipients []crypto.Address, amounts []*big.Int, windows []uint64, once []bool) ([][32]byte, error) {
	n := len(assets)
	if len(recipients) != n || len(amounts) != n || len(windows) != n || len(once) != n {
		return nil, ErrLengthMismatch
	}
	keys := make([][32]byte, n)
	for i := 0; i < n; i++ {
		if err := validateAllow(streamer, assets[i], recipients[i], amounts[i], windows[i]); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		keys[i] = Key(streamer, assets[i], recipients[i])
	}
	err := e.run("batch_allow", func(now int64) ([]events.Event, error) {
		pending := make([]events.Event, 0, n)
		for i := 0; i < n; i++ {
			evt, err := e.allowEntry(now, streamer, assets[i], recipients[i], amounts[i], windows[i], once[i])
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			pending = append(pending, evt)
		}
		return pending, nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func validateBatch(assets, streamers, recipients []crypto.Address) error {
	if len(streamers) != len(assets) || len(recipients) != len(assets) {
		return ErrLengthMismatch
	}
	for i := range assets {
		if assets[i].IsZero() || streamers[i].IsZero() || recipients[i].IsZero() {
			return fmt.Errorf("entry %d: %w", i, ErrZeroAddress)
		}
	}
	return nil
}

// BatchRelease releases every listed stream or none: the first failing entry
// aborts the batch and reverts the entries already processed.
func (e *Engine) BatchRelease(assets, streamers, recipients []crypto.Address) ([]Release, error) {
	if err := validateBatch(assets, streamers, recipients); err != nil {
		return nil, err
	}
	if e != nil && e.tokens == nil {
		return nil, ErrNilTokens
	}
	var out []Release
	err := e.run("batch_release", func(now int64) ([]events.Event, error) {
		out = make([]Release, 0, len(assets))
		pending := make([]events.Event, 0, len(assets))
		for i := range assets {
			release, evt, err := e.releaseEntry(now, assets[i], streamers[i], recipients[i])
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			out = append(out, *release)
			pending = append(pending, evt)
		}
		return pending, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseAvailableBatch releases every listed stream that can be released and
// skips the rest. Each entry is checked for existence, an unlocked amount,
// and streamer balance and allowance covering amount plus fee; entries
// failing a check, or whose transfers fail, are reported with a SkipReason
// and a skip event while the batch continues.
func (e *Engine) ReleaseAvailableBatch(assets, streamers, recipients []crypto.Address) ([]Release, error) {
	if err := validateBatch(assets, streamers, recipients); err != nil {
		return nil, err
	}
	if e != nil && e.tokens == nil {
		return nil, ErrNilTokens
	}
	var out []Release
	err := e.run("release_available_batch", func(now int64) ([]events.Event, error) {
		out = make([]Release, 0, len(assets))
		pending := make([]events.Event, 0, len(assets))
		for i := range assets {
			entry := Release{
				Key:       Key(streamers[i], assets[i], recipients[i]),
				Streamer:  streamers[i],
				Recipient: recipients[i],
				Asset:     assets[i],
				Amount:    big.NewInt(0),
				Fee:       big.NewInt(0),
			}
			check, err := e.streamable(now, entry.Key)
			if err != nil {
				return nil, err
			}
			if check.Reason != SkipNone {
				entry.Skipped, entry.Reason = true, check.Reason
			} else {
				snap := e.state.Snapshot()
				release, evt, err := e.releaseEntry(now, assets[i], streamers[i], recipients[i])
				if err != nil {
					e.state.RevertToSnapshot(snap)
					e.logger.Warn("stream release failed in batch", "key", events.FormatKey(entry.Key), "error", err)
					entry.Skipped, entry.Reason = true, SkipTransferFailed
				} else {
					entry = *release
					pending = append(pending, evt)
				}
			}
			if entry.Skipped {
				e.telemetry.ObserveBatchSkip(ModuleName, string(entry.Reason))
				pending = append(pending, newSkippedEvent(entry, now))
			}
			out = append(out, entry)
		}
		return pending, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
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
	e.emitter.Emit(events.New(EventTypeFeeScheduleSet, e.now(), map[string]string{
		"rateBps": events.FormatUint(current.RateBps),
		"sink":    current.Sink.String(),
		"admin":   current.Admin.String(),
	}))
	return nil
}
