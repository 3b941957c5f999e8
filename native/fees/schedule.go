package fees

import (
	"errors"
	"fmt"
	"sync"

	"spotchain/crypto"
)

var (
	ErrNotFeeAdmin    = errors.New("fees: caller is not the fee admin")
	ErrFeeRateTooHigh = errors.New("fees: fee rate exceeds 10000 bps")
	ErrZeroFeeSink    = errors.New("fees: fee sink must not be the zero address")
)

// Schedule is the platform fee configuration held by an engine. Only the
// current admin may change it.
type Schedule struct {
	mu      sync.RWMutex
	rateBps uint64
	sink    crypto.Address
	admin   crypto.Address
}

// NewSchedule validates and returns a fee schedule. A zero rate may be paired
// with a zero sink; any positive rate requires a sink.
func NewSchedule(rateBps uint64, sink, admin crypto.Address) (*Schedule, error) {
	if rateBps > MaxFeeBps {
		return nil, ErrFeeRateTooHigh
	}
	if rateBps > 0 && sink.IsZero() {
		return nil, ErrZeroFeeSink
	}
	return &Schedule{rateBps: rateBps, sink: sink, admin: admin}, nil
}

// Snapshot is an immutable view of a schedule taken at the start of an
// operation.
type Snapshot struct {
	RateBps uint64
	Sink    crypto.Address
	Admin   crypto.Address
}

// Current returns the schedule in effect. A nil schedule charges nothing.
func (s *Schedule) Current() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{RateBps: s.rateBps, Sink: s.sink, Admin: s.admin}
}

// SetRate updates the fee rate.
func (s *Schedule) SetRate(caller crypto.Address, rateBps uint64) error {
	if s == nil {
		return ErrNotFeeAdmin
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller.IsZero() || caller != s.admin {
		return ErrNotFeeAdmin
	}
	if rateBps > MaxFeeBps {
		return ErrFeeRateTooHigh
	}
	if rateBps > 0 && s.sink.IsZero() {
		return ErrZeroFeeSink
	}
	s.rateBps = rateBps
	return nil
}

// SetSink updates the address receiving fees.
func (s *Schedule) SetSink(caller, sink crypto.Address) error {
	if s == nil {
		return ErrNotFeeAdmin
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller.IsZero() || caller != s.admin {
		return ErrNotFeeAdmin
	}
	if sink.IsZero() {
		return ErrZeroFeeSink
	}
	s.sink = sink
	return nil
}

// TransferAdmin hands the admin capability to next.
func (s *Schedule) TransferAdmin(caller, next crypto.Address) error {
	if s == nil {
		return ErrNotFeeAdmin
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller.IsZero() || caller != s.admin {
		return ErrNotFeeAdmin
	}
	if next.IsZero() {
		return fmt.Errorf("fees: new admin: %w", ErrNotFeeAdmin)
	}
	s.admin = next
	return nil
}

// Store persists fee schedules across restarts. core/state.Manager
// implements it.
type Store interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
}

type storedSchedule struct {
	RateBps uint64
	Sink    [crypto.AddressLength]byte
	Admin   [crypto.AddressLength]byte
}

func storeKey(module string) []byte {
	return []byte("fees/schedule/" + module)
}

// Clone returns an independent copy. Cloning nil yields nil.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	snap := s.Current()
	return &Schedule{rateBps: snap.RateBps, sink: snap.Sink, admin: snap.Admin}
}

// Reset overwrites the schedule with snap without an admin check. Engines
// use it to install a copy that was already validated and persisted.
func (s *Schedule) Reset(snap Snapshot) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateBps, s.sink, s.admin = snap.RateBps, snap.Sink, snap.Admin
}

// Persist writes the current schedule of module to store.
func (s *Schedule) Persist(store Store, module string) error {
	snap := s.Current()
	if err := store.KVPut(storeKey(module), &storedSchedule{
		RateBps: snap.RateBps,
		Sink:    snap.Sink,
		Admin:   snap.Admin,
	}); err != nil {
		return fmt.Errorf("fees: persist %s schedule: %w", module, err)
	}
	return nil
}

// Load returns the schedule persisted for module, or fallback when nothing
// was stored yet.
func Load(store Store, module string, fallback *Schedule) (*Schedule, error) {
	if store == nil {
		return fallback, nil
	}
	var stored storedSchedule
	ok, err := store.KVGet(storeKey(module), &stored)
	if err != nil {
		return nil, fmt.Errorf("fees: load %s schedule: %w", module, err)
	}
	if !ok {
		return fallback, nil
	}
	return NewSchedule(stored.RateBps, crypto.Address(stored.Sink), crypto.Address(stored.Admin))
}
