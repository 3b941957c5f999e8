package stream

import (
	"math/big"

	"spotchain/crypto"
	"spotchain/native/token"
)

// Stream is the ledger entry of one streamer-to-recipient allowance in a
// single asset.
type Stream struct {
	Streamer  crypto.Address
	Recipient crypto.Address
	Asset     crypto.Address
	// TotalStreamed is the lifetime amount released and never decreases.
	TotalStreamed *big.Int
	// Outstanding is what remains releasable in single-release mode.
	Outstanding *big.Int
	// Allowable unlocks linearly over Window seconds.
	Allowable *big.Int
	Window    uint64
	// Timestamp is the last release (or reconfiguration) instant.
	Timestamp int64
	// Once selects single-release semantics: the stream exhausts after
	// Allowable has been released in total.
	Once bool
}

// Clone returns a deep copy of the stream.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	out := *s
	out.TotalStreamed = cloneBig(s.TotalStreamed)
	out.Outstanding = cloneBig(s.Outstanding)
	out.Allowable = cloneBig(s.Allowable)
	return &out
}

func (s *Stream) normalize() {
	s.TotalStreamed = cloneBig(s.TotalStreamed)
	s.Outstanding = cloneBig(s.Outstanding)
	s.Allowable = cloneBig(s.Allowable)
}

// SkipReason explains why a non-failing batch release passed over an entry.
type SkipReason string

const (
	SkipNone                  SkipReason = ""
	SkipNotFound              SkipReason = "not_found"
	SkipNothingToRelease      SkipReason = "nothing_to_release"
	SkipInsufficientBalance   SkipReason = "insufficient_balance"
	SkipInsufficientAllowance SkipReason = "insufficient_allowance"
	SkipTransferFailed        SkipReason = "transfer_failed"
)

// Release reports one processed batch entry or single release.
type Release struct {
	Key       [32]byte
	Streamer  crypto.Address
	Recipient crypto.Address
	Asset     crypto.Address
	Amount    *big.Int
	Fee       *big.Int
	Skipped   bool
	Reason    SkipReason
}

// Streamable is the capability pre-check for a release: what would move now
// and whether the streamer can cover it.
type Streamable struct {
	Available *big.Int
	Fee       *big.Int
	Total     *big.Int
	Balance   *big.Int
	Allowance *big.Int
	Reason    SkipReason
}

// Details joins a stream with its current releasable amount and asset
// metadata.
type Details struct {
	Key       [32]byte
	Stream    *Stream
	Available *big.Int
	Asset     token.Metadata
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
