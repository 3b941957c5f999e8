package stream

import (
	"math/big"

	"spotchain/crypto"
	"spotchain/native/fees"
	"spotchain/native/token"
)

// PreviewAvailable returns what Release would move now. Missing streams and
// zero windows preview as zero rather than failing.
func (e *Engine) PreviewAvailable(asset, streamer, recipient crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	s, ok, err := e.state.Stream(Key(streamer, asset, recipient))
	if err != nil {
		return nil, err
	}
	if !ok || s == nil {
		return big.NewInt(0), nil
	}
	s.normalize()
	return unlocked(s, e.now()), nil
}

// Streamable reports the releasable amount, the fee on top and whether the
// streamer's balance and allowance to the module cover both.
func (e *Engine) Streamable(asset, streamer, recipient crypto.Address) (*Streamable, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.tokens == nil {
		return nil, ErrNilTokens
	}
	return e.streamable(e.now(), Key(streamer, asset, recipient))
}

func (e *Engine) streamable(now int64, key [32]byte) (*Streamable, error) {
	out := &Streamable{
		Available: big.NewInt(0),
		Fee:       big.NewInt(0),
		Total:     big.NewInt(0),
		Balance:   big.NewInt(0),
		Allowance: big.NewInt(0),
	}
	s, ok, err := e.state.Stream(key)
	if err != nil {
		return nil, err
	}
	if !ok || s == nil {
		out.Reason = SkipNotFound
		return out, nil
	}
	s.normalize()
	out.Available = unlocked(s, now)
	out.Fee = fees.FeeOn(out.Available, e.fees.Current().RateBps)
	out.Total = new(big.Int).Add(out.Available, out.Fee)

	if out.Balance, err = e.tokens.BalanceOf(s.Asset, s.Streamer); err != nil {
		return nil, err
	}
	if out.Allowance, err = e.tokens.Allowance(s.Asset, s.Streamer, e.moduleAddress); err != nil {
		return nil, err
	}
	switch {
	case out.Available.Sign() == 0:
		out.Reason = SkipNothingToRelease
	case out.Balance.Cmp(out.Total) < 0:
		out.Reason = SkipInsufficientBalance
	case out.Allowance.Cmp(out.Total) < 0:
		out.Reason = SkipInsufficientAllowance
	}
	return out, nil
}

// Get returns a copy of the stored stream.
func (e *Engine) Get(key [32]byte) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.loadStream(key)
}

// Details joins the stream with its releasable amount and asset metadata.
func (e *Engine) Details(key [32]byte) (*Details, error) {
	s, err := e.Get(key)
	if err != nil {
		return nil, err
	}
	return &Details{
		Key:       key,
		Stream:    s,
		Available: unlocked(s, e.now()),
		Asset:     token.SafeMetadata(e.metadata, s.Asset),
	}, nil
}

// StreamsByStreamer lists every stream streamer has configured.
func (e *Engine) StreamsByStreamer(streamer crypto.Address) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.StreamerStreams(streamer)
}

// StreamsByRecipient lists every stream paying recipient.
func (e *Engine) StreamsByRecipient(recipient crypto.Address) ([][32]byte, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.RecipientStreams(recipient)
}
