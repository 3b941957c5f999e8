package rpc

import (
	"spotchain/core/events"
	"spotchain/crypto"
	"spotchain/native/lending"
	"spotchain/native/pool"
	"spotchain/native/stream"
	"spotchain/native/token"
)

// Amounts are rendered as decimal strings so JSON clients never round them.

type assetView struct {
	Address  crypto.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

func newAssetView(addr crypto.Address, meta token.Metadata) assetView {
	return assetView{Address: addr, Name: meta.Name, Symbol: meta.Symbol, Decimals: meta.Decimals}
}

type lineView struct {
	Key             string         `json:"key"`
	Lender          crypto.Address `json:"lender"`
	Borrower        crypto.Address `json:"borrower"`
	Asset           assetView      `json:"asset"`
	TotalBorrowed   string         `json:"totalBorrowed"`
	Outstanding     string         `json:"outstanding"`
	Allowable       string         `json:"allowable"`
	Available       string         `json:"available"`
	InterestRate    uint64         `json:"interestRatePerMille"`
	InterestAccrued string         `json:"interestAccrued"`
	InterestOwed    string         `json:"interestOwed"`
	LastAccrual     int64          `json:"lastAccrual"`
}

func newLineView(d *lending.LineDetails) lineView {
	line := d.Line
	return lineView{
		Key:             events.FormatKey(d.Key),
		Lender:          line.Lender,
		Borrower:        line.Borrower,
		Asset:           newAssetView(line.Asset, d.Asset),
		TotalBorrowed:   events.FormatAmount(line.TotalBorrowed),
		Outstanding:     events.FormatAmount(line.Outstanding),
		Allowable:       events.FormatAmount(line.Allowable),
		Available:       events.FormatAmount(d.Available),
		InterestRate:    line.InterestRate,
		InterestAccrued: events.FormatAmount(line.InterestAccrued),
		InterestOwed:    events.FormatAmount(d.InterestOwed),
		LastAccrual:     line.LastAccrual,
	}
}

type streamView struct {
	Key           string         `json:"key"`
	Streamer      crypto.Address `json:"streamer"`
	Recipient     crypto.Address `json:"recipient"`
	Asset         assetView      `json:"asset"`
	TotalStreamed string         `json:"totalStreamed"`
	Outstanding   string         `json:"outstanding"`
	Allowable     string         `json:"allowable"`
	Window        uint64         `json:"window"`
	Timestamp     int64          `json:"timestamp"`
	Once          bool           `json:"once"`
	Available     string         `json:"available"`
	Fee           string         `json:"fee"`
	Releasable    bool           `json:"releasable"`
	SkipReason    string         `json:"skipReason,omitempty"`
}

func newStreamView(d *stream.Details) streamView {
	s := d.Stream
	return streamView{
		Key:           events.FormatKey(d.Key),
		Streamer:      s.Streamer,
		Recipient:     s.Recipient,
		Asset:         newAssetView(s.Asset, d.Asset),
		TotalStreamed: events.FormatAmount(s.TotalStreamed),
		Outstanding:   events.FormatAmount(s.Outstanding),
		Allowable:     events.FormatAmount(s.Allowable),
		Window:        s.Window,
		Timestamp:     s.Timestamp,
		Once:          s.Once,
		Available:     events.FormatAmount(d.Available),
		Fee:           "0",
	}
}

type poolView struct {
	ID                     string         `json:"id"`
	Borrower               crypto.Address `json:"borrower"`
	Custody                crypto.Address `json:"custody"`
	Asset                  assetView      `json:"asset"`
	Mode                   string         `json:"mode"`
	Goal                   string         `json:"goal"`
	InterestRateBps        uint64         `json:"interestRateBps"`
	CreatedAt              int64          `json:"createdAt"`
	TotalFunded            string         `json:"totalFunded"`
	TotalDrawnDown         string         `json:"totalDrawnDown"`
	RepaidPrincipal        string         `json:"repaidPrincipal"`
	InterestRepaid         string         `json:"interestRepaid"`
	TotalRedeemedPrincipal string         `json:"totalRedeemedPrincipal"`
	TotalSupply            string         `json:"totalSupply"`
	Outstanding            string         `json:"outstanding"`
	AccruedInterest        string         `json:"accruedInterest"`
	TotalOwed              string         `json:"totalOwed"`
	Available              string         `json:"available"`
	FullyRepaid            bool           `json:"fullyRepaid"`
}

func newPoolView(d *pool.Details) poolView {
	p := d.Pool
	return poolView{
		ID:                     events.FormatKey(p.ID),
		Borrower:               p.Borrower,
		Custody:                p.Custody,
		Asset:                  newAssetView(p.Asset, d.Asset),
		Mode:                   p.Mode.String(),
		Goal:                   events.FormatAmount(p.Goal),
		InterestRateBps:        p.InterestRateBps,
		CreatedAt:              p.CreatedAt,
		TotalFunded:            events.FormatAmount(p.TotalFunded),
		TotalDrawnDown:         events.FormatAmount(p.TotalDrawnDown),
		RepaidPrincipal:        events.FormatAmount(p.RepaymentsOfPrincipal),
		InterestRepaid:         events.FormatAmount(p.InterestRepaymentsCumulative),
		TotalRedeemedPrincipal: events.FormatAmount(p.TotalRedeemedPrincipal),
		TotalSupply:            events.FormatAmount(p.TotalSupply),
		Outstanding:            events.FormatAmount(d.Outstanding),
		AccruedInterest:        events.FormatAmount(d.AccruedInterest),
		TotalOwed:              events.FormatAmount(d.TotalOwed),
		Available:              events.FormatAmount(d.Available),
		FullyRepaid:            d.FullyRepaid,
	}
}

type holderView struct {
	Address   crypto.Address `json:"address"`
	Balance   string         `json:"balance"`
	Claimable string         `json:"claimable"`
}

type repayView struct {
	Fee       string `json:"fee"`
	Interest  string `json:"interest"`
	Principal string `json:"principal"`
	Refund    string `json:"refund"`
}

type releaseView struct {
	Key       string         `json:"key"`
	Streamer  crypto.Address `json:"streamer"`
	Recipient crypto.Address `json:"recipient"`
	Asset     crypto.Address `json:"asset"`
	Amount    string         `json:"amount"`
	Fee       string         `json:"fee"`
	Skipped   bool           `json:"skipped,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

func newReleaseView(r *stream.Release) releaseView {
	return releaseView{
		Key:       events.FormatKey(r.Key),
		Streamer:  r.Streamer,
		Recipient: r.Recipient,
		Asset:     r.Asset,
		Amount:    events.FormatAmount(r.Amount),
		Fee:       events.FormatAmount(r.Fee),
		Skipped:   r.Skipped,
		Reason:    string(r.Reason),
	}
}

type releasesResponse struct {
	Releases []releaseView `json:"releases"`
}
