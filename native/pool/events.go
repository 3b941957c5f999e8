package pool

import (
	"math/big"

	"spotchain/core/events"
	"spotchain/crypto"
	"spotchain/native/fees"
)

const (
	EventTypeCreated           = "pool.created"
	EventTypeFunded            = "pool.funded"
	EventTypeDrawn             = "pool.drawn_down"
	EventTypeRepaid            = "pool.repaid"
	EventTypeInterestClaimed   = "pool.interest_claimed"
	EventTypeClaimsTransferred = "pool.claims_transferred"
	EventTypeRedeemed          = "pool.redeemed"
	EventTypeFeeScheduleSet    = "pool.fee_schedule_updated"
)

func poolAttributes(p *Pool) map[string]string {
	return map[string]string{
		"pool":     events.FormatKey(p.ID),
		"asset":    p.Asset.String(),
		"borrower": p.Borrower.String(),
		"mode":     p.Mode.String(),
	}
}

func newCreatedEvent(p *Pool, now int64) events.Event {
	attrs := poolAttributes(p)
	attrs["goal"] = events.FormatAmount(p.Goal)
	attrs["rateBps"] = events.FormatUint(p.InterestRateBps)
	attrs["decimals"] = events.FormatUint(uint64(p.AssetDecimals))
	attrs["custody"] = p.Custody.String()
	return events.New(EventTypeCreated, now, attrs)
}

func newFundedEvent(p *Pool, holder crypto.Address, principal, minted *big.Int, now int64) events.Event {
	attrs := poolAttributes(p)
	attrs["holder"] = holder.String()
	attrs["principal"] = events.FormatAmount(principal)
	attrs["claimTokens"] = events.FormatAmount(minted)
	attrs["totalFunded"] = events.FormatAmount(p.TotalFunded)
	return events.New(EventTypeFunded, now, attrs)
}

func newDrawnEvent(p *Pool, amount *big.Int, now int64) events.Event {
	attrs := poolAttributes(p)
	attrs["amount"] = events.FormatAmount(amount)
	attrs["totalDrawnDown"] = events.FormatAmount(p.TotalDrawnDown)
	return events.New(EventTypeDrawn, now, attrs)
}

func newRepaidEvent(p *Pool, payer crypto.Address, r *RepayResult, now int64) events.Event {
	attrs := poolAttributes(p)
	attrs["payer"] = payer.String()
	attrs["fee"] = events.FormatAmount(r.Fee)
	attrs["interestPaid"] = events.FormatAmount(r.Interest)
	attrs["principalPaid"] = events.FormatAmount(r.Principal)
	attrs["refund"] = events.FormatAmount(r.Refund)
	attrs["interestIndex"] = events.FormatAmount(p.InterestRepaymentsCumulative)
	return events.New(EventTypeRepaid, now, attrs)
}

func newClaimedEvent(p *Pool, holder crypto.Address, amount *big.Int, now int64) events.Event {
	attrs := poolAttributes(p)
	attrs["holder"] = holder.String()
	attrs["amount"] = events.FormatAmount(amount)
	return events.New(EventTypeInterestClaimed, now, attrs)
}

func newClaimsTransferredEvent(p *Pool, from, to crypto.Address, amount *big.Int, now int64) events.Event {
	attrs := poolAttributes(p)
	attrs["from"] = from.String()
	attrs["to"] = to.String()
	attrs["amount"] = events.FormatAmount(amount)
	return events.New(EventTypeClaimsTransferred, now, attrs)
}

func newRedeemedEvent(p *Pool, holder crypto.Address, burned, principal *big.Int, now int64) events.Event {
	attrs := poolAttributes(p)
	attrs["holder"] = holder.String()
	attrs["claimTokens"] = events.FormatAmount(burned)
	attrs["principal"] = events.FormatAmount(principal)
	return events.New(EventTypeRedeemed, now, attrs)
}

func newFeeScheduleEvent(schedule fees.Snapshot, now int64) events.Event {
	return events.New(EventTypeFeeScheduleSet, now, map[string]string{
		"rateBps": events.FormatUint(schedule.RateBps),
		"sink":    schedule.Sink.String(),
		"admin":   schedule.Admin.String(),
	})
}
