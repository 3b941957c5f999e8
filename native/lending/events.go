package lending

import (
	"math/big"
	"strconv"

	"spotchain/core/events"
	"spotchain/crypto"
	"spotchain/native/fees"
)

const (
	EventTypeLineAllowed    = "lending.line_allowed"
	EventTypeBorrowed       = "lending.borrowed"
	EventTypeRepaid         = "lending.repaid"
	EventTypeFeeScheduleSet = "lending.fee_schedule_updated"
)

func lineAttributes(key [32]byte, line *CreditLine) map[string]string {
	return map[string]string{
		"key":             events.FormatKey(key),
		"lender":          line.Lender.String(),
		"borrower":        line.Borrower.String(),
		"asset":           line.Asset.String(),
		"outstanding":     events.FormatAmount(line.Outstanding),
		"interestAccrued": events.FormatAmount(line.InterestAccrued),
	}
}

func newAllowedEvent(key [32]byte, line *CreditLine, created bool, now int64) events.Event {
	attrs := lineAttributes(key, line)
	attrs["allowable"] = events.FormatAmount(line.Allowable)
	attrs["ratePerMille"] = events.FormatUint(line.InterestRate)
	attrs["created"] = strconv.FormatBool(created)
	return events.New(EventTypeLineAllowed, now, attrs)
}

func newBorrowedEvent(key [32]byte, line *CreditLine, amount *big.Int, now int64) events.Event {
	attrs := lineAttributes(key, line)
	attrs["amount"] = amount.String()
	attrs["totalBorrowed"] = events.FormatAmount(line.TotalBorrowed)
	return events.New(EventTypeBorrowed, now, attrs)
}

func newRepaidEvent(key [32]byte, line *CreditLine, payer crypto.Address, result *RepayResult, now int64) events.Event {
	attrs := lineAttributes(key, line)
	attrs["payer"] = payer.String()
	attrs["fee"] = events.FormatAmount(result.Fee)
	attrs["interestPaid"] = events.FormatAmount(result.Interest)
	attrs["principalPaid"] = events.FormatAmount(result.Principal)
	attrs["refund"] = events.FormatAmount(result.Refund)
	return events.New(EventTypeRepaid, now, attrs)
}

func newFeeScheduleEvent(schedule fees.Snapshot, now int64) events.Event {
	return events.New(EventTypeFeeScheduleSet, now, map[string]string{
		"rateBps": events.FormatUint(schedule.RateBps),
		"sink":    schedule.Sink.String(),
		"admin":   schedule.Admin.String(),
	})
}
