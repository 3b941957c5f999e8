package stream

import (
	"strconv"

	"spotchain/core/events"
)

const (
	EventTypeAllowed        = "stream.allowed"
	EventTypeCancelled      = "stream.cancelled"
	EventTypeReleased       = "stream.released"
	EventTypeReleaseSkipped = "stream.release_skipped"
	EventTypeFeeScheduleSet = "stream.fee_schedule_updated"
)

func streamAttributes(key [32]byte, s *Stream) map[string]string {
	return map[string]string{
		"key":           events.FormatKey(key),
		"streamer":      s.Streamer.String(),
		"recipient":     s.Recipient.String(),
		"asset":         s.Asset.String(),
		"totalStreamed": events.FormatAmount(s.TotalStreamed),
		"outstanding":   events.FormatAmount(s.Outstanding),
	}
}

func newAllowedEvent(key [32]byte, s *Stream, created bool, now int64) events.Event {
	attrs := streamAttributes(key, s)
	attrs["allowable"] = events.FormatAmount(s.Allowable)
	attrs["window"] = events.FormatUint(s.Window)
	attrs["once"] = strconv.FormatBool(s.Once)
	attrs["created"] = strconv.FormatBool(created)
	return events.New(EventTypeAllowed, now, attrs)
}

func newCancelledEvent(key [32]byte, s *Stream, now int64) events.Event {
	return events.New(EventTypeCancelled, now, streamAttributes(key, s))
}

func newReleasedEvent(s *Stream, r *Release, now int64) events.Event {
	attrs := streamAttributes(r.Key, s)
	attrs["amount"] = events.FormatAmount(r.Amount)
	attrs["fee"] = events.FormatAmount(r.Fee)
	return events.New(EventTypeReleased, now, attrs)
}

func newSkippedEvent(r Release, now int64) events.Event {
	return events.New(EventTypeReleaseSkipped, now, map[string]string{
		"key":       events.FormatKey(r.Key),
		"streamer":  r.Streamer.String(),
		"recipient": r.Recipient.String(),
		"asset":     r.Asset.String(),
		"reason":    string(r.Reason),
	})
}
