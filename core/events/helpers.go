package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"spotchain/core/types"
)

// Payload is the generic event implementation used by the native engines.
type Payload struct {
	evt *types.Event
}

// New builds an event of the given type stamped with timestamp.
func New(eventType string, timestamp int64, attrs map[string]string) Payload {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return Payload{evt: &types.Event{Type: eventType, Timestamp: timestamp, Attributes: attrs}}
}

// EventType implements Event.
func (p Payload) EventType() string {
	if p.evt == nil {
		return ""
	}
	return p.evt.Type
}

// Event implements Event.
func (p Payload) Event() *types.Event { return p.evt }

// FormatAmount renders nil amounts as "0".
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// FormatKey renders a 32-byte key as lowercase hex.
func FormatKey(key [32]byte) string {
	return hex.EncodeToString(key[:])
}

// FormatUint renders an unsigned integer attribute.
func FormatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
