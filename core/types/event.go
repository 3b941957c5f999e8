package types

// Event represents a typed event emitted by a successful state transition.
// Attribute values are rendered as strings so events can be indexed without
// knowing the emitting module.
type Event struct {
	Type       string            `json:"type"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}
