package state

import (
	"errors"
	"math/big"

	"spotchain/crypto"
	"spotchain/native/stream"
)

var (
	streamPrefix           = []byte("stream/entry/")
	streamerStreamsPrefix  = []byte("stream/by-streamer/")
	recipientStreamsPrefix = []byte("stream/by-recipient/")
)

type storedStream struct {
	Streamer      [20]byte
	Recipient     [20]byte
	Asset         [20]byte
	TotalStreamed *big.Int
	Outstanding   *big.Int
	Allowable     *big.Int
	Window        uint64
	Timestamp     uint64
	Once          bool
}

// Stream loads the stream stored under key.
func (m *Manager) Stream(key [32]byte) (*stream.Stream, bool, error) {
	var stored storedStream
	ok, err := m.getRLP(storageKey(streamPrefix, key[:]), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &stream.Stream{
		Streamer:      crypto.Address(stored.Streamer),
		Recipient:     crypto.Address(stored.Recipient),
		Asset:         crypto.Address(stored.Asset),
		TotalStreamed: nonNil(stored.TotalStreamed),
		Outstanding:   nonNil(stored.Outstanding),
		Allowable:     nonNil(stored.Allowable),
		Window:        stored.Window,
		Timestamp:     int64(stored.Timestamp),
		Once:          stored.Once,
	}, true, nil
}

// PutStream stores s under key.
func (m *Manager) PutStream(key [32]byte, s *stream.Stream) error {
	if s == nil {
		return errors.New("state: nil stream")
	}
	return m.putRLP(storageKey(streamPrefix, key[:]), &storedStream{
		Streamer:      s.Streamer,
		Recipient:     s.Recipient,
		Asset:         s.Asset,
		TotalStreamed: nonNil(s.TotalStreamed),
		Outstanding:   nonNil(s.Outstanding),
		Allowable:     nonNil(s.Allowable),
		Window:        s.Window,
		Timestamp:     toUnix(s.Timestamp),
		Once:          s.Once,
	})
}

// AppendStreamerStream indexes key under streamer.
func (m *Manager) AppendStreamerStream(streamer crypto.Address, key [32]byte) error {
	_, err := m.appendUnique(storageKey(streamerStreamsPrefix, streamer[:]), key[:])
	return err
}

// AppendRecipientStream indexes key under recipient.
func (m *Manager) AppendRecipientStream(recipient crypto.Address, key [32]byte) error {
	_, err := m.appendUnique(storageKey(recipientStreamsPrefix, recipient[:]), key[:])
	return err
}

// StreamerStreams lists the streams configured by streamer.
func (m *Manager) StreamerStreams(streamer crypto.Address) ([][32]byte, error) {
	return m.keyList(storageKey(streamerStreamsPrefix, streamer[:]))
}

// RecipientStreams lists the streams paying recipient.
func (m *Manager) RecipientStreams(recipient crypto.Address) ([][32]byte, error) {
	return m.keyList(storageKey(recipientStreamsPrefix, recipient[:]))
}
