package events

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecorderFiltersByType(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(New("lending.borrowed", 1, nil))
	rec.Emit(New("lending.repaid", 2, map[string]string{"amount": "5"}))
	rec.Emit(nil)

	require.Len(t, rec.Events(), 2)
	repaid := rec.OfType("lending.repaid")
	require.Len(t, repaid, 1)
	require.Equal(t, "5", repaid[0].Attributes["amount"])
	require.Empty(t, rec.OfType("stream.released"))
}

func TestFanoutForwardsInOrder(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	fan := Fanout{first, nil, second}
	fan.Emit(New("pool.funded", 7, nil))

	require.Len(t, first.Events(), 1)
	require.Len(t, second.Events(), 1)
	require.Equal(t, int64(7), second.Events()[0].Timestamp)
}

func TestLogEmitterWritesAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	LogEmitter{Logger: logger}.Emit(New("stream.released", 3, map[string]string{"amount": "10"}))
	require.Contains(t, buf.String(), `"type":"stream.released"`)
	require.Contains(t, buf.String(), `"amount":"10"`)

	buf.Reset()
	quiet := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	LogEmitter{Logger: quiet}.Emit(New("stream.released", 3, nil))
	require.Empty(t, buf.String())
}
