package indexer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"spotchain/core/events"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	ix, err := New(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestRecordAndQueryInEmissionOrder(t *testing.T) {
	ix := newTestIndexer(t)
	ctx := context.Background()

	ix.Emit(events.New("lending.line_allowed", 10, map[string]string{"lender": "alice", "borrower": "bob"}))
	ix.Emit(events.New("lending.borrowed", 11, map[string]string{"lender": "alice", "amount": "100"}))
	ix.Emit(events.New("stream.released", 12, map[string]string{"streamer": "alice"}))
	ix.Emit(nil)

	all, err := ix.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Less(t, all[0].Seq, all[1].Seq)
	require.Equal(t, "lending.line_allowed", all[0].Type)
	require.Equal(t, "bob", all[0].Attributes["borrower"])
	require.NotEmpty(t, all[0].ID)

	lending, err := ix.Query(ctx, Filter{Module: "lending"})
	require.NoError(t, err)
	require.Len(t, lending, 2)

	byLender, err := ix.Query(ctx, Filter{AttrKey: "lender", AttrValue: "alice"})
	require.NoError(t, err)
	require.Len(t, byLender, 2)

	after, err := ix.Query(ctx, Filter{AfterSeq: all[1].Seq})
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, "stream", moduleOf(after[0].Type))

	limited, err := ix.Query(ctx, Filter{Limit: 1, Type: "lending.borrowed"})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, int64(11), limited[0].Timestamp)

	n, err := ix.Count(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestRecordRejectsNilEvent(t *testing.T) {
	ix := newTestIndexer(t)
	_, err := ix.Record(context.Background(), nil)
	require.ErrorIs(t, err, ErrNilEvent)
}

func TestHelpers(t *testing.T) {
	require.Equal(t, "unknown", moduleOf("untyped"))
	require.Equal(t, DefaultLimit, clampLimit(0))
	require.Equal(t, MaxLimit, clampLimit(MaxLimit+1))
	rows := attributeRows(map[string]string{"b": "2", "a": "1"})
	require.Equal(t, "a", rows[0].Key)
}
