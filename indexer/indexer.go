package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"spotchain/core/events"
	"spotchain/core/types"
	"spotchain/observability/metrics"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrNilEvent = errors.New("indexer: nil event")

// Entry is an indexed event together with its position in the log.
type Entry struct {
	Seq uint64 `json:"seq"`
	ID  string `json:"id"`
	types.Event
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Type      string
	Module    string
	AttrKey   string
	AttrValue string
	AfterSeq  uint64
	Limit     int
}

// Indexer persists engine events into SQLite and serves them back to the
// API. It implements events.Emitter so it can be handed to the engines.
type Indexer struct {
	db        *gorm.DB
	logger    *slog.Logger
	telemetry *metrics.EngineMetrics
}

// Open opens the SQLite database at path. ":memory:" keeps everything in
// process.
func Open(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == ":memory:" {
		// Every pooled connection must see the same in-memory database.
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", path, err)
	}
	return db, nil
}

// New migrates db and returns an indexer over it.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, logger: logger, telemetry: metrics.Engine()}, nil
}

// Emit implements events.Emitter. Storage failures are logged since
// emission happens after the state change already committed.
func (ix *Indexer) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if _, err := ix.Record(context.Background(), evt); err != nil {
		ix.logger.Error("index event", "type", evt.EventType(), "error", err)
	}
}

// Record stores evt and returns its sequence number.
func (ix *Indexer) Record(ctx context.Context, evt events.Event) (uint64, error) {
	if evt == nil || evt.Event() == nil {
		return 0, ErrNilEvent
	}
	payload := evt.Event()
	encoded, err := json.Marshal(payload.Attributes)
	if err != nil {
		return 0, fmt.Errorf("indexer: encode attributes: %w", err)
	}
	record := EventRecord{
		EventID:    uuid.New(),
		Type:       payload.Type,
		Module:     moduleOf(payload.Type),
		Timestamp:  payload.Timestamp,
		Payload:    string(encoded),
		Attributes: attributeRows(payload.Attributes),
	}
	if err := ix.db.WithContext(ctx).Create(&record).Error; err != nil {
		return 0, fmt.Errorf("indexer: insert: %w", err)
	}
	ix.telemetry.ObserveIndexedEvent(payload.Type)
	return record.Seq, nil
}

// Query returns events matching f in emission order.
func (ix *Indexer) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := ix.db.WithContext(ctx).Model(&EventRecord{})
	if t := strings.TrimSpace(f.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if m := strings.TrimSpace(f.Module); m != "" {
		q = q.Where("module = ?", m)
	}
	if k := strings.TrimSpace(f.AttrKey); k != "" {
		sub := ix.db.Model(&EventAttribute{}).Select("event_seq").Where("attr_key = ? AND attr_value = ?", k, f.AttrValue)
		q = q.Where("seq IN (?)", sub)
	}
	if f.AfterSeq > 0 {
		q = q.Where("seq > ?", f.AfterSeq)
	}
	rows := make([]EventRecord, 0)
	if err := q.Order("seq ASC").Limit(clampLimit(f.Limit)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("indexer: query: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if err := json.Unmarshal([]byte(row.Payload), &attrs); err != nil {
			return nil, fmt.Errorf("indexer: decode event %d: %w", row.Seq, err)
		}
		out = append(out, Entry{
			Seq:   row.Seq,
			ID:    row.EventID.String(),
			Event: types.Event{Type: row.Type, Timestamp: row.Timestamp, Attributes: attrs},
		})
	}
	return out, nil
}

// Count returns the number of stored events of eventType, or of every type
// when it is empty.
func (ix *Indexer) Count(ctx context.Context, eventType string) (int64, error) {
	var n int64
	q := ix.db.WithContext(ctx).Model(&EventRecord{})
	if eventType != "" {
		q = q.Where("type = ?", eventType)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func moduleOf(eventType string) string {
	module, _, found := strings.Cut(eventType, ".")
	if !found {
		return "unknown"
	}
	return module
}

func attributeRows(attrs map[string]string) []EventAttribute {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]EventAttribute, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, EventAttribute{Key: k, Value: attrs[k]})
	}
	return rows
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
